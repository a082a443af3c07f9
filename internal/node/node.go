// Package node implements spec.md §4.9's orchestrator: it composes
// the crypto, temporal, chain-model, reputation, mempool, DAG-store,
// consensus, and peer-link components into one running participant,
// holding no business logic of its own beyond the wiring between
// them, startup synchronization, periodic heartbeat/checkpoint
// emission, and shutdown.
package node

import (
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/log"
	metric "github.com/luxfi/metric"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/config"
	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/dagstore"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/mempool"
	"github.com/tempusnet/tempus/internal/peerlink"
	"github.com/tempusnet/tempus/internal/reputation"
	"github.com/tempusnet/tempus/internal/store"
	"github.com/tempusnet/tempus/internal/temporal"
)

// Node is one running tempus participant.
type Node struct {
	cfg    config.Config
	sk     *crypto.PrivateKey
	nodeID ids.NodeID
	log    log.Logger

	db    *store.DB
	clock *temporal.BoundaryClock
	vdf   *temporalRunner

	rep     *reputation.Engine
	pool    *mempool.Pool
	dag     *dagstore.Store
	keys    *keyring
	states  *consensus.StateMachine
	influx  *consensus.InfluxTracker

	finality   *consensus.FinalityEngine
	forkChoice *consensus.ForkChoice
	producer   *consensus.BlockProducer

	limiter *peerlink.ConnLimiter
	peers   *peerlink.Manager
	ln      net.Listener

	controlLn net.Listener

	hbMu       sync.Mutex
	heartbeats map[uint64][]*consensus.Heartbeat

	cpMu        sync.Mutex
	checkpoints map[ids.ID]*consensus.Checkpoint

	reqMu    sync.Mutex
	requests map[ids.ID]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup

	runMu   sync.Mutex
	running bool
}

// New constructs a Node from its identity key and configuration, but
// does not yet listen or connect to peers; call Start for that.
func New(cfg config.Config, sk *crypto.PrivateKey, logger log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newErr("New", KindConfigInvalid, err)
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	pub, err := sk.Public().Bytes()
	if err != nil {
		return nil, newErr("New", KindConfigInvalid, err)
	}
	nodeID := crypto.NodeIDFromKey(pub)

	var db *store.DB
	if cfg.DataDir == "" {
		db, err = store.OpenInMemory()
	} else {
		db, err = store.Open(cfg.DataDir)
	}
	if err != nil {
		return nil, newErr("New", KindStorageUnavailable, err)
	}

	registry := metric.NewRegistry()
	clock := temporal.NewBoundaryClock(cfg.FinalityInterval(), cfg.ClockTolerance())

	rep, err := reputation.NewEngine(db, registry)
	if err != nil {
		db.Close()
		return nil, newErr("New", KindStorageUnavailable, err)
	}
	if err := rep.Replay(); err != nil {
		db.Close()
		return nil, newErr("New", KindStorageUnavailable, err)
	}

	pool := mempool.New(cfg.MempoolBytesMax, registry)

	dag, err := dagstore.New(db, cfg.FinalityInterval(), cfg.OrphanCapacity, registry)
	if err != nil {
		db.Close()
		return nil, newErr("New", KindStorageUnavailable, err)
	}

	keys := newKeyring()
	if _, err := keys.Learn(pub); err != nil {
		db.Close()
		return nil, newErr("New", KindConfigInvalid, err)
	}

	states := consensus.NewStateMachine(rep)
	states.Register(nodeID, clock.Now())

	finality := consensus.NewFinalityEngine(dag, cfg.PhantomK)
	forkChoice := consensus.NewForkChoice(finality)
	producer := consensus.NewBlockProducer(sk, dag, pool, keys.Resolve)
	vdf := newTemporalRunner(cfg.VDFIterations, cfg.VDFCheckpointInterval, cfg.VDFSampleQ)

	limiter := peerlink.NewConnLimiter(cfg.MaxPerIP, cfg.MaxPerSubnet, cfg.MinOutboundPeers, cfg.ProtectedSlots, cfg.InboundRatioMax)

	n := &Node{
		cfg:         cfg,
		sk:          sk,
		nodeID:      nodeID,
		log:         logger,
		db:          db,
		clock:       clock,
		vdf:         vdf,
		rep:         rep,
		pool:        pool,
		dag:         dag,
		keys:        keys,
		states:      states,
		influx:      consensus.NewInfluxTracker(),
		finality:    finality,
		forkChoice:  forkChoice,
		producer:    producer,
		limiter:     limiter,
		heartbeats:  make(map[uint64][]*consensus.Heartbeat),
		checkpoints: make(map[ids.ID]*consensus.Checkpoint),
		requests:    make(map[ids.ID]struct{}),
		stopCh:      make(chan struct{}),
	}

	dag.SetEquivocationObserver(func(producer ids.NodeID, slot int64, first, second ids.ID) {
		n.states.OnEquivocation(n.clock.Now())(producer, slot, first, second)
	})

	n.peers = peerlink.NewManager(sk, nodeID, limiter, cfg.PerPeerRecvBPS, cfg.PerPeerSendBPS, n.handlers(), logger)

	return n, nil
}

// NodeID returns this participant's public identifier.
func (n *Node) NodeID() ids.NodeID { return n.nodeID }

// Start begins listening for inbound peers, dials the configured
// bootstrap peers, and runs the background heartbeat/checkpoint and
// leader-lottery loops. It returns once the listener is bound;
// synchronization with peers continues in the background.
func (n *Node) Start() error {
	n.runMu.Lock()
	if n.running {
		n.runMu.Unlock()
		return newErr("Start", KindAlreadyRunning, ErrAlreadyRunning)
	}
	n.running = true
	n.runMu.Unlock()

	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return newErr("Start", KindListenFailed, err)
	}
	n.ln = ln

	n.wg.Add(1)
	go n.acceptLoop()

	for _, addr := range n.cfg.BootstrapPeers {
		addr := addr
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.peers.Dial(addr); err != nil {
				n.log.Warn("failed to dial bootstrap peer", "addr", addr, "error", err)
			}
		}()
	}

	n.wg.Add(2)
	go n.windowLoop()
	go n.lotteryLoop()

	return nil
}

// Stop closes the peer and control listeners, waits for background
// loops to exit, and closes the underlying database. Peer connections
// that are already open are not closed and their read loops are not
// waited for.
func (n *Node) Stop() error {
	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return newErr("Stop", KindNotRunning, ErrNotRunning)
	}
	n.running = false
	n.runMu.Unlock()

	close(n.stopCh)
	if n.ln != nil {
		n.ln.Close()
	}
	if n.controlLn != nil {
		n.controlLn.Close()
	}
	n.wg.Wait()
	return n.db.Close()
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Warn("accept failed", "error", err)
				return
			}
		}
		go func() {
			if err := n.peers.Accept(conn); err != nil {
				n.log.Warn("inbound handshake failed", "error", err)
			}
		}()
	}
}

// resolveTxByID is a best-effort mempool lookup; the pool only
// exposes Peek/Has, not point lookups, so a Request(RequestTransaction)
// is served only when the transaction is still near the front of the
// priority queue at request time (spec.md's mempool doesn't define a
// full secondary index and building one is out of scope for this
// orchestration layer).
func (n *Node) resolveTxByID(id ids.ID) *chainmodel.Transaction {
	for _, tx := range n.pool.Peek(4096) {
		if tx.ID() == id {
			return tx
		}
	}
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node(%s)", n.nodeID)
}
