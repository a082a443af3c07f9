package peerlink

import (
	"net"
	"sync"

	"github.com/luxfi/log"

	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

// Handlers is the set of callbacks a Manager dispatches decoded
// messages to; internal/node supplies these, wiring the peer link to
// the mempool, DAG store, and consensus core.
type Handlers struct {
	OnBlock       func(peer ids.NodeID, b *chainmodel.Block)
	OnTransaction func(peer ids.NodeID, tx *chainmodel.Transaction)
	OnHeartbeat   func(peer ids.NodeID, hb *consensus.Heartbeat)
	OnCheckpoint  func(peer ids.NodeID, cp *consensus.Checkpoint)
	OnRequest     func(peer ids.NodeID, req *RequestMessage) *ResponseMessage
	OnResponse    func(peer ids.NodeID, resp *ResponseMessage)
	OnDisconnect  func(peer ids.NodeID)
}

// Manager owns every live Peer, the connection-admission policy, and
// per-peer flow control, and runs each peer's read loop dispatching
// into Handlers (spec.md §4.8).
type Manager struct {
	sk     *crypto.PrivateKey
	nodeID ids.NodeID
	log    log.Logger

	limiter *ConnLimiter
	handlers Handlers

	recvBytesPerSec int
	sendBytesPerSec int

	mu    sync.RWMutex
	peers map[ids.NodeID]*peerConn
}

type peerConn struct {
	peer *Peer
	addr net.IP
	inbound bool
}

// NewManager constructs a peer-link manager. Pass a non-nil logger to
// receive structured diagnostics; nil installs a no-op logger.
func NewManager(sk *crypto.PrivateKey, nodeID ids.NodeID, limiter *ConnLimiter, recvBytesPerSec, sendBytesPerSec int, handlers Handlers, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Manager{
		sk:              sk,
		nodeID:          nodeID,
		log:             logger,
		limiter:         limiter,
		handlers:        handlers,
		recvBytesPerSec: recvBytesPerSec,
		sendBytesPerSec: sendBytesPerSec,
		peers:           make(map[ids.NodeID]*peerConn),
	}
}

// Dial establishes an outbound connection to addr and runs its
// handshake and read loop.
func (m *Manager) Dial(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return newErr("Dial", KindHandshakeFailed, err)
	}
	return m.handle(conn, false)
}

// Accept runs the handshake and read loop for an inbound connection
// already accepted by the caller's listener.
func (m *Manager) Accept(conn net.Conn) error {
	return m.handle(conn, true)
}

func (m *Manager) handle(conn net.Conn, inbound bool) error {
	tcpAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	var ip net.IP
	if tcpAddr != nil {
		ip = tcpAddr.IP
	}

	flow := NewFlowControl(m.recvBytesPerSec, m.sendBytesPerSec)
	peer, err := Handshake(conn, m.sk, m.nodeID, inbound, flow, m.log)
	if err != nil {
		conn.Close()
		return err
	}

	if m.limiter != nil {
		if err := m.limiter.Admit(peer.RemoteNodeID(), ip, inbound); err != nil {
			peer.Close()
			return err
		}
	}

	m.mu.Lock()
	m.peers[peer.RemoteNodeID()] = &peerConn{peer: peer, addr: ip, inbound: inbound}
	m.mu.Unlock()

	go m.readLoop(peer, ip, inbound)
	return nil
}

func (m *Manager) readLoop(peer *Peer, addr net.IP, inbound bool) {
	defer m.disconnect(peer, addr, inbound)

	for {
		tag, body, err := peer.Recv()
		if err != nil {
			if IsRateLimited(err) {
				m.log.Warn("dropping frame over peer rate limit", "peer", peer.RemoteNodeID().String())
				continue
			}
			return
		}
		m.dispatch(peer.RemoteNodeID(), tag, body, addr)
	}
}

func (m *Manager) dispatch(from ids.NodeID, tag Tag, body []byte, addr net.IP) {
	switch tag {
	case TagBlock:
		b, err := decodeBlock(body)
		if err != nil {
			m.log.Warn("bad block frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnBlock != nil {
			m.handlers.OnBlock(from, b)
		}
	case TagTransaction:
		tx, err := decodeTransaction(body)
		if err != nil {
			m.log.Warn("bad transaction frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnTransaction != nil {
			m.handlers.OnTransaction(from, tx)
		}
	case TagHeartbeat:
		hb, err := decodeHeartbeat(body)
		if err != nil {
			m.log.Warn("bad heartbeat frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnHeartbeat != nil {
			m.handlers.OnHeartbeat(from, hb)
		}
	case TagCheckpoint:
		cp, err := decodeCheckpoint(body)
		if err != nil {
			m.log.Warn("bad checkpoint frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnCheckpoint != nil {
			m.handlers.OnCheckpoint(from, cp)
		}
	case TagRequest:
		req, err := DecodeRequest(body)
		if err != nil {
			m.log.Warn("bad request frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnRequest != nil {
			if resp := m.handlers.OnRequest(from, req); resp != nil {
				_ = m.Send(from, TagResponse, resp.Encode())
			}
		}
	case TagResponse:
		resp, err := DecodeResponse(body)
		if err != nil {
			m.log.Warn("bad response frame", "peer", from.String(), "error", err)
			m.discourage(addr)
			return
		}
		if m.handlers.OnResponse != nil {
			m.handlers.OnResponse(from, resp)
		}
	case TagDisconnect:
		m.mu.RLock()
		pc, ok := m.peers[from]
		m.mu.RUnlock()
		if ok {
			pc.peer.Close()
		}
	default:
		m.log.Warn("unknown message tag", "peer", from.String(), "tag", byte(tag))
	}
}

func (m *Manager) discourage(addr net.IP) {
	if m.limiter != nil {
		m.limiter.Discourage(addr)
	}
}

func (m *Manager) disconnect(peer *Peer, addr net.IP, inbound bool) {
	peer.Close()
	if m.limiter != nil && addr != nil {
		m.limiter.Release(addr, inbound)
	}
	m.mu.Lock()
	delete(m.peers, peer.RemoteNodeID())
	m.mu.Unlock()
	if m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(peer.RemoteNodeID())
	}
}

// Send encrypts and delivers body to the named peer, if currently
// connected.
func (m *Manager) Send(to ids.NodeID, tag Tag, body []byte) error {
	m.mu.RLock()
	pc, ok := m.peers[to]
	m.mu.RUnlock()
	if !ok {
		return newErr("Send", KindPeerClosed, ErrPeerClosed)
	}
	return pc.peer.Send(tag, body)
}

// Broadcast delivers body to every currently connected peer, best
// effort — a single peer's send failure does not abort the rest.
func (m *Manager) Broadcast(tag Tag, body []byte) {
	m.mu.RLock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, pc := range m.peers {
		peers = append(peers, pc.peer)
	}
	m.mu.RUnlock()

	for _, p := range peers {
		if err := p.Send(tag, body); err != nil {
			m.log.Warn("broadcast send failed", "peer", p.RemoteNodeID().String(), "error", err)
		}
	}
}

// PeerCount returns the number of currently connected peers.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
