package peerlink

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

// Peer is one authenticated, encrypted point-to-point link (spec.md
// §4.8): the raw connection, its derived session keys, per-peer flow
// control, and the read/write loops that turn wire frames into
// application messages.
type Peer struct {
	conn   net.Conn
	reader *bufio.Reader
	log    log.Logger

	remoteNodeID ids.NodeID
	inbound      bool

	keys *sessionKeys
	flow *FlowControl

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesIn          atomic.Uint64
	bytesOut         atomic.Uint64
}

// Handshake performs the Noise-XX-shaped identity exchange over conn
// and returns an authenticated Peer ready for Send/Recv. inbound
// indicates whether conn was accepted (true) or dialed (false) by this
// node; the initiator is always the dialing side.
func Handshake(conn net.Conn, sk *crypto.PrivateKey, nodeID ids.NodeID, inbound bool, flow *FlowControl, logger log.Logger) (*Peer, error) {
	hello, ephPriv, err := buildHello(sk, nodeID)
	if err != nil {
		return nil, err
	}

	initiator := !inbound

	var peerHello *HelloMessage
	if initiator {
		if err := writeHandshakeFrame(conn, hello.Encode()); err != nil {
			return nil, newErr("Handshake", KindHandshakeFailed, err)
		}
		body, err := readHandshakeFrame(conn)
		if err != nil {
			return nil, newErr("Handshake", KindHandshakeFailed, err)
		}
		peerHello, err = DecodeHello(body)
		if err != nil {
			return nil, err
		}
	} else {
		body, err := readHandshakeFrame(conn)
		if err != nil {
			return nil, newErr("Handshake", KindHandshakeFailed, err)
		}
		peerHello, err = DecodeHello(body)
		if err != nil {
			return nil, err
		}
		if err := writeHandshakeFrame(conn, hello.Encode()); err != nil {
			return nil, newErr("Handshake", KindHandshakeFailed, err)
		}
	}

	if err := verifyHello(peerHello); err != nil {
		return nil, err
	}

	keys, err := deriveSessionKeys(ephPriv, peerHello.EphemeralPub, initiator)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	return &Peer{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		log:          logger,
		remoteNodeID: peerHello.NodeID,
		inbound:      inbound,
		keys:         keys,
		flow:         flow,
		closed:       make(chan struct{}),
	}, nil
}

// writeHandshakeFrame/readHandshakeFrame carry the plaintext Hello
// exchange, before any session keys exist: a 4-byte big-endian length
// prefix followed by the body, matching the post-handshake frame shape
// minus the tag byte (Hello is always tag TagHello and need not repeat
// it here).
func writeHandshakeFrame(conn net.Conn, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}

func readHandshakeFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

// RemoteNodeID returns the authenticated identity of the far side.
func (p *Peer) RemoteNodeID() ids.NodeID { return p.remoteNodeID }

// Send encrypts and writes a single tagged message. It is safe for
// concurrent use.
func (p *Peer) Send(tag Tag, plaintext []byte) error {
	if p.flow != nil && !p.flow.AllowSend(len(plaintext)) {
		return newErr("Send", KindRateLimited, ErrRateLimited)
	}

	ciphertext, err := sealFrame(p.keys.sendKey, tag, plaintext)
	if err != nil {
		return err
	}
	frame := &Frame{Tag: tag, Body: ciphertext}
	encoded := frame.Encode()

	p.writeMu.Lock()
	_, err = p.conn.Write(encoded)
	p.writeMu.Unlock()
	if err != nil {
		return newErr("Send", KindPeerClosed, err)
	}

	p.messagesSent.Add(1)
	p.bytesOut.Add(uint64(len(encoded)))
	return nil
}

// Recv blocks for the next authenticated frame, decrypts it, and
// returns its tag and plaintext body. A non-nil error means the
// connection should be torn down.
func (p *Peer) Recv() (Tag, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(p.reader, lenBuf[:]); err != nil {
		return 0, nil, newErr("Recv", KindPeerClosed, err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameSize {
		return 0, nil, newErr("Recv", KindBadFrame, ErrFrameTooLarge)
	}
	rest := make([]byte, length)
	if _, err := io.ReadFull(p.reader, rest); err != nil {
		return 0, nil, newErr("Recv", KindPeerClosed, err)
	}
	tag := Tag(rest[0])
	ciphertext := rest[1:]

	p.messagesReceived.Add(1)
	p.bytesIn.Add(uint64(4 + length))

	if p.flow != nil && !p.flow.AllowRecv(tag, len(ciphertext)) {
		return 0, nil, newErr("Recv", KindRateLimited, ErrRateLimited)
	}

	plaintext, err := openFrame(p.keys.recvKey, tag, ciphertext)
	if err != nil {
		return 0, nil, err
	}
	return tag, plaintext, nil
}

// Close tears down the underlying connection. Safe to call more than
// once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.conn.Close()
	})
	return err
}

// Stats returns cumulative message/byte counters for this peer.
func (p *Peer) Stats() (sent, received, bytesIn, bytesOut uint64) {
	return p.messagesSent.Load(), p.messagesReceived.Load(), p.bytesIn.Load(), p.bytesOut.Load()
}

// pingInterval is how often an idle connection's liveness should be
// probed with a fresh heartbeat at the transport layer; owned by the
// caller's read loop, not this package, since only the node knows its
// current finality window.
const pingInterval = 30 * time.Second
