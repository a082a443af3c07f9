package peerlink

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

func nodeIDFor(t *testing.T, sk *crypto.PrivateKey) ids.NodeID {
	t.Helper()
	pub, err := sk.Public().Bytes()
	require.NoError(t, err)
	return crypto.NodeIDFromKey(pub)
}

func TestHandshakeThenSendRecvRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientSK, err := crypto.GenerateKey()
	require.NoError(t, err)
	serverSK, err := crypto.GenerateKey()
	require.NoError(t, err)

	type result struct {
		peer *Peer
		err  error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		p, err := Handshake(clientConn, clientSK, nodeIDFor(t, clientSK), false, nil, nil)
		clientCh <- result{p, err}
	}()
	go func() {
		p, err := Handshake(serverConn, serverSK, nodeIDFor(t, serverSK), true, nil, nil)
		serverCh <- result{p, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh
	require.NoError(t, clientRes.err)
	require.NoError(t, serverRes.err)

	clientPeer, serverPeer := clientRes.peer, serverRes.peer
	require.Equal(t, nodeIDFor(t, serverSK), clientPeer.RemoteNodeID())
	require.Equal(t, nodeIDFor(t, clientSK), serverPeer.RemoteNodeID())

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- clientPeer.Send(TagTransaction, []byte("hello from client"))
	}()

	tag, body, err := serverPeer.Recv()
	require.NoError(t, <-sendErrCh)
	require.NoError(t, err)
	require.Equal(t, TagTransaction, tag)
	require.Equal(t, "hello from client", string(body))
}

func TestHandshakeFailsOnSignatureMismatch(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)

	hello, _, err := buildHello(sk, nodeIDFor(t, sk))
	require.NoError(t, err)
	hello.Signature[0] ^= 0xFF // corrupt signature

	require.Error(t, verifyHello(hello))
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{Tag: TagHeartbeat, Body: []byte{1, 2, 3, 4}}
	encoded := f.Encode()

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	require.Equal(t, f.Tag, decoded.Tag)
	require.Equal(t, f.Body, decoded.Body)
}

func TestDecodeFrameRejectsOversizedLength(t *testing.T) {
	huge := []byte{0x7F, 0xFF, 0xFF, 0xFF}
	_, err := DecodeFrame(huge)
	require.Error(t, err)
}

func TestFlowControlDropsOverBudgetTraffic(t *testing.T) {
	fc := NewFlowControl(100, 100)
	require.True(t, fc.AllowRecv(TagBlock, 10))
	// Exhaust the overall receive bucket with one big frame.
	require.False(t, fc.AllowRecv(TagBlock, 100000))
}

func TestConnLimiterEnforcesPerIPCap(t *testing.T) {
	cl := NewConnLimiter(1, 3, 8, 4, 0.7)
	addr := net.ParseIP("203.0.113.5")

	require.NoError(t, cl.Admit(ids.NodeID{1}, addr, false))
	err := cl.Admit(ids.NodeID{2}, addr, false)
	require.Error(t, err)
	require.True(t, IsConnectionCapped(err))

	cl.Release(addr, false)
	require.NoError(t, cl.Admit(ids.NodeID{2}, addr, false))
}

func TestConnLimiterEnforcesInboundRatio(t *testing.T) {
	cl := NewConnLimiter(100, 100, 8, 4, 0.5)
	outboundAddr := net.ParseIP("198.51.100.1")
	require.NoError(t, cl.Admit(ids.NodeID{1}, outboundAddr, false))

	inboundAddr := net.ParseIP("198.51.100.2")
	require.NoError(t, cl.Admit(ids.NodeID{2}, inboundAddr, true))

	secondInbound := net.ParseIP("198.51.100.3")
	err := cl.Admit(ids.NodeID{3}, secondInbound, true)
	require.Error(t, err)
}

func TestConnLimiterProtectedSlotBypassesCaps(t *testing.T) {
	cl := NewConnLimiter(1, 1, 8, 4, 0.7)
	addr := net.ParseIP("203.0.113.9")
	protected := ids.NodeID{9}
	cl.MarkProtected(protected)

	require.NoError(t, cl.Admit(ids.NodeID{1}, addr, false))
	require.NoError(t, cl.Admit(protected, addr, false), "a protected peer should bypass the per-IP cap")
}

func TestDiscourageRejectsFutureInboundConnections(t *testing.T) {
	cl := NewConnLimiter(10, 10, 8, 4, 0.9)
	addr := net.ParseIP("203.0.113.42")

	require.NoError(t, cl.Admit(ids.NodeID{1}, addr, true))
	cl.Release(addr, true)

	cl.Discourage(addr)
	require.True(t, cl.IsDiscouraged(addr))

	err := cl.Admit(ids.NodeID{1}, addr, true)
	require.Error(t, err)
	require.True(t, IsConnectionCapped(err))
}

func TestDiscourageDoesNotAffectUnrelatedAddresses(t *testing.T) {
	cl := NewConnLimiter(10, 10, 8, 4, 0.9)
	cl.Discourage(net.ParseIP("203.0.113.42"))

	other := net.ParseIP("203.0.113.43")
	require.False(t, cl.IsDiscouraged(other))
	require.NoError(t, cl.Admit(ids.NodeID{1}, other, true))
}

func TestDiscourageExemptsProtectedPeers(t *testing.T) {
	cl := NewConnLimiter(10, 10, 8, 4, 0.9)
	addr := net.ParseIP("203.0.113.44")
	protected := ids.NodeID{7}
	cl.MarkProtected(protected)

	cl.Discourage(addr)
	require.NoError(t, cl.Admit(protected, addr, true), "a protected peer should bypass discouragement")
}
