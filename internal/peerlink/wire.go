package peerlink

import (
	"github.com/tempusnet/tempus/internal/chainmodel"
	"github.com/tempusnet/tempus/internal/consensus"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/utils/wrappers"
)

// Tag is the 1-byte wire message type of spec.md §6.
type Tag byte

const (
	TagHello        Tag = 0x01
	TagBlock        Tag = 0x02
	TagTransaction  Tag = 0x03
	TagHeartbeat    Tag = 0x04
	TagCheckpoint   Tag = 0x05
	TagRequest      Tag = 0x06
	TagResponse     Tag = 0x07
	TagDisconnect   Tag = 0x0F
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "hello"
	case TagBlock:
		return "block"
	case TagTransaction:
		return "transaction"
	case TagHeartbeat:
		return "heartbeat"
	case TagCheckpoint:
		return "checkpoint"
	case TagRequest:
		return "request"
	case TagResponse:
		return "response"
	case TagDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// MaxFrameSize bounds a single wire frame's length field (tag plus
// body, not the 4-byte prefix), guarding against a peer claiming an
// unbounded length.
const MaxFrameSize = 16 << 20

// RequestKind tags what a request-by-hash frame is asking for
// (spec.md §4.8's "request-by-hash" message).
type RequestKind byte

const (
	RequestBlock RequestKind = iota
	RequestTransaction
	RequestCheckpoint
)

// Frame is a decoded, not-yet-interpreted wire message: the tag plus
// its still-encoded body. Interpreting the body is the caller's job,
// since only the caller knows which concrete type a tag decodes to.
type Frame struct {
	Tag  Tag
	Body []byte
}

// Encode serializes a frame to the length-prefixed wire form of
// spec.md §6: 4-byte big-endian length, 1-byte tag, body. The length
// covers the tag and body together.
func (f *Frame) Encode() []byte {
	p := &wrappers.Packer{MaxSize: MaxFrameSize, Bytes: make([]byte, 0, 5+len(f.Body))}
	p.PackInt(uint32(1 + len(f.Body)))
	p.PackByte(byte(f.Tag))
	p.PackFixedBytes(f.Body)
	return p.Bytes
}

// DecodeFrame parses a single frame from b, which must contain exactly
// the length-prefix-and-body bytes already read off the wire by the
// caller (the 4-byte length prefix is still included, matching Encode).
func DecodeFrame(b []byte) (*Frame, error) {
	p := &wrappers.Packer{Bytes: b}
	length := p.UnpackInt()
	if p.Errored() {
		return nil, newErr("DecodeFrame", KindBadFrame, ErrBadFrame)
	}
	if length == 0 || length > MaxFrameSize {
		return nil, newErr("DecodeFrame", KindBadFrame, ErrFrameTooLarge)
	}
	tag := Tag(p.UnpackByte())
	body := p.UnpackFixedBytes(int(length) - 1)
	if p.Errored() {
		return nil, newErr("DecodeFrame", KindBadFrame, ErrBadFrame)
	}
	return &Frame{Tag: tag, Body: body}, nil
}

// HelloMessage is the handshake's identity announcement: the
// participant's SLH-DSA public key and NodeID, its ephemeral
// Curve25519 public key for this session, and a signature binding the
// two together (spec.md §4.8).
type HelloMessage struct {
	NodeID         ids.NodeID
	IdentityPubKey []byte
	EphemeralPub   [32]byte
	Signature      []byte
}

func (h *HelloMessage) signingMessage() []byte {
	p := &wrappers.Packer{MaxSize: 1 << 16, Bytes: make([]byte, 0, 64)}
	p.PackFixedBytes(h.NodeID[:])
	p.PackBytes(h.IdentityPubKey)
	p.PackFixedBytes(h.EphemeralPub[:])
	return p.Bytes
}

func (h *HelloMessage) Encode() []byte {
	p := &wrappers.Packer{MaxSize: 1 << 16, Bytes: make([]byte, 0, 128)}
	p.PackFixedBytes(h.signingMessage())
	p.PackBytes(h.Signature)
	return p.Bytes
}

func DecodeHello(b []byte) (*HelloMessage, error) {
	p := &wrappers.Packer{Bytes: b}
	h := &HelloMessage{}
	copy(h.NodeID[:], p.UnpackFixedBytes(ids.NodeIDLen))
	h.IdentityPubKey = p.UnpackBytes()
	copy(h.EphemeralPub[:], p.UnpackFixedBytes(32))
	h.Signature = p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeHello", KindBadFrame, ErrBadFrame)
	}
	return h, nil
}

// RequestMessage asks a peer for an object by hash.
type RequestMessage struct {
	Kind RequestKind
	ID   ids.ID
}

func (r *RequestMessage) Encode() []byte {
	p := &wrappers.Packer{MaxSize: 64, Bytes: make([]byte, 0, 34)}
	p.PackByte(byte(r.Kind))
	p.PackFixedBytes(r.ID[:])
	return p.Bytes
}

func DecodeRequest(b []byte) (*RequestMessage, error) {
	p := &wrappers.Packer{Bytes: b}
	r := &RequestMessage{Kind: RequestKind(p.UnpackByte())}
	copy(r.ID[:], p.UnpackFixedBytes(ids.IDLen))
	if p.Errored() {
		return nil, newErr("DecodeRequest", KindBadFrame, ErrBadFrame)
	}
	return r, nil
}

// ResponseMessage carries the object requested by a RequestMessage, or
// a not-found indication (empty Payload).
type ResponseMessage struct {
	Kind    RequestKind
	ID      ids.ID
	Payload []byte
}

func (r *ResponseMessage) Encode() []byte {
	p := &wrappers.Packer{MaxSize: MaxFrameSize, Bytes: make([]byte, 0, 64+len(r.Payload))}
	p.PackByte(byte(r.Kind))
	p.PackFixedBytes(r.ID[:])
	p.PackBytes(r.Payload)
	return p.Bytes
}

func DecodeResponse(b []byte) (*ResponseMessage, error) {
	p := &wrappers.Packer{Bytes: b}
	r := &ResponseMessage{Kind: RequestKind(p.UnpackByte())}
	copy(r.ID[:], p.UnpackFixedBytes(ids.IDLen))
	r.Payload = p.UnpackBytes()
	if p.Errored() {
		return nil, newErr("DecodeResponse", KindBadFrame, ErrBadFrame)
	}
	return r, nil
}

// decodeBlock and decodeHeartbeat adapt chainmodel/consensus decoders
// to the tags they arrive under, so the peer's read loop can dispatch
// on Tag alone without the caller re-deriving the concrete type.
func decodeBlock(body []byte) (*chainmodel.Block, error) {
	return chainmodel.DecodeBlock(body)
}

func decodeHeartbeat(body []byte) (*consensus.Heartbeat, error) {
	return consensus.DecodeHeartbeat(body)
}

func decodeCheckpoint(body []byte) (*consensus.Checkpoint, error) {
	return consensus.DecodeCheckpoint(body)
}

func decodeTransaction(body []byte) (*chainmodel.Transaction, error) {
	return chainmodel.DecodeTransaction(body)
}
