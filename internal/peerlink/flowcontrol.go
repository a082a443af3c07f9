package peerlink

import (
	"time"

	"golang.org/x/time/rate"
)

// Default per-peer byte-rate limits (spec.md §4.8): at most 5 MB/s
// inbound, 1 MB/s outbound per peer.
const (
	DefaultRecvBytesPerSec = 5 << 20
	DefaultSendBytesPerSec = 1 << 20

	// burstMultiplier lets a peer spend a few seconds' worth of budget
	// in one burst, matching typical token-bucket sizing; purely
	// smooths legitimate bursts (e.g. a block plus its transactions)
	// rather than a steady flood.
	burstMultiplier = 4
)

// perTypeBudget is the fraction of a peer's overall byte budget a
// single message type may consume per second, keeping one chatty
// message kind (e.g. transaction gossip) from starving the others
// (e.g. heartbeats, which finality depends on).
var perTypeBudget = map[Tag]float64{
	TagBlock:       0.40,
	TagTransaction: 0.30,
	TagHeartbeat:   0.10,
	TagCheckpoint:  0.10,
	TagRequest:     0.05,
	TagResponse:    0.05,
}

// FlowControl is one peer's token-bucket flow control: an overall
// receive/send budget plus a per-type sub-budget on the receive side,
// so admission control can drop with back-pressure rather than buffer
// unboundedly (spec.md §4.8).
type FlowControl struct {
	recv     *rate.Limiter
	send     *rate.Limiter
	recvType map[Tag]*rate.Limiter
}

// NewFlowControl constructs a peer's flow control at the given
// per-peer receive/send byte rates.
func NewFlowControl(recvBytesPerSec, sendBytesPerSec int) *FlowControl {
	fc := &FlowControl{
		recv:     rate.NewLimiter(rate.Limit(recvBytesPerSec), recvBytesPerSec*burstMultiplier),
		send:     rate.NewLimiter(rate.Limit(sendBytesPerSec), sendBytesPerSec*burstMultiplier),
		recvType: make(map[Tag]*rate.Limiter, len(perTypeBudget)),
	}
	for tag, frac := range perTypeBudget {
		limit := int(float64(recvBytesPerSec) * frac)
		if limit < 1 {
			limit = 1
		}
		fc.recvType[tag] = rate.NewLimiter(rate.Limit(limit), limit*burstMultiplier)
	}
	return fc
}

// AllowRecv reports whether n bytes of tag may be accepted right now,
// consuming from both the overall and the per-type bucket. A false
// result means the caller should drop the frame rather than queue it.
func (fc *FlowControl) AllowRecv(tag Tag, n int) bool {
	if !fc.recv.AllowN(time.Now(), n) {
		return false
	}
	if lim, ok := fc.recvType[tag]; ok {
		return lim.AllowN(time.Now(), n)
	}
	return true
}

// AllowSend reports whether n bytes may be sent right now, consuming
// from the send-side overall bucket.
func (fc *FlowControl) AllowSend(n int) bool {
	return fc.send.AllowN(time.Now(), n)
}
