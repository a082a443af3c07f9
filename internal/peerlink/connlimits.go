package peerlink

import (
	"net"
	"sync"

	"github.com/tempusnet/tempus/internal/ids"
)

// DefaultMaxPerIP and DefaultMaxPerSubnet are spec.md §4.8's
// connection caps: one connection per IP, three per /24-equivalent
// subnet.
const (
	DefaultMaxPerIP     = 1
	DefaultMaxPerSubnet = 3

	// subnetMaskBits is the /24 (IPv4) or /48 (IPv6) prefix used to
	// group addresses into a subnet bucket.
	subnetMaskBitsV4 = 24
	subnetMaskBitsV6 = 48
)

func subnetKey(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(subnetMaskBitsV4, 32)
		return v4.Mask(mask).String()
	}
	mask := net.CIDRMask(subnetMaskBitsV6, 128)
	return ip.Mask(mask).String()
}

// ConnLimiter enforces spec.md §4.8's per-IP and per-subnet connection
// caps, plus a minimum-outbound / inbound-ratio policy and a set of
// protected slots reserved for long-standing, geographically diverse
// peers (eclipse resistance).
type ConnLimiter struct {
	mu sync.Mutex

	maxPerIP     int
	maxPerSubnet int
	minOutbound  int
	inboundRatioMax float64
	protectedSlots  int

	perIP     map[string]int
	perSubnet map[string]int

	outboundCount int
	inboundCount  int

	protected   map[ids.NodeID]struct{}
	discouraged *discouragedFilter
}

func NewConnLimiter(maxPerIP, maxPerSubnet, minOutbound, protectedSlots int, inboundRatioMax float64) *ConnLimiter {
	return &ConnLimiter{
		maxPerIP:        maxPerIP,
		maxPerSubnet:    maxPerSubnet,
		minOutbound:     minOutbound,
		inboundRatioMax: inboundRatioMax,
		protectedSlots:  protectedSlots,
		perIP:           make(map[string]int),
		perSubnet:       make(map[string]int),
		protected:       make(map[ids.NodeID]struct{}),
		discouraged:     newDiscouragedFilter(DefaultDiscourageCapacity, DefaultDiscourageFalsePositiveRate),
	}
}

// Discourage flags addr as having sent malformed protocol frames,
// deprioritizing future connection attempts from it (spec.md §4.8's
// eclipse-resistance policy, extended with the soft-punishment scheme
// of a misbehavior-tracking rolling filter rather than a hard,
// enumerable ban list).
func (c *ConnLimiter) Discourage(addr net.IP) {
	if addr == nil {
		return
	}
	c.discouraged.Add(addr)
}

// IsDiscouraged reports whether addr has recently sent malformed
// frames.
func (c *ConnLimiter) IsDiscouraged(addr net.IP) bool {
	if addr == nil {
		return false
	}
	return c.discouraged.Contains(addr)
}

// MarkProtected reserves a slot for id: a long-standing, geographically
// diverse peer that the inbound ratio / eviction logic should not
// count against the ordinary caps (spec.md §4.8).
func (c *ConnLimiter) MarkProtected(id ids.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.protected) >= c.protectedSlots {
		return
	}
	c.protected[id] = struct{}{}
}

func (c *ConnLimiter) IsProtected(id ids.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.protected[id]
	return ok
}

// Admit checks whether a new connection from addr, in the given
// direction, fits within the per-IP/subnet caps and the inbound-ratio
// policy, reserving the slot if so. Call Release when the connection
// closes.
func (c *ConnLimiter) Admit(id ids.NodeID, addr net.IP, inbound bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, isProtected := c.protected[id]

	if inbound && !isProtected && c.discouraged.Contains(addr) {
		return newErr("Admit", KindConnectionCapped, ErrTooManyConnections)
	}

	ipKey := addr.String()
	subnet := subnetKey(addr)
	if !isProtected {
		if c.perIP[ipKey] >= c.maxPerIP {
			return newErr("Admit", KindConnectionCapped, ErrTooManyConnections)
		}
		if c.perSubnet[subnet] >= c.maxPerSubnet {
			return newErr("Admit", KindConnectionCapped, ErrTooManyConnections)
		}
	}

	if inbound {
		total := c.outboundCount + c.inboundCount + 1
		if float64(c.inboundCount+1)/float64(total) > c.inboundRatioMax && !isProtected {
			return newErr("Admit", KindConnectionCapped, ErrTooManyConnections)
		}
	}

	c.perIP[ipKey]++
	c.perSubnet[subnet]++
	if inbound {
		c.inboundCount++
	} else {
		c.outboundCount++
	}
	return nil
}

// Release frees the slot reserved by a prior Admit call for addr.
func (c *ConnLimiter) Release(addr net.IP, inbound bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ipKey := addr.String()
	subnet := subnetKey(addr)
	if c.perIP[ipKey] > 0 {
		c.perIP[ipKey]--
	}
	if c.perSubnet[subnet] > 0 {
		c.perSubnet[subnet]--
	}
	if inbound && c.inboundCount > 0 {
		c.inboundCount--
	} else if !inbound && c.outboundCount > 0 {
		c.outboundCount--
	}
}

// NeedsMoreOutbound reports whether the node is below its configured
// minimum outbound connection count (spec.md §4.8).
func (c *ConnLimiter) NeedsMoreOutbound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outboundCount < c.minOutbound
}
