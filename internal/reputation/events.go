package reputation

import (
	"time"

	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/utils/wrappers"
)

// EventKind tags the reputation-affecting occurrences of spec.md §4.4.
type EventKind byte

const (
	// EventUptimeHeartbeat reports a span of verified presence, added
	// to the participant's cumulative uptime_seconds counter.
	EventUptimeHeartbeat EventKind = iota
	// EventBlockProduced, EventBlockValidated, EventInvalidBlock and
	// EventEquivocation each carry an integrity weight (see
	// integrityWeight below).
	EventBlockProduced
	EventBlockValidated
	EventInvalidBlock
	EventEquivocation
	// EventStorageReport replaces the participant's stored/total block
	// counts used for the storage dimension.
	EventStorageReport
	// EventGeographyReport replaces the participant's region
	// membership and regional peer/region counts.
	EventGeographyReport
	// EventHandshakeBond records a proposed mutual bond between two
	// participants; it is only counted if both sides currently meet
	// the eligibility requirements of spec.md §4.4.
	EventHandshakeBond
)

// integrityWeight is the Δ applied to a participant's integrity
// accumulator for each integrity-affecting event kind.
func integrityWeight(k EventKind) float64 {
	switch k {
	case EventBlockProduced:
		return 0.05
	case EventBlockValidated:
		return 0.02
	case EventInvalidBlock:
		return -0.15
	case EventEquivocation:
		return -1.0
	default:
		return 0
	}
}

// Event is a single entry in a participant's append-only reputation
// event log. Only the fields relevant to Kind are populated; the rest
// are zero.
type Event struct {
	// ID identifies this occurrence (e.g. a heartbeat period, a
	// specific block's production/validation). Applying two events
	// with the same (ID, Participant) is idempotent — the second
	// application is skipped — per spec.md §5's replay contract.
	ID          ids.ID
	Participant ids.NodeID
	Kind        EventKind
	Time        time.Time

	UptimeDelta time.Duration

	StoredBlocks uint64
	TotalBlocks  uint64

	Country        string
	City           string
	CountryPeers   uint64
	CityPeers      uint64
	RegionsSeen    uint64
	RegionsTarget  uint64

	BondPeer ids.NodeID
}

// Encode serializes an event to its canonical binary form, for the
// durable event ledger.
func (ev Event) Encode() []byte {
	p := &wrappers.Packer{MaxSize: 1 << 16, Bytes: make([]byte, 0, 96)}
	p.PackFixedBytes(ev.ID[:])
	p.PackFixedBytes(ev.Participant[:])
	p.PackByte(byte(ev.Kind))
	p.PackLong(uint64(ev.Time.UnixNano()))
	p.PackLong(uint64(ev.UptimeDelta))
	p.PackLong(ev.StoredBlocks)
	p.PackLong(ev.TotalBlocks)
	p.PackStr(ev.Country)
	p.PackStr(ev.City)
	p.PackLong(ev.CountryPeers)
	p.PackLong(ev.CityPeers)
	p.PackLong(ev.RegionsSeen)
	p.PackLong(ev.RegionsTarget)
	p.PackFixedBytes(ev.BondPeer[:])
	return p.Bytes
}

// DecodeEvent parses the byte form produced by Encode.
func DecodeEvent(b []byte) (Event, error) {
	p := &wrappers.Packer{Bytes: b}
	var ev Event
	copy(ev.ID[:], p.UnpackFixedBytes(ids.IDLen))
	copy(ev.Participant[:], p.UnpackFixedBytes(ids.NodeIDLen))
	ev.Kind = EventKind(p.UnpackByte())
	ev.Time = time.Unix(0, int64(p.UnpackLong())).UTC()
	ev.UptimeDelta = time.Duration(p.UnpackLong())
	ev.StoredBlocks = p.UnpackLong()
	ev.TotalBlocks = p.UnpackLong()
	ev.Country = p.UnpackStr()
	ev.City = p.UnpackStr()
	ev.CountryPeers = p.UnpackLong()
	ev.CityPeers = p.UnpackLong()
	ev.RegionsSeen = p.UnpackLong()
	ev.RegionsTarget = p.UnpackLong()
	copy(ev.BondPeer[:], p.UnpackFixedBytes(ids.NodeIDLen))
	if p.Errored() {
		return Event{}, newErr("DecodeEvent", KindInvalidEvent, p.Err)
	}
	return ev, nil
}
