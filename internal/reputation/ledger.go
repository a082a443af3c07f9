// Package reputation implements spec.md §4.4's per-participant
// reputation score: a weighted sum of five bounded-saturation
// dimensions, rebuilt by deterministically replaying an append-only
// event log, plus the equivocation quarantine mechanism that zeroes a
// participant's score and excludes them from the leader lottery.
package reputation

import (
	"encoding/binary"
	"sync"
	"time"

	metric "github.com/luxfi/metric"

	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/store"
)

var eventLogPrefix = []byte("rep/ev/")

// appliedKey identifies one (event id, participant) application,
// spec.md §5's idempotency key.
type appliedKey struct {
	id          ids.ID
	participant ids.NodeID
}

// record is a participant's current, incrementally-updated dimension
// state. It is always derived by applying events in log order, so two
// engines fed the same event log in the same order reach bit-identical
// records (spec.md §4.4's determinism requirement).
type record struct {
	uptimeSeconds uint64
	integritySum  float64

	storedBlocks uint64
	totalBlocks  uint64

	hasGeography   bool
	country        string
	city           string
	firstInCountry bool
	firstInCity    bool
	countryPeers   uint64
	cityPeers      uint64
	regionsSeen    uint64
	regionsTarget  uint64

	bonds map[ids.NodeID]struct{}

	quarantineUntil time.Time
}

// Engine holds the live reputation state for every known participant
// and persists every applied event to a durable log.
type Engine struct {
	mu   sync.Mutex
	db   *store.DB
	seq  uint64
	recs map[ids.NodeID]*record

	seenCountries map[string]struct{}
	seenCities    map[string]struct{}

	applied map[appliedKey]struct{}

	scoreGauge metric.Gauge
}

// NewEngine constructs a reputation engine backed by db. Pass a
// registry to expose the last-computed score as a gauge; pass nil to
// skip metrics registration (tests commonly do).
func NewEngine(db *store.DB, registry metric.Registry) (*Engine, error) {
	e := &Engine{
		db:            db,
		recs:          make(map[ids.NodeID]*record),
		seenCountries: make(map[string]struct{}),
		seenCities:    make(map[string]struct{}),
		applied:       make(map[appliedKey]struct{}),
	}
	if registry != nil {
		m := metric.NewWithRegistry("reputation", registry)
		e.scoreGauge = m.NewGauge("last_score", "last score computed by ApplyEvent/Score")
	}
	return e, nil
}

func (e *Engine) recordFor(id ids.NodeID) *record {
	r, ok := e.recs[id]
	if !ok {
		r = &record{bonds: make(map[ids.NodeID]struct{})}
		e.recs[id] = r
	}
	return r
}

// ApplyEvent appends ev to the durable log (if a store is attached)
// and folds it into the participant's current record.
func (e *Engine) ApplyEvent(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(ev, true)
}

func (e *Engine) applyLocked(ev Event, persist bool) error {
	key := appliedKey{id: ev.ID, participant: ev.Participant}
	if _, ok := e.applied[key]; ok {
		return nil
	}

	if persist && e.db != nil {
		key := make([]byte, len(eventLogPrefix)+8)
		copy(key, eventLogPrefix)
		binary.BigEndian.PutUint64(key[len(eventLogPrefix):], e.seq)
		if err := e.db.Put(key, ev.Encode()); err != nil {
			return newErr("ApplyEvent", KindInvalidEvent, err)
		}
		e.seq++
	}

	switch ev.Kind {
	case EventUptimeHeartbeat:
		r := e.recordFor(ev.Participant)
		r.uptimeSeconds += uint64(ev.UptimeDelta / time.Second)

	case EventBlockProduced, EventBlockValidated, EventInvalidBlock:
		r := e.recordFor(ev.Participant)
		r.integritySum += integrityWeight(ev.Kind)

	case EventEquivocation:
		r := e.recordFor(ev.Participant)
		r.integritySum += integrityWeight(ev.Kind)
		r.quarantineUntil = ev.Time.Add(QuarantineDuration)

	case EventStorageReport:
		r := e.recordFor(ev.Participant)
		r.storedBlocks = ev.StoredBlocks
		r.totalBlocks = ev.TotalBlocks

	case EventGeographyReport:
		r := e.recordFor(ev.Participant)
		if _, seen := e.seenCountries[ev.Country]; !seen && ev.Country != "" {
			e.seenCountries[ev.Country] = struct{}{}
			r.firstInCountry = true
		}
		if _, seen := e.seenCities[ev.City]; !seen && ev.City != "" {
			e.seenCities[ev.City] = struct{}{}
			r.firstInCity = true
		}
		r.hasGeography = true
		r.country = ev.Country
		r.city = ev.City
		r.countryPeers = ev.CountryPeers
		r.cityPeers = ev.CityPeers
		r.regionsSeen = ev.RegionsSeen
		r.regionsTarget = ev.RegionsTarget

	case EventHandshakeBond:
		if err := e.applyHandshakeLocked(ev); err != nil {
			return err
		}

	default:
		return newErr("ApplyEvent", KindInvalidEvent, ErrInvalidEvent)
	}

	e.applied[key] = struct{}{}

	if e.scoreGauge != nil {
		e.scoreGauge.Set(e.scoreLocked(ev.Participant, ev.Time))
	}
	return nil
}

// applyHandshakeLocked records a mutual bond between ev.Participant
// and ev.BondPeer, but only if both currently meet spec.md §4.4's
// handshake eligibility requirements, evaluated at ev.Time.
func (e *Engine) applyHandshakeLocked(ev Event) error {
	a := e.recordFor(ev.Participant)
	b := e.recordFor(ev.BondPeer)

	if !handshakeEligible(a, ev.Time) || !handshakeEligible(b, ev.Time) {
		return newErr("ApplyEvent", KindHandshakeIneligible, ErrHandshakeIneligible)
	}
	if a.country == "" || a.country == b.country {
		return newErr("ApplyEvent", KindHandshakeIneligible, ErrHandshakeIneligible)
	}

	a.bonds[ev.BondPeer] = struct{}{}
	b.bonds[ev.Participant] = struct{}{}
	return nil
}

// handshakeEligible checks the per-party requirements of spec.md
// §4.4: uptime >=90%, integrity >=0.8, storage >=0.9, geography >0.1.
func handshakeEligible(r *record, now time.Time) bool {
	if now.Before(r.quarantineUntil) {
		return false
	}
	return uptimeScore(r.uptimeSeconds) >= 0.90 &&
		integrityScore(r.integritySum) >= 0.8 &&
		storageScore(r.storedBlocks, r.totalBlocks) >= 0.9 &&
		geographyScore(r) > 0.1
}

// Score returns the participant's current reputation score in [0,1],
// as of now. A quarantined participant always scores 0.
func (e *Engine) Score(id ids.NodeID, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(id, now)
}

func (e *Engine) scoreLocked(id ids.NodeID, now time.Time) float64 {
	r, ok := e.recs[id]
	if !ok {
		return 0
	}
	if now.Before(r.quarantineUntil) {
		return 0
	}
	return combine(
		uptimeScore(r.uptimeSeconds),
		integrityScore(r.integritySum),
		storageScore(r.storedBlocks, r.totalBlocks),
		geographyScore(r),
		handshakeScore(len(r.bonds)),
	)
}

// IsQuarantined reports whether id is currently excluded from the
// leader lottery.
func (e *Engine) IsQuarantined(id ids.NodeID, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.recs[id]
	if !ok {
		return false
	}
	return now.Before(r.quarantineUntil)
}

// Replay rebuilds the engine's in-memory state from the durable event
// log, in log order, so a restarted node reaches the same scores it
// had before shutting down.
func (e *Engine) Replay() error {
	if e.db == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	it := e.db.IteratePrefix(eventLogPrefix)
	defer it.Release()
	for it.Next() {
		ev, err := DecodeEvent(append([]byte{}, it.Value()...))
		if err != nil {
			return err
		}
		if err := e.applyLocked(ev, false); err != nil && !isHandshakeIneligible(err) {
			return err
		}
		e.seq++
	}
	return it.Error()
}

func isHandshakeIneligible(err error) bool {
	var repErr *Error
	if e, ok := err.(*Error); ok {
		repErr = e
	}
	return repErr != nil && repErr.Kind == KindHandshakeIneligible
}
