package consensus

import (
	"sync"
	"time"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/reputation"
)

// ParticipantState is spec.md §4.4/§4.7's participant lifecycle:
// Registered -> Probationary -> Active, with an Offline excursion for
// missed heartbeats and a timed Quarantined state triggered by
// equivocation.
type ParticipantState int

const (
	StateRegistered ParticipantState = iota
	StateProbationary
	StateActive
	StateOffline
	StateQuarantined
)

func (s ParticipantState) String() string {
	switch s {
	case StateRegistered:
		return "Registered"
	case StateProbationary:
		return "Probationary"
	case StateActive:
		return "Active"
	case StateOffline:
		return "Offline"
	case StateQuarantined:
		return "Quarantined"
	default:
		return "Unknown"
	}
}

// QuarantineDuration is spec.md §4.4's 180-day equivocation quarantine.
const QuarantineDuration = 180 * 24 * time.Hour

// OfflineAfterMissed is the number of consecutive missed windows after
// which an Active participant is marked Offline.
const OfflineAfterMissed = 3

type participantRecord struct {
	state          ParticipantState
	registeredAt   time.Time
	quarantinedUntil time.Time
	missedWindows  int
	lastWindow     uint64
}

// StateMachine tracks every known participant's lifecycle state,
// driven by reputation events and heartbeat arrivals. It does not
// itself compute reputation scores (internal/reputation owns that); it
// only reacts to the events reputation.Engine replays and to heartbeat
// presence/absence.
type StateMachine struct {
	mu      sync.Mutex
	rep     *reputation.Engine
	records map[ids.NodeID]*participantRecord
}

func NewStateMachine(rep *reputation.Engine) *StateMachine {
	return &StateMachine{rep: rep, records: make(map[ids.NodeID]*participantRecord)}
}

func (m *StateMachine) recordFor(id ids.NodeID, now time.Time) *participantRecord {
	r, ok := m.records[id]
	if !ok {
		r = &participantRecord{state: StateRegistered, registeredAt: now}
		m.records[id] = r
	}
	return r
}

// Register enters a new participant into the lifecycle at Registered,
// immediately advancing to Probationary (spec.md §4.4's probation
// curve applies from registration, so the two states are
// administratively distinct but reached back to back).
func (m *StateMachine) Register(id ids.NodeID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordFor(id, now)
	r.state = StateProbationary
}

// State reports id's current lifecycle state, resolving an expired
// quarantine back to Probationary/Active first.
func (m *StateMachine) State(id ids.NodeID, now time.Time) ParticipantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return StateRegistered
	}
	m.resolveQuarantineLocked(r, now)
	return r.state
}

func (m *StateMachine) resolveQuarantineLocked(r *participantRecord, now time.Time) {
	if r.state == StateQuarantined && now.After(r.quarantinedUntil) {
		r.state = m.postQuarantineStateLocked(r, now)
	}
}

func (m *StateMachine) postQuarantineStateLocked(r *participantRecord, now time.Time) ParticipantState {
	if now.Sub(r.registeredAt) < ProbationDuration {
		return StateProbationary
	}
	return StateActive
}

// Heartbeat records a presence attestation for window w, promoting a
// Probationary participant to Active once its probation period has
// elapsed, and recovering an Offline participant.
func (m *StateMachine) Heartbeat(id ids.NodeID, window uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordFor(id, now)
	m.resolveQuarantineLocked(r, now)
	if r.state == StateQuarantined {
		return
	}
	r.missedWindows = 0
	r.lastWindow = window
	switch r.state {
	case StateOffline:
		r.state = m.postQuarantineStateLocked(r, now)
	case StateRegistered, StateProbationary:
		if now.Sub(r.registeredAt) >= ProbationDuration {
			r.state = StateActive
		}
	}
}

// MissedWindow advances id's miss counter for a window it should have
// heartbeat in; after OfflineAfterMissed consecutive misses the
// participant is marked Offline.
func (m *StateMachine) MissedWindow(id ids.NodeID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordFor(id, now)
	m.resolveQuarantineLocked(r, now)
	if r.state == StateQuarantined || r.state == StateOffline {
		return
	}
	r.missedWindows++
	if r.missedWindows >= OfflineAfterMissed {
		r.state = StateOffline
	}
}

// Quarantine places id into the equivocation quarantine (spec.md §4.4)
// for QuarantineDuration, starting from now.
func (m *StateMachine) Quarantine(id ids.NodeID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordFor(id, now)
	r.state = StateQuarantined
	r.quarantinedUntil = now.Add(QuarantineDuration)
}

// Age returns how long id has been registered, for probation/influx
// multiplier computation.
func (m *StateMachine) Age(id ids.NodeID, now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return 0
	}
	return now.Sub(r.registeredAt)
}

// Eligible reports whether id may compete in the leader lottery at
// all: quarantined and never-registered participants are excluded
// outright, independent of the weight curve applied to everyone else.
func (m *StateMachine) Eligible(id ids.NodeID, now time.Time) bool {
	return m.State(id, now) != StateQuarantined && m.State(id, now) != StateRegistered
}

// OnEquivocation is an dagstore.EquivocationObserver-compatible
// callback: it quarantines the offending producer and raises the
// corresponding reputation event, wiring the DAG store's detection
// into both the lifecycle state machine and the reputation ledger
// (spec.md §4.4, §4.6).
func (m *StateMachine) OnEquivocation(now time.Time) func(producer ids.NodeID, slot int64, first, second ids.ID) {
	return func(producer ids.NodeID, slot int64, first, second ids.ID) {
		m.Quarantine(producer, now)
		if m.rep != nil {
			_ = m.rep.ApplyEvent(reputation.Event{
				ID:          crypto.Hash([]byte("equivocation"), first[:], second[:]),
				Participant: producer,
				Kind:        reputation.EventEquivocation,
				Time:        now,
			})
		}
	}
}
