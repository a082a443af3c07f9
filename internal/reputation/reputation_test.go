package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/store"
)

func newTestStore(t *testing.T) (*store.DB, error) {
	t.Helper()
	return store.OpenInMemory()
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil, nil)
	require.NoError(t, err)
	return e
}

func TestUptimeSaturatesAtOneHundredEightyDays(t *testing.T) {
	e := newTestEngine(t)
	id := ids.NodeID{1}
	now := time.Now().UTC()

	require.NoError(t, e.ApplyEvent(Event{
		Participant: id, Kind: EventUptimeHeartbeat, Time: now,
		UptimeDelta: 365 * 24 * time.Hour, // well past the 180-day cap
	}))
	// A participant with no recorded events still starts at full
	// integrity (clamp(1+0, 0, 1) == 1), so the expected score is
	// uptime's weight plus integrity's.
	require.InDelta(t, WeightUptime+WeightIntegrity, e.Score(id, now), 1e-9)
}

func TestIntegrityEventsAccumulateAndClamp(t *testing.T) {
	e := newTestEngine(t)
	id := ids.NodeID{2}
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.ApplyEvent(Event{ID: idAt(i), Participant: id, Kind: EventBlockProduced, Time: now}))
	}
	require.NoError(t, e.ApplyEvent(Event{ID: idAt(3), Participant: id, Kind: EventInvalidBlock, Time: now}))

	score := e.Score(id, now)
	require.Greater(t, score, 0.0)

	for i := 0; i < 100; i++ {
		require.NoError(t, e.ApplyEvent(Event{ID: idAt(100 + i), Participant: id, Kind: EventInvalidBlock, Time: now}))
	}
	// Integrity cannot go below 0, so the score floor is 0 regardless
	// of how many penalty events accumulate.
	require.GreaterOrEqual(t, e.Score(id, now), 0.0)
}

func TestEquivocationQuarantinesForOneHundredEightyDays(t *testing.T) {
	e := newTestEngine(t)
	id := ids.NodeID{3}
	now := time.Now().UTC()

	require.NoError(t, e.ApplyEvent(Event{
		Participant: id, Kind: EventUptimeHeartbeat, Time: now,
		UptimeDelta: 180 * 24 * time.Hour,
	}))
	require.Greater(t, e.Score(id, now), 0.0)

	require.NoError(t, e.ApplyEvent(Event{ID: idAt(1), Participant: id, Kind: EventEquivocation, Time: now}))
	require.Equal(t, 0.0, e.Score(id, now))
	require.True(t, e.IsQuarantined(id, now))

	justBefore := now.Add(QuarantineDuration - time.Second)
	require.True(t, e.IsQuarantined(id, justBefore))

	justAfter := now.Add(QuarantineDuration + time.Second)
	require.False(t, e.IsQuarantined(id, justAfter))
}

func TestStorageRatioSaturatesAtOne(t *testing.T) {
	e := newTestEngine(t)
	id := ids.NodeID{4}
	now := time.Now().UTC()

	require.NoError(t, e.ApplyEvent(Event{
		Participant: id, Kind: EventStorageReport, Time: now,
		StoredBlocks: 1000, TotalBlocks: 500, // more stored than total: still caps at 1.0
	}))
	require.InDelta(t, WeightStorage+WeightIntegrity, e.Score(id, now), 1e-9)
}

// idAt derives a distinct event ID for the i'th occurrence in a test
// loop, so repeated applications of the same event kind for the same
// participant are treated as distinct occurrences rather than deduped.
func idAt(i int) ids.ID {
	var id ids.ID
	id[0] = byte(i)
	id[1] = byte(i >> 8)
	return id
}

func eligibleGeography(id ids.NodeID, country, city string) Event {
	return Event{
		Participant: id, Kind: EventGeographyReport,
		Country: country, City: city,
		CountryPeers: 1, CityPeers: 1,
		RegionsSeen: 5, RegionsTarget: 5,
	}
}

func makeHandshakeEligible(t *testing.T, e *Engine, id ids.NodeID, country, city string, now time.Time) {
	t.Helper()
	require.NoError(t, e.ApplyEvent(Event{
		ID: idAt(100), Participant: id, Kind: EventUptimeHeartbeat, Time: now,
		UptimeDelta: 180 * 24 * time.Hour,
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.ApplyEvent(Event{ID: idAt(i + 1), Participant: id, Kind: EventBlockProduced, Time: now}))
	}
	require.NoError(t, e.ApplyEvent(Event{
		ID: idAt(101), Participant: id, Kind: EventStorageReport, Time: now,
		StoredBlocks: 100, TotalBlocks: 100,
	}))
	ev := eligibleGeography(id, country, city)
	ev.ID = idAt(102)
	ev.Time = now
	require.NoError(t, e.ApplyEvent(ev))
}

func TestHandshakeBondRequiresDistinctCountriesAndEligibility(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()
	a := ids.NodeID{5}
	b := ids.NodeID{6}

	makeHandshakeEligible(t, e, a, "US", "sf", now)
	makeHandshakeEligible(t, e, b, "US", "ny", now)

	// Same country: the bond must be rejected even though both parties
	// individually clear the eligibility bar.
	err := e.ApplyEvent(Event{Participant: a, Kind: EventHandshakeBond, Time: now, BondPeer: b})
	require.ErrorIs(t, err, ErrHandshakeIneligible)

	c := ids.NodeID{7}
	makeHandshakeEligible(t, e, c, "DE", "berlin", now)
	require.NoError(t, e.ApplyEvent(Event{Participant: a, Kind: EventHandshakeBond, Time: now, BondPeer: c}))
}

func TestApplyEventIsIdempotentByIDAndParticipant(t *testing.T) {
	e := newTestEngine(t)
	id := ids.NodeID{42}
	now := time.Now().UTC()

	ev := Event{ID: idAt(1), Participant: id, Kind: EventUptimeHeartbeat, Time: now, UptimeDelta: 10 * time.Second}
	require.NoError(t, e.ApplyEvent(ev))
	once := e.Score(id, now)

	require.NoError(t, e.ApplyEvent(ev))
	require.Equal(t, once, e.Score(id, now))
	require.Equal(t, uint64(10), e.recs[id].uptimeSeconds)

	// A different event ID for the same participant still applies.
	require.NoError(t, e.ApplyEvent(Event{ID: idAt(2), Participant: id, Kind: EventUptimeHeartbeat, Time: now, UptimeDelta: 10 * time.Second}))
	require.Equal(t, uint64(20), e.recs[id].uptimeSeconds)
}

func TestReplayReconstructsEquivalentState(t *testing.T) {
	db, err := newTestStore(t)
	require.NoError(t, err)
	defer db.Close()

	id := ids.NodeID{8}
	now := time.Now().UTC()

	e1, err := NewEngine(db, nil)
	require.NoError(t, err)
	require.NoError(t, e1.ApplyEvent(Event{Participant: id, Kind: EventUptimeHeartbeat, Time: now, UptimeDelta: 90 * 24 * time.Hour}))
	require.NoError(t, e1.ApplyEvent(Event{Participant: id, Kind: EventBlockProduced, Time: now}))
	want := e1.Score(id, now)

	e2, err := NewEngine(db, nil)
	require.NoError(t, err)
	require.NoError(t, e2.Replay())
	require.InDelta(t, want, e2.Score(id, now), 1e-9)
}
