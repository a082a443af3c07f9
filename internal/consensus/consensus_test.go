package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/dagstore"
	"github.com/tempusnet/tempus/internal/ids"
	"github.com/tempusnet/tempus/internal/reputation"
)

func TestWinsLotteryIsDeterministic(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)

	seed := SlotSeed(ids.Empty, 42)
	won1, out1, _, err := EvaluateSelf(sk, seed, ScaleScore(1.0), ScaleScore(1.0))
	require.NoError(t, err)
	won2, out2, _, err := EvaluateSelf(sk, seed, ScaleScore(1.0), ScaleScore(1.0))
	require.NoError(t, err)

	require.Equal(t, out1, out2)
	require.Equal(t, won1, won2)
	require.True(t, won1, "sole participant at full weight must always win")
}

func TestWinsLotteryNeverWinsWithZeroWeight(t *testing.T) {
	var out [32]byte
	require.False(t, WinsLottery(out, 0, ScaleScore(1.0)))
	require.False(t, WinsLottery(out, ScaleScore(1.0), 0))
}

func TestProbationMultiplierRisesLinearlyTo180Days(t *testing.T) {
	require.InDelta(t, 0.10, ProbationMultiplier(0), 1e-9)
	require.InDelta(t, 1.0, ProbationMultiplier(ProbationDuration), 1e-9)
	require.InDelta(t, 0.55, ProbationMultiplier(ProbationDuration/2), 1e-9)
	require.InDelta(t, 1.0, ProbationMultiplier(ProbationDuration*2), 1e-9)
}

func TestInfluxSafeguardTightensOnSpike(t *testing.T) {
	tracker := NewInfluxTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tracker.RecordWindow(10, base.Add(time.Duration(i)*time.Minute))
	}
	require.False(t, tracker.Tightened(base.Add(10*time.Minute)))

	spikeAt := base.Add(11 * time.Minute)
	tracker.RecordWindow(25, spikeAt) // > 2x the trailing median of 10
	require.True(t, tracker.Tightened(spikeAt.Add(time.Second)))

	require.Equal(t, InfluxProbationFloor, EligibilityMultiplier(10*24*time.Hour, true))
	require.Equal(t, 1.0, EligibilityMultiplier(200*24*time.Hour, true))
}

func newTestFinalityEngine(t *testing.T) (*dagstore.Store, *FinalityEngine) {
	t.Helper()
	dag, err := dagstore.New(nil, 60*time.Second, 0, nil)
	require.NoError(t, err)
	return dag, NewFinalityEngine(dag, dagstore.DefaultPhantomK)
}

func TestEmitCheckpointChainsToPrevious(t *testing.T) {
	_, engine := newTestFinalityEngine(t)
	boundary := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	cp1, err := engine.EmitCheckpoint(boundary, 1, nil)
	require.NoError(t, err)
	require.Equal(t, Genesis(), cp1.PrevCheckpointHash)
	engine.Accept(cp1)

	cp2, err := engine.EmitCheckpoint(boundary.Add(time.Minute), 2, nil)
	require.NoError(t, err)
	require.Equal(t, cp1.Hash(), cp2.PrevCheckpointHash)
}

func TestFinalityLevelAdvancesAsCheckpointsAccumulate(t *testing.T) {
	_, engine := newTestFinalityEngine(t)
	boundary := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	var hashes []ids.ID
	for i := uint64(1); i <= 4; i++ {
		cp, err := engine.EmitCheckpoint(boundary.Add(time.Duration(i)*time.Minute), i, nil)
		require.NoError(t, err)
		engine.Accept(cp)
		hashes = append(hashes, cp.Hash())
	}

	require.Equal(t, FinalityHard, engine.Level(hashes[0]))
	require.Equal(t, FinalityHard, engine.Level(hashes[1]))
	require.Equal(t, FinalityMedium, engine.Level(hashes[2]))
	require.Equal(t, FinalitySoft, engine.Level(hashes[3]))
	require.Equal(t, hashes[1], engine.HardFinalized())
}

func TestChooseCheckpointPrefersMoreHeartbeatsThenSmallerHash(t *testing.T) {
	a := &Checkpoint{Window: 1, HeartbeatCount: 5, BlockRoot: ids.ID{1}}
	b := &Checkpoint{Window: 1, HeartbeatCount: 9, BlockRoot: ids.ID{2}}
	require.Equal(t, b, ChooseCheckpoint(a, b))
	require.Equal(t, b, ChooseCheckpoint(b, a))

	tie1 := &Checkpoint{Window: 1, HeartbeatCount: 5, BlockRoot: ids.ID{1}}
	tie2 := &Checkpoint{Window: 1, HeartbeatCount: 5, BlockRoot: ids.ID{2}}
	winner := ChooseCheckpoint(tie1, tie2)
	require.True(t, winner.Hash().Less(tie1.Hash()) || winner.Hash() == tie1.Hash())
}

func TestForkChoiceRejectsReorgBelowHardFinality(t *testing.T) {
	_, engine := newTestFinalityEngine(t)
	fc := NewForkChoice(engine)
	boundary := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	var last *Checkpoint
	for i := uint64(1); i <= 3; i++ {
		cp, err := engine.EmitCheckpoint(boundary.Add(time.Duration(i)*time.Minute), i, nil)
		require.NoError(t, err)
		engine.Accept(cp)
		last = cp
	}
	require.NotNil(t, last)

	// A candidate claiming to extend the genesis directly, after three
	// checkpoints have already hard-finalized, is an illegal deep reorg.
	rogue := &Checkpoint{Window: 4, PrevCheckpointHash: Genesis(), HeartbeatCount: 100}
	fc.Submit(rogue)
	_, err := fc.Resolve(4)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindReorgLimitExceeded, cerr.Kind)
}

func TestStateMachineLifecycleAndEquivocationQuarantine(t *testing.T) {
	repo, err := reputation.NewEngine(nil, nil)
	require.NoError(t, err)
	sm := NewStateMachine(repo)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	participant := ids.NodeID{7}

	sm.Register(participant, now)
	require.Equal(t, StateProbationary, sm.State(participant, now))

	later := now.Add(ProbationDuration + time.Hour)
	sm.Heartbeat(participant, 1, later)
	require.Equal(t, StateActive, sm.State(participant, later))

	sm.MissedWindow(participant, later)
	sm.MissedWindow(participant, later)
	sm.MissedWindow(participant, later)
	require.Equal(t, StateOffline, sm.State(participant, later))

	sm.Heartbeat(participant, 2, later)
	require.Equal(t, StateActive, sm.State(participant, later))

	onEquiv := sm.OnEquivocation(later)
	onEquiv(participant, 100, ids.ID{1}, ids.ID{2})
	require.Equal(t, StateQuarantined, sm.State(participant, later))
	require.False(t, sm.Eligible(participant, later))

	afterQuarantine := later.Add(QuarantineDuration + time.Hour)
	require.Equal(t, StateActive, sm.State(participant, afterQuarantine))
}
