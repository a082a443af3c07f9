package temporal

import (
	"testing"
	"time"
)

func TestProveVerifyRoundTrip(t *testing.T) {
	input := []byte("genesis-checkpoint-seed||slot-7")
	const iterations = 1000
	const k = 100

	output, proof, err := Prove(input, iterations, k)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	ok, err := Verify(input, output, iterations, proof, 5)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected correct proof to verify")
	}
}

func TestProveIsDeterministic(t *testing.T) {
	input := []byte("fixed-input")
	out1, _, err := Prove(input, 500, 50)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	out2, _, err := Prove(input, 500, 50)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if out1 != out2 {
		t.Fatal("expected Prove(input, T) to be deterministic")
	}
}

func TestVerifyRejectsPerturbedOutput(t *testing.T) {
	input := []byte("fixed-input")
	const iterations = 500
	const k = 50
	output, proof, err := Prove(input, iterations, k)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}

	perturbed := output
	perturbed[0] ^= 0x01

	ok, err := Verify(input, perturbed, iterations, proof, len(proof.Checkpoints))
	if err == nil && ok {
		t.Fatal("expected verification of a perturbed output to fail")
	}
}

func TestVerifyRejectsPerturbedCheckpoint(t *testing.T) {
	input := []byte("fixed-input")
	const iterations = 1000
	const k = 50
	output, proof, err := Prove(input, iterations, k)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	// Flip a bit in an interior checkpoint and sample every segment so
	// the corruption is guaranteed to be checked.
	proof.Checkpoints[3][0] ^= 0x01

	ok, _ := Verify(input, output, iterations, proof, len(proof.Checkpoints))
	if ok {
		t.Fatal("expected verification to fail when an interior checkpoint is corrupted and fully sampled")
	}
}

func TestVerifyRejectsWrongIterationCount(t *testing.T) {
	input := []byte("fixed-input")
	output, proof, err := Prove(input, 1000, 100)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	ok, err := Verify(input, output, 1001, proof, 5)
	if ok || err == nil {
		t.Fatal("expected verification to fail when declared T doesn't match the proof")
	}
}

func TestBoundaryClockWindowArithmetic(t *testing.T) {
	c := NewBoundaryClock(60*time.Second, 5*time.Second)
	c.Set(time.Unix(125, 0))
	if w := c.CurrentWindow(); w != 2 {
		t.Fatalf("expected window 2 at t=125s with interval 60s, got %d", w)
	}
	boundary := c.BoundaryOf(2)
	if boundary.Unix() != 180 {
		t.Fatalf("expected boundary of window 2 to be t=180s, got %d", boundary.Unix())
	}
}

func TestCheckTimestampToleranceBoundary(t *testing.T) {
	c := NewBoundaryClock(60*time.Second, 5*time.Second)
	now := time.Unix(1_000_000, 0)
	c.Set(now)

	withinTolerance := now.Add(5 * time.Second)
	if err := c.CheckTimestamp(withinTolerance); err != nil {
		t.Fatalf("expected timestamp exactly at tolerance to be admissible, got %v", err)
	}

	outsideTolerance := now.Add(5*time.Second + time.Nanosecond)
	if err := c.CheckTimestamp(outsideTolerance); err == nil {
		t.Fatal("expected timestamp one nanosecond beyond tolerance to be rejected")
	}
}

func TestAdmitProofWindow(t *testing.T) {
	c := NewBoundaryClock(60*time.Second, 5*time.Second)
	c.Set(time.Unix(600, 0)) // window 10

	if err := c.AdmitProofWindow(10); err != nil {
		t.Fatalf("expected current window to be admissible: %v", err)
	}
	if err := c.AdmitProofWindow(9); err != nil {
		t.Fatalf("expected the just-closed window to still be admissible: %v", err)
	}
	if err := c.AdmitProofWindow(11); err == nil {
		t.Fatal("expected a future window to be rejected")
	}
	if err := c.AdmitProofWindow(5); err == nil {
		t.Fatal("expected a long-past window to be rejected")
	}
}
