package crypto

import "github.com/tempusnet/tempus/internal/ids"

// CommitmentRandomnessLen is the recommended length of the randomness
// passed to Commit; shorter values weaken hiding but are still
// accepted by CommitVerify.
const CommitmentRandomnessLen = 32

// Commit produces a hiding, binding commitment to msg using randomness
// r: commitment = Hash(r ‖ msg), per spec.md §4.1.
func Commit(msg, r []byte) ids.ID {
	return Hash(r, msg)
}

// CommitVerify checks that commitment opens to msg under randomness r.
func CommitVerify(commitment ids.ID, msg, r []byte) bool {
	return Commit(msg, r) == commitment
}

// NewCommitmentRandomness draws fresh randomness suitable for Commit.
func NewCommitmentRandomness() ([]byte, error) {
	r := make([]byte, CommitmentRandomnessLen)
	if err := rngFill(r); err != nil {
		return nil, newErr("NewCommitmentRandomness", KindInsufficientRandomness, err)
	}
	return r, nil
}
