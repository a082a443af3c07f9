package dagstore

import "errors"

// Kind classifies a dagstore error. It overlaps spec.md §7's
// StorageError taxonomy (Corruption, NotFound, WriteFailed) and adds
// the two outcomes specific to block insertion: a block already
// present (idempotent re-insert, spec.md §8) and a block whose parents
// are not yet known (queued in the orphan cache rather than rejected).
type Kind int

const (
	KindNotFound Kind = iota
	KindCorruption
	KindWriteFailed
	KindAlreadyKnown
	KindOrphan
	KindOrphanCacheFull
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindCorruption:
		return "Corruption"
	case KindWriteFailed:
		return "WriteFailed"
	case KindAlreadyKnown:
		return "AlreadyKnown"
	case KindOrphan:
		return "OrphanBlock"
	case KindOrphanCacheFull:
		return "OrphanCacheFull"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "dagstore: " + e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "dagstore: " + e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

var (
	ErrNotFound        = errors.New("block not found")
	ErrAlreadyKnown    = errors.New("block already known")
	ErrOrphan          = errors.New("parent not yet known, queued as orphan")
	ErrOrphanCacheFull = errors.New("orphan cache is full")
)

// IsAlreadyKnown reports whether err is the idempotent re-insert
// outcome spec.md §8 requires: "the second insert returns AlreadyKnown".
func IsAlreadyKnown(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindAlreadyKnown
}

// IsOrphan reports whether err means the block was queued pending its
// parents rather than rejected.
func IsOrphan(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindOrphan
}
