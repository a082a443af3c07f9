package reputation

import "errors"

// Kind classifies a ReputationError per spec.md §7.
type Kind int

const (
	KindUnknownParticipant Kind = iota
	KindInvalidEvent
	KindQuarantined
	KindHandshakeIneligible
)

func (k Kind) String() string {
	switch k {
	case KindUnknownParticipant:
		return "UnknownParticipant"
	case KindInvalidEvent:
		return "InvalidEvent"
	case KindQuarantined:
		return "Quarantined"
	case KindHandshakeIneligible:
		return "HandshakeIneligible"
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
		return "reputation: " + e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "reputation: " + e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

var (
	ErrInvalidEvent        = errors.New("malformed reputation event")
	ErrHandshakeIneligible = errors.New("handshake bond requirements not met")
)
