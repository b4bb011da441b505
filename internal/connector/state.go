package connector

type State int

const (
	StateUninitialized State = iota
	StateTargetOpening
	StateAwaitingConnection
	StateReady
	StateRequestPending
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateTargetOpening:
		return "TARGET_OPENING"
	case StateAwaitingConnection:
		return "AWAITING_CONNECTION"
	case StateReady:
		return "READY"
	case StateRequestPending:
		return "REQUEST_PENDING"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
