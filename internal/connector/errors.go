package connector

import (
	"encoding/json"
	"errors"
)

const (
	CancelledByUser   = "Forcefully cancelled by user"
	UnexpectedFailure = "SOMETHING_UNEXPECTED_HAPPENED"
)

var (
	ErrHostUnavailable      = errors.New("browser host is not available")
	ErrUnsupportedTransport = errors.New("un-supported transport protocol")
	ErrNoActiveTab          = errors.New("something wrong with browser tabs")
	ErrPortNotReady         = errors.New("extension port is not ready")
	ErrDisposed             = errors.New("bridge is disposed")
)

// ReplyError is a failure reported by the target page.
type ReplyError struct {
	Action  string
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

// IsCancelled reports whether err is the failure synthesized when the target
// page went away before replying.
func IsCancelled(err error) bool {
	var replyErr *ReplyError
	return errors.As(err, &replyErr) && replyErr.Message == CancelledByUser
}

// PrepareError extracts the error of a failure payload. A string is
// returned as is, any other truthy value as its JSON text.
func PrepareError(payload json.RawMessage) string {
	var p struct {
		Error json.RawMessage `json:"error"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &p) != nil || len(p.Error) == 0 {
		return UnexpectedFailure
	}
	var s string
	if json.Unmarshal(p.Error, &s) == nil {
		if s == "" {
			return UnexpectedFailure
		}
		return s
	}
	switch string(p.Error) {
	case "null", "false", "0":
		return UnexpectedFailure
	}
	return string(p.Error)
}

var cancelledPayload = mustMarshal(map[string]string{"error": CancelledByUser})

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
