package models

import (
	"encoding/json"
	"time"
)

type ConnectionType string

const (
	ConnectionTypeWebAuthn ConnectionType = "webauthn"
	ConnectionTypeU2F      ConnectionType = "u2f"
	ConnectionTypeWebUSB   ConnectionType = "webusb"
)

// Request is the message posted to the target page.
type Request struct {
	Target    string          `json:"target"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	Serial    string          `json:"serial,omitempty"`
	Extension string          `json:"extension,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Reply is the message the target page sends back. Pages speaking the
// first protocol revision leave RequestID empty.
type Reply struct {
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type Sender struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Handshake is the first frame a target page sends after opening its port.
type Handshake struct {
	Name   string `json:"name"`
	Sender Sender `json:"sender"`
}

type JournalKind string

const (
	JournalRequest JournalKind = "request"
	JournalReply   JournalKind = "reply"
	JournalCancel  JournalKind = "cancel"
	JournalIgnored JournalKind = "ignored"
)

// JournalEntry is one audit record of a bridge exchange. Payloads are
// never recorded.
type JournalEntry struct {
	EventId   int64       `json:"event_id"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
	Action    string      `json:"action"`
	Kind      JournalKind `json:"kind"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Time      time.Time   `json:"time"`
}
