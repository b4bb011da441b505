package connector

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareError(t *testing.T) {
	tests := []struct {
		name    string
		payload json.RawMessage
		want    string
	}{
		{name: "error field", payload: json.RawMessage(`{"error":"Device locked"}`), want: "Device locked"},
		{name: "empty error", payload: json.RawMessage(`{"error":""}`), want: UnexpectedFailure},
		{name: "no error field", payload: json.RawMessage(`{"code":5}`), want: UnexpectedFailure},
		{name: "null", payload: json.RawMessage(`null`), want: UnexpectedFailure},
		{name: "missing payload", payload: nil, want: UnexpectedFailure},
		{name: "not an object", payload: json.RawMessage(`"boom"`), want: UnexpectedFailure},
		{name: "object error", payload: json.RawMessage(`{"error":{"statusCode":27013}}`), want: `{"statusCode":27013}`},
		{name: "number error", payload: json.RawMessage(`{"error":27013}`), want: "27013"},
		{name: "null error", payload: json.RawMessage(`{"error":null}`), want: UnexpectedFailure},
		{name: "false error", payload: json.RawMessage(`{"error":false}`), want: UnexpectedFailure},
		{name: "zero error", payload: json.RawMessage(`{"error":0}`), want: UnexpectedFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrepareError(tt.payload))
		})
	}
}

func TestIsCancelled(t *testing.T) {
	cancelled := &ReplyError{Action: ActionGetVersion, Message: CancelledByUser}
	assert.True(t, IsCancelled(cancelled))
	assert.True(t, IsCancelled(fmt.Errorf("wrapped: %w", cancelled)))
	assert.False(t, IsCancelled(&ReplyError{Message: "Device locked"}))
	assert.False(t, IsCancelled(errors.New(CancelledByUser)))
	assert.False(t, IsCancelled(nil))
}
