package message

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want Message
	}{
		{
			name: "heartbeat",
			body: `{"specversion":"1.0","type":"filewriter.status","id":"e1","data":{"jobId":"job-1","updateIntervalMs":1500}}`,
			want: Heartbeat{ID: "job-1", UpdateIntervalMs: 1500},
		},
		{
			name: "start ack failure",
			body: `{"specversion":"1.0","type":"filewriter.ack","id":"e2","data":{"jobId":"job-1","action":"StartJob","success":false,"code":3,"message":"topic missing"}}`,
			want: CommandAck{ID: "job-1", Action: ActionStartJob, Code: 3, Message: "topic missing"},
		},
		{
			name: "stop confirmed with error",
			body: `{"specversion":"1.0","type":"filewriter.stopped","id":"e3","data":{"jobId":"job-1","error":true}}`,
			want: StopConfirmed{ID: "job-1", Error: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"not json", `garbage`},
		{"unknown type", `{"specversion":"1.0","type":"other","id":"1","data":{"jobId":"x"}}`},
		{"missing job id", `{"specversion":"1.0","type":"filewriter.status","id":"1","data":{}}`},
		{"bad action", `{"specversion":"1.0","type":"filewriter.ack","id":"1","data":{"jobId":"x","action":"Pause"}}`},
		{"no data", `{"specversion":"1.0","type":"filewriter.stopped","id":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte(`{"specversion":"1.0","type":"other","id":"1"}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()
	in := CommandAck{ID: "job-9", Action: ActionSetStopTime, Success: true}

	ev, err := Encode("writer-sim", in)
	require.NoError(t, err)
	assert.Equal(t, TypeCommandAck, ev.Type)
	assert.Equal(t, "job-9", ev.Subject)

	out, err := FromEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHeartbeat_UpdateInterval(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2*time.Second, Heartbeat{UpdateIntervalMs: 2000}.UpdateInterval())
	assert.Zero(t, Heartbeat{}.UpdateInterval())
}
