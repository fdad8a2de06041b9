package simwriter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"writerctl/internal/apperrors"
	"writerctl/internal/commander"
	"writerctl/internal/controller"
	"writerctl/internal/message"
	"writerctl/pkg/cloudevent"
)

// collector is an ingress endpoint recording decoded writer messages.
type collector struct {
	mu       sync.Mutex
	messages []message.Message
	badSigs  int
	key      string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if c.key != "" && !cloudevent.Verify(body, r.Header.Get("X-Signature-256"), c.key) {
		c.mu.Lock()
		c.badSigs++
		c.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	msg, err := message.Decode(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (c *collector) acks(action message.Action) []message.CommandAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message.CommandAck
	for _, m := range c.messages {
		if ack, ok := m.(message.CommandAck); ok && ack.Action == action {
			out = append(out, ack)
		}
	}
	return out
}

func (c *collector) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.messages {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func (c *collector) stopped() []message.StopConfirmed {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message.StopConfirmed
	for _, m := range c.messages {
		if s, ok := m.(message.StopConfirmed); ok {
			out = append(out, s)
		}
	}
	return out
}

type harness struct {
	writer *Writer
	ingest *collector
	cmd    *commander.HTTP
}

func newHarness(t *testing.T, knobs Knobs, key string) *harness {
	t.Helper()
	ingest := &collector{key: key}
	ingress := httptest.NewServer(ingest)
	t.Cleanup(ingress.Close)

	w := New(Config{
		IngressURL:        ingress.URL,
		SigningKey:        key,
		HeartbeatInterval: 20 * time.Millisecond,
		Knobs:             knobs,
	})
	srv := httptest.NewServer(w.Handler())
	t.Cleanup(func() {
		srv.Close()
		w.Close()
	})

	return &harness{
		writer: w,
		ingest: ingest,
		cmd:    commander.New(commander.Config{URL: srv.URL, Timeout: time.Second}, nil),
	}
}

func start(t *testing.T, h *harness, id string) controller.StartReply {
	t.Helper()
	reply, err := h.cmd.RequestStart(context.Background(), controller.StartCommand{
		JobID:     id,
		Structure: "{}",
		Filename:  id + ".nxs",
		StartTime: time.Now(),
		Counter:   1,
	})
	require.NoError(t, err)
	return reply
}

func TestWriter_StartHeartbeatStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{}, "")

	reply := start(t, h, "job-1")
	assert.Equal(t, "job-1", reply.JobID)

	require.Eventually(t, func() bool {
		return len(h.ingest.acks(message.ActionStartJob)) == 1 && h.ingest.count("heartbeat") >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.ingest.acks(message.ActionStartJob)[0].Success)
	require.Len(t, h.writer.Jobs(), 1)
	assert.Equal(t, "job-1.nxs", h.writer.Jobs()[0].Filename)

	_, err := h.cmd.RequestStop(context.Background(), "job-1", time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.ingest.stopped()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	acks := h.ingest.acks(message.ActionSetStopTime)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
	assert.False(t, h.ingest.stopped()[0].Error)
	assert.Equal(t, "job-1.nxs", h.ingest.stopped()[0].Filename)
	assert.Empty(t, h.writer.Jobs())
	assert.Eventually(t, func() bool {
		return h.writer.Sent(message.TypeStopConfirmed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWriter_StopTimeInFuture(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{}, "")
	start(t, h, "job-1")

	_, err := h.cmd.RequestStop(context.Background(), "job-1", time.Now().Add(150*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.ingest.acks(message.ActionSetStopTime)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.ingest.stopped(), "file must stay open until the stop time")

	require.Eventually(t, func() bool {
		return len(h.ingest.stopped()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriter_RejectStarts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{RejectStarts: true}, "")

	start(t, h, "job-1")

	require.Eventually(t, func() bool {
		return len(h.ingest.acks(message.ActionStartJob)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ack := h.ingest.acks(message.ActionStartJob)[0]
	assert.False(t, ack.Success)
	assert.NotZero(t, ack.Code)
	assert.Empty(t, h.writer.Jobs())
	assert.Zero(t, h.ingest.count("heartbeat"))
}

func TestWriter_FailStopAcks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{FailStopAcks: true}, "")
	start(t, h, "job-1")

	_, err := h.cmd.RequestStop(context.Background(), "job-1", time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.ingest.acks(message.ActionSetStopTime)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.ingest.acks(message.ActionSetStopTime)[0].Success)
	assert.Len(t, h.writer.Jobs(), 1, "a refused stop leaves the file open")
	assert.Empty(t, h.ingest.stopped())
}

func TestWriter_StopWithError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{StopWithError: true}, "")
	start(t, h, "job-1")

	_, err := h.cmd.RequestStop(context.Background(), "job-1", time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.ingest.stopped()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.ingest.stopped()[0].Error)
	assert.NotEmpty(t, h.ingest.stopped()[0].Message)
}

func TestWriter_Silent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{}, "")
	start(t, h, "job-1")
	require.Eventually(t, func() bool {
		return h.ingest.count("heartbeat") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	h.writer.SetKnobs(Knobs{Silent: true})
	time.Sleep(30 * time.Millisecond)
	before := h.ingest.count("heartbeat")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, before, h.ingest.count("heartbeat"))
}

func TestWriter_StopUnknownJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{}, "")

	_, err := h.cmd.RequestStop(context.Background(), "missing", time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
}

func TestWriter_SignsEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Knobs{}, "secret")
	start(t, h, "job-1")

	require.Eventually(t, func() bool {
		return len(h.ingest.acks(message.ActionStartJob)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	h.ingest.mu.Lock()
	defer h.ingest.mu.Unlock()
	assert.Zero(t, h.ingest.badSigs)
}

func TestWriter_RejectsBadCommands(t *testing.T) {
	t.Parallel()
	w := New(Config{})
	defer w.Close()
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"not a cloudevent", "nope"},
		{"unknown type", `{"specversion":"1.0","type":"other","source":"t","id":"1","data":{}}`},
		{"start without id", `{"specversion":"1.0","type":"filewriter.command.start","source":"t","id":"1","data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+commander.CommandsPath, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "writer-sim", cfg.Source)
}
