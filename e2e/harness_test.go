//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"writerctl/internal/api"
	"writerctl/internal/bus"
	"writerctl/internal/commander"
	"writerctl/internal/config"
	"writerctl/internal/controller"
	"writerctl/internal/dispatcher"
	"writerctl/internal/health"
	"writerctl/internal/monitor"
	"writerctl/internal/registry"
	"writerctl/internal/scan"
	"writerctl/internal/simwriter"
	"writerctl/internal/structure"
)

const statusTopic = "filewriter_status"

// stack is the whole service wired the way `writerctl serve` wires it,
// talking to a simulated file writer over real HTTP.
type stack struct {
	url    string
	writer *simwriter.Writer
	reg    *registry.Registry
}

type stackOptions struct {
	callbackURL    string
	oneFilePerScan bool
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	// The API listener exists before the simulator so it knows where to report.
	apiSrv := httptest.NewUnstartedServer(nil)
	apiURL := "http://" + apiSrv.Listener.Addr().String()

	writer := simwriter.New(simwriter.Config{
		IngressURL:        apiURL + "/internal/events?topic=" + statusTopic,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	writerSrv := httptest.NewServer(writer.Handler())

	statusBus := bus.NewMemory(bus.Config{})
	sub, err := statusBus.Subscribe("filewriter_*")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	reg := registry.New(registry.Config{
		AckTimeout:            300 * time.Millisecond,
		DefaultUpdateInterval: 100 * time.Millisecond,
		RetiredRetention:      time.Minute,
	})
	mon := monitor.New(reg, monitor.Config{NoMessageTick: 20 * time.Millisecond}, nil)

	namer, err := structure.ParseFilename(config.DefaultFilenameTemplate)
	if err != nil {
		t.Fatalf("ParseFilename() error = %v", err)
	}
	cmd := commander.New(commander.Config{URL: writerSrv.URL, Timeout: 2 * time.Second}, nil)
	ctrl := controller.New(reg, cmd, nil, namer, controller.Config{PollInterval: 10 * time.Millisecond}, nil)

	notifications := dispatcher.NewMemory(dispatcher.MemoryConfig{BufferSize: 100, Workers: 1}, nil)
	notifier := dispatcher.NewStatusNotifier(notifications, opts.callbackURL, "")
	mon.OnStatusChange(func(st monitor.Status) {
		notifier.Notify(string(st.Level), st.Message, nil)
	})

	apiSrv.Config.Handler = api.NewRouter(api.RouterConfig{
		Jobs:          ctrl,
		Scan:          scan.New(ctrl, scan.Config{OneFilePerScan: opts.oneFilePerScan}),
		Status:        mon,
		HealthChecker: health.NewChecker(cmd, mon),
		Ingress:       api.Ingress{Publisher: statusBus, DefaultTopic: statusTopic},
	})
	apiSrv.Start()

	done := make(chan struct{}, 2)
	go func() { _ = mon.Run(ctx, sub); done <- struct{}{} }()
	go func() { _ = mon.RunTicker(ctx); done <- struct{}{} }()

	t.Cleanup(func() {
		writer.Close()
		writerSrv.Close()
		apiSrv.Close()
		cancel()
		statusBus.Close()
		<-done
		<-done
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = notifications.Close(closeCtx)
	})

	return &stack{url: apiURL, writer: writer, reg: reg}
}

func (s *stack) do(t *testing.T, method, path string, in, out any) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.url+path, body)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) status(t *testing.T) string {
	t.Helper()
	var st monitor.Status
	s.do(t, http.MethodGet, "/v1/status", nil, &st)
	return st.String()
}

func (s *stack) jobState(id string) string {
	job, ok := s.reg.Get(id)
	if !ok {
		return "gone"
	}
	return job.State.String()
}
