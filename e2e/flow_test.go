//go:build e2e

package e2e

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"writerctl/internal/api"
	"writerctl/internal/controller"
	"writerctl/internal/message"
	"writerctl/internal/scan"
	"writerctl/internal/simwriter"
	"writerctl/internal/testutil"
	"writerctl/pkg/cloudevent"
)

var wait = []testutil.WaitOption{testutil.WithTimeout(5 * time.Second), testutil.WithInterval(10 * time.Millisecond)}

func TestFlow_StartAndStop(t *testing.T) {
	s := newStack(t, stackOptions{})

	if got := s.status(t); got != "OK" {
		t.Fatalf("initial status = %q, want OK", got)
	}

	var started controller.StartResult
	if code := s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 7}, &started); code != http.StatusCreated {
		t.Fatalf("start status = %d, want %d", code, http.StatusCreated)
	}
	if started.JobID == "" || started.Warning != "" {
		t.Fatalf("unexpected start result %+v", started)
	}
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "BUSY: writing 1 jobs", wait...)

	job, _ := s.reg.Get(started.JobID)
	if job.Filename != "data_00000007.nxs" {
		t.Errorf("filename = %q, want data_00000007.nxs", job.Filename)
	}

	var stopped controller.StopResult
	if code := s.do(t, http.MethodDelete, "/v1/jobs", nil, &stopped); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if stopped.JobID != started.JobID || stopped.Warning != "" {
		t.Fatalf("unexpected stop result %+v", stopped)
	}
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_BusyAndConcurrentOverride(t *testing.T) {
	s := newStack(t, stackOptions{})

	var first controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &first)

	if code := s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 2}, nil); code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", code, http.StatusConflict)
	}

	var second controller.StartResult
	if code := s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 2, AllowConcurrent: true}, &second); code != http.StatusCreated {
		t.Fatalf("override start status = %d", code)
	}
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "BUSY: writing 2 jobs", wait...)

	if code := s.do(t, http.MethodDelete, "/v1/jobs", nil, nil); code != http.StatusConflict {
		t.Errorf("stop without id status = %d, want %d", code, http.StatusConflict)
	}

	var list api.JobList
	s.do(t, http.MethodGet, "/v1/jobs", nil, &list)
	if len(list.Active) != 2 {
		t.Errorf("active = %v, want 2 jobs", list.Active)
	}

	s.do(t, http.MethodDelete, "/v1/jobs/"+first.JobID, nil, nil)
	s.do(t, http.MethodDelete, "/v1/jobs/"+second.JobID, nil, nil)
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_RejectedStart(t *testing.T) {
	s := newStack(t, stackOptions{})
	s.writer.SetKnobs(simwriter.Knobs{RejectStarts: true})

	var res controller.StartResult
	if code := s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &res); code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	if res.JobID == "" || !strings.Contains(res.Warning, "rejected") {
		t.Errorf("unexpected result %+v", res)
	}
	if got := s.jobState(res.JobID); got != "gone" {
		t.Errorf("rejected job state = %s, want gone", got)
	}
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_LostJobStaysTracked(t *testing.T) {
	s := newStack(t, stackOptions{})

	var res controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &res)
	s.writer.SetKnobs(simwriter.Knobs{Silent: true})

	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "ERROR: lost job(s) - see logs", wait...)
	if got := s.jobState(res.JobID); got != "lost" {
		t.Errorf("job state = %s, want lost", got)
	}

	// Heartbeats resuming do not revive it; the stop confirmation still retires it.
	s.writer.SetKnobs(simwriter.Knobs{})
	var stopped controller.StopResult
	s.do(t, http.MethodDelete, "/v1/jobs/"+res.JobID, nil, &stopped)
	testutil.MustWaitForValue(t, func() string { return s.jobState(res.JobID) }, "gone", wait...)
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_RefusedStopTime(t *testing.T) {
	s := newStack(t, stackOptions{})

	var res controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &res)
	s.writer.SetKnobs(simwriter.Knobs{FailStopAcks: true})

	var stopped controller.StopResult
	if code := s.do(t, http.MethodDelete, "/v1/jobs/"+res.JobID, nil, &stopped); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if !strings.Contains(stopped.Warning, "refused") {
		t.Errorf("expected a refusal warning, got %q", stopped.Warning)
	}
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "ERROR: file writer refused stop time - see logs", wait...)
	if got := s.jobState(res.JobID); got != "active" {
		t.Errorf("job state = %s, want active", got)
	}

	s.writer.SetKnobs(simwriter.Knobs{})
	s.do(t, http.MethodDelete, "/v1/jobs/"+res.JobID, nil, &stopped)
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_StopWithErrorFlag(t *testing.T) {
	s := newStack(t, stackOptions{})
	s.writer.SetKnobs(simwriter.Knobs{StopWithError: true})

	var res controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &res)
	s.do(t, http.MethodDelete, "/v1/jobs/"+res.JobID, nil, nil)

	testutil.MustWaitForValue(t, func() string { return s.jobState(res.JobID) }, "gone", wait...)
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_ScanOneFilePerScan(t *testing.T) {
	s := newStack(t, stackOptions{oneFilePerScan: true})

	for i := range 3 {
		ds := scan.Dataset{Counter: 20, PointIndex: i, PointCount: 3}
		var begin, end scan.Outcome
		if code := s.do(t, http.MethodPost, "/v1/datasets/begin", ds, &begin); code != http.StatusOK {
			t.Fatalf("begin %d status = %d", i, code)
		}
		if code := s.do(t, http.MethodPost, "/v1/datasets/end", ds, &end); code != http.StatusOK {
			t.Fatalf("end %d status = %d", i, code)
		}
		wantBegin, wantEnd := "none", "none"
		if i == 0 {
			wantBegin = "start"
		}
		if i == 2 {
			wantEnd = "stop"
		}
		if begin.Action != wantBegin || end.Action != wantEnd {
			t.Errorf("point %d: begin=%s end=%s, want %s/%s", i, begin.Action, end.Action, wantBegin, wantEnd)
		}
	}

	testutil.MustWaitFor(t, func() bool {
		return s.writer.Sent(message.TypeStopConfirmed) == 1
	}, wait...)
	testutil.MustWaitForValue(t, func() string { return s.status(t) }, "OK", wait...)
}

func TestFlow_ScanUnderManualJob(t *testing.T) {
	s := newStack(t, stackOptions{oneFilePerScan: true})

	var manual controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &manual)

	for i := range 2 {
		ds := scan.Dataset{Counter: 30, PointIndex: i, PointCount: 2}
		var out scan.Outcome
		s.do(t, http.MethodPost, "/v1/datasets/begin", ds, &out)
		if out.Action != "none" {
			t.Errorf("point %d begin action = %s, want none", i, out.Action)
		}
		s.do(t, http.MethodPost, "/v1/datasets/end", ds, &out)
		if out.Action != "none" {
			t.Errorf("point %d end action = %s, want none", i, out.Action)
		}
	}

	if got := s.jobState(manual.JobID); got != "active" {
		t.Errorf("manual job state = %s, want active", got)
	}
}

func TestFlow_StatusCallbacks(t *testing.T) {
	var mu sync.Mutex
	var levels []string
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ev, err := cloudevent.Parse(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		levels = append(levels, ev.Subject)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	s := newStack(t, stackOptions{callbackURL: callback.URL})

	var res controller.StartResult
	s.do(t, http.MethodPost, "/v1/jobs", controller.StartRequest{Counter: 1}, &res)
	s.do(t, http.MethodDelete, "/v1/jobs/"+res.JobID, nil, nil)

	testutil.MustWaitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) >= 2 && levels[len(levels)-1] == "OK"
	}, wait...)
	mu.Lock()
	defer mu.Unlock()
	if !containsString(levels, "BUSY") {
		t.Errorf("callbacks = %v, expected a BUSY notification", levels)
	}
}

func TestFlow_Readyz(t *testing.T) {
	s := newStack(t, stackOptions{})

	if code := s.do(t, http.MethodGet, "/readyz", nil, nil); code != http.StatusOK {
		t.Errorf("readyz = %d, want %d", code, http.StatusOK)
	}
	if code := s.do(t, http.MethodGet, "/livez", nil, nil); code != http.StatusOK {
		t.Errorf("livez = %d, want %d", code, http.StatusOK)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
