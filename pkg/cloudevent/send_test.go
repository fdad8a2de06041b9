package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      *HTTPError
		expected string
	}{
		{&HTTPError{StatusCode: 400}, "HTTP 400"},
		{&HTTPError{StatusCode: 409, Body: "busy"}, "HTTP 409: busy"},
		{&HTTPError{StatusCode: 503}, "HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			if tt.err.Error() != tt.expected {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.expected)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"499 boundary", &HTTPError{StatusCode: 499}, true},
		{"wrapped 404", fmt.Errorf("start: %w", &HTTPError{StatusCode: 404}), true},
		{"500", &HTTPError{StatusCode: 500}, false},
		{"399", &HTTPError{StatusCode: 399}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"jobId":"abc"}`)

	signature := generateSignature(payload, "secret-key")
	if len(signature) != len("sha256=")+64 || signature[:7] != "sha256=" {
		t.Fatalf("unexpected signature format %q", signature)
	}
	if !Verify(payload, signature, "secret-key") {
		t.Error("signature should verify with the same key")
	}
	if Verify(payload, signature, "other-key") {
		t.Error("signature should not verify with a different key")
	}
}

func TestSend_DecodesReply(t *testing.T) {
	t.Parallel()
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Ce-Type")
		body, _ := io.ReadAll(r.Body)
		ev, err := Parse(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var data map[string]string
		_ = ev.DecodeData(&data)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": data["jobId"] + "-remote"})
	}))
	defer srv.Close()

	ev, err := New("filewriter.command.start", "writerctl", "", map[string]string{"jobId": "job-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var reply struct {
		JobID string `json:"jobId"`
	}
	if err := NewSender(time.Second).Send(context.Background(), srv.URL, ev, SendOptions{Reply: &reply}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotType != "filewriter.command.start" {
		t.Errorf("Ce-Type = %q", gotType)
	}
	if reply.JobID != "job-1-remote" {
		t.Errorf("reply.JobID = %q, want job-1-remote", reply.JobID)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer srv.Close()

	ev, _ := New("filewriter.command.stop", "writerctl", "job-1", map[string]string{"jobId": "job-1"})
	err := NewSender(time.Second).Send(context.Background(), srv.URL, ev, SendOptions{})
	if !IsClientError(err) {
		t.Fatalf("expected client error, got %v", err)
	}
	if err.Error() != "HTTP 404: no such job" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"specversion":"1.0","type":"filewriter.status","id":"1","data":{}}`, false},
		{"bad json", `{`, true},
		{"wrong version", `{"specversion":"0.3","type":"x","id":"1"}`, true},
		{"missing type", `{"specversion":"1.0","id":"1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
