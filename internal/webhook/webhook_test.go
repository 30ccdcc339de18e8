package webhook

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/backend"
)

func TestHandleEventPing(t *testing.T) {
	commands := make(chan backend.Command, 1)
	s := &Server{Commands: commands, Log: logrus.NewEntry(logrus.New())}

	body := []byte(`{"zen": "hello", "hook_id": 1}`)
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	select {
	case cmd := <-commands:
		t.Errorf("ping should not enqueue a command, got %+v", cmd)
	default:
	}
}

func TestHandleEventWorkflowJobQueued(t *testing.T) {
	commands := make(chan backend.Command, 1)
	s := &Server{Commands: commands, Log: logrus.NewEntry(logrus.New())}

	body := []byte(`{
		"action": "queued",
		"workflow_job": {"id": 1, "run_id": 7},
		"repository": {"id": 1, "full_name": "acme/widgets"}
	}`)
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case cmd := <-commands:
		if cmd.Kind != backend.Start || cmd.RunID != 7 {
			t.Errorf("cmd = %+v, want Start{RunID: 7}", cmd)
		}
	default:
		t.Fatal("expected a command to be enqueued")
	}
}

func TestHandleEventWorkflowJobCompleted(t *testing.T) {
	commands := make(chan backend.Command, 1)
	s := &Server{Commands: commands, Log: logrus.NewEntry(logrus.New())}

	body := []byte(`{
		"action": "completed",
		"workflow_job": {"id": 1, "run_id": 7},
		"repository": {"id": 1, "full_name": "acme/widgets"}
	}`)
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "workflow_job")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	select {
	case cmd := <-commands:
		if cmd.Kind != backend.Stop || cmd.RunID != 7 {
			t.Errorf("cmd = %+v, want Stop{RunID: 7}", cmd)
		}
	default:
		t.Fatal("expected a command to be enqueued")
	}
}
