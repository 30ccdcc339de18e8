// Package webhook turns GitHub Actions workflow_job webhook deliveries into
// backend.Commands: a "queued" job starts an enclave, a "completed" job
// tears it down.
package webhook

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v62/github"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/backend"
	"github.com/linsm/attestable-builds/internal/metrics"
)

// Server receives GitHub webhook deliveries and forwards workflow_job
// events onto a backend.Command channel.
type Server struct {
	Commands chan<- backend.Command
	Secret   []byte // HMAC secret from the GitHub webhook configuration; nil disables verification
	Log      *logrus.Entry
}

// Router builds the chi router. Deliberately minimal: this pipeline's job
// is translating one webhook shape into one command channel, not general
// HTTP routing.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleHealth)
	r.Post("/", s.handleEvent)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := s.validatePayload(r)
	if err != nil {
		s.Log.WithError(err).Warn("webhook: rejected delivery")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, "unrecognized event", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.PingEvent:
		w.WriteHeader(http.StatusOK)
	case *github.WorkflowJobEvent:
		s.handleWorkflowJob(e)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) validatePayload(r *http.Request) ([]byte, error) {
	if len(s.Secret) == 0 {
		return io.ReadAll(r.Body)
	}
	return github.ValidatePayload(r, s.Secret)
}

func (s *Server) handleWorkflowJob(e *github.WorkflowJobEvent) {
	if e.GetWorkflowJob() == nil {
		return
	}
	runID := uint32(e.GetWorkflowJob().GetRunID())

	switch e.GetAction() {
	case "queued":
		s.send(backend.Command{Kind: backend.Start, RunID: runID})
	case "completed":
		s.send(backend.Command{Kind: backend.Stop, RunID: runID})
	}
}

func (s *Server) send(cmd backend.Command) {
	select {
	case s.Commands <- cmd:
	default:
		s.Log.WithField("run_id", cmd.RunID).Warn("webhook: command channel full, dropping command")
	}
}
