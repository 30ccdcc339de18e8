// Package backend runs the enclave side of a job — either a local
// subprocess standing in for a real enclave, or a genuine AWS Nitro
// enclave — and feeds the resulting attestation into the transparency-log
// publisher.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/logpublish"
)

// CommandBufferSize bounds the backend command channel, matching the
// original host-server's CHANNEL_BUFFER_SIZE.
const CommandBufferSize = 10

// ErrAlreadyRunning is returned when Start is issued for a run_id that
// already has an active enclave. Unlike Stop, Start is not idempotent:
// silently ignoring a second Start could let two enclaves race to report
// measurements for what the transparency log will record as one build.
var ErrAlreadyRunning = errors.New("backend: run already active")

// Command is one instruction from the webhook (or a local simulation) to
// the backend scheduler loop.
type Command struct {
	Kind  CommandKind
	RunID uint32
}

// CommandKind discriminates Command.
type CommandKind int

const (
	Start CommandKind = iota
	Stop
)

// Service runs one backend's command loop: it owns the map of active
// run_ids to whatever per-job state that backend needs, and forwards
// completed builds to a log publisher.
type Service interface {
	Run(ctx context.Context, commands <-chan Command) error
}

// jobs is a small helper embedded in each Service implementation to track
// active run_ids uniformly and enforce ErrAlreadyRunning.
type jobs struct {
	mu     sync.Mutex
	active map[uint32]context.CancelFunc
}

func newJobs() *jobs {
	return &jobs{active: make(map[uint32]context.CancelFunc)}
}

// start records runID as active and returns a session id: a fresh UUID
// correlating the log lines this run produces in the backend, its enclave
// session, and its hand-off to the log publisher, since run_id alone
// repeats across retried GitHub Actions jobs.
func (j *jobs) start(runID uint32, cancel context.CancelFunc) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.active[runID]; exists {
		return "", fmt.Errorf("%w: run_id %d", ErrAlreadyRunning, runID)
	}
	j.active[runID] = cancel
	return uuid.New().String(), nil
}

func (j *jobs) stop(runID uint32) {
	j.mu.Lock()
	cancel, exists := j.active[runID]
	delete(j.active, runID)
	j.mu.Unlock()
	if exists {
		cancel()
	}
}

func (j *jobs) finish(runID uint32) {
	j.mu.Lock()
	delete(j.active, runID)
	j.mu.Unlock()
}

// publishResult enqueues a completed session's transparency-log entry. It
// blocks while the publisher's channel is full; if ctx is cancelled first,
// the entry is dropped and a warning is logged.
func publishResult(ctx context.Context, publish chan<- logpublish.Entry, entry logpublish.Entry, log *logrus.Entry) {
	select {
	case publish <- entry:
	case <-ctx.Done():
		log.Warn("backend: dropped attestation entry, context cancelled before publish")
	}
}
