package webhook

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/backend"
)

// simulatedRunID is the fixed run_id used for local testing without a real
// GitHub webhook delivery.
const simulatedRunID = 42

// stopDelay is how long Simulate waits before issuing the matching Stop
// command, standing in for a real "completed" workflow_job event.
const stopDelay = 10 * time.Minute

// Simulate sends a single Start command and, unless bigJob is set, follows
// it with a Stop after stopDelay — enough time for a real build to finish
// without needing a live GitHub webhook. bigJob leaves the Start
// outstanding, matching the original's behavior for the sized-up
// Nitro-enclave test path.
func Simulate(ctx context.Context, commands chan<- backend.Command, bigJob bool, log *logrus.Entry) {
	log.WithField("run_id", simulatedRunID).Info("webhook: simulating Start command")
	select {
	case commands <- backend.Command{Kind: backend.Start, RunID: simulatedRunID}:
	case <-ctx.Done():
		return
	}

	if bigJob {
		return
	}

	select {
	case <-time.After(stopDelay):
	case <-ctx.Done():
		return
	}

	log.WithField("run_id", simulatedRunID).Info("webhook: simulating Stop command")
	select {
	case commands <- backend.Command{Kind: backend.Stop, RunID: simulatedRunID}:
	case <-ctx.Done():
	}
}
