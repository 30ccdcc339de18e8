package backend

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/logpublish"
	"github.com/linsm/attestable-builds/internal/metrics"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/session"
)

const localBackendLabel = "local"

// localBasePort offsets run_ids into the vsock-local port space, matching
// the original's run_id+10000 scheme.
const localBasePort = 10000

// vmaddrCIDLocal is the Linux vsock "talk to the local machine" CID. Used
// instead of a real enclave's CID when simulating against a host
// subprocess.
const vmaddrCIDLocal = 1

// LocalService runs each job as a plain host subprocess standing in for an
// enclave — useful for developing the host/enclave protocol without AWS
// Nitro hardware.
type LocalService struct {
	RunnerArgs runnerarg.RunnerArgs
	BinaryPath string // path to the enclave-client-equivalent binary
	PublishCh  chan<- logpublish.Entry
	Dial       session.Dialer
	Log        *logrus.Entry

	jobs *jobs
}

// NewLocalService constructs a LocalService ready to Run.
func NewLocalService(runnerArgs runnerarg.RunnerArgs, binaryPath string, dial session.Dialer, publishCh chan<- logpublish.Entry, log *logrus.Entry) *LocalService {
	return &LocalService{
		RunnerArgs: runnerArgs,
		BinaryPath: binaryPath,
		PublishCh:  publishCh,
		Dial:       dial,
		Log:        log,
		jobs:       newJobs(),
	}
}

// Run processes Start/Stop commands until ctx is cancelled.
func (s *LocalService) Run(ctx context.Context, commands <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			switch cmd.Kind {
			case Start:
				if err := s.start(ctx, cmd.RunID); err != nil {
					s.Log.WithError(err).WithField("run_id", cmd.RunID).Error("backend(local): start failed")
				}
			case Stop:
				s.jobs.stop(cmd.RunID)
			}
		}
	}
}

func (s *LocalService) start(ctx context.Context, runID uint32) error {
	jobCtx, cancel := context.WithCancel(ctx)
	sessionID, err := s.jobs.start(runID, cancel)
	if err != nil {
		cancel()
		return err
	}
	log := s.Log.WithFields(logrus.Fields{"run_id": runID, "session_id": sessionID})

	port := localBasePort + runID
	addr := common.VsockAddr{CID: vmaddrCIDLocal, Port: port}

	cmd := exec.CommandContext(jobCtx, s.BinaryPath, addr.String())
	if err := cmd.Start(); err != nil {
		s.jobs.finish(runID)
		cancel()
		metrics.JobsFailed.WithLabelValues(localBackendLabel).Inc()
		return fmt.Errorf("backend(local): start enclave-client subprocess: %w", err)
	}
	metrics.JobsStarted.WithLabelValues(localBackendLabel).Inc()

	go func() {
		defer s.jobs.finish(runID)
		defer cancel()

		started := time.Now()
		args := runnerarg.EnclaveClientArgs{RunnerArgs: s.RunnerArgs, RunnerStartMode: runnerarg.Direct}
		result, err := session.Run(jobCtx, s.Dial, addr, args, log)
		_ = cmd.Wait()
		metrics.SessionDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.JobsFailed.WithLabelValues(localBackendLabel).Inc()
			log.WithError(err).Error("backend(local): session failed")
			return
		}

		entry := logpublish.Entry{
			CommitHash:          result.CommitHash,
			ArtifactHash:        result.ArtifactHash,
			ArtifactName:        result.ArtifactName,
			AttestationDocument: result.Attestation.Attestation,
		}
		publishResult(jobCtx, s.PublishCh, entry, log)
	}()

	return nil
}
