package backend

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/awsmeta"
	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/logpublish"
	"github.com/linsm/attestable-builds/internal/metrics"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/session"
)

const nitroBackendLabel = "nitro"

// ImageName selects which EIF the Nitro backend launches.
type ImageName string

const (
	ImageStamp ImageName = "enclave.eif" // sandboxed: config.json-patched build agent
	ImageWet   ImageName = "enclave-wet.eif" // direct: unconstrained build agent
)

// Size is a Nitro enclave's resource allocation.
type Size struct {
	CPUCount  int
	MemoryMiB int
}

// SizeSmall and SizeLarge mirror the original's two presets; the host
// chooses between them based on the --big-job flag.
var (
	SizeSmall = Size{CPUCount: 4, MemoryMiB: 16384}
	SizeLarge = Size{CPUCount: 16, MemoryMiB: 62000}
)

// enclaveClientPort is the fixed vsock port the enclave-side client listens
// on inside every Nitro enclave.
const enclaveClientPort = 11000

// cidRangeBase and cidRangeSize bound the per-job CID derivation below,
// keeping generated CIDs out of the low range reserved for the hypervisor
// and host (0-15).
const (
	cidRangeBase = 16
	cidRangeSize = 60000
)

// deriveCID picks a deterministic, collision-resistant enclave CID from a
// run_id. The original implementation hardcodes NITRO_ENCLAVE_CID = 42,
// which cannot support two concurrent enclaves; deriving per run_id fixes
// that without needing a coordinator.
func deriveCID(runID uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], runID)
	sum := sha256.Sum256(buf[:])
	offset := binary.BigEndian.Uint32(sum[:4]) % cidRangeSize
	return cidRangeBase + offset
}

// NitroService launches and supervises real AWS Nitro enclaves, one per
// active run_id, plus the vsock<->IP egress proxy they share.
type NitroService struct {
	RunnerArgs runnerarg.RunnerArgs
	StartMode  runnerarg.StartMode
	Size       Size
	PublishCh  chan<- logpublish.Entry
	Dial       session.Dialer
	Log        *logrus.Entry

	// ProxyCommand launches the host-side vsock-to-IP egress proxy. In
	// production this runs a sidecar binary; tests substitute a no-op.
	ProxyCommand func(ctx context.Context) *exec.Cmd

	jobs *jobs
}

// NewNitroService constructs a NitroService ready to Run.
func NewNitroService(runnerArgs runnerarg.RunnerArgs, startMode runnerarg.StartMode, size Size, dial session.Dialer, publishCh chan<- logpublish.Entry, log *logrus.Entry) *NitroService {
	return &NitroService{
		RunnerArgs:   runnerArgs,
		StartMode:    startMode,
		Size:         size,
		PublishCh:    publishCh,
		Dial:         dial,
		Log:          log,
		ProxyCommand: defaultProxyCommand,
		jobs:         newJobs(),
	}
}

func defaultProxyCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "./third-party/vsock-to-ip-transparent", "--vsock-addr", "3:5000")
}

// Run starts the egress proxy, then processes Start/Stop commands until ctx
// is cancelled.
func (s *NitroService) Run(ctx context.Context, commands <-chan Command) error {
	if instanceID, err := awsmeta.InstanceID(ctx); err != nil {
		s.Log.WithError(err).Debug("backend(nitro): could not determine parent EC2 instance id")
	} else {
		s.Log.WithField("instance_id", instanceID).Info("backend(nitro): running on EC2 instance")
	}

	proxy := s.ProxyCommand(ctx)
	if err := proxy.Start(); err != nil {
		return fmt.Errorf("backend(nitro): start egress proxy: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- proxy.Wait() }()

	select {
	case <-time.After(500 * time.Millisecond):
	case err := <-exited:
		return fmt.Errorf("backend(nitro): egress proxy exited immediately (wait: %v)", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			_ = proxy.Process.Kill()
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				_ = proxy.Process.Kill()
				return nil
			}
			switch cmd.Kind {
			case Start:
				if err := s.start(ctx, cmd.RunID); err != nil {
					s.Log.WithError(err).WithField("run_id", cmd.RunID).Error("backend(nitro): start failed")
				}
			case Stop:
				s.stop(cmd.RunID)
			}
		}
	}
}

func (s *NitroService) start(ctx context.Context, runID uint32) error {
	cid := deriveCID(runID)

	jobCtx, cancel := context.WithCancel(ctx)
	sessionID, err := s.jobs.start(runID, cancel)
	if err != nil {
		cancel()
		return err
	}
	log := s.Log.WithFields(logrus.Fields{"run_id": runID, "session_id": sessionID, "cid": cid})

	image := imageForStartMode(s.StartMode)
	runCmd := exec.CommandContext(jobCtx, "nitro-cli", "run-enclave",
		"--eif-path", string(image),
		"--cpu-count", strconv.Itoa(s.Size.CPUCount),
		"--memory", strconv.Itoa(s.Size.MemoryMiB),
		"--enclave-cid", strconv.FormatUint(uint64(cid), 10),
		"--debug-mode",
	)
	if out, err := runCmd.CombinedOutput(); err != nil {
		s.jobs.finish(runID)
		cancel()
		metrics.JobsFailed.WithLabelValues(nitroBackendLabel).Inc()
		return fmt.Errorf("backend(nitro): run-enclave failed: %w (output: %s)", err, out)
	}
	metrics.JobsStarted.WithLabelValues(nitroBackendLabel).Inc()

	go func() {
		defer s.jobs.finish(runID)
		defer cancel()
		defer terminateEnclave(cid)

		started := time.Now()
		addr := common.VsockAddr{CID: cid, Port: enclaveClientPort}
		args := runnerarg.EnclaveClientArgs{RunnerArgs: s.RunnerArgs, RunnerStartMode: s.StartMode}
		result, err := session.Run(jobCtx, s.Dial, addr, args, log)
		metrics.SessionDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.JobsFailed.WithLabelValues(nitroBackendLabel).Inc()
			log.WithError(err).Error("backend(nitro): session failed")
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

func (s *NitroService) stop(runID uint32) {
	s.jobs.stop(runID)
}

func imageForStartMode(mode runnerarg.StartMode) ImageName {
	switch mode {
	case runnerarg.Sandbox, runnerarg.SandboxPlus:
		return ImageStamp
	default:
		return ImageWet
	}
}

func terminateEnclave(cid uint32) {
	_ = exec.Command("nitro-cli", "terminate-enclave", "--enclave-id", strconv.FormatUint(uint64(cid), 10)).Run()
}
