package supervisor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/linsm/attestable-builds/internal/runnerevent"
)

// DirectManager runs the build agent as a host subprocess under the
// runner's own uid/gid, with no container isolation. This is the fastest
// path and is used when the build's trust boundary is the enclave itself.
type DirectManager struct {
	cfg Config
}

// Run configures and launches the build agent, then tails its output log
// until it reports RUNNER_FINISHED or ctx is cancelled.
func (m *DirectManager) Run(ctx context.Context, events chan<- runnerevent.Event) error {
	cfg := m.cfg

	if err := removeRunnerConfig(cfg.HomeDir); err != nil {
		return err
	}
	if err := ensureEmptyOutputLogFile(cfg.OutputLogPath, cfg.Args.RunnerUID, cfg.Args.RunnerGID); err != nil {
		return err
	}
	if err := ensureEmptyInputLogFile(cfg.InputLogPath); err != nil {
		return err
	}

	env := buildAgentEnv(cfg)

	configure := runAsUser(ctx, cfg.HomeDir, cfg.Args.RunnerUID, cfg.Args.RunnerGID, env,
		filepath.Join(cfg.HomeDir, "config.sh"), configureRunnerArgs(cfg)...)
	if out, err := configure.CombinedOutput(); err != nil {
		return fmt.Errorf("supervisor: config.sh failed: %w (output: %s)", err, out)
	}

	run := runAsUser(ctx, cfg.HomeDir, cfg.Args.RunnerUID, cfg.Args.RunnerGID, env,
		filepath.Join(cfg.HomeDir, "run.sh"))
	if err := run.Start(); err != nil {
		return fmt.Errorf("supervisor: start run.sh: %w", err)
	}

	tailErrCh := make(chan error, 1)
	go func() {
		tailErrCh <- tailFile(ctx, cfg.OutputLogPath, events)
	}()

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- run.Wait() }()

	select {
	case err := <-tailErrCh:
		return err
	case err := <-waitErrCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
