package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/linsm/attestable-builds/internal/ociconfig"
	"github.com/linsm/attestable-builds/internal/runnerevent"
)

// SandboxManager runs the build agent inside a runc (Sandbox) or
// runsc/gVisor (SandboxPlus) container, patching the bundle's config.json
// before launch to inject the job's credentials and bind-mount the shared
// output directory.
type SandboxManager struct {
	cfg Config
}

// sandboxOutputDir is where the host's OutputDir (holding both output.log
// and input.log) is bind-mounted inside the sandbox.
const sandboxOutputDir = "/var/log/build-agent"

// containerID derives a per-job container name from the job's home
// directory, rather than the original's fixed "stampssandbox" — running
// two jobs through the same sandbox backend concurrently would otherwise
// collide.
func containerID(cfg Config) string {
	if cfg.ContainerID != "" {
		return cfg.ContainerID
	}
	sum := sha256.Sum256([]byte(cfg.HomeDir))
	return "build-" + hex.EncodeToString(sum[:8])
}

// Run patches the OCI bundle's config.json, then launches it with the
// configured container runtime, tailing the bind-mounted output log for
// sentinel events.
func (m *SandboxManager) Run(ctx context.Context, events chan<- runnerevent.Event) error {
	cfg := m.cfg
	id := containerID(cfg)

	if err := ensureEmptyOutputLogFile(cfg.OutputLogPath, cfg.Args.RunnerUID, cfg.Args.RunnerGID); err != nil {
		return err
	}
	if err := ensureEmptyInputLogFile(cfg.InputLogPath); err != nil {
		return err
	}

	if err := patchBundleConfig(cfg); err != nil {
		return err
	}

	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "runc"
	}
	cmd := exec.CommandContext(ctx, runtime, "run", "--bundle", cfg.BundlePath, id)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start %s run: %w", runtime, err)
	}

	tailErrCh := make(chan error, 1)
	go func() { tailErrCh <- tailFile(ctx, cfg.OutputLogPath, events) }()

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	select {
	case err := <-tailErrCh:
		return err
	case err := <-waitErrCh:
		return err
	case <-ctx.Done():
		_ = exec.Command(runtime, "delete", "--force", id).Run()
		return ctx.Err()
	}
}

func patchBundleConfig(cfg Config) error {
	configPath := filepath.Join(cfg.BundlePath, "config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("supervisor: read %s: %w", configPath, err)
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("supervisor: parse %s: %w", configPath, err)
	}

	patch := ociBundlePatch(cfg, sandboxOutputDir)
	ociconfig.Apply(&spec, patch)

	patched, err := json.Marshal(&spec)
	if err != nil {
		return fmt.Errorf("supervisor: marshal patched config.json: %w", err)
	}
	if err := os.WriteFile(configPath, patched, 0o644); err != nil {
		return fmt.Errorf("supervisor: write %s: %w", configPath, err)
	}
	return nil
}
