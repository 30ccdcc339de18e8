// Package supervisor launches the GitHub Actions build agent inside the
// enclave — either directly as a host subprocess or inside a runc/runsc
// sandbox — and streams its sentinel-prefixed log output back as typed
// runnerevent.Events.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/linsm/attestable-builds/internal/ociconfig"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/runnerevent"
)

// RunnerName is the fixed display name the build agent registers under.
// Ephemeral runners are torn down after one job, so a stable name is safe
// and avoids leaking per-job identifiers to GitHub.
const RunnerName = "NitroNorris"

// Config is everything a Manager needs to configure and launch one build.
type Config struct {
	Args runnerarg.RunnerArgs

	// FakeRunnerArgs selects the simulated build-agent path used in local
	// development; nil runs the real actions-runner binary.
	FakeRunnerArgs *runnerarg.FakeRunnerArgs

	// HomeDir is the build agent's working/install directory (the
	// original's ~/actions-runner equivalent).
	HomeDir string

	// OutputDir is the host-side directory holding both OutputLogPath and
	// InputLogPath, per the original's local_output_path. SandboxManager
	// bind-mounts this whole directory into the container so the sandboxed
	// build agent can see both files, not just the one it writes.
	OutputDir string

	// OutputLogPath is the file the build agent's stdout/sentinel protocol
	// is tailed from.
	OutputLogPath string

	// InputLogPath is a file the enclave writes back to once the build
	// finishes (e.g. the attestation document), per the original's
	// local_input_log_path.
	InputLogPath string

	// BundlePath is the OCI bundle directory; only used by SandboxManager.
	BundlePath string

	// ContainerID is the runc/runsc container name; only used by
	// SandboxManager. Derived per run rather than hardcoded, unlike the
	// original's fixed "stampssandbox".
	ContainerID string

	// Runtime is the container runtime binary a SandboxManager launches:
	// runc ("sandbox") or runsc/gVisor ("sandbox_plus"). New sets it.
	Runtime string
}

// Manager launches a build agent and streams its events until it exits or
// ctx is cancelled.
type Manager interface {
	Run(ctx context.Context, events chan<- runnerevent.Event) error
}

// New selects the Manager implementation for mode.
func New(mode runnerarg.StartMode, cfg Config) Manager {
	switch mode {
	case runnerarg.Sandbox:
		cfg.Runtime = "runc"
		return &SandboxManager{cfg: cfg}
	case runnerarg.SandboxPlus:
		cfg.Runtime = "runsc"
		return &SandboxManager{cfg: cfg}
	default:
		return &DirectManager{cfg: cfg}
	}
}

// removeRunnerConfig deletes any stale registration left behind by a prior
// run of this (ephemeral, but occasionally reused) home directory.
func removeRunnerConfig(homeDir string) error {
	for _, name := range []string{".runner", ".credentials", ".credentials_rsaparams", "svc.sh"} {
		path := filepath.Join(homeDir, name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("supervisor: remove %s: %w", path, err)
		}
	}
	return nil
}

// ensureEmptyOutputLogFile truncates (or creates) the file the build agent
// writes its sentinel protocol to, and opens it up to the runner user.
func ensureEmptyOutputLogFile(path string, uid, gid uint32) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supervisor: create output log %s: %w", path, err)
	}
	f.Close()
	if err := os.Chown(path, int(uid), int(gid)); err != nil {
		return fmt.Errorf("supervisor: chown output log %s: %w", path, err)
	}
	return nil
}

// ensureEmptyInputLogFile truncates (or creates) the file the enclave
// writes the final attestation document back to, world-writable so the
// sandboxed build agent's unprivileged user can also see it land.
func ensureEmptyInputLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("supervisor: create input log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("supervisor: close input log %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		return fmt.Errorf("supervisor: chmod input log %s: %w", path, err)
	}
	return nil
}

// buildAgentEnv assembles the environment variables passed to run.sh,
// including the fake-runner overrides when cfg.FakeRunnerArgs is set.
func buildAgentEnv(cfg Config) []string {
	env := []string{
		"HOME=" + cfg.HomeDir,
		"GITHUB_REPOSITORY=" + cfg.Args.GitHubRepository,
		"GITHUB_PAT_TOKEN=" + cfg.Args.ReadToken,
		"LOG_HOOK=1",
		"ATTESTATION_HOOK=1",
		"ACTIONS_RUNNER_HOOK_JOB_STARTED=1",
	}
	return addFakeRunnerEnv(env, cfg.FakeRunnerArgs)
}

// addFakeRunnerEnv appends the environment variables that steer the
// simulated build agent at a specific subproject/branch instead of running
// the real actions-runner binary.
func addFakeRunnerEnv(env []string, fake *runnerarg.FakeRunnerArgs) []string {
	if fake == nil {
		return env
	}
	env = append(env, "FAKE_RUNNER_SUBPROJECT_DIR="+fake.SubprojectDir)
	if fake.BranchRef != nil {
		env = append(env, "FAKE_RUNNER_BRANCH_REF="+*fake.BranchRef)
	}
	return env
}

// configureRunnerArgs builds the config.sh argument list used to register
// the build agent with GitHub as an ephemeral, unattended runner.
func configureRunnerArgs(cfg Config) []string {
	return []string{
		"--url", "https://github.com/" + cfg.Args.GitHubRepository,
		"--token", cfg.Args.RegistrationToken,
		"--ephemeral",
		"--disableupdate",
		"--unattended",
		"--replace",
		"--name", RunnerName,
	}
}

// runAsUser wraps cmd so it executes as cfg.Args.RunnerUser, mirroring the
// original's `sudo -u <user>` invocation.
func runAsUser(ctx context.Context, dir string, uid, gid uint32, env []string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uid, Gid: gid},
	}
	return cmd
}

// ociBundlePatch builds the OCI config.json patch for one sandboxed build:
// a fixed entrypoint, the output directory bind-mounted whole (so the
// sandboxed agent can see both the output log it writes and the input log
// the enclave writes back to), and the runner user's uid/gid, with
// environment extended (never replaced) per P6. The env list carries the
// same base vars as the direct path's buildAgentEnv, plus the sandbox-only
// registration vars the original's patch_config_json adds.
func ociBundlePatch(cfg Config, sandboxOutputDir string) ociconfig.Patch {
	user := specs.User{UID: cfg.Args.RunnerUID, GID: cfg.Args.RunnerGID}
	env := append(buildAgentEnv(cfg),
		"ACTIONS_RUNNER_DEBUG=1",
		"GITHUB_REG_TOKEN="+cfg.Args.RegistrationToken,
		"GITHUB_RUNNER_PATH="+cfg.HomeDir,
		"GITHUB_RUNNER_NAME="+RunnerName,
	)
	return ociconfig.Patch{
		Args:          "/bin/bash entry.sh",
		AdditionalEnv: env,
		User:          &user,
		Cwd:           "/app",
		AdditionalMounts: []specs.Mount{
			{
				Destination: sandboxOutputDir,
				Type:        "none",
				Source:      cfg.OutputDir,
				Options:     []string{"rbind", "rw"},
			},
		},
	}
}
