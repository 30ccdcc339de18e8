package supervisor

import (
	"testing"

	"github.com/linsm/attestable-builds/internal/runnerarg"
)

func TestAddFakeRunnerEnvNil(t *testing.T) {
	env := addFakeRunnerEnv([]string{"A=1"}, nil)
	if len(env) != 1 {
		t.Errorf("addFakeRunnerEnv(nil) = %v, want unchanged", env)
	}
}

func TestAddFakeRunnerEnvWithBranch(t *testing.T) {
	branch := "feature-x"
	env := addFakeRunnerEnv(nil, &runnerarg.FakeRunnerArgs{SubprojectDir: "sub", BranchRef: &branch})
	want := []string{"FAKE_RUNNER_SUBPROJECT_DIR=sub", "FAKE_RUNNER_BRANCH_REF=feature-x"}
	if len(env) != len(want) || env[0] != want[0] || env[1] != want[1] {
		t.Errorf("addFakeRunnerEnv = %v, want %v", env, want)
	}
}

func TestAddFakeRunnerEnvWithoutBranch(t *testing.T) {
	env := addFakeRunnerEnv(nil, &runnerarg.FakeRunnerArgs{SubprojectDir: "sub"})
	want := []string{"FAKE_RUNNER_SUBPROJECT_DIR=sub"}
	if len(env) != len(want) || env[0] != want[0] {
		t.Errorf("addFakeRunnerEnv = %v, want %v", env, want)
	}
}

func TestConfigureRunnerArgsIncludesEphemeralFlags(t *testing.T) {
	cfg := Config{Args: runnerarg.RunnerArgs{GitHubRepository: "acme/widgets", RegistrationToken: "tok"}}
	args := configureRunnerArgs(cfg)

	found := map[string]bool{}
	for _, a := range args {
		found[a] = true
	}
	for _, want := range []string{"--ephemeral", "--disableupdate", "--unattended", "--replace", RunnerName} {
		if !found[want] {
			t.Errorf("configureRunnerArgs() missing %q: %v", want, args)
		}
	}
}

func TestContainerIDDerivedWhenUnset(t *testing.T) {
	cfg := Config{HomeDir: "/home/build/job-1"}
	id := containerID(cfg)
	if id == "" || id == "stampssandbox" {
		t.Errorf("containerID() = %q, want a derived, non-fixed name", id)
	}
	// Deterministic for the same home dir.
	if got := containerID(cfg); got != id {
		t.Errorf("containerID() not deterministic: %q vs %q", got, id)
	}
}

func TestOciBundlePatchCarriesBaseAndSandboxEnv(t *testing.T) {
	cfg := Config{
		Args: runnerarg.RunnerArgs{
			GitHubRepository:  "acme/widgets",
			ReadToken:         "pat-123",
			RegistrationToken: "reg-456",
		},
		HomeDir:   "/home/runner",
		OutputDir: "/home/runner/output",
	}
	patch := ociBundlePatch(cfg, sandboxOutputDir)

	found := map[string]bool{}
	for _, e := range patch.AdditionalEnv {
		found[e] = true
	}
	for _, want := range []string{
		"GITHUB_REPOSITORY=acme/widgets",
		"GITHUB_PAT_TOKEN=pat-123",
		"LOG_HOOK=1",
		"ATTESTATION_HOOK=1",
		"ACTIONS_RUNNER_HOOK_JOB_STARTED=1",
		"ACTIONS_RUNNER_DEBUG=1",
		"GITHUB_REG_TOKEN=reg-456",
		"GITHUB_RUNNER_PATH=/home/runner",
		"GITHUB_RUNNER_NAME=" + RunnerName,
	} {
		if !found[want] {
			t.Errorf("ociBundlePatch AdditionalEnv missing %q: %v", want, patch.AdditionalEnv)
		}
	}

	if len(patch.AdditionalMounts) != 1 || patch.AdditionalMounts[0].Source != cfg.OutputDir {
		t.Errorf("ociBundlePatch mount source = %+v, want Source %q", patch.AdditionalMounts, cfg.OutputDir)
	}
	if patch.AdditionalMounts[0].Destination != sandboxOutputDir {
		t.Errorf("ociBundlePatch mount destination = %q, want %q", patch.AdditionalMounts[0].Destination, sandboxOutputDir)
	}
}

func TestContainerIDRespectsOverride(t *testing.T) {
	cfg := Config{ContainerID: "explicit-name"}
	if got := containerID(cfg); got != "explicit-name" {
		t.Errorf("containerID() = %q, want explicit-name", got)
	}
}
