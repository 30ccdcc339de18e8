// Package runnerarg defines the immutable arguments a job passes from the
// host to the enclave: which repository to build, which credentials and
// user to run the build agent as, and how to start it.
package runnerarg

import (
	"fmt"
	"strings"

	"github.com/linsm/attestable-builds/internal/common"
)

// RunnerArgs are the per-job arguments for the build agent, fixed for the
// lifetime of one enclave session.
type RunnerArgs struct {
	GitHubRepository  string // owner/name
	RegistrationToken string
	ReadToken         string
	RunnerVersion     string
	RunnerUser        string
	RunnerUID         uint32
	RunnerGID         uint32
}

// String redacts both secrets; never call fmt.Sprintf("%+v", args) directly
// on a RunnerArgs in a log line — use this instead.
func (a RunnerArgs) String() string {
	return fmt.Sprintf(
		"RunnerArgs{repo: %s, reg_token: %s, read_token: %s, user: %s (%d:%d), version: %s}",
		a.GitHubRepository,
		common.RedactToken(a.RegistrationToken),
		common.RedactToken(a.ReadToken),
		a.RunnerUser, a.RunnerUID, a.RunnerGID,
		a.RunnerVersion,
	)
}

// StartMode selects how the enclave supervisor launches the build agent.
type StartMode int

const (
	Direct StartMode = iota
	Sandbox
	SandboxPlus
)

func (m StartMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Sandbox:
		return "sandbox"
	case SandboxPlus:
		return "sandbox_plus"
	default:
		return fmt.Sprintf("StartMode(%d)", int(m))
	}
}

// ParseStartMode accepts the CLI/env spelling used throughout the spec.
func ParseStartMode(s string) (StartMode, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "sandbox":
		return Sandbox, nil
	case "sandbox_plus":
		return SandboxPlus, nil
	default:
		return 0, fmt.Errorf("unknown runner start mode %q", s)
	}
}

// FakeRunnerArgs configures the local-testing "simulated runner" path.
type FakeRunnerArgs struct {
	SubprojectDir string
	BranchRef     *string // nil means "use default branch"
}

func (a FakeRunnerArgs) String() string {
	branch := "None"
	if a.BranchRef != nil {
		branch = *a.BranchRef
	}
	return fmt.Sprintf("FakeRunnerArgs{subproject_dir: %s, branch_ref: %s}", a.SubprojectDir, branch)
}

// ParseFakeRunnerArgs parses "subproject_dir[@branch_ref]" (spec P9).
func ParseFakeRunnerArgs(s string) (FakeRunnerArgs, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) == 1 {
		return FakeRunnerArgs{SubprojectDir: parts[0]}, nil
	}
	branch := parts[1]
	return FakeRunnerArgs{SubprojectDir: parts[0], BranchRef: &branch}, nil
}

// EnclaveClientArgs is everything the host sends the enclave in StartRunner.
type EnclaveClientArgs struct {
	RunnerArgs         RunnerArgs
	RunnerStartMode    StartMode
	FakeRunnerArgs     *FakeRunnerArgs // nil means "run the real agent"
	UseFakeAttestation bool
}

func (a EnclaveClientArgs) String() string {
	fake := "None"
	if a.FakeRunnerArgs != nil {
		fake = a.FakeRunnerArgs.String()
	}
	return fmt.Sprintf(
		"EnclaveClientArgs{runner_args: %s, runner_start_mode: %s, fake_runner_args: %s, use_fake_attestation: %t}",
		a.RunnerArgs, a.RunnerStartMode, fake, a.UseFakeAttestation,
	)
}
