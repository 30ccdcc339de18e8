// Package enclavefsm implements the enclave session state machine: the
// monotonic sequence a build must pass through (start -> configured ->
// commit hash -> artifact -> attestation) before its attestation document
// is trustworthy. Each state transition consumes the previous state and
// produces a new one; any transition attempted from the wrong prior state
// yields Error instead of panicking, so a confused or hostile build agent
// can never retroactively rewrite an earlier measurement.
package enclavefsm

// Kind identifies which variant a State holds.
type Kind int

const (
	Initializing Kind = iota
	ReceivedStartMessage
	Configured
	WithMeasuredInput
	BuildFinished
	Error
)

func (k Kind) String() string {
	switch k {
	case Initializing:
		return "initializing"
	case ReceivedStartMessage:
		return "received_start_message"
	case Configured:
		return "configured"
	case WithMeasuredInput:
		return "with_measured_input"
	case BuildFinished:
		return "build_finished"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State is the enclave session's current position in the measurement
// pipeline. The zero value is Initializing.
type State struct {
	kind Kind

	commitHash       string
	artifactName     string
	artifactHash     string
	localInputLogPath string

	errReason string
}

// Kind reports which variant state currently holds.
func (s State) Kind() Kind { return s.kind }

// CommitHash is valid once Kind is WithMeasuredInput or BuildFinished.
func (s State) CommitHash() string { return s.commitHash }

// ArtifactName is valid once Kind is BuildFinished.
func (s State) ArtifactName() string { return s.artifactName }

// ArtifactHash is valid once Kind is BuildFinished.
func (s State) ArtifactHash() string { return s.artifactHash }

// LocalInputLogPath is valid once Kind is BuildFinished.
func (s State) LocalInputLogPath() string { return s.localInputLogPath }

// ErrReason is valid once Kind is Error.
func (s State) ErrReason() string { return s.errReason }

func errorState(reason string) State {
	return State{kind: Error, errReason: reason}
}

// New returns a session in the Initializing state.
func New() State {
	return State{kind: Initializing}
}

// OnStartMessage transitions Initializing -> ReceivedStartMessage.
func (s State) OnStartMessage() State {
	if s.kind != Initializing {
		return errorState("received StartRunner out of order from " + s.kind.String())
	}
	return State{kind: ReceivedStartMessage}
}

// OnConfigured transitions ReceivedStartMessage -> Configured, once the
// supervisor reports the build agent finished its own setup.
func (s State) OnConfigured() State {
	if s.kind != ReceivedStartMessage {
		return errorState("received configuration-done out of order from " + s.kind.String())
	}
	return State{kind: Configured}
}

// OnReceivedCommitHash transitions Configured -> WithMeasuredInput. A
// second commit hash report (from Configured having already advanced, or
// from WithMeasuredInput itself) is rejected rather than silently
// overwriting the first measurement.
func (s State) OnReceivedCommitHash(commitHash string) State {
	if s.kind != Configured {
		return errorState("received commit hash out of order from " + s.kind.String())
	}
	return State{kind: WithMeasuredInput, commitHash: commitHash}
}

// OnReceivedArtifact transitions WithMeasuredInput -> BuildFinished. This
// can only happen after a commit hash has been recorded, enforcing the
// "commit before artifact" ordering invariant.
func (s State) OnReceivedArtifact(artifactName, artifactHash, localInputLogPath string) State {
	if s.kind != WithMeasuredInput {
		return errorState("received artifact out of order from " + s.kind.String())
	}
	return State{
		kind:              BuildFinished,
		commitHash:        s.commitHash,
		artifactName:      artifactName,
		artifactHash:      artifactHash,
		localInputLogPath: localInputLogPath,
	}
}
