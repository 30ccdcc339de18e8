package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/linsm/attestable-builds/internal/runnerarg"
)

// kind tags which concrete variant a CBOR-encoded envelope carries. Each
// variant's fields are themselves CBOR-encoded as a fixed-order array
// (`,toarray`), so the wire format never depends on map key ordering.
type kind uint8

const (
	kindStartRunner kind = iota
	kindHostOk
	kindReportRepositoryRoot
	kindReportArtifact
	kindReportAttestation
	kindEnclaveOk
	kindLog
	kindTimestamp
)

// envelope is the only shape ever written to the wire: a kind tag plus the
// CBOR encoding of that kind's payload struct.
type envelope struct {
	_       struct{} `cbor:",toarray"`
	Kind    kind
	Payload cbor.RawMessage
}

// HostToEnclaveMessage is the sum type the host may send down the session:
// either the one-shot job parameters, or an acknowledgement.
type HostToEnclaveMessage interface {
	isHostToEnclaveMessage()
}

// StartRunner carries everything the enclave needs to configure and launch
// the build agent. Sent exactly once, as the first message of a session.
type StartRunner struct {
	Args runnerarg.EnclaveClientArgs
}

func (StartRunner) isHostToEnclaveMessage() {}

// HostOk acknowledges receipt of an EnclaveToHostMessage that does not carry
// its own reply semantics.
type HostOk struct {
	Info *string
}

func (HostOk) isHostToEnclaveMessage() {}

// wire DTOs: cbor's toarray tag needs concrete field order, so each variant
// above has a matching plain struct below with the same fields in the same
// order. EnclaveClientArgs round-trips through its own toarray-tagged DTO.
type startRunnerWire struct {
	_    struct{} `cbor:",toarray"`
	Args enclaveClientArgsWire
}

type hostOkWire struct {
	_    struct{} `cbor:",toarray"`
	Info *string
}

type enclaveClientArgsWire struct {
	_                  struct{} `cbor:",toarray"`
	GitHubRepository   string
	RegistrationToken  string
	ReadToken          string
	RunnerVersion      string
	RunnerUser         string
	RunnerUID          uint32
	RunnerGID          uint32
	RunnerStartMode    int
	HasFakeRunnerArgs  bool
	FakeSubprojectDir  string
	HasBranchRef       bool
	FakeBranchRef      string
	UseFakeAttestation bool
}

func toEnclaveClientArgsWire(a runnerarg.EnclaveClientArgs) enclaveClientArgsWire {
	w := enclaveClientArgsWire{
		GitHubRepository:   a.RunnerArgs.GitHubRepository,
		RegistrationToken:  a.RunnerArgs.RegistrationToken,
		ReadToken:          a.RunnerArgs.ReadToken,
		RunnerVersion:      a.RunnerArgs.RunnerVersion,
		RunnerUser:         a.RunnerArgs.RunnerUser,
		RunnerUID:          a.RunnerArgs.RunnerUID,
		RunnerGID:          a.RunnerArgs.RunnerGID,
		RunnerStartMode:    int(a.RunnerStartMode),
		UseFakeAttestation: a.UseFakeAttestation,
	}
	if a.FakeRunnerArgs != nil {
		w.HasFakeRunnerArgs = true
		w.FakeSubprojectDir = a.FakeRunnerArgs.SubprojectDir
		if a.FakeRunnerArgs.BranchRef != nil {
			w.HasBranchRef = true
			w.FakeBranchRef = *a.FakeRunnerArgs.BranchRef
		}
	}
	return w
}

func fromEnclaveClientArgsWire(w enclaveClientArgsWire) runnerarg.EnclaveClientArgs {
	a := runnerarg.EnclaveClientArgs{
		RunnerArgs: runnerarg.RunnerArgs{
			GitHubRepository:  w.GitHubRepository,
			RegistrationToken: w.RegistrationToken,
			ReadToken:         w.ReadToken,
			RunnerVersion:     w.RunnerVersion,
			RunnerUser:        w.RunnerUser,
			RunnerUID:         w.RunnerUID,
			RunnerGID:         w.RunnerGID,
		},
		RunnerStartMode:    runnerarg.StartMode(w.RunnerStartMode),
		UseFakeAttestation: w.UseFakeAttestation,
	}
	if w.HasFakeRunnerArgs {
		fake := &runnerarg.FakeRunnerArgs{SubprojectDir: w.FakeSubprojectDir}
		if w.HasBranchRef {
			branch := w.FakeBranchRef
			fake.BranchRef = &branch
		}
		a.FakeRunnerArgs = fake
	}
	return a
}

// EncodeHostToEnclave serializes a HostToEnclaveMessage to its wire bytes.
func EncodeHostToEnclave(msg HostToEnclaveMessage) ([]byte, error) {
	var k kind
	var payload interface{}
	switch m := msg.(type) {
	case StartRunner:
		k = kindStartRunner
		payload = startRunnerWire{Args: toEnclaveClientArgsWire(m.Args)}
	case HostOk:
		k = kindHostOk
		payload = hostOkWire{Info: m.Info}
	default:
		return nil, fmt.Errorf("wire: unknown HostToEnclaveMessage %T", msg)
	}
	return encodeEnvelope(k, payload)
}

// DecodeHostToEnclave parses the bytes produced by EncodeHostToEnclave.
func DecodeHostToEnclave(data []byte) (HostToEnclaveMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case kindStartRunner:
		var w startRunnerWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode StartRunner: %w", err)
		}
		return StartRunner{Args: fromEnclaveClientArgsWire(w.Args)}, nil
	case kindHostOk:
		var w hostOkWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode HostOk: %w", err)
		}
		return HostOk{Info: w.Info}, nil
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %d for HostToEnclaveMessage", env.Kind)
	}
}

// EnclaveToHostMessage is the sum type the enclave may report back to the
// host over the course of one build.
type EnclaveToHostMessage interface {
	isEnclaveToHostMessage()
}

// ReportRepositoryRoot carries the commit hash of the checked-out build
// input, the first measurement of a session.
type ReportRepositoryRoot struct {
	CommitHash string
}

func (ReportRepositoryRoot) isEnclaveToHostMessage() {}

// ReportArtifact carries the name and content hash of the produced build
// output, the second measurement of a session.
type ReportArtifact struct {
	ArtifactName string
	ArtifactHash string
}

func (ReportArtifact) isEnclaveToHostMessage() {}

// ReportAttestation carries the signed attestation document binding both
// prior measurements, the final message of a successful session.
type ReportAttestation struct {
	AttestationDocument string
}

func (ReportAttestation) isEnclaveToHostMessage() {}

// EnclaveOk is the enclave-side analog of HostOk.
type EnclaveOk struct {
	Info *string
}

func (EnclaveOk) isEnclaveToHostMessage() {}

// Log forwards one line of build-agent output for host-side diagnostics.
type Log struct {
	Message string
}

func (Log) isEnclaveToHostMessage() {}

// Timestamp records a named instant in the build agent's lifecycle, e.g.
// "configured" or "checkout_complete", for latency accounting.
type Timestamp struct {
	Marker   string
	Datetime string
}

func (Timestamp) isEnclaveToHostMessage() {}

type reportRepositoryRootWire struct {
	_          struct{} `cbor:",toarray"`
	CommitHash string
}

type reportArtifactWire struct {
	_            struct{} `cbor:",toarray"`
	ArtifactName string
	ArtifactHash string
}

type reportAttestationWire struct {
	_                    struct{} `cbor:",toarray"`
	AttestationDocument string
}

type enclaveOkWire struct {
	_    struct{} `cbor:",toarray"`
	Info *string
}

type logWire struct {
	_       struct{} `cbor:",toarray"`
	Message string
}

type timestampWire struct {
	_        struct{} `cbor:",toarray"`
	Marker   string
	Datetime string
}

// EncodeEnclaveToHost serializes an EnclaveToHostMessage to its wire bytes.
func EncodeEnclaveToHost(msg EnclaveToHostMessage) ([]byte, error) {
	var k kind
	var payload interface{}
	switch m := msg.(type) {
	case ReportRepositoryRoot:
		k = kindReportRepositoryRoot
		payload = reportRepositoryRootWire{CommitHash: m.CommitHash}
	case ReportArtifact:
		k = kindReportArtifact
		payload = reportArtifactWire{ArtifactName: m.ArtifactName, ArtifactHash: m.ArtifactHash}
	case ReportAttestation:
		k = kindReportAttestation
		payload = reportAttestationWire{AttestationDocument: m.AttestationDocument}
	case EnclaveOk:
		k = kindEnclaveOk
		payload = enclaveOkWire{Info: m.Info}
	case Log:
		k = kindLog
		payload = logWire{Message: m.Message}
	case Timestamp:
		k = kindTimestamp
		payload = timestampWire{Marker: m.Marker, Datetime: m.Datetime}
	default:
		return nil, fmt.Errorf("wire: unknown EnclaveToHostMessage %T", msg)
	}
	return encodeEnvelope(k, payload)
}

// DecodeEnclaveToHost parses the bytes produced by EncodeEnclaveToHost.
func DecodeEnclaveToHost(data []byte) (EnclaveToHostMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case kindReportRepositoryRoot:
		var w reportRepositoryRootWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode ReportRepositoryRoot: %w", err)
		}
		return ReportRepositoryRoot{CommitHash: w.CommitHash}, nil
	case kindReportArtifact:
		var w reportArtifactWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode ReportArtifact: %w", err)
		}
		return ReportArtifact{ArtifactName: w.ArtifactName, ArtifactHash: w.ArtifactHash}, nil
	case kindReportAttestation:
		var w reportAttestationWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode ReportAttestation: %w", err)
		}
		return ReportAttestation{AttestationDocument: w.AttestationDocument}, nil
	case kindEnclaveOk:
		var w enclaveOkWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode EnclaveOk: %w", err)
		}
		return EnclaveOk{Info: w.Info}, nil
	case kindLog:
		var w logWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode Log: %w", err)
		}
		return Log{Message: w.Message}, nil
	case kindTimestamp:
		var w timestampWire
		if err := cbor.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("wire: decode Timestamp: %w", err)
		}
		return Timestamp{Marker: w.Marker, Datetime: w.Datetime}, nil
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %d for EnclaveToHostMessage", env.Kind)
	}
}

func encodeEnvelope(k kind, payload interface{}) ([]byte, error) {
	payloadBytes, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return cbor.Marshal(envelope{Kind: k, Payload: payloadBytes})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}
