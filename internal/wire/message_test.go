package wire

import (
	"bytes"
	"testing"

	"github.com/linsm/attestable-builds/internal/runnerarg"
)

func TestHostOkRoundTrip(t *testing.T) {
	info := "foobar"
	var buf bytes.Buffer
	if err := WriteHostToEnclave(&buf, HostOk{Info: &info}); err != nil {
		t.Fatalf("WriteHostToEnclave: %v", err)
	}
	msg, err := ReadHostToEnclave(&buf, 0)
	if err != nil {
		t.Fatalf("ReadHostToEnclave: %v", err)
	}
	ok, isOk := msg.(HostOk)
	if !isOk {
		t.Fatalf("decoded %T, want HostOk", msg)
	}
	if ok.Info == nil || *ok.Info != info {
		t.Errorf("HostOk.Info = %v, want %q", ok.Info, info)
	}
}

func TestHostOkRoundTripNilInfo(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHostToEnclave(&buf, HostOk{}); err != nil {
		t.Fatalf("WriteHostToEnclave: %v", err)
	}
	msg, err := ReadHostToEnclave(&buf, 0)
	if err != nil {
		t.Fatalf("ReadHostToEnclave: %v", err)
	}
	ok, isOk := msg.(HostOk)
	if !isOk {
		t.Fatalf("decoded %T, want HostOk", msg)
	}
	if ok.Info != nil {
		t.Errorf("HostOk.Info = %v, want nil", *ok.Info)
	}
}

func TestStartRunnerRoundTrip(t *testing.T) {
	branch := "main"
	args := runnerarg.EnclaveClientArgs{
		RunnerArgs: runnerarg.RunnerArgs{
			GitHubRepository:  "acme/widgets",
			RegistrationToken: "regtoken",
			ReadToken:         "readtoken",
			RunnerVersion:     "2.317.0",
			RunnerUser:        "runner",
			RunnerUID:         1000,
			RunnerGID:         1000,
		},
		RunnerStartMode:    runnerarg.Sandbox,
		FakeRunnerArgs:     &runnerarg.FakeRunnerArgs{SubprojectDir: "sub", BranchRef: &branch},
		UseFakeAttestation: true,
	}

	var buf bytes.Buffer
	if err := WriteHostToEnclave(&buf, StartRunner{Args: args}); err != nil {
		t.Fatalf("WriteHostToEnclave: %v", err)
	}
	msg, err := ReadHostToEnclave(&buf, 0)
	if err != nil {
		t.Fatalf("ReadHostToEnclave: %v", err)
	}
	got, isStart := msg.(StartRunner)
	if !isStart {
		t.Fatalf("decoded %T, want StartRunner", msg)
	}
	if got.Args.RunnerArgs != args.RunnerArgs {
		t.Errorf("RunnerArgs = %+v, want %+v", got.Args.RunnerArgs, args.RunnerArgs)
	}
	if got.Args.RunnerStartMode != args.RunnerStartMode {
		t.Errorf("RunnerStartMode = %v, want %v", got.Args.RunnerStartMode, args.RunnerStartMode)
	}
	if got.Args.FakeRunnerArgs == nil || got.Args.FakeRunnerArgs.SubprojectDir != "sub" {
		t.Fatalf("FakeRunnerArgs = %+v", got.Args.FakeRunnerArgs)
	}
	if got.Args.FakeRunnerArgs.BranchRef == nil || *got.Args.FakeRunnerArgs.BranchRef != branch {
		t.Errorf("BranchRef = %v, want %q", got.Args.FakeRunnerArgs.BranchRef, branch)
	}
	if !got.Args.UseFakeAttestation {
		t.Error("UseFakeAttestation = false, want true")
	}
}

func TestEnclaveToHostRoundTrip(t *testing.T) {
	cases := []EnclaveToHostMessage{
		ReportRepositoryRoot{CommitHash: "abc123"},
		ReportArtifact{ArtifactName: "binary", ArtifactHash: "def456"},
		ReportAttestation{AttestationDocument: "base64doc"},
		Log{Message: "building..."},
		Timestamp{Marker: "checkout_complete", Datetime: "2026-08-01T00:00:00Z"},
	}
	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteEnclaveToHost(&buf, want); err != nil {
			t.Fatalf("WriteEnclaveToHost(%+v): %v", want, err)
		}
		got, err := ReadEnclaveToHost(&buf, 0)
		if err != nil {
			t.Fatalf("ReadEnclaveToHost(%+v): %v", want, err)
		}
		if got != want {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestDecodeRejectsWrongDirection(t *testing.T) {
	data, err := EncodeHostToEnclave(HostOk{})
	if err != nil {
		t.Fatalf("EncodeHostToEnclave: %v", err)
	}
	if _, err := DecodeEnclaveToHost(data); err == nil {
		t.Error("DecodeEnclaveToHost on a HostToEnclave frame: expected error")
	}
}
