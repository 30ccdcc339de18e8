package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/wire"
)

func pipeDialer(server net.Conn) Dialer {
	return func(ctx context.Context, addr common.VsockAddr) (net.Conn, error) {
		return server, nil
	}
}

func TestRunHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	args := runnerarg.EnclaveClientArgs{RunnerArgs: runnerarg.RunnerArgs{GitHubRepository: "acme/widgets"}}

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := Run(context.Background(), pipeDialer(client), common.VsockAddr{CID: 3, Port: 5000}, args, nil)
		resultCh <- res
		errCh <- err
	}()

	// Enclave side of the conversation.
	msg, err := wire.ReadHostToEnclave(server, 0)
	if err != nil {
		t.Fatalf("enclave: read StartRunner: %v", err)
	}
	if _, ok := msg.(wire.StartRunner); !ok {
		t.Fatalf("enclave: got %T, want StartRunner", msg)
	}
	if err := wire.WriteEnclaveToHost(server, wire.EnclaveOk{}); err != nil {
		t.Fatalf("enclave: write EnclaveOk: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.Log{Message: "building"}); err != nil {
		t.Fatalf("enclave: write Log: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.ReportRepositoryRoot{CommitHash: "abc123"}); err != nil {
		t.Fatalf("enclave: write ReportRepositoryRoot: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.ReportArtifact{ArtifactName: "binary", ArtifactHash: "def456"}); err != nil {
		t.Fatalf("enclave: write ReportArtifact: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.ReportAttestation{AttestationDocument: "fake signature"}); err != nil {
		t.Fatalf("enclave: write ReportAttestation: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	result := <-resultCh
	if result.CommitHash != "abc123" || result.ArtifactName != "binary" || result.ArtifactHash != "def456" {
		t.Errorf("Result = %+v", result)
	}
	if result.Attestation.Attestation != "fake signature" {
		t.Errorf("Attestation.Attestation = %q", result.Attestation.Attestation)
	}
}

func TestRunRejectsAttestationBeforeMeasurements(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), pipeDialer(client), common.VsockAddr{CID: 3, Port: 5000}, runnerarg.EnclaveClientArgs{}, nil)
		errCh <- err
	}()

	if _, err := wire.ReadHostToEnclave(server, 0); err != nil {
		t.Fatalf("enclave: read StartRunner: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.EnclaveOk{}); err != nil {
		t.Fatalf("enclave: write EnclaveOk: %v", err)
	}
	if err := wire.WriteEnclaveToHost(server, wire.ReportAttestation{AttestationDocument: "doc"}); err != nil {
		t.Fatalf("enclave: write ReportAttestation: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("Run = %v, want ErrProtocolViolation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete in time")
	}
}
