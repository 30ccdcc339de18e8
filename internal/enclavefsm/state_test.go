package enclavefsm

import "testing"

func TestHappyPathEndsInBuildFinished(t *testing.T) {
	s := New()
	s = s.OnStartMessage()
	if s.Kind() != ReceivedStartMessage {
		t.Fatalf("after OnStartMessage: %v", s.Kind())
	}
	s = s.OnConfigured()
	if s.Kind() != Configured {
		t.Fatalf("after OnConfigured: %v", s.Kind())
	}
	s = s.OnReceivedCommitHash("abc123")
	if s.Kind() != WithMeasuredInput || s.CommitHash() != "abc123" {
		t.Fatalf("after OnReceivedCommitHash: %v %q", s.Kind(), s.CommitHash())
	}
	s = s.OnReceivedArtifact("binary", "def456", "/tmp/input.log")
	if s.Kind() != BuildFinished {
		t.Fatalf("after OnReceivedArtifact: %v", s.Kind())
	}
	if s.CommitHash() != "abc123" || s.ArtifactName() != "binary" || s.ArtifactHash() != "def456" {
		t.Errorf("BuildFinished fields = %+v", s)
	}
}

func TestSwappedOrderIsError(t *testing.T) {
	s := New().OnStartMessage().OnConfigured()
	// Attempt to report the artifact before a commit hash.
	s = s.OnReceivedArtifact("binary", "def456", "/tmp/input.log")
	if s.Kind() != Error {
		t.Errorf("Kind() = %v, want Error", s.Kind())
	}
}

func TestDuplicateCommitHashIsRejected(t *testing.T) {
	s := New().OnStartMessage().OnConfigured().OnReceivedCommitHash("abc123")
	s = s.OnReceivedCommitHash("shouldnotoverwrite")
	if s.Kind() != Error {
		t.Errorf("Kind() = %v, want Error", s.Kind())
	}
}

func TestStartMessageOnlyValidFromInitializing(t *testing.T) {
	s := New().OnStartMessage()
	s = s.OnStartMessage()
	if s.Kind() != Error {
		t.Errorf("Kind() = %v, want Error", s.Kind())
	}
}

func TestConfiguredRequiresStartMessage(t *testing.T) {
	s := New().OnConfigured()
	if s.Kind() != Error {
		t.Errorf("Kind() = %v, want Error", s.Kind())
	}
}
