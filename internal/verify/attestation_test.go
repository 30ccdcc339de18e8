package verify

import (
	"errors"
	"testing"

	"github.com/linsm/attestable-builds/internal/attestation"
)

func TestValidateAttestationDocumentRejectsFakeByDefault(t *testing.T) {
	env := attestation.Envelope{
		CommitHash:   "c1",
		ArtifactName: "a1",
		ArtifactHash: "h1",
		PCR0:         "fake0",
		PCR1:         "fake1",
		PCR2:         "fake2",
		Attestation:  "fake signature",
	}
	err := ValidateAttestationDocument(env, Options{})
	if !errors.Is(err, ErrFakeRejected) {
		t.Errorf("ValidateAttestationDocument(fake, AcceptFake=false) = %v, want ErrFakeRejected", err)
	}
}

func TestValidateAttestationDocumentAcceptsFakeWhenConfigured(t *testing.T) {
	env := attestation.Envelope{
		CommitHash:   "c1",
		ArtifactName: "a1",
		ArtifactHash: "h1",
		PCR0:         "fake0",
		PCR1:         "fake1",
		PCR2:         "fake2",
		Attestation:  "fake signature",
	}
	if err := ValidateAttestationDocument(env, Options{AcceptFake: true}); err != nil {
		t.Errorf("ValidateAttestationDocument(fake, AcceptFake=true) = %v, want nil", err)
	}
}

func TestValidateUserData(t *testing.T) {
	userData := "commit_hash=abc,artifact_name=binary,artifact_hash=def"
	if err := validateUserData(userData, "abc", "binary", "def"); err != nil {
		t.Errorf("validateUserData: %v", err)
	}
}

func TestValidateUserDataMismatch(t *testing.T) {
	userData := "commit_hash=abc,artifact_name=binary,artifact_hash=wrong"
	err := validateUserData(userData, "abc", "binary", "def")
	if err == nil {
		t.Fatal("validateUserData: expected mismatch error")
	}
	var mismatch *ErrUserDataMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %T, want *ErrUserDataMismatch", err)
	}
	if mismatch.Field != "artifact_hash" {
		t.Errorf("mismatch.Field = %q, want artifact_hash", mismatch.Field)
	}
}

func TestValidateUserDataWrongFieldOrder(t *testing.T) {
	userData := "artifact_name=binary,commit_hash=abc,artifact_hash=def"
	if err := validateUserData(userData, "abc", "binary", "def"); err == nil {
		t.Error("validateUserData: expected error for reordered fields")
	}
}

func TestValidateAttestationDocumentInvalidBase64(t *testing.T) {
	env := attestation.Envelope{Attestation: "not valid base64!!!"}
	err := ValidateAttestationDocument(env, Options{})
	var sigErr *ErrSignatureInvalid
	if !errors.As(err, &sigErr) {
		t.Fatalf("err = %T, want *ErrSignatureInvalid", err)
	}
}
