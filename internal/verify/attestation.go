package verify

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/hf/nitrite"

	"github.com/linsm/attestable-builds/internal/attestation"
)

// ErrSignatureInvalid means the attestation document's COSE signature or
// its X.509 certificate chain did not validate against the pinned Nitro
// root. Unlike the original implementation, this is a hard failure: a
// verifier that only logs a broken chain isn't a verifier.
type ErrSignatureInvalid struct{ Err error }

func (e *ErrSignatureInvalid) Error() string { return fmt.Sprintf("verify: signature invalid: %v", e.Err) }
func (e *ErrSignatureInvalid) Unwrap() error  { return e.Err }

// ErrPCRMismatch means a measured PCR in the attestation document did not
// equal the value expected for this build's enclave image.
type ErrPCRMismatch struct {
	Index      int
	Got, Want string
}

func (e *ErrPCRMismatch) Error() string {
	return fmt.Sprintf("verify: PCR%d mismatch: got %q, want %q", e.Index, e.Got, e.Want)
}

// ErrUserDataMismatch means the attestation document's bound user data did
// not match the build's reported measurements.
type ErrUserDataMismatch struct {
	Field      string
	Got, Want string
}

func (e *ErrUserDataMismatch) Error() string {
	return fmt.Sprintf("verify: user data field %q mismatch: got %q, want %q", e.Field, e.Got, e.Want)
}

// ErrFakeRejected means the document carried the fake-attestation sentinel
// and Options.AcceptFake was not set.
var ErrFakeRejected = fmt.Errorf("verify: fake attestation document rejected (AcceptFake is false)")

const fakeSignatureSentinel = "fake signature"

// Options configures attestation validation.
type Options struct {
	// AcceptFake allows the literal "fake signature" document produced by
	// the fake-runner path to pass without any cryptographic check. This
	// must stay false in any configuration that publishes to a real
	// transparency log; it exists solely for local and CI-of-CI testing.
	AcceptFake bool

	// ExpectedPCRs, when non-zero, pins the enclave image this verifier
	// will accept builds from. An empty string at any index skips that
	// index's check.
	ExpectedPCRs [3]string

	// Now overrides the clock used for certificate validity checks.
	// Defaults to time.Now when zero.
	Now time.Time
}

// ValidateAttestationDocument checks that env's attestation document was
// signed by genuine Nitro hardware, measures the PCRs in opts.ExpectedPCRs,
// and binds the document's user data to env's own commit hash and artifact
// fields (I3).
func ValidateAttestationDocument(env attestation.Envelope, opts Options) error {
	if env.Attestation == fakeSignatureSentinel {
		if !opts.AcceptFake {
			return ErrFakeRejected
		}
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(env.Attestation)
	if err != nil {
		return &ErrSignatureInvalid{Err: fmt.Errorf("decode attestation document: %w", err)}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	result, err := nitrite.Verify(raw, nitrite.VerifyOptions{CurrentTime: now})
	if err != nil {
		return &ErrSignatureInvalid{Err: err}
	}

	pcrs := [3]string{
		base64.StdEncoding.EncodeToString(result.Document.PCRs[0]),
		base64.StdEncoding.EncodeToString(result.Document.PCRs[1]),
		base64.StdEncoding.EncodeToString(result.Document.PCRs[2]),
	}
	for i, want := range opts.ExpectedPCRs {
		if want == "" {
			continue
		}
		if pcrs[i] != want {
			return &ErrPCRMismatch{Index: i, Got: pcrs[i], Want: want}
		}
	}

	return validateUserData(string(result.Document.UserData), env.CommitHash, env.ArtifactName, env.ArtifactHash)
}

// validateUserData parses "commit_hash=X,artifact_name=Y,artifact_hash=Z"
// and checks each value positionally against the expected measurements.
// The field order is part of the binding contract (attestation.UserData
// produces it); a reordered or truncated user-data string is rejected.
func validateUserData(userData, wantCommitHash, wantArtifactName, wantArtifactHash string) error {
	expected := []struct{ key, want string }{
		{"commit_hash", wantCommitHash},
		{"artifact_name", wantArtifactName},
		{"artifact_hash", wantArtifactHash},
	}

	parts := strings.Split(userData, ",")
	if len(parts) != len(expected) {
		return &ErrUserDataMismatch{Field: "(count)", Got: fmt.Sprintf("%d", len(parts)), Want: fmt.Sprintf("%d", len(expected))}
	}

	for i, part := range expected {
		key, value, ok := strings.Cut(parts[i], "=")
		if !ok || key != part.key {
			return &ErrUserDataMismatch{Field: part.key, Got: parts[i], Want: part.key + "=" + part.want}
		}
		if value != part.want {
			return &ErrUserDataMismatch{Field: part.key, Got: value, Want: part.want}
		}
	}
	return nil
}
