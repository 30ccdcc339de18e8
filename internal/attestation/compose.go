// Package attestation composes the signed document that binds a build's
// measurements (commit hash, artifact name and hash) to the enclave's PCR
// values, using the Nitro Secure Module when running for real and a fixed
// stand-in when running against the fake-runner path used in development.
package attestation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// Envelope is the JSON document reported to the host and ultimately
// published to the transparency log. Field order and naming are fixed by
// downstream verifiers; do not rename.
type Envelope struct {
	CommitHash   string `json:"commit_hash"`
	ArtifactName string `json:"artifact_name"`
	ArtifactHash string `json:"artifact_hash"`
	PCR0         string `json:"pcr0"`
	PCR1         string `json:"pcr1"`
	PCR2         string `json:"pcr2"`
	Attestation  string `json:"attestation"`
}

// measuredPCRIndices are the PCRs read from the NSM and reported in the
// envelope: 0 (enclave image), 1 (kernel + bootstrap), 2 (application).
var measuredPCRIndices = [3]uint16{0, 1, 2}

// Compose produces the attestation envelope for one completed build. When
// useFake is true, no NSM device is touched and the envelope carries fixed
// placeholder PCR and signature values, matching the fake-runner path used
// in local development and CI-of-CI testing.
func Compose(useFake bool, commitHash, artifactName, artifactHash string) (Envelope, error) {
	if useFake {
		return Envelope{
			CommitHash:   commitHash,
			ArtifactName: artifactName,
			ArtifactHash: artifactHash,
			PCR0:         "fake0",
			PCR1:         "fake1",
			PCR2:         "fake2",
			Attestation:  "fake signature",
		}, nil
	}
	return composeReal(commitHash, artifactName, artifactHash)
}

func composeReal(commitHash, artifactName, artifactHash string) (Envelope, error) {
	session, err := nsm.OpenDefaultSession()
	if err != nil {
		return Envelope{}, fmt.Errorf("attestation: open NSM session: %w", err)
	}
	defer session.Close()

	var pcrs [3]string
	for i, index := range measuredPCRIndices {
		res, err := session.Send(&request.DescribePCR{Index: index})
		if err != nil {
			return Envelope{}, fmt.Errorf("attestation: describe PCR%d: %w", index, err)
		}
		if res.Error != "" {
			return Envelope{}, fmt.Errorf("attestation: NSM error describing PCR%d: %s", index, res.Error)
		}
		if res.DescribePCR == nil {
			return Envelope{}, fmt.Errorf("attestation: NSM returned no data for PCR%d", index)
		}
		pcrs[i] = base64.StdEncoding.EncodeToString(res.DescribePCR.Data)
	}

	userData := []byte(UserData(commitHash, artifactName, artifactHash))
	res, err := session.Send(&request.Attestation{UserData: userData})
	if err != nil {
		return Envelope{}, fmt.Errorf("attestation: request attestation: %w", err)
	}
	if res.Error != "" {
		return Envelope{}, fmt.Errorf("attestation: NSM error requesting attestation: %s", res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return Envelope{}, fmt.Errorf("attestation: NSM did not return an attestation document")
	}

	return Envelope{
		CommitHash:   commitHash,
		ArtifactName: artifactName,
		ArtifactHash: artifactHash,
		PCR0:         pcrs[0],
		PCR1:         pcrs[1],
		PCR2:         pcrs[2],
		Attestation:  base64.StdEncoding.EncodeToString(res.Attestation.Document),
	}, nil
}

// UserData builds the exact, order-sensitive binding string embedded in the
// attestation request: "commit_hash=X,artifact_name=Y,artifact_hash=Z". The
// verifier parses this by splitting on ',' then '=' positionally, so the
// field order here must never change without a matching verifier update.
func UserData(commitHash, artifactName, artifactHash string) string {
	return fmt.Sprintf("commit_hash=%s,artifact_name=%s,artifact_hash=%s", commitHash, artifactName, artifactHash)
}

// MarshalEnvelope encodes the envelope as JSON using its struct tags, so
// every caller writing the envelope out produces the same bytes.
func (e Envelope) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(e)
}
