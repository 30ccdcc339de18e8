// Command attestverify is the external verifier: given a build's claimed
// measurements and its attestation document, it fetches an inclusion proof
// from the transparency log and checks both the Merkle inclusion and the
// attestation document's Nitro signature before declaring the build
// trustworthy.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linsm/attestable-builds/internal/attestation"
	"github.com/linsm/attestable-builds/internal/transparency"
	"github.com/linsm/attestable-builds/internal/verify"
)

func main() {
	var (
		baseURL             string
		logID               string
		treeSize            int64
		commitHash          string
		artifactHash        string
		artifactName        string
		pcr0, pcr1, pcr2    string
		attestationDocument string
		acceptFake          bool
	)

	root := &cobra.Command{
		Use:   "attestverify",
		Short: "Verify a build's transparency-log inclusion and Nitro attestation",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := verify.LogEntry{
				CommitHash:          commitHash,
				ArtifactHash:        artifactHash,
				ArtifactName:        artifactName,
				AttestationDocument: attestationDocument,
			}
			env := attestation.Envelope{
				CommitHash:   commitHash,
				ArtifactName: artifactName,
				ArtifactHash: artifactHash,
				PCR0:         pcr0,
				PCR1:         pcr1,
				PCR2:         pcr2,
				Attestation:  attestationDocument,
			}

			client := transparency.NewClient(baseURL)
			proof, err := client.RequestInclusionProof(cmd.Context(), logID, treeSize, entry)
			if err != nil {
				return fmt.Errorf("fetch inclusion proof: %w", err)
			}

			if err := verify.ValidateInclusionProof(entry, treeSize, proof); err != nil {
				return fmt.Errorf("inclusion proof: %w", err)
			}

			if err := verify.ValidateAttestationDocument(env, verify.Options{
				AcceptFake:   acceptFake,
				ExpectedPCRs: [3]string{pcr0, pcr1, pcr2},
			}); err != nil {
				return fmt.Errorf("attestation document: %w", err)
			}

			fmt.Println("OK: build is included in the transparency log and its attestation is valid")
			return nil
		},
	}

	flags := root.Flags()
	flags.StringVar(&baseURL, "verifier-personality-base-url", "http://localhost:8090", "transparency log base URL")
	flags.Int64Var(&treeSize, "verifier-tree-size", 0, "tree size to request the inclusion proof against")
	flags.StringVar(&logID, "verifier-log-id", "", "transparency log id")
	flags.StringVar(&commitHash, "commit-hash", "", "expected commit hash")
	flags.StringVar(&artifactHash, "artifact-hash", "", "expected artifact hash")
	flags.StringVar(&artifactName, "artifact-name", "", "expected artifact name")
	flags.StringVar(&pcr0, "pcr0", "", "expected PCR0 value (base64)")
	flags.StringVar(&pcr1, "pcr1", "", "expected PCR1 value (base64)")
	flags.StringVar(&pcr2, "pcr2", "", "expected PCR2 value (base64)")
	flags.StringVar(&attestationDocument, "attestation-document", "", "base64-encoded attestation document")
	flags.BoolVar(&acceptFake, "accept-fake", false, "accept the fake-runner sentinel attestation (never use against a real log)")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "attestverify:", err)
		os.Exit(1)
	}
}
