// Package verify checks the two independent proofs a verifier needs before
// trusting a build's output: that its log entry is included in the
// transparency log (a Merkle inclusion proof), and that its attestation
// document was genuinely signed by Nitro hardware over the expected
// measurements (a COSE/X.509 chain check).
package verify

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/bits"
)

// LogEntry is the exact byte-for-byte content hashed into the transparency
// log leaf for one build. Field order is part of the wire contract: it
// determines the bytes fed to the leaf hash.
type LogEntry struct {
	CommitHash          string `json:"commit_hash"`
	ArtifactHash        string `json:"artifact_hash"`
	ArtifactName        string `json:"artifact_name"`
	AttestationDocument string `json:"attestation_document"`
}

// byteArray concatenates the entry's fields in declared order with no
// separators, matching the original log-entry hash input exactly.
func (e LogEntry) byteArray() []byte {
	buf := make([]byte, 0, len(e.CommitHash)+len(e.ArtifactHash)+len(e.ArtifactName)+len(e.AttestationDocument))
	buf = append(buf, e.CommitHash...)
	buf = append(buf, e.ArtifactHash...)
	buf = append(buf, e.ArtifactName...)
	buf = append(buf, e.AttestationDocument...)
	return buf
}

// MerkleHash is the log's leaf hash for this entry: base64(SHA256(0x00 ||
// byteArray())). The 0x00 prefix distinguishes leaf hashes from the 0x01
// prefix used for inner nodes, the standard second-preimage defense for
// Merkle trees.
func (e LogEntry) MerkleHash() string {
	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write(e.byteArray())
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// InclusionProof is the response shape returned by the transparency log's
// inclusion-proof endpoint for one leaf.
type InclusionProof struct {
	LeafIndex int64    `json:"leaf_index"`
	Hashes    []string `json:"hashes"`
	LogRoot   string   `json:"log_root"` // base64-encoded, framed signed log root
}

// innerNodeHash combines two base64-encoded child hashes into their
// base64-encoded parent: base64(SHA256(0x01 || raw(left) || raw(right))).
func innerNodeHash(left, right string) (string, error) {
	l, err := base64.StdEncoding.DecodeString(left)
	if err != nil {
		return "", fmt.Errorf("verify: decode left hash: %w", err)
	}
	r, err := base64.StdEncoding.DecodeString(right)
	if err != nil {
		return "", fmt.Errorf("verify: decode right hash: %w", err)
	}
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(l)
	h.Write(r)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// calculateRootNode recomputes the Merkle root from a leaf hash and its
// inclusion path. inner is the number of levels at which the proof path
// diverges from an all-zero leaf index XORed with tree_size-1; below that
// level the sibling's position is read off leafIndex's bits, above it the
// path hash is always treated as the left sibling.
func calculateRootNode(leafIndex int64, merkleHash string, treeSize int64, hashes []string) (string, error) {
	inner := 64 - bits.LeadingZeros64(uint64(leafIndex^(treeSize-1)))

	result := merkleHash
	for i, h := range hashes {
		var err error
		if i < inner && (leafIndex>>uint(i))&1 == 0 {
			result, err = innerNodeHash(result, h)
		} else {
			result, err = innerNodeHash(h, result)
		}
		if err != nil {
			return "", err
		}
	}
	return result, nil
}

// logRootFromSignedLogRoot extracts the root hash embedded in a signed log
// root blob: the blob is base64-decoded, byte 10 holds the root hash's
// length, and the following that-many bytes are the root hash itself.
func logRootFromSignedLogRoot(signedLogRoot string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signedLogRoot)
	if err != nil {
		return "", fmt.Errorf("verify: decode signed log root: %w", err)
	}
	if len(raw) < 11 {
		return "", fmt.Errorf("verify: signed log root too short (%d bytes)", len(raw))
	}
	length := int(raw[10])
	if len(raw) < 11+length {
		return "", fmt.Errorf("verify: signed log root truncated: want %d bytes after header, have %d", length, len(raw)-11)
	}
	root := raw[11 : 11+length]
	return base64.StdEncoding.EncodeToString(root), nil
}

// ErrInclusionCheckFailed indicates the recomputed Merkle root did not
// match the log's signed root.
type ErrInclusionCheckFailed struct {
	Got, Want string
}

func (e *ErrInclusionCheckFailed) Error() string {
	return fmt.Sprintf("verify: inclusion check failed: recomputed root %q, log root %q", e.Got, e.Want)
}

// ValidateInclusionProof recomputes the Merkle root for entry under proof
// and checks it against the root embedded in proof.LogRoot (P7).
func ValidateInclusionProof(entry LogEntry, treeSize int64, proof InclusionProof) error {
	got, err := calculateRootNode(proof.LeafIndex, entry.MerkleHash(), treeSize, proof.Hashes)
	if err != nil {
		return err
	}
	want, err := logRootFromSignedLogRoot(proof.LogRoot)
	if err != nil {
		return err
	}
	if got != want {
		return &ErrInclusionCheckFailed{Got: got, Want: want}
	}
	return nil
}
