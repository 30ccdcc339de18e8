// Package transparency fetches inclusion proofs from the transparency log
// on behalf of the verifier CLI.
package transparency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/linsm/attestable-builds/internal/verify"
)

// Client requests inclusion proofs from one transparency log deployment.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient constructs a Client, defaulting to http.DefaultClient.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: http.DefaultClient}
}

// RequestInclusionProof asks the log for the inclusion proof of entry at
// the given tree size and log id, returning the first proof in the
// response (the log may return more than one candidate leaf for the same
// content hash; the first is the canonical one).
func (c *Client) RequestInclusionProof(ctx context.Context, logID string, treeSize int64, entry verify.LogEntry) (verify.InclusionProof, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return verify.InclusionProof{}, fmt.Errorf("transparency: encode entry: %w", err)
	}

	url := fmt.Sprintf("%s/log/inclusion-proof?log_id=%s&tree_size=%d", c.BaseURL, logID, treeSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return verify.InclusionProof{}, fmt.Errorf("transparency: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return verify.InclusionProof{}, fmt.Errorf("transparency: request inclusion proof: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return verify.InclusionProof{}, fmt.Errorf("transparency: inclusion-proof request failed: status %d", resp.StatusCode)
	}

	var proofs []verify.InclusionProof
	if err := json.NewDecoder(resp.Body).Decode(&proofs); err != nil {
		return verify.InclusionProof{}, fmt.Errorf("transparency: decode response: %w", err)
	}
	if len(proofs) == 0 {
		return verify.InclusionProof{}, fmt.Errorf("transparency: no inclusion proof returned for entry")
	}
	return proofs[0], nil
}
