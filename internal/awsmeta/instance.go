// Package awsmeta fetches the EC2 instance identity the Nitro backend is
// running on, purely for attaching it to logs — a Nitro
// enclave's CID is only meaningful relative to the parent instance it was
// launched from.
package awsmeta

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// InstanceID returns the current EC2 instance's id via the IMDS endpoint.
// Returns an error (not a panic or fatal) so callers not running on EC2 —
// e.g. the local backend in development — can simply omit the field.
func InstanceID(ctx context.Context) (string, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("awsmeta: load AWS config: %w", err)
	}

	client := imds.NewFromConfig(cfg)
	out, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return "", fmt.Errorf("awsmeta: fetch instance identity document: %w", err)
	}
	return out.InstanceID, nil
}
