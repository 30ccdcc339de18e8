// Package logpublish ships completed builds' attestation entries to the
// external transparency log, authenticating once per process lifetime and
// then POSTing each entry as it arrives.
package logpublish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/metrics"
)

// EntryBufferSize bounds the channel backends enqueue completed
// attestations on, matching the original's CHANNEL_BUFFER_SIZE.
const EntryBufferSize = 10

// Entry is one build's record as published to the transparency log.
type Entry struct {
	CommitHash          string `json:"commit_hash"`
	ArtifactHash        string `json:"artifact_hash"`
	ArtifactName        string `json:"artifact_name"`
	AttestationDocument string `json:"attestation_document"`
}

// Config configures the production publisher.
type Config struct {
	BaseURL  string
	Username string
	Password string
	LogID    string

	// Simulate drains the entry channel without ever making a network
	// call, for local testing and the host-server's --simulate-log-publishing
	// mode.
	Simulate bool
}

// String redacts the password so Config can be logged directly.
func (c Config) String() string {
	return fmt.Sprintf("logpublish.Config{base_url: %s, username: %s, password: %s, log_id: %s, simulate: %t}",
		c.BaseURL, c.Username, common.RedactToken(c.Password), c.LogID, c.Simulate)
}

// ErrAuthFailed means the login endpoint did not return a usable bearer
// token.
var ErrAuthFailed = errors.New("logpublish: authentication failed")

// ErrPublishFailed means an add-logentry call did not succeed.
var ErrPublishFailed = errors.New("logpublish: publish failed")

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Run drains entries until ctx is cancelled, authenticating once up front
// (unless Simulate is set) and POSTing each entry as it arrives.
func Run(ctx context.Context, client *http.Client, cfg Config, entries <-chan Entry, log *logrus.Entry) error {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.Infof("logpublish: starting with config %s", cfg)

	if cfg.Simulate {
		return drain(ctx, entries, func(e Entry) {
			log.WithField("commit_hash", e.CommitHash).Info("logpublish: simulated publish")
		})
	}

	token, err := login(ctx, client, cfg)
	if err != nil {
		return err
	}

	return drainWithError(ctx, entries, func(e Entry) error {
		return publish(ctx, client, cfg, token, e)
	})
}

func login(ctx context.Context, client *http.Client, cfg Config) (string, error) {
	body, err := json.Marshal(loginRequest{Name: cfg.Username, Password: cfg.Password})
	if err != nil {
		return "", fmt.Errorf("logpublish: encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/login/request-access-token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("logpublish: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	tokenBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrAuthFailed, err)
	}
	token := string(tokenBytes)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || token == "" {
		return "", ErrAuthFailed
	}
	return token, nil
}

func publish(ctx context.Context, client *http.Client, cfg Config, token string, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("logpublish: encode entry: %w", err)
	}

	endpoint := fmt.Sprintf("%s/logbuilder/add-logentry?log_id=%s", cfg.BaseURL, url.QueryEscape(cfg.LogID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("logpublish: build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrPublishFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(respBody) == 0 {
		return ErrPublishFailed
	}
	metrics.AttestationsPublished.Inc()
	return nil
}

func drain(ctx context.Context, entries <-chan Entry, fn func(Entry)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			fn(e)
		}
	}
}

func drainWithError(ctx context.Context, entries <-chan Entry, fn func(Entry) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}
