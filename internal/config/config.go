// Package config loads the host daemon's configuration from environment
// variables via viper. No command-line flags are read here.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/linsm/attestable-builds/internal/runnerarg"
)

// HostConfig is everything the host daemon needs to run one backend and
// one log publisher.
type HostConfig struct {
	Mode             string // "local" or "nitro"
	RunnerStartMode  string // "direct", "sandbox", "sandbox_plus"
	RunnerVersion    string
	GitHubRepository string
	GitHubPATToken   string
	RunnerUser       string
	RunnerUID        uint32
	RunnerGID        uint32

	TransparencyLogBaseURL  string
	TransparencyLogUsername string
	TransparencyLogPassword string
	TransparencyLogID       string

	SimulateWebhookEvent        bool
	SimulateClientUseFakeRunner bool
	SimulateClientUseFakeAttest bool
	SimulateLogPublishing       bool
	BigJob                      bool

	WebhookListenAddr string
	WebhookSecret     string
}

// Load reads configuration from environment variables (prefixed
// ATTESTABLE_BUILDS_) via viper, falling back to the defaults below.
func Load() (HostConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ATTESTABLE_BUILDS")
	v.AutomaticEnv()

	v.SetDefault("mode", "local")
	v.SetDefault("runner_start_mode", "direct")
	v.SetDefault("runner_version", "2.317.0")
	v.SetDefault("webhook_listen_addr", ":8080")

	cfg := HostConfig{
		Mode:            v.GetString("mode"),
		RunnerStartMode: v.GetString("runner_start_mode"),
		RunnerVersion:   v.GetString("runner_version"),

		GitHubRepository: v.GetString("github_repository"),
		GitHubPATToken:   v.GetString("github_pat_token"),
		RunnerUser:       v.GetString("runner_user"),
		RunnerUID:        v.GetUint32("runner_uid"),
		RunnerGID:        v.GetUint32("runner_gid"),

		TransparencyLogBaseURL:  v.GetString("transparency_log_base_url"),
		TransparencyLogUsername: v.GetString("transparency_log_username"),
		TransparencyLogPassword: v.GetString("transparency_log_password"),
		TransparencyLogID:       v.GetString("transparency_log_id"),

		SimulateWebhookEvent:        v.GetBool("simulate_webhook_event"),
		SimulateClientUseFakeRunner: v.GetBool("simulate_client_use_fake_runner"),
		SimulateClientUseFakeAttest: v.GetBool("simulate_client_use_fake_attestation"),
		SimulateLogPublishing:       v.GetBool("simulate_log_publishing"),
		BigJob:                      v.GetBool("big_job"),

		WebhookListenAddr: v.GetString("webhook_listen_addr"),
		WebhookSecret:     v.GetString("webhook_secret"),
	}

	if _, err := runnerarg.ParseStartMode(cfg.RunnerStartMode); err != nil {
		return HostConfig{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Mode != "local" && cfg.Mode != "nitro" {
		return HostConfig{}, fmt.Errorf("config: unknown mode %q (want local or nitro)", cfg.Mode)
	}

	return cfg, nil
}
