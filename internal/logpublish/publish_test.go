package logpublish

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestConfigStringRedactsPassword(t *testing.T) {
	cfg := Config{BaseURL: "https://log.example", Username: "svc", Password: "supersecret", LogID: "log1"}
	s := cfg.String()
	if contains(s, "supersecret") {
		t.Errorf("Config.String() leaked password: %s", s)
	}
}

func TestRunSimulateDrainsWithoutNetwork(t *testing.T) {
	entries := make(chan Entry, 1)
	entries <- Entry{CommitHash: "abc"}
	close(entries)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := Run(ctx, http.DefaultClient, Config{Simulate: true}, entries, nil)
	if err != nil {
		t.Errorf("Run(simulate): %v", err)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
