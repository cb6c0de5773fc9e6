package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  listen: \":9000\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Liveness.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval = %v", cfg.Liveness.SweepInterval)
	}
	if cfg.Liveness.OfflineAfter != 90*time.Second {
		t.Errorf("offline after = %v", cfg.Liveness.OfflineAfter)
	}
	if !cfg.Fallback.Enabled || cfg.Fallback.Timeout != 3*time.Second {
		t.Errorf("fallback = %+v", cfg.Fallback)
	}
	if cfg.Activity.Backend != "sqlite" {
		t.Errorf("activity backend = %q", cfg.Activity.Backend)
	}
}

func TestLoadParsesDurationsAndTokens(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
liveness:
  sweep_interval: 10s
  offline_after: 45s
fallback:
  enabled: false
  timeout: 2s
auth:
  tokens:
    - token: abc
      user_id: u1
    - token: root
      admin: true
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Liveness.SweepInterval != 10*time.Second || cfg.Liveness.OfflineAfter != 45*time.Second {
		t.Errorf("liveness = %+v", cfg.Liveness)
	}
	if cfg.Fallback.Enabled {
		t.Error("fallback should be disabled")
	}
	if len(cfg.Auth.Tokens) != 2 || !cfg.Auth.Tokens[1].Admin {
		t.Errorf("tokens = %+v", cfg.Auth.Tokens)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"offline shorter than sweep": "liveness:\n  sweep_interval: 60s\n  offline_after: 30s\n",
		"unknown activity backend":   "activity:\n  backend: kafka\n",
		"dynamodb without table":     "activity:\n  backend: dynamodb\n",
		"token without user":         "auth:\n  tokens:\n    - token: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
