package dropgate

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	raw := `
[log]
level = "debug"
format = "text"

[db]
host = "localhost"
port = 5432
user = "dropgate"
password = "secret"
database = "dropgate"

[seed]
repo_path = "."
project_start = "2025-01-15T00:00:00Z"

[engine]
base_score = 150
claim_ttl_hours = 12
burst_window_minutes = 30
max_tx_retries = 5
sweep_minutes = 10
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.DB.Host != "localhost" || cfg.DB.Port != 5432 {
		t.Errorf("db config = %s:%d, want localhost:5432", cfg.DB.Host, cfg.DB.Port)
	}
	if got := cfg.Log.SlogLevel(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want %v", got, slog.LevelDebug)
	}
	if cfg.Engine.BaseScore != 150 {
		t.Errorf("base score = %d, want 150", cfg.Engine.BaseScore)
	}
	if cfg.Engine.ClaimTTLHours != 12 {
		t.Errorf("claim ttl hours = %d, want 12", cfg.Engine.ClaimTTLHours)
	}

	want := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	if !cfg.Seed.ParsedProjectStart().Equal(want) {
		t.Errorf("project start = %v, want %v", cfg.Seed.ParsedProjectStart(), want)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("LoadConfig() succeeded on a missing file")
	}
}

func TestSeedConfig_ParsedProjectStart_Malformed(t *testing.T) {
	cfg := SeedConfig{ProjectStart: "not-a-timestamp"}
	if !cfg.ParsedProjectStart().IsZero() {
		t.Error("malformed project start did not parse to the zero time")
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"warn", "warn", slog.LevelWarn},
		{"error uppercase", "ERROR", slog.LevelError},
		{"unset defaults to info", "", slog.LevelInfo},
		{"garbage defaults to info", "loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LogConfig{Level: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
