package dropgate

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/velora/dropgate/dropgate/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log    LogConfig         `toml:"log"`
	DB     database.DBConfig `toml:"db"`
	Seed   SeedConfig        `toml:"seed"`
	Engine EngineConfig      `toml:"engine"`
}

type LogConfig struct {
	Level     string `toml:"level"` // debug, info, warn, error
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// SlogLevel parses the configured level name, defaulting to Info when unset
// or unrecognized.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SeedConfig identifies the deployment for fairness-seed derivation.
type SeedConfig struct {
	RepoPath     string `toml:"repo_path"`
	ProjectStart string `toml:"project_start"` // RFC 3339
}

// ParsedProjectStart returns the configured project start, or the zero time
// when unset or malformed; the seed authority treats both the same.
func (s SeedConfig) ParsedProjectStart() time.Time {
	t, err := time.Parse(time.RFC3339, s.ProjectStart)
	if err != nil {
		return time.Time{}
	}
	return t
}

type EngineConfig struct {
	BaseScore          int64 `toml:"base_score"`
	ClaimTTLHours      int   `toml:"claim_ttl_hours"`
	BurstWindowMinutes int   `toml:"burst_window_minutes"`
	MaxTxRetries       int   `toml:"max_tx_retries"`
	SweepMinutes       int   `toml:"sweep_minutes"`
}
