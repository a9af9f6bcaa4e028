package dropgate

import (
	"time"

	"github.com/velora/dropgate/dropgate/config"
	"github.com/velora/dropgate/dropgate/database"
	"github.com/velora/dropgate/dropgate/database/repositories"
	"github.com/velora/dropgate/dropgate/engine"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// App aggregates everything a transport adapter needs: the repositories for
// admin-side access and the engine for the allocation operations.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB                 *database.DB
	UserRepository     repositories.UserRepository
	DropRepository     repositories.DropRepository
	WaitlistRepository repositories.WaitlistRepository
	ClaimRepository    repositories.ClaimRepository
	Seed               *engine.SeedAuthority
	Engine             *engine.Engine
}

// SetupEngine wires the repositories, seed authority and allocation engine
// on top of an established database connection.
func (a *App) SetupEngine() {
	bunDB := a.DB.BunDB()

	a.UserRepository = repositories.NewUserRepository(bunDB)
	a.DropRepository = repositories.NewDropRepository(bunDB)
	a.WaitlistRepository = repositories.NewWaitlistRepository(bunDB)
	a.ClaimRepository = repositories.NewClaimRepository(bunDB)

	a.Seed = engine.NewSeedAuthority(a.Cfg.Seed.RepoPath, a.Cfg.Seed.ParsedProjectStart())

	a.Engine = engine.New(
		a.DropRepository,
		a.WaitlistRepository,
		a.ClaimRepository,
		a.UserRepository,
		repositories.NewBaseRepository(bunDB),
		a.Seed,
		engine.Config{
			BaseScore:    a.Cfg.Engine.BaseScore,
			ClaimTTL:     ttlOrDefault(a.Cfg.Engine.ClaimTTLHours, config.ClaimTTL),
			BurstWindow:  minutesOrDefault(a.Cfg.Engine.BurstWindowMinutes, config.BurstWindow),
			MaxTxRetries: a.Cfg.Engine.MaxTxRetries,
		},
	)
}

// SweepInterval is how often the expiry sweep runs.
func (a *App) SweepInterval() time.Duration {
	return minutesOrDefault(a.Cfg.Engine.SweepMinutes, config.ClaimSweepInterval)
}

func ttlOrDefault(hours int, fallback time.Duration) time.Duration {
	if hours <= 0 {
		return fallback
	}
	return time.Duration(hours) * time.Hour
}

func minutesOrDefault(minutes int, fallback time.Duration) time.Duration {
	if minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}
