package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	seedLength       = 12
	fallbackIdentity = "dropgate-fallback"
)

// SeedData is the process-wide fairness seed and the scoring coefficients
// derived from it. Computed once, shared by reference everywhere.
type SeedData struct {
	Seed        string
	Coeffs      Coefficients
	GeneratedAt time.Time
}

// seedInputs identify the deployment: where the code lives and when the
// project began. They only need to be stable, not secret.
type seedInputs struct {
	RepoIdentity string
	FirstCommit  time.Time
	ProjectStart time.Time
}

type inputLookup func() (seedInputs, error)

// SeedAuthority produces the memoized seed. Safe for concurrent use; the
// first Generate wins and every later caller sees the same value.
type SeedAuthority struct {
	mu     sync.RWMutex
	data   *SeedData
	group  singleflight.Group
	lookup inputLookup
}

// NewSeedAuthority derives seed inputs from the git metadata of repoPath,
// with projectStart supplied by configuration.
func NewSeedAuthority(repoPath string, projectStart time.Time) *SeedAuthority {
	return &SeedAuthority{
		lookup: gitInputLookup(repoPath, projectStart),
	}
}

// Generate computes the seed on first call and returns the cached value on
// every call after. It never fails: unavailable inputs degrade to a
// synthetic identity.
func (sa *SeedAuthority) Generate() *SeedData {
	sa.mu.RLock()
	if sa.data != nil {
		defer sa.mu.RUnlock()
		return sa.data
	}
	sa.mu.RUnlock()

	v, _, _ := sa.group.Do("seed", func() (any, error) {
		sa.mu.Lock()
		defer sa.mu.Unlock()
		if sa.data != nil {
			return sa.data, nil
		}

		inputs, err := sa.lookup()
		if err != nil {
			slog.Warn("Seed inputs unavailable, using fallback identity",
				slog.String("type", "sys"),
				slog.Any("error", err))
			inputs = seedInputs{
				RepoIdentity: fallbackIdentity,
				FirstCommit:  time.Now(),
				ProjectStart: time.Now(),
			}
		}

		sa.data = deriveSeed(inputs)
		slog.Info("Fairness seed generated",
			slog.String("type", "sys"),
			slog.String("seed", sa.data.Seed),
			slog.Int("coeff_a", sa.data.Coeffs.A),
			slog.Int("coeff_b", sa.data.Coeffs.B),
			slog.Int("coeff_c", sa.data.Coeffs.C))
		return sa.data, nil
	})
	return v.(*SeedData)
}

// Current returns the cached seed without generating one.
func (sa *SeedAuthority) Current() (*SeedData, bool) {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.data, sa.data != nil
}

// Reset clears the cached seed. Test use only.
func (sa *SeedAuthority) Reset() {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.data = nil
}

func deriveSeed(inputs seedInputs) *SeedData {
	material := fmt.Sprintf("%s|%d|%d",
		inputs.RepoIdentity,
		inputs.FirstCommit.Unix(),
		inputs.ProjectStart.UnixMilli())

	sum := sha256.Sum256([]byte(material))
	seed := hex.EncodeToString(sum[:])[:seedLength]

	return &SeedData{
		Seed:        seed,
		Coeffs:      coefficientsFromSeed(seed),
		GeneratedAt: time.Now(),
	}
}

// coefficientsFromSeed maps two-hex-digit windows of the seed into the fixed
// ranges A in [7,11], B in [13,19], C in [3,5]. The ranges keep the modulo
// perturbations in scoring small and non-degenerate.
func coefficientsFromSeed(seed string) Coefficients {
	window := func(offset int) int {
		v, err := strconv.ParseInt(seed[offset:offset+2], 16, 32)
		if err != nil {
			return 0
		}
		return int(v)
	}
	return Coefficients{
		A: 7 + window(0)%5,
		B: 13 + window(2)%7,
		C: 3 + window(4)%3,
	}
}

func gitInputLookup(repoPath string, projectStart time.Time) inputLookup {
	return func() (seedInputs, error) {
		remote, err := gitOutput(repoPath, "config", "--get", "remote.origin.url")
		if err != nil {
			return seedInputs{}, fmt.Errorf("failed to read remote url: %w", err)
		}

		rootCommit, err := gitOutput(repoPath, "rev-list", "--max-parents=0", "HEAD")
		if err != nil {
			return seedInputs{}, fmt.Errorf("failed to find root commit: %w", err)
		}
		// A repo can have multiple root commits; the first line is enough.
		if i := strings.IndexByte(rootCommit, '\n'); i >= 0 {
			rootCommit = rootCommit[:i]
		}

		epoch, err := gitOutput(repoPath, "show", "-s", "--format=%ct", rootCommit)
		if err != nil {
			return seedInputs{}, fmt.Errorf("failed to read root commit time: %w", err)
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(epoch), 10, 64)
		if err != nil {
			return seedInputs{}, fmt.Errorf("failed to parse commit epoch %q: %w", epoch, err)
		}

		return seedInputs{
			RepoIdentity: strings.TrimSpace(remote),
			FirstCommit:  time.Unix(sec, 0),
			ProjectStart: projectStart,
		}, nil
	}
}

func gitOutput(repoPath string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
