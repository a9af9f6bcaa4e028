package config

import "time"

// Database and performance constants
const (
	DefaultQueryTimeout = 30 * time.Second
	NetworkDialTimeout  = 5 * time.Second

	CacheExpiration = 5 * time.Minute
	ClaimCacheSize  = 10000
)

// Allocation constants
const (
	// DefaultBaseScore seeds every priority score; the seed-derived terms
	// perturb it by at most a few points in either direction.
	DefaultBaseScore = 100

	// ClaimTTL is how long a PENDING claim stays completable.
	ClaimTTL = 24 * time.Hour

	// BurstWindow is the trailing interval used for the rapid-join penalty.
	BurstWindow = 1 * time.Hour

	// MaxClaimTxRetries bounds full-transaction retries on serialization
	// conflicts before surfacing an internal error.
	MaxClaimTxRetries = 3

	ClaimSweepInterval = 15 * time.Minute
)

// Pagination constants
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
