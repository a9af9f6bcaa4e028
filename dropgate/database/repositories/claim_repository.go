package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"

	"github.com/velora/dropgate/dropgate/config"
	"github.com/velora/dropgate/dropgate/database/models"
)

var ErrInvalidClaim = errors.New("invalid claim")

type ClaimRepository interface {
	GetByUserAndDrop(ctx context.Context, userID string, dropID int64) (*models.Claim, error)
	GetByUserAndDropTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (*models.Claim, error)
	InsertTx(ctx context.Context, tx bun.Tx, claim *models.Claim) error
	// UpdateStatusTx transitions a claim from one status to another, reporting
	// whether the row actually moved. Status transitions are monotonic.
	UpdateStatusTx(ctx context.Context, tx bun.Tx, claimID int64, from, to models.ClaimStatus) (bool, error)
	MarkExpired(ctx context.Context, claimID int64) error
	// ExpireOverdue flips every PENDING claim past its expiry to EXPIRED and
	// returns the number of rows updated. Safe to run alongside live claims:
	// it never touches rows that are not already overdue.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Claim, error)
	StartCleanupRoutine(ctx context.Context, interval time.Duration)
}

type claimRepository struct {
	db    *bun.DB
	cache *lru.Cache
}

type claimCacheEntry struct {
	claims    []*models.Claim
	expiresAt time.Time
}

func NewClaimRepository(db *bun.DB) ClaimRepository {
	cache, _ := lru.New(config.ClaimCacheSize)
	return &claimRepository{
		db:    db,
		cache: cache,
	}
}

func (r *claimRepository) GetByUserAndDrop(ctx context.Context, userID string, dropID int64) (*models.Claim, error) {
	return getClaim(ctx, r.db, userID, dropID)
}

func (r *claimRepository) GetByUserAndDropTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (*models.Claim, error) {
	return getClaim(ctx, tx, userID, dropID)
}

func getClaim(ctx context.Context, idb bun.IDB, userID string, dropID int64) (*models.Claim, error) {
	claim := new(models.Claim)
	err := idb.NewSelect().
		Model(claim).
		Where("user_id = ? AND drop_id = ?", userID, dropID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

func (r *claimRepository) InsertTx(ctx context.Context, tx bun.Tx, claim *models.Claim) error {
	if claim.UserID == "" || claim.DropID == 0 || claim.ClaimCode == "" {
		return ErrInvalidClaim
	}

	_, err := tx.NewInsert().Model(claim).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}

	r.cache.Remove(claim.UserID)
	return nil
}

func (r *claimRepository) UpdateStatusTx(ctx context.Context, tx bun.Tx, claimID int64, from, to models.ClaimStatus) (bool, error) {
	result, err := tx.NewUpdate().
		Model((*models.Claim)(nil)).
		Set("status = ?", to).
		Where("id = ?", claimID).
		Where("status = ?", from).
		Exec(ctx)

	if err != nil {
		return false, fmt.Errorf("failed to update claim status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows > 0 {
		r.cache.Purge()
	}
	return rows > 0, nil
}

func (r *claimRepository) MarkExpired(ctx context.Context, claimID int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.Claim)(nil)).
		Set("status = ?", models.ClaimStatusExpired).
		Where("id = ?", claimID).
		Where("status = ?", models.ClaimStatusPending).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to mark claim expired: %w", err)
	}

	r.cache.Purge()
	return nil
}

func (r *claimRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Claim)(nil)).
		Set("status = ?", models.ClaimStatusExpired).
		Where("status = ?", models.ClaimStatusPending).
		Where("expires_at < ?", now).
		Exec(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue claims: %w", err)
	}

	r.cache.Purge()
	return result.RowsAffected()
}

// ListByUser returns the user's claims, newest first. Callers own the
// returned objects: the cache keeps its own copies, so a caller mutating a
// claim (for presentation) never leaks into later listings.
func (r *claimRepository) ListByUser(ctx context.Context, userID string) ([]*models.Claim, error) {
	if cached, ok := r.getCached(userID); ok {
		return copyClaims(cached), nil
	}

	var claims []*models.Claim
	err := r.db.NewSelect().
		Model(&claims).
		Where("user_id = ?", userID).
		Order("claimed_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list user claims: %w", err)
	}

	r.setCached(userID, copyClaims(claims))
	return claims, nil
}

func copyClaims(claims []*models.Claim) []*models.Claim {
	out := make([]*models.Claim, len(claims))
	for i, c := range claims {
		dup := *c
		out[i] = &dup
	}
	return out
}

func (r *claimRepository) getCached(userID string) ([]*models.Claim, bool) {
	if entry, ok := r.cache.Get(userID); ok {
		cached := entry.(claimCacheEntry)
		if time.Now().Before(cached.expiresAt) {
			return cached.claims, true
		}
		r.cache.Remove(userID)
	}
	return nil, false
}

func (r *claimRepository) setCached(userID string, claims []*models.Claim) {
	r.cache.Add(userID, claimCacheEntry{
		claims:    claims,
		expiresAt: time.Now().Add(config.CacheExpiration),
	})
}

// StartCleanupRoutine runs the expiry sweep off the request path. Failures
// are logged, never propagated: the sweep is best-effort and safe to re-run.
func (r *claimRepository) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				updated, err := r.ExpireOverdue(ctx, time.Now())
				if err != nil {
					slog.Error("Failed to expire overdue claims",
						slog.String("type", "db"),
						slog.Any("error", err))
					continue
				}
				if updated > 0 {
					slog.Info("Expired overdue claims",
						slog.String("type", "db"),
						slog.Int64("count", updated))
				}
			}
		}
	}()
}
