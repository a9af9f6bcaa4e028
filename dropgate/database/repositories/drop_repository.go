package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/velora/dropgate/dropgate/database/models"
)

var ErrDropHasChildren = errors.New("drop still has waitlist entries or claims")

type DropStats struct {
	TotalStock     int `json:"total_stock"`
	ClaimedStock   int `json:"claimed_stock"`
	AvailableStock int `json:"available_stock"`
	WaitlistCount  int `json:"waitlist_count"`
	ClaimCount     int `json:"claim_count"`
}

type DropRepository interface {
	Create(ctx context.Context, drop *models.Drop) error
	GetByID(ctx context.Context, id int64) (*models.Drop, error)
	GetByIDTx(ctx context.Context, tx bun.Tx, id int64) (*models.Drop, error)
	// GetForUpdateTx loads the drop row with FOR UPDATE, forcing concurrent
	// claim transactions on the same drop to serialize.
	GetForUpdateTx(ctx context.Context, tx bun.Tx, id int64) (*models.Drop, error)
	IncrementClaimedTx(ctx context.Context, tx bun.Tx, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	GetStats(ctx context.Context, id int64) (*DropStats, error)
}

type dropRepository struct {
	db *bun.DB
}

func NewDropRepository(db *bun.DB) DropRepository {
	return &dropRepository{db: db}
}

func (r *dropRepository) Create(ctx context.Context, drop *models.Drop) error {
	if drop.TotalStock <= 0 {
		return fmt.Errorf("total stock must be positive, got %d", drop.TotalStock)
	}
	if err := validateWindows(drop); err != nil {
		return err
	}

	drop.CreatedAt = time.Now()
	drop.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().Model(drop).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create drop: %w", err)
	}
	return nil
}

// validateWindows enforces start <= claimWindowStart < claimWindowEnd <= end.
func validateWindows(drop *models.Drop) error {
	if drop.StartsAt.After(drop.ClaimWindowStart) {
		return fmt.Errorf("claim window start %v precedes drop start %v", drop.ClaimWindowStart, drop.StartsAt)
	}
	if !drop.ClaimWindowStart.Before(drop.ClaimWindowEnd) {
		return fmt.Errorf("claim window start %v must precede claim window end %v", drop.ClaimWindowStart, drop.ClaimWindowEnd)
	}
	if drop.ClaimWindowEnd.After(drop.EndsAt) {
		return fmt.Errorf("claim window end %v exceeds drop end %v", drop.ClaimWindowEnd, drop.EndsAt)
	}
	return nil
}

func (r *dropRepository) GetByID(ctx context.Context, id int64) (*models.Drop, error) {
	drop := new(models.Drop)
	err := r.db.NewSelect().
		Model(drop).
		Where("id = ?", id).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drop: %w", err)
	}
	return drop, nil
}

func (r *dropRepository) GetByIDTx(ctx context.Context, tx bun.Tx, id int64) (*models.Drop, error) {
	drop := new(models.Drop)
	err := tx.NewSelect().
		Model(drop).
		Where("id = ?", id).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drop: %w", err)
	}
	return drop, nil
}

func (r *dropRepository) GetForUpdateTx(ctx context.Context, tx bun.Tx, id int64) (*models.Drop, error) {
	drop := new(models.Drop)
	err := tx.NewSelect().
		Model(drop).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock drop for update: %w", err)
	}
	return drop, nil
}

func (r *dropRepository) IncrementClaimedTx(ctx context.Context, tx bun.Tx, id int64) error {
	result, err := tx.NewUpdate().
		Model((*models.Drop)(nil)).
		Set("claimed_stock = claimed_stock + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("claimed_stock < total_stock").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to increment claimed stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("drop %d has no stock left to claim", id)
	}
	return nil
}

func (r *dropRepository) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.NewUpdate().
		Model((*models.Drop)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update drop active flag: %w", err)
	}
	return nil
}

// Delete refuses to remove a drop that still owns waitlist entries or claims.
func (r *dropRepository) Delete(ctx context.Context, id int64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		waitlisted, err := tx.NewSelect().
			Model((*models.WaitlistEntry)(nil)).
			Where("drop_id = ?", id).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count waitlist entries: %w", err)
		}

		claims, err := tx.NewSelect().
			Model((*models.Claim)(nil)).
			Where("drop_id = ?", id).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count claims: %w", err)
		}

		if waitlisted > 0 || claims > 0 {
			return ErrDropHasChildren
		}

		_, err = tx.NewDelete().
			Model((*models.Drop)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete drop: %w", err)
		}
		return nil
	})
}

func (r *dropRepository) GetStats(ctx context.Context, id int64) (*DropStats, error) {
	drop, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if drop == nil {
		return nil, fmt.Errorf("drop %d not found", id)
	}

	waitlisted, err := r.db.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("drop_id = ?", id).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count waitlist entries: %w", err)
	}

	claims, err := r.db.NewSelect().
		Model((*models.Claim)(nil)).
		Where("drop_id = ?", id).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count claims: %w", err)
	}

	return &DropStats{
		TotalStock:     drop.TotalStock,
		ClaimedStock:   drop.ClaimedStock,
		AvailableStock: drop.AvailableStock(),
		WaitlistCount:  waitlisted,
		ClaimCount:     claims,
	}, nil
}
