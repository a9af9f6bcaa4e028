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

type WaitlistRepository interface {
	GetEntry(ctx context.Context, userID string, dropID int64) (*models.WaitlistEntry, error)
	GetEntryTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (*models.WaitlistEntry, error)
	InsertTx(ctx context.Context, tx bun.Tx, entry *models.WaitlistEntry) error
	Delete(ctx context.Context, userID string, dropID int64) (bool, error)
	DeleteTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (bool, error)
	// Rank returns the 1-based position of entry within its drop's waitlist:
	// entries with a strictly higher score, plus entries with an equal score
	// and an earlier join, plus one.
	Rank(ctx context.Context, entry *models.WaitlistEntry) (int, error)
	RankTx(ctx context.Context, tx bun.Tx, entry *models.WaitlistEntry) (int, error)
	ListByDrop(ctx context.Context, dropID int64, page, pageSize int) ([]*models.WaitlistEntry, int, error)
	CountByDrop(ctx context.Context, dropID int64) (int, error)
	// CountRecentJoinsTx counts the user's waitlist joins across all drops
	// since the given instant. Feeds the burst penalty in scoring.
	CountRecentJoinsTx(ctx context.Context, tx bun.Tx, userID string, since time.Time) (int, error)
}

type waitlistRepository struct {
	db *bun.DB
}

func NewWaitlistRepository(db *bun.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

func (r *waitlistRepository) GetEntry(ctx context.Context, userID string, dropID int64) (*models.WaitlistEntry, error) {
	return getEntry(ctx, r.db, userID, dropID)
}

func (r *waitlistRepository) GetEntryTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (*models.WaitlistEntry, error) {
	return getEntry(ctx, tx, userID, dropID)
}

func getEntry(ctx context.Context, idb bun.IDB, userID string, dropID int64) (*models.WaitlistEntry, error) {
	entry := new(models.WaitlistEntry)
	err := idb.NewSelect().
		Model(entry).
		Where("user_id = ? AND drop_id = ?", userID, dropID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return entry, nil
}

func (r *waitlistRepository) InsertTx(ctx context.Context, tx bun.Tx, entry *models.WaitlistEntry) error {
	_, err := tx.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert waitlist entry: %w", err)
	}
	return nil
}

func (r *waitlistRepository) Delete(ctx context.Context, userID string, dropID int64) (bool, error) {
	return deleteEntry(ctx, r.db, userID, dropID)
}

func (r *waitlistRepository) DeleteTx(ctx context.Context, tx bun.Tx, userID string, dropID int64) (bool, error) {
	return deleteEntry(ctx, tx, userID, dropID)
}

func deleteEntry(ctx context.Context, idb bun.IDB, userID string, dropID int64) (bool, error) {
	result, err := idb.NewDelete().
		Model((*models.WaitlistEntry)(nil)).
		Where("user_id = ? AND drop_id = ?", userID, dropID).
		Exec(ctx)

	if err != nil {
		return false, fmt.Errorf("failed to delete waitlist entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *waitlistRepository) Rank(ctx context.Context, entry *models.WaitlistEntry) (int, error) {
	return rank(ctx, r.db, entry)
}

func (r *waitlistRepository) RankTx(ctx context.Context, tx bun.Tx, entry *models.WaitlistEntry) (int, error) {
	return rank(ctx, tx, entry)
}

func rank(ctx context.Context, idb bun.IDB, entry *models.WaitlistEntry) (int, error) {
	ahead, err := idb.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("drop_id = ?", entry.DropID).
		Where("COALESCE(score, 0) > ? OR (COALESCE(score, 0) = ? AND joined_at < ?)",
			entry.Score, entry.Score, entry.JoinedAt).
		Count(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to compute waitlist rank: %w", err)
	}
	return ahead + 1, nil
}

func (r *waitlistRepository) ListByDrop(ctx context.Context, dropID int64, page, pageSize int) ([]*models.WaitlistEntry, int, error) {
	total, err := r.CountByDrop(ctx, dropID)
	if err != nil {
		return nil, 0, err
	}

	var entries []*models.WaitlistEntry
	err = r.db.NewSelect().
		Model(&entries).
		Where("drop_id = ?", dropID).
		OrderExpr("COALESCE(score, 0) DESC, joined_at ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Scan(ctx)

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list waitlist entries: %w", err)
	}
	return entries, total, nil
}

func (r *waitlistRepository) CountByDrop(ctx context.Context, dropID int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("drop_id = ?", dropID).
		Count(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to count waitlist entries: %w", err)
	}
	return count, nil
}

func (r *waitlistRepository) CountRecentJoinsTx(ctx context.Context, tx bun.Tx, userID string, since time.Time) (int, error) {
	count, err := tx.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("user_id = ?", userID).
		Where("joined_at > ?", since).
		Count(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to count recent joins: %w", err)
	}
	return count, nil
}
