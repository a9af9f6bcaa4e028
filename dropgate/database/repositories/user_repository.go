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

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDTx(ctx context.Context, tx bun.Tx, id string) (*models.User, error)
	Upsert(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, r.db, id)
}

func (r *userRepository) GetByIDTx(ctx context.Context, tx bun.Tx, id string) (*models.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, idb bun.IDB, id string) (*models.User, error) {
	user := new(models.User)
	err := idb.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("role = EXCLUDED.role").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
