package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/velora/dropgate/dropgate/config"
	"github.com/velora/dropgate/dropgate/database/models"
	"github.com/velora/dropgate/dropgate/database/repositories"
)

// Config carries the engine's tunables. Zero values fall back to the
// defaults in Normalize.
type Config struct {
	BaseScore    int64
	ClaimTTL     time.Duration
	BurstWindow  time.Duration
	MaxTxRetries int
}

func (c Config) Normalize() Config {
	if c.BaseScore <= 0 {
		c.BaseScore = config.DefaultBaseScore
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = config.ClaimTTL
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = config.BurstWindow
	}
	if c.MaxTxRetries <= 0 {
		c.MaxTxRetries = config.MaxClaimTxRetries
	}
	return c
}

// Engine arbitrates waitlist membership and claim allocation for drops.
// All cross-entity invariants are enforced through the store's transactions;
// the per-drop lock manager only keeps local claim bursts off the row lock.
type Engine struct {
	drops    repositories.DropRepository
	waitlist repositories.WaitlistRepository
	claims   repositories.ClaimRepository
	users    repositories.UserRepository
	tx       repositories.TxRunner
	seed     *SeedAuthority
	locks    *DropLockManager
	cfg      Config

	now func() time.Time
}

func New(
	drops repositories.DropRepository,
	waitlist repositories.WaitlistRepository,
	claims repositories.ClaimRepository,
	users repositories.UserRepository,
	tx repositories.TxRunner,
	seed *SeedAuthority,
	cfg Config,
) *Engine {
	return &Engine{
		drops:    drops,
		waitlist: waitlist,
		claims:   claims,
		users:    users,
		tx:       tx,
		seed:     seed,
		locks:    NewDropLockManager(),
		cfg:      cfg.Normalize(),
		now:      time.Now,
	}
}

type JoinResult struct {
	Entry *models.WaitlistEntry
	IsNew bool
}

type ClaimResult struct {
	Claim *models.Claim
	Drop  *models.Drop
	IsNew bool
}

type ClaimStatusResult struct {
	HasClaim bool
	Claim    *models.Claim
}

type WaitlistPage struct {
	Entries  []models.RankedEntry
	PageInfo models.PageInfo
}

// JoinWaitlist registers interest in a drop. Idempotent: an existing entry is
// returned unchanged with IsNew=false. Existence check, eligibility check,
// scoring reads and the insert all run in one transaction; the unique index
// on (user_id, drop_id) resolves concurrent duplicate joins.
func (e *Engine) JoinWaitlist(ctx context.Context, userID string, dropID int64) (*JoinResult, error) {
	var result *JoinResult

	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		existing, err := e.waitlist.GetEntryTx(ctx, tx, userID, dropID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &JoinResult{Entry: existing, IsNew: false}
			return nil
		}

		drop, err := e.drops.GetByIDTx(ctx, tx, dropID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := checkJoinEligibility(drop, dropID, now); err != nil {
			return err
		}

		entry := &models.WaitlistEntry{
			UserID:   userID,
			DropID:   dropID,
			Score:    e.scoreJoin(ctx, tx, drop, userID, now),
			JoinedAt: now,
		}
		if err := e.waitlist.InsertTx(ctx, tx, entry); err != nil {
			return err
		}

		result = &JoinResult{Entry: entry, IsNew: true}
		return nil
	})

	if err != nil {
		if repositories.IsUniqueViolation(err) {
			// Lost the race to another join for the same (user, drop).
			entry, gerr := e.waitlist.GetEntry(ctx, userID, dropID)
			if gerr == nil && entry != nil {
				return &JoinResult{Entry: entry, IsNew: false}, nil
			}
		}
		if isBusinessError(err) {
			return nil, err
		}
		return nil, &InternalError{Operation: "join_waitlist", Err: err}
	}

	if result.IsNew {
		slog.Info("User joined waitlist",
			slog.String("type", "db"),
			slog.String("user_id", userID),
			slog.Int64("drop_id", dropID),
			slog.Int64("score", result.Entry.Score))
	}
	return result, nil
}

// checkJoinEligibility maps each violation to its own condition so callers
// can render distinct responses.
func checkJoinEligibility(drop *models.Drop, dropID int64, now time.Time) error {
	if drop == nil {
		return &NotFoundError{Code: CodeDropNotFound, Entity: "drop", ID: dropID}
	}
	if !drop.Active {
		return &ConflictError{Code: CodeDropInactive, Message: fmt.Sprintf("drop %d is not active", drop.ID)}
	}
	if now.Before(drop.StartsAt) {
		return &ConflictError{Code: CodeDropNotStarted, Message: fmt.Sprintf("drop %d has not started", drop.ID)}
	}
	if !now.Before(drop.ClaimWindowStart) || !now.Before(drop.EndsAt) {
		return &ConflictError{Code: CodePhaseEnded, Message: fmt.Sprintf("waitlist phase for drop %d has ended", drop.ID)}
	}
	if drop.SoldOut() {
		return &ConflictError{Code: CodeSoldOut, Message: fmt.Sprintf("drop %d is sold out", drop.ID)}
	}
	return nil
}

// scoreJoin computes the priority score from the three fairness signals. Any
// missing input degrades to the bare base score: a join never fails because
// scoring failed.
func (e *Engine) scoreJoin(ctx context.Context, tx bun.Tx, drop *models.Drop, userID string, now time.Time) int64 {
	seed, ok := e.seed.Current()
	if !ok {
		slog.Warn("No fairness seed available, using base score",
			slog.String("type", "sys"),
			slog.String("user_id", userID))
		return e.cfg.BaseScore
	}

	user, err := e.users.GetByIDTx(ctx, tx, userID)
	if err != nil || user == nil {
		return e.cfg.BaseScore
	}

	recentJoins, err := e.waitlist.CountRecentJoinsTx(ctx, tx, userID, now.Add(-e.cfg.BurstWindow))
	if err != nil {
		return e.cfg.BaseScore
	}

	latencyMs := now.Sub(drop.StartsAt).Milliseconds()
	ageDays := int(now.Sub(user.CreatedAt).Hours() / 24)
	// The burst count includes the join being scored.
	return Score(e.cfg.BaseScore, latencyMs, ageDays, recentJoins+1, seed.Coeffs)
}

// LeaveWaitlist removes the user's entry. Idempotent: succeeds whether or not
// an entry existed. Once the claim window has started, membership is frozen
// so positions cannot be gamed by re-entry.
func (e *Engine) LeaveWaitlist(ctx context.Context, userID string, dropID int64) error {
	drop, err := e.drops.GetByID(ctx, dropID)
	if err != nil {
		return &InternalError{Operation: "leave_waitlist", Err: err}
	}
	if drop == nil {
		return &NotFoundError{Code: CodeDropNotFound, Entity: "drop", ID: dropID}
	}
	if !e.now().Before(drop.ClaimWindowStart) {
		return &ForbiddenError{
			Code:    CodeWaitlistLocked,
			Message: fmt.Sprintf("waitlist for drop %d is frozen: claim window has started", dropID),
		}
	}

	if _, err := e.waitlist.Delete(ctx, userID, dropID); err != nil {
		return &InternalError{Operation: "leave_waitlist", Err: err}
	}
	return nil
}

// GetWaitlistPosition returns the user's 1-based rank, or ok=false when the
// user is not on the waitlist.
func (e *Engine) GetWaitlistPosition(ctx context.Context, userID string, dropID int64) (int, bool, error) {
	entry, err := e.waitlist.GetEntry(ctx, userID, dropID)
	if err != nil {
		return 0, false, &InternalError{Operation: "get_position", Err: err}
	}
	if entry == nil {
		return 0, false, nil
	}

	rank, err := e.waitlist.Rank(ctx, entry)
	if err != nil {
		return 0, false, &InternalError{Operation: "get_position", Err: err}
	}
	return rank, true, nil
}

// ListWaitlist returns one page of the drop's waitlist ordered by score
// descending, join time ascending, each entry annotated with its position.
func (e *Engine) ListWaitlist(ctx context.Context, dropID int64, page, pageSize int) (*WaitlistPage, error) {
	drop, err := e.drops.GetByID(ctx, dropID)
	if err != nil {
		return nil, &InternalError{Operation: "list_waitlist", Err: err}
	}
	if drop == nil {
		return nil, &NotFoundError{Code: CodeDropNotFound, Entity: "drop", ID: dropID}
	}

	page, pageSize = normalizePage(page, pageSize)

	entries, total, err := e.waitlist.ListByDrop(ctx, dropID, page, pageSize)
	if err != nil {
		return nil, &InternalError{Operation: "list_waitlist", Err: err}
	}

	ranked := make([]models.RankedEntry, len(entries))
	offset := (page - 1) * pageSize
	for i, entry := range entries {
		ranked[i] = models.RankedEntry{Entry: entry, Position: offset + i + 1}
	}

	return &WaitlistPage{
		Entries:  ranked,
		PageInfo: models.NewPageInfo(page, pageSize, total),
	}, nil
}

// ClaimDrop converts waitlist membership into a claim. The whole path runs as
// one transaction serialized per drop by the FOR UPDATE lock on the drop row;
// serialization conflicts retry the entire transaction from step one.
func (e *Engine) ClaimDrop(ctx context.Context, userID string, dropID int64) (*ClaimResult, error) {
	e.locks.Acquire(dropID)
	defer e.locks.Release(dropID)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxTxRetries; attempt++ {
		result, err := e.claimOnce(ctx, userID, dropID)
		if err == nil {
			if result.IsNew {
				slog.Info("Claim issued",
					slog.String("type", "db"),
					slog.String("user_id", userID),
					slog.Int64("drop_id", dropID),
					slog.String("claim_code", result.Claim.ClaimCode))
			}
			return result, nil
		}
		if isBusinessError(err) {
			return nil, err
		}
		if !repositories.IsSerializationFailure(err) {
			return nil, &InternalError{Operation: "claim_drop", Err: err}
		}

		lastErr = err
		slog.Warn("Claim transaction serialization conflict, retrying",
			slog.String("type", "db"),
			slog.Int64("drop_id", dropID),
			slog.Int("attempt", attempt))
	}

	return nil, &InternalError{Operation: "claim_drop", Err: lastErr}
}

func (e *Engine) claimOnce(ctx context.Context, userID string, dropID int64) (*ClaimResult, error) {
	var result *ClaimResult

	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		drop, err := e.drops.GetForUpdateTx(ctx, tx, dropID)
		if err != nil {
			return err
		}
		if drop == nil {
			return &NotFoundError{Code: CodeDropNotFound, Entity: "drop", ID: dropID}
		}
		if !drop.Active {
			return &ConflictError{Code: CodeDropInactive, Message: fmt.Sprintf("drop %d is not active", dropID)}
		}

		now := e.now()
		if now.Before(drop.ClaimWindowStart) {
			return &ConflictError{Code: CodeWindowNotOpen, Message: fmt.Sprintf("claim window for drop %d has not opened", dropID)}
		}
		if !now.Before(drop.ClaimWindowEnd) {
			return &ConflictError{Code: CodeWindowClosed, Message: fmt.Sprintf("claim window for drop %d has closed", dropID)}
		}

		// Retried claims return the existing row untouched, even when that
		// claim consumed the last unit.
		existing, err := e.claims.GetByUserAndDropTx(ctx, tx, userID, dropID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &ClaimResult{Claim: existing, Drop: drop, IsNew: false}
			return nil
		}

		// Global gate before any per-user eligibility logic.
		if drop.SoldOut() {
			return &ConflictError{Code: CodeSoldOut, Message: fmt.Sprintf("drop %d is sold out", dropID)}
		}

		entry, err := e.waitlist.GetEntryTx(ctx, tx, userID, dropID)
		if err != nil {
			return err
		}
		if entry == nil {
			return &ForbiddenError{
				Code:    CodeNotInWaitlist,
				Message: fmt.Sprintf("user %s never joined the waitlist for drop %d", userID, dropID),
			}
		}

		rank, err := e.waitlist.RankTx(ctx, tx, entry)
		if err != nil {
			return err
		}

		available := drop.AvailableStock()
		if rank > available {
			return &ForbiddenError{
				Code:           CodeNotEligible,
				Message:        fmt.Sprintf("user %s is not eligible to claim drop %d", userID, dropID),
				Position:       rank,
				AvailableStock: available,
			}
		}

		seed, _ := e.seed.Current()
		code, err := GenerateClaimCode(seed, dropID, userID, now)
		if err != nil {
			return err
		}

		claim := &models.Claim{
			UserID:    userID,
			DropID:    dropID,
			ClaimCode: code,
			Status:    models.ClaimStatusPending,
			ClaimedAt: now,
			ExpiresAt: now.Add(e.cfg.ClaimTTL),
		}
		if err := e.claims.InsertTx(ctx, tx, claim); err != nil {
			return err
		}
		if err := e.drops.IncrementClaimedTx(ctx, tx, dropID); err != nil {
			return err
		}
		if _, err := e.waitlist.DeleteTx(ctx, tx, userID, dropID); err != nil {
			return err
		}

		drop.ClaimedStock++
		result = &ClaimResult{Claim: claim, Drop: drop, IsNew: true}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetClaimStatus reports whether the user holds a claim for the drop. A
// pending claim past its expiry is marked EXPIRED lazily on this read.
func (e *Engine) GetClaimStatus(ctx context.Context, userID string, dropID int64) (*ClaimStatusResult, error) {
	claim, err := e.claims.GetByUserAndDrop(ctx, userID, dropID)
	if err != nil {
		return nil, &InternalError{Operation: "get_claim_status", Err: err}
	}
	if claim == nil {
		return &ClaimStatusResult{HasClaim: false}, nil
	}

	if claim.ExpiredBy(e.now()) {
		if err := e.claims.MarkExpired(ctx, claim.ID); err != nil {
			return nil, &InternalError{Operation: "get_claim_status", Err: err}
		}
		claim.Status = models.ClaimStatusExpired
	}

	return &ClaimStatusResult{HasClaim: true, Claim: claim}, nil
}

// CompleteClaim transitions PENDING -> COMPLETED. Idempotent when already
// completed. A claim past its expiry is marked EXPIRED first and the call
// fails with an ExpiredError.
func (e *Engine) CompleteClaim(ctx context.Context, userID string, dropID int64) (*models.Claim, error) {
	claim, err := e.claims.GetByUserAndDrop(ctx, userID, dropID)
	if err != nil {
		return nil, &InternalError{Operation: "complete_claim", Err: err}
	}
	if claim == nil {
		return nil, &NotFoundError{Code: CodeClaimNotFound, Entity: "claim", ID: fmt.Sprintf("%s/%d", userID, dropID)}
	}

	switch claim.Status {
	case models.ClaimStatusCompleted:
		return claim, nil
	case models.ClaimStatusExpired:
		return nil, &ExpiredError{ClaimCode: claim.ClaimCode}
	}

	if claim.ExpiredBy(e.now()) {
		if err := e.claims.MarkExpired(ctx, claim.ID); err != nil {
			return nil, &InternalError{Operation: "complete_claim", Err: err}
		}
		return nil, &ExpiredError{ClaimCode: claim.ClaimCode}
	}

	var completed bool
	err = e.tx.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		moved, err := e.claims.UpdateStatusTx(ctx, tx, claim.ID, models.ClaimStatusPending, models.ClaimStatusCompleted)
		if err != nil {
			return err
		}
		completed = moved
		return nil
	})
	if err != nil {
		return nil, &InternalError{Operation: "complete_claim", Err: err}
	}

	if !completed {
		// Lost a race to a concurrent transition; re-read to report the truth.
		current, err := e.claims.GetByUserAndDrop(ctx, userID, dropID)
		if err != nil || current == nil {
			return nil, &InternalError{Operation: "complete_claim", Err: err}
		}
		if current.Status == models.ClaimStatusExpired {
			return nil, &ExpiredError{ClaimCode: current.ClaimCode}
		}
		return current, nil
	}

	claim.Status = models.ClaimStatusCompleted
	return claim, nil
}

// ListUserClaims returns all of the user's claims, newest first. Overdue
// pending claims are presented as EXPIRED; the sweep persists the transition.
func (e *Engine) ListUserClaims(ctx context.Context, userID string) ([]*models.Claim, error) {
	claims, err := e.claims.ListByUser(ctx, userID)
	if err != nil {
		return nil, &InternalError{Operation: "list_user_claims", Err: err}
	}

	now := e.now()
	for _, claim := range claims {
		if claim.ExpiredBy(now) {
			claim.Status = models.ClaimStatusExpired
		}
	}
	return claims, nil
}

// CleanupExpiredClaims marks every overdue PENDING claim EXPIRED and returns
// the number of rows updated. Expired claims do not return their unit to the
// pool; claimed_stock is never decremented.
func (e *Engine) CleanupExpiredClaims(ctx context.Context) (int64, error) {
	updated, err := e.claims.ExpireOverdue(ctx, e.now())
	if err != nil {
		return 0, &InternalError{Operation: "cleanup_expired_claims", Err: err}
	}
	return updated, nil
}

func isBusinessError(err error) bool {
	return IsNotFound(err) || IsConflict(err) || IsForbidden(err) || IsExpired(err)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = config.DefaultPageSize
	}
	if pageSize > config.MaxPageSize {
		pageSize = config.MaxPageSize
	}
	return page, pageSize
}
