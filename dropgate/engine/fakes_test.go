package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/velora/dropgate/dropgate/database/models"
	"github.com/velora/dropgate/dropgate/database/repositories"
)

// In-memory fakes for the repository interfaces. Stateful by design: the
// engine tests exercise multi-step flows (join, rank, claim, expire) that a
// call-expectation mock cannot express.

type memStore struct {
	mu      sync.Mutex
	drops   map[int64]*models.Drop
	entries map[string]*models.WaitlistEntry
	claims  map[string]*models.Claim
	users   map[string]*models.User
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{
		drops:   make(map[int64]*models.Drop),
		entries: make(map[string]*models.WaitlistEntry),
		claims:  make(map[string]*models.Claim),
		users:   make(map[string]*models.User),
	}
}

func pairKey(userID string, dropID int64) string {
	return fmt.Sprintf("%s/%d", userID, dropID)
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memTxRunner struct{ s *memStore }

func (r *memTxRunner) RunInTx(ctx context.Context, fn func(context.Context, bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

type memDrops struct{ s *memStore }

var _ repositories.DropRepository = (*memDrops)(nil)

func (m *memDrops) Create(_ context.Context, drop *models.Drop) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if drop.ID == 0 {
		drop.ID = m.s.id()
	}
	m.s.drops[drop.ID] = drop
	return nil
}

// Reads return copies, as the real repositories scan fresh rows: callers own
// what they get back and never alias the stored object.
func (m *memDrops) GetByID(_ context.Context, id int64) (*models.Drop, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	drop, ok := m.s.drops[id]
	if !ok {
		return nil, nil
	}
	dup := *drop
	return &dup, nil
}

func (m *memDrops) GetByIDTx(ctx context.Context, _ bun.Tx, id int64) (*models.Drop, error) {
	return m.GetByID(ctx, id)
}

func (m *memDrops) GetForUpdateTx(ctx context.Context, _ bun.Tx, id int64) (*models.Drop, error) {
	return m.GetByID(ctx, id)
}

func (m *memDrops) IncrementClaimedTx(_ context.Context, _ bun.Tx, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	drop, ok := m.s.drops[id]
	if !ok || drop.ClaimedStock >= drop.TotalStock {
		return fmt.Errorf("drop %d has no stock left to claim", id)
	}
	drop.ClaimedStock++
	return nil
}

func (m *memDrops) SetActive(_ context.Context, id int64, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if drop, ok := m.s.drops[id]; ok {
		drop.Active = active
	}
	return nil
}

func (m *memDrops) Delete(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.drops, id)
	return nil
}

func (m *memDrops) GetStats(_ context.Context, id int64) (*repositories.DropStats, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	drop, ok := m.s.drops[id]
	if !ok {
		return nil, fmt.Errorf("drop %d not found", id)
	}
	stats := &repositories.DropStats{
		TotalStock:     drop.TotalStock,
		ClaimedStock:   drop.ClaimedStock,
		AvailableStock: drop.AvailableStock(),
	}
	for _, e := range m.s.entries {
		if e.DropID == id {
			stats.WaitlistCount++
		}
	}
	for _, c := range m.s.claims {
		if c.DropID == id {
			stats.ClaimCount++
		}
	}
	return stats, nil
}

type memWaitlist struct{ s *memStore }

var _ repositories.WaitlistRepository = (*memWaitlist)(nil)

func (m *memWaitlist) GetEntry(_ context.Context, userID string, dropID int64) (*models.WaitlistEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	entry, ok := m.s.entries[pairKey(userID, dropID)]
	if !ok {
		return nil, nil
	}
	dup := *entry
	return &dup, nil
}

func (m *memWaitlist) GetEntryTx(ctx context.Context, _ bun.Tx, userID string, dropID int64) (*models.WaitlistEntry, error) {
	return m.GetEntry(ctx, userID, dropID)
}

func (m *memWaitlist) InsertTx(_ context.Context, _ bun.Tx, entry *models.WaitlistEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := pairKey(entry.UserID, entry.DropID)
	if _, exists := m.s.entries[key]; exists {
		return fmt.Errorf("duplicate waitlist entry %s", key)
	}
	if entry.ID == 0 {
		entry.ID = m.s.id()
	}
	m.s.entries[key] = entry
	return nil
}

func (m *memWaitlist) Delete(_ context.Context, userID string, dropID int64) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := pairKey(userID, dropID)
	_, existed := m.s.entries[key]
	delete(m.s.entries, key)
	return existed, nil
}

func (m *memWaitlist) DeleteTx(ctx context.Context, _ bun.Tx, userID string, dropID int64) (bool, error) {
	return m.Delete(ctx, userID, dropID)
}

func (m *memWaitlist) Rank(_ context.Context, entry *models.WaitlistEntry) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ahead := 0
	for _, other := range m.s.entries {
		if other.DropID != entry.DropID {
			continue
		}
		if other.Score > entry.Score ||
			(other.Score == entry.Score && other.JoinedAt.Before(entry.JoinedAt)) {
			ahead++
		}
	}
	return ahead + 1, nil
}

func (m *memWaitlist) RankTx(ctx context.Context, _ bun.Tx, entry *models.WaitlistEntry) (int, error) {
	return m.Rank(ctx, entry)
}

func (m *memWaitlist) ListByDrop(_ context.Context, dropID int64, page, pageSize int) ([]*models.WaitlistEntry, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var all []*models.WaitlistEntry
	for _, e := range m.s.entries {
		if e.DropID == dropID {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].JoinedAt.Before(all[j].JoinedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memWaitlist) CountByDrop(_ context.Context, dropID int64) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	count := 0
	for _, e := range m.s.entries {
		if e.DropID == dropID {
			count++
		}
	}
	return count, nil
}

func (m *memWaitlist) CountRecentJoinsTx(_ context.Context, _ bun.Tx, userID string, since time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	count := 0
	for _, e := range m.s.entries {
		if e.UserID == userID && e.JoinedAt.After(since) {
			count++
		}
	}
	return count, nil
}

type memClaims struct{ s *memStore }

var _ repositories.ClaimRepository = (*memClaims)(nil)

func (m *memClaims) GetByUserAndDrop(_ context.Context, userID string, dropID int64) (*models.Claim, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	claim, ok := m.s.claims[pairKey(userID, dropID)]
	if !ok {
		return nil, nil
	}
	dup := *claim
	return &dup, nil
}

func (m *memClaims) GetByUserAndDropTx(ctx context.Context, _ bun.Tx, userID string, dropID int64) (*models.Claim, error) {
	return m.GetByUserAndDrop(ctx, userID, dropID)
}

func (m *memClaims) InsertTx(_ context.Context, _ bun.Tx, claim *models.Claim) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := pairKey(claim.UserID, claim.DropID)
	if _, exists := m.s.claims[key]; exists {
		return fmt.Errorf("duplicate claim %s", key)
	}
	if claim.ID == 0 {
		claim.ID = m.s.id()
	}
	m.s.claims[key] = claim
	return nil
}

func (m *memClaims) UpdateStatusTx(_ context.Context, _ bun.Tx, claimID int64, from, to models.ClaimStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.claims {
		if c.ID == claimID && c.Status == from {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memClaims) MarkExpired(_ context.Context, claimID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.claims {
		if c.ID == claimID && c.Status == models.ClaimStatusPending {
			c.Status = models.ClaimStatusExpired
		}
	}
	return nil
}

func (m *memClaims) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var updated int64
	for _, c := range m.s.claims {
		if c.Status == models.ClaimStatusPending && c.ExpiresAt.Before(now) {
			c.Status = models.ClaimStatusExpired
			updated++
		}
	}
	return updated, nil
}

func (m *memClaims) ListByUser(_ context.Context, userID string) ([]*models.Claim, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Claim
	for _, c := range m.s.claims {
		if c.UserID == userID {
			dup := *c
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClaimedAt.After(out[j].ClaimedAt)
	})
	return out, nil
}

func (m *memClaims) StartCleanupRoutine(context.Context, time.Duration) {}

type memUsers struct{ s *memStore }

var _ repositories.UserRepository = (*memUsers)(nil)

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.users[id], nil
}

func (m *memUsers) GetByIDTx(ctx context.Context, _ bun.Tx, id string) (*models.User, error) {
	return m.GetByID(ctx, id)
}

func (m *memUsers) Upsert(_ context.Context, user *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.users[user.ID] = user
	return nil
}
