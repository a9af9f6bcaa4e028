package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WaitlistEntry is one (user, drop) membership record. The unique index on
// (user_id, drop_id) is what makes join idempotent under concurrency.
type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries,alias:we"`

	ID       int64     `bun:"id,pk,autoincrement"`
	UserID   string    `bun:"user_id,notnull"`
	DropID   int64     `bun:"drop_id,notnull"`
	Score    int64     `bun:"score,nullzero"`
	JoinedAt time.Time `bun:"joined_at,notnull"`
}

// RankedEntry pairs an entry with its computed 1-based position.
type RankedEntry struct {
	Entry    *WaitlistEntry
	Position int
}
