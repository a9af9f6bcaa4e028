package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "PENDING"
	ClaimStatusCompleted ClaimStatus = "COMPLETED"
	ClaimStatusExpired   ClaimStatus = "EXPIRED"
)

// Claim is a reserved unit of stock. At most one exists per (user, drop);
// status transitions are monotonic: PENDING -> COMPLETED or PENDING -> EXPIRED.
type Claim struct {
	bun.BaseModel `bun:"table:claims,alias:cl"`

	ID        int64       `bun:"id,pk,autoincrement"`
	UserID    string      `bun:"user_id,notnull"`
	DropID    int64       `bun:"drop_id,notnull"`
	ClaimCode string      `bun:"claim_code,notnull,unique"`
	Status    ClaimStatus `bun:"status,notnull,default:'PENDING'"`
	ClaimedAt time.Time   `bun:"claimed_at,notnull"`
	ExpiresAt time.Time   `bun:"expires_at,notnull"`
}

// ExpiredBy reports whether a pending claim has passed its completion window.
func (c *Claim) ExpiredBy(now time.Time) bool {
	return c.Status == ClaimStatusPending && now.After(c.ExpiresAt)
}
