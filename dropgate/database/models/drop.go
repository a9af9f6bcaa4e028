package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Drop struct {
	bun.BaseModel `bun:"table:drops,alias:d"`

	ID               int64     `bun:"id,pk,autoincrement"`
	Name             string    `bun:"name,notnull"`
	TotalStock       int       `bun:"total_stock,notnull"`
	ClaimedStock     int       `bun:"claimed_stock,notnull,default:0"`
	StartsAt         time.Time `bun:"starts_at,notnull"`
	ClaimWindowStart time.Time `bun:"claim_window_start,notnull"`
	ClaimWindowEnd   time.Time `bun:"claim_window_end,notnull"`
	EndsAt           time.Time `bun:"ends_at,notnull"`
	Active           bool      `bun:"active,notnull,default:true"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

// AvailableStock is the number of units still claimable.
func (d *Drop) AvailableStock() int {
	remaining := d.TotalStock - d.ClaimedStock
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (d *Drop) SoldOut() bool {
	return d.ClaimedStock >= d.TotalStock
}

// InWaitlistPhase reports whether users may still join the waitlist.
func (d *Drop) InWaitlistPhase(now time.Time) bool {
	return !now.Before(d.StartsAt) && now.Before(d.ClaimWindowStart) && now.Before(d.EndsAt)
}

// InClaimWindow reports whether waitlisted users may convert to a claim.
func (d *Drop) InClaimWindow(now time.Time) bool {
	return !now.Before(d.ClaimWindowStart) && now.Before(d.ClaimWindowEnd)
}
