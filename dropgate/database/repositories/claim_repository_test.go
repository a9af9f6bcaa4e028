package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/velora/dropgate/dropgate/database/models"
)

// The listing cache must never alias what callers receive: a caller restating
// an overdue claim as EXPIRED for presentation must not rewrite the cached
// copy seen by later listings.
func TestClaimRepository_ListByUserReturnsCallerOwnedCopies(t *testing.T) {
	r := NewClaimRepository(nil).(*claimRepository)

	r.setCached("user-1", []*models.Claim{{
		ID:        1,
		UserID:    "user-1",
		DropID:    1,
		ClaimCode: "AAAA-AAAA-AAAA",
		Status:    models.ClaimStatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}})

	first, err := r.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("ListByUser() returned %d claims, want 1", len(first))
	}

	first[0].Status = models.ClaimStatusExpired

	second, err := r.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second ListByUser() error = %v", err)
	}
	if second[0].Status != models.ClaimStatusPending {
		t.Errorf("cached claim status = %q after caller mutation, want PENDING", second[0].Status)
	}
}
