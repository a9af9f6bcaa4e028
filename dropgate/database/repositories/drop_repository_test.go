package repositories

import (
	"testing"
	"time"

	"github.com/velora/dropgate/dropgate/database/models"
)

func TestValidateWindows(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	build := func(start, cwStart, cwEnd, end time.Duration) *models.Drop {
		return &models.Drop{
			StartsAt:         base.Add(start),
			ClaimWindowStart: base.Add(cwStart),
			ClaimWindowEnd:   base.Add(cwEnd),
			EndsAt:           base.Add(end),
		}
	}

	tests := []struct {
		name    string
		drop    *models.Drop
		wantErr bool
	}{
		{
			name: "ordered windows",
			drop: build(0, time.Hour, 2*time.Hour, 3*time.Hour),
		},
		{
			name: "claim window may end exactly at drop end",
			drop: build(0, time.Hour, 3*time.Hour, 3*time.Hour),
		},
		{
			name: "waitlist phase may be empty",
			drop: build(0, 0, time.Hour, 2*time.Hour),
		},
		{
			name:    "claim window starts before drop",
			drop:    build(time.Hour, 0, 2*time.Hour, 3*time.Hour),
			wantErr: true,
		},
		{
			name:    "claim window inverted",
			drop:    build(0, 2*time.Hour, time.Hour, 3*time.Hour),
			wantErr: true,
		},
		{
			name:    "empty claim window",
			drop:    build(0, time.Hour, time.Hour, 3*time.Hour),
			wantErr: true,
		},
		{
			name:    "claim window outlives drop",
			drop:    build(0, time.Hour, 4*time.Hour, 3*time.Hour),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateWindows(tt.drop)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateWindows() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
