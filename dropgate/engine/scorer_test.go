package engine

import "testing"

func TestScore(t *testing.T) {
	coeffs := Coefficients{A: 7, B: 13, C: 3}

	tests := []struct {
		name    string
		base    int64
		latency int64
		ageDays int
		rapid   int
		want    int64
	}{
		{
			name: "base only",
			base: 100,
			want: 100, // 100 + 0%7 + 0%13 - 0%3
		},
		{
			name:    "all signals",
			base:    100,
			latency: 10, // 10%7 = 3
			ageDays: 30, // 30%13 = 4
			rapid:   2,  // 2%3 = 2
			want:    105,
		},
		{
			name:    "latency multiple of A contributes nothing",
			base:    100,
			latency: 14,
			want:    100,
		},
		{
			name:    "burst penalty subtracts",
			base:    100,
			rapid:   1,
			want:    99,
		},
		{
			name:  "clamped at zero",
			base:  0,
			rapid: 2,
			want:  0,
		},
		{
			name:    "negative latency floored",
			base:    50,
			latency: -500,
			want:    50,
		},
		{
			name:    "negative age floored",
			base:    50,
			ageDays: -3,
			want:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.base, tt.latency, tt.ageDays, tt.rapid, coeffs)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScore_DegenerateCoefficients(t *testing.T) {
	// Zero-valued coefficients must not panic; they fall back to defaults.
	got := Score(100, 10, 30, 2, Coefficients{})
	want := Score(100, 10, 30, 2, Coefficients{A: 7, B: 13, C: 3})
	if got != want {
		t.Errorf("Score() with zero coefficients = %d, want %d", got, want)
	}
}

func TestScore_HigherRapidCountNeverIncreasesScore(t *testing.T) {
	coeffs := Coefficients{A: 9, B: 17, C: 4}
	base := Score(100, 0, 0, 0, coeffs)
	for rapid := 0; rapid < 10; rapid++ {
		if got := Score(100, 0, 0, rapid, coeffs); got > base {
			t.Errorf("Score() with rapid=%d = %d, exceeds unpenalized %d", rapid, got, base)
		}
	}
}
