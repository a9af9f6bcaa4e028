package engine

// Coefficients are the seed-derived moduli used by Score.
type Coefficients struct {
	A int
	B int
	C int
}

// normalized guards against zero or negative moduli so Score never panics on
// a hand-built Coefficients value.
func (c Coefficients) normalized() Coefficients {
	if c.A < 1 {
		c.A = 7
	}
	if c.B < 1 {
		c.B = 13
	}
	if c.C < 1 {
		c.C = 3
	}
	return c
}

// Score computes a waitlist priority score:
//
//	base + (signupLatencyMs mod A) + (accountAgeDays mod B) - (rapidActionCount mod C)
//
// clamped to a minimum of 0. The three terms inject small seed-derived jitter
// so simultaneous joiners are not strictly ordered by raw latency, while
// still rewarding earlier, established, non-bursty accounts.
func Score(base int64, signupLatencyMs int64, accountAgeDays int, rapidActionCount int, c Coefficients) int64 {
	c = c.normalized()

	if signupLatencyMs < 0 {
		signupLatencyMs = 0
	}
	if accountAgeDays < 0 {
		accountAgeDays = 0
	}
	if rapidActionCount < 0 {
		rapidActionCount = 0
	}

	score := base +
		signupLatencyMs%int64(c.A) +
		int64(accountAgeDays%c.B) -
		int64(rapidActionCount%c.C)

	if score < 0 {
		return 0
	}
	return score
}
