package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	codeHexLength = 12
	codeGroupSize = 4
)

// GenerateClaimCode derives a deterministic-looking, practically unique claim
// code from the fairness seed and the claim identity, formatted as grouped
// uppercase hex: XXXX-XXXX-XXXX. When no seed is available it falls back to
// random bytes so claim issuance never blocks on the seed authority.
func GenerateClaimCode(seed *SeedData, dropID int64, userID string, now time.Time) (string, error) {
	var raw string
	if seed != nil {
		material := fmt.Sprintf("%s:%d:%s:%d", seed.Seed, dropID, userID, now.UnixMilli())
		sum := sha256.Sum256([]byte(material))
		raw = hex.EncodeToString(sum[:])[:codeHexLength]
	} else {
		buf := make([]byte, codeHexLength/2)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random claim code: %w", err)
		}
		raw = hex.EncodeToString(buf)
	}

	return formatClaimCode(raw), nil
}

func formatClaimCode(raw string) string {
	raw = strings.ToUpper(raw)
	groups := make([]string, 0, len(raw)/codeGroupSize)
	for i := 0; i < len(raw); i += codeGroupSize {
		groups = append(groups, raw[i:i+codeGroupSize])
	}
	return strings.Join(groups, "-")
}
