// Package challengetest has helpers for testing challenge variants.
package challengetest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/habuha/captcha/lib/challenge"
)

// New returns an empty challenge record for a variant, ready for Impl.Issue
// to fill in.
func New(t *testing.T, variant string) *challenge.Challenge {
	t.Helper()

	return &challenge.Challenge{
		ID:           uuid.NewString(),
		Variant:      variant,
		IssuedAt:     time.Now(),
		ExpiresAfter: 30 * time.Second,
	}
}

// RNG returns a deterministic random source for variant tests.
func RNG(t *testing.T) *rand.Rand {
	t.Helper()
	return rand.New(rand.NewSource(int64(len(t.Name()))))
}
