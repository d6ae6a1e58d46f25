package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWithinBudget(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimit, DefaultRateWindow)

	for i := 0; i < DefaultRateLimit; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d should pass", i+1)
	}

	// The sixth attempt within the window is rejected.
	assert.False(t, rl.Allow("alice"))
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
	assert.True(t, rl.Allow("pair:42"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	time.Sleep(120 * time.Millisecond)

	// The window slid past the oldest attempts.
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiterRejectionsNotRecorded(t *testing.T) {
	rl := NewRateLimiter(1, 200*time.Millisecond)

	assert.True(t, rl.Allow("alice"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, rl.Allow("alice"))

	// 210ms after the accepted attempt, 160ms after the rejected one.
	// If rejections counted, this would still be blocked.
	time.Sleep(160 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	rl.Reset()
	assert.True(t, rl.Allow("alice"))
}
