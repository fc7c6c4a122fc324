package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fakeClock(l *userLimiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestUserLimiter_EvictsIdleUsers(t *testing.T) {
	l := newUserLimiter(1, 2)
	assert.Equal(t, time.Minute, l.idle)
	now := fakeClock(l, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	for i := range 100 {
		assert.True(t, l.allow(fmt.Sprintf("user-%d", i)))
	}
	assert.Len(t, l.limiters, 100)

	*now = now.Add(30 * time.Second)
	assert.True(t, l.allow("user-0"))
	assert.Len(t, l.limiters, 100, "no sweep before the idle period")

	*now = now.Add(45 * time.Second)
	assert.True(t, l.allow("user-new"))
	assert.Len(t, l.limiters, 2, "only user-0 and user-new were seen within the idle period")
	assert.Contains(t, l.limiters, "user-0")
	assert.Contains(t, l.limiters, "user-new")
}

func TestUserLimiter_ActiveUserKeepsBudget(t *testing.T) {
	// burst 1 at 0.01 rps refills in 100s, which sets the idle period.
	l := newUserLimiter(0.01, 1)
	assert.Equal(t, 100*time.Second, l.idle)
	now := fakeClock(l, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	*now = now.Add(50 * time.Second)
	assert.False(t, l.allow("a"), "half a token is not enough")

	*now = now.Add(60 * time.Second)
	assert.True(t, l.allow("a"))
}

func TestUserLimiter_Disabled(t *testing.T) {
	l := newUserLimiter(0, 0)
	for range 10 {
		assert.True(t, l.allow("a"))
	}
	assert.Empty(t, l.limiters)
}
