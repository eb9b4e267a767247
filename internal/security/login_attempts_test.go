package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time manually
type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLoginTracker(clock *fakeClock) *LoginAttemptTracker {
	tracker := NewLoginAttemptTracker(DefaultLoginAttemptConfig())
	tracker.now = clock.Now
	return tracker
}

func TestLoginAttemptTracker_LocksAfterFiveFailures(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestLoginTracker(clock)

	for i := 0; i < 4; i++ {
		result := tracker.RecordFailure("a@b.com")
		assert.False(t, result.Locked)
		assert.Equal(t, 4-i, result.AttemptsLeft)
		clock.Advance(1 * time.Minute)
	}

	result := tracker.RecordFailure("a@b.com")
	assert.True(t, result.Locked)
	assert.Equal(t, 0, result.AttemptsLeft)
	assert.Equal(t, clock.Now().Add(15*time.Minute), result.LockedUntil)

	status := tracker.Status("a@b.com")
	assert.True(t, status.Locked)
	assert.GreaterOrEqual(t, status.RemainingMinutes, 1)
	assert.LessOrEqual(t, status.RemainingMinutes, 15)
}

func TestLoginAttemptTracker_RejectsWhileLockedAllowsAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestLoginTracker(clock)

	// 5 failures at t=0..4min
	for i := 0; i < 5; i++ {
		tracker.RecordFailure("a@b.com")
		if i < 4 {
			clock.Advance(1 * time.Minute)
		}
	}

	// t=10min: still locked
	clock.Advance(6 * time.Minute)
	assert.True(t, tracker.Status("a@b.com").Locked)

	// t=20min: lock expired, record self-heals
	clock.Advance(10 * time.Minute)
	status := tracker.Status("a@b.com")
	assert.False(t, status.Locked)

	// Record was deleted: next failure starts a fresh window
	result := tracker.RecordFailure("a@b.com")
	assert.False(t, result.Locked)
	assert.Equal(t, 4, result.AttemptsLeft)
}

func TestLoginAttemptTracker_WindowExpiryResetsCount(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestLoginTracker(clock)

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("a@b.com")
	}

	// Past the 15 minute attempt window: counting starts over
	clock.Advance(16 * time.Minute)
	result := tracker.RecordFailure("a@b.com")
	assert.False(t, result.Locked)
	assert.Equal(t, 4, result.AttemptsLeft)
}

func TestLoginAttemptTracker_ClearResetsCount(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestLoginTracker(clock)

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("a@b.com")
	}

	tracker.Clear("a@b.com")

	result := tracker.RecordFailure("a@b.com")
	assert.False(t, result.Locked)
	assert.Equal(t, 4, result.AttemptsLeft)
}

func TestLoginAttemptTracker_StatusUnknownIdentifier(t *testing.T) {
	tracker := newTestLoginTracker(newFakeClock())

	status := tracker.Status("nobody@example.com")
	assert.False(t, status.Locked)
	assert.Equal(t, 0, status.RemainingMinutes)
}

func TestLoginAttemptTracker_SweepRemovesStaleRecords(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestLoginTracker(clock)

	tracker.RecordFailure("old@example.com")
	clock.Advance(61 * time.Minute)
	tracker.RecordFailure("fresh@example.com")

	removed := tracker.Sweep()
	assert.Equal(t, 1, removed)

	// Fresh record still counts
	result := tracker.RecordFailure("fresh@example.com")
	assert.Equal(t, 3, result.AttemptsLeft)
}
