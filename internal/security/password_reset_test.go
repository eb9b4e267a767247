package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestResetTracker(clock *fakeClock) *PasswordResetTracker {
	tracker := NewPasswordResetTracker(DefaultPasswordResetConfig())
	tracker.now = clock.Now
	return tracker
}

func TestPasswordResetTracker_AllowsThreePerHour(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestResetTracker(clock)

	for i := 0; i < 3; i++ {
		decision := tracker.CanRequest("a@b.com")
		assert.True(t, decision.Allowed)
		assert.Equal(t, 2-i, decision.AttemptsLeft)
		clock.Advance(5 * time.Minute)
	}

	decision := tracker.CanRequest("a@b.com")
	assert.False(t, decision.Allowed)
	assert.GreaterOrEqual(t, decision.RetryAfterMinutes, 1)
}

func TestPasswordResetTracker_WindowResets(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestResetTracker(clock)

	for i := 0; i < 3; i++ {
		tracker.CanRequest("a@b.com")
	}
	assert.False(t, tracker.CanRequest("a@b.com").Allowed)

	clock.Advance(61 * time.Minute)

	decision := tracker.CanRequest("a@b.com")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.AttemptsLeft)
}

func TestPasswordResetTracker_IdentifiersAreIndependent(t *testing.T) {
	tracker := newTestResetTracker(newFakeClock())

	for i := 0; i < 3; i++ {
		tracker.CanRequest("a@b.com")
	}

	assert.False(t, tracker.CanRequest("a@b.com").Allowed)
	assert.True(t, tracker.CanRequest("c@d.com").Allowed)
}

func TestPasswordResetTracker_SweepRemovesExpiredWindows(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestResetTracker(clock)

	tracker.CanRequest("a@b.com")
	clock.Advance(61 * time.Minute)
	tracker.CanRequest("c@d.com")

	assert.Equal(t, 1, tracker.Sweep())
}
