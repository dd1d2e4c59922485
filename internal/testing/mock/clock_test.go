package mock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	assert.True(t, clock.Now().Equal(start))

	clock.Advance(90 * time.Minute)
	assert.True(t, clock.Now().Equal(start.Add(90*time.Minute)))
}

func TestNewFakeClock_ZeroUsesNow(t *testing.T) {
	before := time.Now()
	clock := NewFakeClock(time.Time{})
	assert.False(t, clock.Now().Before(before))
}
