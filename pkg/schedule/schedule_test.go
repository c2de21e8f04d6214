package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery(t *testing.T) {
	s := Every(15 * time.Minute)
	from := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
}

func TestDaily(t *testing.T) {
	s := Daily(3, 30)

	// Before today's slot: runs today.
	from := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC), s.Next(from))

	// After today's slot: runs tomorrow.
	from = time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC), s.Next(from))

	// Exactly at the slot: runs tomorrow, not now.
	from = time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC), s.Next(from))
}

func TestWeekly(t *testing.T) {
	s := Weekly(time.Monday, 6, 0)

	// 2026-03-10 is a Tuesday.
	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := s.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC), next)

	// Same Monday before the slot: runs that day.
	from = time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCron(t *testing.T) {
	s := Cron("0 2 * * *") // daily at 02:00

	from := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), s.Next(from))

	from = time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCron_PanicsOnInvalidExpression(t *testing.T) {
	assert.Panics(t, func() { Cron("not a cron expr") })
}
