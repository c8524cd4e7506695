package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCron_ParsesExpression(t *testing.T) {
	s, err := Cron("0 9 * * *")
	require.NoError(t, err)

	now := time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)
	next := s.Next(now)

	assert.Equal(t, time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestCron_EveryHour(t *testing.T) {
	s, err := Cron("0 * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 2, 8, 10, 30, 0, 0, time.UTC)
	next := s.Next(now)

	assert.Equal(t, time.Date(2026, 2, 8, 11, 0, 0, 0, time.UTC), next)
}

func TestCron_InvalidExpressionReturnsError(t *testing.T) {
	_, err := Cron("not a cron expression")
	assert.Error(t, err)
}

func TestCron_WeekdaysOnly(t *testing.T) {
	s, err := Cron("0 9 * * 1-5")
	require.NoError(t, err)

	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC) // Saturday
	next := s.Next(now)

	assert.Equal(t, time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC), next)
}
