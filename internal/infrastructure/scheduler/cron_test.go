package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression(t *testing.T) {
	ce, err := ParseCronExpression("*/15 2-4 1 * 0")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 15, 30, 45}, ce.minutes)
	assert.Equal(t, []int{2, 3, 4}, ce.hours)
	assert.Equal(t, []int{1}, ce.days)
	assert.Len(t, ce.months, 12)
	assert.Equal(t, []int{0}, ce.weekdays)
	assert.Equal(t, "*/15 2-4 1 * 0", ce.String())
}

func TestParseCronExpression_Lists(t *testing.T) {
	ce, err := ParseCronExpression("5,35 9,21 * * *")
	require.NoError(t, err)

	assert.Equal(t, []int{5, 35}, ce.minutes)
	assert.Equal(t, []int{9, 21}, ce.hours)
}

func TestParseCronExpression_Invalid(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 25 * * *",
		"x * * * *",
		"*/0 * * * *",
	}

	for _, expr := range cases {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestCronExpression_Next(t *testing.T) {
	ce := MustParseCronExpression(EveryDay9AM)

	// 2026-03-02 is a Monday.
	after := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	next := ce.Next(after)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next)

	// Before 9 AM the same day still qualifies.
	after = time.Date(2026, 3, 2, 8, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), ce.Next(after))
}

func TestCronExpression_NextSkipsToWeekday(t *testing.T) {
	ce := MustParseCronExpression(EveryMonday)

	after := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC) // Tuesday
	next := ce.Next(after)

	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), next)
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(30 * time.Minute)

	after := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, after.Add(30*time.Minute), s.Next(after))
	assert.Equal(t, "@every 30m0s", s.String())
}
