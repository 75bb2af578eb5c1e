package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEverySchedule(t *testing.T) {
	sched := Every(30 * time.Second)
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(30*time.Second), sched.Next(from))
}

func TestCronSchedule(t *testing.T) {
	sched := Cron("*/5 * * * *")
	from := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), sched.Next(from))
}

func TestCronPanicsOnBadExpression(t *testing.T) {
	assert.Panics(t, func() { Cron("not a cron expr") })
}
