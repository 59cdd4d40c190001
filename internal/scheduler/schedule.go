// Package scheduler runs the periodic backup export on a cron schedule.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule fires at 09:00 every Monday
const DefaultSchedule = "0 9 * * 1"

// DefaultMisfireGrace bounds how late a missed firing may still run
const DefaultMisfireGrace = time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// BuildSchedule parses a five-field cron expression and resolves the
// timezone. A malformed expression falls back to DefaultSchedule and an
// unknown timezone falls back to UTC; both are logged.
func BuildSchedule(expr, tz string, logger *zap.Logger) (cron.Schedule, *time.Location) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			logger.Warn("Unknown backup timezone, using UTC", zap.String("timezone", tz), zap.Error(err))
		} else {
			loc = l
		}
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		logger.Warn("Invalid backup schedule, using default",
			zap.String("schedule", expr),
			zap.String("default", DefaultSchedule),
			zap.Error(err),
		)
		sched, _ = parser.Parse(DefaultSchedule)
	}
	return sched, loc
}
