// Package cron schedules the periodic maintenance of the memory database
// and the background harvesting of memories from recent conversations.
package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task. Schedule is a 5-field cron expression and an
// invalid one makes Scheduler.Start fail.
type Job interface {
	Name() string
	Schedule() string
	Run(ctx context.Context) error
}

// parser accepts standard 5-field expressions.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CheckSchedule reports whether expr is a schedule the scheduler accepts.
func CheckSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}
