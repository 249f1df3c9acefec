package utils

import (
	"context"
	"time"
)

// SchedulerContext bounds one cron tick's work.
func SchedulerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
