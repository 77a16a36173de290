package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"qclog/internal/logger"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "0 6 * * 1-5".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", expr, err)
	}
	return sched, nil
}

// StartScheduler runs the digest on schedule in a goroutine until ctx is
// done. An empty schedule disables it and returns false.
func StartScheduler(ctx context.Context, schedule string, loc *time.Location, r *Runner, log *logger.Logger) (bool, error) {
	log = logger.OrNop(log).With("component", "digest-scheduler")
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Info("digest disabled (digest_schedule not set)")
		return false, nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return false, err
	}
	if loc == nil {
		loc = time.Local
	}
	log.Info("digest scheduled", "cron", schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Info("next digest", "at", next.Format("Mon Jan 2 15:04"), "in", wait.Round(time.Minute).String())

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info("digest scheduler stopped")
				return
			case <-timer.C:
			}

			res, runErr := r.Run(ctx)
			if runErr != nil {
				log.Error("scheduled digest failed", "error", runErr)
				continue
			}
			log.Info("scheduled digest complete", "path", res.Path, "posted", res.Posted)
		}
	}()
	return true, nil
}
