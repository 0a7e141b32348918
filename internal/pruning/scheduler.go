package pruning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// ScheduleAutomaticPruning starts running ExecutePruning on the given
// five-field cron expression. The expression is validated synchronously;
// a bad expression is reported immediately and nothing is scheduled.
// Calling it again replaces the previous schedule.
func (e *Engine) ScheduleAutomaticPruning(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("pruning: invalid cron expression %q: %w", expr, err)
	}

	e.StopAutomaticPruning()

	e.schedMu.Lock()
	stop := make(chan struct{})
	done := make(chan struct{})
	e.schedStop = stop
	e.schedDone = done
	e.schedMu.Unlock()

	logging.Scheduler("automatic pruning scheduled: %q", expr)
	go e.runSchedule(sched, stop, done)
	return nil
}

func (e *Engine) runSchedule(sched cron.Schedule, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		next := sched.Next(e.now())
		timer := time.NewTimer(next.Sub(e.now()))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		res, err := e.ExecutePruning(context.Background())
		switch {
		case errors.Is(err, ErrMaintenanceBusy):
			logging.SchedulerDebug("tick skipped, run already in progress")
		case err != nil:
			logging.Get(logging.CategoryScheduler).Error("scheduled run failed: %v", err)
		default:
			logging.Scheduler("scheduled run %.8s: removed=%d compressed=%d",
				res.RunID, res.EntriesRemoved, res.EntriesCompressed)
		}
	}
}

// StopAutomaticPruning cancels the schedule and waits for any in-flight
// tick handling to settle. Safe to call when nothing is scheduled.
func (e *Engine) StopAutomaticPruning() {
	e.schedMu.Lock()
	stop, done := e.schedStop, e.schedDone
	e.schedStop, e.schedDone = nil, nil
	e.schedMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	logging.Scheduler("automatic pruning stopped")
}
