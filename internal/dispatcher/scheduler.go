package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Scheduler fires each campaign's Run at its start_time. It only schedules
// absolute one-shot jobs, with no cron-like recurrence: a single shared
// scheduler dispatches each campaign once, at its start_time.
type Scheduler struct {
	dispatcher *Dispatcher
	log        *slog.Logger

	mu    sync.Mutex
	timer map[int64]*time.Timer
}

// NewScheduler constructs a Scheduler bound to d.
func NewScheduler(d *Dispatcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{dispatcher: d, log: log, timer: make(map[int64]*time.Timer)}
}

// Schedule arranges for campaign to run at its StartTime. If StartTime has
// already passed, it runs promptly. Cancelling ctx abandons any job not yet
// fired; it does not interrupt a run already in progress. A shutdown
// signal simply causes pending scheduler jobs to be abandoned.
func (s *Scheduler) Schedule(ctx context.Context, campaign store.Campaign) {
	delay := time.Until(campaign.StartTime)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer[campaign.ID] = time.AfterFunc(delay, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.dispatcher.Run(context.WithoutCancel(ctx), campaign); err != nil {
			s.log.Error("campaign run failed", "campaign", campaign.Name, "error", err)
		}
	})
}

// Cancel abandons a scheduled campaign job if it hasn't fired yet.
func (s *Scheduler) Cancel(campaignID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timer[campaignID]; ok {
		t.Stop()
		delete(s.timer, campaignID)
	}
}
