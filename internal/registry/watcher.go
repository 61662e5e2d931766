package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"sweatbot/internal/logger"
)

// Watcher reloads a Holder on a fixed interval.
type Watcher struct {
	holder   *Holder
	interval time.Duration
	timeout  time.Duration
	sched    gocron.Scheduler
}

// NewWatcher schedules reloads of h every interval. Nothing runs until Start.
func NewWatcher(h *Holder, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reload interval must be positive, got %s", interval)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	w := &Watcher{holder: h, interval: interval, timeout: 30 * time.Second, sched: sched}
	if interval < w.timeout {
		w.timeout = interval
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(w.reload),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("registry-reload"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("scheduling registry reload: %w", err)
	}
	return w, nil
}

func (w *Watcher) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	changed, err := w.holder.Reload(ctx)
	if err != nil {
		logger.Warn("Registry reload failed, keeping current snapshot", "error", err)
		return
	}
	if !changed {
		logger.Debug("Registry unchanged")
	}
}

// Start begins the reload schedule.
func (w *Watcher) Start() {
	logger.Info("Watching registry", "interval", w.interval.String())
	w.sched.Start()
}

// Stop halts the schedule and waits for a running reload to finish.
func (w *Watcher) Stop() error {
	return w.sched.Shutdown()
}
