// Package schedule runs the timers behind schedule triggers: cron expressions,
// fixed intervals and one-shot run times.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule  = errors.New("invalid schedule")
	ErrAlreadyScheduled = errors.New("already scheduled")
)

// FireFunc is called every time a schedule is due.
type FireFunc func(ctx context.Context, firedAt time.Time)

type entry struct {
	cronID cron.EntryID
	ticker clockwork.Ticker
	timer  clockwork.Timer
	stop   chan struct{}
}

// Scheduler owns one cron runner and the interval and one-shot timers. Cron entries
// run on wall time; intervals and run times follow the injected clock.
type Scheduler struct {
	logger *slog.Logger
	clock  clockwork.Clock
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger = logger.With("module", "scheduler")
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	return &Scheduler{
		logger: logger,
		clock:  clock,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		entries: map[string]*entry{},
	}
}

// Validate reports whether config names exactly one valid schedule.
func Validate(config *models.ScheduleTriggerConfig) error {
	set := 0

	if config.Cron != "" {
		set++

		_, err := cron.ParseStandard(cronSpec(config))
		if err != nil {
			return fmt.Errorf("%w: cron: %w", ErrInvalidSchedule, err)
		}
	}

	if config.Interval != 0 {
		set++

		if config.Interval < 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
		}
	}

	if config.RunAt != nil {
		set++
	}

	if set != 1 {
		return fmt.Errorf("%w: exactly one of cron, interval or run_at is required", ErrInvalidSchedule)
	}

	return nil
}

func cronSpec(config *models.ScheduleTriggerConfig) string {
	if config.Timezone == "" {
		return config.Cron
	}

	return "CRON_TZ=" + config.Timezone + " " + config.Cron
}

// Start runs the cron loop. Interval and one-shot entries do not need it.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop removes every entry and waits for running interval loops to exit.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for id, e := range s.entries {
		s.stopEntry(e)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Add schedules fire under id. A RunAt in the past fires immediately.
func (s *Scheduler) Add(id string, config *models.ScheduleTriggerConfig, fire FireFunc) error {
	err := Validate(config)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, id)
	}

	e := &entry{stop: make(chan struct{})}

	switch {
	case config.Cron != "":
		e.cronID, err = s.cron.AddFunc(cronSpec(config), func() {
			fire(context.Background(), s.clock.Now())
		})
		if err != nil {
			return fmt.Errorf("failed to add cron job for %s: %w", id, err)
		}
	case config.Interval > 0:
		e.ticker = s.clock.NewTicker(time.Duration(config.Interval) * time.Millisecond)

		s.wg.Add(1)

		go s.loop(e, fire)
	default:
		e.timer = s.clock.AfterFunc(config.RunAt.Sub(s.clock.Now()), func() {
			fire(context.Background(), s.clock.Now())
		})
	}

	s.entries[id] = e

	s.logger.Info("Schedule added", "id", id, "cron", config.Cron, "interval", config.Interval, "run_at", config.RunAt)

	return nil
}

// Remove cancels the entry of id. Unknown ids are ignored.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}

	s.stopEntry(e)
	delete(s.entries, id)

	s.logger.Info("Schedule removed", "id", id)
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) loop(e *entry, fire FireFunc) {
	defer s.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case firedAt := <-e.ticker.Chan():
			fire(context.Background(), firedAt)
		}
	}
}

func (s *Scheduler) stopEntry(e *entry) {
	switch {
	case e.ticker != nil:
		e.ticker.Stop()
		close(e.stop)
	case e.timer != nil:
		e.timer.Stop()
	default:
		s.cron.Remove(e.cronID)
	}
}
