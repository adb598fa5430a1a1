package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunFunc executes one scheduled batch
type RunFunc func(ctx context.Context, cfg BatchConfig) error

// Scheduler manages scheduled batch runs
type Scheduler struct {
	configs map[string]BatchConfig
	lastRun map[string]time.Time
	running map[string]bool
	now     func() time.Time
	tick    time.Duration
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewScheduler creates a new batch scheduler. Schedules start counting from
// now, so a batch first fires at its next cron occurrence.
func NewScheduler(configs []BatchConfig) (*Scheduler, error) {
	s := &Scheduler{
		configs: make(map[string]BatchConfig),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		now:     time.Now,
		tick:    time.Minute,
	}
	if err := s.Reload(configs); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Reload replaces the schedule. Last-run times and running state of batches
// that stay scheduled are kept.
func (s *Scheduler) Reload(configs []BatchConfig) error {
	next := make(map[string]BatchConfig, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		next[cfg.Name] = cfg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for name := range next {
		if _, ok := s.lastRun[name]; !ok {
			s.lastRun[name] = now
		}
	}
	for name := range s.lastRun {
		if _, ok := next[name]; !ok && !s.running[name] {
			delete(s.lastRun, name)
		}
	}
	s.configs = next
	return nil
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok || !cfg.IsEnabled() {
		return time.Time{}
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if a batch should run now. A batch whose previous
// run is still in flight never starts again.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok || !cfg.IsEnabled() {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return false
	}

	nextRun := sched.Next(s.lastRun[name])
	return !s.now().Before(nextRun)
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// IsRunning reports whether a run of the batch is in flight
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[name]
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (BatchConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the scheduler loop until ctx is done, then waits for in-flight
// runs. Runs receive ctx, so cancelling it interrupts them too.
func (s *Scheduler) Start(ctx context.Context, runFunc RunFunc) {
	logger := logging.FromContext(ctx).With().Str("component", "scheduler").Logger()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	logger.Info().Strs("batches", s.ListBatches()).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.dispatch(ctx, runFunc)
		}
	}
}

// dispatch starts every batch that is due
func (s *Scheduler) dispatch(ctx context.Context, runFunc RunFunc) {
	logger := logging.FromContext(ctx).With().Str("component", "scheduler").Logger()

	for _, name := range s.ListBatches() {
		if !s.ShouldRun(name) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.MarkRunning(name)
		logger.Info().Str("batch", name).Msg("starting scheduled batch")

		s.wg.Add(1)
		go func(c BatchConfig) {
			defer s.wg.Done()
			defer s.MarkComplete(c.Name)
			if err := runFunc(ctx, c); err != nil {
				logger.Error().Err(err).Str("batch", c.Name).Msg("scheduled batch failed")
			}
		}(cfg)
	}
}
