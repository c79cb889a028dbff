package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/horarios-data/internal/common/logger"
)

// Job is one feed refresh run.
type Job func(ctx context.Context) error

// RefreshScheduler re-runs the incremental feed load periodically
type RefreshScheduler struct {
	job       Job
	logger    logger.Logger
	config    SchedulerConfig
	isRunning bool
	mu        sync.RWMutex
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup

	runMu   sync.Mutex // one refresh at a time
	lastRun time.Time
	lastErr error
	runs    int
}

// SchedulerConfig contains configuration for the refresh scheduler
type SchedulerConfig struct {
	Interval     time.Duration // How often to refresh
	InitialDelay time.Duration // Delay before the first refresh
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     24 * time.Hour,
		InitialDelay: 5 * time.Minute,
	}
}

func NewRefreshScheduler(job Job, logger logger.Logger, config SchedulerConfig) *RefreshScheduler {
	return &RefreshScheduler{
		job:    job,
		logger: logger,
		config: config,
	}
}

// Start begins the refresh loop
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("refresh scheduler is already running")
	}
	if s.config.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", s.config.Interval)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.isRunning = true

	s.logger.Info("Starting refresh scheduler",
		"interval", s.config.Interval.String(),
		"initial_delay", s.config.InitialDelay.String())

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler and waits for an in-flight refresh to return
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping refresh scheduler")
	s.cancelFn()
	s.isRunning = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Refresh scheduler stopped")
}

func (s *RefreshScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *RefreshScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	initialDelay := time.NewTimer(s.config.InitialDelay)
	defer initialDelay.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Refresh loop stopping")
			return

		case <-initialDelay.C:
			s.perform(ctx)

		case <-ticker.C:
			s.perform(ctx)
		}
	}
}

func (s *RefreshScheduler) perform(ctx context.Context) {
	s.logger.Info("Starting scheduled feed refresh")
	start := time.Now()
	err := s.run(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Feed refresh failed", "error", err, "duration", duration.String())
		return
	}
	s.logger.Info("Feed refresh completed successfully", "duration", duration.String())
}

func (s *RefreshScheduler) run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	err := s.job(ctx)
	s.lastRun = time.Now()
	s.lastErr = err
	s.runs++
	return err
}

// Trigger runs a refresh now, outside the schedule
func (s *RefreshScheduler) Trigger(ctx context.Context) error {
	s.logger.Info("Manual feed refresh triggered")
	return s.run(ctx)
}

// GetStatus returns the current status of the scheduler
func (s *RefreshScheduler) GetStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.isRunning
	s.mu.RUnlock()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	status := map[string]interface{}{
		"is_running":    running,
		"interval":      s.config.Interval.String(),
		"initial_delay": s.config.InitialDelay.String(),
		"runs":          s.runs,
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(time.RFC3339)
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}
