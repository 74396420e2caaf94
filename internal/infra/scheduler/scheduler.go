package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PassScheduler reruns the full account pass on a cron schedule. A pass that
// is still running when the next trigger fires is never doubled up; the
// trigger is skipped instead.
type PassScheduler struct {
	cronEngine *cron.Cron
	runPass    func(context.Context)
	cronSpec   string
	timeout    time.Duration
	logger     *logrus.Entry

	mu     sync.Mutex
	active bool
}

func NewPassScheduler(
	cronSpec string, // e.g. "0 * * * *" (top of every hour)
	passTimeout time.Duration,
	runPass func(context.Context),
	logger *logrus.Entry,
) *PassScheduler {
	return &PassScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		runPass:    runPass,
		cronSpec:   cronSpec,
		timeout:    passTimeout,
		logger:     logger,
	}
}

// Start registers the cron job and starts the engine.
func (s *PassScheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron trigger fired for account pass")
		s.RunNow()
	}); err != nil {
		return err
	}
	s.cronEngine.Start()
	s.logger.WithField("cron", s.cronSpec).Info("Pass scheduler started")
	return nil
}

// RunNow executes one pass immediately, blocking until it finishes. If a
// pass is already in flight the call is dropped.
func (s *PassScheduler) RunNow() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.logger.Warn("Previous account pass is still running, skipping this trigger")
		return
	}
	s.active = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	s.runPass(ctx)
	s.logger.WithField("duration", time.Since(started).Round(time.Second).String()).Info("Account pass completed")
}

// Stop stops the cron engine and waits for a running pass to finish.
func (s *PassScheduler) Stop() {
	s.logger.Info("Stopping pass scheduler...")
	ctx := s.cronEngine.Stop() // Stops new triggers, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Pass scheduler gracefully stopped")
}
