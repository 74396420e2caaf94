package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/booking"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/notify"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
)

// ErrNoRoutingToken means login reported success but the portal issued no
// per-session routing token; without it no category page can be navigated,
// so the login counts as failed.
var ErrNoRoutingToken = errors.New("login succeeded but no routing token was issued")

const defaultLoginAttempts = 3

// Workspace clears and resolves per-account scratch directories. Implemented
// by infra/workspace.Manager.
type Workspace interface {
	Dir(accountName string) (string, error)
	Clear(accountName string) error
}

// Outcome is one account's result for a single pass. Workers convert every
// failure into an outcome instead of propagating, so the orchestrator can
// keep running sibling accounts.
type Outcome struct {
	Account string
	Err     error
}

// Success reports whether the account completed the pass without failures.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// WorkerConfig carries the knobs one account worker needs.
type WorkerConfig struct {
	Workflow      WorkflowConfig
	LoginAttempts int

	// PollCycles is how many poll cycles to run within one login session.
	// The cached earlier-slots snapshot diffs consecutive cycles; it dies
	// with the session.
	PollCycles   int
	PollInterval time.Duration
}

// Worker drives one account through a full cycle: workspace cleanup, login,
// per-category booking workflow, notifications and teardown. A worker owns
// its account record and driver exclusively for the duration of Run.
type Worker struct {
	account    account.Account
	factory    booking.DriverFactory
	notifier   notify.Notifier
	workspaces Workspace
	cfg        WorkerConfig
	logger     *logrus.Entry

	// loginBackoff builds the wait strategy between login attempts.
	// Replaceable in tests to avoid real sleeps.
	loginBackoff func() backoff.BackOff
}

func NewWorker(
	acc account.Account,
	factory booking.DriverFactory,
	notifier notify.Notifier,
	workspaces Workspace,
	cfg WorkerConfig,
	logger *logrus.Entry,
) *Worker {
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = defaultLoginAttempts
	}
	if cfg.PollCycles <= 0 {
		cfg.PollCycles = 1
	}
	return &Worker{
		account:    acc,
		factory:    factory,
		notifier:   notifier,
		workspaces: workspaces,
		cfg:        cfg,
		logger:     logger.WithField("account", acc.Name),
		loginBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 15 * time.Second
			return b
		},
	}
}

// Run performs the account's full cycle and reports the outcome. It never
// panics outward and always tears the driver session down, even after
// earlier steps failed.
func (w *Worker) Run(ctx context.Context) (outcome Outcome) {
	outcome = Outcome{Account: w.account.Name}

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("account worker panicked: %v", r)
			w.logger.WithField("panic", r).Error("Recovered from worker panic")
			w.notifyFailure(outcome.Err)
		}
	}()

	if err := w.workspaces.Clear(w.account.Name); err != nil {
		w.logger.WithError(err).Warn("Could not clear account workspace")
	}
	workDir, err := w.workspaces.Dir(w.account.Name)
	if err != nil {
		outcome.Err = fmt.Errorf("account workspace: %w", err)
		w.notifyFailure(outcome.Err)
		return outcome
	}

	driver, err := w.factory.New(ctx, w.account, workDir)
	if err != nil {
		outcome.Err = fmt.Errorf("driver setup: %w", err)
		w.notifyFailure(outcome.Err)
		return outcome
	}
	defer w.teardown(driver)

	if _, err := w.login(ctx, driver); err != nil {
		outcome.Err = err
		w.logger.WithError(err).Error("Login failed")
		w.notifyFailure(err)
		return outcome
	}
	w.logger.Info("Login successful")

	states := session.NewSet()
	workflow := NewWorkflow(
		w.account.Name,
		driver,
		w.notifier,
		states,
		w.cfg.Workflow,
		func(ctx context.Context) error {
			if err := driver.Logout(ctx); err != nil {
				w.logger.WithError(err).Warn("Logout before re-login failed")
			}
			_, err := w.login(ctx, driver)
			return err
		},
		w.logger,
	)

	// Categories run in the configured order; one category's failure does
	// not stop the others. At the end of every poll cycle the state is
	// reset wholesale, carrying only the cached earlier-slots snapshots
	// into the next cycle.
	var categoryErrs []error
	for cycle := 1; cycle <= w.cfg.PollCycles; cycle++ {
		for _, cat := range w.account.Monitored {
			if ctx.Err() != nil {
				break
			}
			if err := workflow.RunCategory(ctx, cat); err != nil {
				w.logger.WithField("category", string(cat)).WithError(err).Error("Category check failed")
				w.notifyFailure(fmt.Errorf("category %s: %w", cat, err))
				categoryErrs = append(categoryErrs, fmt.Errorf("%s: %w", cat, err))
			}
		}
		states.ResetAll()

		if cycle == w.cfg.PollCycles || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.PollInterval):
		}
	}
	outcome.Err = errors.Join(categoryErrs...)
	return outcome
}

// login runs the full login sequence up to the configured attempt limit,
// backing off between attempts. Each retry restarts the sequence from the
// top; the loop carries the attempt counter explicitly instead of recursing.
func (w *Worker) login(ctx context.Context, driver booking.Driver) (string, error) {
	wait := w.loginBackoff()
	var lastErr error

	for attempt := 1; attempt <= w.cfg.LoginAttempts; attempt++ {
		w.logger.WithField("attempt", attempt).Info("Attempting login")

		token, err := driver.Login(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if err == nil {
			lastErr = ErrNoRoutingToken
		} else {
			lastErr = err
		}
		w.logger.WithField("attempt", attempt).WithError(lastErr).Warn("Login attempt failed")

		if attempt == w.cfg.LoginAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait.NextBackOff()):
		}
	}

	return "", fmt.Errorf("login failed after %d attempts: %w", w.cfg.LoginAttempts, lastErr)
}

// teardown logs out and releases the driver. Runs regardless of how the
// cycle went; errors here are logged only.
func (w *Worker) teardown(driver booking.Driver) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := driver.Logout(ctx); err != nil {
		w.logger.WithError(err).Warn("Logout failed during teardown")
	}
	if err := driver.Close(); err != nil {
		w.logger.WithError(err).Warn("Driver close failed during teardown")
	}
}

func (w *Worker) notifyFailure(err error) {
	title := fmt.Sprintf("[%s] Error", w.account.Name)
	if nerr := w.notifier.Notify(title, err.Error()); nerr != nil {
		w.logger.WithError(nerr).Warn("Failure notification could not be delivered")
	}
}
