package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/booking"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/notify"
)

// OrchestratorConfig carries the pass-level scheduling knobs.
type OrchestratorConfig struct {
	// MaxConcurrent bounds how many account workers run at once. Zero or
	// negative means unbounded up to the number of enabled accounts.
	MaxConcurrent int

	// Stagger is the delay between consecutive account starts, flattening
	// peak resource usage when many browser sessions spin up.
	Stagger time.Duration

	Worker WorkerConfig
}

// Orchestrator runs one pass over all enabled accounts: staggered worker
// starts under a concurrency bound, outcome collection without one worker's
// failure aborting siblings, and a final sweep of abandoned resources.
type Orchestrator struct {
	accounts   []account.Account
	factory    booking.DriverFactory
	notifier   notify.Notifier
	workspaces Workspace
	cfg        OrchestratorConfig
	logger     *logrus.Entry

	// running tracks accounts whose workers are in flight. Mutated from
	// multiple worker goroutines.
	mu      sync.Mutex
	running map[string]struct{}
}

func NewOrchestrator(
	accounts []account.Account,
	factory booking.DriverFactory,
	notifier notify.Notifier,
	workspaces Workspace,
	cfg OrchestratorConfig,
	logger *logrus.Entry,
) *Orchestrator {
	return &Orchestrator{
		accounts:   accounts,
		factory:    factory,
		notifier:   notifier,
		workspaces: workspaces,
		cfg:        cfg,
		logger:     logger,
		running:    make(map[string]struct{}),
	}
}

// RunAll performs one pass over all enabled accounts. It blocks until every
// scheduled worker has finished or the context is cancelled, then sweeps up
// anything a worker left behind. A pass never fails because of a single
// account; an empty account list is reported, not an error.
func (o *Orchestrator) RunAll(ctx context.Context) {
	enabled := make([]account.Account, 0, len(o.accounts))
	for _, acc := range o.accounts {
		if acc.Enabled {
			enabled = append(enabled, acc)
		} else {
			o.logger.WithField("account", acc.Name).Info("Account is disabled, skipping")
		}
	}
	if len(enabled) == 0 {
		o.logger.Warn("No enabled accounts found")
		return
	}

	maxConcurrent := effectiveConcurrency(o.cfg.MaxConcurrent, len(enabled))
	o.logger.WithField("accounts", len(enabled)).WithField("max_concurrent", maxConcurrent).Info("Starting account pass")

	outcomes := make([]Outcome, len(enabled))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, acc := range enabled {
		delay := time.Duration(i) * o.cfg.Stagger
		g.Go(func() error {
			if delay > 0 {
				o.logger.WithField("account", acc.Name).WithField("delay", delay).Info("Account start staggered")
				select {
				case <-ctx.Done():
					// Pending starts are skippable without side effects.
					o.logger.WithField("account", acc.Name).Info("Pass cancelled before account start")
					outcomes[i] = Outcome{Account: acc.Name, Err: ctx.Err()}
					return nil
				case <-time.After(delay):
				}
			}

			o.markRunning(acc.Name)
			outcomes[i] = o.runAccount(ctx, acc)
			o.markFinished(acc.Name)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		if !out.Success() {
			failed++
			o.logger.WithField("account", out.Account).WithError(out.Err).Error("Account pass failed")
		}
	}
	o.logger.WithField("succeeded", len(enabled)-failed).WithField("failed", failed).Info("Account pass finished")

	o.sweep()
}

// runAccount runs one worker, containing any panic that escapes it so a
// single account can never take down the scheduling loop.
func (o *Orchestrator) runAccount(ctx context.Context, acc account.Account) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Account: acc.Name, Err: fmt.Errorf("unhandled worker panic: %v", r)}
			o.logger.WithField("account", acc.Name).WithField("panic", r).Error("Worker escaped its own recovery")
		}
	}()

	worker := NewWorker(acc, o.factory, o.notifier, o.workspaces, o.cfg.Worker, o.logger)
	return worker.Run(ctx)
}

func (o *Orchestrator) markRunning(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[name] = struct{}{}
}

func (o *Orchestrator) markFinished(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, name)
}

// sweep force-cleans accounts still marked running after the pass: a worker
// that never reached its own cleanup phase left its scratch workspace behind.
func (o *Orchestrator) sweep() {
	o.mu.Lock()
	leftovers := make([]string, 0, len(o.running))
	for name := range o.running {
		leftovers = append(leftovers, name)
	}
	o.running = make(map[string]struct{})
	o.mu.Unlock()

	sort.Strings(leftovers)
	for _, name := range leftovers {
		o.logger.WithField("account", name).Warn("Forcing cleanup for account that did not exit cleanly")
		if err := o.workspaces.Clear(name); err != nil {
			o.logger.WithField("account", name).WithError(err).Error("Forced workspace cleanup failed")
		}
	}
}

// effectiveConcurrency clamps the configured bound into (0, accountCount];
// zero or negative means every account may run at once.
func effectiveConcurrency(configured, accountCount int) int {
	if configured <= 0 || configured > accountCount {
		return accountCount
	}
	return configured
}
