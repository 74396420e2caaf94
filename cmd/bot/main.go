package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/app"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/notify"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/config"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/driver"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/logger"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/scheduler"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/telegram"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/infra/workspace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get().Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	logger.Init(cfg.Logging)
	log := logger.Get().WithField("component", "main")
	log.WithField("config", *configPath).Info("CDC Camper Bot starting...")

	accounts, skipped, err := cfg.AccountList()
	if err != nil {
		log.WithError(err).Fatal("Invalid account configuration")
	}
	for _, name := range skipped {
		log.WithField("account", name).Warn("Account has incomplete credentials, ignoring it")
	}
	log.WithField("accounts", len(accounts)).Info("Accounts loaded")

	workspaces, err := workspace.NewManager(cfg.Workspace.Root)
	if err != nil {
		log.WithError(err).Fatal("Could not prepare the workspace root")
	}
	if err := workspaces.ClearAll(); err != nil {
		log.WithError(err).Warn("Could not clear leftover workspaces from a previous run")
	}

	var notifier notify.Notifier = notify.Discard{}
	if cfg.Telegram.Enabled {
		tn, err := telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			log.WithError(err).Fatal("Could not create Telegram notifier")
		}
		notifier = tn
		log.Info("Telegram notifications enabled")
	} else {
		log.Info("Telegram notifications disabled, running silently")
	}

	factory := driver.NewFactory(driver.Config{
		BaseURL: cfg.Driver.SidecarURL,
		Timeout: cfg.Driver.Timeout,
	}, logger.Get().WithField("component", "driver"))

	orchestrator := app.NewOrchestrator(
		accounts,
		factory,
		notifier,
		workspaces,
		app.OrchestratorConfig{
			MaxConcurrent: cfg.Program.MaxConcurrent,
			Stagger:       cfg.Program.Stagger,
			Worker: app.WorkerConfig{
				Workflow: app.WorkflowConfig{
					AutoReserve:        cfg.Program.AutoReserve,
					ReserveForSameDay:  cfg.Program.ReserveForSameDay,
					SlotsPerReserve:    cfg.Program.SlotsPerReserve,
					BookFromOtherTeams: cfg.Program.BookFromOtherTeams,
				},
				LoginAttempts: cfg.Program.LoginAttempts,
				PollCycles:    cfg.Program.PollCycles,
				PollInterval:  cfg.Program.PollInterval,
			},
		},
		logger.Get().WithField("component", "orchestrator"),
	)

	// Leave headroom for the next trigger: a pass that outlives its slot is
	// cancelled rather than stacked.
	passScheduler := scheduler.NewPassScheduler(
		cfg.Program.RestartCron,
		55*time.Minute,
		orchestrator.RunAll,
		logger.Get().WithField("component", "scheduler"),
	)

	if err := notifier.Notify("CDC Camper Bot", "Bot started, beginning the first account pass."); err != nil {
		log.WithError(err).Warn("Startup notification failed")
	}

	// First pass runs immediately; the cron schedule only covers reruns.
	firstPass := make(chan struct{})
	go func() {
		passScheduler.RunNow()
		close(firstPass)
	}()

	if cfg.Program.AutoRestart {
		if err := passScheduler.Start(); err != nil {
			log.WithError(err).Fatal("Could not start the pass scheduler")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Program.AutoRestart {
		<-quit
	} else {
		select {
		case <-quit:
		case <-firstPass:
			log.Info("Auto-restart disabled, single pass finished")
		}
	}

	log.Info("Shutting down...")
	passScheduler.Stop()
	if err := notifier.Notify("CDC Camper Bot", "Bot stopped."); err != nil {
		log.WithError(err).Warn("Shutdown notification failed")
	}
	log.Info("Shut down gracefully")
}
