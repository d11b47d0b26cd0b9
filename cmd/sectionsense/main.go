package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/checker"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/jacobmichels/Section-Sense-Go/edugate"
	"github.com/jacobmichels/Section-Sense-Go/extractor"
	"github.com/jacobmichels/Section-Sense-Go/logging"
	"github.com/jacobmichels/Section-Sense-Go/monitor"
	"github.com/jacobmichels/Section-Sense-Go/notifier"
	"github.com/jacobmichels/Section-Sense-Go/repository"
	"github.com/jacobmichels/Section-Sense-Go/scheduler"
	"github.com/jacobmichels/Section-Sense-Go/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var args struct {
	Config string `arg:"-c,--config" help:"path to the config file, defaults to ./config.yaml"`
	Once   bool   `arg:"--once" help:"run a single sweep over all due accounts and exit"`
}

func main() {
	arg.MustParse(&args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.ReadConfig(args.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	_, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer logCloser.Close()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("sectionsense stopped with an error")
		logCloser.Close()
		os.Exit(1)
	}

	log.Info().Msg("sectionsense stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	// Startup steps
	// 1. Open the account store
	// 2. Build the portal pipeline and notifications
	// 3. Run the scheduler and the API until interrupted

	store, err := repository.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	navigator, err := edugate.NewNavigator(cfg.Portal)
	if err != nil {
		return err
	}
	sectionExtractor := extractor.NewEdugateWith(cfg.Portal.Extractor.Trigger, cfg.Portal.Extractor.BoilerplatePrefixes)

	messenger, err := newMessenger(cfg.Notifications)
	if err != nil {
		return err
	}

	c := checker.NewChecker(navigator, sectionExtractor, store, checker.NewLocks(), cfg.Scheduler.MaxSessions, notifier.NewDispatcher(messenger))
	service := monitor.NewService(c, store, cfg.Scheduler)

	accounts, err := store.List(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("accounts", len(accounts)).Msg("loaded accounts")

	sched := scheduler.NewScheduler(store, c, cfg.Scheduler, scheduler.WithState(scheduler.NewState(accounts)))

	if args.Once {
		checked, err := sched.Sweep(ctx)
		log.Info().Int("checked", checked).Msg("single sweep complete")
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	if cfg.Server.Enabled {
		srv := server.NewServer(cfg.Server.Addr, service)
		g.Go(func() error { return srv.Start(ctx) })
	}

	return g.Wait()
}

func newMessenger(cfg config.Notifications) (sectionsense.Messenger, error) {
	if !cfg.Telegram.Enabled {
		log.Warn().Msg("telegram disabled, notifications will only be logged")
		return notifier.NewNoop(), nil
	}

	return notifier.NewTelegram(cfg.Telegram)
}
