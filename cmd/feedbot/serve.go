package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"feedbot/internal/bot"
	"feedbot/internal/config"
	"feedbot/internal/database"
	"feedbot/internal/gateway"
	"feedbot/internal/metrics"
	"feedbot/internal/server"
	"feedbot/internal/services"
	"feedbot/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot",
	Long: `Run the bot with the configured gateway provider:

  webex    receive messages through the /webhook endpoint, reply through the Webex REST API
  nats     receive on <prefix>.inbound, publish replies on <prefix>.outbound
  console  read "<sender>: <text>" lines from stdin, print replies

/health and /metrics are served for every provider.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// transport feeds inbound messages to the dispatcher until ctx is done
type transport func(ctx context.Context, d *bot.Dispatcher) error

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Debug {
		logLevel.SetLevel(zapcore.DebugLevel)
	}
	logger.Info("Starting bot",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("provider", cfg.Gateway.Provider),
		zap.Int("workers", cfg.App.Workers))

	// Losing the database is unrecoverable
	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		logger.Info("Closing database connections")
		if err := database.Close(db); err != nil {
			logger.Warn("Error closing database", zap.Error(err))
		}
	}()

	gw, fetcher, feed, cleanup, err := setupGateway(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	gw = gateway.Instrument(gw, cfg.Gateway.Provider)

	locks := util.NewKeyLock()
	directory := services.NewDirectoryService(db, locks, logger)
	registry := services.NewRegistryService(db, gw, locks, os.TempDir(), logger)
	survey := services.NewSurveyService(db, gw, locks, os.TempDir(), logger)

	b := bot.New(directory, registry, survey, gw, logger)
	dispatcher := bot.NewDispatcher(b, cfg.Bot.Email, cfg.App.Workers, logger)
	srv := server.New(cfg, db, fetcher, dispatcher, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if feed != nil {
		g.Go(func() error { return feed(gctx, dispatcher) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Bot stopped")
	return nil
}

// setupGateway builds the outbound gateway of the configured provider and,
// depending on the provider, the webhook message fetcher or the inbound
// transport.
func setupGateway(cfg *config.Config) (gateway.Gateway, server.MessageFetcher, transport, func(), error) {
	noop := func() {}

	switch cfg.Gateway.Provider {
	case config.ProviderWebex:
		wx := gateway.NewWebexGateway(&cfg.Bot, nil)
		return wx, wx, nil, noop, nil

	case config.ProviderNATS:
		nc, err := gateway.ConnectNATS(cfg.NATS.URL, cfg.App.Name)
		if err != nil {
			return nil, nil, nil, noop, err
		}
		ng := gateway.NewNATSGateway(nc, cfg.NATS.SubjectPrefix, logger)
		feed := func(ctx context.Context, d *bot.Dispatcher) error {
			sub, err := ng.Subscribe(func(in gateway.Inbound) {
				metrics.RecordInbound("nats")
				if err := d.Submit(ctx, in); err != nil {
					logger.Warn("Dropping inbound message", zap.String("id", in.ID), zap.Error(err))
				}
			})
			if err != nil {
				return err
			}
			logger.Info("Listening for inbound messages", zap.String("subject", ng.InboundSubject()))
			<-ctx.Done()
			return sub.Unsubscribe()
		}
		cleanup := func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("Error draining NATS connection", zap.Error(err))
			}
		}
		return ng, nil, feed, cleanup, nil

	default:
		cg := gateway.NewConsoleGateway(os.Stdout, logger)
		feed := func(ctx context.Context, d *bot.Dispatcher) error {
			return cg.ScanInbound(ctx, os.Stdin, func(in gateway.Inbound) {
				metrics.RecordInbound("console")
				if err := d.Submit(ctx, in); err != nil {
					logger.Warn("Dropping inbound message", zap.Error(err))
				}
			})
		}
		return cg, nil, feed, noop, nil
	}
}
