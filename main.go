package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"order-tracker/bot"
	"order-tracker/config"
	"order-tracker/db"
	"order-tracker/logger"
	"order-tracker/notify"
	"order-tracker/services"
	"order-tracker/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "order-tracker",
		Short:         "Follow a storefront order from checkout to delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newWhoamiCmd(),
		newTrackCmd(),
		newResumeCmd(),
		newClearCmd(),
		newServeCmd(),
		newSetStatusCmd(),
		newSeedCmd(),
	)
	return root
}

// app holds the wired components. Fields a command does not ask for stay nil.
type app struct {
	cfg *config.Config
	log logger.Logger

	pool  *pgxpool.Pool
	local *storage.Badger
	repo  *db.OrderRepository

	identity *services.IdentityProvider
	store    *services.OrderStore
	lookup   *services.LookupService
	tracker  *services.Tracker
	bot      *bot.Bot
	throttle *services.SearchThrottle

	closers []func()
}

type appOptions struct {
	database bool
	tracking bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.NewZapLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	local, err := storage.OpenBadger(cfg.Tracking.DataDir)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	a.local = local
	a.closers = append(a.closers, func() {
		if err := local.Close(); err != nil {
			log.Warn("close local store", logger.Error(err))
		}
	})
	cookies := storage.NewCookieFile(cfg.Tracking.CookieFile)
	a.identity = services.NewIdentityProvider(cookies, local, cfg.Tracking.IdentityTTL, log)
	a.store = services.NewOrderStore(a.identity.GetOrCreateClientID, log, local, cookies)

	if !opts.database && !opts.tracking {
		ready = true
		return a, nil
	}

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	if cfg.App.AutoMigrate {
		if err := db.Migrate(ctx, pool, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	a.repo = db.NewOrderRepository(pool)
	a.lookup = services.NewLookupService(a.repo, a.store, log)

	if !opts.tracking {
		ready = true
		return a, nil
	}

	a.throttle = services.NewSearchThrottle()
	notifiers := notify.Multi{notify.NewLog(log)}
	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram, cfg.App.Lang, a.lookup, a.throttle, log)
		if err != nil {
			return nil, err
		}
		a.bot = b
		notifiers = append(notifiers, b)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notify.NewKafka(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		notifiers = append(notifiers, k)
	}

	var channels services.ChannelProvider
	if cfg.Realtime.Enabled {
		channels = db.NewListenProvider(pool, cfg.Realtime.Topic, log)
	}
	a.tracker = services.NewTracker(services.TrackerDeps{
		Identity: a.identity,
		Store:    a.store,
		Lookup:   a.lookup,
		Channels: channels,
		Notifier: notifiers,
		Logger:   log,
	}, services.TrackerOptions{
		PollInterval: cfg.Tracking.PollInterval,
		Lang:         cfg.App.Lang,
	})
	a.closers = append(a.closers, a.tracker.Close)
	ready = true
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	err = fn(ctx, a)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
