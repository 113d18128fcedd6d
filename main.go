package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quotesync/config"
	"quotesync/feed"
	"quotesync/internal/channel"
	"quotesync/logger"
	"quotesync/processor"
	"quotesync/registry"
	"quotesync/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	forceRefresh := flag.Bool("refresh-instruments", false, "Force a provider instrument refresh on startup")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Quotesync.Name,
		"version": cfg.Quotesync.Version,
	}).Info("starting quotesync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitCloudWatch("", "QuoteSync", cfg.Logging.DashboardName)
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.QuoteBuffer,
	)

	store, err := writer.NewExcelStore(cfg.Sink.Workbook)
	if err != nil {
		log.WithError(err).Error("failed to open sink workbook")
		os.Exit(1)
	}

	client := feed.NewClient(cfg.Provider)
	reg := registry.New(cfg.Registry, client)

	// A fetch failure here is not fatal; the registry degrades to its
	// cached snapshot and classification catches up on the next refresh.
	if _, err := reg.Refresh(ctx, *forceRefresh); err != nil {
		if errors.Is(err, registry.ErrNoInstruments) {
			log.WithError(err).Warn("no instrument data available yet; classification will default to securities")
		} else {
			log.WithError(err).Warn("instrument refresh failed")
		}
	}

	watchlist := loadWatchlist(store, cfg, reg)
	if len(watchlist) == 0 {
		log.Error("no symbols to subscribe; nothing to do")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{"symbols": len(watchlist)}).Info("watchlist ready")

	manager := feed.NewManager(cfg.Feed, client, watchlist, channels)
	normalizer := processor.NewNormalizer(cfg.Processor, reg, channels)
	synchronizer := writer.NewSynchronizer(cfg.Sink, store, channels)

	if err := synchronizer.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start sink synchronizer")
		os.Exit(1)
	}
	if err := normalizer.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start normalizer")
		os.Exit(1)
	}

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- manager.Run(ctx)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	feedStopped := false
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-feedDone:
		feedStopped = true
		if errors.Is(err, feed.ErrExhausted) {
			log.Error("feed reconnect attempts exhausted; manual restart required")
		} else if err != nil {
			log.WithError(err).Error("feed manager exited")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		// The feed manager must be fully stopped before the channels
		// close; a live session could still be pushing raw messages.
		if !feedStopped {
			<-feedDone
		}

		log.Info("stopping normalizer")
		normalizer.Stop()

		log.Info("stopping sink synchronizer")
		synchronizer.Stop()

		channels.Close()
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close sink workbook")
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("quotesync stopped")
}

// loadWatchlist reads the tickers sheet and filters it against the
// instrument registry. When the sheet yields nothing the full registry
// universe is used instead, and when the registry is empty the sheet
// is trusted as-is.
func loadWatchlist(store writer.Store, cfg *config.Config, reg *registry.Registry) []string {
	log := logger.GetLogger().WithComponent("main")

	watchlist, err := writer.LoadWatchlist(store, cfg.Sink.TickersSheet)
	if err != nil {
		log.WithError(err).Warn("failed to load tickers sheet")
	}
	if len(watchlist) == 0 {
		log.Warn("empty watchlist, subscribing to the full instrument universe")
		return reg.Symbols()
	}

	known := reg.Symbols()
	if len(known) == 0 {
		return watchlist
	}

	valid := make([]string, 0, len(watchlist))
	dropped := 0
	for _, sym := range watchlist {
		if reg.IsRepo(sym) {
			valid = append(valid, sym)
			continue
		}
		if _, err := reg.Resolve(sym); err == nil {
			valid = append(valid, sym)
			continue
		}
		dropped++
	}
	if dropped > 0 {
		log.WithFields(logger.Fields{"dropped": dropped}).Warn("watchlist entries not present in instrument listing")
	}
	return valid
}
