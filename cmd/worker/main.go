package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazka/pricewatch/internal/browser"
	"github.com/smazka/pricewatch/internal/config"
	"github.com/smazka/pricewatch/internal/proxy"
	"github.com/smazka/pricewatch/internal/scraper"
	"github.com/smazka/pricewatch/internal/worker"
)

func main() {
	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proxyClient := proxy.NewClient(proxy.Settings{
		Enabled:    cfg.Proxy.Enabled,
		Host:       cfg.Proxy.Host,
		Port:       cfg.Proxy.Port,
		Username:   cfg.Proxy.Username,
		Password:   cfg.Proxy.Password,
		RefreshURL: cfg.Proxy.RefreshURL,
	}, cfg.Proxy.RotateCooldown, logger)

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Scraper.Headless
	opts.NavTimeout = cfg.Scraper.NavTimeout
	session := browser.NewSession(opts, logger)
	defer session.Release()

	proxied := &worker.ProxiedSession{Session: session, Proxy: proxyClient}
	fetcher := scraper.NewFetcher(scraper.Mode(cfg.Scraper.Mode), session, logger)

	runner := scraper.NewRunner(scraper.PolicyConfig{
		BatchSize:            cfg.Scraper.BatchSize,
		RequestDelayMin:      cfg.Scraper.RequestDelayMin,
		RequestDelayMax:      cfg.Scraper.RequestDelayMax,
		BatchPause:           cfg.Scraper.BatchPause,
		BlockCooldown:        cfg.Scraper.BlockCooldown,
		RotateWaitMin:        cfg.Scraper.RotateWaitMin,
		RotateWaitMax:        cfg.Scraper.RotateWaitMax,
		CooldownPause:        cfg.Scraper.CooldownPause,
		MaxConsecutiveBlocks: cfg.Scraper.MaxConsecutiveBlocks,
		RetriesPerTarget:     cfg.Scraper.RetriesPerTarget,
	}, proxied, fetcher, proxyClient, nil, logger)

	client := worker.NewClient(cfg.Worker.CoordinatorURL, logger)
	loop := worker.NewLoop(worker.ClientSource{Client: client}, runner, cfg.Scraper.PollInterval, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down worker...")
		cancel()

		// force exit if a navigation hangs past the drain window
		time.AfterFunc(30*time.Second, func() {
			logger.Error("drain timed out, exiting")
			os.Exit(1)
		})
	}()

	logger.Info("worker started",
		"coordinator", cfg.Worker.CoordinatorURL,
		"mode", cfg.Scraper.Mode,
		"proxy", proxyClient.Enabled())
	loop.Run(ctx)
	logger.Info("worker stopped")
}
