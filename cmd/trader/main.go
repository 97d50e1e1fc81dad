package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"perptrader/config"
	"perptrader/internal/api"
	"perptrader/internal/exchange"
	"perptrader/internal/journal"
	"perptrader/internal/logger"
	"perptrader/internal/metrics"
	"perptrader/internal/model"
	"perptrader/internal/notification"
	redisstore "perptrader/internal/store/redis"
	"perptrader/internal/trader"
)

func main() {
	cfg := config.Load()
	lg := logger.Init("trader", slog.LevelInfo)
	lg.Info("starting", "symbol", cfg.Symbol, "timeframe", cfg.Timeframe,
		"leverage", cfg.Leverage, "dry_run", cfg.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("shutdown signal received")
		cancel()
	}()

	// ---- Exchange port ----
	baseURL := exchange.MainnetBaseURL
	if cfg.Testnet {
		baseURL = exchange.TestnetBaseURL
	}

	var exch model.Exchange
	if cfg.DryRun {
		// Paper fills against real market data: history is seeded over the
		// unsigned klines endpoint and kept fresh by the stream below.
		paper := exchange.NewPaper(cfg.Symbol, cfg.PaperBalance)
		md := exchange.NewBinanceClient(baseURL, "", "")
		if bars, err := md.GetBarHistory(ctx, cfg.Symbol, cfg.Timeframe, cfg.Indicator.MinBars()+50); err != nil {
			lg.Warn("history seed failed, paper mode warms up from the stream", "err", err)
		} else {
			paper.SetBars(bars)
		}
		exch = paper
	} else {
		exch = exchange.NewBinanceClient(baseURL, cfg.APIKey, cfg.SecretKey)
	}

	// ---- Metrics ----
	prom := metrics.New()
	promSrv := metrics.NewServer(cfg.MetricsAddr)
	promSrv.Start()
	defer promSrv.Stop(context.Background())

	// ---- State store (optional) ----
	var state *redisstore.StateStore
	if cfg.RedisAddr != "" {
		var err error
		state, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, cfg.Symbol)
		if err != nil {
			lg.Warn("redis unavailable, state persistence disabled", "err", err)
		} else {
			defer state.Close()
		}
	}

	// ---- Journal ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	jrnl, err := journal.New(cfg.SQLitePath)
	if err != nil {
		lg.Warn("journal unavailable", "err", err)
	} else {
		defer jrnl.Close()
	}

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}

	// ---- Trader service ----
	svc := trader.New(trader.Config{
		Symbol:               cfg.Symbol,
		Timeframe:            cfg.Timeframe,
		Leverage:             cfg.Leverage,
		PollInterval:         cfg.PollInterval,
		MaxDailyLossFraction: cfg.MaxDailyLossFraction,
		Indicator:            cfg.Indicator,
		Strategy:             cfg.Strategy,
	}, trader.Deps{
		Exchange: exch,
		State:    state,
		Journal:  jrnl,
		Notifier: notification.NewMulti(backends...),
		Metrics:  prom,
	}, lg)

	if err := svc.Init(ctx); err != nil {
		lg.Error("init failed", "err", err)
		os.Exit(1)
	}

	// ---- Status endpoints ----
	if cfg.StatusAddr != "" {
		statusSrv := &http.Server{Addr: cfg.StatusAddr, Handler: api.NewRouter(svc, jrnl)}
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Warn("status server stopped", "err", err)
			}
		}()
		defer statusSrv.Shutdown(context.Background())
	}

	// ---- Bar-close trigger ----
	var barCh chan model.Bar
	if cfg.UseStream {
		barCh = make(chan model.Bar, 16)
		wsURL := exchange.MainnetWSURL
		if cfg.Testnet {
			wsURL = exchange.TestnetWSURL
		}
		stream := exchange.NewBarStream(wsURL, cfg.Symbol, cfg.Timeframe)
		stream.OnReconnect = prom.WSReconnects.Inc
		go stream.Run(ctx, barCh)

		if paper, ok := exch.(*exchange.Paper); ok {
			// Dry-run: mirror streamed bars into the paper exchange so its
			// history and mark price track the live market.
			inner := barCh
			mirrored := make(chan model.Bar, 16)
			go func() {
				for bar := range inner {
					paper.AppendBar(bar)
					mirrored <- bar
				}
			}()
			barCh = mirrored
		}
	}

	if err := svc.Run(ctx, barCh); err != nil {
		lg.Error("trader loop failed", "err", err)
		os.Exit(1)
	}
	lg.Info("stopped")
}
