package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"

	"btcalerts/config"
	"btcalerts/internal/alert"
	"btcalerts/internal/gateway"
	"btcalerts/internal/indicator"
	"btcalerts/internal/logger"
	"btcalerts/internal/marketdata/agg"
	"btcalerts/internal/marketdata/history"
	"btcalerts/internal/marketdata/ws"
	"btcalerts/internal/metrics"
	"btcalerts/internal/model"
	"btcalerts/internal/monitor"
	"btcalerts/internal/notification"
	"btcalerts/internal/sltp"
	redisstore "btcalerts/internal/store/redis"
	sqlitestore "btcalerts/internal/store/sqlite"
)

func main() {
	// ---- Config ----
	cfg := config.Load()
	log := logger.Init("btcalerts", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	tfs, _ := cfg.ParseTFs()
	align, _ := agg.ParseAlignment(cfg.CandleAlign)
	feedURL := cfg.TradeFeedURL()

	tfLabels := make([]string, len(tfs))
	for i, tf := range tfs {
		tfLabels[i] = tf.Label()
	}
	log.Info("starting", "symbol", cfg.Symbol, "tfs", tfLabels, "staging", cfg.StagingMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(tfLabels)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	metricsSrv.Start()

	// ---- Candle aggregator ----
	aggregator := agg.New(tfs, cfg.MaxCandles,
		agg.WithAlignment(align),
		agg.WithStaleTolerance(cfg.StaleTolerance),
	)
	aggregator.OnCandleClosed = func(c model.Candle) {
		prom.CandlesTotal.WithLabelValues(model.TFLabel(c.TF)).Inc()
	}
	aggregator.OnStaleTick = func(tf int) {
		prom.StaleTicks.WithLabelValues(model.TFLabel(tf)).Inc()
	}
	aggregator.OnEvicted = func(tf int) {
		prom.Evicted.WithLabelValues(model.TFLabel(tf)).Inc()
	}

	if cfg.Bootstrap && !cfg.StagingMode {
		hc := history.NewClient(cfg.RESTURL, cfg.Symbol)
		bctx, bcancel := context.WithTimeout(ctx, 30*time.Second)
		n := hc.Bootstrap(bctx, aggregator, tfs, cfg.MaxCandles)
		bcancel()
		log.Info("history bootstrap done", "timeframes", n, "of", len(tfs))
	}

	// ---- Indicators ----
	indCfg := indicator.DefaultConfig()
	indCfg.MinCandles = cfg.MinCandles
	indCfg.Precision = cfg.PricePrecision
	indicators := indicator.NewEngine(indCfg)

	// ---- Notification sinks ----
	hub := gateway.NewHub(512)
	hub.OnClientsChanged = func(n int) { prom.WSClients.Set(float64(n)) }
	hub.OnDropped = func(n int) { prom.WSDropped.Add(float64(n)) }

	sinks := notification.NewMulti(notification.NewLogNotifier(), hub)

	if cfg.TelegramBotToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn("telegram disabled", "error", err)
		} else {
			sinks.Add(tg)
			log.Info("telegram notifier ready")
		}
	}
	if cfg.WebhookURL != "" {
		sinks.Add(notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Info("webhook notifier ready")
	}

	var journal *sqlitestore.Journal
	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		j, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Error("sqlite journal init failed", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer j.Close()
		journal = j
		sinks.Add(journal)
		health.SetJournalOK(true)
		log.Info("alert journal ready", "path", cfg.SQLitePath)
	}

	var rdbPub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		rdbPub = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Symbol:   cfg.Symbol,
		})
		defer rdbPub.Close()
		rdbPub.OnPublish = func(d time.Duration) { prom.RedisPublishDur.Observe(d.Seconds()) }
		rdbPub.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitState.Set(float64(to))
			log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		}
		if err := rdbPub.Ping(ctx); err != nil {
			log.Warn("redis unreachable, continuing", "error", err)
			health.SetRedisConnected(false)
		} else {
			health.SetRedisConnected(true)
		}
		sinks.Add(rdbPub)
	}

	var (
		rdb *goredis.Client
		db  *sql.DB
	)
	if rdbPub != nil {
		rdb = rdbPub.Client()
	}
	if journal != nil {
		db = journal.DB()
	}
	health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)

	// ---- Alerts ----
	defaults := alert.DefaultRule()
	defaults.ThresholdPercent = cfg.DefaultThresholdPct
	// Delivery runs off the evaluation path; a full queue drops the alert
	// and the engine counts it through OnNotifyError.
	queue := notification.NewQueue(sinks, 256, 15*time.Second)
	queue.OnError = func(error) { prom.NotifyErrors.Inc() }
	go queue.Run(ctx)

	alerts := alert.New(tfLabels, model.IndicatorNames, defaults, queue,
		alert.WithPriceTolerance(cfg.PriceAlertTolerance))
	alerts.OnFire = func(f alert.Firing) {
		prom.AlertsFired.WithLabelValues(f.Kind).Inc()
	}
	alerts.OnNotifyError = func(error) { prom.NotifyErrors.Inc() }

	if cfg.AlertRulesFile != "" {
		rf, err := alert.LoadRulesFile(cfg.AlertRulesFile)
		if err == nil {
			err = alerts.Apply(rf)
		}
		if err != nil {
			log.Error("alert rules file rejected", "path", cfg.AlertRulesFile, "error", err)
			os.Exit(1)
		}
		log.Info("alert rules loaded", "path", cfg.AlertRulesFile)
	}

	// ---- Evaluator ----
	svc := monitor.New(monitor.Config{Interval: cfg.EvalInterval},
		aggregator, indicators, alerts, sltp.NewCalculator())
	svc.AddPublisher(hub)
	if rdbPub != nil {
		svc.AddPublisher(rdbPub)
	}
	svc.OnEval = func(d time.Duration, ready int) {
		prom.EvalDuration.Observe(d.Seconds())
		prom.IndicatorsReady.Set(float64(ready))
		health.SetIndicatorsReady(ready)
	}

	// ---- Trade feed ----
	tickCh := make(chan model.Tick, 10000)
	feed, err := ws.New(ws.Config{URL: feedURL})
	if err != nil {
		log.Error("feed init failed", "url", feedURL, "error", err)
		os.Exit(1)
	}
	feed.OnTick = func(t model.Tick) {
		prom.TicksTotal.Inc()
		prom.LastPrice.Set(t.Price.InexactFloat64())
		health.SetLastTickTime(t.TS)
	}
	feed.OnMalformed = func() { prom.MalformedTicks.Inc() }
	feed.OnDropped = func() { prom.DroppedTicks.Inc() }
	feed.OnReconnect = func() { prom.FeedReconnects.Inc() }
	feed.OnConnect = health.SetFeedConnected

	go func() {
		if err := feed.Start(ctx, tickCh); err != nil {
			log.Error("feed stopped", "error", err)
			health.SetFeedConnected(false)
		}
	}()
	go aggregator.Run(ctx, tickCh)
	go svc.Run(ctx)

	// ---- Dashboard API ----
	start := time.Now()
	go hub.RunStatus(ctx, start, 5*time.Second, health.Status)

	gin.SetMode(gin.ReleaseMode)
	var jh gateway.AlertHistory
	if journal != nil {
		jh = journal
	}
	api := gateway.NewAPI(svc, hub, jh)
	httpSrv := api.Server(cfg.HTTPAddr)
	go func() {
		log.Info("dashboard listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()

	mode := "production"
	if cfg.StagingMode {
		mode = "STAGING"
	}
	log.Info("╔════════════════════════════════════════════════════════════════╗")
	log.Info("║  BTC Alert Monitor (" + mode + ")")
	log.Info("║  [Trade WS] → [Candles] → [Indicators] → [Alerts/SLTP] → [UI]  ║")
	log.Info("║  Symbol: " + cfg.Symbol + "  TFs: " + strconv.Itoa(len(tfs)) + "  Sinks: " + strconv.Itoa(sinks.Len()))
	log.Info("║  Feed: " + feedURL)
	log.Info("╚════════════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	select {
	case <-sigCh:
		log.Info("shutdown signal received, cleaning up...")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	hub.Close()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", "error", err)
	}

	slog.Info("shutdown complete")
}
