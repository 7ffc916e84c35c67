package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"arbscan/internal/aggregator"
	"arbscan/internal/api"
	"arbscan/internal/config"
	"arbscan/internal/exchange"
	"arbscan/internal/fees"
	"arbscan/internal/models"
	"arbscan/internal/websocket"
	"arbscan/pkg/retry"
	"arbscan/pkg/utils"
)

func main() {
	// .env опционален - в production переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitLogger(utils.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	defer logger.Sync()

	feeRegistry := fees.NewRegistry()
	if cfg.Fees.File != "" {
		if err := feeRegistry.LoadFile(cfg.Fees.File); err != nil {
			logger.Fatal("загрузка файла комиссий", zap.String("file", cfg.Fees.File), zap.Error(err))
		}
		logger.Info("комиссии переопределены из файла", zap.String("file", cfg.Fees.File))
	}

	aggCfg := aggregator.DefaultConfig()
	aggCfg.StaleAfter = cfg.Aggregator.StaleAfter
	aggCfg.LifecycleTTL = cfg.Aggregator.LifecycleTTL
	aggCfg.NumShards = cfg.Aggregator.NumShards
	aggCfg.Calculator.StaleAfter = cfg.Aggregator.StaleAfter
	aggCfg.Calculator.MaxSlippageBps = cfg.Aggregator.MaxSlippageBps

	agg := aggregator.New(aggCfg, feeRegistry, logger)

	hub := websocket.NewHub(agg, logger)
	go hub.Run()

	// Агрегатор -> хаб: всё, что нашёл сканер, уходит клиентам
	agg.OnOpportunity(hub.BroadcastOpportunity)
	agg.OnRemove(hub.BroadcastRemove)
	agg.OnStatus(hub.BroadcastStatus)

	// Коннекторы бирж
	opts := exchange.Options{
		Logger:               logger,
		MinVolumeUsd:         cfg.Exchanges.MinVolume24hUsd,
		FundingPollInterval:  cfg.Exchanges.FundingPollInterval,
		PricePollInterval:    cfg.Exchanges.EtherealPollInterval,
		ReconnectDelay:       cfg.Exchanges.ReconnectDelay,
		MaxReconnectAttempts: cfg.Exchanges.MaxReconnectAttempts,
		ConnectTimeout:       cfg.Exchanges.ConnectTimeout,
	}
	connectors := exchange.NewAll(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, conn := range connectors {
		wg.Add(1)
		go func(conn exchange.Connector) {
			defer wg.Done()
			startConnector(ctx, conn, agg, logger)
		}(conn)
	}

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		Source: agg,
		Hub:    hub,
		Logger: logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP сервер упал", zap.Error(err))
		}
	}()

	// Периодическая статистика для WebSocket клиентов
	go func() {
		ticker := time.NewTicker(cfg.Server.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hub.BroadcastStats(agg.Stats())
			case <-ctx.Done():
				return
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("останавливаемся...")
	cancel()

	for _, conn := range connectors {
		conn.Disconnect()
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("принудительная остановка HTTP сервера", zap.Error(err))
	}

	hub.Stop()
	agg.Stop()
	logger.Info("сервер остановлен")
}

// startConnector загружает инструменты биржи, подписывается и подключается.
//
// Ошибка одной биржи не мешает остальным: сканер работает с теми,
// кто поднялся.
func startConnector(ctx context.Context, conn exchange.Connector, agg *aggregator.Aggregator, logger *zap.Logger) {
	name := conn.Name()
	log := logger.Named(string(name))

	var instruments []exchange.Instrument
	retryCfg := retry.NetworkConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("загрузка инструментов не удалась, повтор",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	err := retry.Do(ctx, func() error {
		var fetchErr error
		instruments, fetchErr = conn.FetchInstruments(ctx)
		return fetchErr
	}, retryCfg)
	if err != nil {
		log.Error("биржа недоступна, пропускаем", zap.Error(err))
		agg.IngestStatus(name, conn.Status())
		return
	}

	log.Info("инструменты загружены", zap.Int("count", len(instruments)))
	conn.Subscribe(instruments)

	conn.OnBBO(agg.IngestBBO)
	conn.OnOrderBook(agg.IngestOrderBook)
	conn.OnFunding(agg.IngestFunding)
	conn.OnTrade(agg.IngestTrade)
	conn.OnStatus(func(st models.ConnectionStatus) {
		agg.IngestStatus(name, st)
	})

	if err := conn.Connect(); err != nil {
		log.Error("подключение к бирже", zap.Error(err))
	}
}
