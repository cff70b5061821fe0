// Command marketsvc wires the seven components of the market-data fan-out
// service into one process: it is the single binary this repo ships,
// replacing the teacher's three-binary gateway/generator/processor split
// now that ticks and fan-out live in one process (spec §1 Non-goals: "any
// form of cross-instance coordination... single-process design").
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/api"
	"github.com/brokerx/market-service/internal/auth"
	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/eventlog"
	"github.com/brokerx/market-service/internal/fanout"
	"github.com/brokerx/market-service/internal/ratelimit"
	"github.com/brokerx/market-service/internal/session"
	"github.com/brokerx/market-service/internal/simulate"
	"github.com/brokerx/market-service/internal/subscription"
	"github.com/brokerx/market-service/internal/tick"
	"github.com/brokerx/market-service/internal/wsgateway"
	"github.com/brokerx/market-service/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := newLogger(cfg.Logger.Level)
	defer logger.Sync()

	cat := catalog.New()
	quotes, err := catalog.LoadSeedFile(cfg.Market.SeedPath, logger)
	if err != nil {
		logger.Fatal("failed to load seed catalog", zap.Error(err))
	}
	cat.Load(quotes)

	index := subscription.New(time.Duration(cfg.Market.SubscriptionTimeoutMin) * time.Minute)

	sink := buildEventLogSink(cfg.EventLog, logger)
	limiter := buildRateLimiter(cfg.RateLimit, logger)

	authenticator, err := auth.NewJWTAuthenticator(cfg.JWT.Secret, logger)
	if err != nil {
		logger.Fatal("failed to build authenticator", zap.Error(err))
	}

	gateway := wsgateway.NewGateway(authenticator, logger)
	dispatcher := fanout.New(gateway, index, sink, logger)
	lifecycle := session.New(cat, index, dispatcher, limiter, sink, logger)
	gateway.SetLifecycle(lifecycle)

	engine := tick.New(cat, index, dispatcher, simulate.NewRealRNG(time.Now().UnixNano()), tick.Config{
		Volatility:  cfg.Market.SimulationVolatility,
		TickPeriod:  time.Duration(cfg.Market.TickPeriodMs) * time.Millisecond,
		SweepPeriod: time.Duration(cfg.Market.SweepPeriodSec) * time.Second,
	}, logger)

	mux := http.NewServeMux()
	api.NewHandler(cat, logger).Register(mux)
	mux.HandleFunc("/ws/market", gateway.ServeHTTP)

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	go func() {
		logger.Info("market-service started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	engine.Stop()
	logger.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func buildEventLogSink(cfg config.EventLogConfig, logger *zap.Logger) eventlog.Sink {
	if len(cfg.KafkaBrokers) == 0 {
		return eventlog.Noop{}
	}
	return eventlog.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
}

func buildRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewInProcess(cfg.RequestsPerSecond, cfg.Burst)
	}
	return ratelimit.NewRedis(cfg.RedisAddr, cfg.Burst, time.Second, logger)
}
