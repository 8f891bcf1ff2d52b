package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "scheduling-service")
	logger := runtime.NewLogger(service)
	if err := run(service, logger); err != nil {
		logger.Error("scheduling service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8085")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		return err
	}
	schedCfg, err := schedulingConfig()
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.OpenWithOptions(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 20))})
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	// A nil interface keeps the hours cache and rate limiter in their local modes.
	var rdb redis.UniversalClient
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer client.Close()
		rdb = client
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}

	brokers := config.List("KAFKA_BROKERS", "")
	if len(brokers) > 0 {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	outboxRepo := outbox.NewRepository()
	ledgerRepo := ledger.NewRepository(pool, outboxRepo, config.Duration("LEDGER_LOCK_TIMEOUT", 3*time.Second))
	dirRepo := directory.NewRepository(pool)
	hoursReg := hours.NewCachedRegistry(hours.NewRepository(pool), rdb, config.Duration("HOURS_CACHE_TTL", 5*time.Minute), logger, m)

	coord := booking.NewCoordinator(ledgerRepo, dirRepo, hoursReg, logger, schedCfg, booking.WithMetrics(m))

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		Metrics:   m,
	})
	go publisher.Run(ctx)

	if len(brokers) > 0 {
		scheduleConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_SCHEDULE_TOPIC", consumer.TopicScheduleUpdated),
		}, consumer.InvalidateHours(hoursReg, logger))
		go scheduleConsumer.Run(ctx)
	}

	var verifier *auth.Verifier
	authn := auth.TrustHeaders
	if config.Bool("AUTH_DISABLED", false) {
		logger.Warn("authentication disabled; trusting identity headers")
	} else {
		var jwks *auth.JWKSClient
		if url := strings.TrimSpace(config.String("JWKS_URL", "")); url != "" {
			jwks = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 10*time.Minute))
		}
		secret := config.String("JWT_SECRET", "")
		if secret == "" && jwks == nil {
			return errors.New("JWT_SECRET or JWKS_URL is required unless AUTH_DISABLED=true")
		}
		verifier = auth.NewVerifier(secret, jwks)
		authn = auth.RequireAuth(verifier)
	}

	base := runtime.NewBaseMuxWithReady(readyChecks...)
	root := chi.NewRouter()
	root.Handle("/healthz", base)
	root.Handle("/readyz", base)
	root.Handle("/metrics", metrics.Handler(reg))

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 300)
	var rateLimit httpx.Middleware
	if rdb != nil {
		rateLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, service).
			WithKeyFunc(httpx.OrganizationOrIP).Middleware(logger, true)
	} else {
		rateLimit = httpx.NewRateLimiter(limit, time.Minute).WithKeyFunc(httpx.OrganizationOrIP).Middleware()
	}

	root.Mount("/api/v1", handlers.API(authn,
		handlers.NewSchedulingHandler(coord, logger),
		handlers.NewHoursHandler(hoursReg, logger),
		rateLimit,
	))

	httpHandler := httpx.Chain(root,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second)),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "scheduling"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer(logger, grpcserver.TenantInterceptor(verifier))
	grpcserver.Register(grpcSrv, grpcserver.New(coord))
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		logger.Info("grpc listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	defer grpcSrv.GracefulStop()

	return runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)
}

func schedulingConfig() (booking.Config, error) {
	cfg := booking.Config{
		IntervalMinutes:        config.Int("SLOT_INTERVAL_MINUTES", availability.DefaultIntervalMinutes),
		DefaultDurationMinutes: config.Int("DEFAULT_SERVICE_DURATION_MINUTES", model.DefaultServiceDurationMinutes),
		Range:                  availability.DefaultRange,
	}
	loc, err := time.LoadLocation(config.String("SCHEDULING_TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("SCHEDULING_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	start, err := model.ParseClock(config.String("DISPLAY_RANGE_START", availability.DefaultRange.Start.String()))
	if err != nil {
		return cfg, fmt.Errorf("DISPLAY_RANGE_START: %w", err)
	}
	end, err := model.ParseClock(config.String("DISPLAY_RANGE_END", availability.DefaultRange.End.String()))
	if err != nil {
		return cfg, fmt.Errorf("DISPLAY_RANGE_END: %w", err)
	}
	if end <= start {
		return cfg, errors.New("DISPLAY_RANGE_END must be after DISPLAY_RANGE_START")
	}
	cfg.Range = availability.Range{Start: start, End: end}
	return cfg, nil
}
