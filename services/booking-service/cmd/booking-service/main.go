package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopcal/shopcal/libs/auth"
	"github.com/shopcal/shopcal/libs/config"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/libs/grpcx"
	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/libs/kafkax"
	libnotify "github.com/shopcal/shopcal/libs/notify"
	otelx "github.com/shopcal/shopcal/libs/otel"
	"github.com/shopcal/shopcal/libs/runtime"
	"github.com/shopcal/shopcal/services/booking-service/internal/availability"
	"github.com/shopcal/shopcal/services/booking-service/internal/booking"
	"github.com/shopcal/shopcal/services/booking-service/internal/handlers"
	"github.com/shopcal/shopcal/services/booking-service/internal/lifecycle"
	"github.com/shopcal/shopcal/services/booking-service/internal/notify"
	"github.com/shopcal/shopcal/services/booking-service/internal/outbox"
	"github.com/shopcal/shopcal/services/booking-service/internal/reminders"
	"github.com/shopcal/shopcal/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

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
		panic(err)
	}
	if config.Bool("MIGRATE_ON_START", true) {
		if err := db.Migrate(ctx, dbURL, storage.Migrations, storage.MigrationsDir); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	staffPolicy, err := availability.ParseStaffPolicy(config.String("STAFF_POLICY", string(availability.StaffPolicyShared)))
	if err != nil {
		panic(err)
	}
	defaultDuration := time.Duration(config.Int("DEFAULT_SERVICE_MINUTES", 30)) * time.Minute

	var rdb *redis.Client
	var redisReady func(context.Context) error
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		redisReady = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	brokers := config.List("KAFKA_BROKERS", "")
	var kafkaReady func(context.Context) error
	outboxRepo := outbox.NewRepository()
	if len(brokers) > 0 {
		writer := kafkax.NewWriter(brokers)
		defer func() { _ = writer.Close() }()
		publisher := outbox.NewPublisher(pool, outboxRepo, writer, logger, outbox.PublisherConfig{
			PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)
		kafkaReady = kafkax.ReadyCheck(brokers)
	} else {
		logger.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
	}

	catalog := storage.NewCatalogRepository(pool)
	appointments := storage.NewAppointmentRepository(pool)
	notifier := notify.NewOutboxNotifier(pool, outboxRepo, catalog)

	availabilitySvc := availability.NewService(catalog, catalog, appointments, availability.Options{
		StaffPolicy:     staffPolicy,
		DefaultDuration: defaultDuration,
	})
	guard := booking.NewGuard(storage.NewBookingStore(pool, catalog), availabilitySvc, notifier, logger, booking.Config{
		StaffPolicy:     staffPolicy,
		DefaultDuration: defaultDuration,
		MaxTxAttempts:   uint(config.Int("BOOKING_TX_ATTEMPTS", 5)),
	})
	machine := lifecycle.NewMachine(storage.NewLifecycleStore(pool), notifier, logger)

	var locker reminders.Locker
	if rdb != nil {
		locker = reminders.NewRedisLocker(rdb)
	}
	scheduler := reminders.NewScheduler(
		storage.NewReminderStore(pool),
		notify.NewReminderDispatcher(libnotify.EmailSenderFromEnv(), libnotify.SMSSenderFromEnv()),
		locker,
		logger,
		reminders.Config{
			Throttle:  time.Duration(config.Int("REMINDER_THROTTLE_MS", 100)) * time.Millisecond,
			ClaimTTL:  time.Duration(config.Int("REMINDER_CLAIM_TTL_SECONDS", 600)) * time.Second,
			BatchSize: config.Int("REMINDER_BATCH_SIZE", 200),
		},
	)

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, 10*time.Minute)
	}

	var limiter httpx.Limiter = httpx.NewMemoryLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute)
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute, "shopcal:ratelimit:public")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisReady},
		runtime.ReadyCheck{Name: "kafka", Check: kafkaReady},
	)
	handlers.Routes{
		Availability: handlers.NewAvailabilityHandler(availabilitySvc, logger),
		Appointments: handlers.NewAppointmentHandler(guard, machine, appointments, logger),
		Reminders: handlers.NewReminderHandler(scheduler, handlers.CronSecret{
			Plain: config.String("CRON_SECRET", ""),
			Hash:  config.String("CRON_SECRET_BCRYPT", ""),
		}, config.Duration("REMINDER_RUN_BUDGET", 50*time.Second), logger),
		RequireAuth: verifier.Require(),
		PublicLimit: httpx.RateLimit(limiter, logger, true),
	}.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSConfig{AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", "")}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 60*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc health server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go watchReadiness(ctx, health, service,
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.GracefulStop()
	logger.Info("booking service stopped")
}

type healthSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// watchReadiness mirrors the readiness checks into the gRPC health service so
// the scheduler can probe booking before triggering a run.
func watchReadiness(ctx context.Context, hs healthSetter, service string, checks ...runtime.ReadyCheck) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if len(runtime.RunChecks(ctx, checks...)) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(service, status)
		hs.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
