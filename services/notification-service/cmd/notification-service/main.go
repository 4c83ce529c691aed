package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopcal/shopcal/libs/config"
	"github.com/shopcal/shopcal/libs/db"
	"github.com/shopcal/shopcal/libs/events"
	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/libs/kafkax"
	"github.com/shopcal/shopcal/libs/notify"
	otelx "github.com/shopcal/shopcal/libs/otel"
	"github.com/shopcal/shopcal/libs/runtime"
	"github.com/shopcal/shopcal/services/notification-service/internal/consumer"
	"github.com/shopcal/shopcal/services/notification-service/internal/dispatch"
	"github.com/shopcal/shopcal/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	brokers := config.List("KAFKA_BROKERS", "localhost:9092")
	topics := config.List("KAFKA_CONSUME_TOPICS", events.TopicAppointmentBooked+","+events.TopicAppointmentStatusChanged)
	reader := kafkax.NewGroupReader(brokers, config.String("KAFKA_GROUP_ID", "notification-service"), topics)

	handler := dispatch.NewHandler(storage.NewStore(pool), notify.EmailSenderFromEnv(), notify.SMSSenderFromEnv(), logger)
	eventConsumer := consumer.New(logger, reader, consumer.Config{
		MaxTries:  uint(config.Int("CONSUMER_MAX_TRIES", 5)),
		Permanent: func(err error) bool { return errors.Is(err, dispatch.ErrMalformed) },
	}, handler.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
