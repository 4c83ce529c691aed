package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/shopcal/shopcal/libs/config"
	"github.com/shopcal/shopcal/libs/grpcx"
	"github.com/shopcal/shopcal/libs/httpx"
	otelx "github.com/shopcal/shopcal/libs/otel"
	"github.com/shopcal/shopcal/libs/runtime"
	"github.com/shopcal/shopcal/services/scheduler-service/internal/jobs"
	"github.com/shopcal/shopcal/services/scheduler-service/internal/trigger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	once := flag.Bool("once", false, "trigger a single reminder run and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
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

	bookingURL, err := config.RequiredString("BOOKING_URL")
	if err != nil {
		panic(err)
	}
	secret, err := config.RequiredString("CRON_SECRET")
	if err != nil {
		panic(err)
	}
	budget := config.Duration("REMINDER_RUN_BUDGET", 55*time.Second)
	client := trigger.NewClient(bookingURL, secret, budget)

	var ready func(context.Context) error
	if addr := config.String("BOOKING_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("grpc dial failed", "addr", addr, "err", err)
			panic(err)
		}
		defer conn.Close()
		ready = grpcx.HealthCheck(conn, config.String("BOOKING_GRPC_SERVICE", "booking-service"))
	}

	worker := jobs.NewWorker(client, ready, logger, jobs.WorkerConfig{
		Interval: config.Duration("REMINDER_INTERVAL", 5*time.Minute),
		Budget:   budget,
		MaxTries: uint(config.Int("REMINDER_MAX_TRIES", 3)),
	})

	if *once {
		if _, err := worker.RunOnce(ctx); err != nil {
			logger.Error("reminder run failed", "err", err)
			os.Exit(1)
		}
		return
	}
	go worker.Run(ctx)

	var checks []runtime.ReadyCheck
	if ready != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "booking", Check: ready})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
