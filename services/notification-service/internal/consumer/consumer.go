package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/shopcal/shopcal/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader    Reader
	logger    *slog.Logger
	handler   Handler
	permanent func(error) bool
	maxTries  uint
	backoff   func() backoff.BackOff
}

type Config struct {
	// MaxTries bounds handler attempts per message before it is skipped.
	MaxTries uint
	// Permanent reports errors that retrying cannot fix.
	Permanent func(error) bool
}

func New(logger *slog.Logger, reader Reader, cfg Config, handler Handler) *Consumer {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	if cfg.Permanent == nil {
		cfg.Permanent = func(error) bool { return false }
	}
	return &Consumer{
		reader:    reader,
		logger:    logger,
		handler:   handler,
		permanent: cfg.Permanent,
		maxTries:  cfg.MaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

// Run consumes until ctx is cancelled. Offsets are committed after the
// handler succeeded or gave up, so a crash mid-message redelivers it.
func (c *Consumer) Run(ctx context.Context) {
	defer func() { _ = c.reader.Close() }()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(time.Second)
			continue
		}

		c.process(ctx, msg)
		if ctx.Err() != nil {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	_, err := backoff.Retry(ctxSpan, func() (struct{}, error) {
		err := c.handler(ctxSpan, msg)
		if err != nil && c.permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("handler failed, retrying", "err", err, "topic", msg.Topic, "retry_in", next)
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		meta := kafkax.ExtractEventMeta(msg)
		c.logger.Error("message skipped", "err", err, "event_id", meta.EventID, "topic", msg.Topic, "offset", msg.Offset)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
