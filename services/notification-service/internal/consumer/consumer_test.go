package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

type stubReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

var errPoison = errors.New("poison")

func newTestConsumer(reader Reader, handler Handler) *Consumer {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, Config{
		MaxTries:  3,
		Permanent: func(err error) bool { return errors.Is(err, errPoison) },
	}, handler)
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestRun_RetriesThenCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{msgs: []kafka.Message{{Offset: 1}, {Offset: 2}}, cancel: cancel}

	attempts := map[int64]int{}
	c := newTestConsumer(reader, func(_ context.Context, msg kafka.Message) error {
		attempts[msg.Offset]++
		if msg.Offset == 1 && attempts[1] < 2 {
			return errors.New("db unavailable")
		}
		return nil
	})
	c.Run(ctx)

	assert.Equal(t, 2, attempts[1])
	assert.Equal(t, 1, attempts[2])
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestRun_PermanentErrorsAreNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{msgs: []kafka.Message{{Offset: 7}}, cancel: cancel}

	calls := 0
	c := newTestConsumer(reader, func(context.Context, kafka.Message) error {
		calls++
		return errPoison
	})
	c.Run(ctx)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestRun_GivesUpAfterMaxTries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{msgs: []kafka.Message{{Offset: 3}}, cancel: cancel}

	calls := 0
	c := newTestConsumer(reader, func(context.Context, kafka.Message) error {
		calls++
		return errors.New("still down")
	})
	c.Run(ctx)

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{3}, reader.committed)
}
