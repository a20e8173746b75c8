package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	block   chan struct{}
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zap.NewNop())
	p.Start()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish([]byte(k), []byte("v"), EventHeaders("OrderPlaced", 1)...))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.written, 3)
	assert.True(t, w.closed)
	v, ok := Header(w.written[0], HeaderEventType)
	assert.True(t, ok)
	assert.Equal(t, "OrderPlaced", v)

	assert.ErrorIs(t, p.Publish([]byte("d"), nil), ErrProducerClosed)
}

func TestTryPublishGivesUpWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 1, zap.NewNop())
	p.Start()

	// first message is picked up by the loop and blocks in the writer,
	// the second fills the buffer
	require.NoError(t, p.Publish([]byte("1"), nil))
	require.Eventually(t, func() bool { return len(p.inbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Publish([]byte("2"), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.TryPublish(ctx, []byte("3"), nil)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(w.block)
	p.Close()
	p.WaitClosed()
	assert.Len(t, w.written, 2)
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c := newConsumer(r, 2, zap.NewNop())
	c.backoff = time.Millisecond

	r.msgs <- kafka.Message{Partition: 0, Offset: 1, Value: []byte("ok")}
	r.msgs <- kafka.Message{Partition: 1, Offset: 2, Value: []byte("bad")}
	r.msgs <- kafka.Message{Partition: 0, Offset: 3, Value: []byte("ok")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			if string(m.Value) == "bad" {
				return errors.New("boom")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.offsets()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []int64{1, 3}, r.offsets())
}

func TestConsumerRetriesBeforeMovingOn(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c := newConsumer(r, 1, zap.NewNop())
	c.backoff, c.maxBackoff = time.Millisecond, 2*time.Millisecond

	r.msgs <- kafka.Message{Partition: 0, Offset: 1}
	r.msgs <- kafka.Message{Partition: 0, Offset: 2}

	var (
		mu    sync.Mutex
		calls = map[int64]int{}
		order []int64
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls[m.Offset]++
			order = append(order, m.Offset)
			if m.Offset == 1 && calls[1] < 3 {
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.offsets()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int64]int{1: 3, 2: 1}, calls)
	assert.Equal(t, []int64{1, 1, 1, 2}, order)
	assert.Equal(t, []int64{1, 2}, r.offsets())
}

func TestConsumerStopsRetryingOnShutdown(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 1)}
	c := newConsumer(r, 1, zap.NewNop())
	c.backoff = time.Millisecond

	r.msgs <- kafka.Message{Partition: 0, Offset: 7}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := make(chan struct{}, 100)
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(context.Context, kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("still down")
		})
	}()

	<-attempts
	<-attempts
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.offsets())
}

func TestDecode(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	got, err := Decode[payload]([]byte(`{"n":7}`))
	require.NoError(t, err)
	assert.Equal(t, 7, got.N)

	_, err = Decode[payload]([]byte(`{`))
	assert.Error(t, err)
}
