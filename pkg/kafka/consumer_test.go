package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	topic string
	fails int32
	calls atomic.Int32
	panic bool
}

func (h *stubHandler) Topic() string { return h.topic }

func (h *stubHandler) Handle(_ context.Context, _ []byte) error {
	n := h.calls.Add(1)
	if h.panic {
		panic("boom")
	}
	if n <= h.fails {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	return c
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	require.Error(t, err)
}

func TestStartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t)
	require.Error(t, c.Start())
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t)
	h := &stubHandler{topic: "warm", fails: 2}

	attempts, err := c.handle(h, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.EqualValues(t, 3, h.calls.Load())
}

func TestHandleGivesUpAfterRetryMax(t *testing.T) {
	c := newTestConsumer(t)
	h := &stubHandler{topic: "warm", fails: 100}

	attempts, err := c.handle(h, nil)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestHandleRecoversPanic(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	h := &stubHandler{topic: "warm", panic: true}

	_, err := c.handle(h, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestHookBeforeErrorSkipsHandler(t *testing.T) {
	c := newTestConsumer(t)
	var errs atomic.Int32
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, data []byte) (context.Context, []byte, error) {
			return ctx, data, errors.New("rejected")
		},
		Err: func(context.Context, string, []byte, error) { errs.Add(1) },
	})
	h := &stubHandler{topic: "warm"}

	attempts, err := c.handle(h, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, h.calls.Load())
	assert.EqualValues(t, 1, errs.Load())
}

func TestHookAfterSeesEveryAttempt(t *testing.T) {
	c := newTestConsumer(t)
	var after atomic.Int32
	c.WithConsumerHook(HookFuncs{After: func(context.Context, string, []byte, error) { after.Add(1) }})

	_, err := c.handle(&stubHandler{topic: "warm", fails: 1}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, after.Load())
}

func TestProcessRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestConsumer(t, WithConsumerRegisterer(reg))
	c.RegisterHandler(&stubHandler{topic: "warm"})
	c.RegisterHandler(&stubHandler{topic: "warm"})

	c.process(&message{topic: "warm", km: kafka.Message{Value: []byte(`{}`)}})
	c.process(&message{topic: "other"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.handled.WithLabelValues("warm", "ok")))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 80*time.Millisecond
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
	d := backoffWithJitter(min, max, 1)
	assert.GreaterOrEqual(t, d, min/2)
	assert.LessOrEqual(t, d, min)
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestConsumer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}
