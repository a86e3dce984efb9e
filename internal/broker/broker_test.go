package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"restaurant-service/internal/models"
	"restaurant-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestPublisher() (*EventPublisher, *recordingWriter) {
	w := &recordingWriter{}
	return NewEventPublisher(&Producer{writer: w, logger: util.GetLogger()}), w
}

func TestPublishUsesRestaurantKey(t *testing.T) {
	pub, w := newTestPublisher()
	ctx := context.Background()

	require.NoError(t, pub.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent:      models.BaseEvent{EventID: "e-1", EventType: models.EventTypeOrderStatusChanged, Timestamp: time.Now()},
		OrderID:        "o-1",
		RestaurantSlug: "acme",
		From:           models.OrderReceived,
		To:             models.OrderPreparing,
	}))
	require.NoError(t, pub.PublishSubscriptionCanceled(ctx, &models.SubscriptionCanceledEvent{
		BaseEvent:      models.BaseEvent{EventID: "e-2", EventType: models.EventTypeSubscriptionCanceled},
		RestaurantSlug: "acme",
	}))

	require.Len(t, w.msgs, 2)
	for _, msg := range w.msgs {
		assert.Equal(t, "restaurant-acme", string(msg.Key))
	}

	var decoded models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.OrderPreparing, decoded.To)
	assert.Equal(t, models.EventTypeOrderStatusChanged, decoded.EventType)
}

func TestPublishWrapsWriterError(t *testing.T) {
	pub, w := newTestPublisher()
	w.err = errors.New("broker down")

	err := pub.PublishCheckoutStarted(context.Background(), &models.CheckoutStartedEvent{RestaurantSlug: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestHandleMessageRoutesCheckoutCompleted(t *testing.T) {
	handler := NewEventHandler()

	var got *models.CheckoutCompletedEvent
	handler.OnCheckoutCompleted(func(ctx context.Context, e *models.CheckoutCompletedEvent) error {
		got = e
		return nil
	})

	value, err := json.Marshal(models.CheckoutCompletedEvent{
		BaseEvent:      models.BaseEvent{EventID: "evt_1", EventType: models.EventTypeCheckoutCompleted},
		RestaurantSlug: "acme",
		ExternalID:     "plan_acme_1",
	})
	require.NoError(t, err)

	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, got)
	assert.Equal(t, "plan_acme_1", got.ExternalID)
}

func TestHandleMessageIgnoresOtherTypes(t *testing.T) {
	handler := NewEventHandler()
	handler.OnCheckoutCompleted(func(ctx context.Context, e *models.CheckoutCompletedEvent) error {
		t.Fatal("unexpected call")
		return nil
	})

	value := []byte(`{"event_id":"e-1","event_type":"ORDER_CREATED"}`)
	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}))

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	fetched   int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetched < len(r.pending) {
		msg := r.pending[r.fetched]
		r.fetched++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

func newTestConsumer(reader *fakeReader) *Consumer {
	return &Consumer{
		reader:     reader,
		topic:      "billing-events",
		backoff:    time.Millisecond,
		maxBackoff: 4 * time.Millisecond,
		logger:     util.GetLogger(),
	}
}

func TestStartConsuming_RetriesFailedMessageInPlace(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []int64
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg.Offset)
			if msg.Offset == 1 && len(handled) == 1 {
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 1, 2}, handled)
	assert.Equal(t, []int64{1, 2}, reader.committedOffsets())
}

func TestStartConsuming_StopsRetryingWhenCancelled(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{Offset: 7}, {Offset: 8}}}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := make(chan struct{}, 100)
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("still failing")
		})
	}()

	for i := 0; i < 3; i++ {
		<-attempts
	}
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, reader.committedOffsets())
	reader.mu.Lock()
	assert.Equal(t, 1, reader.fetched)
	reader.mu.Unlock()
}
