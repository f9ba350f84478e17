package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ service.Publisher = (*EventPublisher)(nil)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestEventPublisher_KeysAndHeaders(t *testing.T) {
	w := &captureWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderAccepted(ctx, &models.OrderAcceptedEvent{
		BaseEvent:      models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderAccepted, Timestamp: time.Now()},
		OrderID:        12,
		ReservationIDs: []int64{3, 4},
	}))
	require.NoError(t, ep.PublishProductUnitsSynced(ctx, &models.ProductUnitsSyncedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeProductUnitsSynced},
		ProductID: 5,
		Quantity:  2,
	}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "order-12", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, models.EventTypeOrderAccepted, string(w.msgs[0].Headers[0].Value))
	assert.Equal(t, "product-5", string(w.msgs[1].Key))

	var decoded models.OrderAcceptedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, []int64{3, 4}, decoded.ReservationIDs)
}

func TestProducer_WriteError(t *testing.T) {
	p := NewProducerWithWriter(&captureWriter{err: errors.New("broker down")})

	err := p.PublishEvent(context.Background(), "k", "T", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestEventHandler_RoutesActionRequested(t *testing.T) {
	w := &captureWriter{}
	ap := NewActionPublisher(NewProducerWithWriter(w))
	require.NoError(t, ap.PublishActionRequested(context.Background(), &models.OrderActionRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "cmd-1", EventType: models.EventTypeOrderActionRequested},
		OrderID:   7,
		Action:    models.ActionDecline,
		Source:    "telegram",
	}))
	require.Len(t, w.msgs, 1)

	var got *models.OrderActionRequestedEvent
	h := NewEventHandler()
	h.OnActionRequested(func(_ context.Context, e *models.OrderActionRequestedEvent) error {
		got = e
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), w.msgs[0]))
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.OrderID)
	assert.Equal(t, models.ActionDecline, got.Action)
}

func TestEventHandler_IgnoresOtherEvents(t *testing.T) {
	h := NewEventHandler()
	called := false
	h.OnActionRequested(func(context.Context, *models.OrderActionRequestedEvent) error {
		called = true
		return nil
	})

	msg := kafka.Message{Value: []byte(`{"event_id":"x","event_type":"ORDER_CREATED"}`)}
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.False(t, called)

	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestConsumerHandle_DecodeErrorsAreNotRetried(t *testing.T) {
	c := &Consumer{logger: util.GetLogger()}
	h := NewEventHandler()

	calls := 0
	err := c.handle(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		return h.HandleMessage(ctx, msg)
	}, kafka.Message{Value: []byte("{")})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConsumerHandle_RetriesUntilSuccess(t *testing.T) {
	c := &Consumer{logger: util.GetLogger()}

	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("store unavailable")
		}
		return nil
	}, kafka.Message{})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
