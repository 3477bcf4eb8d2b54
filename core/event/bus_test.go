package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/core/event"
)

type orderPlaced struct {
	OrderID string
	Total   int64
}

type orderShipped struct {
	OrderID string
}

var (
	topicOrderPlaced  = event.Topic[orderPlaced]("billing:order:placed")
	topicOrderShipped = event.Topic[orderShipped]("billing:order:shipped")
)

func TestBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	sub, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	err = event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{
		OrderID: "ord_1",
		Total:   4200,
	})
	require.NoError(t, err)

	got := <-sub.Events()
	assert.Equal(t, "ord_1", got.OrderID)
	assert.Equal(t, int64(4200), got.Total)
}

func TestBus_FanOut(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	first, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)
	second, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)

	require.NoError(t, event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{OrderID: "ord_2"}))

	assert.Equal(t, "ord_2", (<-first.Events()).OrderID)
	assert.Equal(t, "ord_2", (<-second.Events()).OrderID)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestBus_TopicIsolation(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	placed, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)
	shipped, err := event.Subscribe(bus, topicOrderShipped)
	require.NoError(t, err)

	require.NoError(t, event.Publish(context.Background(), bus, topicOrderShipped, orderShipped{OrderID: "ord_3"}))

	assert.Equal(t, "ord_3", (<-shipped.Events()).OrderID)
	assert.Empty(t, placed.Events())
}

func TestBus_PublishNoSubscribers(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	err := event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{OrderID: "ord_4"})
	require.NoError(t, err)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(0), stats.Delivered)
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	sub, err := event.Subscribe(bus, topicOrderPlaced, event.WithSubscriberBuffer(1))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, event.Publish(ctx, bus, topicOrderPlaced, orderPlaced{OrderID: "kept"}))
	require.NoError(t, event.Publish(ctx, bus, topicOrderPlaced, orderPlaced{OrderID: "dropped_1"}))
	require.NoError(t, event.Publish(ctx, bus, topicOrderPlaced, orderPlaced{OrderID: "dropped_2"}))

	assert.Equal(t, "kept", (<-sub.Events()).OrderID)

	stats := bus.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(2), stats.Dropped)
}

func TestBus_BufferSizeOption(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(event.WithBufferSize(2))
	defer bus.Close()

	sub, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, event.Publish(ctx, bus, topicOrderPlaced, orderPlaced{OrderID: "ord"}))
	}

	stats := bus.Stats()
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(1), stats.Dropped)
	_ = sub
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	sub, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Stats().Subscribers)

	sub.Unsubscribe()
	assert.Equal(t, 0, bus.Stats().Subscribers)

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel must be closed after unsubscribe")

	require.NoError(t, event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{OrderID: "ord_5"}))
	assert.Equal(t, int64(0), bus.Stats().Delivered)

	// Repeated unsubscribe must not panic.
	sub.Unsubscribe()
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()

	sub, err := event.Subscribe(bus, topicOrderPlaced)
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel must be closed after bus close")

	err = event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{OrderID: "ord_6"})
	assert.ErrorIs(t, err, event.ErrBusClosed)

	_, err = event.Subscribe(bus, topicOrderPlaced)
	assert.ErrorIs(t, err, event.ErrBusClosed)

	assert.ErrorIs(t, bus.Close(), event.ErrBusClosed)

	// Unsubscribe after close must not panic.
	sub.Unsubscribe()
}

func TestBus_InvalidArguments(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	defer bus.Close()

	err := event.Publish(context.Background(), nil, topicOrderPlaced, orderPlaced{})
	assert.ErrorIs(t, err, event.ErrBusNil)

	_, err = event.Subscribe[orderPlaced](nil, topicOrderPlaced)
	assert.ErrorIs(t, err, event.ErrBusNil)

	err = event.Publish(context.Background(), bus, event.Topic[orderPlaced](""), orderPlaced{})
	assert.ErrorIs(t, err, event.ErrTopicEmpty)

	_, err = event.Subscribe(bus, event.Topic[orderPlaced](""))
	assert.ErrorIs(t, err, event.ErrTopicEmpty)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	const (
		publishers = 4
		perWorker  = 50
	)

	bus := event.NewBus()
	defer bus.Close()

	sub, err := event.Subscribe(bus, topicOrderPlaced, event.WithSubscriberBuffer(publishers*perWorker))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < publishers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = event.Publish(context.Background(), bus, topicOrderPlaced, orderPlaced{OrderID: "ord"})
			}
		}()
	}
	wg.Wait()

	received := 0
	for len(sub.Events()) > 0 {
		<-sub.Events()
		received++
	}
	assert.Equal(t, publishers*perWorker, received)

	stats := bus.Stats()
	assert.Equal(t, int64(publishers*perWorker), stats.Published)
	assert.Equal(t, int64(publishers*perWorker), stats.Delivered)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestTopic_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "billing:order:placed", topicOrderPlaced.String())
}
