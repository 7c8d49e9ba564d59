package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func boughtEvent() *TokensBoughtEvent {
	return &TokensBoughtEvent{
		BaseEvent: NewBase(TokensBought),
		SaleID:    "sale-1",
		BnbIn:     uint256.NewInt(100),
		TokensOut: uint256.NewInt(1000),
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	var mu sync.Mutex
	var got []string
	bus.SubscribeFunc(TokensBought, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.ID())
		return nil
	})

	var want []string
	for i := 0; i < 5; i++ {
		e := boughtEvent()
		want = append(want, e.ID())
		require.NoError(t, bus.Publish(e))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestBusRetriesFailingHandler(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4, WithRetryDelay(time.Millisecond), WithDeliveryAttempts(3))
	defer bus.Shutdown(context.Background())

	var calls atomic.Int32
	bus.SubscribeFunc(TokensBought, func(context.Context, Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, bus.Publish(boughtEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, bus.Stats().FailedDelivery)
}

func TestBusGivesUpAfterMaxAttempts(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4, WithRetryDelay(time.Millisecond), WithDeliveryAttempts(2))
	defer bus.Shutdown(context.Background())

	var calls atomic.Int32
	bus.SubscribeFunc(TokensSold, func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("permanent")
	})

	require.NoError(t, bus.Publish(&TokensSoldEvent{BaseEvent: NewBase(TokensSold)}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), bus.Stats().FailedDelivery)
}

func TestPublishSyncAndUnsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	var calls int
	sub := bus.SubscribeFunc(FeesCollected, func(context.Context, Event) error {
		calls++
		return nil
	})

	e := &FeesCollectedEvent{BaseEvent: NewBase(FeesCollected), Kind: CreatorFee}
	require.NoError(t, bus.PublishSync(context.Background(), e))
	assert.Equal(t, 1, calls)

	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), e))
	assert.Equal(t, 1, calls)
	assert.Empty(t, bus.Stats().HandlersPerType)
}

func TestPublishSyncCollectsErrors(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	defer bus.Shutdown(context.Background())

	boom := errors.New("boom")
	bus.SubscribeFunc(GraduatedToDex, func(context.Context, Event) error { return boom })

	err := bus.PublishSync(context.Background(), &GraduatedToDexEvent{BaseEvent: NewBase(GraduatedToDex)})
	assert.ErrorIs(t, err, boom)
}

func TestPublishAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(boughtEvent()), ErrBusClosed)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(boughtEvent()))
	require.NoError(t, r.Publish(&TokensReleasedEvent{BaseEvent: NewBase(TokensReleased)}))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TokensReleased), 1)
	assert.Empty(t, r.OfType(GraduatedToDex))
}
