package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

func TestCollectorHandlesTrades(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, &events.TokensBoughtEvent{
		BaseEvent:   events.NewBase(events.TokensBought),
		SaleID:      "s1",
		BnbIn:       curve.MustParseUnits("1"),
		TokensOut:   curve.MustParseUnits("1300"),
		CreatorFee:  curve.MustParseUnits("0.01"),
		PlatformFee: curve.MustParseUnits("0.02"),
		TokensSold:  curve.MustParseUnits("1300"),
		Price:       curve.MustParseUnits("0.0014"),
	}))
	require.NoError(t, c.Handle(ctx, &events.TokensSoldEvent{
		BaseEvent:   events.NewBase(events.TokensSold),
		SaleID:      "s1",
		TokenAmount: curve.MustParseUnits("300"),
		BnbOut:      curve.MustParseUnits("0.25"),
		CreatorFee:  curve.MustParseUnits("0.005"),
		PlatformFee: curve.MustParseUnits("0.005"),
		TokensSold:  curve.MustParseUnits("1000"),
		Price:       curve.MustParseUnits("0.0011"),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.tradeCounter.WithLabelValues("s1", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tradeCounter.WithLabelValues("s1", "sell")))
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.tradeVolume.WithLabelValues("s1", "buy")), 1e-9)
	assert.InDelta(t, 0.015, testutil.ToFloat64(c.tradeFees.WithLabelValues("s1", "creator")), 1e-9)
	assert.InDelta(t, 1000, testutil.ToFloat64(c.tokensSold.WithLabelValues("s1")), 1e-9)
	assert.InDelta(t, 0.0011, testutil.ToFloat64(c.price.WithLabelValues("s1")), 1e-12)

	c.Reset()
	assert.Equal(t, 0, testutil.CollectAndCount(c.tradeCounter))
}

func TestCollectorAttachedToBus(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	c := NewCollector()
	c.Attach(bus)

	require.NoError(t, bus.PublishSync(context.Background(), &events.GraduatedToDexEvent{
		BaseEvent: events.NewBase(events.GraduatedToDex),
		SaleID:    "s1",
	}))
	require.NoError(t, bus.PublishSync(context.Background(), &events.FeesCollectedEvent{
		BaseEvent: events.NewBase(events.FeesCollected),
		SaleID:    "s1",
		Kind:      events.PlatformFee,
		Amount:    curve.MustParseUnits("0.5"),
	}))
	require.NoError(t, bus.PublishSync(context.Background(), &events.TokensReleasedEvent{
		BaseEvent: events.NewBase(events.TokensReleased),
		Amount:    curve.MustParseUnits("42"),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.graduations.WithLabelValues("s1")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(c.feesCollected.WithLabelValues("s1", "platform")), 1e-9)
	assert.InDelta(t, 42, testutil.ToFloat64(c.tokensReleased), 1e-9)
}

func TestRecordOperation(t *testing.T) {
	c := NewCollector()
	c.RecordOperation("buy", time.Millisecond, nil)
	c.RecordOperation("buy", time.Millisecond, types.ErrPaused)
	c.RecordOperation("buy", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("buy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("buy", string(types.KindState))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("buy", string(types.KindInternal))))

	count, err := testutil.GatherAndCount(c.Registry(), "curvesale_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
