package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLayers() []CostLayer {
	return []CostLayer{
		{ID: 1, QtyRemaining: dec("5"), UnitCost: dec("10")},
		{ID: 2, QtyRemaining: dec("5"), UnitCost: dec("12")},
	}
}

func TestConsumeFIFOSpansLayersInOrder(t *testing.T) {
	result, err := consumeFIFO(testLayers(), dec("7"))
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	require.Equal(t, int64(1), result.Segments[0].CostLayerID)
	require.True(t, result.Segments[0].Qty.Equal(dec("5")))
	require.True(t, result.Segments[0].UnitCost.Equal(dec("10")))
	require.Equal(t, int64(2), result.Segments[1].CostLayerID)
	require.True(t, result.Segments[1].Qty.Equal(dec("2")))
	require.True(t, result.Segments[1].UnitCost.Equal(dec("12")))

	// (5*10 + 2*12) / 7 at cost scale.
	require.True(t, result.UnitCost.Equal(dec("10.5714")), result.UnitCost.String())
	require.True(t, result.TotalValue.Equal(dec("74")), result.TotalValue.String())
}

func TestConsumeFIFOSingleLayer(t *testing.T) {
	layers := []CostLayer{{ID: 9, QtyRemaining: dec("10"), UnitCost: dec("7.5")}}
	result, err := consumeFIFO(layers, dec("3"))
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	require.True(t, result.UnitCost.Equal(dec("7.5")))
	require.True(t, result.TotalValue.Equal(dec("22.5")))
}

func TestConsumeFIFOSkipsEmptyLayers(t *testing.T) {
	layers := []CostLayer{
		{ID: 1, QtyRemaining: decimal.Zero, UnitCost: dec("10")},
		{ID: 2, QtyRemaining: dec("4"), UnitCost: dec("12")},
	}
	result, err := consumeFIFO(layers, dec("4"))
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	require.Equal(t, int64(2), result.Segments[0].CostLayerID)
}

func TestConsumeFIFOFailsWhenShort(t *testing.T) {
	layers := []CostLayer{{ID: 1, QtyRemaining: dec("2"), UnitCost: dec("10")}}
	_, err := consumeFIFO(layers, dec("5"))
	require.ErrorIs(t, err, ErrConsumptionFailed)
}

func TestConsumeMovingAverageBlendsAllLayers(t *testing.T) {
	result, err := consumeMovingAverage(testLayers(), dec("7"))
	require.NoError(t, err)

	// (5*10 + 5*12) / 10 = 11 for every unit issued.
	require.True(t, result.UnitCost.Equal(dec("11")), result.UnitCost.String())
	require.True(t, result.TotalValue.Equal(dec("77")), result.TotalValue.String())

	require.Len(t, result.Segments, 2)
	for _, seg := range result.Segments {
		require.True(t, seg.UnitCost.Equal(dec("11")))
	}
	require.True(t, result.Segments[0].Qty.Equal(dec("3.5")))
	require.True(t, result.Segments[1].Qty.Equal(dec("3.5")))
}

func TestConsumeMovingAverageLastLayerAbsorbsRemainder(t *testing.T) {
	layers := []CostLayer{
		{ID: 1, QtyRemaining: dec("1"), UnitCost: dec("10")},
		{ID: 2, QtyRemaining: dec("1"), UnitCost: dec("10")},
		{ID: 3, QtyRemaining: dec("1"), UnitCost: dec("10")},
	}
	result, err := consumeMovingAverage(layers, dec("2"))
	require.NoError(t, err)

	total := decimal.Zero
	for _, seg := range result.Segments {
		total = total.Add(seg.Qty)
		require.True(t, seg.Qty.LessThanOrEqual(dec("1")))
	}
	require.True(t, total.Equal(dec("2")), total.String())
}

func TestConsumeMovingAverageFailsOnEmptyLayers(t *testing.T) {
	layers := []CostLayer{{ID: 1, QtyRemaining: decimal.Zero, UnitCost: dec("10")}}
	_, err := consumeMovingAverage(layers, dec("1"))
	require.ErrorIs(t, err, ErrConsumptionFailed)
}

func TestConsumeDispatchesByMethod(t *testing.T) {
	fifo, err := consume(MethodFIFO, testLayers(), dec("7"))
	require.NoError(t, err)
	avg, err := consume(MethodMovingAverage, testLayers(), dec("7"))
	require.NoError(t, err)
	require.False(t, fifo.UnitCost.Equal(avg.UnitCost))
}
