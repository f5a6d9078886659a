package valuation

import "github.com/shopspring/decimal"

// Segment is the portion of an outbound quantity attributed to one cost
// layer. Under FIFO the unit cost is the layer's own; under moving
// average every segment of one consumption shares the blended cost.
type Segment struct {
	CostLayerID int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	LotID       *int64
	SerialID    *int64
}

// ConsumptionResult is the outcome of valuing one outbound quantity.
type ConsumptionResult struct {
	UnitCost   decimal.Decimal
	TotalValue decimal.Decimal
	Segments   []Segment
}

// consume selects consumption segments across the given layers for the
// requested quantity. Layers must be ordered by insertion (FIFO order)
// and must already have passed the aggregate availability check; the
// function does not mutate them.
func consume(method Method, layers []CostLayer, qty decimal.Decimal) (ConsumptionResult, error) {
	if method == MethodMovingAverage {
		return consumeMovingAverage(layers, qty)
	}
	return consumeFIFO(layers, qty)
}

func consumeFIFO(layers []CostLayer, qty decimal.Decimal) (ConsumptionResult, error) {
	remaining := qty
	value := decimal.Zero
	segments := make([]Segment, 0, len(layers))

	for _, layer := range layers {
		if remaining.LessThanOrEqual(Epsilon) {
			break
		}
		take := minDecimal(layer.QtyRemaining, remaining)
		if take.Sign() <= 0 {
			continue
		}
		take = roundQty(take)
		segments = append(segments, Segment{
			CostLayerID: layer.ID,
			Qty:         take,
			UnitCost:    layer.UnitCost,
			LotID:       layer.LotID,
			SerialID:    layer.SerialID,
		})
		value = value.Add(take.Mul(layer.UnitCost))
		remaining = remaining.Sub(take)
	}
	if remaining.GreaterThan(Epsilon) {
		return ConsumptionResult{}, ErrConsumptionFailed
	}

	return ConsumptionResult{
		UnitCost:   roundCost(value.Div(qty)),
		TotalValue: roundCost(value),
		Segments:   segments,
	}, nil
}

func consumeMovingAverage(layers []CostLayer, qty decimal.Decimal) (ConsumptionResult, error) {
	total := decimal.Zero
	weighted := decimal.Zero
	for _, layer := range layers {
		total = total.Add(layer.QtyRemaining)
		weighted = weighted.Add(layer.QtyRemaining.Mul(layer.UnitCost))
	}
	if total.LessThanOrEqual(Epsilon) {
		return ConsumptionResult{}, ErrConsumptionFailed
	}
	blended := roundCost(weighted.Div(total))

	// Proportional distribution; the last layer absorbs the rounding
	// remainder so the segments sum exactly to qty.
	allocated := decimal.Zero
	segments := make([]Segment, 0, len(layers))
	for i, layer := range layers {
		var take decimal.Decimal
		if i == len(layers)-1 {
			take = qty.Sub(allocated)
		} else {
			take = roundQty(qty.Mul(layer.QtyRemaining).Div(total))
		}
		if take.GreaterThan(layer.QtyRemaining.Add(Epsilon)) {
			return ConsumptionResult{}, ErrConsumptionFailed
		}
		take = minDecimal(take, layer.QtyRemaining)
		if take.Sign() <= 0 {
			continue
		}
		segments = append(segments, Segment{
			CostLayerID: layer.ID,
			Qty:         take,
			UnitCost:    blended,
			LotID:       layer.LotID,
			SerialID:    layer.SerialID,
		})
		allocated = allocated.Add(take)
	}
	if qty.Sub(allocated).Abs().GreaterThan(Epsilon) {
		return ConsumptionResult{}, ErrConsumptionFailed
	}

	return ConsumptionResult{
		UnitCost:   blended,
		TotalValue: roundCost(qty.Mul(blended)),
		Segments:   segments,
	}, nil
}
