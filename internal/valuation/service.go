package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (Transaction, []TransactionLine, error)
	OnHand(ctx context.Context, key StockKey) (QuantityRecord, error)
	Layers(ctx context.Context, key StockKey) ([]CostLayer, error)
	LocationValuation(ctx context.Context, locationID int64) ([]ValuationRow, error)
}

// VariantPort confirms a product variant exists. The core needs nothing
// else from the catalog.
type VariantPort interface {
	Exists(ctx context.Context, variantID int64) error
}

// Service coordinates stock postings over the quantity ledger, the cost
// layer store and the consumption engine. Every posting is one atomic
// repository transaction: a failure at any line rolls back everything.
type Service struct {
	repo        RepositoryPort
	variants    VariantPort
	policy      *PolicyResolver
	idempotency *shared.IdempotencyStore
	cache       *SummaryCache
}

// NewService builds Service. Variants, idempotency and cache may be nil.
func NewService(repo RepositoryPort, variants VariantPort, policy *PolicyResolver, idem *shared.IdempotencyStore, cache *SummaryCache) *Service {
	return &Service{repo: repo, variants: variants, policy: policy, idempotency: idem, cache: cache}
}

// PostReceipt records inbound stock: one quantity increment and one new
// cost layer per line.
func (s *Service) PostReceipt(ctx context.Context, input ReceiptInput) (PostResult, error) {
	if len(input.Lines) == 0 {
		return PostResult{}, ErrInvalidQuantity
	}
	for _, line := range input.Lines {
		if line.Qty.Sign() <= 0 {
			return PostResult{}, ErrInvalidQuantity
		}
		if line.UnitCost.Sign() < 0 {
			return PostResult{}, ErrInvalidCost
		}
		if err := s.checkVariant(ctx, line.VariantID); err != nil {
			return PostResult{}, err
		}
	}
	method, err := s.resolveMethod(ctx, input.Method, input.LocationID)
	if err != nil {
		return PostResult{}, err
	}
	header := Transaction{
		Number:       defaultNumber(input.Number, "RCP"),
		Type:         TransactionTypeReceipt,
		Date:         defaultDate(input.Date),
		LocationToID: &input.LocationID,
		Method:       method,
		SourceType:   input.SourceType,
		SourceID:     input.SourceID,
		Note:         input.Note,
		CreatedBy:    actorRef(input.ActorID),
	}
	var result PostResult
	err = s.post(ctx, header, func(ctx context.Context, tx TxRepository, txID int64) error {
		result, err = s.processReceipt(ctx, tx, txID, header, input)
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(ctx, input.LocationID)
	return result, nil
}

// PostIssue records outbound stock valued by the resolved costing policy.
func (s *Service) PostIssue(ctx context.Context, input IssueInput) (PostResult, error) {
	if len(input.Lines) == 0 {
		return PostResult{}, ErrInvalidQuantity
	}
	for _, line := range input.Lines {
		if line.Qty.Sign() <= 0 {
			return PostResult{}, ErrInvalidQuantity
		}
		if err := s.checkVariant(ctx, line.VariantID); err != nil {
			return PostResult{}, err
		}
	}
	method, err := s.resolveMethod(ctx, input.Method, input.LocationID)
	if err != nil {
		return PostResult{}, err
	}
	header := Transaction{
		Number:         defaultNumber(input.Number, "ISS"),
		Type:           TransactionTypeIssue,
		Date:           defaultDate(input.Date),
		LocationFromID: &input.LocationID,
		Method:         method,
		SourceType:     input.SourceType,
		SourceID:       input.SourceID,
		Note:           input.Note,
		CreatedBy:      actorRef(input.ActorID),
	}
	var result PostResult
	err = s.post(ctx, header, func(ctx context.Context, tx TxRepository, txID int64) error {
		result, err = s.processIssue(ctx, tx, txID, header, input)
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(ctx, input.LocationID)
	return result, nil
}

// PostTransfer issues from the source and receives the resulting
// segments at the destination, one destination layer per segment so the
// source cost granularity survives the move.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (PostResult, error) {
	if input.FromLocationID == input.ToLocationID {
		return PostResult{}, ErrSameLocationTransfer
	}
	if len(input.Lines) == 0 {
		return PostResult{}, ErrInvalidQuantity
	}
	for _, line := range input.Lines {
		if line.Qty.Sign() <= 0 {
			return PostResult{}, ErrInvalidQuantity
		}
		if err := s.checkVariant(ctx, line.VariantID); err != nil {
			return PostResult{}, err
		}
	}
	method, err := s.resolveMethod(ctx, input.Method, input.FromLocationID)
	if err != nil {
		return PostResult{}, err
	}
	header := Transaction{
		Number:         defaultNumber(input.Number, "TRF"),
		Type:           TransactionTypeTransfer,
		Date:           defaultDate(input.Date),
		LocationFromID: &input.FromLocationID,
		LocationToID:   &input.ToLocationID,
		Method:         method,
		Note:           input.Note,
		CreatedBy:      actorRef(input.ActorID),
	}
	var result PostResult
	err = s.post(ctx, header, func(ctx context.Context, tx TxRepository, txID int64) error {
		result, err = s.processTransfer(ctx, tx, txID, header, input)
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(ctx, input.FromLocationID, input.ToLocationID)
	return result, nil
}

// PostAdjustment corrects stock with signed line deltas: positive lines
// behave like receipt lines (unit cost mandatory), negative ones like
// issue lines for the absolute quantity.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (PostResult, error) {
	if len(input.Lines) == 0 {
		return PostResult{}, ErrInvalidQuantity
	}
	for _, line := range input.Lines {
		if line.Qty.Sign() == 0 {
			return PostResult{}, ErrInvalidQuantity
		}
		if line.Qty.Sign() > 0 {
			if line.UnitCost == nil {
				return PostResult{}, ErrMissingUnitCost
			}
			if line.UnitCost.Sign() < 0 {
				return PostResult{}, ErrInvalidCost
			}
		}
		if err := s.checkVariant(ctx, line.VariantID); err != nil {
			return PostResult{}, err
		}
	}
	method, err := s.resolveMethod(ctx, input.Method, input.LocationID)
	if err != nil {
		return PostResult{}, err
	}
	note := input.Note
	if input.Reason != "" {
		note = fmt.Sprintf("%s: %s", input.Reason, input.Note)
	}
	header := Transaction{
		Number:         defaultNumber(input.Number, "ADJ"),
		Type:           TransactionTypeAdjustment,
		Date:           defaultDate(input.Date),
		LocationFromID: &input.LocationID,
		Method:         method,
		Note:           note,
		CreatedBy:      actorRef(input.ActorID),
	}
	var result PostResult
	err = s.post(ctx, header, func(ctx context.Context, tx TxRepository, txID int64) error {
		result, err = s.processAdjustment(ctx, tx, txID, header, input)
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(ctx, input.LocationID)
	return result, nil
}

// DeleteTransaction reverses every ledger and layer effect of a posted
// transaction and removes it. Inbound lines are refused once any of
// their layer has been drawn down: restoring them would retroactively
// invalidate segment costs already recorded by later transactions.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	var number string
	var locations []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		number = header.Number
		locations = headerLocations(header)
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reverseLines(ctx, tx, lines); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}
	if s.idempotency != nil && number != "" {
		_ = s.idempotency.Delete(ctx, number)
	}
	s.invalidate(ctx, locations...)
	return nil
}

// ReplaceTransaction reverses the existing lines in place and re-posts
// the new payload against the same header row. The header keeps its
// number and its type; a payload of a different type fails.
func (s *Service) ReplaceTransaction(ctx context.Context, id int64, input ReplaceInput) (PostResult, error) {
	var result PostResult
	var locations []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reverseLines(ctx, tx, lines); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		result, err = s.repost(ctx, tx, header, input)
		if err != nil {
			return err
		}
		locations = headerLocations(result.Transaction)
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(ctx, locations...)
	return result, nil
}

// GetTransaction loads a posted transaction with its lines.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, []TransactionLine, error) {
	return s.repo.GetTransaction(ctx, id)
}

// OnHand returns the quantity record for a stock key.
func (s *Service) OnHand(ctx context.Context, key StockKey) (QuantityRecord, error) {
	return s.repo.OnHand(ctx, key)
}

// Layers returns the remaining cost layers for a stock key in FIFO
// order, the stock card view of what an issue would consume next.
func (s *Service) Layers(ctx context.Context, key StockKey) ([]CostLayer, error) {
	return s.repo.Layers(ctx, key)
}

// LocationSummary returns the on-hand valuation per variant at a
// location, served from the redis cache when warm. Postings invalidate
// the cache; the mutating path never reads it.
func (s *Service) LocationSummary(ctx context.Context, locationID int64) ([]ValuationRow, error) {
	if s.cache != nil {
		if rows, ok := s.cache.Get(ctx, locationID); ok {
			return rows, nil
		}
	}
	rows, err := s.repo.LocationValuation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, locationID, rows)
	}
	return rows, nil
}

// post wraps the shared create flow: idempotency key, one atomic
// transaction, header insert, line processing.
func (s *Service) post(ctx context.Context, header Transaction, fn func(context.Context, TxRepository, int64) error) error {
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, header.Number, "valuation"); err != nil {
			return err
		}
		insertedKey = true
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txID, err := tx.InsertTransaction(ctx, header)
		if err != nil {
			return err
		}
		return fn(ctx, tx, txID)
	})
	if err != nil && insertedKey {
		_ = s.idempotency.Delete(ctx, header.Number)
	}
	return err
}

func (s *Service) processReceipt(ctx context.Context, tx TxRepository, txID int64, header Transaction, input ReceiptInput) (PostResult, error) {
	header.ID = txID
	result := PostResult{Transaction: header, TotalQuantity: decimal.Zero, TotalValue: decimal.Zero}
	for _, line := range input.Lines {
		posted, err := s.postInboundLine(ctx, tx, txID, input.LocationID, inboundLine{
			VariantID: line.VariantID,
			UnitID:    line.UnitID,
			Qty:       roundQty(line.Qty),
			UnitCost:  roundCost(line.UnitCost),
			LotID:     line.LotID,
			SerialID:  line.SerialID,
		}, header.Method)
		if err != nil {
			return PostResult{}, err
		}
		result.Lines = append(result.Lines, posted)
		result.TotalQuantity = result.TotalQuantity.Add(posted.Quantity)
		result.TotalValue = result.TotalValue.Add(roundCost(posted.Quantity.Mul(posted.UnitCost)))
	}
	return result, nil
}

func (s *Service) processIssue(ctx context.Context, tx TxRepository, txID int64, header Transaction, input IssueInput) (PostResult, error) {
	header.ID = txID
	result := PostResult{Transaction: header, TotalQuantity: decimal.Zero, TotalValue: decimal.Zero}
	for _, line := range input.Lines {
		posted, consumption, err := s.postOutboundLine(ctx, tx, txID, input.LocationID, line, header.Method)
		if err != nil {
			return PostResult{}, err
		}
		result.Lines = append(result.Lines, posted)
		result.TotalQuantity = result.TotalQuantity.Add(posted.Quantity)
		result.TotalValue = result.TotalValue.Add(consumption.TotalValue)
	}
	return result, nil
}

func (s *Service) processTransfer(ctx context.Context, tx TxRepository, txID int64, header Transaction, input TransferInput) (PostResult, error) {
	header.ID = txID
	result := PostResult{Transaction: header, TotalQuantity: decimal.Zero, TotalValue: decimal.Zero}
	for _, line := range input.Lines {
		outLine, consumption, err := s.postOutboundLine(ctx, tx, txID, input.FromLocationID, line, header.Method)
		if err != nil {
			return PostResult{}, err
		}
		result.Lines = append(result.Lines, outLine)
		result.TotalQuantity = result.TotalQuantity.Add(outLine.Quantity)
		result.TotalValue = result.TotalValue.Add(consumption.TotalValue)

		// One inbound layer per outbound segment: the destination keeps
		// the segment's cost instead of re-deriving it.
		for _, seg := range consumption.Segments {
			if seg.Qty.Sign() <= 0 {
				continue
			}
			inLine, err := s.postInboundLine(ctx, tx, txID, input.ToLocationID, inboundLine{
				VariantID: line.VariantID,
				UnitID:    line.UnitID,
				Qty:       seg.Qty,
				UnitCost:  seg.UnitCost,
				LotID:     seg.LotID,
				SerialID:  seg.SerialID,
			}, header.Method)
			if err != nil {
				return PostResult{}, err
			}
			result.Lines = append(result.Lines, inLine)
		}
	}
	return result, nil
}

func (s *Service) processAdjustment(ctx context.Context, tx TxRepository, txID int64, header Transaction, input AdjustmentInput) (PostResult, error) {
	header.ID = txID
	result := PostResult{Transaction: header, TotalQuantity: decimal.Zero, TotalValue: decimal.Zero}
	for _, line := range input.Lines {
		if line.Qty.Sign() > 0 {
			posted, err := s.postInboundLine(ctx, tx, txID, input.LocationID, inboundLine{
				VariantID: line.VariantID,
				UnitID:    line.UnitID,
				Qty:       roundQty(line.Qty),
				UnitCost:  roundCost(*line.UnitCost),
				LotID:     line.LotID,
				SerialID:  line.SerialID,
			}, header.Method)
			if err != nil {
				return PostResult{}, err
			}
			result.Lines = append(result.Lines, posted)
			result.TotalQuantity = result.TotalQuantity.Add(posted.Quantity)
			result.TotalValue = result.TotalValue.Add(roundCost(posted.Quantity.Mul(posted.UnitCost)))
			continue
		}
		posted, consumption, err := s.postOutboundLine(ctx, tx, txID, input.LocationID, IssueLine{
			VariantID: line.VariantID,
			UnitID:    line.UnitID,
			Qty:       line.Qty.Abs(),
			LotID:     line.LotID,
			SerialID:  line.SerialID,
		}, header.Method)
		if err != nil {
			return PostResult{}, err
		}
		result.Lines = append(result.Lines, posted)
		result.TotalQuantity = result.TotalQuantity.Sub(posted.Quantity)
		result.TotalValue = result.TotalValue.Sub(consumption.TotalValue)
	}
	return result, nil
}

type inboundLine struct {
	VariantID int64
	UnitID    int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	LotID     *int64
	SerialID  *int64
}

func (s *Service) postInboundLine(ctx context.Context, tx TxRepository, txID, locationID int64, line inboundLine, method Method) (TransactionLine, error) {
	posted := TransactionLine{
		TransactionID: txID,
		VariantID:     line.VariantID,
		UnitID:        line.UnitID,
		LocationID:    locationID,
		Effect:        EffectIn,
		Quantity:      line.Qty,
		UnitCost:      line.UnitCost,
		LotID:         line.LotID,
		SerialID:      line.SerialID,
	}
	lineID, err := tx.InsertLine(ctx, posted)
	if err != nil {
		return TransactionLine{}, err
	}
	posted.ID = lineID
	if _, err := s.applyDelta(ctx, tx, posted.Key(), line.Qty); err != nil {
		return TransactionLine{}, err
	}
	if _, err := tx.InsertLayer(ctx, CostLayer{
		VariantID:    line.VariantID,
		LocationID:   locationID,
		LotID:        line.LotID,
		SerialID:     line.SerialID,
		OriginLineID: lineID,
		QtyRemaining: line.Qty,
		UnitCost:     line.UnitCost,
		Method:       method,
	}); err != nil {
		return TransactionLine{}, err
	}
	return posted, nil
}

func (s *Service) postOutboundLine(ctx context.Context, tx TxRepository, txID, locationID int64, line IssueLine, method Method) (TransactionLine, ConsumptionResult, error) {
	qty := roundQty(line.Qty)
	if qty.Sign() <= 0 {
		return TransactionLine{}, ConsumptionResult{}, ErrInvalidQuantity
	}
	key := StockKey{VariantID: line.VariantID, LocationID: locationID, LotID: line.LotID, SerialID: line.SerialID}
	layers, err := tx.AvailableLayersForUpdate(ctx, key)
	if err != nil {
		return TransactionLine{}, ConsumptionResult{}, err
	}
	if len(layers) == 0 {
		return TransactionLine{}, ConsumptionResult{}, ErrNoStock
	}
	available := decimal.Zero
	for _, layer := range layers {
		available = available.Add(layer.QtyRemaining)
	}
	if available.Add(Epsilon).LessThan(qty) {
		return TransactionLine{}, ConsumptionResult{}, ErrInsufficientStock
	}
	consumption, err := consume(method, layers, qty)
	if err != nil {
		return TransactionLine{}, ConsumptionResult{}, err
	}
	posted := TransactionLine{
		TransactionID: txID,
		VariantID:     line.VariantID,
		UnitID:        line.UnitID,
		LocationID:    locationID,
		Effect:        EffectOut,
		Quantity:      qty,
		UnitCost:      consumption.UnitCost,
		LotID:         line.LotID,
		SerialID:      line.SerialID,
	}
	lineID, err := tx.InsertLine(ctx, posted)
	if err != nil {
		return TransactionLine{}, ConsumptionResult{}, err
	}
	posted.ID = lineID
	for _, seg := range consumption.Segments {
		if err := tx.AddLayerQty(ctx, seg.CostLayerID, seg.Qty.Neg()); err != nil {
			return TransactionLine{}, ConsumptionResult{}, err
		}
		if err := tx.InsertConsumption(ctx, ConsumptionRecord{
			LineID:      lineID,
			CostLayerID: seg.CostLayerID,
			Quantity:    seg.Qty,
			UnitCost:    seg.UnitCost,
		}); err != nil {
			return TransactionLine{}, ConsumptionResult{}, err
		}
	}
	if _, err := s.applyDelta(ctx, tx, key, qty.Neg()); err != nil {
		return TransactionLine{}, ConsumptionResult{}, err
	}
	return posted, consumption, nil
}

// applyDelta locks (or lazily creates) the quantity record for a key and
// applies a signed delta. Quantities round to the quantity scale; a
// result below -ε fails, a result inside the tolerance band clamps to
// zero.
func (s *Service) applyDelta(ctx context.Context, tx TxRepository, key StockKey, delta decimal.Decimal) (QuantityRecord, error) {
	rec, err := tx.GetQuantityForUpdate(ctx, key)
	missing := errors.Is(err, ErrQuantityNotFound)
	if err != nil && !missing {
		return QuantityRecord{}, err
	}
	newQty := roundQty(rec.QtyOnHand.Add(delta))
	if newQty.LessThan(Epsilon.Neg()) {
		return QuantityRecord{}, ErrInsufficientStock
	}
	if newQty.Sign() < 0 {
		newQty = decimal.Zero
	}
	rec.QtyOnHand = newQty
	if missing {
		return tx.InsertQuantity(ctx, rec)
	}
	if err := tx.UpdateQuantity(ctx, rec); err != nil {
		return QuantityRecord{}, err
	}
	return rec, nil
}

// reverseLines undoes the ledger and layer effects of posted lines.
// Outbound lines are reversed first so an adjustment that consumed its
// own inbound layer restores it before the untouched-layer check runs.
func (s *Service) reverseLines(ctx context.Context, tx TxRepository, lines []TransactionLine) error {
	for _, line := range lines {
		if line.Effect != EffectOut {
			continue
		}
		if _, err := s.applyDelta(ctx, tx, line.Key(), line.Quantity); err != nil {
			return err
		}
		consumptions, err := tx.ListConsumptionsByLine(ctx, line.ID)
		if err != nil {
			return err
		}
		for _, rec := range consumptions {
			if err := tx.AddLayerQty(ctx, rec.CostLayerID, rec.Quantity); err != nil {
				return err
			}
			if err := tx.DeleteConsumption(ctx, rec.ID); err != nil {
				return err
			}
		}
	}
	for _, line := range lines {
		if line.Effect != EffectIn {
			continue
		}
		layer, err := tx.GetLayerByOriginLineForUpdate(ctx, line.ID)
		if err != nil {
			return err
		}
		if layer.QtyRemaining.Sub(line.Quantity).Abs().GreaterThan(Epsilon) {
			return ErrCannotDelete
		}
		if _, err := s.applyDelta(ctx, tx, line.Key(), line.Quantity.Neg()); err != nil {
			return err
		}
		if err := tx.DeleteLayer(ctx, layer.ID); err != nil {
			return err
		}
	}
	return nil
}

// repost re-runs the matching create path against an existing header.
func (s *Service) repost(ctx context.Context, tx TxRepository, header Transaction, input ReplaceInput) (PostResult, error) {
	switch header.Type {
	case TransactionTypeReceipt:
		if input.Receipt == nil {
			return PostResult{}, ErrTypeImmutable
		}
		in := *input.Receipt
		for _, line := range in.Lines {
			if line.Qty.Sign() <= 0 {
				return PostResult{}, ErrInvalidQuantity
			}
			if line.UnitCost.Sign() < 0 {
				return PostResult{}, ErrInvalidCost
			}
			if err := s.checkVariant(ctx, line.VariantID); err != nil {
				return PostResult{}, err
			}
		}
		method, err := s.resolveMethod(ctx, in.Method, in.LocationID)
		if err != nil {
			return PostResult{}, err
		}
		header.Date = defaultDate(in.Date)
		header.LocationFromID = nil
		header.LocationToID = &in.LocationID
		header.Method = method
		header.SourceType = in.SourceType
		header.SourceID = in.SourceID
		header.Note = in.Note
		if err := tx.UpdateTransaction(ctx, header); err != nil {
			return PostResult{}, err
		}
		return s.processReceipt(ctx, tx, header.ID, header, in)
	case TransactionTypeIssue:
		if input.Issue == nil {
			return PostResult{}, ErrTypeImmutable
		}
		in := *input.Issue
		for _, line := range in.Lines {
			if line.Qty.Sign() <= 0 {
				return PostResult{}, ErrInvalidQuantity
			}
			if err := s.checkVariant(ctx, line.VariantID); err != nil {
				return PostResult{}, err
			}
		}
		method, err := s.resolveMethod(ctx, in.Method, in.LocationID)
		if err != nil {
			return PostResult{}, err
		}
		header.Date = defaultDate(in.Date)
		header.LocationFromID = &in.LocationID
		header.LocationToID = nil
		header.Method = method
		header.SourceType = in.SourceType
		header.SourceID = in.SourceID
		header.Note = in.Note
		if err := tx.UpdateTransaction(ctx, header); err != nil {
			return PostResult{}, err
		}
		return s.processIssue(ctx, tx, header.ID, header, in)
	case TransactionTypeTransfer:
		if input.Transfer == nil {
			return PostResult{}, ErrTypeImmutable
		}
		in := *input.Transfer
		if in.FromLocationID == in.ToLocationID {
			return PostResult{}, ErrSameLocationTransfer
		}
		for _, line := range in.Lines {
			if line.Qty.Sign() <= 0 {
				return PostResult{}, ErrInvalidQuantity
			}
			if err := s.checkVariant(ctx, line.VariantID); err != nil {
				return PostResult{}, err
			}
		}
		method, err := s.resolveMethod(ctx, in.Method, in.FromLocationID)
		if err != nil {
			return PostResult{}, err
		}
		header.Date = defaultDate(in.Date)
		header.LocationFromID = &in.FromLocationID
		header.LocationToID = &in.ToLocationID
		header.Method = method
		header.Note = in.Note
		if err := tx.UpdateTransaction(ctx, header); err != nil {
			return PostResult{}, err
		}
		return s.processTransfer(ctx, tx, header.ID, header, in)
	case TransactionTypeAdjustment:
		if input.Adjustment == nil {
			return PostResult{}, ErrTypeImmutable
		}
		in := *input.Adjustment
		for _, line := range in.Lines {
			if line.Qty.Sign() == 0 {
				return PostResult{}, ErrInvalidQuantity
			}
			if line.Qty.Sign() > 0 && line.UnitCost == nil {
				return PostResult{}, ErrMissingUnitCost
			}
			if err := s.checkVariant(ctx, line.VariantID); err != nil {
				return PostResult{}, err
			}
		}
		method, err := s.resolveMethod(ctx, in.Method, in.LocationID)
		if err != nil {
			return PostResult{}, err
		}
		header.Date = defaultDate(in.Date)
		header.LocationFromID = &in.LocationID
		header.LocationToID = nil
		header.Method = method
		header.Note = in.Note
		if err := tx.UpdateTransaction(ctx, header); err != nil {
			return PostResult{}, err
		}
		return s.processAdjustment(ctx, tx, header.ID, header, in)
	default:
		return PostResult{}, ErrTypeImmutable
	}
}

func (s *Service) resolveMethod(ctx context.Context, explicit string, locationID int64) (Method, error) {
	if s.policy == nil {
		if explicit != "" {
			return ParseMethod(explicit), nil
		}
		return MethodFIFO, nil
	}
	return s.policy.Resolve(ctx, explicit, locationID)
}

func (s *Service) checkVariant(ctx context.Context, variantID int64) error {
	if s.variants == nil {
		return nil
	}
	return s.variants.Exists(ctx, variantID)
}

func (s *Service) invalidate(ctx context.Context, locationIDs ...int64) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, locationIDs...)
}

func headerLocations(header Transaction) []int64 {
	var out []int64
	if header.LocationFromID != nil {
		out = append(out, *header.LocationFromID)
	}
	if header.LocationToID != nil {
		out = append(out, *header.LocationToID)
	}
	return out
}

func defaultNumber(number, prefix string) string {
	if number != "" {
		return number
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func defaultDate(date time.Time) time.Time {
	if date.IsZero() {
		return time.Now().UTC()
	}
	return date
}

// actorRef maps the zero actor id to an absent reference so unattributed
// postings store NULL rather than a dangling user id.
func actorRef(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
