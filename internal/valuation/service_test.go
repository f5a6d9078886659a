package valuation

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	quantities      map[string]QuantityRecord
	layers          []CostLayer
	transactions    map[int64]Transaction
	lines           []TransactionLine
	consumptions    []ConsumptionRecord
	nextID          int64
	quantityInserts int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		quantities:   make(map[string]QuantityRecord),
		transactions: make(map[int64]Transaction),
	}
}

func keyString(key StockKey) string {
	lot, serial := int64(-1), int64(-1)
	if key.LotID != nil {
		lot = *key.LotID
	}
	if key.SerialID != nil {
		serial = *key.SerialID
	}
	return fmt.Sprintf("%d:%d:%d:%d", key.VariantID, key.LocationID, lot, serial)
}

func sameKey(a, b StockKey) bool {
	return keyString(a) == keyString(b)
}

type memSnapshot struct {
	quantities      map[string]QuantityRecord
	layers          []CostLayer
	transactions    map[int64]Transaction
	lines           []TransactionLine
	consumptions    []ConsumptionRecord
	nextID          int64
	quantityInserts int
}

func (r *memoryRepo) snapshot() memSnapshot {
	snap := memSnapshot{
		quantities:      make(map[string]QuantityRecord, len(r.quantities)),
		transactions:    make(map[int64]Transaction, len(r.transactions)),
		layers:          append([]CostLayer(nil), r.layers...),
		lines:           append([]TransactionLine(nil), r.lines...),
		consumptions:    append([]ConsumptionRecord(nil), r.consumptions...),
		nextID:          r.nextID,
		quantityInserts: r.quantityInserts,
	}
	for k, v := range r.quantities {
		snap.quantities[k] = v
	}
	for k, v := range r.transactions {
		snap.transactions[k] = v
	}
	return snap
}

func (r *memoryRepo) restore(snap memSnapshot) {
	r.quantities = snap.quantities
	r.transactions = snap.transactions
	r.layers = snap.layers
	r.lines = snap.lines
	r.consumptions = snap.consumptions
	r.nextID = snap.nextID
	r.quantityInserts = snap.quantityInserts
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id int64) (Transaction, []TransactionLine, error) {
	header, ok := r.transactions[id]
	if !ok {
		return Transaction{}, nil, ErrTransactionNotFound
	}
	var lines []TransactionLine
	for _, line := range r.lines {
		if line.TransactionID == id {
			lines = append(lines, line)
		}
	}
	return header, lines, nil
}

func (r *memoryRepo) OnHand(ctx context.Context, key StockKey) (QuantityRecord, error) {
	if rec, ok := r.quantities[keyString(key)]; ok {
		return rec, nil
	}
	return QuantityRecord{VariantID: key.VariantID, LocationID: key.LocationID, LotID: key.LotID, SerialID: key.SerialID}, nil
}

func (r *memoryRepo) Layers(ctx context.Context, key StockKey) ([]CostLayer, error) {
	var out []CostLayer
	for _, layer := range r.layers {
		if sameKey(layer.Key(), key) && layer.QtyRemaining.Sign() > 0 {
			out = append(out, layer)
		}
	}
	return out, nil
}

func (r *memoryRepo) LocationValuation(ctx context.Context, locationID int64) ([]ValuationRow, error) {
	byVariant := make(map[int64]*ValuationRow)
	var order []int64
	for _, layer := range r.layers {
		if layer.LocationID != locationID || layer.QtyRemaining.Sign() <= 0 {
			continue
		}
		row, ok := byVariant[layer.VariantID]
		if !ok {
			row = &ValuationRow{VariantID: layer.VariantID}
			byVariant[layer.VariantID] = row
			order = append(order, layer.VariantID)
		}
		row.QtyOnHand = row.QtyOnHand.Add(layer.QtyRemaining)
		row.Value = row.Value.Add(layer.QtyRemaining.Mul(layer.UnitCost))
	}
	var out []ValuationRow
	for _, variantID := range order {
		out = append(out, *byVariant[variantID])
	}
	return out, nil
}

func (tx *memoryTx) GetQuantityForUpdate(ctx context.Context, key StockKey) (QuantityRecord, error) {
	if rec, ok := tx.repo.quantities[keyString(key)]; ok {
		return rec, nil
	}
	return QuantityRecord{VariantID: key.VariantID, LocationID: key.LocationID, LotID: key.LotID, SerialID: key.SerialID}, ErrQuantityNotFound
}

func (tx *memoryTx) InsertQuantity(ctx context.Context, rec QuantityRecord) (QuantityRecord, error) {
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.repo.quantityInserts++
	tx.repo.quantities[keyString(rec.Key())] = rec
	return rec, nil
}

func (tx *memoryTx) UpdateQuantity(ctx context.Context, rec QuantityRecord) error {
	for k, existing := range tx.repo.quantities {
		if existing.ID == rec.ID {
			tx.repo.quantities[k] = rec
			return nil
		}
	}
	return ErrQuantityNotFound
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, header Transaction) (int64, error) {
	tx.repo.nextID++
	header.ID = tx.repo.nextID
	tx.repo.transactions[header.ID] = header
	return header.ID, nil
}

func (tx *memoryTx) UpdateTransaction(ctx context.Context, header Transaction) error {
	if _, ok := tx.repo.transactions[header.ID]; !ok {
		return ErrTransactionNotFound
	}
	tx.repo.transactions[header.ID] = header
	return nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line TransactionLine) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines = append(tx.repo.lines, line)
	return line.ID, nil
}

func (tx *memoryTx) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	tx.repo.nextID++
	layer.ID = tx.repo.nextID
	tx.repo.layers = append(tx.repo.layers, layer)
	return layer.ID, nil
}

func (tx *memoryTx) AvailableLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error) {
	var out []CostLayer
	for _, layer := range tx.repo.layers {
		if sameKey(layer.Key(), key) && layer.QtyRemaining.Sign() > 0 {
			out = append(out, layer)
		}
	}
	return out, nil
}

func (tx *memoryTx) AddLayerQty(ctx context.Context, layerID int64, delta decimal.Decimal) error {
	for i := range tx.repo.layers {
		if tx.repo.layers[i].ID == layerID {
			tx.repo.layers[i].QtyRemaining = tx.repo.layers[i].QtyRemaining.Add(delta)
			return nil
		}
	}
	return ErrLayerNotFound
}

func (tx *memoryTx) InsertConsumption(ctx context.Context, rec ConsumptionRecord) error {
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.repo.consumptions = append(tx.repo.consumptions, rec)
	return nil
}

func (tx *memoryTx) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	header, ok := tx.repo.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return header, nil
}

func (tx *memoryTx) ListLines(ctx context.Context, txID int64) ([]TransactionLine, error) {
	var out []TransactionLine
	for _, line := range tx.repo.lines {
		if line.TransactionID == txID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetLayerByOriginLineForUpdate(ctx context.Context, lineID int64) (CostLayer, error) {
	for _, layer := range tx.repo.layers {
		if layer.OriginLineID == lineID {
			return layer, nil
		}
	}
	return CostLayer{}, ErrLayerNotFound
}

func (tx *memoryTx) ListConsumptionsByLine(ctx context.Context, lineID int64) ([]ConsumptionRecord, error) {
	var out []ConsumptionRecord
	for _, rec := range tx.repo.consumptions {
		if rec.LineID == lineID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (tx *memoryTx) DeleteConsumption(ctx context.Context, id int64) error {
	for i, rec := range tx.repo.consumptions {
		if rec.ID == id {
			tx.repo.consumptions = append(tx.repo.consumptions[:i], tx.repo.consumptions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (tx *memoryTx) DeleteLayer(ctx context.Context, id int64) error {
	for i, layer := range tx.repo.layers {
		if layer.ID == id {
			tx.repo.layers = append(tx.repo.layers[:i], tx.repo.layers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, txID int64) error {
	var kept []TransactionLine
	for _, line := range tx.repo.lines {
		if line.TransactionID != txID {
			kept = append(kept, line)
		}
	}
	tx.repo.lines = kept
	return nil
}

func (tx *memoryTx) DeleteTransaction(ctx context.Context, id int64) error {
	delete(tx.repo.transactions, id)
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, nil)
}

func mustOnHand(t *testing.T, repo *memoryRepo, variantID, locationID int64) decimal.Decimal {
	t.Helper()
	rec, err := repo.OnHand(context.Background(), StockKey{VariantID: variantID, LocationID: locationID})
	require.NoError(t, err)
	return rec.QtyOnHand
}

func TestPostReceiptCreatesQuantityAndLayer(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	result, err := svc.PostReceipt(ctx, ReceiptInput{
		LocationID: 1,
		Lines:      []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, TransactionTypeReceipt, result.Transaction.Type)
	require.NotEmpty(t, result.Transaction.Number)
	require.True(t, result.TotalQuantity.Equal(dec("10")))
	require.True(t, result.TotalValue.Equal(dec("50")))

	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
	rows, err := repo.LocationValuation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Value.Equal(dec("50")))
}

func TestLayersListRemainingInFIFOOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{
		LocationID: 1,
		Lines:      []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}},
	})
	require.NoError(t, err)
	_, err = svc.PostReceipt(ctx, ReceiptInput{
		LocationID: 1,
		Lines:      []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("12")}},
	})
	require.NoError(t, err)
	_, err = svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("7")}},
	})
	require.NoError(t, err)

	layers, err := svc.Layers(ctx, StockKey{VariantID: 1, LocationID: 1})
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.True(t, layers[0].QtyRemaining.Equal(dec("3")))
	require.True(t, layers[0].UnitCost.Equal(dec("12")))
}

func TestPostReceiptRejectsBadLines(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("0"), UnitCost: dec("5")}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("1"), UnitCost: dec("-1")}}})
	require.ErrorIs(t, err, ErrInvalidCost)

	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPostIssueFIFO(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}}})
	require.NoError(t, err)
	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("12")}}})
	require.NoError(t, err)

	result, err := svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Method:     "fifo",
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("7")}},
	})
	require.NoError(t, err)
	require.True(t, result.TotalValue.Equal(dec("74")), result.TotalValue.String())
	require.Len(t, result.Lines, 1)
	require.True(t, result.Lines[0].UnitCost.Equal(dec("10.5714")), result.Lines[0].UnitCost.String())

	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("3")))
	// The older layer is exhausted, the newer keeps 3 units at 12.
	rows, err := repo.LocationValuation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Value.Equal(dec("36")), rows[0].Value.String())
}

func TestPostIssueMovingAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}}})
	require.NoError(t, err)
	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("12")}}})
	require.NoError(t, err)

	result, err := svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Method:     "moving_avg",
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("7")}},
	})
	require.NoError(t, err)
	require.True(t, result.Lines[0].UnitCost.Equal(dec("11")), result.Lines[0].UnitCost.String())
	require.True(t, result.TotalValue.Equal(dec("77")), result.TotalValue.String())
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("3")))
}

func TestPostIssueNoStock(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.PostIssue(context.Background(), IssueInput{
		LocationID: 1,
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("1")}},
	})
	require.ErrorIs(t, err, ErrNoStock)
}

func TestPostIssueInsufficientStockRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}}})
	require.NoError(t, err)

	_, err = svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Lines: []IssueLine{
			{VariantID: 1, UnitID: 1, Qty: dec("3")},
			{VariantID: 1, UnitID: 1, Qty: dec("4")},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The whole posting rolled back, including the first line.
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("5")))
	require.Empty(t, repo.lines)
}

func TestPostTransferConservesQuantityAndCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("7.5")}}})
	require.NoError(t, err)

	result, err := svc.PostTransfer(ctx, TransferInput{
		FromLocationID: 1,
		ToLocationID:   2,
		Lines:          []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("3")}},
	})
	require.NoError(t, err)
	require.Equal(t, TransactionTypeTransfer, result.Transaction.Type)

	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("7")))
	require.True(t, mustOnHand(t, repo, 1, 2).Equal(dec("3")))

	// The destination layer carries the source cost, not a re-derived one.
	rows, err := repo.LocationValuation(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Value.Equal(dec("22.5")), rows[0].Value.String())
}

func TestPostTransferSameLocationFails(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.PostTransfer(context.Background(), TransferInput{
		FromLocationID: 1,
		ToLocationID:   1,
		Lines:          []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("1")}},
	})
	require.ErrorIs(t, err, ErrSameLocationTransfer)
}

func TestPostAdjustmentSignedLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	cost := dec("4")
	result, err := svc.PostAdjustment(ctx, AdjustmentInput{
		LocationID: 1,
		Reason:     "count",
		Lines:      []AdjustmentLine{{VariantID: 1, UnitID: 1, Qty: dec("6"), UnitCost: &cost}},
	})
	require.NoError(t, err)
	require.True(t, result.TotalQuantity.Equal(dec("6")))
	require.True(t, result.TotalValue.Equal(dec("24")))

	result, err = svc.PostAdjustment(ctx, AdjustmentInput{
		LocationID: 1,
		Lines:      []AdjustmentLine{{VariantID: 1, UnitID: 1, Qty: dec("-2")}},
	})
	require.NoError(t, err)
	require.True(t, result.TotalQuantity.Equal(dec("-2")))
	require.True(t, result.TotalValue.Equal(dec("-8")))
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("4")))
}

func TestPostAdjustmentRejectsZeroAndMissingCost(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{
		LocationID: 1,
		Lines:      []AdjustmentLine{{VariantID: 1, UnitID: 1, Qty: dec("0")}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{
		LocationID: 1,
		Lines:      []AdjustmentLine{{VariantID: 1, UnitID: 1, Qty: dec("3")}},
	})
	require.ErrorIs(t, err, ErrMissingUnitCost)
}

func TestDeleteBlockedAfterConsumption(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receipt, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)
	issue, err := svc.PostIssue(ctx, IssueInput{LocationID: 1, Lines: []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("4")}}})
	require.NoError(t, err)

	err = svc.DeleteTransaction(ctx, receipt.Transaction.ID)
	require.ErrorIs(t, err, ErrCannotDelete)
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("6")))

	// Deleting the issue first restores the layer, then the receipt goes.
	require.NoError(t, svc.DeleteTransaction(ctx, issue.Transaction.ID))
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
	require.NoError(t, svc.DeleteTransaction(ctx, receipt.Transaction.ID))
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("0")))
	require.Empty(t, repo.layers)
}

func TestDeleteIssueRestoresLayers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)
	issue, err := svc.PostIssue(ctx, IssueInput{LocationID: 1, Lines: []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("4")}}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, issue.Transaction.ID))

	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
	rows, err := repo.LocationValuation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Value.Equal(dec("50")), rows[0].Value.String())
	require.Empty(t, repo.consumptions)
}

func TestDeleteUnknownTransaction(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	err := svc.DeleteTransaction(context.Background(), 42)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReplaceKeepsNumberAndType(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receipt, err := svc.PostReceipt(ctx, ReceiptInput{Number: "RCP-100", LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)

	result, err := svc.ReplaceTransaction(ctx, receipt.Transaction.ID, ReplaceInput{
		Receipt: &ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("8"), UnitCost: dec("6")}}},
	})
	require.NoError(t, err)
	require.Equal(t, "RCP-100", result.Transaction.Number)
	require.Equal(t, TransactionTypeReceipt, result.Transaction.Type)
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("8")))

	rows, err := repo.LocationValuation(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Value.Equal(dec("48")), rows[0].Value.String())
}

func TestReplaceRejectsTypeChange(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receipt, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)

	_, err = svc.ReplaceTransaction(ctx, receipt.Transaction.ID, ReplaceInput{
		Issue: &IssueInput{LocationID: 1, Lines: []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("2")}}},
	})
	require.ErrorIs(t, err, ErrTypeImmutable)

	// The failed replace rolled back; the original stock is intact.
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
}

func TestLotScopedConsumption(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	lotA, lotB := int64(100), int64(200)
	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{
		{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10"), LotID: &lotA},
		{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("20"), LotID: &lotB},
	}})
	require.NoError(t, err)

	result, err := svc.PostIssue(ctx, IssueInput{LocationID: 1, Lines: []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("3"), LotID: &lotB}}})
	require.NoError(t, err)
	require.True(t, result.Lines[0].UnitCost.Equal(dec("20")))

	// A key without a lot only matches layers without a lot.
	_, err = svc.PostIssue(ctx, IssueInput{LocationID: 1, Lines: []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("1")}}})
	require.ErrorIs(t, err, ErrNoStock)

	rec, err := repo.OnHand(ctx, StockKey{VariantID: 1, LocationID: 1, LotID: &lotB})
	require.NoError(t, err)
	require.True(t, rec.QtyOnHand.Equal(dec("2")))
}

type stubVariants struct {
	known map[int64]bool
}

func (s stubVariants) Exists(ctx context.Context, variantID int64) error {
	if s.known[variantID] {
		return nil
	}
	return ErrVariantNotFound
}

func TestUnknownVariantRejected(t *testing.T) {
	svc := NewService(newMemoryRepo(), stubVariants{known: map[int64]bool{1: true}}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 2, UnitID: 1, Qty: dec("1"), UnitCost: dec("1")}}})
	require.ErrorIs(t, err, ErrVariantNotFound)

	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("1"), UnitCost: dec("1")}}})
	require.NoError(t, err)
}

func TestReplaceRejectsUnknownVariant(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubVariants{known: map[int64]bool{1: true}}, nil, nil, nil)
	ctx := context.Background()

	receipt, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)

	_, err = svc.ReplaceTransaction(ctx, receipt.Transaction.ID, ReplaceInput{
		Receipt: &ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 2, UnitID: 1, Qty: dec("8"), UnitCost: dec("6")}}},
	})
	require.ErrorIs(t, err, ErrVariantNotFound)

	// The replace rolled back; the original lines and stock are intact.
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
	_, lines, err := repo.GetTransaction(ctx, receipt.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Quantity.Equal(dec("10")))
}

func TestUnattributedPostingRoundTrips(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receipt, err := svc.PostReceipt(ctx, ReceiptInput{
		LocationID: 1,
		Lines:      []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}},
	})
	require.NoError(t, err)
	require.Nil(t, receipt.Transaction.CreatedBy)

	header, _, err := svc.GetTransaction(ctx, receipt.Transaction.ID)
	require.NoError(t, err)
	require.Nil(t, header.CreatedBy)
	require.NoError(t, svc.DeleteTransaction(ctx, receipt.Transaction.ID))

	attributed, err := svc.PostReceipt(ctx, ReceiptInput{
		LocationID: 1,
		Lines:      []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.NotNil(t, attributed.Transaction.CreatedBy)
	require.Equal(t, int64(7), *attributed.Transaction.CreatedBy)
}

func TestRepeatedMovementsReuseQuantityRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("5"), UnitCost: dec("10")}}})
	require.NoError(t, err)
	_, err = svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("3"), UnitCost: dec("12")}}})
	require.NoError(t, err)

	// Both receipts hit the same null-lot, null-serial key: the second
	// must update the existing row, never insert a sibling.
	require.Equal(t, 1, repo.quantityInserts)
	require.Len(t, repo.quantities, 1)
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("8")))
}

func TestIssueWithinToleranceClampsToZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)

	// 10.0004 is inside the tolerance band around the 10 on hand: the
	// posting succeeds and leaves nothing behind.
	result, err := svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("10.0004")}},
	})
	require.NoError(t, err)
	require.True(t, result.TotalQuantity.Equal(dec("10")), result.TotalQuantity.String())
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("0")))
	layers, err := svc.Layers(ctx, StockKey{VariantID: 1, LocationID: 1})
	require.NoError(t, err)
	require.Empty(t, layers)
}

func TestIssueBeyondToleranceFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, ReceiptInput{LocationID: 1, Lines: []ReceiptLine{{VariantID: 1, UnitID: 1, Qty: dec("10"), UnitCost: dec("5")}}})
	require.NoError(t, err)

	_, err = svc.PostIssue(ctx, IssueInput{
		LocationID: 1,
		Lines:      []IssueLine{{VariantID: 1, UnitID: 1, Qty: dec("10.001")}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, mustOnHand(t, repo, 1, 1).Equal(dec("10")))
}
