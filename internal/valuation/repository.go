package valuation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists valuation data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside one atomic
// posting. Rows read through the ForUpdate methods stay locked until the
// enclosing transaction commits or rolls back.
type TxRepository interface {
	GetQuantityForUpdate(ctx context.Context, key StockKey) (QuantityRecord, error)
	InsertQuantity(ctx context.Context, rec QuantityRecord) (QuantityRecord, error)
	UpdateQuantity(ctx context.Context, rec QuantityRecord) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	InsertLine(ctx context.Context, line TransactionLine) (int64, error)
	InsertLayer(ctx context.Context, layer CostLayer) (int64, error)
	AvailableLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error)
	AddLayerQty(ctx context.Context, layerID int64, delta decimal.Decimal) error
	InsertConsumption(ctx context.Context, rec ConsumptionRecord) error
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	ListLines(ctx context.Context, txID int64) ([]TransactionLine, error)
	GetLayerByOriginLineForUpdate(ctx context.Context, lineID int64) (CostLayer, error)
	ListConsumptionsByLine(ctx context.Context, lineID int64) ([]ConsumptionRecord, error)
	DeleteConsumption(ctx context.Context, id int64) error
	DeleteLayer(ctx context.Context, id int64) error
	DeleteLines(ctx context.Context, txID int64) error
	DeleteTransaction(ctx context.Context, id int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrQuantityNotFound indicates a stock key with no quantity row yet.
var ErrQuantityNotFound = errors.New("valuation: quantity record not found")

// ErrLayerNotFound indicates a missing cost layer.
var ErrLayerNotFound = errors.New("valuation: cost layer not found")

// WithTx executes the callback inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("valuation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetTransaction loads a header with its lines outside any posting.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, []TransactionLine, error) {
	var header Transaction
	err := r.pool.QueryRow(ctx, `SELECT id, number, tx_type, tx_date, location_from_id, location_to_id, method, source_type, source_id, note, created_by, created_at
FROM stock_tx WHERE id=$1`, id).
		Scan(&header.ID, &header.Number, &header.Type, &header.Date, &header.LocationFromID, &header.LocationToID, &header.Method, &header.SourceType, &header.SourceID, &header.Note, &header.CreatedBy, &header.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, nil, ErrTransactionNotFound
		}
		return Transaction{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tx_id, variant_id, unit_id, location_id, effect, qty, unit_cost, lot_id, serial_id
FROM stock_tx_lines WHERE tx_id=$1 ORDER BY id`, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return Transaction{}, nil, err
	}
	return header, lines, nil
}

// OnHand returns the quantity record for a key, zero-valued when the key
// has never moved.
func (r *Repository) OnHand(ctx context.Context, key StockKey) (QuantityRecord, error) {
	var rec QuantityRecord
	err := r.pool.QueryRow(ctx, `SELECT id, variant_id, location_id, lot_id, serial_id, qty_on_hand, qty_reserved, updated_at
FROM stock_quantities
WHERE variant_id=$1 AND location_id=$2 AND lot_id IS NOT DISTINCT FROM $3 AND serial_id IS NOT DISTINCT FROM $4`,
		key.VariantID, key.LocationID, key.LotID, key.SerialID).
		Scan(&rec.ID, &rec.VariantID, &rec.LocationID, &rec.LotID, &rec.SerialID, &rec.QtyOnHand, &rec.QtyReserved, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuantityRecord{
				VariantID:  key.VariantID,
				LocationID: key.LocationID,
				LotID:      key.LotID,
				SerialID:   key.SerialID,
				QtyOnHand:  decimal.Zero,
			}, nil
		}
		return QuantityRecord{}, err
	}
	return rec, nil
}

// Layers lists remaining cost layers for a key in FIFO order, outside
// any posting and without locks.
func (r *Repository) Layers(ctx context.Context, key StockKey) ([]CostLayer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, location_id, lot_id, serial_id, origin_line_id, qty_remaining, unit_cost, method, created_at
FROM cost_layers
WHERE variant_id=$1 AND location_id=$2 AND lot_id IS NOT DISTINCT FROM $3 AND serial_id IS NOT DISTINCT FROM $4 AND qty_remaining > 0
ORDER BY id`, key.VariantID, key.LocationID, key.LotID, key.SerialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var layer CostLayer
		if err := rows.Scan(&layer.ID, &layer.VariantID, &layer.LocationID, &layer.LotID, &layer.SerialID, &layer.OriginLineID, &layer.QtyRemaining, &layer.UnitCost, &layer.Method, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// LocationValuation sums remaining layer value per variant at a location.
func (r *Repository) LocationValuation(ctx context.Context, locationID int64) ([]ValuationRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT variant_id, COALESCE(SUM(qty_remaining),0), COALESCE(SUM(qty_remaining*unit_cost),0)
FROM cost_layers WHERE location_id=$1 AND qty_remaining > 0
GROUP BY variant_id ORDER BY variant_id`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValuationRow
	for rows.Next() {
		var row ValuationRow
		if err := rows.Scan(&row.VariantID, &row.QtyOnHand, &row.Value); err != nil {
			return nil, err
		}
		row.QtyOnHand = roundQty(row.QtyOnHand)
		row.Value = roundCost(row.Value)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SnapshotValuations writes one dated valuation row per (location,
// variant) with remaining layer quantity and value. Used by the nightly
// snapshot job.
func (r *Repository) SnapshotValuations(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO valuation_snapshots (as_of, location_id, variant_id, qty_on_hand, value)
SELECT $1, location_id, variant_id, SUM(qty_remaining), SUM(qty_remaining*unit_cost)
FROM cost_layers WHERE qty_remaining > 0
GROUP BY location_id, variant_id`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) GetQuantityForUpdate(ctx context.Context, key StockKey) (QuantityRecord, error) {
	var rec QuantityRecord
	err := r.tx.QueryRow(ctx, `SELECT id, variant_id, location_id, lot_id, serial_id, qty_on_hand, qty_reserved, updated_at
FROM stock_quantities
WHERE variant_id=$1 AND location_id=$2 AND lot_id IS NOT DISTINCT FROM $3 AND serial_id IS NOT DISTINCT FROM $4
FOR UPDATE`, key.VariantID, key.LocationID, key.LotID, key.SerialID).
		Scan(&rec.ID, &rec.VariantID, &rec.LocationID, &rec.LotID, &rec.SerialID, &rec.QtyOnHand, &rec.QtyReserved, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuantityRecord{VariantID: key.VariantID, LocationID: key.LocationID, LotID: key.LotID, SerialID: key.SerialID}, ErrQuantityNotFound
		}
		return QuantityRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) InsertQuantity(ctx context.Context, rec QuantityRecord) (QuantityRecord, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_quantities (variant_id, location_id, lot_id, serial_id, qty_on_hand, qty_reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
RETURNING id, updated_at`, rec.VariantID, rec.LocationID, rec.LotID, rec.SerialID, rec.QtyOnHand, rec.QtyReserved).
		Scan(&rec.ID, &rec.UpdatedAt)
	return rec, err
}

// UpdateQuantity writes back a row previously locked by
// GetQuantityForUpdate. Updating by id sidesteps conflict-target
// matching on the nullable lot/serial columns.
func (r *txRepository) UpdateQuantity(ctx context.Context, rec QuantityRecord) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_quantities SET qty_on_hand=$2, qty_reserved=$3, updated_at=NOW() WHERE id=$1`,
		rec.ID, rec.QtyOnHand, rec.QtyReserved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuantityNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_tx (number, tx_type, tx_date, location_from_id, location_to_id, method, source_type, source_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		tx.Number, string(tx.Type), tx.Date, tx.LocationFromID, tx.LocationToID, string(tx.Method), tx.SourceType, tx.SourceID, tx.Note, tx.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateTransaction(ctx context.Context, tx Transaction) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_tx SET tx_date=$2, location_from_id=$3, location_to_id=$4, method=$5, source_type=$6, source_id=$7, note=$8 WHERE id=$1`,
		tx.ID, tx.Date, tx.LocationFromID, tx.LocationToID, string(tx.Method), tx.SourceType, tx.SourceID, tx.Note)
	return err
}

func (r *txRepository) InsertLine(ctx context.Context, line TransactionLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_tx_lines (tx_id, variant_id, unit_id, location_id, effect, qty, unit_cost, lot_id, serial_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		line.TransactionID, line.VariantID, line.UnitID, line.LocationID, string(line.Effect), line.Quantity, line.UnitCost, line.LotID, line.SerialID).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_layers (variant_id, location_id, lot_id, serial_id, origin_line_id, qty_remaining, unit_cost, method, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		layer.VariantID, layer.LocationID, layer.LotID, layer.SerialID, layer.OriginLineID, layer.QtyRemaining, layer.UnitCost, string(layer.Method)).Scan(&id)
	return id, err
}

// AvailableLayersForUpdate returns layers with remaining quantity for the
// key, locked, in insertion order. Insertion order is the FIFO order; no
// timestamp sort is applied on top of the monotonic id.
func (r *txRepository) AvailableLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, variant_id, location_id, lot_id, serial_id, origin_line_id, qty_remaining, unit_cost, method, created_at
FROM cost_layers
WHERE variant_id=$1 AND location_id=$2 AND lot_id IS NOT DISTINCT FROM $3 AND serial_id IS NOT DISTINCT FROM $4 AND qty_remaining > 0
ORDER BY id
FOR UPDATE`, key.VariantID, key.LocationID, key.LotID, key.SerialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var layer CostLayer
		if err := rows.Scan(&layer.ID, &layer.VariantID, &layer.LocationID, &layer.LotID, &layer.SerialID, &layer.OriginLineID, &layer.QtyRemaining, &layer.UnitCost, &layer.Method, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) AddLayerQty(ctx context.Context, layerID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cost_layers SET qty_remaining = qty_remaining + $2 WHERE id=$1`, layerID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (r *txRepository) InsertConsumption(ctx context.Context, rec ConsumptionRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_consumptions (line_id, cost_layer_id, qty, unit_cost)
VALUES ($1,$2,$3,$4)`, rec.LineID, rec.CostLayerID, rec.Quantity, rec.UnitCost)
	return err
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	var header Transaction
	err := r.tx.QueryRow(ctx, `SELECT id, number, tx_type, tx_date, location_from_id, location_to_id, method, source_type, source_id, note, created_by, created_at
FROM stock_tx WHERE id=$1 FOR UPDATE`, id).
		Scan(&header.ID, &header.Number, &header.Type, &header.Date, &header.LocationFromID, &header.LocationToID, &header.Method, &header.SourceType, &header.SourceID, &header.Note, &header.CreatedBy, &header.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return header, nil
}

func (r *txRepository) ListLines(ctx context.Context, txID int64) ([]TransactionLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tx_id, variant_id, unit_id, location_id, effect, qty, unit_cost, lot_id, serial_id
FROM stock_tx_lines WHERE tx_id=$1 ORDER BY id`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) GetLayerByOriginLineForUpdate(ctx context.Context, lineID int64) (CostLayer, error) {
	var layer CostLayer
	err := r.tx.QueryRow(ctx, `SELECT id, variant_id, location_id, lot_id, serial_id, origin_line_id, qty_remaining, unit_cost, method, created_at
FROM cost_layers WHERE origin_line_id=$1 FOR UPDATE`, lineID).
		Scan(&layer.ID, &layer.VariantID, &layer.LocationID, &layer.LotID, &layer.SerialID, &layer.OriginLineID, &layer.QtyRemaining, &layer.UnitCost, &layer.Method, &layer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostLayer{}, ErrLayerNotFound
		}
		return CostLayer{}, err
	}
	return layer, nil
}

func (r *txRepository) ListConsumptionsByLine(ctx context.Context, lineID int64) ([]ConsumptionRecord, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, line_id, cost_layer_id, qty, unit_cost
FROM stock_consumptions WHERE line_id=$1 ORDER BY id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []ConsumptionRecord
	for rows.Next() {
		var rec ConsumptionRecord
		if err := rows.Scan(&rec.ID, &rec.LineID, &rec.CostLayerID, &rec.Quantity, &rec.UnitCost); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *txRepository) DeleteConsumption(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_consumptions WHERE id=$1`, id)
	return err
}

func (r *txRepository) DeleteLayer(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM cost_layers WHERE id=$1`, id)
	return err
}

func (r *txRepository) DeleteLines(ctx context.Context, txID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_tx_lines WHERE tx_id=$1`, txID)
	return err
}

func (r *txRepository) DeleteTransaction(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_tx WHERE id=$1`, id)
	return err
}

func scanLines(rows pgx.Rows) ([]TransactionLine, error) {
	var lines []TransactionLine
	for rows.Next() {
		var line TransactionLine
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.VariantID, &line.UnitID, &line.LocationID, &line.Effect, &line.Quantity, &line.UnitCost, &line.LotID, &line.SerialID); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
