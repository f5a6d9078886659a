package valuation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Method identifies a costing policy for outbound consumption.
type Method string

const (
	// MethodFIFO consumes the oldest remaining cost layers first.
	MethodFIFO Method = "fifo"
	// MethodMovingAverage blends the cost of all available layers.
	MethodMovingAverage Method = "moving_avg"
)

// ParseMethod maps a policy string to a Method. Unknown values fall back
// to FIFO; callers that need to distinguish "unset" check for "" first.
func ParseMethod(s string) Method {
	switch Method(s) {
	case MethodFIFO, MethodMovingAverage:
		return Method(s)
	default:
		return MethodFIFO
	}
}

// TransactionType enumerates supported stock transactions.
type TransactionType string

const (
	// TransactionTypeReceipt represents an inbound receipt.
	TransactionTypeReceipt TransactionType = "RECEIPT"
	// TransactionTypeIssue represents an outbound issue.
	TransactionTypeIssue TransactionType = "ISSUE"
	// TransactionTypeTransfer moves stock between locations.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeAdjustment corrects stock up or down.
	TransactionTypeAdjustment TransactionType = "ADJUST"
)

// LineEffect marks the direction of a transaction line.
type LineEffect string

const (
	// EffectIn increases on-hand quantity.
	EffectIn LineEffect = "IN"
	// EffectOut decreases on-hand quantity.
	EffectOut LineEffect = "OUT"
)

// StockKey identifies one tracked stock position. Lot and serial are
// optional and match exactly, including the absent case: a key without a
// lot only matches rows whose lot is null.
type StockKey struct {
	VariantID  int64
	LocationID int64
	LotID      *int64
	SerialID   *int64
}

// QuantityRecord holds on-hand and reserved quantity for a stock key.
// Rows are created lazily on first movement and kept at zero afterwards.
type QuantityRecord struct {
	ID          int64
	VariantID   int64
	LocationID  int64
	LotID       *int64
	SerialID    *int64
	QtyOnHand   decimal.Decimal
	QtyReserved decimal.Decimal
	UpdatedAt   time.Time
}

// Key returns the stock key of the record.
func (r QuantityRecord) Key() StockKey {
	return StockKey{VariantID: r.VariantID, LocationID: r.LocationID, LotID: r.LotID, SerialID: r.SerialID}
}

// CostLayer is a discrete batch of valued inventory born at one inbound
// line. QtyRemaining only decreases, except when a consuming transaction
// is reversed.
type CostLayer struct {
	ID           int64
	VariantID    int64
	LocationID   int64
	LotID        *int64
	SerialID     *int64
	OriginLineID int64
	QtyRemaining decimal.Decimal
	UnitCost     decimal.Decimal
	Method       Method
	CreatedAt    time.Time
}

// Key returns the stock key of the layer.
func (l CostLayer) Key() StockKey {
	return StockKey{VariantID: l.VariantID, LocationID: l.LocationID, LotID: l.LotID, SerialID: l.SerialID}
}

// ConsumptionRecord links an outbound line to a cost layer it drew from.
type ConsumptionRecord struct {
	ID          int64
	LineID      int64
	CostLayerID int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
}

// Transaction is a posted stock transaction header. Headers are immutable
// in type: replace keeps the row and re-runs the lines.
type Transaction struct {
	ID             int64
	Number         string
	Type           TransactionType
	Date           time.Time
	LocationFromID *int64
	LocationToID   *int64
	Method         Method
	SourceType     string
	SourceID       string
	Note           string
	CreatedBy      *int64
	CreatedAt      time.Time
}

// TransactionLine is one movement owned by a transaction.
type TransactionLine struct {
	ID            int64
	TransactionID int64
	VariantID     int64
	UnitID        int64
	LocationID    int64
	Effect        LineEffect
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	LotID         *int64
	SerialID      *int64
}

// Key returns the stock key the line moves.
func (l TransactionLine) Key() StockKey {
	return StockKey{VariantID: l.VariantID, LocationID: l.LocationID, LotID: l.LotID, SerialID: l.SerialID}
}

// PostResult is returned by every posting operation.
type PostResult struct {
	Transaction   Transaction
	Lines         []TransactionLine
	TotalQuantity decimal.Decimal
	TotalValue    decimal.Decimal
}

// ReceiptLine is one inbound line of a receipt.
type ReceiptLine struct {
	VariantID int64
	UnitID    int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	LotID     *int64
	SerialID  *int64
}

// ReceiptInput describes a receipt posting request.
type ReceiptInput struct {
	Number     string
	Date       time.Time
	LocationID int64
	Method     string
	Lines      []ReceiptLine
	SourceType string
	SourceID   string
	Note       string
	ActorID    int64
}

// IssueLine is one outbound line of an issue.
type IssueLine struct {
	VariantID int64
	UnitID    int64
	Qty       decimal.Decimal
	LotID     *int64
	SerialID  *int64
}

// IssueInput describes an issue posting request.
type IssueInput struct {
	Number     string
	Date       time.Time
	LocationID int64
	Method     string
	Lines      []IssueLine
	SourceType string
	SourceID   string
	Note       string
	ActorID    int64
}

// TransferInput describes a transfer between two locations.
type TransferInput struct {
	Number         string
	Date           time.Time
	FromLocationID int64
	ToLocationID   int64
	Method         string
	Lines          []IssueLine
	Note           string
	ActorID        int64
}

// AdjustmentLine carries a signed quantity delta. UnitCost is mandatory
// for positive deltas.
type AdjustmentLine struct {
	VariantID int64
	UnitID    int64
	Qty       decimal.Decimal
	UnitCost  *decimal.Decimal
	LotID     *int64
	SerialID  *int64
}

// AdjustmentInput describes an adjustment posting request.
type AdjustmentInput struct {
	Number     string
	Date       time.Time
	LocationID int64
	Method     string
	Lines      []AdjustmentLine
	Reason     string
	Note       string
	ActorID    int64
}

// ReplaceInput carries the new payload for an in-place replacement.
// Exactly one field matching the existing transaction type must be set.
type ReplaceInput struct {
	Receipt    *ReceiptInput
	Issue      *IssueInput
	Transfer   *TransferInput
	Adjustment *AdjustmentInput
}

// ValuationRow summarises on-hand value per variant at a location.
type ValuationRow struct {
	VariantID int64
	QtyOnHand decimal.Decimal
	Value     decimal.Decimal
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity where a positive
	// one is required, or a zero adjustment delta.
	ErrInvalidQuantity = errors.New("valuation: invalid quantity")
	// ErrInvalidCost indicates a negative unit cost.
	ErrInvalidCost = errors.New("valuation: unit cost must be >= 0")
	// ErrMissingUnitCost indicates a positive adjustment without a cost.
	ErrMissingUnitCost = errors.New("valuation: unit cost required for inbound adjustment")
	// ErrNoStock indicates no cost layers exist for the requested key.
	ErrNoStock = errors.New("valuation: no stock available")
	// ErrInsufficientStock indicates the aggregate remaining quantity does
	// not cover the requested consumption.
	ErrInsufficientStock = errors.New("valuation: insufficient stock")
	// ErrSameLocationTransfer indicates source equals destination.
	ErrSameLocationTransfer = errors.New("valuation: transfer locations must differ")
	// ErrCannotDelete indicates an inbound line whose layer was already
	// drawn down by a later transaction.
	ErrCannotDelete = errors.New("valuation: stock already used")
	// ErrConsumptionFailed indicates the layer walk could not satisfy a
	// demand the availability check accepted. Always a bug, never caused
	// by user input.
	ErrConsumptionFailed = errors.New("valuation: consumption invariant violated")
	// ErrTransactionNotFound indicates a missing transaction header.
	ErrTransactionNotFound = errors.New("valuation: transaction not found")
	// ErrTypeImmutable indicates a replace payload of a different type.
	ErrTypeImmutable = errors.New("valuation: transaction type cannot change")
	// ErrVariantNotFound indicates an unknown product variant.
	ErrVariantNotFound = errors.New("valuation: variant not found")
)
