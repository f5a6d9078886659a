package valuation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires JSON endpoints for the valuation module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs valuation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers valuation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.handleReceipt)
	r.Post("/issues", h.handleIssue)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjustment)
	r.Get("/transactions/{id}", h.handleGetTransaction)
	r.Put("/transactions/{id}", h.handleReplace)
	r.Delete("/transactions/{id}", h.handleDelete)
	r.Get("/on-hand", h.handleOnHand)
	r.Get("/layers", h.handleLayers)
	r.Get("/locations/{id}/summary", h.handleSummary)
}

type receiptLineRequest struct {
	VariantID int64  `json:"variant_id" validate:"required,gt=0"`
	UnitID    int64  `json:"unit_id" validate:"required,gt=0"`
	Qty       string `json:"qty" validate:"required"`
	UnitCost  string `json:"unit_cost" validate:"required"`
	LotID     *int64 `json:"lot_id"`
	SerialID  *int64 `json:"serial_id"`
}

type receiptRequest struct {
	Number     string               `json:"number"`
	Date       string               `json:"date"`
	LocationID int64                `json:"location_id" validate:"required,gt=0"`
	Method     string               `json:"method" validate:"omitempty,oneof=fifo moving_avg"`
	SourceType string               `json:"source_type"`
	SourceID   string               `json:"source_id"`
	Note       string               `json:"note"`
	Lines      []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type issueLineRequest struct {
	VariantID int64  `json:"variant_id" validate:"required,gt=0"`
	UnitID    int64  `json:"unit_id" validate:"required,gt=0"`
	Qty       string `json:"qty" validate:"required"`
	LotID     *int64 `json:"lot_id"`
	SerialID  *int64 `json:"serial_id"`
}

type issueRequest struct {
	Number     string             `json:"number"`
	Date       string             `json:"date"`
	LocationID int64              `json:"location_id" validate:"required,gt=0"`
	Method     string             `json:"method" validate:"omitempty,oneof=fifo moving_avg"`
	SourceType string             `json:"source_type"`
	SourceID   string             `json:"source_id"`
	Note       string             `json:"note"`
	Lines      []issueLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type transferRequest struct {
	Number         string             `json:"number"`
	Date           string             `json:"date"`
	FromLocationID int64              `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64              `json:"to_location_id" validate:"required,gt=0"`
	Method         string             `json:"method" validate:"omitempty,oneof=fifo moving_avg"`
	Note           string             `json:"note"`
	Lines          []issueLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type adjustmentLineRequest struct {
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	UnitID    int64   `json:"unit_id" validate:"required,gt=0"`
	Qty       string  `json:"qty" validate:"required"`
	UnitCost  *string `json:"unit_cost"`
	LotID     *int64  `json:"lot_id"`
	SerialID  *int64  `json:"serial_id"`
}

type adjustmentRequest struct {
	Number     string                  `json:"number"`
	Date       string                  `json:"date"`
	LocationID int64                   `json:"location_id" validate:"required,gt=0"`
	Method     string                  `json:"method" validate:"omitempty,oneof=fifo moving_avg"`
	Reason     string                  `json:"reason"`
	Note       string                  `json:"note"`
	Lines      []adjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type replaceRequest struct {
	Receipt    *receiptRequest    `json:"receipt"`
	Issue      *issueRequest      `json:"issue"`
	Transfer   *transferRequest   `json:"transfer"`
	Adjustment *adjustmentRequest `json:"adjustment"`
}

type lineResponse struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	UnitID    int64  `json:"unit_id"`
	Location  int64  `json:"location_id"`
	Effect    string `json:"effect"`
	Qty       string `json:"qty"`
	UnitCost  string `json:"unit_cost"`
	LotID     *int64 `json:"lot_id,omitempty"`
	SerialID  *int64 `json:"serial_id,omitempty"`
}

type postResponse struct {
	ID            int64          `json:"id"`
	Number        string         `json:"number"`
	Type          string         `json:"type"`
	Date          string         `json:"date"`
	Method        string         `json:"method"`
	TotalQuantity string         `json:"total_quantity"`
	TotalValue    string         `json:"total_value"`
	Lines         []lineResponse `json:"lines"`
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiptInput{
		Number:     req.Number,
		LocationID: req.LocationID,
		Method:     req.Method,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Note:       req.Note,
	}
	var ok bool
	if input.Date, ok = h.parseDate(w, req.Date); !ok {
		return
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid qty")
			return
		}
		cost, err := decimal.NewFromString(line.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
			return
		}
		input.Lines = append(input.Lines, ReceiptLine{
			VariantID: line.VariantID,
			UnitID:    line.UnitID,
			Qty:       qty,
			UnitCost:  cost,
			LotID:     line.LotID,
			SerialID:  line.SerialID,
		})
	}
	result, err := h.service.PostReceipt(r.Context(), input)
	if err != nil {
		h.respondError(w, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostResponse(result))
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, ok := h.issueInput(w, req)
	if !ok {
		return
	}
	result, err := h.service.PostIssue(r.Context(), input)
	if err != nil {
		h.respondError(w, "post issue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostResponse(result))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, ok := h.transferInput(w, req)
	if !ok {
		return
	}
	result, err := h.service.PostTransfer(r.Context(), input)
	if err != nil {
		h.respondError(w, "post transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostResponse(result))
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, ok := h.adjustmentInput(w, req)
	if !ok {
		return
	}
	result, err := h.service.PostAdjustment(r.Context(), input)
	if err != nil {
		h.respondError(w, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostResponse(result))
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	header, lines, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondError(w, "get transaction", err)
		return
	}
	result := PostResult{Transaction: header, Lines: lines}
	for _, line := range lines {
		if line.Effect == EffectIn {
			result.TotalQuantity = result.TotalQuantity.Add(line.Quantity)
		} else {
			result.TotalQuantity = result.TotalQuantity.Sub(line.Quantity)
		}
	}
	httpx.JSON(w, http.StatusOK, toPostResponse(result))
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	input := ReplaceInput{}
	switch {
	case req.Receipt != nil:
		if err := h.validate.Struct(*req.Receipt); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		in := ReceiptInput{
			LocationID: req.Receipt.LocationID,
			Method:     req.Receipt.Method,
			SourceType: req.Receipt.SourceType,
			SourceID:   req.Receipt.SourceID,
			Note:       req.Receipt.Note,
		}
		var ok bool
		if in.Date, ok = h.parseDate(w, req.Receipt.Date); !ok {
			return
		}
		for _, line := range req.Receipt.Lines {
			qty, err := decimal.NewFromString(line.Qty)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid qty")
				return
			}
			cost, err := decimal.NewFromString(line.UnitCost)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
				return
			}
			in.Lines = append(in.Lines, ReceiptLine{VariantID: line.VariantID, UnitID: line.UnitID, Qty: qty, UnitCost: cost, LotID: line.LotID, SerialID: line.SerialID})
		}
		input.Receipt = &in
	case req.Issue != nil:
		if err := h.validate.Struct(*req.Issue); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		in, ok := h.issueInput(w, *req.Issue)
		if !ok {
			return
		}
		input.Issue = &in
	case req.Transfer != nil:
		if err := h.validate.Struct(*req.Transfer); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		in, ok := h.transferInput(w, *req.Transfer)
		if !ok {
			return
		}
		input.Transfer = &in
	case req.Adjustment != nil:
		if err := h.validate.Struct(*req.Adjustment); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		in, ok := h.adjustmentInput(w, *req.Adjustment)
		if !ok {
			return
		}
		input.Adjustment = &in
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "replace payload required")
		return
	}
	result, err := h.service.ReplaceTransaction(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "replace transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPostResponse(result))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	if err := h.service.DeleteTransaction(r.Context(), id); err != nil {
		h.respondError(w, "delete transaction", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) stockKeyFromQuery(w http.ResponseWriter, r *http.Request) (StockKey, bool) {
	q := r.URL.Query()
	variantID, err := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant_id required")
		return StockKey{}, false
	}
	locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id required")
		return StockKey{}, false
	}
	key := StockKey{VariantID: variantID, LocationID: locationID}
	if lot := q.Get("lot_id"); lot != "" {
		id, err := strconv.ParseInt(lot, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot_id")
			return StockKey{}, false
		}
		key.LotID = &id
	}
	if serial := q.Get("serial_id"); serial != "" {
		id, err := strconv.ParseInt(serial, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid serial_id")
			return StockKey{}, false
		}
		key.SerialID = &id
	}
	return key, true
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	key, ok := h.stockKeyFromQuery(w, r)
	if !ok {
		return
	}
	rec, err := h.service.OnHand(r.Context(), key)
	if err != nil {
		h.respondError(w, "get on-hand", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"variant_id":   rec.VariantID,
		"location_id":  rec.LocationID,
		"lot_id":       rec.LotID,
		"serial_id":    rec.SerialID,
		"qty_on_hand":  rec.QtyOnHand.String(),
		"qty_reserved": rec.QtyReserved.String(),
	})
}

func (h *Handler) handleLayers(w http.ResponseWriter, r *http.Request) {
	key, ok := h.stockKeyFromQuery(w, r)
	if !ok {
		return
	}
	layers, err := h.service.Layers(r.Context(), key)
	if err != nil {
		h.respondError(w, "list layers", err)
		return
	}
	out := make([]map[string]any, 0, len(layers))
	for _, layer := range layers {
		out = append(out, map[string]any{
			"id":             layer.ID,
			"origin_line_id": layer.OriginLineID,
			"qty_remaining":  layer.QtyRemaining.String(),
			"unit_cost":      layer.UnitCost.String(),
			"method":         string(layer.Method),
			"lot_id":         layer.LotID,
			"serial_id":      layer.SerialID,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"layers": out})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	rows, err := h.service.LocationSummary(r.Context(), id)
	if err != nil {
		h.respondError(w, "get location summary", err)
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"variant_id":  row.VariantID,
			"qty_on_hand": row.QtyOnHand.String(),
			"value":       row.Value.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"location_id": id, "rows": out})
}

func (h *Handler) issueInput(w http.ResponseWriter, req issueRequest) (IssueInput, bool) {
	input := IssueInput{
		Number:     req.Number,
		LocationID: req.LocationID,
		Method:     req.Method,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Note:       req.Note,
	}
	var ok bool
	if input.Date, ok = h.parseDate(w, req.Date); !ok {
		return IssueInput{}, false
	}
	lines, ok := h.issueLines(w, req.Lines)
	if !ok {
		return IssueInput{}, false
	}
	input.Lines = lines
	return input, true
}

func (h *Handler) transferInput(w http.ResponseWriter, req transferRequest) (TransferInput, bool) {
	input := TransferInput{
		Number:         req.Number,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Method:         req.Method,
		Note:           req.Note,
	}
	var ok bool
	if input.Date, ok = h.parseDate(w, req.Date); !ok {
		return TransferInput{}, false
	}
	lines, ok := h.issueLines(w, req.Lines)
	if !ok {
		return TransferInput{}, false
	}
	input.Lines = lines
	return input, true
}

func (h *Handler) adjustmentInput(w http.ResponseWriter, req adjustmentRequest) (AdjustmentInput, bool) {
	input := AdjustmentInput{
		Number:     req.Number,
		LocationID: req.LocationID,
		Method:     req.Method,
		Reason:     req.Reason,
		Note:       req.Note,
	}
	var ok bool
	if input.Date, ok = h.parseDate(w, req.Date); !ok {
		return AdjustmentInput{}, false
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid qty")
			return AdjustmentInput{}, false
		}
		parsed := AdjustmentLine{VariantID: line.VariantID, UnitID: line.UnitID, Qty: qty, LotID: line.LotID, SerialID: line.SerialID}
		if line.UnitCost != nil {
			cost, err := decimal.NewFromString(*line.UnitCost)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
				return AdjustmentInput{}, false
			}
			parsed.UnitCost = &cost
		}
		input.Lines = append(input.Lines, parsed)
	}
	return input, true
}

func (h *Handler) issueLines(w http.ResponseWriter, reqLines []issueLineRequest) ([]IssueLine, bool) {
	lines := make([]IssueLine, 0, len(reqLines))
	for _, line := range reqLines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid qty")
			return nil, false
		}
		lines = append(lines, IssueLine{VariantID: line.VariantID, UnitID: line.UnitID, Qty: qty, LotID: line.LotID, SerialID: line.SerialID})
	}
	return lines, true
}

func (h *Handler) parseDate(w http.ResponseWriter, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidCost),
		errors.Is(err, ErrMissingUnitCost),
		errors.Is(err, ErrSameLocationTransfer),
		errors.Is(err, ErrTypeImmutable):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNoStock),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrCannotDelete),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, ErrVariantNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(action+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toPostResponse(result PostResult) postResponse {
	resp := postResponse{
		ID:            result.Transaction.ID,
		Number:        result.Transaction.Number,
		Type:          string(result.Transaction.Type),
		Date:          result.Transaction.Date.Format("2006-01-02"),
		Method:        string(result.Transaction.Method),
		TotalQuantity: result.TotalQuantity.String(),
		TotalValue:    result.TotalValue.String(),
	}
	for _, line := range result.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:        line.ID,
			VariantID: line.VariantID,
			UnitID:    line.UnitID,
			Location:  line.LocationID,
			Effect:    string(line.Effect),
			Qty:       line.Quantity.String(),
			UnitCost:  line.UnitCost.String(),
			LotID:     line.LotID,
			SerialID:  line.SerialID,
		})
	}
	return resp
}
