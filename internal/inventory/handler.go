package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/cache"
	"github.com/tradewind-erp/tradewind-erp/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// Handler wires JSON endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	summaries *cache.Store
	validator *validator.Validate
	flight    singleflight.Group
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, summaries *cache.Store) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		summaries: summaries,
		validator: validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/records", h.handleCreateRecord)
	r.Get("/records", h.handleListRecords)
	r.Get("/records/{id}", h.handleGetRecord)
	r.Post("/records/{id}/adjust", h.handleAdjust)
	r.Post("/records/{id}/reserve", h.handleReserve)
	r.Post("/records/{id}/release", h.handleRelease)
	r.Post("/records/{id}/deactivate", h.handleDeactivate)
	r.Get("/records/{id}/movements", h.handleMovements)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/summary", h.handleSummary)
}

type recordResponse struct {
	ID             int64  `json:"id"`
	LocationType   string `json:"location_type"`
	LocationID     int64  `json:"location_id"`
	VariantID      int64  `json:"variant_id"`
	Stock          int64  `json:"stock"`
	ReservedStock  int64  `json:"reserved_stock"`
	AvailableStock int64  `json:"available_stock"`
	ReorderPoint   int64  `json:"reorder_point,omitempty"`
	IsActive       bool   `json:"is_active"`
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		ID:             rec.ID,
		LocationType:   string(rec.LocationType),
		LocationID:     rec.LocationID,
		VariantID:      rec.VariantID,
		Stock:          rec.Stock,
		ReservedStock:  rec.Reserved,
		AvailableStock: rec.Available(),
		ReorderPoint:   rec.ReorderPoint,
		IsActive:       rec.IsActive,
	}
}

type movementResponse struct {
	ID        int64     `json:"id"`
	Delta     int64     `json:"delta"`
	Kind      string    `json:"kind"`
	RefType   string    `json:"ref_type,omitempty"`
	RefID     string    `json:"ref_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type createRecordRequest struct {
	LocationType string `json:"location_type" validate:"required,oneof=COMPANY FRANCHISE"`
	LocationID   int64  `json:"location_id" validate:"required,gt=0"`
	VariantID    int64  `json:"variant_id" validate:"required,gt=0"`
	ReorderPoint int64  `json:"reorder_point" validate:"gte=0"`
}

type adjustRequest struct {
	Delta   int64  `json:"delta" validate:"required"`
	Notes   string `json:"notes"`
	RefType string `json:"ref_type"`
	RefID   string `json:"ref_id"`
}

type quantityRequest struct {
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
	Notes    string `json:"notes"`
	RefType  string `json:"ref_type"`
	RefID    string `json:"ref_id"`
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	rec, err := h.service.CreateRecord(r.Context(), CreateRecordInput{
		LocationType: LocationType(req.LocationType),
		LocationID:   req.LocationID,
		VariantID:    req.VariantID,
		ReorderPoint: req.ReorderPoint,
		ActorID:      scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateSummary(r, rec)
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	rec, err := h.service.Record(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	records, page, err := h.service.Records(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": items, "pagination": page})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	rec, err := h.service.AdjustStock(r.Context(), AdjustInput{
		InventoryID: id,
		Delta:       req.Delta,
		Notes:       req.Notes,
		RefType:     req.RefType,
		RefID:       req.RefID,
		ActorID:     scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if rec.Stock < 0 {
		h.logger.Warn("stock adjusted below zero",
			slog.Int64("inventory_id", rec.ID),
			slog.Int64("stock", rec.Stock))
	}
	h.invalidateSummary(r, rec)
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	h.handleQuantityOp(w, r, func(r *http.Request, id int64, req quantityRequest) (Record, error) {
		scope := shared.ScopeFromContext(r.Context())
		return h.service.Reserve(r.Context(), ReserveInput{
			InventoryID: id,
			Quantity:    req.Quantity,
			RefType:     req.RefType,
			RefID:       req.RefID,
			Notes:       req.Notes,
			ActorID:     scope.ActorID,
		})
	})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.handleQuantityOp(w, r, func(r *http.Request, id int64, req quantityRequest) (Record, error) {
		scope := shared.ScopeFromContext(r.Context())
		return h.service.Release(r.Context(), ReleaseInput{
			InventoryID: id,
			Quantity:    req.Quantity,
			Notes:       req.Notes,
			ActorID:     scope.ActorID,
		})
	})
}

func (h *Handler) handleQuantityOp(w http.ResponseWriter, r *http.Request, op func(*http.Request, int64, quantityRequest) (Record, error)) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req quantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := op(r, id, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateSummary(r, rec)
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), id, scope.ActorID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{InventoryID: id}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	for _, kind := range q["kind"] {
		filter.Kinds = append(filter.Kinds, MovementKind(kind))
	}
	movements, page, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]movementResponse, 0, len(movements))
	for _, mv := range movements {
		items = append(items, movementResponse{
			ID:        mv.ID,
			Delta:     mv.Delta,
			Kind:      string(mv.Kind),
			RefType:   mv.RefType,
			RefID:     mv.RefID,
			Notes:     mv.Notes,
			CreatedAt: mv.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": items, "pagination": page})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	locType := LocationType(r.URL.Query().Get("location_type"))
	if locType != "" && !locType.IsValid() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "unknown location_type")
		return
	}
	records, err := h.service.BelowReorderPoint(r.Context(), locType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": items})
}

// locationSummary aggregates stock figures for one location. Served from a
// short-TTL cache with singleflight so bursts of dashboard polls hit the
// database once.
type locationSummary struct {
	LocationType   string `json:"location_type"`
	LocationID     int64  `json:"location_id"`
	VariantCount   int    `json:"variant_count"`
	TotalStock     int64  `json:"total_stock"`
	TotalReserved  int64  `json:"total_reserved"`
	TotalAvailable int64  `json:"total_available"`
	LowStockCount  int    `json:"low_stock_count"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	key := summaryKey(filter.LocationType, filter.LocationID)

	var cached locationSummary
	if err := h.summaries.Get(r.Context(), key, &cached); err == nil {
		httpx.JSON(w, http.StatusOK, cached)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		h.logger.Warn("summary cache read", slog.Any("error", err))
	}

	result, err, _ := h.flight.Do(key, func() (any, error) {
		summary, err := h.buildSummary(r, filter)
		if err != nil {
			return nil, err
		}
		if err := h.summaries.Set(r.Context(), key, summary); err != nil {
			h.logger.Warn("summary cache write", slog.Any("error", err))
		}
		return summary, nil
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) buildSummary(r *http.Request, filter RecordFilter) (locationSummary, error) {
	filter.ActiveOnly = true
	filter.Page = 1
	filter.PerPage = 10000
	records, _, err := h.service.Records(r.Context(), filter)
	if err != nil {
		return locationSummary{}, err
	}
	summary := locationSummary{LocationType: string(filter.LocationType), LocationID: filter.LocationID}
	for _, rec := range records {
		summary.VariantCount++
		summary.TotalStock += rec.Stock
		summary.TotalReserved += rec.Reserved
		summary.TotalAvailable += rec.Available()
		if rec.BelowReorderPoint() {
			summary.LowStockCount++
		}
	}
	return summary, nil
}

func (h *Handler) invalidateSummary(r *http.Request, rec Record) {
	if err := h.summaries.Invalidate(r.Context(), summaryKey(rec.LocationType, rec.LocationID)); err != nil {
		h.logger.Warn("summary cache invalidate", slog.Any("error", err))
	}
}

func summaryKey(locType LocationType, locID int64) string {
	return fmt.Sprintf("inventory:summary:%s:%d", locType, locID)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var shortage *ShortageError
	switch {
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRecordExists):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.As(err, &shortage):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Available Stock", err.Error(), map[string]any{
			"inventory_id": shortage.InventoryID,
			"variant_id":   shortage.VariantID,
			"requested":    shortage.Requested,
			"available":    shortage.Available,
		})
	case errors.Is(err, ErrInsufficientAvailableStock),
		errors.Is(err, ErrInsufficientReservedStock),
		errors.Is(err, ErrNegativeStock),
		errors.Is(err, ErrStockBelowReserved):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidAdjustment),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrRecordInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", raw)
	}
	return id, nil
}

func recordFilterFromQuery(r *http.Request) (RecordFilter, error) {
	q := r.URL.Query()
	locType := LocationType(q.Get("location_type"))
	if !locType.IsValid() {
		return RecordFilter{}, fmt.Errorf("unknown location_type %q", locType)
	}
	locID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil || locID <= 0 {
		return RecordFilter{}, fmt.Errorf("invalid location_id %q", q.Get("location_id"))
	}
	filter := RecordFilter{LocationType: locType, LocationID: locID}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	filter.ActiveOnly = q.Get("include_inactive") == ""
	return filter, nil
}
