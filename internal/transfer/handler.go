package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// Handler wires JSON endpoints for warehouse transfer bills.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service, coordinator *Coordinator) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		coordinator: coordinator,
		validator:   validator.New(),
	}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/exit-bills", h.handleCreateExit)
	r.Put("/exit-bills/{id}/items", h.handleUpdateItems)
	r.Post("/exit-bills/{id}/complete", h.handleCompleteExit)
	r.Post("/entry-bills/{id}/verify", h.handleVerifyEntry)
	r.Post("/entry-bills/{id}/complete", h.handleCompleteEntry)
	r.Get("/entry-bills/{id}/discrepancies", h.handleDiscrepancies)
	r.Post("/bills/{id}/cancel", h.handleCancel)
	r.Get("/bills/{id}", h.handleGetBill)
	r.Get("/bills", h.handleListBills)
}

type billResponse struct {
	ID           int64              `json:"id"`
	Number       string             `json:"number"`
	Type         string             `json:"type"`
	Status       string             `json:"status"`
	CompanyID    int64              `json:"company_id"`
	FranchiseID  int64              `json:"franchise_id"`
	SourceBillID int64              `json:"source_bill_id,omitempty"`
	Notes        string             `json:"notes,omitempty"`
	TotalAmount  float64            `json:"total_amount"`
	Verification string             `json:"verification_status,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	VerifiedAt   *time.Time         `json:"verified_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	Items        []billItemResponse `json:"items,omitempty"`
}

type billItemResponse struct {
	ID               int64   `json:"id"`
	VariantID        int64   `json:"variant_id"`
	Quantity         int64   `json:"quantity"`
	Received         *int64  `json:"received,omitempty"`
	UnitPrice        float64 `json:"unit_price"`
	LineTotal        float64 `json:"line_total"`
	Discrepancy      string  `json:"discrepancy,omitempty"`
	DiscrepancyNotes string  `json:"discrepancy_notes,omitempty"`
}

func toBillResponse(bill Bill, items []BillItem) billResponse {
	resp := billResponse{
		ID:           bill.ID,
		Number:       bill.Number,
		Type:         string(bill.Type),
		Status:       string(bill.Status),
		CompanyID:    bill.CompanyID,
		FranchiseID:  bill.FranchiseID,
		SourceBillID: bill.SourceBillID,
		Notes:        bill.Notes,
		TotalAmount:  bill.TotalAmount,
		Verification: string(bill.Verification),
		CreatedAt:    bill.CreatedAt,
	}
	if !bill.VerifiedAt.IsZero() {
		at := bill.VerifiedAt
		resp.VerifiedAt = &at
	}
	if !bill.CompletedAt.IsZero() {
		at := bill.CompletedAt
		resp.CompletedAt = &at
	}
	for _, item := range items {
		resp.Items = append(resp.Items, billItemResponse{
			ID:               item.ID,
			VariantID:        item.VariantID,
			Quantity:         item.Quantity,
			Received:         item.Received,
			UnitPrice:        item.UnitPrice,
			LineTotal:        item.LineTotal(),
			Discrepancy:      string(item.Discrepancy),
			DiscrepancyNotes: item.DiscrepancyNotes,
		})
	}
	return resp
}

type itemRequest struct {
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createExitRequest struct {
	CompanyID   int64         `json:"company_id" validate:"required,gt=0"`
	FranchiseID int64         `json:"franchise_id" validate:"required,gt=0"`
	Notes       string        `json:"notes"`
	Items       []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateItemsRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type receiptRequest struct {
	VariantID int64  `json:"variant_id" validate:"required,gt=0"`
	Received  int64  `json:"received" validate:"gte=0"`
	Notes     string `json:"notes"`
}

type verifyRequest struct {
	Receipts []receiptRequest `json:"receipts" validate:"dive"`
	Notes    string           `json:"notes"`
}

func (h *Handler) handleCreateExit(w http.ResponseWriter, r *http.Request) {
	var req createExitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	bill, items, err := h.service.CreateExitBill(r.Context(), CreateExitInput{
		CompanyID:   req.CompanyID,
		FranchiseID: req.FranchiseID,
		Notes:       req.Notes,
		Items:       toItemInputs(req.Items),
		ActorID:     scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBillResponse(bill, items))
}

func (h *Handler) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req updateItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	bill, items, err := h.service.UpdateExitBillItems(r.Context(), id, toItemInputs(req.Items), scope.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill, items))
}

func (h *Handler) handleCompleteExit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	exit, entry, err := h.coordinator.CompleteExitBill(r.Context(), id, scope.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"exit_bill":  toBillResponse(exit, nil),
		"entry_bill": toBillResponse(entry, nil),
	})
}

func (h *Handler) handleVerifyEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	receipts := make([]ReceiptInput, 0, len(req.Receipts))
	for _, receipt := range req.Receipts {
		receipts = append(receipts, ReceiptInput{VariantID: receipt.VariantID, Received: receipt.Received, Notes: receipt.Notes})
	}
	bill, items, err := h.service.VerifyEntryBill(r.Context(), VerifyInput{
		BillID:   id,
		Receipts: receipts,
		Notes:    req.Notes,
		ActorID:  scope.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill, items))
}

func (h *Handler) handleCompleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	bill, err := h.coordinator.CompleteEntryBill(r.Context(), id, scope.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill, nil))
}

func (h *Handler) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	summary, err := h.service.SummarizeDiscrepancies(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"clean":          summary.Clean(),
		"missing_count":  summary.MissingCount,
		"mismatch_count": summary.MismatchCount,
		"extra_count":    summary.ExtraCount,
		"missing":        toItemResponses(summary.Missing),
		"mismatched":     toItemResponses(summary.Mismatched),
		"extra":          toItemResponses(summary.Extra),
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	bill, err := h.service.CancelBill(r.Context(), id, scope.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill, nil))
}

func (h *Handler) handleGetBill(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	bill, items, err := h.service.Bill(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill, items))
}

func (h *Handler) handleListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := BillFilter{
		Type:   BillType(q.Get("type")),
		Status: BillStatus(q.Get("status")),
	}
	filter.CompanyID, _ = strconv.ParseInt(q.Get("company_id"), 10, 64)
	filter.FranchiseID, _ = strconv.ParseInt(q.Get("franchise_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	bills, page, err := h.service.Bills(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]billResponse, 0, len(bills))
	for _, bill := range bills {
		items = append(items, toBillResponse(bill, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": items, "pagination": page})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.Is(err, ErrBillNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &insufficient):
		issues := make([]map[string]any, 0, len(insufficient.Issues))
		for _, issue := range insufficient.Issues {
			issues = append(issues, map[string]any{
				"variant_id": issue.VariantID,
				"requested":  issue.Requested,
				"available":  issue.Available,
			})
		}
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
			"bill_id": insufficient.BillID,
			"issues":  issues,
		})
	case errors.Is(err, ErrAlreadyCompleted):
		httpx.Problem(w, http.StatusConflict, "Already Completed", err.Error())
	case errors.Is(err, ErrInvalidStateTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("transfer request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toItemInputs(items []itemRequest) []ItemInput {
	inputs := make([]ItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, ItemInput{VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return inputs
}

func toItemResponses(items []BillItem) []billItemResponse {
	resp := make([]billItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, billItemResponse{
			ID:               item.ID,
			VariantID:        item.VariantID,
			Quantity:         item.Quantity,
			Received:         item.Received,
			UnitPrice:        item.UnitPrice,
			LineTotal:        item.LineTotal(),
			Discrepancy:      string(item.Discrepancy),
			DiscrepancyNotes: item.DiscrepancyNotes,
		})
	}
	return resp
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid bill id %q", raw)
	}
	return id, nil
}
