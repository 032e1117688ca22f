package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/httpx"
)

// Handler wires read-only directory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the directory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/companies", h.handleListCompanies)
	r.Get("/companies/{id}", h.handleGetCompany)
	r.Get("/companies/{id}/franchises", h.handleListFranchises)
	r.Get("/franchises/{id}", h.handleGetFranchise)
	r.Get("/variants", h.handleListVariants)
	r.Get("/variants/{id}", h.handleGetVariant)
}

func (h *Handler) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.Companies(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (h *Handler) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	company, err := h.service.Company(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, company)
}

func (h *Handler) handleListFranchises(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	franchises, err := h.service.Franchises(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"franchises": franchises})
}

func (h *Handler) handleGetFranchise(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	franchise, err := h.service.Franchise(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, franchise)
}

func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := VariantFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("include_inactive") == "",
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	variants, err := h.service.Variants(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variants": variants})
}

func (h *Handler) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	variant, err := h.service.Variant(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, variant)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCompanyNotFound),
		errors.Is(err, ErrFranchiseNotFound),
		errors.Is(err, ErrVariantNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("directory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
