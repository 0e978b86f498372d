package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"alma/internal/usage/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/httputil"
	"alma/pkg/platform/middleware/admin"
	"alma/pkg/requestcontext"
)

// Service defines the usage log operations exposed over HTTP.
type Service interface {
	Record(ctx context.Context, actor domain.Actor, ref domain.EntityRef, action domain.ConsentUse, revenue *int64) (models.Entry, error)
	List(ctx context.Context, actor domain.Actor, q models.Query) ([]models.Entry, error)
	Attribution(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.Attribution, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the usage routes. Listing and attribution are admin only.
func (h *Handler) Register(r chi.Router) {
	r.Post("/usage/log", h.HandleRecord)
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdmin(h.logger))
		r.Get("/usage/log", h.HandleList)
		r.Get("/usage/attribution/{entityRef}", h.HandleAttribution)
	})
}

// RecordRequest is the body of POST /usage/log.
type RecordRequest struct {
	Entity           string `json:"entity" validate:"required"`
	Action           string `json:"action" validate:"required,oneof=view reuse republish commercial_license"`
	RevenueGenerated *int64 `json:"revenue_generated" validate:"omitempty,gte=0"`

	ref domain.EntityRef
}

func (r *RecordRequest) Validate() error {
	ref, err := domain.ParseEntityRef(r.Entity)
	if err != nil {
		return err
	}
	r.ref = ref
	return nil
}

// EntriesResponse wraps a usage listing.
type EntriesResponse struct {
	Entries []models.Entry `json:"entries"`
	Count   int            `json:"count"`
}

func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	entry, err := h.service.Record(ctx, actor, req.ref, domain.ConsentUse(req.Action), req.RevenueGenerated)
	if err != nil {
		h.logger.WarnContext(ctx, "usage record rejected",
			"request_id", requestID,
			"entity", req.Entity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.List(ctx, requestcontext.Actor(ctx), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, EntriesResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) HandleAttribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := domain.ParseEntityRef(chi.URLParam(r, "entityRef"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.Attribution(ctx, requestcontext.Actor(ctx), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func parseQuery(r *http.Request) (models.Query, error) {
	var q models.Query
	values := r.URL.Query()
	if raw := values.Get("entity"); raw != "" {
		ref, err := domain.ParseEntityRef(raw)
		if err != nil {
			return q, err
		}
		q.Entity = ref
	}
	if raw := values.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC3339")
		}
		q.Since = &since
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
