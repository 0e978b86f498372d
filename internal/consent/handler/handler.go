package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alma/internal/consent/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/httputil"
	"alma/pkg/requestcontext"
)

// Service defines the consent ledger operations.
type Service interface {
	Grant(ctx context.Context, actor domain.Actor, req models.GrantRequest) (models.LedgerEntry, error)
	Revoke(ctx context.Context, actor domain.Actor, ref domain.EntityRef, reason string) (models.LedgerEntry, error)
	Current(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.LedgerEntry, error)
	History(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]models.LedgerEntry, error)
}

// Handler handles consent ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

// New creates a new consent Handler.
func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, consent: consent}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consent/grant", h.HandleGrant)
	r.Post("/consent/revoke", h.HandleRevoke)
	r.Get("/consent/current/{entityRef}", h.HandleCurrent)
	r.Get("/consent/history/{entityRef}", h.HandleHistory)
}

// HandleGrant appends an elevated consent entry.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)
	if !actor.IsAuthenticated() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[GrantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.consent.Grant(ctx, actor, req.parsed)
	if err != nil {
		h.logFailure(ctx, "failed to grant consent", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

// HandleRevoke appends a strictly_private entry.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)
	if !actor.IsAuthenticated() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.consent.Revoke(ctx, actor, req.ref, req.Reason)
	if err != nil {
		h.logFailure(ctx, "failed to revoke consent", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := domain.ParseEntityRef(chi.URLParam(r, "entityRef"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.consent.Current(ctx, requestcontext.Actor(ctx), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := domain.ParseEntityRef(chi.URLParam(r, "entityRef"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.consent.History(ctx, requestcontext.Actor(ctx), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Entity: ref, Entries: entries})
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	default:
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
	}
}
