// Package audittrail exposes the recorded governance and access history of an
// entity to platform admins.
package audittrail

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/httputil"
	"alma/pkg/platform/middleware/admin"
	"alma/pkg/requestcontext"
)

// Reader lists audit events for an entity, oldest first.
type Reader interface {
	ListByEntity(ctx context.Context, entity string) ([]audit.Event, error)
}

type Handler struct {
	reader Reader
	logger *slog.Logger
}

func NewHandler(reader Reader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdmin(h.logger))
		r.Get("/audit/{entityRef}", h.HandleList)
	})
}

// EventResponse is one audit record.
type EventResponse struct {
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// TrailResponse is the body of GET /audit/{entityRef}.
type TrailResponse struct {
	Entity string          `json:"entity"`
	Events []EventResponse `json:"events"`
	Count  int             `json:"count"`
}

// HandleList returns the trail for one entity, optionally narrowed with
// ?category=compliance|security|operations.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ref, err := domain.ParseEntityRef(chi.URLParam(r, "entityRef"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	category := audit.EventCategory(r.URL.Query().Get("category"))
	switch category {
	case "", audit.CategoryCompliance, audit.CategorySecurity, audit.CategoryOperations:
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "category must be compliance, security or operations"))
		return
	}

	events, err := h.reader.ListByEntity(ctx, ref.String())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read audit trail",
			"request_id", requestID,
			"entity", ref.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail"))
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		if category != "" && e.Category != category {
			continue
		}
		ev := EventResponse{
			Category:  string(e.Category),
			Action:    e.Action,
			Timestamp: e.Timestamp,
			Decision:  e.Decision,
			Reason:    e.Reason,
			RequestID: e.RequestID,
		}
		if !e.ActorID.IsNil() {
			ev.ActorID = e.ActorID.String()
		}
		out = append(out, ev)
	}
	httputil.WriteJSON(w, http.StatusOK, TrailResponse{Entity: ref.String(), Events: out, Count: len(out)})
}
