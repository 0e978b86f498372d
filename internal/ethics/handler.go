package ethics

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/httputil"
	"alma/pkg/requestcontext"
)

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type Handler struct {
	logger  *slog.Logger
	auditor SecurityAuditor
}

type HandlerOption func(*Handler)

// WithAuditor records flagged checks on the audit trail.
func WithAuditor(a SecurityAuditor) HandlerOption {
	return func(h *Handler) { h.auditor = a }
}

func NewHandler(logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/ethics/check", h.HandleCheck)
}

// CheckRequest is the body of POST /ethics/check.
type CheckRequest struct {
	ProposedAction string `json:"proposed_action" validate:"required,max=2000"`
}

func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res := Check(req.ProposedAction)
	if !res.Allowed {
		boundaries := make([]string, 0, len(res.Violations))
		for _, v := range res.Violations {
			boundaries = append(boundaries, v.Boundary)
		}
		h.logger.InfoContext(ctx, "proposed action crosses boundaries",
			"request_id", requestID,
			"actor_id", requestcontext.Actor(ctx).ID,
			"boundaries", boundaries,
		)
		if h.auditor != nil {
			h.auditor.Emit(ctx, audit.SecurityEvent{
				ActorID:   requestcontext.Actor(ctx).ID,
				Entity:    "ethics",
				Action:    audit.EventEthicsCheckFlagged,
				Reason:    strings.Join(boundaries, ","),
				IP:        requestcontext.ClientIP(ctx),
				RequestID: requestID,
				Severity:  audit.SeverityInfo,
			})
		}
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
