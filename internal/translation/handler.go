package translation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alma/pkg/platform/httputil"
	"alma/pkg/requestcontext"
)

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/translate", h.HandleTranslate)
}

// TranslateRequest is the body of POST /translate.
type TranslateRequest struct {
	From    Language `json:"from_language" validate:"required,oneof=community funder policy short_term long_term"`
	To      Language `json:"to_language" validate:"required,oneof=community funder policy short_term long_term"`
	Content string   `json:"content" validate:"required,max=10000"`
}

func (h *Handler) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TranslateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := Translate(req.From, req.To, req.Content)
	if err != nil {
		h.logger.WarnContext(ctx, "unsupported translation direction",
			"request_id", requestID,
			"from", req.From,
			"to", req.To,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.DebugContext(ctx, "content translated",
		"request_id", requestID,
		"from", req.From,
		"to", req.To,
		"applied", len(res.Applied),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}
