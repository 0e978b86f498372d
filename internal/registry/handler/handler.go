package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alma/internal/registry/models"
	"alma/internal/registry/service"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/httputil"
	"alma/pkg/requestcontext"
)

// Service defines the entity store operations the handler exposes.
type Service interface {
	Create(ctx context.Context, actor domain.Actor, in service.CreateInput) (models.Entity, error)
	Update(ctx context.Context, actor domain.Actor, ref domain.EntityRef, mutate func(models.Entity) error) (models.Entity, error)
	Get(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.Entity, error)
	List(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filter models.Filter) ([]models.Entity, error)
	Link(ctx context.Context, actor domain.Actor, a, b domain.EntityRef) (models.Link, error)
	Unlink(ctx context.Context, actor domain.Actor, a, b domain.EntityRef) error
	ListLinks(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]models.Link, error)
}

// Handler wires the governed record endpoints to the registry service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type creatable interface {
	httputil.Validatable
	Input() service.CreateInput
}

type patchable interface {
	Mutate() func(models.Entity) error
}

// Register mounts the record, list and link endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	registerKind[CreateInterventionRequest, PatchInterventionRequest](h, r, "/interventions", domain.KindIntervention)
	registerKind[CreateContextRequest, PatchContextRequest](h, r, "/contexts", domain.KindCommunityContext)
	registerKind[CreateEvidenceRequest, PatchEvidenceRequest](h, r, "/evidence", domain.KindEvidence)
	registerKind[CreateOutcomeRequest, PatchOutcomeRequest](h, r, "/outcomes", domain.KindOutcome)

	r.Post("/links", h.HandleLink)
	r.Delete("/links", h.HandleUnlink)
	r.Get("/links", h.HandleListLinks)
}

func registerKind[C any, P any](h *Handler, r chi.Router, prefix string, kind domain.EntityKind) {
	r.Post(prefix, func(w http.ResponseWriter, req *http.Request) {
		handleCreate[C](h, w, req)
	})
	r.Get(prefix, func(w http.ResponseWriter, req *http.Request) {
		h.handleList(w, req, kind)
	})
	r.Get(prefix+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		h.handleGet(w, req, kind)
	})
	r.Patch(prefix+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		handlePatch[P](h, w, req, kind)
	})
}

func handleCreate[C any](h *Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)
	if !actor.IsAuthenticated() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[C](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, ok := any(req).(creatable)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "unsupported request type"))
		return
	}

	e, err := h.service.Create(ctx, actor, c.Input())
	if err != nil {
		h.logFailure(ctx, "create failed", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "record created",
		"request_id", requestID,
		"entity", e.Ref().String(),
		"actor_id", actor.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func handlePatch[P any](h *Handler, w http.ResponseWriter, r *http.Request, kind domain.EntityKind) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)
	if !actor.IsAuthenticated() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	ref, err := parseRef(kind, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[P](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	p, ok := any(req).(patchable)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "unsupported request type"))
		return
	}

	e, err := h.service.Update(ctx, actor, ref, p.Mutate())
	if err != nil {
		h.logFailure(ctx, "update failed", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, kind domain.EntityKind) {
	ctx := r.Context()
	ref, err := parseRef(kind, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.service.Get(ctx, requestcontext.Actor(ctx), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, kind domain.EntityKind) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items, err := h.service.List(ctx, requestcontext.Actor(ctx), kind, filter)
	if err != nil {
		h.logFailure(ctx, "list failed", requestcontext.RequestID(ctx), requestcontext.Actor(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(items))
}

// HandleLink handles POST /links.
func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	link, err := h.service.Link(ctx, actor, req.from, req.to)
	if err != nil {
		h.logFailure(ctx, "link failed", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, link)
}

// HandleUnlink handles DELETE /links.
func (h *Handler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.Unlink(ctx, actor, req.from, req.to); err != nil {
		h.logFailure(ctx, "unlink failed", requestID, actor, err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListLinks handles GET /links?entity=kind:id.
func (h *Handler) HandleListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := domain.ParseEntityRef(r.URL.Query().Get("entity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	links, err := h.service.ListLinks(ctx, requestcontext.Actor(ctx), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLinksResponse(links))
}

// logFailure logs expected client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg, requestID string, actor domain.Actor, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == dErrors.CodeTimeout {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "actor_id", actor.ID, "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "actor_id", actor.ID, "error", err)
}
