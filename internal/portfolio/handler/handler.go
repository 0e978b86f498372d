package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alma/internal/portfolio"
	"alma/pkg/domain"
	"alma/pkg/platform/httputil"
	"alma/pkg/requestcontext"
)

// Service defines the portfolio operations exposed over HTTP.
type Service interface {
	Signals(ctx context.Context, actor domain.Actor, id domain.InterventionID) (portfolio.Signals, error)
	Construct(ctx context.Context, actor domain.Actor, ids []domain.InterventionID, constraints portfolio.Constraints) (portfolio.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/portfolio/signals/{interventionId}", h.HandleSignals)
	r.Post("/portfolio/construct", h.HandleConstruct)
}

// ConstraintsRequest mirrors portfolio.Constraints with schema validation.
type ConstraintsRequest struct {
	MaxSize                        int            `json:"max_size" validate:"gte=0"`
	MaxUntestedProportion          *float64       `json:"max_untested_proportion" validate:"omitempty,gte=0,lte=1"`
	MinCommunityEndorsedProportion float64        `json:"min_community_endorsed_proportion" validate:"gte=0,lte=1"`
	TargetGeographies              map[string]int `json:"target_geographies" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	TargetCohorts                  map[string]int `json:"target_cohorts" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	TargetTypes                    map[string]int `json:"target_types" validate:"omitempty,dive,keys,oneof=program practice service policy approach,endkeys,gte=0"`
}

func (c ConstraintsRequest) constraints() portfolio.Constraints {
	return portfolio.Constraints{
		MaxSize:               c.MaxSize,
		MaxUntestedProportion: c.MaxUntestedProportion,
		MinEndorsedProportion: c.MinCommunityEndorsedProportion,
		TargetGeographies:     c.TargetGeographies,
		TargetCohorts:         c.TargetCohorts,
		TargetTypes:           c.TargetTypes,
	}
}

// ConstructRequest is the body of POST /portfolio/construct.
type ConstructRequest struct {
	CandidateIDs []string           `json:"candidate_ids" validate:"required,min=1,max=500,dive,required"`
	Constraints  ConstraintsRequest `json:"constraints"`

	ids []domain.InterventionID
}

func (r *ConstructRequest) Validate() error {
	r.ids = make([]domain.InterventionID, 0, len(r.CandidateIDs))
	for _, raw := range r.CandidateIDs {
		id, err := domain.ParseInterventionID(raw)
		if err != nil {
			return err
		}
		r.ids = append(r.ids, id)
	}
	return r.Constraints.constraints().Validate()
}

func (h *Handler) HandleSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseInterventionID(chi.URLParam(r, "interventionId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	signals, err := h.service.Signals(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.logger.DebugContext(ctx, "signals unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"intervention_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, signals)
}

func (h *Handler) HandleConstruct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ConstructRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Construct(ctx, requestcontext.Actor(ctx), req.ids, req.Constraints.constraints())
	if err != nil {
		h.logger.WarnContext(ctx, "portfolio construction failed",
			"request_id", requestID,
			"candidates", len(req.ids),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
