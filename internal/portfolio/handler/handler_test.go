package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"alma/internal/portfolio"
	"alma/internal/portfolio/handler/mocks"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/portfolio-mocks.go -package=mocks Service

func newRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	svc := mocks.NewMockService(gomock.NewController(t))
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, svc
}


func TestHandleSignals(t *testing.T) {
	id := domain.InterventionID(uuid.New())

	t.Run("anonymous readers get signals", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Signals(gomock.Any(), domain.Anonymous(), id).
			Return(portfolio.Signals{InterventionID: id, PortfolioScore: 0.77, CommunityAuthority: 0.8}, nil)

		w := testutil.ServeAs(t, r, http.MethodGet, "/portfolio/signals/"+id.String(), nil, domain.Anonymous())
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, id.String(), body["intervention_id"])
		assert.InDelta(t, 0.77, body["portfolio_score"], 1e-9)
	})

	t.Run("hidden interventions are not found", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Signals(gomock.Any(), gomock.Any(), id).
			Return(portfolio.Signals{}, dErrors.New(dErrors.CodeNotFound, "intervention not found"))

		w := testutil.ServeAs(t, r, http.MethodGet, "/portfolio/signals/"+id.String(), nil, domain.Anonymous())
		testutil.AssertStatusAndError(t, w, http.StatusNotFound, "not_found")
	})

	t.Run("malformed id", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodGet, "/portfolio/signals/not-a-uuid", nil, domain.Anonymous())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleConstruct(t *testing.T) {
	actor := domain.Actor{ID: domain.ActorID(uuid.New())}
	a := domain.InterventionID(uuid.New())
	b := domain.InterventionID(uuid.New())

	t.Run("passes parsed ids and constraints", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Construct(gomock.Any(), actor, []domain.InterventionID{a, b}, gomock.Any()).
			DoAndReturn(func(_ any, _ domain.Actor, _ []domain.InterventionID, c portfolio.Constraints) (portfolio.Result, error) {
				assert.Equal(t, 3, c.MaxSize)
				require.NotNil(t, c.MaxUntestedProportion)
				assert.InDelta(t, 0.3, *c.MaxUntestedProportion, 1e-9)
				assert.InDelta(t, 0.5, c.MinEndorsedProportion, 1e-9)
				assert.Equal(t, map[string]int{"NT": 2}, c.TargetGeographies)
				return portfolio.Result{
					Selected: []portfolio.Candidate{{Signals: portfolio.Signals{InterventionID: a}}},
					Gaps:     []portfolio.Gap{{Dimension: portfolio.DimensionGeography, Value: "NT", Current: 1, Target: 2, NearMisses: []domain.InterventionID{b}}},
				}, nil
			})

		w := testutil.ServeAs(t, r, http.MethodPost, "/portfolio/construct", map[string]any{
			"candidate_ids": []string{a.String(), b.String()},
			"constraints": map[string]any{
				"max_size":                          3,
				"max_untested_proportion":           0.3,
				"min_community_endorsed_proportion": 0.5,
				"target_geographies":                map[string]int{"NT": 2},
			},
		}, actor)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Selected []map[string]any `json:"selected"`
			Gaps     []map[string]any `json:"gaps"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Gaps, 1)
		assert.Equal(t, []any{b.String()}, body.Gaps[0]["nearest_miss_ids"])
	})

	t.Run("rejects out of range proportions before the service", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodPost, "/portfolio/construct", map[string]any{
			"candidate_ids": []string{a.String()},
			"constraints":   map[string]any{"max_untested_proportion": 1.5},
		}, actor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown target types", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodPost, "/portfolio/construct", map[string]any{
			"candidate_ids": []string{a.String()},
			"constraints":   map[string]any{"target_types": map[string]int{"festival": 1}},
		}, actor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires candidates", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodPost, "/portfolio/construct", map[string]any{"candidate_ids": []string{}}, actor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed candidate ids", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodPost, "/portfolio/construct", map[string]any{"candidate_ids": []string{"nope"}}, actor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
