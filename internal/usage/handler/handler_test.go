package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"alma/internal/usage/handler/mocks"
	"alma/internal/usage/models"
	"alma/pkg/domain"
	"alma/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/usage-mocks.go -package=mocks Service

func newRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	svc := mocks.NewMockService(gomock.NewController(t))
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, svc
}


func TestHandleRecord(t *testing.T) {
	actor := domain.Actor{ID: domain.ActorID(uuid.New())}
	ref := domain.InterventionID(uuid.New()).Ref()

	t.Run("records monetized use", func(t *testing.T) {
		r, svc := newRouter(t)
		revenue := int64(900)
		svc.EXPECT().Record(gomock.Any(), actor, ref, domain.UseRepublish, &revenue).
			Return(models.Entry{Entity: ref, Action: domain.UseRepublish, RevenueGenerated: &revenue}, nil)

		w := testutil.ServeAs(t, r, http.MethodPost, "/usage/log", map[string]any{
			"entity":            ref.String(),
			"action":            "republish",
			"revenue_generated": 900,
		}, actor)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("negative revenue fails validation", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodPost, "/usage/log", map[string]any{
			"entity":            ref.String(),
			"action":            "view",
			"revenue_generated": -5,
		}, actor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	ref := domain.OutcomeID(uuid.New()).Ref()
	adminActor := domain.Actor{ID: domain.ActorID(uuid.New()), Admin: true}

	t.Run("non-admin is forbidden before the service", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodGet, "/usage/log?entity="+ref.String(), nil, domain.Actor{ID: domain.ActorID(uuid.New())})
		testutil.AssertStatusAndError(t, w, http.StatusForbidden, "access_denied")
	})

	t.Run("admin lists with parsed query", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().List(gomock.Any(), adminActor, gomock.Any()).
			DoAndReturn(func(_ any, _ domain.Actor, q models.Query) ([]models.Entry, error) {
				assert.Equal(t, ref, q.Entity)
				assert.Equal(t, 20, q.Limit)
				require.NotNil(t, q.Since)
				return nil, nil
			})
		w := testutil.ServeAs(t, r, http.MethodGet, "/usage/log?entity="+ref.String()+"&limit=20&since=2026-01-01T00:00:00Z", nil, adminActor)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"entries":[],"count":0}`, w.Body.String())
	})

	t.Run("bad since is rejected", func(t *testing.T) {
		r, _ := newRouter(t)
		w := testutil.ServeAs(t, r, http.MethodGet, "/usage/log?since=yesterday", nil, adminActor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("attribution summary", func(t *testing.T) {
		r, svc := newRouter(t)
		svc.EXPECT().Attribution(gomock.Any(), adminActor, ref).
			Return(models.Attribution{Entity: ref, TotalUses: 3, AttributableUses: 2, AttributableRevenue: 1500}, nil)
		w := testutil.ServeAs(t, r, http.MethodGet, "/usage/attribution/"+ref.String(), nil, adminActor)
		require.Equal(t, http.StatusOK, w.Code)
		body := testutil.UnmarshalResponse[map[string]any](t, w)
		assert.Equal(t, float64(1500), (*body)["attributable_revenue"])
	})
}
