package audittrail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma/pkg/domain"
	audit "alma/pkg/platform/audit"
	auditmemory "alma/pkg/platform/audit/store/memory"
	"alma/pkg/testutil"
)

type brokenReader struct{}

func (brokenReader) ListByEntity(context.Context, string) ([]audit.Event, error) {
	return nil, errors.New("connection reset")
}

func newRouter(reader Reader) chi.Router {
	r := chi.NewRouter()
	NewHandler(reader, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()
	store := auditmemory.NewInMemoryStore()
	ref := domain.InterventionID(uuid.New()).Ref()
	steward := domain.ActorID(uuid.New())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, audit.ComplianceEvent{
		Timestamp: at, ActorID: steward, Entity: ref.String(), Action: audit.EventEntityCreated, Decision: "strictly_private",
	}.ToEvent()))
	require.NoError(t, store.Append(ctx, audit.SecurityEvent{
		Timestamp: at.Add(time.Minute), Entity: ref.String(), Action: audit.EventAccessDenied, Reason: "view", Severity: audit.SeverityInfo,
	}.ToEvent()))
	require.NoError(t, store.Append(ctx, audit.ComplianceEvent{
		Timestamp: at, Entity: domain.OutcomeID(uuid.New()).Ref().String(), Action: audit.EventEntityCreated,
	}.ToEvent()))

	r := newRouter(store)
	adminActor := domain.Actor{ID: domain.ActorID(uuid.New()), Admin: true}

	t.Run("admin reads the full trail oldest first", func(t *testing.T) {
		w := testutil.ServeAs(t, r, http.MethodGet, "/audit/"+ref.String(), nil, adminActor)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		trail := testutil.UnmarshalResponse[TrailResponse](t, w)
		assert.Equal(t, ref.String(), trail.Entity)
		require.Equal(t, 2, trail.Count)
		assert.Equal(t, string(audit.EventEntityCreated), trail.Events[0].Action)
		assert.Equal(t, steward.String(), trail.Events[0].ActorID)
		assert.Equal(t, "security", trail.Events[1].Category)
		assert.Empty(t, trail.Events[1].ActorID)
	})

	t.Run("category narrows the trail", func(t *testing.T) {
		w := testutil.ServeAs(t, r, http.MethodGet, "/audit/"+ref.String()+"?category=compliance", nil, adminActor)
		require.Equal(t, http.StatusOK, w.Code)
		trail := testutil.UnmarshalResponse[TrailResponse](t, w)
		require.Len(t, trail.Events, 1)
		assert.Equal(t, "compliance", trail.Events[0].Category)
	})

	t.Run("unknown category is rejected", func(t *testing.T) {
		w := testutil.ServeAs(t, r, http.MethodGet, "/audit/"+ref.String()+"?category=billing", nil, adminActor)
		testutil.AssertStatusAndError(t, w, http.StatusBadRequest, "invalid_input")
	})

	t.Run("malformed ref is rejected", func(t *testing.T) {
		w := testutil.ServeAs(t, r, http.MethodGet, "/audit/widget:123", nil, adminActor)
		testutil.AssertStatusAndError(t, w, http.StatusBadRequest, "invalid_input")
	})

	t.Run("non-admin is denied", func(t *testing.T) {
		w := testutil.ServeAs(t, r, http.MethodGet, "/audit/"+ref.String(), nil, domain.Actor{ID: steward})
		testutil.AssertStatusAndError(t, w, http.StatusForbidden, "access_denied")
	})
}

func TestHandleList_StoreFailure(t *testing.T) {
	ref := domain.EvidenceID(uuid.New()).Ref()
	w := testutil.ServeAs(t, newRouter(brokenReader{}), http.MethodGet, "/audit/"+ref.String(), nil,
		domain.Actor{ID: domain.ActorID(uuid.New()), Admin: true})
	testutil.AssertStatusAndError(t, w, http.StatusInternalServerError, "internal_error")
}
