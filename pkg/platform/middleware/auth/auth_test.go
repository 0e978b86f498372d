package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma/pkg/domain"
	"alma/pkg/requestcontext"
)

type stubValidator struct {
	actor domain.Actor
	err   error
}

func (s stubValidator) ValidateToken(string) (domain.Actor, error) {
	return s.actor, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureActor(got *domain.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	actor := domain.Actor{ID: domain.ActorID(uuid.New())}

	t.Run("missing header is rejected", func(t *testing.T) {
		var got domain.Actor
		h := RequireAuth(stubValidator{actor: actor}, discardLogger())(captureActor(&got))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing or invalid Authorization header")
		assert.False(t, got.IsAuthenticated())
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		var got domain.Actor
		h := RequireAuth(stubValidator{err: errors.New("bad signature")}, discardLogger())(captureActor(&got))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid or expired token")
	})

	t.Run("valid token attaches actor", func(t *testing.T) {
		var got domain.Actor
		h := RequireAuth(stubValidator{actor: actor}, discardLogger())(captureActor(&got))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, actor.ID, got.ID)
	})
}

func TestOptionalAuth(t *testing.T) {
	t.Run("no header proceeds anonymously", func(t *testing.T) {
		got := domain.Actor{Admin: true}
		h := OptionalAuth(stubValidator{err: errors.New("unused")}, discardLogger())(captureActor(&got))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, got.IsAuthenticated())
		assert.False(t, got.Admin)
	})

	t.Run("broken token still rejected", func(t *testing.T) {
		var got domain.Actor
		h := OptionalAuth(stubValidator{err: errors.New("expired")}, discardLogger())(captureActor(&got))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer stale")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
