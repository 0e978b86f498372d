package admin

import (
	"log/slog"
	"net/http"

	request "alma/pkg/platform/middleware/request"
	"alma/pkg/requestcontext"
)

// RequireAdmin admits only actors carrying the platform-admin capability.
// Mount it after auth.RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.Actor(ctx)
			if !actor.Admin {
				logger.WarnContext(ctx, "admin capability required",
					"request_id", request.GetRequestID(ctx),
					"actor_id", actor.ID,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"access_denied","error_description":"admin capability required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
