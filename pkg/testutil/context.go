package testutil

import (
	"net/http"

	"alma/pkg/domain"
	"alma/pkg/requestcontext"
)

// WithActor attaches actor to the request context the way the auth
// middleware does for a verified token.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}
