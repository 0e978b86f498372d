package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"alma/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"socket peer", nil, "192.0.2.7:51234", "192.0.2.7"},
		{"ipv6 socket peer", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.9"},
		{"real ip header", map[string]string{"X-Real-IP": " 198.51.100.3 "}, "10.0.0.2:80", "198.51.100.3"},
		{"garbage header falls through", map[string]string{"X-Forwarded-For": "rl:actor:x"}, "192.0.2.7:1", "192.0.2.7"},
		{"mapped v4 is unmapped", nil, "[::ffff:192.0.2.8]:1", "192.0.2.8"},
		{"nothing usable", nil, "pipe", UnknownIP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1"
	req.Header.Set("User-Agent", "alma-sdk/1.2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.7", gotIP)
	assert.Equal(t, "alma-sdk/1.2", gotUA)
}
