// Package models holds the rate limiting vocabulary shared by the stores,
// the limiter and the HTTP middleware.
package models

import (
	"net/http"
	"strings"
	"time"

	"alma/pkg/domain"
)

// EndpointClass groups routes that share a budget.
type EndpointClass string

const (
	// ClassRead covers GET and HEAD: registry browsing, signals, ethics checks.
	ClassRead EndpointClass = "read"
	// ClassWrite covers every mutation, including consent grants and usage records.
	ClassWrite EndpointClass = "write"
)

// ClassFor picks the budget for a request method.
func ClassFor(method string) EndpointClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Limit is a request budget over a sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// KeyPrefix names the identity a bucket is keyed on.
type KeyPrefix string

const (
	KeyPrefixIP    KeyPrefix = "ip"
	KeyPrefixActor KeyPrefix = "actor"
)

// Key identifies one bucket.
type Key struct {
	Prefix     KeyPrefix
	Identifier string
	Class      EndpointClass
}

// KeyFor keys authenticated callers by actor and anonymous callers by IP.
func KeyFor(actor domain.Actor, ip string, class EndpointClass) Key {
	if actor.IsAuthenticated() {
		return Key{Prefix: KeyPrefixActor, Identifier: actor.ID.String(), Class: class}
	}
	return Key{Prefix: KeyPrefixIP, Identifier: ip, Class: class}
}

func (k Key) String() string {
	return "rl:" + string(k.Prefix) + ":" + SanitizeKeySegment(k.Identifier) + ":" + string(k.Class)
}

// SanitizeKeySegment escapes the key delimiter so a crafted identifier cannot
// address another caller's bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
