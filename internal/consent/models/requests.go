package models

import (
	"time"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// GrantRequest is the validated input to a consent grant.
type GrantRequest struct {
	Entity              domain.EntityRef
	ConsentLevel        domain.ConsentLevel
	PermittedUses       []domain.ConsentUse
	ExpiresAt           *time.Time
	RevenueShareEnabled bool
}

// Validate checks the request against now.
func (r GrantRequest) Validate(now time.Time) error {
	if r.Entity.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "entity is required")
	}
	if !r.ConsentLevel.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid consent level")
	}
	if !r.ConsentLevel.IsElevated() {
		return dErrors.New(dErrors.CodeInvalidInput, "grant tier must be community_controlled or public_knowledge_commons; use revoke to make a record private")
	}
	for _, u := range r.PermittedUses {
		if !u.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid use: "+string(u))
		}
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return dErrors.New(dErrors.CodeInvalidInput, "expires_at must be in the future")
	}
	return nil
}
