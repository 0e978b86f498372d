package handler

import (
	"time"

	"alma/internal/consent/models"
	"alma/pkg/domain"
)

// GrantRequest is the body of POST /consent/grant.
type GrantRequest struct {
	Entity              string     `json:"entity" validate:"required"`
	ConsentLevel        string     `json:"consent_level" validate:"required,oneof=community_controlled public_knowledge_commons"`
	PermittedUses       []string   `json:"permitted_uses" validate:"max=4,dive,oneof=view reuse republish commercial_license"`
	ExpiresAt           *time.Time `json:"expires_at"`
	RevenueShareEnabled bool       `json:"revenue_share_enabled"`

	parsed models.GrantRequest
}

// Validate parses the request. Time-dependent checks run in the service.
// Implements httputil.Validatable.
func (r *GrantRequest) Validate() error {
	ref, err := domain.ParseEntityRef(r.Entity)
	if err != nil {
		return err
	}
	level, err := domain.ParseConsentLevel(r.ConsentLevel)
	if err != nil {
		return err
	}
	uses := make([]domain.ConsentUse, 0, len(r.PermittedUses))
	for _, raw := range r.PermittedUses {
		u, err := domain.ParseConsentUse(raw)
		if err != nil {
			return err
		}
		uses = append(uses, u)
	}
	r.parsed = models.GrantRequest{
		Entity:              ref,
		ConsentLevel:        level,
		PermittedUses:       uses,
		ExpiresAt:           r.ExpiresAt,
		RevenueShareEnabled: r.RevenueShareEnabled,
	}
	return nil
}

// RevokeRequest is the body of POST /consent/revoke.
type RevokeRequest struct {
	Entity string `json:"entity" validate:"required"`
	Reason string `json:"reason" validate:"max=1000"`

	ref domain.EntityRef
}

func (r *RevokeRequest) Validate() error {
	ref, err := domain.ParseEntityRef(r.Entity)
	if err != nil {
		return err
	}
	r.ref = ref
	return nil
}

// HistoryResponse lists ledger entries in append order.
type HistoryResponse struct {
	Entity  domain.EntityRef     `json:"entity"`
	Entries []models.LedgerEntry `json:"entries"`
}
