package models

import (
	"time"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// Governance is the consent and review header shared by every governed kind.
type Governance struct {
	ConsentLevel      domain.ConsentLevel `json:"consent_level"`
	CulturalAuthority *domain.OrgID       `json:"cultural_authority,omitempty"`
	OwnerOrg          *domain.OrgID       `json:"owner_org,omitempty"`
	ReviewStatus      domain.ReviewStatus `json:"review_status"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Gov exposes the header through the Entity interface.
func (g *Governance) Gov() *Governance { return g }

// OwningOrg is the organization whose members may always access the record:
// the explicit owner, else the cultural authority.
func (g *Governance) OwningOrg() *domain.OrgID {
	if g.OwnerOrg != nil {
		return g.OwnerOrg
	}
	return g.CulturalAuthority
}

func (g Governance) clone() Governance {
	out := g
	if g.CulturalAuthority != nil {
		ca := *g.CulturalAuthority
		out.CulturalAuthority = &ca
	}
	if g.OwnerOrg != nil {
		o := *g.OwnerOrg
		out.OwnerOrg = &o
	}
	return out
}

// ValidateGovernance enforces the structural consent invariants for a record
// of the given kind. Both the entity store and the consent ledger call it
// before every write.
func ValidateGovernance(kind domain.EntityKind, g *Governance) error {
	if !g.ConsentLevel.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid consent_level")
	}
	if !g.ReviewStatus.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid review_status")
	}
	if g.CulturalAuthority != nil && g.CulturalAuthority.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "cultural_authority cannot be nil")
	}
	if g.OwnerOrg != nil && g.OwnerOrg.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "owner_org cannot be nil")
	}
	if kind == domain.KindCommunityContext && g.CulturalAuthority == nil {
		return dErrors.New(dErrors.CodeGovernanceViolation, "community context requires a cultural authority")
	}
	if g.ConsentLevel.IsElevated() && g.CulturalAuthority == nil {
		return dErrors.New(dErrors.CodeGovernanceViolation, "consent above strictly_private requires a cultural authority")
	}
	if g.ReviewStatus == domain.ReviewPublished && !g.ConsentLevel.IsElevated() {
		return dErrors.New(dErrors.CodeGovernanceViolation, "published records cannot be strictly_private")
	}
	return nil
}
