package models

import "alma/pkg/domain"

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Filter narrows list queries. Nil fields match everything; the intervention
// fields are ignored for other kinds.
type Filter struct {
	Type          *InterventionType
	EvidenceLevel *EvidenceLevel
	HarmRisk      *HarmRisk
	ReviewStatus  *domain.ReviewStatus
	ConsentLevel  *domain.ConsentLevel
	Limit         int
}

// EffectiveLimit clamps Limit into [1, MaxListLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Matches reports whether e satisfies every set criterion.
func (f Filter) Matches(e Entity) bool {
	g := e.Gov()
	if f.ReviewStatus != nil && g.ReviewStatus != *f.ReviewStatus {
		return false
	}
	if f.ConsentLevel != nil && g.ConsentLevel != *f.ConsentLevel {
		return false
	}
	i, ok := e.(*Intervention)
	if !ok {
		return true
	}
	if f.Type != nil && i.Type != *f.Type {
		return false
	}
	if f.EvidenceLevel != nil && i.EvidenceLevel != *f.EvidenceLevel {
		return false
	}
	if f.HarmRisk != nil && i.HarmRisk != *f.HarmRisk {
		return false
	}
	return true
}
