package models

import (
	"slices"
	"time"

	"alma/pkg/domain"
)

// LedgerEntry is one immutable consent decision for a governed record. The
// latest entry for an entity is the consent in force.
type LedgerEntry struct {
	ID                  domain.ConsentEntryID `json:"id"`
	Entity              domain.EntityRef      `json:"entity"`
	ConsentLevel        domain.ConsentLevel   `json:"consent_level"`
	PermittedUses       []domain.ConsentUse   `json:"permitted_uses"`
	GrantedBy           domain.ActorID        `json:"granted_by"`
	GrantedAt           time.Time             `json:"granted_at"`
	ExpiresAt           *time.Time            `json:"expires_at,omitempty"`
	RevenueShareEnabled bool                  `json:"revenue_share_enabled"`
	Reason              string                `json:"reason,omitempty"`
	// Implicit marks a synthesized StrictlyPrivate entry: either the record
	// has no ledger history or its latest entry has expired.
	Implicit bool `json:"implicit,omitempty"`
}

// IsExpired reports whether the entry has lapsed at now.
func (e LedgerEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Permits reports whether use is among the entry's permitted uses.
func (e LedgerEntry) Permits(use domain.ConsentUse) bool {
	return slices.Contains(e.PermittedUses, use)
}

// Clone returns a copy that shares no mutable state.
func (e LedgerEntry) Clone() LedgerEntry {
	out := e
	out.PermittedUses = slices.Clone(e.PermittedUses)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Effective resolves the consent in force for ref at now. Only the latest
// entry decides: if it has expired the result is an implicit revocation, even
// when an older entry would still be valid. A nil latest yields StrictlyPrivate.
func Effective(ref domain.EntityRef, latest *LedgerEntry, now time.Time) LedgerEntry {
	if latest == nil {
		return LedgerEntry{
			Entity:        ref,
			ConsentLevel:  domain.ConsentStrictlyPrivate,
			PermittedUses: []domain.ConsentUse{},
			Implicit:      true,
		}
	}
	if latest.IsExpired(now) {
		return LedgerEntry{
			ID:            latest.ID,
			Entity:        ref,
			ConsentLevel:  domain.ConsentStrictlyPrivate,
			PermittedUses: []domain.ConsentUse{},
			GrantedBy:     latest.GrantedBy,
			GrantedAt:     *latest.ExpiresAt,
			Reason:        "expired",
			Implicit:      true,
		}
	}
	return latest.Clone()
}

// Latest picks the most recent entry from an append-ordered history.
func Latest(history []LedgerEntry) *LedgerEntry {
	if len(history) == 0 {
		return nil
	}
	e := history[len(history)-1]
	return &e
}

// NormalizeUses de-duplicates uses, keeps a stable order and defaults an
// empty set to view-only.
func NormalizeUses(uses []domain.ConsentUse) []domain.ConsentUse {
	if len(uses) == 0 {
		return []domain.ConsentUse{domain.UseView}
	}
	out := slices.Clone(uses)
	slices.Sort(out)
	return slices.Compact(out)
}
