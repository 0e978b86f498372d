package models

import (
	"time"

	"alma/pkg/domain"
)

// Entry is one append-only usage record. It snapshots the consent entry in
// force at the time of use so attribution survives later consent changes.
type Entry struct {
	ID                  domain.UsageEntryID   `json:"id"`
	Entity              domain.EntityRef      `json:"entity"`
	ActorID             domain.ActorID        `json:"actor_id"`
	Action              domain.ConsentUse     `json:"action"`
	Timestamp           time.Time             `json:"timestamp"`
	RevenueGenerated    *int64                `json:"revenue_generated,omitempty"`
	ConsentEntryID      domain.ConsentEntryID `json:"consent_entry_id"`
	ConsentLevel        domain.ConsentLevel   `json:"consent_level"`
	RevenueShareEnabled bool                  `json:"revenue_share_enabled"`
	Client              string                `json:"client,omitempty"`
}

// Attributable reports whether the entry should reach the distribution process.
func (e Entry) Attributable() bool {
	return e.RevenueShareEnabled
}

// Query selects usage entries. A zero Entity lists across all entities.
type Query struct {
	Entity domain.EntityRef
	Since  *time.Time
	Limit  int
}

// Attribution summarizes usage of one entity for revenue distribution.
type Attribution struct {
	Entity              domain.EntityRef          `json:"entity"`
	TotalUses           int                       `json:"total_uses"`
	AttributableUses    int                       `json:"attributable_uses"`
	AttributableRevenue int64                     `json:"attributable_revenue"`
	UnattributedRevenue int64                     `json:"unattributed_revenue"`
	ByAction            map[domain.ConsentUse]int `json:"by_action"`
	ByConsentEntry      map[string]int64          `json:"revenue_by_consent_entry,omitempty"`
}

// Summarize folds entries for one entity into an Attribution.
func Summarize(ref domain.EntityRef, entries []Entry) Attribution {
	out := Attribution{
		Entity:         ref,
		ByAction:       map[domain.ConsentUse]int{},
		ByConsentEntry: map[string]int64{},
	}
	for _, e := range entries {
		out.TotalUses++
		out.ByAction[e.Action]++
		var revenue int64
		if e.RevenueGenerated != nil {
			revenue = *e.RevenueGenerated
		}
		if !e.Attributable() {
			out.UnattributedRevenue += revenue
			continue
		}
		out.AttributableUses++
		out.AttributableRevenue += revenue
		if revenue != 0 {
			out.ByConsentEntry[e.ConsentEntryID.String()] += revenue
		}
	}
	return out
}
