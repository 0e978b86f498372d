package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"alma/pkg/domain"
)

func TestSummarize(t *testing.T) {
	ref := domain.InterventionID(uuid.New()).Ref()
	grant := domain.ConsentEntryID(uuid.New())
	rev := func(v int64) *int64 { return &v }

	entries := []Entry{
		{Entity: ref, Action: domain.UseView, ConsentEntryID: grant, RevenueShareEnabled: true},
		{Entity: ref, Action: domain.UseCommercialLicense, ConsentEntryID: grant, RevenueShareEnabled: true, RevenueGenerated: rev(1500)},
		{Entity: ref, Action: domain.UseCommercialLicense, RevenueGenerated: rev(200)},
	}
	got := Summarize(ref, entries)

	assert.Equal(t, 3, got.TotalUses)
	assert.Equal(t, 2, got.AttributableUses)
	assert.Equal(t, int64(1500), got.AttributableRevenue)
	assert.Equal(t, int64(200), got.UnattributedRevenue)
	assert.Equal(t, 2, got.ByAction[domain.UseCommercialLicense])
	assert.Equal(t, int64(1500), got.ByConsentEntry[grant.String()])
}
