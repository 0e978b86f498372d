package models

import (
	"time"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// Link joins two governed records. From/To are stored in canonical order so a
// pair has exactly one key regardless of the order the caller supplied.
type Link struct {
	From      domain.EntityRef `json:"from"`
	To        domain.EntityRef `json:"to"`
	CreatedAt time.Time        `json:"created_at"`
}

// linkOrder ranks kinds for canonical pair ordering.
var linkOrder = map[domain.EntityKind]int{
	domain.KindIntervention:     0,
	domain.KindEvidence:         1,
	domain.KindCommunityContext: 2,
	domain.KindOutcome:          3,
}

type kindPair struct{ from, to domain.EntityKind }

var allowedPairs = map[kindPair]bool{
	{domain.KindIntervention, domain.KindOutcome}:          true,
	{domain.KindIntervention, domain.KindEvidence}:         true,
	{domain.KindIntervention, domain.KindCommunityContext}: true,
	{domain.KindEvidence, domain.KindOutcome}:              true,
}

// NewLink validates the pair and returns it in canonical order.
func NewLink(a, b domain.EntityRef) (Link, error) {
	if a.IsZero() || b.IsZero() {
		return Link{}, dErrors.New(dErrors.CodeInvalidInput, "link endpoints are required")
	}
	if linkOrder[b.Kind] < linkOrder[a.Kind] {
		a, b = b, a
	}
	if !allowedPairs[kindPair{a.Kind, b.Kind}] {
		return Link{}, dErrors.New(dErrors.CodeInvalidInput, "cannot link "+string(a.Kind)+" to "+string(b.Kind))
	}
	return Link{From: a, To: b}, nil
}

// Key identifies the pair.
func (l Link) Key() string {
	return l.From.String() + "|" + l.To.String()
}

// Other returns the endpoint opposite ref.
func (l Link) Other(ref domain.EntityRef) domain.EntityRef {
	if l.From == ref {
		return l.To
	}
	return l.From
}
