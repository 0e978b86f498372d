// Package storage declares the persistence contract shared by the registry,
// consent and usage services. Backends live in the memory and postgres
// subpackages; both return pkg/platform/sentinel errors.
package storage

import (
	"context"

	consentmodels "alma/internal/consent/models"
	regmodels "alma/internal/registry/models"
	usagemodels "alma/internal/usage/models"
	"alma/pkg/domain"
)

// Entities persists the four governed record kinds.
type Entities interface {
	InsertEntity(ctx context.Context, e regmodels.Entity) error
	UpdateEntity(ctx context.Context, e regmodels.Entity) error
	GetEntity(ctx context.Context, ref domain.EntityRef) (regmodels.Entity, error)
	// ListEntities returns records of kind matching filter ordered by
	// creation time then id. filter.Limit is ignored; callers page after
	// access filtering.
	ListEntities(ctx context.Context, kind domain.EntityKind, filter regmodels.Filter) ([]regmodels.Entity, error)
}

// Links persists relationship join rows.
type Links interface {
	InsertLink(ctx context.Context, link regmodels.Link) error
	DeleteLink(ctx context.Context, link regmodels.Link) error
	ListLinks(ctx context.Context, ref domain.EntityRef) ([]regmodels.Link, error)
}

// Ledger is the append-only consent ledger.
type Ledger interface {
	AppendConsent(ctx context.Context, entry consentmodels.LedgerEntry) error
	// LatestConsent returns sentinel.ErrNotFound when ref has no entries.
	LatestConsent(ctx context.Context, ref domain.EntityRef) (*consentmodels.LedgerEntry, error)
	ConsentHistory(ctx context.Context, ref domain.EntityRef) ([]consentmodels.LedgerEntry, error)
}

// Usage is the append-only usage log. It is written outside entity
// transactions and never blocks on them.
type Usage interface {
	AppendUsage(ctx context.Context, entry usagemodels.Entry) error
	ListUsage(ctx context.Context, q usagemodels.Query) ([]usagemodels.Entry, error)
}

// Stores is the transactional view handed to RunInTx callbacks.
type Stores interface {
	Entities
	Links
	Ledger
}

// TxRunner serializes writers per entity and makes multi-collection writes
// atomic. fn must use the ctx and Stores it is given; returning an error
// rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, ref domain.EntityRef, fn func(ctx context.Context, s Stores) error) error
}

// Backend is a complete storage implementation.
type Backend interface {
	Stores
	Usage
	TxRunner
}
