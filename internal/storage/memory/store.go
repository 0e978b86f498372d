// Package memory is the in-process storage backend. Collections live in maps
// guarded by one RWMutex; RunInTx serializes writers per entity with sharded
// mutexes and commits a staged write set under the store lock, so readers see
// either the whole transaction or none of it.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	consentmodels "alma/internal/consent/models"
	regmodels "alma/internal/registry/models"
	"alma/internal/storage"
	usagemodels "alma/internal/usage/models"
	"alma/pkg/domain"
	"alma/pkg/platform/sentinel"
)

var _ storage.Backend = (*Store)(nil)

// Store is the in-memory backend.
type Store struct {
	mu       sync.RWMutex
	entities map[domain.EntityRef]regmodels.Entity
	links    map[string]regmodels.Link
	ledger   map[domain.EntityRef][]consentmodels.LedgerEntry

	usageMu sync.RWMutex
	usage   []usagemodels.Entry

	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTxTimeout sets the default transaction timeout applied when the caller's
// context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func New(opts ...Option) *Store {
	s := &Store{
		entities: make(map[domain.EntityRef]regmodels.Entity),
		links:    make(map[string]regmodels.Link),
		ledger:   make(map[domain.EntityRef][]consentmodels.LedgerEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) InsertEntity(_ context.Context, e regmodels.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.Ref()]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.entities[e.Ref()] = e.Clone()
	return nil
}

func (s *Store) UpdateEntity(_ context.Context, e regmodels.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.Ref()]; !ok {
		return sentinel.ErrNotFound
	}
	s.entities[e.Ref()] = e.Clone()
	return nil
}

func (s *Store) GetEntity(_ context.Context, ref domain.EntityRef) (regmodels.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) ListEntities(_ context.Context, kind domain.EntityKind, filter regmodels.Filter) ([]regmodels.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMatching(s.entities, nil, kind, filter), nil
}

func listMatching(base, staged map[domain.EntityRef]regmodels.Entity, kind domain.EntityKind, filter regmodels.Filter) []regmodels.Entity {
	var out []regmodels.Entity
	for ref, e := range base {
		if _, shadowed := staged[ref]; shadowed {
			continue
		}
		if ref.Kind == kind && filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	for ref, e := range staged {
		if ref.Kind == kind && filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out
}

func sortEntities(es []regmodels.Entity) {
	slices.SortFunc(es, func(a, b regmodels.Entity) int {
		if c := a.Gov().CreatedAt.Compare(b.Gov().CreatedAt); c != 0 {
			return c
		}
		return compareRefs(a.Ref(), b.Ref())
	})
}

func compareRefs(a, b domain.EntityRef) int {
	return slices.Compare(a.ID[:], b.ID[:])
}

func (s *Store) InsertLink(_ context.Context, link regmodels.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Key()]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.links[link.Key()] = link
	return nil
}

func (s *Store) DeleteLink(_ context.Context, link regmodels.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Key()]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.links, link.Key())
	return nil
}

func (s *Store) ListLinks(_ context.Context, ref domain.EntityRef) ([]regmodels.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linksFor(s.links, ref), nil
}

func linksFor(links map[string]regmodels.Link, ref domain.EntityRef) []regmodels.Link {
	var out []regmodels.Link
	for _, l := range links {
		if l.From == ref || l.To == ref {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b regmodels.Link) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.Key(), b.Key())
	})
	return out
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *Store) AppendConsent(_ context.Context, entry consentmodels.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[entry.Entity] = append(s.ledger[entry.Entity], entry.Clone())
	return nil
}

func (s *Store) LatestConsent(_ context.Context, ref domain.EntityRef) (*consentmodels.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.ledger[ref]
	if len(history) == 0 {
		return nil, sentinel.ErrNotFound
	}
	latest := history[len(history)-1].Clone()
	return &latest, nil
}

func (s *Store) ConsentHistory(_ context.Context, ref domain.EntityRef) ([]consentmodels.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.ledger[ref]), nil
}

func cloneEntries(in []consentmodels.LedgerEntry) []consentmodels.LedgerEntry {
	out := make([]consentmodels.LedgerEntry, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func (s *Store) AppendUsage(_ context.Context, entry usagemodels.Entry) error {
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	s.usage = append(s.usage, entry)
	return nil
}

// ListUsage returns matching entries in append order. With a limit only the
// most recent matches are kept.
func (s *Store) ListUsage(_ context.Context, q usagemodels.Query) ([]usagemodels.Entry, error) {
	s.usageMu.RLock()
	defer s.usageMu.RUnlock()
	var out []usagemodels.Entry
	for _, e := range s.usage {
		if !q.Entity.IsZero() && e.Entity != q.Entity {
			continue
		}
		if q.Since != nil && e.Timestamp.Before(*q.Since) {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}
