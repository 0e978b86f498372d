package memory

import (
	"context"
	"time"

	consentmodels "alma/internal/consent/models"
	regmodels "alma/internal/registry/models"
	"alma/internal/storage"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/platform/sentinel"
	txcontext "alma/pkg/platform/tx"
)

// numShards spreads entity locks so unrelated entities rarely contend.
const numShards = 128

const defaultTxTimeout = 5 * time.Second

// RunInTx runs fn with exclusive write access to ref. Writes made through the
// provided Stores, and audit writes that join via the context, are staged and
// become visible only when fn returns nil and the commit succeeds.
func (s *Store) RunInTx(ctx context.Context, ref domain.EntityRef, fn func(ctx context.Context, tx storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &s.shards[shardFor(ref)]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	view := newTxView(s)
	staged := &txcontext.Staged{}
	if err := fn(txcontext.WithStaged(ctx, staged), view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	if err := view.commit(); err != nil {
		return err
	}
	staged.Apply()
	return nil
}

// shardFor hashes the ref with FNV-1a.
func shardFor(ref domain.EntityRef) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range []byte(ref.Kind) {
		h ^= uint32(b)
		h *= fnvPrime
	}
	for _, b := range ref.ID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return int(h % numShards)
}

type stagedEntity struct {
	entity regmodels.Entity
	insert bool
}

// txView stages writes over a Store. Reads see staged state first.
type txView struct {
	base     *Store
	entities map[domain.EntityRef]stagedEntity
	linkAdds map[string]regmodels.Link
	linkDels map[string]regmodels.Link
	ledger   map[domain.EntityRef][]consentmodels.LedgerEntry
}

func newTxView(base *Store) *txView {
	return &txView{
		base:     base,
		entities: make(map[domain.EntityRef]stagedEntity),
		linkAdds: make(map[string]regmodels.Link),
		linkDels: make(map[string]regmodels.Link),
		ledger:   make(map[domain.EntityRef][]consentmodels.LedgerEntry),
	}
}

func (t *txView) baseHasEntity(ref domain.EntityRef) bool {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	_, ok := t.base.entities[ref]
	return ok
}

func (t *txView) InsertEntity(_ context.Context, e regmodels.Entity) error {
	ref := e.Ref()
	if _, ok := t.entities[ref]; ok || t.baseHasEntity(ref) {
		return sentinel.ErrAlreadyExists
	}
	t.entities[ref] = stagedEntity{entity: e.Clone(), insert: true}
	return nil
}

func (t *txView) UpdateEntity(_ context.Context, e regmodels.Entity) error {
	ref := e.Ref()
	staged, ok := t.entities[ref]
	if !ok && !t.baseHasEntity(ref) {
		return sentinel.ErrNotFound
	}
	t.entities[ref] = stagedEntity{entity: e.Clone(), insert: ok && staged.insert}
	return nil
}

func (t *txView) GetEntity(ctx context.Context, ref domain.EntityRef) (regmodels.Entity, error) {
	if staged, ok := t.entities[ref]; ok {
		return staged.entity.Clone(), nil
	}
	return t.base.GetEntity(ctx, ref)
}

func (t *txView) ListEntities(_ context.Context, kind domain.EntityKind, filter regmodels.Filter) ([]regmodels.Entity, error) {
	staged := make(map[domain.EntityRef]regmodels.Entity, len(t.entities))
	for ref, s := range t.entities {
		staged[ref] = s.entity
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	return listMatching(t.base.entities, staged, kind, filter), nil
}

func (t *txView) InsertLink(_ context.Context, link regmodels.Link) error {
	key := link.Key()
	if _, ok := t.linkAdds[key]; ok {
		return sentinel.ErrAlreadyExists
	}
	if _, deleted := t.linkDels[key]; deleted {
		delete(t.linkDels, key)
		return nil
	}
	t.base.mu.RLock()
	_, exists := t.base.links[key]
	t.base.mu.RUnlock()
	if exists {
		return sentinel.ErrAlreadyExists
	}
	t.linkAdds[key] = link
	return nil
}

func (t *txView) DeleteLink(_ context.Context, link regmodels.Link) error {
	key := link.Key()
	if _, ok := t.linkAdds[key]; ok {
		delete(t.linkAdds, key)
		return nil
	}
	if _, ok := t.linkDels[key]; ok {
		return sentinel.ErrNotFound
	}
	t.base.mu.RLock()
	existing, exists := t.base.links[key]
	t.base.mu.RUnlock()
	if !exists {
		return sentinel.ErrNotFound
	}
	t.linkDels[key] = existing
	return nil
}

func (t *txView) ListLinks(_ context.Context, ref domain.EntityRef) ([]regmodels.Link, error) {
	t.base.mu.RLock()
	merged := make(map[string]regmodels.Link, len(t.base.links)+len(t.linkAdds))
	for k, l := range t.base.links {
		if _, deleted := t.linkDels[k]; !deleted {
			merged[k] = l
		}
	}
	t.base.mu.RUnlock()
	for k, l := range t.linkAdds {
		merged[k] = l
	}
	return linksFor(merged, ref), nil
}

func (t *txView) AppendConsent(_ context.Context, entry consentmodels.LedgerEntry) error {
	t.ledger[entry.Entity] = append(t.ledger[entry.Entity], entry.Clone())
	return nil
}

func (t *txView) LatestConsent(ctx context.Context, ref domain.EntityRef) (*consentmodels.LedgerEntry, error) {
	if staged := t.ledger[ref]; len(staged) > 0 {
		latest := staged[len(staged)-1].Clone()
		return &latest, nil
	}
	return t.base.LatestConsent(ctx, ref)
}

func (t *txView) ConsentHistory(ctx context.Context, ref domain.EntityRef) ([]consentmodels.LedgerEntry, error) {
	history, err := t.base.ConsentHistory(ctx, ref)
	if err != nil {
		return nil, err
	}
	return append(history, cloneEntries(t.ledger[ref])...), nil
}

// commit applies the staged write set atomically with respect to readers.
func (t *txView) commit() error {
	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	for ref, s := range t.entities {
		if _, exists := b.entities[ref]; s.insert && exists {
			return sentinel.ErrAlreadyExists
		}
	}
	for key := range t.linkAdds {
		if _, exists := b.links[key]; exists {
			return sentinel.ErrAlreadyExists
		}
	}

	for ref, s := range t.entities {
		b.entities[ref] = s.entity
	}
	for key := range t.linkDels {
		delete(b.links, key)
	}
	for key, l := range t.linkAdds {
		b.links[key] = l
	}
	for ref, entries := range t.ledger {
		b.ledger[ref] = append(b.ledger[ref], entries...)
	}
	return nil
}
