// Package postgres is the PostgreSQL storage backend. Each entity kind has its
// own table with governance columns plus a jsonb document; links, the consent
// ledger and the usage log live in separate tables, the last two append-only.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	consentmodels "alma/internal/consent/models"
	pgplatform "alma/internal/platform/postgres"
	regmodels "alma/internal/registry/models"
	"alma/internal/storage"
	usagemodels "alma/internal/usage/models"
	"alma/pkg/domain"
	"alma/pkg/platform/sentinel"
	"alma/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

var _ storage.Backend = (*Store)(nil)

var tables = map[domain.EntityKind]string{
	domain.KindIntervention:     "interventions",
	domain.KindCommunityContext: "community_contexts",
	domain.KindEvidence:         "evidence",
	domain.KindOutcome:          "outcomes",
}

var governanceColumns = []string{
	"id", "review_status", "consent_level", "owner_org", "cultural_authority",
	"version", "created_at", "updated_at", "doc",
}

var interventionColumns = []string{"type", "evidence_level", "harm_risk", "target_cohorts"}

// Store is the Postgres backend. Methods join the transaction carried in ctx
// by RunInTx, so the same value serves as the transactional Stores view.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

type Option func(*Store)

// WithTxTimeout sets the default transaction timeout applied when the caller's
// context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) q(ctx context.Context) tx.Querier {
	return tx.QuerierFrom(ctx, s.db)
}

func tableFor(kind domain.EntityKind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	return t, nil
}

// entityRow flattens e into column names and values.
func entityRow(e regmodels.Entity) ([]string, []any, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encode entity: %w", err)
	}
	g := e.Gov()
	cols := governanceColumns
	args := []any{
		e.Ref().ID, string(g.ReviewStatus), string(g.ConsentLevel),
		nullableOrg(g.OwnerOrg), nullableOrg(g.CulturalAuthority),
		g.Version, g.CreatedAt, g.UpdatedAt, doc,
	}
	if in, ok := e.(*regmodels.Intervention); ok {
		cols = append(append([]string(nil), cols...), interventionColumns...)
		cohorts := in.TargetCohorts
		if cohorts == nil {
			cohorts = []string{}
		}
		args = append(args, string(in.Type), string(in.EvidenceLevel), string(in.HarmRisk), pq.Array(cohorts))
	}
	return cols, args, nil
}

func nullableOrg(id *domain.OrgID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

func placeholders(n, from int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}

func (s *Store) InsertEntity(ctx context.Context, e regmodels.Entity) error {
	table, err := tableFor(e.Ref().Kind)
	if err != nil {
		return err
	}
	cols, args, err := entityRow(e)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols), 1))
	if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", e.Ref().Kind, pgplatform.Classify(err))
	}
	return nil
}

func (s *Store) UpdateEntity(ctx context.Context, e regmodels.Entity) error {
	table, err := tableFor(e.Ref().Kind)
	if err != nil {
		return err
	}
	cols, args, err := entityRow(e)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", table, strings.Join(sets, ", "))
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", e.Ref().Kind, pgplatform.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func decodeEntity(kind domain.EntityKind, doc []byte) (regmodels.Entity, error) {
	e, err := regmodels.New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return e, nil
}

func (s *Store) GetEntity(ctx context.Context, ref domain.EntityRef) (regmodels.Entity, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	var doc []byte
	err = s.q(ctx).QueryRowContext(ctx, "SELECT doc FROM "+table+" WHERE id = $1", ref.ID).Scan(&doc)
	if err != nil {
		return nil, pgplatform.Classify(err)
	}
	return decodeEntity(ref.Kind, doc)
}

func (s *Store) ListEntities(ctx context.Context, kind domain.EntityKind, filter regmodels.Filter) ([]regmodels.Entity, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.ReviewStatus != nil {
		add("review_status", string(*filter.ReviewStatus))
	}
	if filter.ConsentLevel != nil {
		add("consent_level", string(*filter.ConsentLevel))
	}
	if kind == domain.KindIntervention {
		if filter.Type != nil {
			add("type", string(*filter.Type))
		}
		if filter.EvidenceLevel != nil {
			add("evidence_level", string(*filter.EvidenceLevel))
		}
		if filter.HarmRisk != nil {
			add("harm_risk", string(*filter.HarmRisk))
		}
	}
	query := "SELECT doc FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, pgplatform.Classify(err))
	}
	defer rows.Close()

	var out []regmodels.Entity
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		e, err := decodeEntity(kind, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertLink(ctx context.Context, link regmodels.Link) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO entity_links (from_kind, from_id, to_kind, to_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(link.From.Kind), link.From.ID, string(link.To.Kind), link.To.ID, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert link: %w", pgplatform.Classify(err))
	}
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, link regmodels.Link) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM entity_links WHERE from_kind = $1 AND from_id = $2 AND to_kind = $3 AND to_id = $4`,
		string(link.From.Kind), link.From.ID, string(link.To.Kind), link.To.ID)
	if err != nil {
		return fmt.Errorf("delete link: %w", pgplatform.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context, ref domain.EntityRef) ([]regmodels.Link, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT from_kind, from_id, to_kind, to_id, created_at FROM entity_links
		WHERE (from_kind = $1 AND from_id = $2) OR (to_kind = $1 AND to_id = $2)
		ORDER BY created_at, from_kind, from_id, to_kind, to_id`,
		string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", pgplatform.Classify(err))
	}
	defer rows.Close()

	var out []regmodels.Link
	for rows.Next() {
		var (
			l                regmodels.Link
			fromKind, toKind string
			fromID, toID     uuid.UUID
		)
		if err := rows.Scan(&fromKind, &fromID, &toKind, &toID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.From = domain.EntityRef{Kind: domain.EntityKind(fromKind), ID: fromID}
		l.To = domain.EntityRef{Kind: domain.EntityKind(toKind), ID: toID}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AppendConsent(ctx context.Context, entry consentmodels.LedgerEntry) error {
	uses := make([]string, len(entry.PermittedUses))
	for i, u := range entry.PermittedUses {
		uses[i] = string(u)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO consent_ledger (id, entity_kind, entity_id, consent_level, permitted_uses,
			granted_by, granted_at, expires_at, revenue_share_enabled, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(entry.ID), string(entry.Entity.Kind), entry.Entity.ID, string(entry.ConsentLevel),
		pq.Array(uses), uuid.UUID(entry.GrantedBy), entry.GrantedAt, entry.ExpiresAt,
		entry.RevenueShareEnabled, entry.Reason)
	if err != nil {
		return fmt.Errorf("append consent: %w", pgplatform.Classify(err))
	}
	return nil
}

const ledgerColumns = `id, entity_kind, entity_id, consent_level, permitted_uses,
	granted_by, granted_at, expires_at, revenue_share_enabled, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row scanner) (consentmodels.LedgerEntry, error) {
	var (
		e         consentmodels.LedgerEntry
		id        uuid.UUID
		kind      string
		entityID  uuid.UUID
		level     string
		uses      []string
		grantedBy uuid.UUID
		expiresAt sql.NullTime
	)
	if err := row.Scan(&id, &kind, &entityID, &level, pq.Array(&uses), &grantedBy,
		&e.GrantedAt, &expiresAt, &e.RevenueShareEnabled, &e.Reason); err != nil {
		return consentmodels.LedgerEntry{}, err
	}
	e.ID = domain.ConsentEntryID(id)
	e.Entity = domain.EntityRef{Kind: domain.EntityKind(kind), ID: entityID}
	e.ConsentLevel = domain.ConsentLevel(level)
	e.GrantedBy = domain.ActorID(grantedBy)
	e.PermittedUses = make([]domain.ConsentUse, len(uses))
	for i, u := range uses {
		e.PermittedUses[i] = domain.ConsentUse(u)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return e, nil
}

func (s *Store) LatestConsent(ctx context.Context, ref domain.EntityRef) (*consentmodels.LedgerEntry, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM consent_ledger WHERE entity_kind = $1 AND entity_id = $2 ORDER BY seq DESC LIMIT 1`,
		string(ref.Kind), ref.ID)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return nil, pgplatform.Classify(err)
	}
	return &e, nil
}

func (s *Store) ConsentHistory(ctx context.Context, ref domain.EntityRef) ([]consentmodels.LedgerEntry, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM consent_ledger WHERE entity_kind = $1 AND entity_id = $2 ORDER BY seq`,
		string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("consent history: %w", pgplatform.Classify(err))
	}
	defer rows.Close()

	out := []consentmodels.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendUsage always writes outside any open transaction.
func (s *Store) AppendUsage(ctx context.Context, entry usagemodels.Entry) error {
	var consentID any
	if !entry.ConsentEntryID.IsNil() {
		consentID = uuid.UUID(entry.ConsentEntryID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (id, entity_kind, entity_id, actor_id, action, occurred_at,
			revenue_generated, consent_entry_id, consent_level, revenue_share_enabled, client)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(entry.ID), string(entry.Entity.Kind), entry.Entity.ID, uuid.UUID(entry.ActorID),
		string(entry.Action), entry.Timestamp, entry.RevenueGenerated, consentID,
		string(entry.ConsentLevel), entry.RevenueShareEnabled, entry.Client)
	if err != nil {
		return fmt.Errorf("append usage: %w", pgplatform.Classify(err))
	}
	return nil
}

// ListUsage returns matching entries in append order. With a limit only the
// most recent matches are kept.
func (s *Store) ListUsage(ctx context.Context, q usagemodels.Query) ([]usagemodels.Entry, error) {
	var (
		where []string
		args  []any
	)
	if !q.Entity.IsZero() {
		args = append(args, string(q.Entity.Kind), q.Entity.ID)
		where = append(where, "entity_kind = $1 AND entity_id = $2")
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	query := `SELECT seq, id, entity_kind, entity_id, actor_id, action, occurred_at, revenue_generated,
		consent_entry_id, consent_level, revenue_share_enabled, client FROM usage_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	query = "SELECT id, entity_kind, entity_id, actor_id, action, occurred_at, revenue_generated, " +
		"consent_entry_id, consent_level, revenue_share_enabled, client FROM (" + query + ") recent ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", pgplatform.Classify(err))
	}
	defer rows.Close()

	var out []usagemodels.Entry
	for rows.Next() {
		var (
			e                 usagemodels.Entry
			id, entityID      uuid.UUID
			actorID           uuid.UUID
			kind, action, lvl string
			revenue           sql.NullInt64
			consentID         uuid.NullUUID
		)
		if err := rows.Scan(&id, &kind, &entityID, &actorID, &action, &e.Timestamp, &revenue,
			&consentID, &lvl, &e.RevenueShareEnabled, &e.Client); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		e.ID = domain.UsageEntryID(id)
		e.Entity = domain.EntityRef{Kind: domain.EntityKind(kind), ID: entityID}
		e.ActorID = domain.ActorID(actorID)
		e.Action = domain.ConsentUse(action)
		e.ConsentLevel = domain.ConsentLevel(lvl)
		if revenue.Valid {
			v := revenue.Int64
			e.RevenueGenerated = &v
		}
		if consentID.Valid {
			e.ConsentEntryID = domain.ConsentEntryID(consentID.UUID)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
