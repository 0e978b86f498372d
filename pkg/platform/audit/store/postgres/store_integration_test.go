//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	pgstore "alma/internal/storage/postgres"
	"alma/pkg/domain"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/audit/store/postgres"
	txcontext "alma/pkg/platform/tx"
	"alma/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(pgstore.Migrate(context.Background(), s.postgres.DB))
	s.store = postgres.New(s.postgres.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	entity := domain.InterventionID(uuid.New()).Ref().String()
	actor := domain.ActorID(uuid.New())
	at := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, audit.ComplianceEvent{
		Timestamp: at.Add(time.Second), ActorID: actor, Entity: entity,
		Action: audit.EventConsentGranted, Decision: "community_controlled", RequestID: "req-2",
	}.ToEvent()))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: at, Entity: entity, Action: string(audit.EventAccessDenied), Reason: "view",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: at, Entity: "outcome:other", Action: string(audit.EventEntityCreated),
	}))

	events, err := s.store.ListByEntity(ctx, entity)
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	s.Equal(audit.CategorySecurity, events[0].Category, "category is derived from the action when unset")
	s.True(events[0].ActorID.IsNil())
	s.True(at.Equal(events[0].Timestamp))

	s.Equal(audit.CategoryCompliance, events[1].Category)
	s.Equal(actor, events[1].ActorID)
	s.Equal("community_controlled", events[1].Decision)
	s.Equal("req-2", events[1].RequestID)
}

func (s *AuditStoreSuite) TestAppendJoinsTransaction() {
	ctx := context.Background()
	entity := domain.OutcomeID(uuid.New()).Ref().String()

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(txcontext.WithTx(ctx, tx), audit.Event{
		Timestamp: time.Now(), Entity: entity, Action: string(audit.EventReviewStatusChanged),
	}))
	s.Require().NoError(tx.Rollback())

	events, err := s.store.ListByEntity(ctx, entity)
	s.Require().NoError(err)
	s.Empty(events)
}
