package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"alma/internal/access"
	consentmodels "alma/internal/consent/models"
	"alma/internal/platform/metrics"
	"alma/internal/registry/models"
	"alma/internal/storage/memory"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/audit/publishers/compliance"
	"alma/pkg/platform/audit/publishers/security"
	auditmemory "alma/pkg/platform/audit/store/memory"
	"alma/pkg/requestcontext"
)

// =============================================================================
// Registry Service Test Suite
// =============================================================================
// Runs against the in-memory backend so transaction staging and rollback are
// exercised together with the governance rules.

type recordedRead struct {
	ref     domain.EntityRef
	consent consentmodels.LedgerEntry
}

type fakeUsage struct {
	reads []recordedRead
}

func (f *fakeUsage) LogUsage(_ context.Context, ref domain.EntityRef, _ domain.Actor, _ domain.ConsentUse, consent consentmodels.LedgerEntry, _ *int64) {
	f.reads = append(f.reads, recordedRead{ref: ref, consent: consent})
}

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.ComplianceEvent) error {
	return dErrors.New(dErrors.CodeInternal, "audit store down")
}

type RegistryServiceSuite struct {
	suite.Suite
	store   *memory.Store
	audit   *auditmemory.InMemoryStore
	usage   *fakeUsage
	service *Service

	org      domain.OrgID
	owner    domain.Actor
	outsider domain.Actor
	admin    domain.Actor
	ctx      context.Context
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	s.store = memory.New()
	s.audit = auditmemory.NewInMemoryStore()
	s.usage = &fakeUsage{}
	m := metrics.New(prometheus.NewRegistry())
	gate := access.NewGate(s.store, access.WithMetrics(m))
	s.service = New(s.store, s.store, gate,
		WithMetrics(m),
		WithUsageLogger(s.usage),
		WithAuditor(compliance.New(s.audit)),
	)

	s.org = domain.OrgID(uuid.New())
	s.owner = domain.Actor{ID: domain.ActorID(uuid.New()), Orgs: []domain.OrgID{s.org}}
	s.outsider = domain.Actor{ID: domain.ActorID(uuid.New()), Orgs: []domain.OrgID{domain.OrgID(uuid.New())}}
	s.admin = domain.Actor{ID: domain.ActorID(uuid.New()), Admin: true}
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func (s *RegistryServiceSuite) newIntervention(level domain.ConsentLevel, authority bool) *models.Intervention {
	iv := &models.Intervention{
		Name:          "On-country mentoring",
		Type:          models.TypeProgram,
		EvidenceLevel: models.EvidencePromising,
		HarmRisk:      models.HarmLow,
		Readiness:     models.ReadinessReadyWithSupport,
		Governance:    models.Governance{ConsentLevel: level},
	}
	if authority {
		org := s.org
		iv.CulturalAuthority = &org
	}
	return iv
}

func (s *RegistryServiceSuite) create(level domain.ConsentLevel, authority bool) models.Entity {
	in := CreateInput{Entity: s.newIntervention(level, authority)}
	if level.IsElevated() {
		in.PermittedUses = []domain.ConsentUse{domain.UseView}
	}
	e, err := s.service.Create(s.ctx, s.owner, in)
	s.Require().NoError(err)
	return e
}

// =============================================================================
// Create Tests
// =============================================================================

func (s *RegistryServiceSuite) TestCreate() {
	s.Run("defaults to draft strictly private owned by creator org", func() {
		e := s.create("", false)
		g := e.Gov()
		s.Equal(domain.ReviewDraft, g.ReviewStatus)
		s.Equal(domain.ConsentStrictlyPrivate, g.ConsentLevel)
		s.Require().NotNil(g.OwnerOrg)
		s.Equal(s.org, *g.OwnerOrg)
		s.Equal(int64(1), g.Version)

		events, err := s.audit.ListByEntity(s.ctx, e.Ref().String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventEntityCreated), events[0].Action)
	})

	s.Run("elevated consent appends initial ledger entry", func() {
		e := s.create(domain.ConsentCommunityControlled, true)
		latest, err := s.store.LatestConsent(s.ctx, e.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentCommunityControlled, latest.ConsentLevel)
		s.Equal(s.owner.ID, latest.GrantedBy)
	})

	s.Run("elevated consent without authority is a governance violation", func() {
		_, err := s.service.Create(s.ctx, s.owner, CreateInput{Entity: s.newIntervention(domain.ConsentCommunityControlled, false)})
		s.True(dErrors.HasCode(err, dErrors.CodeGovernanceViolation))
	})

	s.Run("non-draft status rejected", func() {
		iv := s.newIntervention("", false)
		iv.ReviewStatus = domain.ReviewPublished
		_, err := s.service.Create(s.ctx, s.owner, CreateInput{Entity: iv})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("anonymous caller rejected", func() {
		_, err := s.service.Create(s.ctx, domain.Anonymous(), CreateInput{Entity: s.newIntervention("", false)})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("creator outside owning org rejected", func() {
		iv := s.newIntervention("", true)
		org := s.org
		iv.OwnerOrg = &org
		_, err := s.service.Create(s.ctx, s.outsider, CreateInput{Entity: iv})
		s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	})

	s.Run("audit failure rolls back the insert", func() {
		svc := New(s.store, s.store, access.NewGate(s.store), WithAuditor(failingAuditor{}))
		iv := s.newIntervention(domain.ConsentCommunityControlled, true)
		_, err := svc.Create(s.ctx, s.owner, CreateInput{Entity: iv})
		s.Require().Error(err)

		_, getErr := s.store.GetEntity(s.ctx, iv.Ref())
		s.Error(getErr)
		history, err := s.store.ConsentHistory(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Empty(history)
	})
}

// =============================================================================
// Update Tests
// =============================================================================

func setStatus(status domain.ReviewStatus) func(models.Entity) error {
	return func(e models.Entity) error {
		e.Gov().ReviewStatus = status
		return nil
	}
}

func (s *RegistryServiceSuite) TestUpdate() {
	s.Run("forward review transitions bump version", func() {
		e := s.create(domain.ConsentCommunityControlled, true)
		for i, status := range []domain.ReviewStatus{domain.ReviewCommunityReview, domain.ReviewApproved, domain.ReviewPublished} {
			updated, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(status))
			s.Require().NoError(err)
			s.Equal(status, updated.Gov().ReviewStatus)
			s.Equal(int64(i+2), updated.Gov().Version)
		}
	})

	s.Run("skipping a review step is invalid state", func() {
		e := s.create(domain.ConsentCommunityControlled, true)
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(domain.ReviewPublished))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("publishing strictly private is a governance violation", func() {
		e := s.create("", true)
		for _, status := range []domain.ReviewStatus{domain.ReviewCommunityReview, domain.ReviewApproved} {
			_, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(status))
			s.Require().NoError(err)
		}
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(domain.ReviewPublished))
		s.True(dErrors.HasCode(err, dErrors.CodeGovernanceViolation))

		stored, err := s.store.GetEntity(s.ctx, e.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ReviewApproved, stored.Gov().ReviewStatus)
	})

	s.Run("published record stays editable after its consent expires", func() {
		expires := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		e, err := s.service.Create(s.ctx, s.owner, CreateInput{
			Entity:        s.newIntervention(domain.ConsentCommunityControlled, true),
			PermittedUses: []domain.ConsentUse{domain.UseView},
			ExpiresAt:     &expires,
		})
		s.Require().NoError(err)
		for _, status := range []domain.ReviewStatus{domain.ReviewCommunityReview, domain.ReviewApproved, domain.ReviewPublished} {
			_, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(status))
			s.Require().NoError(err)
		}

		afterExpiry := requestcontext.WithTime(context.Background(), expires.Add(time.Hour))
		updated, err := s.service.Update(afterExpiry, s.owner, e.Ref(), func(e models.Entity) error {
			e.(*models.Intervention).Name = "On-country mentoring (Yolŋu)"
			return nil
		})
		s.Require().NoError(err)
		s.Equal("On-country mentoring (Yolŋu)", updated.(*models.Intervention).Name)
		s.Equal(domain.ReviewPublished, updated.Gov().ReviewStatus)
	})

	s.Run("lowering consent is a governance violation", func() {
		e := s.create(domain.ConsentCommunityControlled, true)
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), func(e models.Entity) error {
			e.Gov().ConsentLevel = domain.ConsentStrictlyPrivate
			return nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeGovernanceViolation))
	})

	s.Run("raising consent is invalid state", func() {
		e := s.create("", true)
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), func(e models.Entity) error {
			e.Gov().ConsentLevel = domain.ConsentPublicKnowledgeCommons
			return nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("stewardship is fixed while consent is elevated", func() {
		e := s.create(domain.ConsentCommunityControlled, true)
		other := domain.OrgID(uuid.New())
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), func(e models.Entity) error {
			e.Gov().CulturalAuthority = &other
			return nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		_, err = s.service.Update(s.ctx, s.owner, e.Ref(), func(e models.Entity) error {
			e.Gov().OwnerOrg = &other
			return nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		stored, err := s.store.GetEntity(s.ctx, e.Ref())
		s.Require().NoError(err)
		s.Equal(s.org, *stored.Gov().CulturalAuthority)
	})

	s.Run("stewardship may change while strictly private", func() {
		e := s.create("", true)
		other := domain.OrgID(uuid.New())
		updated, err := s.service.Update(s.ctx, s.admin, e.Ref(), func(e models.Entity) error {
			e.Gov().CulturalAuthority = &other
			return nil
		})
		s.Require().NoError(err)
		s.Equal(other, *updated.Gov().CulturalAuthority)
	})

	s.Run("outsider sees not found for private record", func() {
		e := s.create("", false)
		_, err := s.service.Update(s.ctx, s.outsider, e.Ref(), setStatus(domain.ReviewCommunityReview))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("admin may manage any record", func() {
		e := s.create("", false)
		updated, err := s.service.Update(s.ctx, s.admin, e.Ref(), func(e models.Entity) error {
			e.(*models.Intervention).YearsOperating = 4
			return nil
		})
		s.Require().NoError(err)
		s.Equal(4, updated.(*models.Intervention).YearsOperating)
	})

	s.Run("review change is audited", func() {
		e := s.create("", false)
		_, err := s.service.Update(s.ctx, s.owner, e.Ref(), setStatus(domain.ReviewRejected))
		s.Require().NoError(err)
		events, err := s.audit.ListByEntity(s.ctx, e.Ref().String())
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(string(audit.EventReviewStatusChanged), events[1].Action)
		s.Equal(string(domain.ReviewRejected), events[1].Decision)
	})
}

// =============================================================================
// Read Tests
// =============================================================================

func (s *RegistryServiceSuite) TestGetAndList() {
	private := s.create("", false)
	shared := s.create(domain.ConsentCommunityControlled, true)
	for _, status := range []domain.ReviewStatus{domain.ReviewCommunityReview, domain.ReviewApproved} {
		_, err := s.service.Update(s.ctx, s.owner, shared.Ref(), setStatus(status))
		s.Require().NoError(err)
	}

	s.Run("owner reads private record and the read is logged", func() {
		before := len(s.usage.reads)
		got, err := s.service.Get(s.ctx, s.owner, private.Ref())
		s.Require().NoError(err)
		s.Equal(private.Ref(), got.Ref())
		s.Len(s.usage.reads, before+1)
	})

	s.Run("outsider gets not found for private record", func() {
		before := len(s.usage.reads)
		_, err := s.service.Get(s.ctx, s.outsider, private.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Len(s.usage.reads, before)
	})

	s.Run("list drops denied records", func() {
		got, err := s.service.List(s.ctx, s.outsider, domain.KindIntervention, models.Filter{})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(shared.Ref(), got[0].Ref())
	})

	s.Run("anonymous sees nothing community controlled", func() {
		got, err := s.service.List(s.ctx, domain.Anonymous(), domain.KindIntervention, models.Filter{})
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("limit applies after access filtering", func() {
		got, err := s.service.List(s.ctx, s.owner, domain.KindIntervention, models.Filter{Limit: 1})
		s.Require().NoError(err)
		s.Len(got, 1)
	})
}

func (s *RegistryServiceSuite) TestList_FilteredRowsAreNotSecurityEvents() {
	trail := auditmemory.NewInMemoryStore()
	publisher := security.New(trail, 16, nil)
	m := metrics.New(prometheus.NewRegistry())
	gate := access.NewGate(s.store, access.WithMetrics(m), access.WithAuditor(publisher))
	svc := New(s.store, s.store, gate, WithMetrics(m), WithAuditor(compliance.New(s.audit)))

	private := s.create("", false)
	_, err := svc.List(s.ctx, s.outsider, domain.KindIntervention, models.Filter{})
	s.Require().NoError(err)
	_, err = svc.ListLinks(s.ctx, s.owner, private.Ref())
	s.Require().NoError(err)

	publisher.Flush(s.ctx)
	events, err := trail.ListRecent(s.ctx, 100)
	s.Require().NoError(err)
	s.Empty(events)
	s.InDelta(1, promtestutil.ToFloat64(m.AccessDecisions.WithLabelValues("default_deny", "deny")), 0)

	_, err = svc.Get(s.ctx, s.outsider, private.Ref())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	publisher.Flush(s.ctx)
	events, err = trail.ListByEntity(s.ctx, private.Ref().String())
	s.Require().NoError(err)
	s.Require().Len(events, 1, "a direct read is still an access attempt")
	s.Equal(string(audit.EventAccessDenied), events[0].Action)
}

// =============================================================================
// Link Tests
// =============================================================================

func (s *RegistryServiceSuite) TestLinks() {
	iv := s.create("", false)
	org := s.org
	outcome, err := s.service.Create(s.ctx, s.owner, CreateInput{Entity: &models.Outcome{
		Name:       "school attendance",
		Category:   "education",
		Governance: models.Governance{CulturalAuthority: &org},
	}})
	s.Require().NoError(err)

	s.Run("link in either order is canonical", func() {
		link, err := s.service.Link(s.ctx, s.owner, outcome.Ref(), iv.Ref())
		s.Require().NoError(err)
		s.Equal(iv.Ref(), link.From)
		s.Equal(outcome.Ref(), link.To)
	})

	s.Run("duplicate link conflicts", func() {
		_, err := s.service.Link(s.ctx, s.owner, iv.Ref(), outcome.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("list links from either endpoint", func() {
		links, err := s.service.ListLinks(s.ctx, s.owner, outcome.Ref())
		s.Require().NoError(err)
		s.Require().Len(links, 1)
		s.Equal(iv.Ref(), links[0].Other(outcome.Ref()))
	})

	s.Run("outsider cannot link private records", func() {
		err := s.service.Unlink(s.ctx, s.outsider, iv.Ref(), outcome.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing endpoint is not found", func() {
		missing := domain.EvidenceID(uuid.New()).Ref()
		_, err := s.service.Link(s.ctx, s.owner, iv.Ref(), missing)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("disallowed pair is invalid input", func() {
		_, err := s.service.Link(s.ctx, s.owner, outcome.Ref(), outcome.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unlink then unlink again", func() {
		s.Require().NoError(s.service.Unlink(s.ctx, s.owner, iv.Ref(), outcome.Ref()))
		err := s.service.Unlink(s.ctx, s.owner, iv.Ref(), outcome.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
