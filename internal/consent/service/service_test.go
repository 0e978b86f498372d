package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"alma/internal/access"
	"alma/internal/consent/models"
	regmodels "alma/internal/registry/models"
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
// Consent Ledger Test Suite
// =============================================================================

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.ComplianceEvent) error {
	return dErrors.New(dErrors.CodeInternal, "audit store down")
}

type ConsentServiceSuite struct {
	suite.Suite
	store    *memory.Store
	audit    *auditmemory.InMemoryStore
	security *security.Publisher
	service  *Service

	org    domain.OrgID
	owner  domain.Actor
	reader domain.Actor
	now    time.Time
	ctx    context.Context
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.store = memory.New()
	s.audit = auditmemory.NewInMemoryStore()
	s.security = security.New(s.audit, 16, nil)
	gate := access.NewGate(s.store, access.WithAuditor(s.security))
	s.service = New(s.store, s.store, gate, WithAuditor(compliance.New(s.audit)))
	s.org = domain.OrgID(uuid.New())
	s.owner = domain.Actor{ID: domain.ActorID(uuid.New()), Orgs: []domain.OrgID{s.org}}
	s.reader = domain.Actor{ID: domain.ActorID(uuid.New())}
	s.now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

// seed stores a record directly, bypassing the entity store rules.
func (s *ConsentServiceSuite) seed(status domain.ReviewStatus, authority bool) *regmodels.Intervention {
	org := s.org
	iv := &regmodels.Intervention{
		ID:            domain.InterventionID(uuid.New()),
		Name:          "Elders in schools",
		Type:          regmodels.TypePractice,
		EvidenceLevel: regmodels.EvidenceIndigenousLed,
		HarmRisk:      regmodels.HarmLow,
		Readiness:     regmodels.ReadinessReadyIndependent,
		Governance: regmodels.Governance{
			ConsentLevel: domain.ConsentStrictlyPrivate,
			OwnerOrg:     &org,
			ReviewStatus: status,
			Version:      1,
		},
	}
	if authority {
		iv.CulturalAuthority = &org
	}
	s.Require().NoError(s.store.InsertEntity(s.ctx, iv))
	return iv
}

func (s *ConsentServiceSuite) grantReq(ref domain.EntityRef, level domain.ConsentLevel) models.GrantRequest {
	return models.GrantRequest{Entity: ref, ConsentLevel: level}
}

// =============================================================================
// Grant Tests
// =============================================================================

func (s *ConsentServiceSuite) TestGrant() {
	s.Run("grant appends entry and mirrors tier", func() {
		iv := s.seed(domain.ReviewDraft, true)
		entry, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentCommunityControlled))
		s.Require().NoError(err)
		s.Equal([]domain.ConsentUse{domain.UseView}, entry.PermittedUses)
		s.Equal(s.owner.ID, entry.GrantedBy)
		s.Equal(s.now, entry.GrantedAt)

		stored, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentCommunityControlled, stored.Gov().ConsentLevel)
		s.Equal(int64(2), stored.Gov().Version)

		events, err := s.audit.ListByEntity(s.ctx, iv.Ref().String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventConsentGranted), events[0].Action)
	})

	s.Run("grant without cultural authority is a governance violation", func() {
		iv := s.seed(domain.ReviewDraft, false)
		_, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentCommunityControlled))
		s.True(dErrors.HasCode(err, dErrors.CodeGovernanceViolation))

		history, err := s.store.ConsentHistory(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Empty(history)

		s.security.Flush(s.ctx)
		events, err := s.audit.ListByEntity(s.ctx, iv.Ref().String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventGovernanceViolation), events[0].Action)
		s.Equal(audit.CategorySecurity, events[0].Category)
	})

	s.Run("grant cannot narrow consent", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons))
		s.Require().NoError(err)

		_, err = s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentCommunityControlled))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		stored, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentPublicKnowledgeCommons, stored.Gov().ConsentLevel)
		history, err := s.store.ConsentHistory(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Len(history, 1)

		_, err = s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons))
		s.NoError(err, "re-granting the same tier renews the terms")
	})

	s.Run("a lower tier may be granted once the previous grant expired", func() {
		iv := s.seed(domain.ReviewDraft, true)
		req := s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons)
		expires := s.now.Add(time.Hour)
		req.ExpiresAt = &expires
		_, err := s.service.Grant(s.ctx, s.owner, req)
		s.Require().NoError(err)

		later := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Hour))
		_, err = s.service.Grant(later, s.owner, s.grantReq(iv.Ref(), domain.ConsentCommunityControlled))
		s.NoError(err)
	})

	s.Run("strictly private tier is rejected", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentStrictlyPrivate))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("past expiry is rejected", func() {
		iv := s.seed(domain.ReviewDraft, true)
		req := s.grantReq(iv.Ref(), domain.ConsentCommunityControlled)
		past := s.now.Add(-time.Minute)
		req.ExpiresAt = &past
		_, err := s.service.Grant(s.ctx, s.owner, req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("non-member gets not found on private record", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Grant(s.ctx, s.reader, s.grantReq(iv.Ref(), domain.ConsentCommunityControlled))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("audit failure rolls back entry and mirror", func() {
		svc := New(s.store, s.store, access.NewGate(s.store), WithAuditor(failingAuditor{}))
		iv := s.seed(domain.ReviewDraft, true)
		_, err := svc.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons))
		s.Require().Error(err)

		stored, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentStrictlyPrivate, stored.Gov().ConsentLevel)
		history, err := s.store.ConsentHistory(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Empty(history)
	})
}

// =============================================================================
// Revoke Tests
// =============================================================================

func (s *ConsentServiceSuite) TestRevoke() {
	s.Run("revoke pulls published record back to community review", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons))
		s.Require().NoError(err)
		stored, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		stored.Gov().ReviewStatus = domain.ReviewPublished
		s.Require().NoError(s.store.UpdateEntity(s.ctx, stored))

		_, err = s.service.Current(s.ctx, s.reader, iv.Ref())
		s.Require().NoError(err, "published commons record should be visible before revocation")

		entry, err := s.service.Revoke(s.ctx, s.owner, iv.Ref(), "community withdrew consent")
		s.Require().NoError(err)
		s.Equal(domain.ConsentStrictlyPrivate, entry.ConsentLevel)
		s.Empty(entry.PermittedUses)

		after, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ReviewCommunityReview, after.Gov().ReviewStatus)
		s.Equal(domain.ConsentStrictlyPrivate, after.Gov().ConsentLevel)

		_, err = s.service.Current(s.ctx, s.reader, iv.Ref())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		history, err := s.service.History(s.ctx, s.owner, iv.Ref())
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(domain.ConsentPublicKnowledgeCommons, history[0].ConsentLevel)
		s.Equal("community withdrew consent", history[1].Reason)
	})

	s.Run("draft record keeps its status", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Revoke(s.ctx, s.owner, iv.Ref(), "")
		s.Require().NoError(err)
		after, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ReviewDraft, after.Gov().ReviewStatus)
	})

	s.Run("viewer who cannot manage is denied", func() {
		iv := s.seed(domain.ReviewDraft, true)
		_, err := s.service.Grant(s.ctx, s.owner, s.grantReq(iv.Ref(), domain.ConsentPublicKnowledgeCommons))
		s.Require().NoError(err)
		stored, err := s.store.GetEntity(s.ctx, iv.Ref())
		s.Require().NoError(err)
		stored.Gov().ReviewStatus = domain.ReviewPublished
		s.Require().NoError(s.store.UpdateEntity(s.ctx, stored))

		_, err = s.service.Revoke(s.ctx, s.reader, iv.Ref(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	})
}

// =============================================================================
// Current Tests
// =============================================================================

func (s *ConsentServiceSuite) TestCurrentExpiry() {
	iv := s.seed(domain.ReviewDraft, true)
	req := s.grantReq(iv.Ref(), domain.ConsentCommunityControlled)
	expires := s.now.Add(time.Hour)
	req.ExpiresAt = &expires
	req.RevenueShareEnabled = true
	_, err := s.service.Grant(s.ctx, s.owner, req)
	s.Require().NoError(err)

	s.Run("before expiry the grant is in force", func() {
		current, err := s.service.Current(s.ctx, s.owner, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentCommunityControlled, current.ConsentLevel)
		s.True(current.RevenueShareEnabled)
	})

	s.Run("at expiry the record is implicitly private", func() {
		later := requestcontext.WithTime(context.Background(), expires)
		current, err := s.service.Current(later, s.owner, iv.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentStrictlyPrivate, current.ConsentLevel)
		s.True(current.Implicit)
		s.False(current.RevenueShareEnabled)
	})

	s.Run("no entries means strictly private", func() {
		other := s.seed(domain.ReviewDraft, false)
		current, err := s.service.Current(s.ctx, s.owner, other.Ref())
		s.Require().NoError(err)
		s.Equal(domain.ConsentStrictlyPrivate, current.ConsentLevel)
		s.True(current.Implicit)
	})
}
