package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"alma/internal/registry/models"
	"alma/internal/registry/service"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	strutil "alma/pkg/platform/strings"
)

// GovernanceRequest carries the consent fields accepted on create.
type GovernanceRequest struct {
	ConsentLevel        string     `json:"consent_level" validate:"omitempty,oneof=strictly_private community_controlled public_knowledge_commons"`
	CulturalAuthority   string     `json:"cultural_authority" validate:"omitempty,uuid"`
	OwnerOrg            string     `json:"owner_org" validate:"omitempty,uuid"`
	PermittedUses       []string   `json:"permitted_uses" validate:"max=4,dive,oneof=view reuse republish commercial_license"`
	ExpiresAt           *time.Time `json:"expires_at"`
	RevenueShareEnabled bool       `json:"revenue_share_enabled"`
}

func (g GovernanceRequest) parse() (models.Governance, []domain.ConsentUse, error) {
	var out models.Governance
	if g.ConsentLevel != "" {
		level, err := domain.ParseConsentLevel(g.ConsentLevel)
		if err != nil {
			return out, nil, err
		}
		out.ConsentLevel = level
	}
	authority, err := parseOrg(g.CulturalAuthority, "cultural_authority")
	if err != nil {
		return out, nil, err
	}
	out.CulturalAuthority = authority
	owner, err := parseOrg(g.OwnerOrg, "owner_org")
	if err != nil {
		return out, nil, err
	}
	out.OwnerOrg = owner

	uses, err := parseUses(g.PermittedUses)
	if err != nil {
		return out, nil, err
	}
	return out, uses, nil
}

func (g GovernanceRequest) input(e models.Entity, uses []domain.ConsentUse) service.CreateInput {
	return service.CreateInput{
		Entity:              e,
		PermittedUses:       uses,
		ExpiresAt:           g.ExpiresAt,
		RevenueShareEnabled: g.RevenueShareEnabled,
	}
}

func parseOrg(raw, field string) (*domain.OrgID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	org, err := domain.ParseOrgID(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid "+field)
	}
	return &org, nil
}

func parseUses(raw []string) ([]domain.ConsentUse, error) {
	uses := make([]domain.ConsentUse, 0, len(raw))
	for _, s := range raw {
		u, err := domain.ParseConsentUse(s)
		if err != nil {
			return nil, err
		}
		uses = append(uses, u)
	}
	return uses, nil
}

// CreateInterventionRequest is the body of POST /interventions.
type CreateInterventionRequest struct {
	Name                    string   `json:"name" validate:"required,max=200"`
	Type                    string   `json:"type" validate:"required"`
	Description             string   `json:"description" validate:"max=4000"`
	EvidenceLevel           string   `json:"evidence_level" validate:"required"`
	HarmRisk                string   `json:"harm_risk" validate:"required"`
	ImplementationReadiness string   `json:"implementation_readiness" validate:"required"`
	HasReplicationPlaybook  bool     `json:"has_replication_playbook"`
	YearsOperating          int      `json:"years_operating" validate:"gte=0,lte=500"`
	TargetCohorts           []string `json:"target_cohorts" validate:"max=32,dive,required,max=100"`
	GovernanceRequest

	parsed service.CreateInput
}

// Validate parses the request into a draft intervention.
// Implements httputil.Validatable.
func (r *CreateInterventionRequest) Validate() error {
	gov, uses, err := r.GovernanceRequest.parse()
	if err != nil {
		return err
	}
	iv := &models.Intervention{
		Name:                   strings.TrimSpace(r.Name),
		Type:                   models.InterventionType(r.Type),
		Description:            strings.TrimSpace(r.Description),
		EvidenceLevel:          models.EvidenceLevel(r.EvidenceLevel),
		HarmRisk:               models.HarmRisk(r.HarmRisk),
		Readiness:              models.Readiness(r.ImplementationReadiness),
		HasReplicationPlaybook: r.HasReplicationPlaybook,
		YearsOperating:         r.YearsOperating,
		TargetCohorts:          strutil.DedupeAndTrim(r.TargetCohorts),
		Governance:             gov,
	}
	if err := iv.Validate(); err != nil {
		return err
	}
	r.parsed = r.GovernanceRequest.input(iv, uses)
	return nil
}

func (r *CreateInterventionRequest) Input() service.CreateInput { return r.parsed }

// CreateContextRequest is the body of POST /contexts.
type CreateContextRequest struct {
	Name                string `json:"name" validate:"required,max=200"`
	Geography           string `json:"geography" validate:"required,max=200"`
	CulturalDescription string `json:"cultural_description" validate:"max=4000"`
	GovernanceRequest

	parsed service.CreateInput
}

func (r *CreateContextRequest) Validate() error {
	gov, uses, err := r.GovernanceRequest.parse()
	if err != nil {
		return err
	}
	c := &models.CommunityContext{
		Name:                strings.TrimSpace(r.Name),
		Geography:           strings.TrimSpace(r.Geography),
		CulturalDescription: strings.TrimSpace(r.CulturalDescription),
		Governance:          gov,
	}
	if err := c.Validate(); err != nil {
		return err
	}
	r.parsed = r.GovernanceRequest.input(c, uses)
	return nil
}

func (r *CreateContextRequest) Input() service.CreateInput { return r.parsed }

// CreateEvidenceRequest is the body of POST /evidence.
type CreateEvidenceRequest struct {
	EvidenceType   string   `json:"evidence_type" validate:"required"`
	Title          string   `json:"title" validate:"max=300"`
	EffectSize     *float64 `json:"effect_size"`
	CulturalSafety bool     `json:"cultural_safety"`
	Provenance     string   `json:"provenance" validate:"max=2000"`
	GovernanceRequest

	parsed service.CreateInput
}

func (r *CreateEvidenceRequest) Validate() error {
	gov, uses, err := r.GovernanceRequest.parse()
	if err != nil {
		return err
	}
	ev := &models.Evidence{
		Type:           models.EvidenceType(r.EvidenceType),
		Title:          strings.TrimSpace(r.Title),
		EffectSize:     r.EffectSize,
		CulturallySafe: r.CulturalSafety,
		Provenance:     strings.TrimSpace(r.Provenance),
		Governance:     gov,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	r.parsed = r.GovernanceRequest.input(ev, uses)
	return nil
}

func (r *CreateEvidenceRequest) Input() service.CreateInput { return r.parsed }

// CreateOutcomeRequest is the body of POST /outcomes.
type CreateOutcomeRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Category    string `json:"category" validate:"max=100"`
	Description string `json:"description" validate:"max=4000"`
	GovernanceRequest

	parsed service.CreateInput
}

func (r *CreateOutcomeRequest) Validate() error {
	gov, uses, err := r.GovernanceRequest.parse()
	if err != nil {
		return err
	}
	o := &models.Outcome{
		Name:        strings.TrimSpace(r.Name),
		Category:    strings.TrimSpace(r.Category),
		Description: strings.TrimSpace(r.Description),
		Governance:  gov,
	}
	if err := o.Validate(); err != nil {
		return err
	}
	r.parsed = r.GovernanceRequest.input(o, uses)
	return nil
}

func (r *CreateOutcomeRequest) Input() service.CreateInput { return r.parsed }

// GovernancePatch carries the governance fields an update may touch. Consent
// level is accepted so the service can reject changes with the proper code.
type GovernancePatch struct {
	ReviewStatus      *string `json:"review_status" validate:"omitempty,oneof=draft community_review approved published rejected"`
	ConsentLevel      *string `json:"consent_level" validate:"omitempty,oneof=strictly_private community_controlled public_knowledge_commons"`
	CulturalAuthority *string `json:"cultural_authority" validate:"omitempty,uuid"`
	OwnerOrg          *string `json:"owner_org" validate:"omitempty,uuid"`
}

func (p GovernancePatch) apply(g *models.Governance) error {
	if p.ReviewStatus != nil {
		status, err := domain.ParseReviewStatus(*p.ReviewStatus)
		if err != nil {
			return err
		}
		g.ReviewStatus = status
	}
	if p.ConsentLevel != nil {
		level, err := domain.ParseConsentLevel(*p.ConsentLevel)
		if err != nil {
			return err
		}
		g.ConsentLevel = level
	}
	if p.CulturalAuthority != nil {
		org, err := parseOrg(*p.CulturalAuthority, "cultural_authority")
		if err != nil {
			return err
		}
		g.CulturalAuthority = org
	}
	if p.OwnerOrg != nil {
		org, err := parseOrg(*p.OwnerOrg, "owner_org")
		if err != nil {
			return err
		}
		g.OwnerOrg = org
	}
	return nil
}

func wrongKind(want domain.EntityKind) error {
	return dErrors.New(dErrors.CodeInvalidInput, "record is not a "+string(want))
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// PatchInterventionRequest is the body of PATCH /interventions/{id}.
type PatchInterventionRequest struct {
	Name                    *string  `json:"name" validate:"omitempty,max=200"`
	Type                    *string  `json:"type"`
	Description             *string  `json:"description" validate:"omitempty,max=4000"`
	EvidenceLevel           *string  `json:"evidence_level"`
	HarmRisk                *string  `json:"harm_risk"`
	ImplementationReadiness *string  `json:"implementation_readiness"`
	HasReplicationPlaybook  *bool    `json:"has_replication_playbook"`
	YearsOperating          *int     `json:"years_operating" validate:"omitempty,gte=0,lte=500"`
	TargetCohorts           []string `json:"target_cohorts" validate:"max=32,dive,required,max=100"`
	GovernancePatch
}

// Mutate returns the patch as an update function.
func (r *PatchInterventionRequest) Mutate() func(models.Entity) error {
	return func(e models.Entity) error {
		iv, ok := e.(*models.Intervention)
		if !ok {
			return wrongKind(domain.KindIntervention)
		}
		setString(&iv.Name, r.Name)
		setString(&iv.Description, r.Description)
		if r.Type != nil {
			iv.Type = models.InterventionType(*r.Type)
		}
		if r.EvidenceLevel != nil {
			iv.EvidenceLevel = models.EvidenceLevel(*r.EvidenceLevel)
		}
		if r.HarmRisk != nil {
			iv.HarmRisk = models.HarmRisk(*r.HarmRisk)
		}
		if r.ImplementationReadiness != nil {
			iv.Readiness = models.Readiness(*r.ImplementationReadiness)
		}
		if r.HasReplicationPlaybook != nil {
			iv.HasReplicationPlaybook = *r.HasReplicationPlaybook
		}
		if r.YearsOperating != nil {
			iv.YearsOperating = *r.YearsOperating
		}
		if r.TargetCohorts != nil {
			iv.TargetCohorts = strutil.DedupeAndTrim(r.TargetCohorts)
		}
		return r.GovernancePatch.apply(&iv.Governance)
	}
}

// PatchContextRequest is the body of PATCH /contexts/{id}.
type PatchContextRequest struct {
	Name                *string `json:"name" validate:"omitempty,max=200"`
	Geography           *string `json:"geography" validate:"omitempty,max=200"`
	CulturalDescription *string `json:"cultural_description" validate:"omitempty,max=4000"`
	GovernancePatch
}

func (r *PatchContextRequest) Mutate() func(models.Entity) error {
	return func(e models.Entity) error {
		c, ok := e.(*models.CommunityContext)
		if !ok {
			return wrongKind(domain.KindCommunityContext)
		}
		setString(&c.Name, r.Name)
		setString(&c.Geography, r.Geography)
		setString(&c.CulturalDescription, r.CulturalDescription)
		return r.GovernancePatch.apply(&c.Governance)
	}
}

// PatchEvidenceRequest is the body of PATCH /evidence/{id}.
type PatchEvidenceRequest struct {
	EvidenceType   *string  `json:"evidence_type"`
	Title          *string  `json:"title" validate:"omitempty,max=300"`
	EffectSize     *float64 `json:"effect_size"`
	CulturalSafety *bool    `json:"cultural_safety"`
	Provenance     *string  `json:"provenance" validate:"omitempty,max=2000"`
	GovernancePatch
}

func (r *PatchEvidenceRequest) Mutate() func(models.Entity) error {
	return func(e models.Entity) error {
		ev, ok := e.(*models.Evidence)
		if !ok {
			return wrongKind(domain.KindEvidence)
		}
		if r.EvidenceType != nil {
			ev.Type = models.EvidenceType(*r.EvidenceType)
		}
		setString(&ev.Title, r.Title)
		setString(&ev.Provenance, r.Provenance)
		if r.EffectSize != nil {
			v := *r.EffectSize
			ev.EffectSize = &v
		}
		if r.CulturalSafety != nil {
			ev.CulturallySafe = *r.CulturalSafety
		}
		return r.GovernancePatch.apply(&ev.Governance)
	}
}

// PatchOutcomeRequest is the body of PATCH /outcomes/{id}.
type PatchOutcomeRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Category    *string `json:"category" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	GovernancePatch
}

func (r *PatchOutcomeRequest) Mutate() func(models.Entity) error {
	return func(e models.Entity) error {
		o, ok := e.(*models.Outcome)
		if !ok {
			return wrongKind(domain.KindOutcome)
		}
		setString(&o.Name, r.Name)
		setString(&o.Category, r.Category)
		setString(&o.Description, r.Description)
		return r.GovernancePatch.apply(&o.Governance)
	}
}

// LinkRequest is the body of POST /links and DELETE /links.
type LinkRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`

	from, to domain.EntityRef
}

func (r *LinkRequest) Validate() error {
	from, err := domain.ParseEntityRef(r.From)
	if err != nil {
		return err
	}
	to, err := domain.ParseEntityRef(r.To)
	if err != nil {
		return err
	}
	r.from, r.to = from, to
	return nil
}

// parseFilter reads list filters from query parameters.
func parseFilter(q map[string][]string) (models.Filter, error) {
	get := func(key string) string {
		if v := q[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	var f models.Filter
	if v := get("type"); v != "" {
		t := models.InterventionType(v)
		if !t.IsValid() {
			return f, dErrors.New(dErrors.CodeInvalidInput, "invalid type filter")
		}
		f.Type = &t
	}
	if v := get("evidence_level"); v != "" {
		l := models.EvidenceLevel(v)
		if !l.IsValid() {
			return f, dErrors.New(dErrors.CodeInvalidInput, "invalid evidence_level filter")
		}
		f.EvidenceLevel = &l
	}
	if v := get("harm_risk"); v != "" {
		h := models.HarmRisk(v)
		if !h.IsValid() {
			return f, dErrors.New(dErrors.CodeInvalidInput, "invalid harm_risk filter")
		}
		f.HarmRisk = &h
	}
	if v := get("review_status"); v != "" {
		s, err := domain.ParseReviewStatus(v)
		if err != nil {
			return f, err
		}
		f.ReviewStatus = &s
	}
	if v := get("consent_level"); v != "" {
		l, err := domain.ParseConsentLevel(v)
		if err != nil {
			return f, err
		}
		f.ConsentLevel = &l
	}
	if v := get("limit"); v != "" {
		n, err := parseLimit(v)
		if err != nil {
			return f, err
		}
		f.Limit = n
	}
	return f, nil
}

func parseLimit(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
	}
	return n, nil
}

// parseRef builds a ref of kind from a path id.
func parseRef(kind domain.EntityKind, raw string) (domain.EntityRef, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return domain.EntityRef{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+string(kind)+" id")
	}
	return domain.EntityRef{Kind: kind, ID: id}, nil
}
