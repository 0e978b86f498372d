package models

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// Entity is implemented by the four governed record kinds.
type Entity interface {
	Ref() domain.EntityRef
	Gov() *Governance
	Validate() error
	Clone() Entity
}

type InterventionType string

const (
	TypeProgram  InterventionType = "program"
	TypePractice InterventionType = "practice"
	TypeService  InterventionType = "service"
	TypePolicy   InterventionType = "policy"
	TypeApproach InterventionType = "approach"
)

func (t InterventionType) IsValid() bool {
	switch t {
	case TypeProgram, TypePractice, TypeService, TypePolicy, TypeApproach:
		return true
	}
	return false
}

type EvidenceLevel string

const (
	EvidenceUntested      EvidenceLevel = "untested"
	EvidencePromising     EvidenceLevel = "promising"
	EvidenceEffective     EvidenceLevel = "effective"
	EvidenceProven        EvidenceLevel = "proven"
	EvidenceIndigenousLed EvidenceLevel = "indigenous_led"
)

func (l EvidenceLevel) IsValid() bool {
	switch l {
	case EvidenceUntested, EvidencePromising, EvidenceEffective, EvidenceProven, EvidenceIndigenousLed:
		return true
	}
	return false
}

type HarmRisk string

const (
	HarmLow    HarmRisk = "low"
	HarmMedium HarmRisk = "medium"
	HarmHigh   HarmRisk = "high"
)

func (h HarmRisk) IsValid() bool {
	return h == HarmLow || h == HarmMedium || h == HarmHigh
}

type Readiness string

const (
	ReadinessNotReady         Readiness = "not_ready"
	ReadinessReadyWithSupport Readiness = "ready_with_support"
	ReadinessReadyIndependent Readiness = "ready_independent"
)

func (r Readiness) IsValid() bool {
	return r == ReadinessNotReady || r == ReadinessReadyWithSupport || r == ReadinessReadyIndependent
}

type EvidenceType string

const (
	EvidenceRCT               EvidenceType = "rct"
	EvidenceQuasiExperimental EvidenceType = "quasi_experimental"
	EvidenceProgramEvaluation EvidenceType = "program_evaluation"
	EvidenceCommunityStory    EvidenceType = "community_story"
	EvidenceLivedExperience   EvidenceType = "lived_experience"
	EvidenceOther             EvidenceType = "other"
)

func (t EvidenceType) IsValid() bool {
	switch t {
	case EvidenceRCT, EvidenceQuasiExperimental, EvidenceProgramEvaluation,
		EvidenceCommunityStory, EvidenceLivedExperience, EvidenceOther:
		return true
	}
	return false
}

// Intervention is a program, practice, service, policy or approach.
type Intervention struct {
	ID                     domain.InterventionID `json:"id"`
	Name                   string                `json:"name"`
	Type                   InterventionType      `json:"type"`
	Description            string                `json:"description,omitempty"`
	EvidenceLevel          EvidenceLevel         `json:"evidence_level"`
	HarmRisk               HarmRisk              `json:"harm_risk"`
	Readiness              Readiness             `json:"implementation_readiness"`
	HasReplicationPlaybook bool                  `json:"has_replication_playbook"`
	YearsOperating         int                   `json:"years_operating"`
	TargetCohorts          []string              `json:"target_cohorts,omitempty"`
	Governance
}

func (i *Intervention) Ref() domain.EntityRef { return i.ID.Ref() }

func (i *Intervention) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !i.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid intervention type")
	}
	if !i.EvidenceLevel.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid evidence_level")
	}
	if !i.HarmRisk.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid harm_risk")
	}
	if !i.Readiness.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid implementation_readiness")
	}
	if i.YearsOperating < 0 {
		return dErrors.New(dErrors.CodeValidation, "years_operating cannot be negative")
	}
	return nil
}

func (i *Intervention) Clone() Entity {
	out := *i
	out.TargetCohorts = slices.Clone(i.TargetCohorts)
	out.Governance = i.Governance.clone()
	return &out
}

// CommunityContext is a place-based community with its own cultural authority.
type CommunityContext struct {
	ID                  domain.ContextID `json:"id"`
	Name                string           `json:"name"`
	Geography           string           `json:"geography"`
	CulturalDescription string           `json:"cultural_description,omitempty"`
	Governance
}

func (c *CommunityContext) Ref() domain.EntityRef { return c.ID.Ref() }

func (c *CommunityContext) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(c.Geography) == "" {
		return dErrors.New(dErrors.CodeValidation, "geography is required")
	}
	return nil
}

func (c *CommunityContext) Clone() Entity {
	out := *c
	out.Governance = c.Governance.clone()
	return &out
}

// Evidence supports or describes an intervention's effect.
type Evidence struct {
	ID             domain.EvidenceID `json:"id"`
	Type           EvidenceType      `json:"evidence_type"`
	Title          string            `json:"title,omitempty"`
	EffectSize     *float64          `json:"effect_size,omitempty"`
	CulturallySafe bool              `json:"cultural_safety"`
	Provenance     string            `json:"provenance,omitempty"`
	Governance
}

func (e *Evidence) Ref() domain.EntityRef { return e.ID.Ref() }

func (e *Evidence) Validate() error {
	if !e.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid evidence_type")
	}
	return nil
}

func (e *Evidence) Clone() Entity {
	out := *e
	if e.EffectSize != nil {
		v := *e.EffectSize
		out.EffectSize = &v
	}
	out.Governance = e.Governance.clone()
	return &out
}

// Outcome is a reusable outcome category.
type Outcome struct {
	ID          domain.OutcomeID `json:"id"`
	Name        string           `json:"name"`
	Category    string           `json:"category,omitempty"`
	Description string           `json:"description,omitempty"`
	Governance
}

func (o *Outcome) Ref() domain.EntityRef { return o.ID.Ref() }

func (o *Outcome) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func (o *Outcome) Clone() Entity {
	out := *o
	out.Governance = o.Governance.clone()
	return &out
}

// New returns an empty entity of kind, for decoding stored documents.
func New(kind domain.EntityKind) (Entity, error) {
	switch kind {
	case domain.KindIntervention:
		return &Intervention{}, nil
	case domain.KindCommunityContext:
		return &CommunityContext{}, nil
	case domain.KindEvidence:
		return &Evidence{}, nil
	case domain.KindOutcome:
		return &Outcome{}, nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown entity kind")
}

// AssignID sets a fresh identifier on e.
func AssignID(e Entity, id uuid.UUID) {
	switch v := e.(type) {
	case *Intervention:
		v.ID = domain.InterventionID(id)
	case *CommunityContext:
		v.ID = domain.ContextID(id)
	case *Evidence:
		v.ID = domain.EvidenceID(id)
	case *Outcome:
		v.ID = domain.OutcomeID(id)
	}
}
