package domain

import (
	"github.com/google/uuid"

	dErrors "alma/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct named UUID type so the compiler rejects
// passing an EvidenceID where an InterventionID is expected.
type (
	InterventionID uuid.UUID
	ContextID      uuid.UUID
	EvidenceID     uuid.UUID
	OutcomeID      uuid.UUID
	ConsentEntryID uuid.UUID
	UsageEntryID   uuid.UUID
	ActorID        uuid.UUID
	OrgID          uuid.UUID
)

// parseUUID enforces "non-empty, well-formed, non-nil" at trust boundaries.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

func ParseInterventionID(s string) (InterventionID, error) {
	u, err := parseUUID(s, "intervention id")
	return InterventionID(u), err
}

func ParseContextID(s string) (ContextID, error) {
	u, err := parseUUID(s, "context id")
	return ContextID(u), err
}

func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID(s, "evidence id")
	return EvidenceID(u), err
}

func ParseOutcomeID(s string) (OutcomeID, error) {
	u, err := parseUUID(s, "outcome id")
	return OutcomeID(u), err
}

func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor id")
	return ActorID(u), err
}

func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID(s, "organization id")
	return OrgID(u), err
}

func (id InterventionID) String() string { return uuid.UUID(id).String() }
func (id ContextID) String() string      { return uuid.UUID(id).String() }
func (id EvidenceID) String() string     { return uuid.UUID(id).String() }
func (id OutcomeID) String() string      { return uuid.UUID(id).String() }
func (id ConsentEntryID) String() string { return uuid.UUID(id).String() }
func (id UsageEntryID) String() string   { return uuid.UUID(id).String() }
func (id ActorID) String() string        { return uuid.UUID(id).String() }
func (id OrgID) String() string          { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id OrgID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ConsentEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Ref helpers lift a typed id into the polymorphic EntityRef.
func (id InterventionID) Ref() EntityRef { return EntityRef{Kind: KindIntervention, ID: uuid.UUID(id)} }
func (id ContextID) Ref() EntityRef      { return EntityRef{Kind: KindCommunityContext, ID: uuid.UUID(id)} }
func (id EvidenceID) Ref() EntityRef     { return EntityRef{Kind: KindEvidence, ID: uuid.UUID(id)} }
func (id OutcomeID) Ref() EntityRef      { return EntityRef{Kind: KindOutcome, ID: uuid.UUID(id)} }

// Text marshalling keeps ids as canonical UUID strings in JSON and map keys.
func (id InterventionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id ContextID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id EvidenceID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id OutcomeID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ConsentEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id UsageEntryID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ActorID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id OrgID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }

func (id *InterventionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ContextID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EvidenceID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OutcomeID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ConsentEntryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UsageEntryID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ActorID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OrgID) UnmarshalText(b []byte) error          { return (*uuid.UUID)(id).UnmarshalText(b) }
