package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "alma/pkg/domain-errors"
)

// EntityKind tags the governed record collections.
type EntityKind string

const (
	KindIntervention     EntityKind = "intervention"
	KindCommunityContext EntityKind = "context"
	KindEvidence         EntityKind = "evidence"
	KindOutcome          EntityKind = "outcome"
)

var validKinds = map[EntityKind]bool{
	KindIntervention:     true,
	KindCommunityContext: true,
	KindEvidence:         true,
	KindOutcome:          true,
}

func (k EntityKind) IsValid() bool { return validKinds[k] }

func (k EntityKind) String() string { return string(k) }

// EntityRef is a tagged reference to any governed record. Ledger and usage
// entries point at entities through it rather than through an untyped key.
//
// Wire form is "kind:uuid".
type EntityRef struct {
	Kind EntityKind
	ID   uuid.UUID
}

// ParseEntityRef parses the "kind:uuid" wire form.
func ParseEntityRef(s string) (EntityRef, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return EntityRef{}, dErrors.New(dErrors.CodeInvalidInput, "entity ref must be kind:id")
	}
	k := EntityKind(kind)
	if !k.IsValid() {
		return EntityRef{}, dErrors.New(dErrors.CodeInvalidInput, "unknown entity kind")
	}
	u, err := parseUUID(rawID, "entity id")
	if err != nil {
		return EntityRef{}, err
	}
	return EntityRef{Kind: k, ID: u}, nil
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == uuid.Nil
}

func (r EntityRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *EntityRef) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
