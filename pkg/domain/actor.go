package domain

import "slices"

// Actor is the identity assertion supplied by the external identity provider.
// The zero value is an anonymous caller.
type Actor struct {
	ID    ActorID
	Orgs  []OrgID
	Admin bool
}

// Anonymous returns the unauthenticated actor.
func Anonymous() Actor {
	return Actor{}
}

// IsAuthenticated reports whether the identity provider vouched for the actor.
func (a Actor) IsAuthenticated() bool {
	return !a.ID.IsNil()
}

// MemberOf reports whether the actor belongs to org.
func (a Actor) MemberOf(org OrgID) bool {
	if org.IsNil() {
		return false
	}
	return slices.Contains(a.Orgs, org)
}
