package domain

import dErrors "alma/pkg/domain-errors"

// ConsentLevel is the consent tier governing who may access or reuse a record.
// Tiers are ordered: StrictlyPrivate < CommunityControlled < PublicKnowledgeCommons.
type ConsentLevel string

const (
	ConsentStrictlyPrivate        ConsentLevel = "strictly_private"
	ConsentCommunityControlled    ConsentLevel = "community_controlled"
	ConsentPublicKnowledgeCommons ConsentLevel = "public_knowledge_commons"
)

var consentRank = map[ConsentLevel]int{
	ConsentStrictlyPrivate:        0,
	ConsentCommunityControlled:    1,
	ConsentPublicKnowledgeCommons: 2,
}

func ParseConsentLevel(s string) (ConsentLevel, error) {
	l := ConsentLevel(s)
	if !l.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid consent level")
	}
	return l, nil
}

func (l ConsentLevel) IsValid() bool {
	_, ok := consentRank[l]
	return ok
}

// IsElevated reports whether the tier is beyond StrictlyPrivate.
func (l ConsentLevel) IsElevated() bool {
	return consentRank[l] > 0
}

// Less reports whether l is a strictly lower tier than other.
func (l ConsentLevel) Less(other ConsentLevel) bool {
	return consentRank[l] < consentRank[other]
}

func (l ConsentLevel) String() string { return string(l) }

// ConsentUse is one permitted use of a consented record.
type ConsentUse string

const (
	UseView              ConsentUse = "view"
	UseReuse             ConsentUse = "reuse"
	UseRepublish         ConsentUse = "republish"
	UseCommercialLicense ConsentUse = "commercial_license"
)

// validConsentUses is the single source of truth for permitted uses.
var validConsentUses = map[ConsentUse]bool{
	UseView:              true,
	UseReuse:             true,
	UseRepublish:         true,
	UseCommercialLicense: true,
}

// ParseConsentUse constructs a ConsentUse from external input.
func ParseConsentUse(s string) (ConsentUse, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "use cannot be empty")
	}
	u := ConsentUse(s)
	if !u.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid use: "+s)
	}
	return u, nil
}

func (u ConsentUse) IsValid() bool { return validConsentUses[u] }

func (u ConsentUse) String() string { return string(u) }

// ReviewStatus tracks the community review lifecycle of a record.
type ReviewStatus string

const (
	ReviewDraft           ReviewStatus = "draft"
	ReviewCommunityReview ReviewStatus = "community_review"
	ReviewApproved        ReviewStatus = "approved"
	ReviewPublished       ReviewStatus = "published"
	ReviewRejected        ReviewStatus = "rejected"
)

// reviewTransitions lists the forward-only moves available to review actors.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewDraft:           {ReviewCommunityReview, ReviewRejected},
	ReviewCommunityReview: {ReviewApproved, ReviewRejected},
	ReviewApproved:        {ReviewPublished, ReviewRejected},
}

func ParseReviewStatus(s string) (ReviewStatus, error) {
	r := ReviewStatus(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid review status")
	}
	return r, nil
}

func (r ReviewStatus) IsValid() bool {
	switch r {
	case ReviewDraft, ReviewCommunityReview, ReviewApproved, ReviewPublished, ReviewRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether a review actor may move r to next.
func (r ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[r] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPublicFacing is true for statuses that can expose a record beyond its owners.
func (r ReviewStatus) IsPublicFacing() bool {
	return r == ReviewApproved || r == ReviewPublished
}

func (r ReviewStatus) String() string { return string(r) }
