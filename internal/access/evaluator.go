// Package access decides whether an actor may read or use a governed record.
//
// CanAccess is pure: it receives the record's review status, its effective
// consent and its owning organization, and returns a Decision naming the rule
// that matched. Gate wraps it with storage lookups, masking and metrics.
package access

import (
	consentmodels "alma/internal/consent/models"
	"alma/pkg/domain"
)

// Rule names the clause of the access policy that produced a decision.
type Rule string

const (
	RulePublicCommons       Rule = "public_commons"
	RuleCommunityControlled Rule = "community_controlled"
	RuleOwnerOrg            Rule = "owner_org"
	RulePlatformAdmin       Rule = "platform_admin"
	RuleDefaultDeny         Rule = "default_deny"
)

// Subject is everything the evaluator needs to know about a record.
type Subject struct {
	Ref          domain.EntityRef
	ReviewStatus domain.ReviewStatus
	// Consent must already be the effective entry (expired => StrictlyPrivate).
	Consent  consentmodels.LedgerEntry
	OwnerOrg *domain.OrgID
}

// Decision is the evaluator's verdict. Rule is for logs and metrics only.
type Decision struct {
	Allowed bool
	Rule    Rule
}

func allow(r Rule) Decision { return Decision{Allowed: true, Rule: r} }

// CanAccess applies the access policy. First match wins:
//  1. Published commons records are open to anyone for permitted uses
//  2. Approved or published community-controlled records are open to authenticated actors for permitted uses
//  3. Members of the owning organization
//  4. Platform administrators
//  5. Everyone else is denied
func CanAccess(actor domain.Actor, subject Subject, action domain.ConsentUse) Decision {
	tier := subject.Consent.ConsentLevel
	permitted := subject.Consent.Permits(action)

	// Rule 1: public knowledge commons
	if subject.ReviewStatus == domain.ReviewPublished && tier == domain.ConsentPublicKnowledgeCommons && permitted {
		return allow(RulePublicCommons)
	}

	// Rule 2: community controlled, authenticated callers only
	if subject.ReviewStatus.IsPublicFacing() && tier == domain.ConsentCommunityControlled && permitted && actor.IsAuthenticated() {
		return allow(RuleCommunityControlled)
	}

	if !actor.IsAuthenticated() {
		return Decision{Rule: RuleDefaultDeny}
	}

	// Rule 3: owning organization
	if subject.OwnerOrg != nil && actor.MemberOf(*subject.OwnerOrg) {
		return allow(RuleOwnerOrg)
	}

	// Rule 4: platform admin
	if actor.Admin {
		return allow(RulePlatformAdmin)
	}

	return Decision{Rule: RuleDefaultDeny}
}

// CanManage reports whether actor may change a record's content or consent.
// Only the stewards of a record qualify: owning-org members and admins.
func CanManage(actor domain.Actor, subject Subject) Decision {
	if !actor.IsAuthenticated() {
		return Decision{Rule: RuleDefaultDeny}
	}
	if subject.OwnerOrg != nil && actor.MemberOf(*subject.OwnerOrg) {
		return allow(RuleOwnerOrg)
	}
	if actor.Admin {
		return allow(RulePlatformAdmin)
	}
	return Decision{Rule: RuleDefaultDeny}
}
