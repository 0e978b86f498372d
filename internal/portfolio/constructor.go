package portfolio

import (
	"cmp"
	"math"
	"slices"

	"alma/internal/registry/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
)

// EndorsedThreshold is the community authority signal at or above which a
// candidate counts as community-endorsed.
const EndorsedThreshold = 0.8

// nearMissLimit bounds the candidate ids listed per gap.
const nearMissLimit = 5

// Gap dimensions.
const (
	DimensionGeography = "geography"
	DimensionCohort    = "cohort"
	DimensionType      = "type"
	DimensionUntested  = "untested_proportion"
	DimensionEndorsed  = "endorsed_proportion"
)

// Candidate is a scored intervention offered to the constructor.
type Candidate struct {
	Signals       Signals                 `json:"signals"`
	Type          models.InterventionType `json:"type"`
	EvidenceLevel models.EvidenceLevel    `json:"evidence_level"`
	Cohorts       []string                `json:"target_cohorts,omitempty"`
}

// NewCandidate pairs in with its computed signals.
func NewCandidate(in *models.Intervention, s Signals) Candidate {
	return Candidate{
		Signals:       s,
		Type:          in.Type,
		EvidenceLevel: in.EvidenceLevel,
		Cohorts:       slices.Clone(in.TargetCohorts),
	}
}

func (c Candidate) ID() domain.InterventionID { return c.Signals.InterventionID }
func (c Candidate) Score() float64            { return c.Signals.PortfolioScore }
func (c Candidate) Untested() bool            { return c.EvidenceLevel == models.EvidenceUntested }
func (c Candidate) Endorsed() bool            { return c.Signals.CommunityAuthority >= EndorsedThreshold }

func (c Candidate) covers(dimension, value string) bool {
	switch dimension {
	case DimensionGeography:
		return slices.Contains(c.Signals.Geographies, value)
	case DimensionCohort:
		return slices.Contains(c.Cohorts, value)
	case DimensionType:
		return string(c.Type) == value
	}
	return false
}

// Constraints shape a portfolio. Proportion limits are hard; target counts
// are soft and only reported as gaps.
type Constraints struct {
	// MaxSize caps the selection; zero means no cap.
	MaxSize int `json:"max_size"`
	// MaxUntestedProportion is nil when untested candidates are unrestricted.
	MaxUntestedProportion *float64 `json:"max_untested_proportion,omitempty"`
	// MinEndorsedProportion of zero disables the endorsement floor.
	MinEndorsedProportion float64        `json:"min_community_endorsed_proportion"`
	TargetGeographies     map[string]int `json:"target_geographies,omitempty"`
	TargetCohorts         map[string]int `json:"target_cohorts,omitempty"`
	TargetTypes           map[string]int `json:"target_types,omitempty"`
}

func (c Constraints) Validate() error {
	if c.MaxSize < 0 {
		return dErrors.New(dErrors.CodeValidation, "max_size cannot be negative")
	}
	if p := c.MaxUntestedProportion; p != nil && (*p < 0 || *p > 1) {
		return dErrors.New(dErrors.CodeValidation, "max_untested_proportion must be between 0 and 1")
	}
	if c.MinEndorsedProportion < 0 || c.MinEndorsedProportion > 1 {
		return dErrors.New(dErrors.CodeValidation, "min_community_endorsed_proportion must be between 0 and 1")
	}
	for _, targets := range []map[string]int{c.TargetGeographies, c.TargetCohorts, c.TargetTypes} {
		for _, n := range targets {
			if n < 0 {
				return dErrors.New(dErrors.CodeValidation, "target counts cannot be negative")
			}
		}
	}
	for t := range c.TargetTypes {
		if !models.InterventionType(t).IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown intervention type in target_types")
		}
	}
	return nil
}

// Gap reports a dimension the selection falls short on.
type Gap struct {
	Dimension  string                  `json:"dimension"`
	Value      string                  `json:"value,omitempty"`
	Current    float64                 `json:"current"`
	Target     float64                 `json:"target"`
	NearMisses []domain.InterventionID `json:"nearest_miss_ids"`
}

// Result is the ordered selection plus its gap report.
type Result struct {
	Selected       []Candidate `json:"selected"`
	AggregateScore float64     `json:"aggregate_score"`
	Gaps           []Gap       `json:"gaps"`
}

// Construct selects a ranked subset of candidates. Candidates are taken in
// descending score order (ties by id). A candidate that would push the
// untested share above floor(max*n) is skipped and retried on later passes
// as the selection grows. Once no pass admits anything, the lowest-scoring
// non-endorsed picks are dropped until the endorsed floor holds.
func Construct(candidates []Candidate, c Constraints) Result {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, byScore)
	ranked = slices.CompactFunc(ranked, func(a, b Candidate) bool { return a.ID() == b.ID() })

	limit := len(ranked)
	if c.MaxSize > 0 && c.MaxSize < limit {
		limit = c.MaxSize
	}

	var (
		selected []Candidate
		untested int
		taken    = make(map[domain.InterventionID]bool, len(ranked))
		capped   = make(map[domain.InterventionID]bool)
	)
	for progress := true; progress && len(selected) < limit; {
		progress = false
		for _, cand := range ranked {
			if len(selected) == limit {
				break
			}
			if taken[cand.ID()] {
				continue
			}
			nextUntested := untested
			if cand.Untested() {
				nextUntested++
			}
			if !untestedWithin(nextUntested, len(selected)+1, c.MaxUntestedProportion) {
				capped[cand.ID()] = true
				continue
			}
			selected = append(selected, cand)
			taken[cand.ID()] = true
			delete(capped, cand.ID())
			untested = nextUntested
			progress = true
		}
	}
	// Later passes append out of order.
	slices.SortStableFunc(selected, byScore)

	trimmed := enforceEndorsed(&selected, c)

	res := Result{Selected: selected}
	if res.Selected == nil {
		res.Selected = []Candidate{}
	}
	for _, s := range selected {
		res.AggregateScore += s.Score()
	}
	res.Gaps = gaps(ranked, selected, c, capped, trimmed)
	return res
}

// enforceEndorsed drops non-endorsed picks from the bottom until the
// endorsed floor holds, then drops untested picks if the shrink broke the
// untested cap. It returns the dropped ids in drop order.
func enforceEndorsed(selected *[]Candidate, c Constraints) []domain.InterventionID {
	var dropped []domain.InterventionID
	for !endorsedWithin(*selected, c.MinEndorsedProportion) {
		i := lastIndex(*selected, func(x Candidate) bool { return !x.Endorsed() })
		if i < 0 {
			break
		}
		dropped = append(dropped, (*selected)[i].ID())
		*selected = slices.Delete(*selected, i, i+1)

		for !untestedWithin(countUntested(*selected), len(*selected), c.MaxUntestedProportion) {
			j := lastIndex(*selected, Candidate.Untested)
			dropped = append(dropped, (*selected)[j].ID())
			*selected = slices.Delete(*selected, j, j+1)
		}
	}
	return dropped
}

func gaps(ranked, selected []Candidate, c Constraints, capped map[domain.InterventionID]bool, trimmed []domain.InterventionID) []Gap {
	chosen := make(map[domain.InterventionID]bool, len(selected))
	for _, s := range selected {
		chosen[s.ID()] = true
	}

	var out []Gap
	for _, dim := range []struct {
		name    string
		targets map[string]int
	}{
		{DimensionGeography, c.TargetGeographies},
		{DimensionCohort, c.TargetCohorts},
		{DimensionType, c.TargetTypes},
	} {
		for _, value := range sortedKeys(dim.targets) {
			target := dim.targets[value]
			current := 0
			for _, s := range selected {
				if s.covers(dim.name, value) {
					current++
				}
			}
			if current >= target {
				continue
			}
			out = append(out, Gap{
				Dimension: dim.name,
				Value:     value,
				Current:   float64(current),
				Target:    float64(target),
				NearMisses: nearMisses(ranked, func(x Candidate) bool {
					return !chosen[x.ID()] && x.covers(dim.name, value)
				}),
			})
		}
	}

	if len(capped) > 0 && c.MaxUntestedProportion != nil {
		out = append(out, Gap{
			Dimension: DimensionUntested,
			Current:   proportion(countUntested(selected), len(selected)),
			Target:    *c.MaxUntestedProportion,
			NearMisses: nearMisses(ranked, func(x Candidate) bool {
				return capped[x.ID()] && !chosen[x.ID()]
			}),
		})
	}
	if len(trimmed) > 0 {
		ids := trimmed
		if len(ids) > nearMissLimit {
			ids = ids[:nearMissLimit]
		}
		out = append(out, Gap{
			Dimension:  DimensionEndorsed,
			Current:    proportion(countEndorsed(selected), len(selected)),
			Target:     c.MinEndorsedProportion,
			NearMisses: slices.Clone(ids),
		})
	}
	if out == nil {
		out = []Gap{}
	}
	return out
}

func nearMisses(ranked []Candidate, keep func(Candidate) bool) []domain.InterventionID {
	ids := []domain.InterventionID{}
	for _, r := range ranked {
		if len(ids) == nearMissLimit {
			break
		}
		if keep(r) {
			ids = append(ids, r.ID())
		}
	}
	return ids
}

// untestedWithin reports untested <= floor(max*n). The epsilon absorbs
// binary rounding such as 0.3*10.
func untestedWithin(untested, n int, maxShare *float64) bool {
	if maxShare == nil {
		return true
	}
	return float64(untested) <= math.Floor(*maxShare*float64(n)+1e-9)
}

func endorsedWithin(selected []Candidate, minShare float64) bool {
	if minShare <= 0 || len(selected) == 0 {
		return true
	}
	return float64(countEndorsed(selected)) >= minShare*float64(len(selected))-1e-9
}

func countUntested(cs []Candidate) int {
	n := 0
	for _, c := range cs {
		if c.Untested() {
			n++
		}
	}
	return n
}

func countEndorsed(cs []Candidate) int {
	n := 0
	for _, c := range cs {
		if c.Endorsed() {
			n++
		}
	}
	return n
}

func proportion(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func lastIndex(cs []Candidate, match func(Candidate) bool) int {
	for i := len(cs) - 1; i >= 0; i-- {
		if match(cs[i]) {
			return i
		}
	}
	return -1
}

func byScore(a, b Candidate) int {
	if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID().String(), b.ID().String())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
