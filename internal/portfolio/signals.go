// Package portfolio computes the five portfolio signals for an intervention
// and builds diversified portfolios from scored candidates. Everything in
// this package is pure: no storage, no clock, no logging.
package portfolio

import (
	"math"
	"slices"
	"strings"

	"alma/internal/registry/models"
	"alma/pkg/domain"
)

// Signal weights. Community authority deliberately outweighs evidence.
const (
	WeightEvidence       = 0.25
	WeightAuthority      = 0.30
	WeightHarm           = 0.20
	WeightImplementation = 0.15
	WeightOption         = 0.10
)

const (
	yearBonusPerYear = 0.02
	yearBonusCap     = 0.1
)

// Signals are direction indicators, not achievement scores.
type Signals struct {
	InterventionID           domain.InterventionID `json:"intervention_id"`
	Version                  int64                 `json:"version"`
	EvidenceStrength         float64               `json:"evidence_strength"`
	CommunityAuthority       float64               `json:"community_authority"`
	HarmRisk                 float64               `json:"harm_risk"`
	ImplementationCapability float64               `json:"implementation_capability"`
	OptionValue              float64               `json:"option_value"`
	PortfolioScore           float64               `json:"portfolio_score"`
	Interpretation           Interpretation        `json:"interpretation"`

	EvidenceCount          int      `json:"evidence_count"`
	CulturallySafeEvidence int      `json:"culturally_safe_evidence_count"`
	Geographies            []string `json:"geographies,omitempty"`
}

// Interpretation labels each signal band for human readers.
type Interpretation struct {
	EvidenceStrength         string `json:"evidence_strength"`
	CommunityAuthority       string `json:"community_authority"`
	HarmRisk                 string `json:"harm_risk"`
	ImplementationCapability string `json:"implementation_capability"`
	OptionValue              string `json:"option_value"`
	Portfolio                string `json:"portfolio"`
}

// CalculateSignals scores in. Evidence and contexts linked to in only feed
// the informational counts; the five signals depend on in alone.
func CalculateSignals(in *models.Intervention, evidence []*models.Evidence, contexts []*models.CommunityContext) Signals {
	s := Signals{
		InterventionID:           in.ID,
		Version:                  in.Version,
		EvidenceStrength:         evidenceStrength(in.EvidenceLevel),
		CommunityAuthority:       communityAuthority(in),
		HarmRisk:                 harmRisk(in.HarmRisk),
		ImplementationCapability: implementationCapability(in),
		OptionValue:              optionValue(in.EvidenceLevel),
	}
	s.PortfolioScore = WeightEvidence*s.EvidenceStrength +
		WeightAuthority*s.CommunityAuthority +
		WeightHarm*s.HarmRisk +
		WeightImplementation*s.ImplementationCapability +
		WeightOption*s.OptionValue

	s.Interpretation = Interpretation{
		EvidenceStrength:         InterpretSignal(s.EvidenceStrength),
		CommunityAuthority:       InterpretSignal(s.CommunityAuthority),
		HarmRisk:                 InterpretSignal(s.HarmRisk),
		ImplementationCapability: InterpretSignal(s.ImplementationCapability),
		OptionValue:              InterpretSignal(s.OptionValue),
		Portfolio:                InterpretPortfolio(s.PortfolioScore),
	}

	return Annotate(s, evidence, contexts)
}

// Annotate replaces the informational fields of s. Linked records change
// without bumping the intervention version, so cached signals are annotated
// again on every read.
func Annotate(s Signals, evidence []*models.Evidence, contexts []*models.CommunityContext) Signals {
	s.EvidenceCount, s.CulturallySafeEvidence = 0, 0
	for _, ev := range evidence {
		if ev == nil {
			continue
		}
		s.EvidenceCount++
		if ev.CulturallySafe {
			s.CulturallySafeEvidence++
		}
	}
	s.Geographies = geographies(contexts)
	return s
}

func evidenceStrength(level models.EvidenceLevel) float64 {
	switch level {
	case models.EvidenceProven:
		return 1.0
	case models.EvidenceEffective:
		return 0.8
	case models.EvidenceIndigenousLed:
		return 0.7
	case models.EvidencePromising:
		return 0.5
	default:
		return 0.2
	}
}

func communityAuthority(in *models.Intervention) float64 {
	if in.CulturalAuthority == nil {
		return 0.3
	}
	switch {
	case in.EvidenceLevel == models.EvidenceIndigenousLed:
		return 1.0
	case in.ConsentLevel == domain.ConsentCommunityControlled:
		return 0.8
	default:
		return 0.6
	}
}

func harmRisk(h models.HarmRisk) float64 {
	switch h {
	case models.HarmLow:
		return 1.0
	case models.HarmMedium:
		return 0.6
	default:
		return 0.2
	}
}

func implementationCapability(in *models.Intervention) float64 {
	var base float64
	switch {
	case in.HasReplicationPlaybook && in.Readiness == models.ReadinessReadyIndependent:
		base = 1.0
	case in.Readiness == models.ReadinessReadyWithSupport, in.Readiness == models.ReadinessReadyIndependent:
		base = 0.7
	default:
		base = 0.4
	}
	if in.YearsOperating > 0 {
		base += math.Min(float64(in.YearsOperating)*yearBonusPerYear, yearBonusCap)
	}
	return math.Min(base, 1.0)
}

func optionValue(level models.EvidenceLevel) float64 {
	switch level {
	case models.EvidencePromising:
		return 1.0
	case models.EvidenceIndigenousLed:
		return 0.6
	case models.EvidenceEffective, models.EvidenceProven:
		return 0.2
	default:
		return 0.8
	}
}

func geographies(contexts []*models.CommunityContext) []string {
	var out []string
	for _, c := range contexts {
		if c == nil {
			continue
		}
		g := strings.TrimSpace(c.Geography)
		if g != "" && !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return out
}

// InterpretSignal labels a single signal value.
func InterpretSignal(v float64) string {
	switch {
	case v >= 0.8:
		return "Strong"
	case v >= 0.6:
		return "Good"
	case v >= 0.4:
		return "Moderate"
	case v >= 0.2:
		return "Weak"
	default:
		return "Very Weak"
	}
}

// InterpretPortfolio labels a combined portfolio score.
func InterpretPortfolio(v float64) string {
	switch {
	case v >= 0.8:
		return "Excellent - strong across multiple signals"
	case v >= 0.6:
		return "Good - solid foundation, some areas for growth"
	case v >= 0.4:
		return "Moderate - mixed signals, attention needed"
	default:
		return "Concerning - multiple weak signals"
	}
}
