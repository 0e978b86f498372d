// Package ethics screens proposed actions against the registry's sacred
// boundaries: things the system never does regardless of who asks.
package ethics

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Boundary is one hard constraint with the keywords that signal a breach.
type Boundary struct {
	Name             string
	Rule             string
	ExampleViolation string
	Alternative      string
	Keywords         []string
}

// Boundaries is the fixed boundary table, in reporting order.
var Boundaries = []Boundary{
	{
		Name:             "no_individual_profiling",
		Rule:             "Watch systems, not individuals",
		ExampleViolation: "Predict which youth will reoffend",
		Alternative:      "Track system-level recidivism patterns",
		Keywords:         []string{"predict", "individual", "person", "youth will"},
	},
	{
		Name:             "no_community_ranking",
		Rule:             "Signals, not scores. No leaderboards",
		ExampleViolation: "Rank organizations by effectiveness",
		Alternative:      "Show signal strength for self-assessment",
		Keywords:         []string{"rank", "score", "best", "worst", "leaderboard", "top"},
	},
	{
		Name:             "no_decision_making",
		Rule:             "Surface patterns; humans decide",
		ExampleViolation: "Auto-approve funding based on signals",
		Alternative:      "Surface patterns for human decision-makers",
		Keywords:         []string{"auto-approve", "automatically allocate", "decide"},
	},
	{
		Name:             "no_extraction",
		Rule:             "Knowledge is shared with consent, never extracted",
		ExampleViolation: "Scrape community workshop outputs",
		Alternative:      "Ingest public government reports",
		Keywords:         []string{"scrape", "extract", "harvest data"},
	},
	{
		Name:             "no_optimization",
		Rule:             "People are not objects to be optimized",
		ExampleViolation: "Optimize youth outcomes",
		Alternative:      "Support youth agency and decision-making",
		Keywords:         []string{"optimize people", "optimize youth", "optimize individuals"},
	},
	{
		Name:             "community_sovereignty",
		Rule:             "Indigenous communities own their data and knowledge",
		ExampleViolation: "Store Elder consent data in external system",
		Alternative:      "Track that consent exists, not the details",
		Keywords:         []string{"store elder", "external system"},
	},
	{
		Name:             "transparency",
		Rule:             "All pattern detection is explainable",
		ExampleViolation: "Use unexplainable ML model for predictions",
		Alternative:      "Use rule-based pattern detection with clear logic",
		Keywords:         []string{"black box", "unexplainable", "proprietary model"},
	},
}

// Violation is a breached boundary and the keywords that matched.
type Violation struct {
	Boundary    string   `json:"boundary"`
	Rule        string   `json:"rule"`
	Example     string   `json:"example_violation"`
	Alternative string   `json:"alternative"`
	Matched     []string `json:"matched_keywords"`
}

type Result struct {
	ProposedAction string      `json:"proposed_action"`
	Allowed        bool        `json:"allowed"`
	Violations     []Violation `json:"violations"`
	Recommendation string      `json:"recommendation"`
}

const (
	recommendAllowed = "Action aligns with the registry's boundaries"
	recommendBlocked = "Action crosses a sacred boundary; review the alternatives"
)

// Check screens action case-insensitively. Keywords must start at a word
// boundary, so "top" flags "top ten" but not "stop".
func Check(action string) Result {
	text := strings.ToLower(action)
	res := Result{ProposedAction: action, Violations: []Violation{}}
	for _, b := range Boundaries {
		var matched []string
		for _, kw := range b.Keywords {
			if containsWord(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Boundary:    b.Name,
			Rule:        b.Rule,
			Example:     b.ExampleViolation,
			Alternative: b.Alternative,
			Matched:     matched,
		})
	}
	res.Allowed = len(res.Violations) == 0
	res.Recommendation = recommendBlocked
	if res.Allowed {
		res.Recommendation = recommendAllowed
	}
	return res
}

func containsWord(text, kw string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		at := from + i
		prev, _ := utf8.DecodeLastRuneInString(text[:at])
		if at == 0 || !isWordRune(prev) {
			return true
		}
		from = at + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
