// Package translation rewrites text between the vocabularies that meet around
// the registry: community, funder and policy language, and short-term funding
// terms versus long-term reality.
package translation

import (
	"regexp"
	"sort"
	"strings"

	dErrors "alma/pkg/domain-errors"
)

// Language is one side of a translation map.
type Language string

const (
	Community Language = "community"
	Funder    Language = "funder"
	Policy    Language = "policy"
	ShortTerm Language = "short_term"
	LongTerm  Language = "long_term"
)

// Term is one source phrase and its rendering in the target vocabulary.
type Term struct {
	From string
	To   string
}

type pair struct {
	from Language
	to   Language
}

func (p pair) String() string { return string(p.from) + "_to_" + string(p.to) }

// tables holds the fixed translation maps. Terms apply in order.
var tables = map[pair][]Term{
	{Community, Funder}: {
		{"cultural healing", "Trauma-informed intervention reducing recidivism"},
		{"yarning circles", "Evidence-based restorative justice practice"},
		{"elder mentorship", "Culturally-grounded youth development program"},
		{"story sharing", "Community-led knowledge creation and preservation"},
		{"unpaid cross system coordination", "Multi-agency case management and systems navigation"},
		{"community garden", "Mental health intervention and food security program"},
		{"regenerative practice", "Climate resilience and biodiversity conservation"},
	},
	{Funder, Community}: {
		{"impact measurement", "Understanding what worked and sharing learnings"},
		{"key performance indicators", "Signals that show we're on the right path"},
		{"theory of change", "Our understanding of how change happens here"},
		{"scalable intervention", "Something that could work in other communities (with their permission)"},
		{"evidence base", "What we've learned and can share with others"},
		{"stakeholder engagement", "Listening to community and working together"},
	},
	{Community, Policy}: {
		{"cultural protocols", "Indigenous data sovereignty frameworks (OCAP principles)"},
		{"elder authority", "Community governance and cultural authority structures"},
		{"story sovereignty", "Intellectual property rights and consent mechanisms"},
		{"collective wellbeing", "Population-level health and social outcomes"},
		{"relationship to country", "Environmental stewardship and land management"},
	},
	{ShortTerm, LongTerm}: {
		{"12 month grant", "Relationship-building phase (outcomes visible Year 2-3)"},
		{"3 year program", "Minimum viable timeframe for culture change"},
		{"quarterly reporting", "Regular learning and adaptation cycles"},
		{"annual review", "Trajectory assessment (not achievement snapshot)"},
	},
}

var patterns = compile(tables)

func compile(tables map[pair][]Term) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, terms := range tables {
		for _, t := range terms {
			out[t.From] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t.From) + `\b`)
		}
	}
	return out
}

// Applied records one substitution.
type Applied struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Result struct {
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	Applied    []Applied `json:"translations_applied"`
	From       Language  `json:"from_language"`
	To         Language  `json:"to_language"`
	Note       string    `json:"note"`
}

const note = "Translation preserves meaning while adapting to audience"

// Available lists the supported directions as from_to_to keys, sorted.
func Available() []string {
	keys := make([]string, 0, len(tables))
	for p := range tables {
		keys = append(keys, p.String())
	}
	sort.Strings(keys)
	return keys
}

// Translate replaces every whole-phrase, case-insensitive occurrence of a
// source term in content. Text with no known terms comes back unchanged.
func Translate(from, to Language, content string) (Result, error) {
	p := pair{from: from, to: to}
	terms, ok := tables[p]
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput,
			"no translation map for "+p.String()+"; available: "+strings.Join(Available(), ", "))
	}

	res := Result{Original: content, Translated: content, Applied: []Applied{}, From: from, To: to, Note: note}
	for _, t := range terms {
		re := patterns[t.From]
		if !re.MatchString(res.Translated) {
			continue
		}
		res.Translated = re.ReplaceAllLiteralString(res.Translated, t.To)
		res.Applied = append(res.Applied, Applied{From: t.From, To: t.To})
	}
	return res, nil
}
