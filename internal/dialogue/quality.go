package dialogue

import (
	"strings"
	"unicode"
)

var technicalKeywords = []string{
	"api", "architecture", "benchmark", "built", "cache", "database", "debugged",
	"deployed", "designed", "implemented", "index", "latency", "migrated",
	"migration", "optimized", "pipeline", "profiled", "query", "queue",
	"redesigned", "refactored", "scaled", "schema", "service", "tested",
	"throughput", "wrote",
}

var behavioralKeywords = []string{
	"because", "conflict", "convinced", "deadline", "decided", "delivered",
	"feedback", "impact", "learned", "led", "managed", "mentored", "negotiated",
	"owned", "prioritized", "resolved", "result", "shipped", "stakeholder",
	"stakeholders", "team",
}

// Assessment is the heuristic verdict on one candidate answer.
type Assessment struct {
	Words    int
	Markers  []string
	Specific bool
	Enough   bool
}

// Quality scores answers by length and by the presence of concrete
// language: numbers or words from the mode's keyword set.
type Quality struct {
	minWords int
	keywords map[string]struct{}
}

func NewQuality(mode Mode, minWords int, extra []string) *Quality {
	q := &Quality{minWords: minWords, keywords: map[string]struct{}{}}
	var sets [][]string
	switch mode {
	case ModeTechnical:
		sets = [][]string{technicalKeywords}
	case ModeBehavioral:
		sets = [][]string{behavioralKeywords}
	default:
		sets = [][]string{technicalKeywords, behavioralKeywords}
	}
	sets = append(sets, extra)
	for _, set := range sets {
		for _, k := range set {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				q.keywords[k] = struct{}{}
			}
		}
	}
	return q
}

func (q *Quality) Assess(text string) Assessment {
	tokens := strings.Fields(text)
	a := Assessment{Words: len(tokens)}
	for _, raw := range tokens {
		tok := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if tok == "" {
			continue
		}
		if strings.ContainsFunc(tok, unicode.IsDigit) {
			a.Markers = append(a.Markers, tok)
			continue
		}
		if _, ok := q.keywords[tok]; ok {
			a.Markers = append(a.Markers, tok)
		}
	}
	a.Specific = len(a.Markers) > 0
	a.Enough = a.Words >= q.minWords && a.Specific
	return a
}
