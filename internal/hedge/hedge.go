// Package hedge provides a pure-text classifier for speculative language.
//
// Candidate memories extracted by an LLM frequently hedge ("maybe we should
// use Redis", "I think the timeout is 30s"). Hedged claims are the strongest
// single signal that a claim is ungrounded, so the ingestion validator blocks
// them outright. The detector is deliberately heuristic: ordered phrase
// tables, longest-match-first, with known false-positive contexts stripped
// before matching.
package hedge

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Category labels the linguistic family a hedge phrase belongs to.
type Category string

const (
	CategoryModal       Category = "modal"
	CategoryEpistemic   Category = "epistemic"
	CategoryPersonal    Category = "personal_uncertainty"
	CategoryApprox      Category = "approximation"
	CategoryConditional Category = "conditional"
)

// Analysis is the result of classifying one piece of content.
type Analysis struct {
	// IsSpeculative is true when at least one hedge phrase was found and no
	// assertion marker was present.
	IsSpeculative bool `json:"is_speculative"`

	// HedgeWordsFound lists the hedge phrases that matched, longest first.
	HedgeWordsFound []string `json:"hedge_words_found"`

	// SpeculationScore is a heuristic confidence that the content is
	// speculative, in [0.0, 1.0].
	SpeculationScore float64 `json:"speculation_score"`

	// HasAssertions is true when an assertion marker ("confirmed",
	// "verified", ...) was found, independent of hedge matching.
	HasAssertions bool `json:"has_assertions"`
}

// maxContentLength truncates input before regex matching to bound cost on
// adversarially long content.
const maxContentLength = 16384

// shortTokenBoundary is the phrase length at or below which matches require
// word boundaries. Short tokens like "may" appear inside ordinary words
// ("dismay"), longer phrases are distinctive enough for substring matching.
const shortTokenBoundary = 4

// hedgePhrase pairs a phrase with its category and whether it signals strong
// speculation (worth an extra score contribution).
type hedgePhrase struct {
	phrase   string
	category Category
	strong   bool
}

// hedgePhrases is the built-in phrase table. Order does not matter here; the
// detector sorts by descending length at construction so that longer phrases
// shadow their substrings ("my guess is" before "guess").
var hedgePhrases = []hedgePhrase{
	// Modal verbs of possibility.
	{phrase: "might", category: CategoryModal},
	{phrase: "may", category: CategoryModal},
	{phrase: "could", category: CategoryModal},
	{phrase: "should", category: CategoryModal},
	{phrase: "would", category: CategoryModal},

	// Epistemic adverbs and verbs.
	{phrase: "maybe", category: CategoryEpistemic},
	{phrase: "perhaps", category: CategoryEpistemic},
	{phrase: "probably", category: CategoryEpistemic},
	{phrase: "possibly", category: CategoryEpistemic},
	{phrase: "presumably", category: CategoryEpistemic},
	{phrase: "apparently", category: CategoryEpistemic},
	{phrase: "supposedly", category: CategoryEpistemic},
	{phrase: "allegedly", category: CategoryEpistemic},
	{phrase: "likely", category: CategoryEpistemic},
	{phrase: "seems like", category: CategoryEpistemic},
	{phrase: "appears to", category: CategoryEpistemic},
	{phrase: "suggests that", category: CategoryEpistemic},

	// First-person uncertainty.
	{phrase: "i think", category: CategoryPersonal, strong: true},
	{phrase: "i believe", category: CategoryPersonal, strong: true},
	{phrase: "i guess", category: CategoryPersonal, strong: true},
	{phrase: "i suspect", category: CategoryPersonal, strong: true},
	{phrase: "i assume", category: CategoryPersonal, strong: true},
	{phrase: "my guess is", category: CategoryPersonal, strong: true},
	{phrase: "not sure", category: CategoryPersonal, strong: true},
	{phrase: "no idea", category: CategoryPersonal, strong: true},
	{phrase: "unsure", category: CategoryPersonal},

	// Approximation.
	{phrase: "roughly", category: CategoryApprox},
	{phrase: "approximately", category: CategoryApprox},
	{phrase: "around", category: CategoryApprox},
	{phrase: "more or less", category: CategoryApprox},
	{phrase: "sort of", category: CategoryApprox},
	{phrase: "kind of", category: CategoryApprox},
	{phrase: "somewhere near", category: CategoryApprox},

	// Conditional / counterfactual framing.
	{phrase: "if i recall", category: CategoryConditional, strong: true},
	{phrase: "if i remember", category: CategoryConditional, strong: true},
	{phrase: "assuming", category: CategoryConditional},
	{phrase: "in theory", category: CategoryConditional},
	{phrase: "theoretically", category: CategoryConditional},
	{phrase: "hypothetically", category: CategoryConditional, strong: true},
}

// assertionMarkers independently signal grounded, non-speculative language.
var assertionMarkers = []string{"confirmed", "verified", "definitely", "certainly"}

// falsePositivePatterns match contexts where a hedge token is not a hedge.
// They are stripped (replaced with spaces) before phrase matching.
//
//   - "May 2024", "May 3rd": the month, not the modal.
//   - "might as well": idiom, not uncertainty.
//   - "couldn't"/"shouldn't"/"wouldn't": negated modals would otherwise match
//     their positive stems via substring matching.
//   - "should be 42": an expected-value statement, not a hedge.
var falsePositivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmay\s+\d{1,4}(?:st|nd|rd|th)?\b`),
	regexp.MustCompile(`\bmay\s+(?:1st|2nd|3rd|\d{1,2}th)\b`),
	regexp.MustCompile(`\bmight\s+as\s+well\b`),
	regexp.MustCompile(`\b(?:couldn't|shouldn't|wouldn't|couldn’t|shouldn’t|wouldn’t)\b`),
	regexp.MustCompile(`\bshould\s+be\s+[+-]?\d`),
}

// compiledPhrase is a phrase with its pre-built matcher.
type compiledPhrase struct {
	hedgePhrase
	regex *regexp.Regexp // nil for substring-matched phrases
}

// Detector classifies content for speculative language.
// Thread-safe: all state is compiled at construction time and immutable.
type Detector struct {
	phrases    []*compiledPhrase
	assertions []*regexp.Regexp
}

// NewDetector creates a detector with the built-in phrase tables.
func NewDetector() *Detector {
	sorted := make([]hedgePhrase, len(hedgePhrases))
	copy(sorted, hedgePhrases)
	// Longest-match-first so multi-word phrases consume their substrings.
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].phrase) > len(sorted[j].phrase)
	})

	compiled := make([]*compiledPhrase, 0, len(sorted))
	for _, p := range sorted {
		cp := &compiledPhrase{hedgePhrase: p}
		if len(p.phrase) <= shortTokenBoundary {
			cp.regex = regexp.MustCompile(`\b` + regexp.QuoteMeta(p.phrase) + `\b`)
		}
		compiled = append(compiled, cp)
	}

	assertions := make([]*regexp.Regexp, 0, len(assertionMarkers))
	for _, m := range assertionMarkers {
		assertions = append(assertions, regexp.MustCompile(`\b`+regexp.QuoteMeta(m)+`\b`))
	}

	return &Detector{phrases: compiled, assertions: assertions}
}

// Analyze classifies content. Pure and side-effect-free; safe for unbounded
// concurrent calls.
//
// Scoring: min(0.6, 0.2 x hedge words) plus 0.15 per strong-speculation
// phrase, multiplied by 0.3 when an assertion marker is present, clamped to
// [0, 1]. IsSpeculative requires at least one hedge word and no assertions.
func (d *Detector) Analyze(content string) Analysis {
	lowered := strings.ToLower(content)
	if len(lowered) > maxContentLength {
		// Back up to a rune boundary so the cut never leaves an invalid
		// UTF-8 tail for the regexes to chew on.
		cut := maxContentLength
		for cut > 0 && !utf8.RuneStart(lowered[cut]) {
			cut--
		}
		lowered = lowered[:cut]
	}

	hasAssertions := false
	for _, re := range d.assertions {
		if re.MatchString(lowered) {
			hasAssertions = true
			break
		}
	}

	stripped := stripFalsePositives(lowered)

	var found []string
	strong := 0
	for _, p := range d.phrases {
		var matched bool
		if p.regex != nil {
			matched = p.regex.MatchString(stripped)
		} else {
			matched = strings.Contains(stripped, p.phrase)
		}
		if !matched {
			continue
		}
		found = append(found, p.phrase)
		if p.strong {
			strong++
		}
		// Consume the match so shorter phrases cannot re-match inside it.
		stripped = strings.ReplaceAll(stripped, p.phrase, " ")
	}

	score := 0.2 * float64(len(found))
	if score > 0.6 {
		score = 0.6
	}
	score += 0.15 * float64(strong)
	if hasAssertions {
		score *= 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}

	return Analysis{
		IsSpeculative:    len(found) > 0 && !hasAssertions,
		HedgeWordsFound:  found,
		SpeculationScore: score,
		HasAssertions:    hasAssertions,
	}
}

// stripFalsePositives blanks out known non-hedge contexts.
func stripFalsePositives(content string) string {
	for _, re := range falsePositivePatterns {
		content = re.ReplaceAllStringFunc(content, func(m string) string {
			return strings.Repeat(" ", len(m))
		})
	}
	return content
}
