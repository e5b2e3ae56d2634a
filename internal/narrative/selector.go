package narrative

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// DefaultCodePattern matches signal-code shaped tokens such as "HI-1001".
// Code patterns are always matched case-insensitively, so "hi-1001" counts
// as a mention too.
const DefaultCodePattern = `\b[A-Z]{1,4}-\d{2,6}\b`

// DefaultMinLength is the shortest generative text considered informative.
const DefaultMinLength = 80

// DefaultSpeculativeMarkers are hedging phrases a surfaced narrative must not
// contain.
var DefaultSpeculativeMarkers = []string{
	"might", "maybe", "probably", "i think", "i guess", "perhaps",
	"possibly", "could potentially", "not sure",
}

// maxScore is the score of a candidate that loses no soft-rule points.
const maxScore = 10.0

// Rule is one named check over a candidate. Eval returns compliance in [0,1].
// A hard rule rejects a generative candidate unless compliance is 1; a soft
// rule subtracts Penalty*(1-compliance) from the score.
type Rule struct {
	Name    string
	Hard    bool
	Penalty float64
	Eval    func(text string, in Input) float64
}

// Decision is the Selector's verdict.
type Decision struct {
	Chosen             Candidate
	Rule               string // deciding rule: a hard rule name, "score" or "unavailable"
	DeterministicScore float64
	GenerativeScore    float64
}

// SelectorConfig tunes the built-in rules.
type SelectorConfig struct {
	MinLength          int
	SpeculativeMarkers []string
	CodePattern        string
}

// Selector arbitrates between narrative candidates with an ordered rule list.
type Selector struct {
	rules []Rule
}

// NewSelector builds the default rule set:
//
//	groundedness             hard  no code outside the evidence set
//	min_length               hard  at least MinLength characters
//	no_speculation           hard  no hedging markers
//	mentions_risk            soft  names the risk level
//	mentions_subject         soft  names the VIN or cohort
//	evidence_coverage        soft  share of evidence codes mentioned
//	source_coverage          soft  share of source models mentioned
//	recommendation_coverage  soft  share of recommendation families mentioned
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	pattern := cfg.CodePattern
	if pattern == "" {
		pattern = DefaultCodePattern
	}
	codeRe, err := CompileCodePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile code pattern: %w", err)
	}
	minLen := cfg.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	markers := cfg.SpeculativeMarkers
	if len(markers) == 0 {
		markers = DefaultSpeculativeMarkers
	}
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(m)))
	}
	specRe, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile speculative markers: %w", err)
	}

	return NewSelectorWithRules(
		Rule{Name: "groundedness", Hard: true, Eval: func(text string, in Input) float64 {
			if len(UngroundedCodes(text, in, codeRe)) > 0 {
				return 0
			}
			return 1
		}},
		Rule{Name: "min_length", Hard: true, Eval: func(text string, _ Input) float64 {
			if len([]rune(strings.TrimSpace(text))) < minLen {
				return 0
			}
			return 1
		}},
		Rule{Name: "no_speculation", Hard: true, Eval: func(text string, _ Input) float64 {
			if specRe.MatchString(text) {
				return 0
			}
			return 1
		}},
		Rule{Name: "mentions_risk", Penalty: 2, Eval: func(text string, in Input) float64 {
			return boolScore(in.RiskLevel != "" && strings.Contains(strings.ToUpper(text), string(in.RiskLevel)))
		}},
		Rule{Name: "mentions_subject", Penalty: 2, Eval: func(text string, in Input) float64 {
			return boolScore(strings.Contains(strings.ToUpper(text), strings.ToUpper(in.Subject.ID)))
		}},
		Rule{Name: "evidence_coverage", Penalty: 3, Eval: func(text string, in Input) float64 {
			return coverage(evidence.Codes(in.Evidence), text)
		}},
		Rule{Name: "source_coverage", Penalty: 1, Eval: func(text string, in Input) float64 {
			return coverage(sources(in.Evidence), text)
		}},
		Rule{Name: "recommendation_coverage", Penalty: 2, Eval: func(text string, in Input) float64 {
			return coverage(families(in.Recommendations), text)
		}},
	), nil
}

// NewSelectorWithRules builds a Selector from an explicit rule list.
func NewSelectorWithRules(rules ...Rule) *Selector {
	return &Selector{rules: rules}
}

// Rules returns the rule names in evaluation order.
func (s *Selector) Rules() []string {
	out := make([]string, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Name
	}
	return out
}

// Score evaluates text. It returns the soft score and the name of the first
// failed hard rule, if any.
func (s *Selector) Score(text string, in Input) (float64, string) {
	score := maxScore
	failed := ""
	for _, r := range s.rules {
		c := clamp(r.Eval(text, in))
		if r.Hard {
			if c < 1 && failed == "" {
				failed = r.Name
			}
			continue
		}
		score -= r.Penalty * (1 - c)
	}
	return score, failed
}

// Select picks the surfaced candidate. A missing generative candidate or any
// hard-rule failure yields the deterministic one; otherwise the higher score
// wins and ties go to the deterministic candidate.
func (s *Selector) Select(in Input, det Candidate, gen *Candidate) Decision {
	detScore, _ := s.Score(det.Text, in)
	d := Decision{Chosen: det, DeterministicScore: detScore, Rule: "unavailable"}
	if gen == nil {
		return d
	}
	genScore, failed := s.Score(gen.Text, in)
	d.GenerativeScore = genScore
	if failed != "" {
		d.Rule = failed
		return d
	}
	d.Rule = "score"
	if genScore > detScore {
		d.Chosen = *gen
	}
	return d
}

// CompileCodePattern compiles a signal-code pattern for mention detection.
// Matching ignores case whatever flags the pattern carries.
func CompileCodePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(?:` + pattern + `)`)
}

// UngroundedCodes lists the codes mentioned in text that are not in the
// evidence set, upper-cased. A mention is either a token matching codeRe or
// a case-insensitive substring equal to a known reference code.
func UngroundedCodes(text string, in Input, codeRe *regexp.Regexp) []string {
	allowed := make(map[string]bool, len(in.Evidence))
	for _, e := range in.Evidence {
		allowed[strings.ToUpper(e.SignalCode)] = true
	}
	seen := make(map[string]bool)
	var out []string
	flag := func(code string) {
		up := strings.ToUpper(code)
		if !allowed[up] && !seen[up] {
			seen[up] = true
			out = append(out, up)
		}
	}

	if codeRe != nil {
		for _, m := range codeRe.FindAllString(text, -1) {
			flag(m)
		}
	}
	upper := strings.ToUpper(text)
	for _, code := range in.KnownCodes {
		if code == "" || allowed[strings.ToUpper(code)] {
			continue
		}
		if strings.Contains(upper, strings.ToUpper(code)) {
			flag(code)
		}
	}
	return out
}

func coverage(items []string, text string) float64 {
	if len(items) == 0 {
		return 1
	}
	upper := strings.ToUpper(text)
	hit := 0
	for _, it := range items {
		if strings.Contains(upper, strings.ToUpper(it)) {
			hit++
		}
	}
	return float64(hit) / float64(len(items))
}

func sources(ev []evidence.Evidence) []string {
	var out []string
	for _, src := range telemetry.SourceModels {
		if len(evidence.FilterSource(ev, src)) > 0 {
			out = append(out, string(src))
		}
	}
	return out
}

func families(recs []interpretation.Recommendation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		f := interpretation.FamilyTitle(r.Family)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
