// Package evaluator provides a keyword-rule Evaluator so a node can run
// without an external ethics service.
package evaluator

import (
	"context"
	"strings"

	"github.com/VanDung-dev/tenet-mesh/engine"
)

// Severity levels for tenet rules.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// TenetRule flags text containing any of its keywords.
type TenetRule struct {
	Tenet       string   `yaml:"tenet" json:"tenet"`
	Description string   `yaml:"description" json:"description"`
	Severity    string   `yaml:"severity" json:"severity"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// CounterfeitRule describes a behavior that imitates a tenet while serving
// something else.
type CounterfeitRule struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Tenet       string   `yaml:"tenet" json:"tenet"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// Rules is the full rule set of a KeywordEvaluator.
type Rules struct {
	Tenets       []TenetRule       `yaml:"tenets" json:"tenets"`
	Counterfeits []CounterfeitRule `yaml:"counterfeits" json:"counterfeits"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		Tenets: []TenetRule{
			{
				Tenet:       "honesty",
				Description: "conceals or misrepresents information from those affected",
				Severity:    SeverityHigh,
				Keywords:    []string{"hide", "conceal", "mislead", "deceive", "cover up"},
			},
			{
				Tenet:       "consent",
				Description: "acts on people without their agreement",
				Severity:    SeverityHigh,
				Keywords:    []string{"without consent", "auto-enroll", "opt-out by default", "without asking"},
			},
			{
				Tenet:       "privacy",
				Description: "exposes or trades personal data",
				Severity:    SeverityHigh,
				Keywords:    []string{"sell data", "sell user data", "share personal", "track users"},
			},
			{
				Tenet:       "care",
				Description: "trades diligence for speed",
				Severity:    SeverityMedium,
				Keywords:    []string{"cut corners", "ignore feedback", "skip testing"},
			},
		},
		Counterfeits: []CounterfeitRule{
			{
				Name:        "speed-as-care",
				Description: "shipping faster presented as serving users",
				Tenet:       "care",
				Keywords:    []string{"skip review", "skipped review", "ship faster"},
			},
			{
				Name:        "engagement-as-value",
				Description: "attention capture presented as user benefit",
				Tenet:       "honesty",
				Keywords:    []string{"maximize engagement", "dark pattern", "addictive"},
			},
			{
				Name:        "compliance-as-ethics",
				Description: "legal minimum presented as doing right",
				Tenet:       "integrity",
				Keywords:    []string{"technically legal", "legally allowed", "not illegal"},
			},
		},
	}
}

// KeywordEvaluator matches lower-cased text against fixed keyword rules.
type KeywordEvaluator struct {
	rules Rules
}

// New creates an evaluator. An empty rule set selects DefaultRules.
func New(rules Rules) *KeywordEvaluator {
	if len(rules.Tenets) == 0 && len(rules.Counterfeits) == 0 {
		rules = DefaultRules()
	}
	return &KeywordEvaluator{rules: rules}
}

// Evaluate rejects on any high-severity violation or counterfeit, cautions on
// lesser violations or when no stakeholders were named, and affirms otherwise.
func (e *KeywordEvaluator) Evaluate(ctx context.Context, text string, opts engine.EvaluateOptions) (engine.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return engine.Assessment{}, err
	}
	haystack := strings.ToLower(text + " " + opts.Context)

	var a engine.Assessment
	high := false
	for _, rule := range e.rules.Tenets {
		if matched := allMatches(haystack, rule.Keywords); len(matched) > 0 {
			a.Violations = append(a.Violations, engine.Violation{
				Tenet:       rule.Tenet,
				Description: rule.Description,
				Severity:    rule.Severity,
				Matched:     matched,
			})
			if rule.Severity == SeverityHigh {
				high = true
			}
		}
	}
	for _, rule := range e.rules.Counterfeits {
		if _, ok := firstMatch(haystack, rule.Keywords); ok {
			a.CounterfeitsMatched = append(a.CounterfeitsMatched, engine.Counterfeit{
				Name:        rule.Name,
				Description: rule.Description,
				Tenet:       rule.Tenet,
			})
		}
	}

	switch {
	case high || len(a.CounterfeitsMatched) > 0:
		a.OverallAssessment = engine.AssessmentReject
	case len(a.Violations) > 0:
		a.OverallAssessment = engine.AssessmentCaution
		for _, v := range a.Violations {
			a.Recommendations = append(a.Recommendations, "Revisit "+v.Tenet+": "+v.Description)
		}
	case len(opts.Stakeholders) == 0:
		a.OverallAssessment = engine.AssessmentCaution
		a.Recommendations = []string{"Identify who is affected before proceeding"}
	default:
		a.OverallAssessment = engine.AssessmentAffirm
	}
	return a, nil
}

// QuickEvaluate reports the first counterfeit rule matching text.
func (e *KeywordEvaluator) QuickEvaluate(ctx context.Context, text string) (engine.QuickVerdict, error) {
	if err := ctx.Err(); err != nil {
		return engine.QuickVerdict{}, err
	}
	haystack := strings.ToLower(text)
	for _, rule := range e.rules.Counterfeits {
		if _, ok := firstMatch(haystack, rule.Keywords); ok {
			return engine.QuickVerdict{
				CounterfeitDetected: true,
				Counterfeit:         rule.Name,
				Verdict:             rule.Description,
			}, nil
		}
	}
	return engine.QuickVerdict{Verdict: "no counterfeit detected"}, nil
}

func firstMatch(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func allMatches(haystack string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			out = append(out, kw)
		}
	}
	return out
}

var _ engine.Evaluator = (*KeywordEvaluator)(nil)
