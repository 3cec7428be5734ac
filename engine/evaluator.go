package engine

import "context"

// Assessment outcomes returned by an Evaluator.
const (
	AssessmentAffirm  = "affirm"
	AssessmentReject  = "reject"
	AssessmentCaution = "caution"
)

// EvaluateOptions carries optional decision context.
type EvaluateOptions struct {
	Context      string   `json:"context,omitempty"`
	Stakeholders []string `json:"stakeholders,omitempty"`
}

// Violation is a tenet the evaluated text breaks.
type Violation struct {
	Tenet       string   `json:"tenet"`
	Description string   `json:"description,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Matched     []string `json:"matched,omitempty"`
}

// Counterfeit is a known bad pattern disguised as a good one.
type Counterfeit struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tenet       string `json:"tenet,omitempty"`
}

// Assessment is the full result of Evaluate.
type Assessment struct {
	OverallAssessment   string        `json:"overall_assessment"`
	Violations          []Violation   `json:"violations"`
	CounterfeitsMatched []Counterfeit `json:"counterfeits_matched"`
	Recommendations     []string      `json:"recommendations"`
}

// QuickVerdict is the result of QuickEvaluate.
type QuickVerdict struct {
	CounterfeitDetected bool   `json:"counterfeitDetected"`
	Counterfeit         string `json:"counterfeit,omitempty"`
	Verdict             string `json:"verdict,omitempty"`
}

// Evaluator scores decision text. Implementations live outside the mesh.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, opts EvaluateOptions) (Assessment, error)
	QuickEvaluate(ctx context.Context, text string) (QuickVerdict, error)
}
