package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/VanDung-dev/tenet-mesh/engine"
)

func TestEvaluateRejectsHighSeverity(t *testing.T) {
	e := New(Rules{})
	a, err := e.Evaluate(context.Background(), "Auto-enroll every user and hide the fee", engine.EvaluateOptions{
		Stakeholders: []string{"users"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if a.OverallAssessment != engine.AssessmentReject {
		t.Errorf("Expected reject, got %s", a.OverallAssessment)
	}
	if len(a.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %d", len(a.Violations))
	}
	if diff := cmp.Diff([]string{"hide"}, a.Violations[0].Matched); diff != "" {
		t.Errorf("Honesty keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"auto-enroll"}, a.Violations[1].Matched); diff != "" {
		t.Errorf("Consent keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateCollectsEveryMatchedKeyword(t *testing.T) {
	e := New(Rules{})
	a, err := e.Evaluate(context.Background(), "Hide the change and mislead reviewers", engine.EvaluateOptions{
		Stakeholders: []string{"reviewers"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(a.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(a.Violations))
	}
	if diff := cmp.Diff([]string{"hide", "mislead"}, a.Violations[0].Matched); diff != "" {
		t.Errorf("Matched keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateRejectsCounterfeit(t *testing.T) {
	e := New(Rules{})
	a, err := e.Evaluate(context.Background(), "It is technically legal so we proceed", engine.EvaluateOptions{
		Stakeholders: []string{"customers"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if a.OverallAssessment != engine.AssessmentReject {
		t.Errorf("Expected reject, got %s", a.OverallAssessment)
	}
	if len(a.CounterfeitsMatched) != 1 || a.CounterfeitsMatched[0].Name != "compliance-as-ethics" {
		t.Errorf("Unexpected counterfeits: %+v", a.CounterfeitsMatched)
	}
}

func TestEvaluateCaution(t *testing.T) {
	e := New(Rules{})

	a, _ := e.Evaluate(context.Background(), "We may cut corners on the docs", engine.EvaluateOptions{
		Stakeholders: []string{"team"},
	})
	if a.OverallAssessment != engine.AssessmentCaution || len(a.Recommendations) != 1 {
		t.Errorf("Expected caution with one recommendation, got %+v", a)
	}

	a, _ = e.Evaluate(context.Background(), "Publish the audit report", engine.EvaluateOptions{})
	if a.OverallAssessment != engine.AssessmentCaution {
		t.Errorf("Expected caution without stakeholders, got %s", a.OverallAssessment)
	}
}

func TestEvaluateAffirm(t *testing.T) {
	e := New(Rules{})
	a, err := e.Evaluate(context.Background(), "Publish the audit report", engine.EvaluateOptions{
		Stakeholders: []string{"public"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if a.OverallAssessment != engine.AssessmentAffirm {
		t.Errorf("Expected affirm, got %s", a.OverallAssessment)
	}
}

func TestEvaluateUsesContext(t *testing.T) {
	e := New(Rules{})
	a, _ := e.Evaluate(context.Background(), "Launch the new flow", engine.EvaluateOptions{
		Context:      "designed to maximize engagement",
		Stakeholders: []string{"users"},
	})
	if a.OverallAssessment != engine.AssessmentReject {
		t.Errorf("Expected reject from context text, got %s", a.OverallAssessment)
	}
}

func TestQuickEvaluate(t *testing.T) {
	e := New(Rules{})

	v, err := e.QuickEvaluate(context.Background(), "Skipped review to ship faster")
	if err != nil {
		t.Fatalf("QuickEvaluate failed: %v", err)
	}
	if !v.CounterfeitDetected || v.Counterfeit != "speed-as-care" {
		t.Errorf("Expected speed-as-care, got %+v", v)
	}

	v, _ = e.QuickEvaluate(context.Background(), "Ran the full test suite")
	if v.CounterfeitDetected {
		t.Errorf("Expected no counterfeit, got %+v", v)
	}
}

func TestCustomRules(t *testing.T) {
	e := New(Rules{Counterfeits: []CounterfeitRule{{Name: "custom", Keywords: []string{"Synergy"}}}})
	v, _ := e.QuickEvaluate(context.Background(), "more synergy")
	if !v.CounterfeitDetected || v.Counterfeit != "custom" {
		t.Errorf("Expected custom counterfeit, got %+v", v)
	}
	a, _ := e.Evaluate(context.Background(), "hide everything", engine.EvaluateOptions{Stakeholders: []string{"x"}})
	if len(a.Violations) != 0 {
		t.Errorf("Default tenets should not apply with custom rules, got %+v", a.Violations)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Rules{})
	if _, err := e.Evaluate(ctx, "x", engine.EvaluateOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, err := e.QuickEvaluate(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
