package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/VanDung-dev/tenet-mesh/protocol"
)

// defaultConfidence is assigned to a newly learned pattern unless the lesson
// carries its own confidence.
const defaultConfidence = 0.5

// Env bundles the collaborators a handler may use.
type Env struct {
	Evaluator Evaluator
	Patterns  PatternStore
	Emit      protocol.EmitFunc
}

// Dispatcher reacts to inbound signals. Handlers never fail: missing payload
// fields and collaborator errors result in no emission.
type Dispatcher struct {
	evaluator Evaluator
	patterns  PatternStore
	logger    logr.Logger
	clock     clock.PassiveClock
}

// NewDispatcher creates a dispatcher bound to its collaborators.
func NewDispatcher(evaluator Evaluator, patterns PatternStore, logger logr.Logger) *Dispatcher {
	return &Dispatcher{
		evaluator: evaluator,
		patterns:  patterns,
		logger:    logger,
		clock:     clock.RealClock{},
	}
}

// SetClock overrides the clock used for pattern timestamps.
func (d *Dispatcher) SetClock(clk clock.PassiveClock) {
	d.clock = clk
}

// HandleSignal dispatches sig with the dispatcher's own collaborators.
func (d *Dispatcher) HandleSignal(ctx context.Context, sig protocol.Signal, emit protocol.EmitFunc) {
	d.Dispatch(ctx, sig, Env{
		Evaluator: d.evaluator,
		Patterns:  d.patterns,
		Emit:      emit,
	})
}

// Dispatch runs the handler for sig's code.
func (d *Dispatcher) Dispatch(ctx context.Context, sig protocol.Signal, env Env) {
	if env.Emit == nil {
		env.Emit = func(protocol.Code, map[string]any) {}
	}

	switch sig.Code {
	case protocol.DecisionPending:
		d.onDecisionPending(ctx, sig, env)
	case protocol.OperationComplete:
		d.onOperationComplete(ctx, sig, env)
	case protocol.LessonLearned:
		d.onLessonLearned(ctx, sig, env)
	case protocol.Heartbeat:
		// Liveness is tracked by the transport.
	case protocol.TenetViolation, protocol.CounterfeitDetected, protocol.EthicsAffirmed,
		protocol.BlindSpotAlert, protocol.RemediationNeeded:
		d.logger.V(1).Info("Outcome signal received", "signal", sig.Name, "sender", sig.Sender)
	default:
		d.logger.Info("Ignoring unknown signal", "code", protocol.SignalName(sig.Code), "sender", sig.Sender)
	}
}

func (d *Dispatcher) onDecisionPending(ctx context.Context, sig protocol.Signal, env Env) {
	text, ok := sig.PayloadString("decision_text")
	if !ok || env.Evaluator == nil {
		return
	}

	opts := EvaluateOptions{
		Context:      stringField(sig.Payload, "context"),
		Stakeholders: stringList(sig.Payload, "stakeholders"),
	}
	assessment, err := env.Evaluator.Evaluate(ctx, text, opts)
	if err != nil {
		d.logger.Error(err, "Evaluation failed", "sender", sig.Sender)
		return
	}

	switch assessment.OverallAssessment {
	case AssessmentAffirm:
		env.Emit(protocol.EthicsAffirmed, map[string]any{
			"decision_text": text,
			"assessment":    AssessmentAffirm,
		})
	case AssessmentReject:
		for _, v := range assessment.Violations {
			env.Emit(protocol.TenetViolation, map[string]any{
				"decision_text": text,
				"tenet":         v.Tenet,
				"description":   v.Description,
				"severity":      v.Severity,
				"matched":       v.Matched,
			})
		}
		for _, c := range assessment.CounterfeitsMatched {
			env.Emit(protocol.CounterfeitDetected, map[string]any{
				"decision_text": text,
				"counterfeit":   c.Name,
				"description":   c.Description,
				"tenet":         c.Tenet,
			})
		}
	default:
		env.Emit(protocol.BlindSpotAlert, map[string]any{
			"decision_text":   text,
			"assessment":      assessment.OverallAssessment,
			"recommendations": assessment.Recommendations,
		})
	}
}

func (d *Dispatcher) onOperationComplete(ctx context.Context, sig protocol.Signal, env Env) {
	operation, ok := sig.PayloadString("operation")
	if !ok || env.Evaluator == nil {
		return
	}

	verdict, err := env.Evaluator.QuickEvaluate(ctx, operation)
	if err != nil {
		d.logger.Error(err, "Quick evaluation failed", "sender", sig.Sender)
		return
	}
	if !verdict.CounterfeitDetected {
		return
	}

	env.Emit(protocol.CounterfeitDetected, map[string]any{
		"operation":   operation,
		"counterfeit": verdict.Counterfeit,
		"verdict":     verdict.Verdict,
	})
}

func (d *Dispatcher) onLessonLearned(ctx context.Context, sig protocol.Signal, env Env) {
	lesson, ok := sig.PayloadString("lesson")
	if !ok || env.Patterns == nil {
		return
	}

	if d.reinforce(ctx, env.Patterns, lesson) {
		return
	}

	p := Pattern{
		ID:          uuid.NewString(),
		Type:        ClassifyLesson(lesson),
		Description: lesson,
		RelatedIDs:  stringList(sig.Payload, "related_ids"),
		Frequency:   1,
		LastSeen:    d.clock.Now().UTC(),
		Confidence:  defaultConfidence,
	}
	if c, ok := sig.Payload["confidence"].(float64); ok && c > 0 && c <= 1 {
		p.Confidence = c
	}

	err := env.Patterns.Insert(ctx, p)
	switch {
	case err == nil:
		d.logger.V(1).Info("Learned new pattern", "id", p.ID, "type", p.Type)
	case errors.Is(err, ErrPatternExists):
		// Lost a race with another writer; fold into the existing record.
		d.reinforce(ctx, env.Patterns, lesson)
	default:
		d.logger.Error(err, "Failed to store pattern", "sender", sig.Sender)
	}
}

// reinforce increments the pattern matching lesson. It reports whether a
// matching pattern existed.
func (d *Dispatcher) reinforce(ctx context.Context, store PatternStore, lesson string) bool {
	existing, err := store.FindByDescription(ctx, lesson)
	if errors.Is(err, ErrPatternNotFound) {
		return false
	}
	if err != nil {
		d.logger.Error(err, "Pattern lookup failed")
		// Treat as handled so a flaky store does not spawn duplicates.
		return true
	}
	if err := store.IncrementFrequency(ctx, existing.ID); err != nil {
		d.logger.Error(err, "Failed to increment pattern frequency", "id", existing.ID)
	}
	return true
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// stringList accepts either a JSON array of strings or a comma-separated string.
func stringList(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
