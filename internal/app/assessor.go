package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/investnethub/risk-analysis-service/internal/domain"
	"go.uber.org/zap"
)

// RiskAssessor evaluates a user created event. Implementations must not publish
// anything themselves; the handler owns all broker I/O.
type RiskAssessor interface {
	Assess(ctx context.Context, event domain.UserCreatedEvent) (domain.AssessmentOutcome, error)
}

// AssessorFunc adapts a plain function to RiskAssessor.
type AssessorFunc func(ctx context.Context, event domain.UserCreatedEvent) (domain.AssessmentOutcome, error)

func (f AssessorFunc) Assess(ctx context.Context, event domain.UserCreatedEvent) (domain.AssessmentOutcome, error) {
	return f(ctx, event)
}

const simulatedFailureReason = "risk assessment could not be completed"

var simulatedSteps = []string{
	"investment profile validation",
	"credit risk profile validation",
	"sectors of interest validation",
}

// SimulatedAssessor stands in for a real scoring engine. It walks a few timed
// validation steps and then picks one of four scenarios uniformly: Low, Medium,
// High or a business failure.
type SimulatedAssessor struct {
	stepDelay   time.Duration
	settleDelay time.Duration
	prefs       domain.InvestmentPreferences
	pick        func(n int) int
	log         *zap.Logger
}

// SimulatedOption configures a SimulatedAssessor.
type SimulatedOption func(*SimulatedAssessor)

// WithPicker replaces the random scenario picker. pick(n) must return a value in [0, n).
func WithPicker(pick func(n int) int) SimulatedOption {
	return func(a *SimulatedAssessor) { a.pick = pick }
}

// WithDelays sets the per-step and settle delays.
func WithDelays(step, settle time.Duration) SimulatedOption {
	return func(a *SimulatedAssessor) {
		a.stepDelay = step
		a.settleDelay = settle
	}
}

// WithPreferences overrides the investment preferences attached to successes.
func WithPreferences(prefs domain.InvestmentPreferences) SimulatedOption {
	return func(a *SimulatedAssessor) { a.prefs = prefs }
}

// NewSimulatedAssessor creates a SimulatedAssessor with the reference delays
// (500ms per step, 1s settle) and a time-seeded random picker.
func NewSimulatedAssessor(log *zap.Logger, opts ...SimulatedOption) *SimulatedAssessor {
	a := &SimulatedAssessor{
		stepDelay:   500 * time.Millisecond,
		settleDelay: time.Second,
		prefs:       domain.DefaultInvestmentPreferences(),
		pick:        lockedRandom(rand.New(rand.NewSource(time.Now().UnixNano()))),
		log:         log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SimulatedAssessor) Assess(ctx context.Context, event domain.UserCreatedEvent) (domain.AssessmentOutcome, error) {
	a.log.Info("Starting risk assessment",
		zap.String("user_id", event.ID()),
		zap.String("cpf", maskDocument(event.Document())),
	)

	for _, step := range simulatedSteps {
		a.log.Debug("Running assessment step", zap.String("user_id", event.ID()), zap.String("step", step))
		if err := sleepContext(ctx, a.stepDelay); err != nil {
			return domain.AssessmentOutcome{}, err
		}
	}

	var outcome domain.AssessmentOutcome
	switch a.pick(4) {
	case 0:
		outcome = domain.SuccessOutcome(domain.RiskLow, a.prefs)
	case 1:
		outcome = domain.SuccessOutcome(domain.RiskMedium, a.prefs)
	case 2:
		outcome = domain.SuccessOutcome(domain.RiskHigh, a.prefs)
	default:
		outcome = domain.FailureOutcome(simulatedFailureReason)
	}

	if err := sleepContext(ctx, a.settleDelay); err != nil {
		return domain.AssessmentOutcome{}, err
	}
	return outcome, nil
}

// lockedRandom makes a *rand.Rand safe for the worker goroutines sharing one assessor.
func lockedRandom(r *rand.Rand) func(n int) int {
	var mu sync.Mutex
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.Intn(n)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// maskDocument keeps the last three digits of a CPF for logs.
func maskDocument(doc string) string {
	if len(doc) <= 3 {
		return doc
	}
	masked := make([]byte, len(doc))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(doc)-3:], doc[len(doc)-3:])
	return string(masked)
}
