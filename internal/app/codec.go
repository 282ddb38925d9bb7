package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/investnethub/risk-analysis-service/internal/domain"
)

// resultTTL is the gap between created_at and updated_at on successful results.
const resultTTL = 5 * time.Minute

const defaultFailureError = "risk assessment failed"

// ResultCodec turns assessment outcomes into the JSON payloads published downstream.
type ResultCodec struct {
	now   func() time.Time
	newID func() string
}

// NewResultCodec returns a codec using the wall clock (UTC) and random UUIDs.
func NewResultCodec() *ResultCodec {
	return &ResultCodec{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// NewResultCodecWith returns a codec with a custom clock and id generator.
func NewResultCodecWith(now func() time.Time, newID func() string) *ResultCodec {
	return &ResultCodec{now: now, newID: newID}
}

// Result holds exactly one of the two published shapes.
type Result struct {
	Success *domain.SuccessResult
	Failure *domain.FailureResult
}

// CorrelationID returns the id of whichever shape is set.
func (r Result) CorrelationID() string {
	if r.Success != nil {
		return r.Success.ID
	}
	if r.Failure != nil {
		return r.Failure.ID
	}
	return ""
}

// MarshalJSON encodes the shape that is set.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Success != nil && r.Failure != nil:
		return nil, errors.New("result carries both success and failure shapes")
	case r.Success != nil:
		return json.Marshal(r.Success)
	case r.Failure != nil:
		return json.Marshal(r.Failure)
	}
	return nil, errors.New("empty result")
}

// Build returns the result for an outcome.
func (c *ResultCodec) Build(outcome domain.AssessmentOutcome, userID string) (Result, error) {
	if !outcome.Succeeded {
		reason := strings.TrimSpace(outcome.Reason)
		if reason == "" {
			reason = defaultFailureError
		}
		return Result{Failure: &domain.FailureResult{
			ID:      c.newID(),
			Status:  domain.StatusFailed,
			Message: domain.UserAssessment{ResourceID: userID},
			Error:   reason,
		}}, nil
	}

	if !outcome.RiskLevel.Valid() {
		return Result{}, fmt.Errorf("unknown risk level %q", outcome.RiskLevel)
	}

	prefs, err := json.Marshal(outcome.Preferences)
	if err != nil {
		return Result{}, fmt.Errorf("marshal investment preferences: %w", err)
	}

	createdAt := c.now().UTC()
	return Result{Success: &domain.SuccessResult{
		ID:     c.newID(),
		Status: domain.StatusCompleted,
		User: domain.UserAssessment{
			ResourceID:            userID,
			RiskLevel:             string(outcome.RiskLevel),
			InvestmentPreferences: string(prefs),
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt.Add(resultTTL),
	}}, nil
}

// Encode serializes an outcome for userID into its wire payload.
func (c *ResultCodec) Encode(outcome domain.AssessmentOutcome, userID string) ([]byte, error) {
	result, err := c.Build(outcome, userID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// DecodeResult parses a payload produced by Encode. The shape is chosen by field
// presence: `user` marks a success, `message` plus `error` marks a failure.
func DecodeResult(payload []byte) (Result, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Result{}, err
	}

	if _, ok := probe["user"]; ok {
		var res domain.SuccessResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return Result{}, err
		}
		if _, ok := probe["created_at"]; !ok {
			return Result{}, errors.New("success result missing created_at")
		}
		if _, ok := probe["updated_at"]; !ok {
			return Result{}, errors.New("success result missing updated_at")
		}
		return Result{Success: &res}, nil
	}

	_, hasMessage := probe["message"]
	_, hasError := probe["error"]
	if hasMessage && hasError {
		var res domain.FailureResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return Result{}, err
		}
		return Result{Failure: &res}, nil
	}

	return Result{}, errors.New("payload matches neither result shape")
}
