/**
 * @description
 * This file defines the domain models for the risk-analysis-service: the inbound
 * `user.created` event, the outcome of a risk assessment, and the outbound result
 * payloads published for downstream services.
 *
 * @notes
 * - The inbound event is decoded permissively. Upstream producers are not consistent
 *   about field types, so `user_id` and `cpf` accept any JSON value. Objects and arrays
 *   are kept as their compact JSON text and reported through StructuredFields.
 * - The two outbound shapes are intentionally distinct: consumers branch on the
 *   presence of `user` versus `message`/`error`.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the tier assigned to a user by a successful assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Valid reports whether the level is one of the known tiers.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Outbound status markers.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// FlexibleString decodes any JSON value into text. Strings are unquoted, null becomes
// empty, and numbers, booleans, objects and arrays keep their compact JSON form.
type FlexibleString string

func (s *FlexibleString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}

	switch trimmed[0] {
	case '"':
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*s = FlexibleString(v)
		return nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return err
		}
		*s = FlexibleString(buf.String())
		return nil
	default:
		// numbers and booleans keep their literal form, e.g. 42 -> "42"
		*s = FlexibleString(trimmed)
		return nil
	}
}

// UserCreatedEvent is the payload received on the user created queue.
// Only UserID and CPF are used by the assessment; everything else is kept in Extra.
type UserCreatedEvent struct {
	UserID FlexibleString             `json:"user_id"`
	CPF    FlexibleString             `json:"cpf"`
	Extra  map[string]json.RawMessage `json:"-"`

	structured []string
}

// UnmarshalJSON requires a JSON object and retains unknown fields. A malformed
// user_id or cpf never fails the decode.
func (e *UserCreatedEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("user created event must be a JSON object")
	}

	var decoded UserCreatedEvent
	decoded.decodeField(fields, "user_id", &decoded.UserID)
	decoded.decodeField(fields, "cpf", &decoded.CPF)
	if len(fields) > 0 {
		decoded.Extra = fields
	}

	*e = decoded
	return nil
}

func (e *UserCreatedEvent) decodeField(fields map[string]json.RawMessage, name string, dst *FlexibleString) {
	raw, ok := fields[name]
	if !ok {
		return
	}
	delete(fields, name)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		e.structured = append(e.structured, name)
	}
	if err := dst.UnmarshalJSON(trimmed); err != nil {
		*dst = ""
	}
}

// StructuredFields lists the known fields that carried an object or array instead of a scalar.
func (e UserCreatedEvent) StructuredFields() []string {
	return e.structured
}

// ID returns the trimmed user id.
func (e UserCreatedEvent) ID() string {
	return strings.TrimSpace(string(e.UserID))
}

// Document returns the trimmed CPF.
func (e UserCreatedEvent) Document() string {
	return strings.TrimSpace(string(e.CPF))
}

// InvestmentPreferences describes the investor profile attached to a successful assessment.
type InvestmentPreferences struct {
	AssetTypes        []string `json:"assetTypes"`
	InvestmentHorizon string   `json:"investmentHorizon"`
	InterestedSectors []string `json:"interestedSectors"`
}

// DefaultInvestmentPreferences is the placeholder profile used until a real scorer exists.
func DefaultInvestmentPreferences() InvestmentPreferences {
	return InvestmentPreferences{
		AssetTypes:        []string{"Stocks", "Bonds"},
		InvestmentHorizon: "LongTerm",
		InterestedSectors: []string{"Technology", "Healthcare"},
	}
}

// AssessmentOutcome is either a success carrying a risk tier or a business failure.
type AssessmentOutcome struct {
	Succeeded   bool
	RiskLevel   RiskLevel
	Preferences InvestmentPreferences
	Reason      string
}

// SuccessOutcome builds a successful outcome.
func SuccessOutcome(level RiskLevel, prefs InvestmentPreferences) AssessmentOutcome {
	return AssessmentOutcome{Succeeded: true, RiskLevel: level, Preferences: prefs}
}

// FailureOutcome builds a business failure outcome.
func FailureOutcome(reason string) AssessmentOutcome {
	return AssessmentOutcome{Reason: reason}
}

// UserAssessment is the `user` block of a successful result.
type UserAssessment struct {
	ResourceID            string `json:"resource_id"`
	RiskLevel             string `json:"risk_level"`
	InvestmentPreferences string `json:"investment_preferences"`
}

// SuccessResult is published when the assessment produced a risk tier.
type SuccessResult struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	User      UserAssessment `json:"user"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FailureResult is published when the assessment could not classify the user.
type FailureResult struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Message UserAssessment `json:"message"`
	Error   string         `json:"error"`
}

// AssessmentRecord is the audit row stored for every published result.
type AssessmentRecord struct {
	CorrelationID string
	UserID        string
	Status        string
	RiskLevel     string
	Error         string
	Payload       []byte
	PublishedAt   time.Time
}
