package app

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/investnethub/risk-analysis-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestEncode_SuccessShape(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := NewResultCodecWith(func() time.Time { return now }, sequentialIDs())

	payload, err := codec.Encode(domain.SuccessOutcome(domain.RiskLow, domain.DefaultInvestmentPreferences()), "42")
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.ElementsMatch(t, []string{"id", "status", "user", "created_at", "updated_at"}, keysOf(raw))

	decoded, err := DecodeResult(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Success)
	assert.Nil(t, decoded.Failure)

	res := decoded.Success
	assert.Equal(t, "id-1", res.ID)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "42", res.User.ResourceID)
	assert.Equal(t, "Low", res.User.RiskLevel)
	assert.True(t, now.Equal(res.CreatedAt))
	assert.Equal(t, 5*time.Minute, res.UpdatedAt.Sub(res.CreatedAt))

	var prefs domain.InvestmentPreferences
	require.NoError(t, json.Unmarshal([]byte(res.User.InvestmentPreferences), &prefs))
	assert.Equal(t, domain.DefaultInvestmentPreferences(), prefs)
}

func TestEncode_FailureShape(t *testing.T) {
	codec := NewResultCodecWith(time.Now, sequentialIDs())

	payload, err := codec.Encode(domain.FailureOutcome("insufficient data"), "42")
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.ElementsMatch(t, []string{"id", "status", "message", "error"}, keysOf(raw))
	assert.NotContains(t, raw, "user")
	assert.NotContains(t, raw, "created_at")

	decoded, err := DecodeResult(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Failure)
	assert.Equal(t, domain.StatusFailed, decoded.Failure.Status)
	assert.Equal(t, "42", decoded.Failure.Message.ResourceID)
	assert.Equal(t, "", decoded.Failure.Message.RiskLevel)
	assert.Equal(t, "", decoded.Failure.Message.InvestmentPreferences)
	assert.Equal(t, "insufficient data", decoded.Failure.Error)
}

func TestEncode_BlankFailureReasonGetsDefault(t *testing.T) {
	codec := NewResultCodec()

	payload, err := codec.Encode(domain.FailureOutcome("  "), "7")
	require.NoError(t, err)

	decoded, err := DecodeResult(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Failure)
	assert.Equal(t, defaultFailureError, decoded.Failure.Error)
}

func TestEncode_DiffersOnlyInIDAndTimestamps(t *testing.T) {
	outcomes := []domain.AssessmentOutcome{
		domain.SuccessOutcome(domain.RiskHigh, domain.DefaultInvestmentPreferences()),
		domain.FailureOutcome("insufficient data"),
	}
	codec := NewResultCodec()

	for _, outcome := range outcomes {
		first, err := codec.Encode(outcome, "42")
		require.NoError(t, err)
		second, err := codec.Encode(outcome, "42")
		require.NoError(t, err)

		a := stripVolatile(t, first)
		b := stripVolatile(t, second)
		assert.Equal(t, a, b)

		var idA, idB struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(first, &idA))
		require.NoError(t, json.Unmarshal(second, &idB))
		assert.NotEqual(t, idA.ID, idB.ID, "every result gets a fresh correlation id")
	}
}

func TestEncode_RejectsUnknownRiskLevel(t *testing.T) {
	_, err := NewResultCodec().Encode(domain.SuccessOutcome("Extreme", domain.DefaultInvestmentPreferences()), "42")
	assert.Error(t, err)
}

func TestDecodeResult_RejectsUnknownShapes(t *testing.T) {
	tests := map[string]string{
		"not json":          `nope`,
		"no known keys":     `{"id":"1","status":"COMPLETED"}`,
		"message only":      `{"message":{"resource_id":"1"}}`,
		"user without time": `{"user":{"resource_id":"1"}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeResult([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestResult_CorrelationIDAndMarshal(t *testing.T) {
	codec := NewResultCodecWith(time.Now, sequentialIDs())

	ok, err := codec.Build(domain.SuccessOutcome(domain.RiskLow, domain.DefaultInvestmentPreferences()), "42")
	require.NoError(t, err)
	assert.Equal(t, "id-1", ok.CorrelationID())
	assert.Nil(t, ok.Failure)

	failed, err := codec.Build(domain.FailureOutcome("x"), "42")
	require.NoError(t, err)
	assert.Equal(t, "id-2", failed.CorrelationID())
	assert.Nil(t, failed.Success)

	_, err = json.Marshal(Result{})
	assert.Error(t, err, "an empty result has nothing to publish")
	_, err = json.Marshal(Result{Success: ok.Success, Failure: failed.Failure})
	assert.Error(t, err)
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func stripVolatile(t *testing.T, payload []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &m))
	delete(m, "id")
	delete(m, "created_at")
	delete(m, "updated_at")
	return m
}
