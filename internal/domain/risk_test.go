package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCreatedEvent_Decode(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		userID     string
		cpf        string
		extra      []string
		structured []string
		wantErr    bool
	}{
		{
			name:    "string fields",
			payload: `{"user_id":"42","cpf":"00000000000"}`,
			userID:  "42",
			cpf:     "00000000000",
		},
		{
			name:    "numeric user id keeps literal text",
			payload: `{"user_id":42,"cpf":"123"}`,
			userID:  "42",
			cpf:     "123",
		},
		{
			name:    "missing fields default to empty",
			payload: `{"email":"a@b.c"}`,
			extra:   []string{"email"},
		},
		{
			name:    "null fields default to empty",
			payload: `{"user_id":null,"cpf":null}`,
		},
		{
			name:    "unknown fields are retained",
			payload: `{"user_id":"7","cpf":"1","name":"Ana","kyc":{"tier":1}}`,
			userID:  "7",
			cpf:     "1",
			extra:   []string{"name", "kyc"},
		},
		{
			name:    "not json",
			payload: `not-json`,
			wantErr: true,
		},
		{
			name:    "json array",
			payload: `[1,2]`,
			wantErr: true,
		},
		{
			name:    "json null",
			payload: `null`,
			wantErr: true,
		},
		{
			name:       "object user id keeps compact json text",
			payload:    `{"user_id": { "id": 42 },"cpf":"00000000000"}`,
			userID:     `{"id":42}`,
			cpf:        "00000000000",
			structured: []string{"user_id"},
		},
		{
			name:       "array cpf keeps compact json text",
			payload:    `{"user_id":"42","cpf":["000", "000"]}`,
			userID:     "42",
			cpf:        `["000","000"]`,
			structured: []string{"cpf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var event UserCreatedEvent
			err := json.Unmarshal([]byte(tt.payload), &event)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.userID, event.ID())
			assert.Equal(t, tt.cpf, event.Document())
			assert.Equal(t, tt.structured, event.StructuredFields())
			assert.Len(t, event.Extra, len(tt.extra))
			for _, key := range tt.extra {
				assert.Contains(t, event.Extra, key)
			}
		})
	}
}

func TestRiskLevel_Valid(t *testing.T) {
	assert.True(t, RiskLow.Valid())
	assert.True(t, RiskMedium.Valid())
	assert.True(t, RiskHigh.Valid())
	assert.False(t, RiskLevel("Extreme").Valid())
	assert.False(t, RiskLevel("").Valid())
}

func TestOutcomeConstructors(t *testing.T) {
	ok := SuccessOutcome(RiskHigh, DefaultInvestmentPreferences())
	assert.True(t, ok.Succeeded)
	assert.Equal(t, RiskHigh, ok.RiskLevel)
	assert.Equal(t, "LongTerm", ok.Preferences.InvestmentHorizon)

	failed := FailureOutcome("insufficient data")
	assert.False(t, failed.Succeeded)
	assert.Equal(t, "insufficient data", failed.Reason)
}
