package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/investnethub/risk-analysis-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimulatedAssessor_ScenarioMapping(t *testing.T) {
	tests := []struct {
		name      string
		pick      int
		succeeded bool
		level     domain.RiskLevel
	}{
		{name: "low", pick: 0, succeeded: true, level: domain.RiskLow},
		{name: "medium", pick: 1, succeeded: true, level: domain.RiskMedium},
		{name: "high", pick: 2, succeeded: true, level: domain.RiskHigh},
		{name: "failure", pick: 3, succeeded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asked int
			assessor := NewSimulatedAssessor(zap.NewNop(),
				WithDelays(0, 0),
				WithPicker(func(n int) int {
					asked = n
					return tt.pick
				}),
			)

			outcome, err := assessor.Assess(context.Background(), domain.UserCreatedEvent{UserID: "42", CPF: "00000000000"})
			require.NoError(t, err)
			assert.Equal(t, 4, asked, "one of four scenarios is picked")
			assert.Equal(t, tt.succeeded, outcome.Succeeded)
			if tt.succeeded {
				assert.Equal(t, tt.level, outcome.RiskLevel)
				assert.Equal(t, domain.DefaultInvestmentPreferences(), outcome.Preferences)
			} else {
				assert.NotEmpty(t, outcome.Reason)
			}
		})
	}
}

func TestSimulatedAssessor_CustomPreferences(t *testing.T) {
	prefs := domain.InvestmentPreferences{AssetTypes: []string{"ETF"}, InvestmentHorizon: "ShortTerm"}
	assessor := NewSimulatedAssessor(zap.NewNop(),
		WithDelays(0, 0),
		WithPicker(func(int) int { return 1 }),
		WithPreferences(prefs),
	)

	outcome, err := assessor.Assess(context.Background(), domain.UserCreatedEvent{})
	require.NoError(t, err)
	assert.Equal(t, prefs, outcome.Preferences)
}

func TestSimulatedAssessor_StopsOnCancellation(t *testing.T) {
	assessor := NewSimulatedAssessor(zap.NewNop(), WithDelays(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := assessor.Assess(ctx, domain.UserCreatedEvent{UserID: "42"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSimulatedAssessor_DefaultPickerStaysInRange(t *testing.T) {
	assessor := NewSimulatedAssessor(zap.NewNop(), WithDelays(0, 0))
	for i := 0; i < 50; i++ {
		outcome, err := assessor.Assess(context.Background(), domain.UserCreatedEvent{UserID: "1"})
		require.NoError(t, err)
		if outcome.Succeeded {
			assert.True(t, outcome.RiskLevel.Valid())
		}
	}
}

func TestMaskDocument(t *testing.T) {
	assert.Equal(t, "********901", maskDocument("12345678901"))
	assert.Equal(t, "123", maskDocument("123"))
	assert.Equal(t, "", maskDocument(""))
}
