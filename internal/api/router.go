/**
 * @description
 * This file sets up the operational HTTP router for the risk-analysis-service
 * using the `chi` routing library. The service has no public API; these routes
 * exist for container probes and quick inspection of the consumer.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 *
 * @notes
 * - GET /assessments/{userID} is only mounted when the audit store is enabled.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/investnethub/risk-analysis-service/internal/app"
	"github.com/investnethub/risk-analysis-service/internal/domain"
	"github.com/investnethub/risk-analysis-service/internal/store"
	"go.uber.org/zap"
)

// HealthChecker reports whether the broker connection is usable.
type HealthChecker interface {
	IsHealthy() bool
}

// StatsProvider exposes the consumer counters.
type StatsProvider interface {
	Stats() app.Stats
}

// AssessmentReader looks up the latest recorded result for a user.
type AssessmentReader interface {
	GetLatestByUserID(ctx context.Context, userID string) (*domain.AssessmentRecord, error)
}

type assessmentResponse struct {
	CorrelationID string          `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	Status        string          `json:"status"`
	RiskLevel     string          `json:"risk_level,omitempty"`
	Error         string          `json:"error,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
	Result        json.RawMessage `json:"result"`
}

// NewRouter creates and configures the ops router. assessments may be nil.
func NewRouter(broker HealthChecker, stats StatsProvider, assessments AssessmentReader, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Liveness: the process is up
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Readiness: the broker connection is open
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if broker == nil || !broker.IsHealthy() {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats.Stats())
	})

	if assessments != nil {
		r.Get("/assessments/{userID}", getLatestAssessment(assessments, log))
	}

	return r
}

func getLatestAssessment(assessments AssessmentReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "userID"))
		if userID == "" {
			http.Error(w, "user id is required", http.StatusBadRequest)
			return
		}

		rec, err := assessments.GetLatestByUserID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrAssessmentNotFound) {
				http.Error(w, "assessment not found", http.StatusNotFound)
				return
			}
			log.Error("Failed to fetch assessment", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "failed to fetch assessment", http.StatusInternalServerError)
			return
		}

		resp := assessmentResponse{
			CorrelationID: rec.CorrelationID,
			UserID:        rec.UserID,
			Status:        rec.Status,
			RiskLevel:     rec.RiskLevel,
			Error:         rec.Error,
			PublishedAt:   rec.PublishedAt,
		}
		if json.Valid(rec.Payload) {
			resp.Result = rec.Payload
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
