/**
 * @description
 * This file contains the core message handling logic of the risk-analysis-service.
 * The handler decodes a `user.created` event, runs the risk assessment, publishes
 * the result and tells the caller whether the delivery should be acknowledged.
 *
 * @notes
 * - A business failure returned by the assessor is still a successfully processed
 *   message: it is published and acknowledged.
 * - Any system failure (bad payload, assessor error or panic, encode or publish
 *   error) is logged together with the payload and the message is re-queued.
 * - Invalid UTF-8 sequences are replaced with U+FFFD before decoding, and a
 *   user_id or cpf holding an object or array is used as its JSON text. Both are
 *   logged as warnings and the message is processed normally.
 */
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/investnethub/risk-analysis-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	// ErrDecode marks a payload that could not be decoded into a user created event.
	ErrDecode = errors.New("decode user created event")
	// ErrPublish marks a failure to hand the result to the broker.
	ErrPublish = errors.New("publish assessment result")
)

// Publisher sends a payload to an exchange with a routing key.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error
}

// BrokerChannel is the narrow broker surface the service depends on.
// Deliveries are acknowledged through amqp.Delivery.Ack / Nack.
type BrokerChannel interface {
	Publisher
	DeclareQueue(name string, durable bool) error
	BindQueue(queue, exchange, routingKey string) error
	Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error)
}

// AssessmentRecorder persists published results for auditing.
type AssessmentRecorder interface {
	RecordAssessment(ctx context.Context, rec domain.AssessmentRecord) error
}

// HandlingResult tells the consumer what to do with a delivery.
type HandlingResult struct {
	Ack     bool
	Requeue bool
}

// Ack acknowledges the delivery.
func Ack() HandlingResult { return HandlingResult{Ack: true} }

// Nack rejects the delivery, optionally putting it back on the queue.
func Nack(requeue bool) HandlingResult { return HandlingResult{Requeue: requeue} }

func (r HandlingResult) String() string {
	switch {
	case r.Ack:
		return "ack"
	case r.Requeue:
		return "nack-requeue"
	default:
		return "nack-drop"
	}
}

// HandlerConfig holds routing and timing settings for RiskEventHandler.
type HandlerConfig struct {
	Exchange          string
	RoutingKey        string
	AssessmentTimeout time.Duration // 0 disables the timeout
	PublishTimeout    time.Duration
}

// RiskEventHandler orchestrates decode, assessment, encoding and publishing.
type RiskEventHandler struct {
	assessor  RiskAssessor
	codec     *ResultCodec
	publisher Publisher
	recorder  AssessmentRecorder
	cfg       HandlerConfig
	log       *zap.Logger
}

// NewRiskEventHandler creates a handler. recorder may be nil.
func NewRiskEventHandler(assessor RiskAssessor, codec *ResultCodec, publisher Publisher, recorder AssessmentRecorder, cfg HandlerConfig, log *zap.Logger) *RiskEventHandler {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &RiskEventHandler{
		assessor:  assessor,
		codec:     codec,
		publisher: publisher,
		recorder:  recorder,
		cfg:       cfg,
		log:       log,
	}
}

// Handle processes one raw payload and returns Ack or Nack(requeue=true).
func (h *RiskEventHandler) Handle(ctx context.Context, body []byte) (result HandlingResult) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("Panic while processing user created event; re-queuing",
				zap.Any("panic", rec),
				zap.ByteString("payload", body),
			)
			result = Nack(true)
		}
	}()

	if err := h.process(ctx, body); err != nil {
		h.log.Error("Failed to process user created event; re-queuing",
			zap.ByteString("payload", body),
			zap.Error(err),
		)
		return Nack(true)
	}
	return Ack()
}

func (h *RiskEventHandler) process(ctx context.Context, body []byte) error {
	if !utf8.Valid(body) {
		h.log.Warn("Payload is not valid UTF-8; replacing invalid bytes", zap.ByteString("payload", body))
		body = bytes.ToValidUTF8(body, []byte(string(utf8.RuneError)))
	}

	var event domain.UserCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	userID := event.ID()
	if fields := event.StructuredFields(); len(fields) > 0 {
		h.log.Warn("User created event has non-scalar fields; using their JSON text",
			zap.Strings("fields", fields),
			zap.String("user_id", userID),
		)
	}
	h.log.Info("Received user created event", zap.String("user_id", userID))

	outcome, err := h.assess(ctx, event)
	if err != nil {
		return fmt.Errorf("assess user %q: %w", userID, err)
	}

	built, err := h.codec.Build(outcome, userID)
	if err != nil {
		return fmt.Errorf("encode result for user %q: %w", userID, err)
	}
	payload, err := json.Marshal(built)
	if err != nil {
		return fmt.Errorf("encode result for user %q: %w", userID, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, h.cfg.PublishTimeout)
	defer cancel()
	if err := h.publisher.Publish(pubCtx, h.cfg.Exchange, h.cfg.RoutingKey, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	record := newAssessmentRecord(built, payload)
	if outcome.Succeeded {
		h.log.Info("Risk assessment completed",
			zap.String("user_id", userID),
			zap.String("risk_level", string(outcome.RiskLevel)),
			zap.String("correlation_id", record.CorrelationID),
			zap.String("exchange", h.cfg.Exchange),
			zap.String("routing_key", h.cfg.RoutingKey),
		)
	} else {
		h.log.Warn("Risk assessment returned a failure outcome",
			zap.String("user_id", userID),
			zap.String("reason", record.Error),
			zap.String("correlation_id", record.CorrelationID),
			zap.String("exchange", h.cfg.Exchange),
			zap.String("routing_key", h.cfg.RoutingKey),
		)
	}

	if h.recorder != nil {
		if err := h.recorder.RecordAssessment(ctx, record); err != nil {
			// the result is already published; re-queuing here would publish it twice
			h.log.Warn("Failed to record assessment result",
				zap.String("user_id", userID),
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (h *RiskEventHandler) assess(ctx context.Context, event domain.UserCreatedEvent) (domain.AssessmentOutcome, error) {
	if h.cfg.AssessmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.AssessmentTimeout)
		defer cancel()
	}
	return h.assessor.Assess(ctx, event)
}

func newAssessmentRecord(built Result, payload []byte) domain.AssessmentRecord {
	rec := domain.AssessmentRecord{
		CorrelationID: built.CorrelationID(),
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}
	if res := built.Success; res != nil {
		rec.UserID = res.User.ResourceID
		rec.Status = res.Status
		rec.RiskLevel = res.User.RiskLevel
		return rec
	}
	res := built.Failure
	rec.UserID = res.Message.ResourceID
	rec.Status = res.Status
	rec.Error = res.Error
	return rec
}
