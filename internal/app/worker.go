package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned by Worker.Run when the broker closes the delivery stream.
var ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

// MessageHandler processes one raw payload.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) HandlingResult
}

// WorkerConfig configures the consume loop.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	// BindExchange, when set, binds Queue to this exchange with BindingKey.
	BindExchange string
	BindingKey   string
}

// Stats is a snapshot of the worker counters.
type Stats struct {
	Received uint64 `json:"received"`
	Acked    uint64 `json:"acked"`
	Requeued uint64 `json:"requeued"`
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"ack_failures"`
}

// Worker pulls deliveries from the inbound queue and applies the handler's decision.
type Worker struct {
	broker  BrokerChannel
	handler MessageHandler
	policy  *RedeliveryPolicy
	cfg     WorkerConfig
	log     *zap.Logger

	received atomic.Uint64
	acked    atomic.Uint64
	requeued atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// NewWorker creates a Worker. policy may be nil.
func NewWorker(broker BrokerChannel, handler MessageHandler, policy *RedeliveryPolicy, cfg WorkerConfig, log *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		broker:  broker,
		handler: handler,
		policy:  policy,
		cfg:     cfg,
		log:     log,
	}
}

// Run declares the durable inbound queue and consumes it until ctx is cancelled.
// Messages already being handled when ctx is cancelled are finished before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.broker.DeclareQueue(w.cfg.Queue, true); err != nil {
		return fmt.Errorf("declare queue %q: %w", w.cfg.Queue, err)
	}
	if w.cfg.BindExchange != "" {
		if err := w.broker.BindQueue(w.cfg.Queue, w.cfg.BindExchange, w.cfg.BindingKey); err != nil {
			return fmt.Errorf("bind queue %q to exchange %q: %w", w.cfg.Queue, w.cfg.BindExchange, err)
		}
		w.log.Info("Bound queue to exchange",
			zap.String("queue", w.cfg.Queue),
			zap.String("exchange", w.cfg.BindExchange),
			zap.String("binding_key", w.cfg.BindingKey),
		)
	}

	deliveries, err := w.broker.Consume(ctx, w.cfg.Queue)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", w.cfg.Queue, err)
	}

	w.log.Info("Consuming user created events",
		zap.String("queue", w.cfg.Queue),
		zap.Int("workers", w.cfg.Concurrency),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id, deliveries)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		w.log.Info("Consumer stopped", zap.String("queue", w.cfg.Queue))
		return nil
	}
	return ErrDeliveriesClosed
}

func (w *Worker) loop(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			// in-flight messages are not interrupted by shutdown
			w.process(context.WithoutCancel(ctx), id, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, id int, d amqp.Delivery) {
	w.received.Add(1)
	w.log.Debug("Received a message",
		zap.String("queue", w.cfg.Queue),
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.Bool("redelivered", d.Redelivered),
		zap.Int("worker", id),
	)

	res := w.handler.Handle(ctx, d.Body)
	res = w.policy.Apply(ctx, MessageKey(d), res)

	var err error
	switch {
	case res.Ack:
		err = d.Ack(false)
		if err == nil {
			w.acked.Add(1)
		}
	case res.Requeue:
		err = d.Nack(false, true)
		if err == nil {
			w.requeued.Add(1)
		}
	default:
		err = d.Nack(false, false)
		if err == nil {
			w.dropped.Add(1)
		}
	}

	if err != nil {
		w.failures.Add(1)
		w.log.Error("Failed to settle delivery",
			zap.String("queue", w.cfg.Queue),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Stringer("decision", res),
			zap.Error(err),
		)
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Received: w.received.Load(),
		Acked:    w.acked.Load(),
		Requeued: w.requeued.Load(),
		Dropped:  w.dropped.Load(),
		Failures: w.failures.Load(),
	}
}
