/**
 * @description
 * This package provides the RabbitMQ client used by the risk-analysis-service.
 * A single connection carries two AMQP channels: one for consuming the inbound
 * queue with manual acknowledgment, and one for publishing assessment results.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The Go client for RabbitMQ.
 * - github.com/google/uuid: Message ids for published results.
 * - go.uber.org/zap: Structured logging.
 *
 * @notes
 * - Publishing is serialized with a mutex and uses publisher confirms, so a
 *   successful Publish means the broker has taken responsibility for the message.
 * - Connection recovery is not handled here. When the connection drops the
 *   delivery channel closes and the process is expected to restart.
 */
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPublishNacked is returned when the broker negatively confirms a publish.
var ErrPublishNacked = errors.New("broker did not confirm publish")

// Options configures a Channel.
type Options struct {
	// Prefetch limits unacknowledged deliveries on the consumer channel.
	Prefetch int
	// DeadLetterExchange, when set, is attached to declared queues as x-dead-letter-exchange.
	DeadLetterExchange string
	// ConnectionName shows up in the RabbitMQ management UI.
	ConnectionName string
}

// Channel holds the connection plus the consume and publish channels.
type Channel struct {
	conn    *amqp.Connection
	consume *amqp.Channel
	publish *amqp.Channel
	opts    Options
	log     *zap.Logger

	pubMu sync.Mutex
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// BuildURL assembles an AMQP URL from its parts. vhost may be empty or "/".
func BuildURL(host string, port int, user, password, vhost string) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	vhost = strings.TrimPrefix(vhost, "/")
	if vhost != "" {
		u.Path = "/" + vhost
	} else {
		u.Path = "/"
	}
	return u.String()
}

// Dial connects to RabbitMQ and opens the consume and publish channels.
func Dial(amqpURL string, opts Options, log *zap.Logger) (*Channel, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	props := amqp.NewConnectionProperties()
	if opts.ConnectionName != "" {
		props.SetClientConnectionName(opts.ConnectionName)
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{
		Dial:       amqp.DefaultDial(10 * time.Second),
		Heartbeat:  10 * time.Second,
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := publishCh.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	if opts.Prefetch > 0 {
		if err := consumeCh.Qos(opts.Prefetch, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	log.Info("Connected to RabbitMQ", zap.Int("prefetch", opts.Prefetch))
	return &Channel{
		conn:    conn,
		consume: consumeCh,
		publish: publishCh,
		opts:    opts,
		log:     log,
	}, nil
}

// DeclareExchange declares a durable exchange of the given kind (topic, direct, fanout).
func (c *Channel) DeclareExchange(name, kind string) error {
	if name == "" {
		// the default exchange always exists and cannot be declared
		return nil
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.publish.ExchangeDeclare(
		name,  // name
		kind,  // type
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}

// DeclareQueue declares a queue so messages survive a consumer restart when durable.
func (c *Channel) DeclareQueue(name string, durable bool) error {
	var args amqp.Table
	if c.opts.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": c.opts.DeadLetterExchange}
	}
	_, err := c.consume.QueueDeclare(
		name,    // name
		durable, // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		args,    // arguments
	)
	return err
}

// BindQueue binds a queue to an exchange with a routing key.
func (c *Channel) BindQueue(queue, exchange, routingKey string) error {
	return c.consume.QueueBind(queue, routingKey, exchange, false, nil)
}

// Consume starts a manual-ack consumer. The returned channel is closed when ctx
// is cancelled or the underlying AMQP channel closes.
func (c *Channel) Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	return c.consume.ConsumeWithContext(ctx,
		queue, // queue
		"",    // consumer
		false, // auto-ack is false, we will manually acknowledge
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
}

// Publish sends a persistent JSON message and waits for the broker confirm.
func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	confirm, err := c.publish.PublishWithDeferredConfirmWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrPublishNacked
	}

	c.log.Debug("Published message",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)
	return nil
}

// IsHealthy reports whether the connection and both channels are open.
func (c *Channel) IsHealthy() bool {
	return c.conn != nil && !c.conn.IsClosed() &&
		c.consume != nil && !c.consume.IsClosed() &&
		c.publish != nil && !c.publish.IsClosed()
}

// Close closes both channels and the connection.
func (c *Channel) Close() {
	if c.consume != nil {
		c.consume.Close()
	}
	if c.publish != nil {
		c.publish.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
