package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatqueue/internal/errors"
	"chatqueue/internal/models"
	"chatqueue/internal/retry"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	routingKeyPrefix = "chat.outbound."
	returnBuffer     = 16
)

// AMQPOptions configures the broker transport
type AMQPOptions struct {
	URL          string
	Exchange     string
	Timeout      time.Duration
	DialAttempts int
}

// AMQPSender publishes each message to a topic exchange and counts it
// delivered only once the broker confirms it. Publishes are mandatory: a
// message no queue is bound to receive comes back as a failure. Consumers
// must bind a durable queue to the exchange for chat.outbound.# keys.
type AMQPSender struct {
	opts   AMQPOptions
	logger *logrus.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
}

func NewAMQPSender(ctx context.Context, opts AMQPOptions, logger *logrus.Logger) (*AMQPSender, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if opts.Exchange == "" {
		return nil, fmt.Errorf("amqp exchange is required")
	}
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 3
	}

	s := &AMQPSender{opts: opts, logger: logger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// connect dials with backoff, declares the exchange and enables confirms. Caller holds mu.
func (s *AMQPSender) connect(ctx context.Context) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		MaxAttempts:  s.opts.DialAttempts,
	})

	var conn *amqp.Connection
	attempt := 0
	err := backoff.Retry(ctx, func() error {
		attempt++
		c, err := amqp.Dial(s.opts.URL)
		if err != nil {
			s.logger.WithError(err).WithField("attempt", attempt).Warn("Broker dial failed")
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker after %d attempts: %w", attempt, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	s.conn = conn
	s.ch = ch
	s.returns = ch.NotifyReturn(make(chan amqp.Return, returnBuffer))
	s.logger.WithField("exchange", s.opts.Exchange).Info("Broker connected")
	return nil
}

// RoutingKey returns the key a message is published under
func RoutingKey(t models.MessageType) string {
	return routingKeyPrefix + string(t)
}

func (s *AMQPSender) Send(ctx context.Context, msg models.QueuedMessage) error {
	payload, err := BuildPayload(msg)
	if err != nil {
		return errors.NewDeliveryError("amqp", 0, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.ch == nil || s.ch.IsClosed() {
		if err := s.connect(ctx); err != nil {
			return errors.NewDeliveryError("amqp", 0, err)
		}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	// returns left over from publishes that timed out
	s.drainReturns()

	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.opts.Exchange, RoutingKey(msg.Type), true, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.ConversationID,
		Type:          string(msg.Type),
		Timestamp:     time.UnixMilli(msg.Timestamp).UTC(),
		AppId:         "chatqueue",
	})
	if err != nil {
		return errors.NewDeliveryError("amqp", 0, fmt.Errorf("publish: %w", err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.NewDeliveryError("amqp", 0, fmt.Errorf("await confirm: %w", err))
	}
	// The broker sends basic.return before the ack, and the client queues it
	// on returns before it resolves the confirm.
	return confirmOutcome(msg.ID, acked, s.drainReturns())
}

// drainReturns empties the return channel without blocking. Caller holds mu.
func (s *AMQPSender) drainReturns() []amqp.Return {
	var out []amqp.Return
	for {
		select {
		case r, ok := <-s.returns:
			if !ok {
				return out
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

// confirmOutcome turns a publisher confirm into a delivery result. An
// unroutable mandatory publish is still acked, so a matching return wins.
func confirmOutcome(id string, acked bool, returned []amqp.Return) error {
	for _, r := range returned {
		if r.MessageId == id {
			return errors.NewDeliveryError("amqp", 0,
				fmt.Errorf("%w: unroutable via %q (%d %s)", ErrRejected, r.RoutingKey, r.ReplyCode, r.ReplyText))
		}
	}
	if !acked {
		return errors.NewDeliveryError("amqp", 0, fmt.Errorf("%w: broker nacked publish", ErrRejected))
	}
	return nil
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.ch = nil
	s.returns = nil
	return err
}
