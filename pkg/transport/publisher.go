package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/correlation"
	"github.com/yairfalse/fuse/pkg/domain"
)

// Publisher pushes derived events, actions and throttle summaries to
// JetStream. It implements correlation.EventPublisher,
// correlation.ActionPublisher and correlation.DelayQueue.
type Publisher struct {
	logger *zap.Logger
	config Config
	nc     *natsgo.Conn
	js     natsgo.JetStreamContext
}

// retryEnvelope wraps a delay-queue payload with its due time. The
// consumer NAKs envelopes that are not due yet, with the remaining delay.
type retryEnvelope struct {
	DeliverAfter int64                    `json:"deliver_after"` // unix seconds
	Payload      correlation.RetryPayload `json:"payload"`
}

// remaining reports how long until the envelope is due; zero or negative
// means it can be processed now.
func (e retryEnvelope) remaining(now time.Time) time.Duration {
	return time.Unix(e.DeliverAfter, 0).Sub(now)
}

// NewPublisher connects to NATS and prepares the JetStream context.
func NewPublisher(logger *zap.Logger, config Config) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	nc, err := natsgo.Connect(config.URL,
		natsgo.Name(config.Name+"-publisher"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{logger: logger, config: config, nc: nc, js: js}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

// PublishEvents pushes a batch of derived events, waiting for every
// JetStream ack before returning.
func (p *Publisher) PublishEvents(ctx context.Context, events []*domain.DerivedEvent) error {
	if len(events) == 0 {
		return nil
	}

	futures := make([]natsgo.PubAckFuture, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal derived event %s: %w", event.EventID, err)
		}
		future, err := p.js.PublishAsync(p.config.EventSubject, data)
		if err != nil {
			return fmt.Errorf("publish derived event %s: %w", event.EventID, err)
		}
		futures = append(futures, future)
	}

	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(p.config.PublishTimeout):
		return fmt.Errorf("publish derived events: ack timeout after %s", p.config.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, future := range futures {
		select {
		case err := <-future.Err():
			return fmt.Errorf("publish derived event: %w", err)
		default:
		}
	}
	return nil
}

// PublishAction pushes one action signal to the dispatch queue.
func (p *Publisher) PublishAction(_ context.Context, action *domain.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	if _, err := p.js.Publish(p.config.ActionSubject, data); err != nil {
		return fmt.Errorf("publish action: %w", err)
	}
	return nil
}

// PublishQoSLog pushes a throttle summary.
func (p *Publisher) PublishQoSLog(_ context.Context, log *domain.QoSLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal qos log: %w", err)
	}
	if _, err := p.js.Publish(p.config.QoSLogSubject, data); err != nil {
		return fmt.Errorf("publish qos log: %w", err)
	}
	return nil
}

// ApplyAsync schedules a delayed re-delivery of the payload. Delivery
// happens through the retry subject; the subscriber holds envelopes back
// until their due time.
func (p *Publisher) ApplyAsync(_ context.Context, payload correlation.RetryPayload, countdown time.Duration) error {
	envelope := retryEnvelope{
		DeliverAfter: time.Now().Add(countdown).Unix(),
		Payload:      payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal retry payload: %w", err)
	}
	if _, err := p.js.Publish(p.config.RetrySubject, data); err != nil {
		return fmt.Errorf("publish retry payload: %w", err)
	}
	p.logger.Debug("retry scheduled",
		zap.String("alert_id", payload.AlertKey.AlertID),
		zap.Ints("strategy_ids", payload.CompositeStrategyIDs),
		zap.Duration("countdown", countdown))
	return nil
}
