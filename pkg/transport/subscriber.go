package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/correlation"
	"github.com/yairfalse/fuse/pkg/domain"
)

// AlertStore persists the alert documents that flow through the subscriber
// so delayed retries can re-read them.
type AlertStore interface {
	correlation.AlertSource
	Save(ctx context.Context, alert *domain.Alert) error
}

// Subscriber consumes alert updates and delayed re-deliveries from
// JetStream and drives the correlation processor.
type Subscriber struct {
	logger *zap.Logger
	config Config

	nc *natsgo.Conn
	js natsgo.JetStreamContext

	processor *correlation.Processor
	alerts    AlertStore

	msgCh  chan *natsgo.Msg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// NewSubscriber connects to NATS and prepares the consumer.
func NewSubscriber(logger *zap.Logger, config Config, processor *correlation.Processor, alerts AlertStore) (*Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	nc, err := natsgo.Connect(config.URL,
		natsgo.Name(config.Name+"-subscriber"),
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

	return &Subscriber{
		logger:    logger,
		config:    config,
		nc:        nc,
		js:        js,
		processor: processor,
		alerts:    alerts,
		msgCh:     make(chan *natsgo.Msg, config.MaxPending),
	}, nil
}

// Start subscribes and launches the processing workers.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("subscriber already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, subject := range []string{s.config.AlertSubject, s.config.RetrySubject} {
		_, err := s.js.Subscribe(subject, s.enqueue,
			natsgo.Durable(consumerName(s.config.Name, subject)),
			natsgo.MaxDeliver(s.config.MaxDeliver),
			natsgo.AckExplicit(),
			natsgo.MaxAckPending(s.config.MaxPending))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.logger.Info("subscribed", zap.String("subject", subject))
	}

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.logger.Info("correlation subscriber started",
		zap.String("alert_subject", s.config.AlertSubject),
		zap.String("retry_subject", s.config.RetrySubject),
		zap.Int("workers", s.config.WorkerCount))
	return nil
}

// Stop drains the workers and closes the connection.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.nc.Close()
	s.started = false
	s.logger.Info("correlation subscriber stopped")
}

func (s *Subscriber) enqueue(msg *natsgo.Msg) {
	select {
	case s.msgCh <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Subscriber) worker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.msgCh:
			switch msg.Subject {
			case s.config.RetrySubject:
				s.handleRetry(msg)
			default:
				s.handleAlert(msg)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handleAlert(msg *natsgo.Msg) {
	var alert domain.Alert
	if err := json.Unmarshal(msg.Data, &alert); err != nil {
		s.logger.Warn("could not parse alert, dropping", zap.Error(err))
		msg.Ack()
		return
	}

	if err := s.alerts.Save(s.ctx, &alert); err != nil {
		s.logger.Warn("could not persist alert snapshot",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	if err := s.processor.Process(s.ctx, &alert, correlation.ProcessOptions{}); err != nil {
		// publish failures come back here; NAK so the work item re-delivers
		s.logger.Error("alert processing failed, nak",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}

func (s *Subscriber) handleRetry(msg *natsgo.Msg) {
	var envelope retryEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		s.logger.Warn("could not parse retry envelope, dropping", zap.Error(err))
		msg.Ack()
		return
	}

	if remaining := envelope.remaining(time.Now()); remaining > 0 {
		msg.NakWithDelay(remaining)
		return
	}

	payload := envelope.Payload
	alert, err := s.alerts.AlertByKey(s.ctx, payload.AlertKey)
	if err != nil {
		s.logger.Warn("retry alert lookup failed, dropping",
			zap.String("alert_id", payload.AlertKey.AlertID),
			zap.Error(err))
		msg.Ack()
		return
	}

	opts := correlation.ProcessOptions{
		AlertStatus:          payload.AlertStatus,
		CompositeStrategyIDs: payload.CompositeStrategyIDs,
		RetryTimes:           payload.RetryTimes,
	}
	if err := s.processor.Process(s.ctx, alert, opts); err != nil {
		s.logger.Error("retry processing failed, nak",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}

func consumerName(prefix, subject string) string {
	out := make([]byte, 0, len(prefix)+1+len(subject))
	out = append(out, prefix...)
	out = append(out, '-')
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			out = append(out, '-')
		} else {
			out = append(out, subject[i])
		}
	}
	return string(out)
}
