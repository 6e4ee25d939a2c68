// Package transport wires the correlation core to NATS JetStream: alert
// work intake, derived event publishing, action dispatch and the delay
// queue used for lock-contention retries.
package transport

import "time"

// Config configures the NATS transport.
type Config struct {
	URL  string
	Name string // connection and consumer name prefix

	StreamName string

	// Subjects
	AlertSubject  string // inbound alert updates
	RetrySubject  string // inbound delayed re-deliveries
	EventSubject  string // outbound derived events
	ActionSubject string // outbound action signals
	QoSLogSubject string // outbound throttle summaries

	// Consumer tuning
	WorkerCount int
	MaxPending  int
	MaxDeliver  int

	// PublishTimeout bounds the wait for JetStream acks on batch publishes.
	PublishTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://127.0.0.1:4222",
		Name:           "fuse-composite",
		StreamName:     "FUSE",
		AlertSubject:   "fuse.alerts",
		RetrySubject:   "fuse.retries",
		EventSubject:   "fuse.events.derived",
		ActionSubject:  "fuse.actions.create",
		QoSLogSubject:  "fuse.actions.qos",
		WorkerCount:    4,
		MaxPending:     1000,
		MaxDeliver:     3,
		PublishTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.StreamName == "" {
		c.StreamName = def.StreamName
	}
	if c.AlertSubject == "" {
		c.AlertSubject = def.AlertSubject
	}
	if c.RetrySubject == "" {
		c.RetrySubject = def.RetrySubject
	}
	if c.EventSubject == "" {
		c.EventSubject = def.EventSubject
	}
	if c.ActionSubject == "" {
		c.ActionSubject = def.ActionSubject
	}
	if c.QoSLogSubject == "" {
		c.QoSLogSubject = def.QoSLogSubject
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.MaxPending == 0 {
		c.MaxPending = def.MaxPending
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = def.MaxDeliver
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	return c
}
