package correlation

import (
	"context"
	"time"

	"github.com/yairfalse/fuse/pkg/domain"
)

// StrategyCache is the read-only view of the composite strategy
// configuration, refreshed by an external process. Reads may be stale by
// seconds; a strategy is immutable within one processing cycle.
type StrategyCache interface {
	// AlertStrategyIDs lists the composite strategy ids whose query configs
	// are fed by the given upstream strategy id (when non-zero) or alert
	// name, keyed by biz id.
	AlertStrategyIDs(ctx context.Context, strategyID int, alertName string) (map[int][]int, error)

	// StrategyByID resolves one strategy, returning ErrConfigMiss when the
	// id is absent from the cache.
	StrategyByID(ctx context.Context, id int) (*domain.Strategy, error)

	// InAlarmTime reports whether the strategy is inside its alarm window,
	// with a human-readable reason when it is not.
	InAlarmTime(strategy *domain.Strategy) (bool, string)
}

// AlertSource is the read-through view of alert documents, used to rehydrate
// work items re-delivered through the delay queue.
type AlertSource interface {
	AlertByKey(ctx context.Context, key domain.AlertKey) (*domain.Alert, error)
}

// EventPublisher pushes derived events to the event bus. Failures propagate
// to the caller so the source work item is re-delivered.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []*domain.DerivedEvent) error
}

// ActionPublisher pushes action signals and QoS summaries to the dispatch
// queue.
type ActionPublisher interface {
	PublishAction(ctx context.Context, action *domain.Action) error
	PublishQoSLog(ctx context.Context, log *domain.QoSLog) error
}

// DelayQueue re-invokes the processor with the payload after the countdown.
// Payloads are strategy-scoped on lock contention so an unrelated contending
// strategy does not block the whole alert.
type DelayQueue interface {
	ApplyAsync(ctx context.Context, payload RetryPayload, countdown time.Duration) error
}

// RetryPayload is the delay-queue work item.
type RetryPayload struct {
	AlertKey             domain.AlertKey    `json:"alert_key"`
	AlertStatus          domain.AlertStatus `json:"alert_status,omitempty"`
	CompositeStrategyIDs []int              `json:"composite_strategy_ids,omitempty"`
	RetryTimes           int                `json:"retry_times"`
}
