package domain

// DerivedEventPluginID marks derived events as produced by the monitor itself.
const DerivedEventPluginID = "fuse-composite"

// Target types extracted from derived event dimensions.
const (
	TargetTypeHost    = "HOST"
	TargetTypeService = "SERVICE"
	TargetTypeTopo    = "TOPO"
)

// DerivedEvent is the event the correlation core publishes when a composite
// strategy's state transitions. It is published to the event bus and never
// persisted by the core.
type DerivedEvent struct {
	EventID     string      `json:"event_id"` // dimension_hash + "." + publish time
	PluginID    string      `json:"plugin_id"`
	StrategyID  int         `json:"strategy_id"`
	AlertName   string      `json:"alert_name"`
	Description string      `json:"description"`
	Severity    int         `json:"severity"`
	Status      AlertStatus `json:"status"` // ABNORMAL or CLOSED
	Tags        []Dimension `json:"tags"`
	TargetType  string      `json:"target_type"`
	Target      string      `json:"target"`
	Metrics     []string    `json:"metric"`
	Category    string      `json:"category,omitempty"`
	DataType    string      `json:"data_type"`
	DedupeKeys  []string    `json:"dedupe_keys"`
	BizID       int         `json:"biz_id"`
	Time        int64       `json:"time"`           // source alert update time
	IngestTime  int64       `json:"bk_ingest_time"` // publish time
	CleanTime   int64       `json:"bk_clean_time"`
}

// Action is a dispatch signal pushed to the action queue for execution.
type Action struct {
	StrategyID int          `json:"strategy_id"`
	Signal     ActionSignal `json:"signal"`
	AlertIDs   []string     `json:"alert_ids"`
	Severity   int          `json:"severity"`
	Dimensions []Dimension  `json:"dimensions,omitempty"`
}

// QoSLog records a throttled window: how many actions were suppressed and
// the counter value when the window tripped.
type QoSLog struct {
	StrategyID int          `json:"strategy_id"`
	Signal     ActionSignal `json:"signal"`
	AlertIDs   []string     `json:"alert_ids"`
	Count      int64        `json:"count"`
	Suppressed int          `json:"suppressed"`
	Time       int64        `json:"time"`
}
