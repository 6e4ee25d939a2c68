package domain

import (
	"fmt"
	"strings"
)

// AlertStatus is the lifecycle state of an alert as maintained upstream.
// Status progresses ABNORMAL -> (RECOVERED | CLOSED) and never goes back.
type AlertStatus string

const (
	AlertStatusAbnormal  AlertStatus = "ABNORMAL"
	AlertStatusRecovered AlertStatus = "RECOVERED"
	AlertStatusClosed    AlertStatus = "CLOSED"
)

// ActionSignal identifies the kind of action dispatch triggered by a state change
type ActionSignal string

const (
	SignalAbnormal  ActionSignal = "abnormal"
	SignalRecovered ActionSignal = "recovered"
	SignalClosed    ActionSignal = "closed"
	SignalNoData    ActionSignal = "no_data"
	SignalAck       ActionSignal = "ack"
)

// Alert is a deduplicated anomaly owned by the upstream detector. The
// correlation core only ever reads alerts; it never creates or mutates them.
type Alert struct {
	ID         string      `json:"id"`
	Name       string      `json:"alert_name"`
	DedupeHash string      `json:"dedupe_hash"`
	StrategyID int         `json:"strategy_id"` // 0 means third-party (no owning strategy)
	BizID      int         `json:"biz_id"`
	Severity   int         `json:"severity"` // 1 is most severe
	Status     AlertStatus `json:"status"`
	CreateTime int64       `json:"create_time"` // unix seconds
	UpdateTime int64       `json:"update_time"` // unix seconds, non-decreasing

	Dimensions []Dimension `json:"dimensions,omitempty"`
	TopEvent   *Event      `json:"top_event,omitempty"`

	IsNoData    bool `json:"is_no_data"`
	IsAckSignal bool `json:"is_ack_signal"`
	IsHandled   bool `json:"is_handled"`

	// Strategy is the owning strategy snapshot attached by the upstream
	// builder, when there is one. Used to recognise composite-origin alerts.
	Strategy *Strategy `json:"strategy,omitempty"`
}

// Key returns the stable work-queue key for this alert.
func (a *Alert) Key() AlertKey {
	return AlertKey{AlertID: a.ID, StrategyID: a.StrategyID}
}

// IsThirdParty reports whether the alert came from outside the monitor
// (no owning strategy).
func (a *Alert) IsThirdParty() bool {
	return a.StrategyID == 0
}

// IsCompositeOrigin reports whether the alert was itself produced by a
// composite strategy. Such alerts never re-enter composite evaluation.
func (a *Alert) IsCompositeOrigin() bool {
	if a.Strategy == nil {
		return false
	}
	for _, item := range a.Strategy.Items {
		for _, qc := range item.QueryConfigs {
			if qc.DataTypeLabel == DataTypeAlert {
				return true
			}
		}
	}
	return false
}

// AlertKey identifies an alert on the work queue.
type AlertKey struct {
	AlertID    string `json:"alert_id"`
	StrategyID int    `json:"strategy_id"`
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%d.%s", k.StrategyID, k.AlertID)
}

// Dimension is one display-ready dimension of an alert or derived event.
type Dimension struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	DisplayKey   string `json:"display_key,omitempty"`
	DisplayValue string `json:"display_value,omitempty"`
}

// Event is the representative raw event behind an alert. Field access uses
// the flattened addressing scheme: "tags.x" reads tag x, bare keys read
// top-level fields.
type Event struct {
	EventID  string            `json:"event_id"`
	PluginID string            `json:"plugin_id,omitempty"`
	Target   string            `json:"target,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// TagPrefix addresses flattened event tags in condition keys and dimensions.
const TagPrefix = "tags."

// Field resolves a flattened key against the event.
func (e *Event) Field(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	if rest, ok := strings.CutPrefix(key, TagPrefix); ok {
		v, ok := e.Tags[rest]
		return v, ok
	}
	if key == "target" {
		return e.Target, e.Target != ""
	}
	v, ok := e.Fields[key]
	return v, ok
}

// Flatten returns the event as a single-level key/value map, tags keyed
// with the "tags." prefix.
func (e *Event) Flatten() map[string]string {
	if e == nil {
		return nil
	}
	flat := make(map[string]string, len(e.Fields)+len(e.Tags)+1)
	for k, v := range e.Fields {
		flat[k] = v
	}
	if e.Target != "" {
		flat["target"] = e.Target
	}
	for k, v := range e.Tags {
		flat[TagPrefix+k] = v
	}
	return flat
}
