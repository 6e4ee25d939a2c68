package domain

// Data source and data type labels classify where a query config reads from.
const (
	DataSourceFTA     = "fta"
	DataSourceMonitor = "monitor"

	DataTypeAlert = "alert"
)

// Connector combines multiple detects of the same level.
const (
	ConnectorAnd = "and"
	ConnectorOr  = "or"
)

// Strategy is a composite strategy configuration resolved from the
// configuration cache. Treated as immutable within a processing cycle.
type Strategy struct {
	ID       int      `json:"id" yaml:"id"`
	BizID    int      `json:"biz_id" yaml:"biz_id"`
	Name     string   `json:"name" yaml:"name"`
	Scenario string   `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Items    []Item   `json:"items" yaml:"items"`
	Detects  []Detect `json:"detects" yaml:"detects"`

	// ActiveTimeRange limits when the strategy may alarm, "HH:MM--HH:MM"
	// in the worker's local time. Empty means always active.
	ActiveTimeRange string `json:"active_time_range,omitempty" yaml:"active_time_range,omitempty"`
}

// QueryConfigs returns all query configs across the strategy's items.
func (s *Strategy) QueryConfigs() []QueryConfig {
	var configs []QueryConfig
	for _, item := range s.Items {
		configs = append(configs, item.QueryConfigs...)
	}
	return configs
}

// MetricIDs lists the metric ids of every query config, in item order.
func (s *Strategy) MetricIDs() []string {
	var ids []string
	for _, item := range s.Items {
		for _, qc := range item.QueryConfigs {
			ids = append(ids, qc.MetricID)
		}
	}
	return ids
}

// Item groups the query configs of a strategy. Composite strategies
// typically carry exactly one item.
type Item struct {
	ID           int           `json:"id" yaml:"id"`
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
	QueryConfigs []QueryConfig `json:"query_configs" yaml:"query_configs"`
}

// QueryConfig is one input channel of an item: it identifies a stream of
// upstream alerts and the alias by which the stream is referenced inside
// the strategy's boolean expressions.
type QueryConfig struct {
	Alias           string `json:"alias" yaml:"alias"`
	MetricID        string `json:"metric_id" yaml:"metric_id"`
	DataSourceLabel string `json:"data_source_label" yaml:"data_source_label"`
	DataTypeLabel   string `json:"data_type_label" yaml:"data_type_label"`

	// Exactly one of these identifies the upstream alert stream, depending
	// on the data source label.
	MonitorStrategyID int    `json:"monitor_strategy_id,omitempty" yaml:"monitor_strategy_id,omitempty"`
	AlertName         string `json:"alert_name,omitempty" yaml:"alert_name,omitempty"`

	AggDimensions []string    `json:"agg_dimension,omitempty" yaml:"agg_dimension,omitempty"`
	AggConditions []Condition `json:"agg_condition,omitempty" yaml:"agg_condition,omitempty"`
}

// Condition is one predicate of a query config's agg_condition. Predicates
// are combined strictly left to right using each predicate's Connector;
// the first predicate's connector is ignored.
type Condition struct {
	Key       string   `json:"key" yaml:"key"`
	Op        string   `json:"method" yaml:"method"`
	Values    []string `json:"value" yaml:"value"`
	Connector string   `json:"condition,omitempty" yaml:"condition,omitempty"` // "and" or "or"
}

// Detect is one (level, expression, connector) triple of a strategy.
type Detect struct {
	Level      int    `json:"level" yaml:"level"` // 1 is most severe
	Expression string `json:"expression" yaml:"expression"`
	Connector  string `json:"connector,omitempty" yaml:"connector,omitempty"` // defaults to "and"
}
