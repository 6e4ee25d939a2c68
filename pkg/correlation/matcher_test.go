package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fuse/pkg/domain"
)

func TestApplyOperator(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		value   string
		found   bool
		targets []string
		want    bool
	}{
		{"eq match", OpEqual, "nginx", true, []string{"nginx", "redis"}, true},
		{"eq miss", OpEqual, "mysql", true, []string{"nginx", "redis"}, false},
		{"eq missing field", OpEqual, "", false, []string{"nginx"}, false},
		{"empty op defaults to eq", "", "nginx", true, []string{"nginx"}, true},
		{"is aliases eq", "is", "nginx", true, []string{"nginx"}, true},
		{"neq miss means true", OpNotEqual, "mysql", true, []string{"nginx"}, true},
		{"neq match means false", OpNotEqual, "nginx", true, []string{"nginx"}, false},
		{"neq missing field", OpNotEqual, "", false, []string{"nginx"}, true},
		{"include substring", OpInclude, "nginx-gateway", true, []string{"gateway"}, true},
		{"exclude substring", OpExclude, "nginx-gateway", true, []string{"gateway"}, false},
		{"prefix", OpPrefix, "host-12", true, []string{"host-"}, true},
		{"prefix miss", OpPrefix, "node-12", true, []string{"host-"}, false},
		{"reg match", OpRegex, "err_502", true, []string{`err_\d+`}, true},
		{"reg broken pattern skipped", OpRegex, "err_502", true, []string{"(", `err_\d+`}, true},
		{"nreg match means false", OpNotRegex, "err_502", true, []string{`err_\d+`}, false},
		{"nreg missing field", OpNotRegex, "", false, []string{`err_\d+`}, true},
		{"gt", OpGt, "10", true, []string{"5"}, true},
		{"gt equal is false", OpGt, "5", true, []string{"5"}, false},
		{"gte equal", OpGte, "5", true, []string{"5"}, true},
		{"lt", OpLt, "3", true, []string{"5"}, true},
		{"lte non-numeric value", OpLte, "abc", true, []string{"5"}, false},
		{"unknown operator", "between", "5", true, []string{"5"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyOperator(tt.op, tt.value, tt.found, tt.targets))
		})
	}
}

func TestMatchConditions(t *testing.T) {
	flat := map[string]string{
		"ip":          "10.0.0.1",
		"tags.module": "gateway",
	}

	t.Run("empty sequence is true", func(t *testing.T) {
		assert.True(t, MatchConditions(nil, flat))
	})

	t.Run("and fold", func(t *testing.T) {
		conds := []domain.Condition{
			{Key: "ip", Op: OpEqual, Values: []string{"10.0.0.1"}},
			{Key: "tags.module", Op: OpEqual, Values: []string{"gateway"}, Connector: "and"},
		}
		assert.True(t, MatchConditions(conds, flat))

		conds[1].Values = []string{"db"}
		assert.False(t, MatchConditions(conds, flat))
	})

	t.Run("or rescues a failed prefix", func(t *testing.T) {
		conds := []domain.Condition{
			{Key: "ip", Op: OpEqual, Values: []string{"10.9.9.9"}},
			{Key: "tags.module", Op: OpEqual, Values: []string{"gateway"}, Connector: "or"},
		}
		assert.True(t, MatchConditions(conds, flat))
	})

	t.Run("strictly left associative", func(t *testing.T) {
		// (false OR true) AND false = false, no operator precedence
		conds := []domain.Condition{
			{Key: "ip", Op: OpEqual, Values: []string{"10.9.9.9"}},
			{Key: "tags.module", Op: OpEqual, Values: []string{"gateway"}, Connector: "or"},
			{Key: "ip", Op: OpEqual, Values: []string{"10.9.9.9"}, Connector: "and"},
		}
		assert.False(t, MatchConditions(conds, flat))
	})
}

func TestMatcherPartition(t *testing.T) {
	alert := &domain.Alert{
		ID:         "a-1",
		Name:       "ping lost",
		StrategyID: 101,
		BizID:      2,
		Severity:   1,
		Status:     domain.AlertStatusAbnormal,
		TopEvent: &domain.Event{
			EventID: "e-1",
			Target:  "10.0.0.1",
			Tags:    map[string]string{"module": "gateway"},
		},
	}

	ftaMatch := domain.QueryConfig{
		Alias:           "A",
		DataSourceLabel: domain.DataSourceFTA,
		DataTypeLabel:   domain.DataTypeAlert,
		AlertName:       "ping lost",
	}
	ftaOther := domain.QueryConfig{
		Alias:           "B",
		DataSourceLabel: domain.DataSourceFTA,
		DataTypeLabel:   domain.DataTypeAlert,
		AlertName:       "cpu high",
	}
	monitorMatch := domain.QueryConfig{
		Alias:             "C",
		DataSourceLabel:   domain.DataSourceMonitor,
		DataTypeLabel:     domain.DataTypeAlert,
		MonitorStrategyID: 101,
	}
	monitorWrongType := domain.QueryConfig{
		Alias:             "D",
		DataSourceLabel:   domain.DataSourceMonitor,
		DataTypeLabel:     "time_series",
		MonitorStrategyID: 101,
	}
	conditioned := domain.QueryConfig{
		Alias:           "E",
		DataSourceLabel: domain.DataSourceFTA,
		DataTypeLabel:   domain.DataTypeAlert,
		AlertName:       "ping lost",
		AggConditions: []domain.Condition{
			{Key: "tags.module", Op: OpEqual, Values: []string{"db"}},
		},
	}

	strategy := &domain.Strategy{
		ID:    1,
		BizID: 2,
		Items: []domain.Item{{QueryConfigs: []domain.QueryConfig{
			ftaMatch, ftaOther, monitorMatch, monitorWrongType, conditioned,
		}}},
	}

	m := NewMatcher(alert)
	matched, unmatched := m.Partition(strategy)

	assert.Len(t, matched, 2)
	assert.Len(t, unmatched, 3)
	assert.Contains(t, matched, QueryConfigHash(ftaMatch))
	assert.Contains(t, matched, QueryConfigHash(monitorMatch))
	assert.Contains(t, unmatched, QueryConfigHash(ftaOther))
	assert.Contains(t, unmatched, QueryConfigHash(monitorWrongType))
	assert.Contains(t, unmatched, QueryConfigHash(conditioned))
}

func TestQueryConfigHashStable(t *testing.T) {
	qc := domain.QueryConfig{Alias: "A", AlertName: "ping lost"}
	require.Equal(t, QueryConfigHash(qc), QueryConfigHash(qc))

	other := qc
	other.AlertName = "cpu high"
	assert.NotEqual(t, QueryConfigHash(qc), QueryConfigHash(other))
}
