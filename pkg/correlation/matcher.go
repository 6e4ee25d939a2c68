package correlation

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/yairfalse/fuse/pkg/domain"
)

// Condition operators. Positive membership ops succeed when the field value
// matches any listed value; negative ops require it to match none.
const (
	OpEqual    = "eq"
	OpNotEqual = "neq"
	OpRegex    = "reg"
	OpNotRegex = "nreg"
	OpInclude  = "include"
	OpExclude  = "exclude"
	OpPrefix   = "prefix"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
)

// Matcher classifies a strategy's query configs against one alert: matched
// configs are those the alert currently satisfies, everything else is
// evaluated from the state store cache.
type Matcher struct {
	alert *domain.Alert
	flat  map[string]string
}

// NewMatcher builds a matcher for the alert and its representative event.
func NewMatcher(alert *domain.Alert) *Matcher {
	return &Matcher{alert: alert, flat: alert.TopEvent.Flatten()}
}

// Partition splits the strategy's query configs into matched and unmatched
// maps keyed by the config content hash, one copy per hash.
func (m *Matcher) Partition(strategy *domain.Strategy) (matched, unmatched map[string]domain.QueryConfig) {
	matched = make(map[string]domain.QueryConfig)
	unmatched = make(map[string]domain.QueryConfig)
	for _, qc := range strategy.QueryConfigs() {
		id := QueryConfigHash(qc)
		if m.Matches(qc) {
			matched[id] = qc
		} else {
			unmatched[id] = qc
		}
	}
	return matched, unmatched
}

// Matches reports whether the alert satisfies both the config's datasource
// identity and its agg condition.
func (m *Matcher) Matches(qc domain.QueryConfig) bool {
	if !m.matchesDatasource(qc) {
		return false
	}
	return MatchConditions(qc.AggConditions, m.flat)
}

// matchesDatasource applies the datasource identity rule: an fta-alert
// config matches by alert name, a monitor-alert config by owning strategy id.
func (m *Matcher) matchesDatasource(qc domain.QueryConfig) bool {
	if qc.DataTypeLabel != domain.DataTypeAlert {
		return false
	}
	switch qc.DataSourceLabel {
	case domain.DataSourceFTA:
		return qc.AlertName == m.alert.Name
	case domain.DataSourceMonitor:
		return qc.MonitorStrategyID != 0 && qc.MonitorStrategyID == m.alert.StrategyID
	}
	return false
}

// MatchConditions folds the predicate sequence strictly left to right,
// honouring each predicate's connector. An empty sequence is trivially true.
func MatchConditions(conds []domain.Condition, flat map[string]string) bool {
	if len(conds) == 0 {
		return true
	}
	result := evalCondition(conds[0], flat)
	for _, cond := range conds[1:] {
		next := evalCondition(cond, flat)
		if strings.EqualFold(cond.Connector, domain.ConnectorOr) {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func evalCondition(cond domain.Condition, flat map[string]string) bool {
	value, found := flat[cond.Key]
	return ApplyOperator(cond.Op, value, found, cond.Values)
}

// ApplyOperator evaluates one predicate of the condition DSL against a
// field value. Unknown operators and broken regexes never match.
func ApplyOperator(op, value string, found bool, targets []string) bool {
	switch op {
	case OpEqual, OpInclude, "", "is": // equality is the default operator
		if !found {
			return false
		}
		for _, t := range targets {
			if op == OpInclude {
				if strings.Contains(value, t) {
					return true
				}
			} else if value == t {
				return true
			}
		}
		return false

	case OpNotEqual, OpExclude:
		if !found {
			return true
		}
		for _, t := range targets {
			if op == OpExclude {
				if strings.Contains(value, t) {
					return false
				}
			} else if value == t {
				return false
			}
		}
		return true

	case OpRegex:
		if !found {
			return false
		}
		for _, t := range targets {
			re, err := regexp.Compile(t)
			if err != nil {
				continue
			}
			if re.MatchString(value) {
				return true
			}
		}
		return false

	case OpNotRegex:
		if !found {
			return true
		}
		for _, t := range targets {
			re, err := regexp.Compile(t)
			if err != nil {
				continue
			}
			if re.MatchString(value) {
				return false
			}
		}
		return true

	case OpPrefix:
		if !found {
			return false
		}
		for _, t := range targets {
			if strings.HasPrefix(value, t) {
				return true
			}
		}
		return false

	case OpGt, OpGte, OpLt, OpLte:
		if !found {
			return false
		}
		left, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		for _, t := range targets {
			right, err := strconv.ParseFloat(t, 64)
			if err != nil {
				continue
			}
			switch op {
			case OpGt:
				if left > right {
					return true
				}
			case OpGte:
				if left >= right {
					return true
				}
			case OpLt:
				if left < right {
					return true
				}
			case OpLte:
				if left <= right {
					return true
				}
			}
		}
		return false
	}
	return false
}

// QueryConfigHash is the stable content hash identifying one query config
// inside the state store keys.
func QueryConfigHash(qc domain.QueryConfig) string {
	raw, _ := json.Marshal(qc)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
