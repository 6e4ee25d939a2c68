package correlation

import (
	"sort"

	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/domain"
)

// EvaluateDetects computes the current level->bool map for a strategy
// against the alias truth context.
//
// Each detect contributes one boolean. Detects of the same level combine
// through the level's connector, taken from the last detect of that level
// and defaulting to "and": an "or" level holds when any detect holds, an
// "and" level only when every detect of the level evaluated to abnormal.
// A detect whose expression fails to parse or evaluate contributes NoData,
// which can never satisfy an "and" level.
func EvaluateDetects(logger *zap.Logger, strategy *domain.Strategy, aliasCtx map[string]Truth) map[int]bool {
	results := make(map[int][]Truth)
	connectors := make(map[int]string)

	for _, detect := range strategy.Detects {
		truth := evalDetect(logger, strategy.ID, detect, aliasCtx)
		results[detect.Level] = append(results[detect.Level], truth)
		connector := detect.Connector
		if connector == "" {
			connector = domain.ConnectorAnd
		}
		connectors[detect.Level] = connector
	}

	byLevel := make(map[int]bool, len(results))
	for level, truths := range results {
		matched := 0
		for _, t := range truths {
			if t == TruthAbnormal {
				matched++
			}
		}
		if connectors[level] == domain.ConnectorOr {
			byLevel[level] = matched >= 1
		} else {
			byLevel[level] = matched == len(truths)
		}
	}
	return byLevel
}

func evalDetect(logger *zap.Logger, strategyID int, detect domain.Detect, aliasCtx map[string]Truth) Truth {
	expr, err := ParseExpression(detect.Expression)
	if err != nil {
		logger.Warn("detect expression failed, degrading to no_data",
			zap.Int("strategy_id", strategyID),
			zap.Int("level", detect.Level),
			zap.String("expression", detect.Expression),
			zap.Error(err))
		return TruthNoData
	}
	return expr.Eval(aliasCtx)
}

// CompareWithPrior detects the edge between the current and the previously
// persisted level->bool maps. Levels are walked in ascending order (1 is
// most severe); the first level that flipped true->false is a recovery, the
// first that flipped false->true is a fire. abnormalLevel 0 means no
// transition.
func CompareWithPrior(current, prior map[int]bool) (abnormalLevel int, isClosed bool) {
	levels := make([]int, 0, len(current))
	for level := range current {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	for _, level := range levels {
		switch {
		case !current[level] && prior[level]:
			return level, true
		case current[level] && !prior[level]:
			return level, false
		}
	}
	return 0, false
}
