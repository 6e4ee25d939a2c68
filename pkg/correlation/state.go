package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/domain"
	"github.com/yairfalse/fuse/pkg/storage"
)

// StateStore is the correlation state layer: per (strategy, dimension,
// query config) sliding-window abnormal sets, plus the last detected
// level->bool map per (strategy, dimension). None of its operations are
// atomic across keys; callers hold the dimension lock for the whole cycle.
type StateStore struct {
	logger *zap.Logger
	store  storage.Store
	window time.Duration
	now    func() int64
}

// NewStateStore wires the state layer over the coordination store. The
// clock may be nil, in which case wall time is used.
func NewStateStore(logger *zap.Logger, store storage.Store, window time.Duration, now func() int64) *StateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window == 0 {
		window = DefaultConfig().CheckWindow
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &StateStore{logger: logger, store: store, window: window, now: now}
}

// windowStart returns the oldest score still inside the check window.
func (s *StateStore) windowStart() int64 {
	return s.now() - int64(s.window/time.Second)
}

// UpdateMatched folds the alert's current status into the check set of a
// matched query config and returns the config's truth value. Abnormal
// alerts are upserted with their update time as score; anything else is
// removed, and the truth stays abnormal only while other non-stale alerts
// remain in the window.
func (s *StateStore) UpdateMatched(ctx context.Context, strategyID int, dimensionHash, queryConfigID string, alert *domain.Alert, status domain.AlertStatus) (Truth, error) {
	key := storage.CheckSetKey(strategyID, queryConfigID, dimensionHash)
	start := s.windowStart()

	// entries older than window + ttl are garbage regardless of membership
	pruneBefore := float64(start - int64(storage.CheckSetTTL/time.Second))
	if err := s.store.ZRemRangeByScore(ctx, key, 0, pruneBefore); err != nil {
		return TruthNoData, fmt.Errorf("prune check set: %w", err)
	}

	var truth Truth
	if status == domain.AlertStatusAbnormal {
		if err := s.store.ZAdd(ctx, key, alert.ID, float64(alert.UpdateTime)); err != nil {
			return TruthNoData, fmt.Errorf("update check set: %w", err)
		}
		truth = TruthAbnormal
	} else {
		if err := s.store.ZRem(ctx, key, alert.ID); err != nil {
			return TruthNoData, fmt.Errorf("remove from check set: %w", err)
		}
		count, err := s.store.ZCount(ctx, key, float64(start), math.Inf(1))
		if err != nil {
			return TruthNoData, fmt.Errorf("count check set: %w", err)
		}
		if count > 0 {
			truth = TruthAbnormal
		} else {
			truth = TruthNormal
		}
	}

	if err := s.store.Expire(ctx, key, storage.CheckSetTTL); err != nil {
		s.logger.Warn("check set expire failed", zap.String("key", key), zap.Error(err))
	}
	return truth, nil
}

// QueryUnmatched computes the truth value of a config this alert does not
// feed, from the cached check set alone.
func (s *StateStore) QueryUnmatched(ctx context.Context, strategyID int, dimensionHash, queryConfigID string) (Truth, error) {
	key := storage.CheckSetKey(strategyID, queryConfigID, dimensionHash)
	count, err := s.store.ZCount(ctx, key, float64(s.windowStart()), math.Inf(1))
	if err != nil {
		return TruthNoData, fmt.Errorf("count check set: %w", err)
	}
	if count > 0 {
		return TruthAbnormal, nil
	}
	return TruthNormal, nil
}

// ReadPriorDetect returns the previously persisted level->bool map, or an
// empty map when absent or corrupt.
func (s *StateStore) ReadPriorDetect(ctx context.Context, strategyID int, dimensionHash string) map[int]bool {
	raw, err := s.store.Get(ctx, storage.DetectResultKey(strategyID, dimensionHash))
	if err != nil {
		return map[int]bool{}
	}

	var byLevel map[string]bool
	if err := json.Unmarshal([]byte(raw), &byLevel); err != nil {
		s.logger.Warn("corrupt prior detect result",
			zap.Int("strategy_id", strategyID),
			zap.String("dimension_hash", dimensionHash),
			zap.Error(err))
		return map[int]bool{}
	}

	result := make(map[int]bool, len(byLevel))
	for level, v := range byLevel {
		n, err := strconv.Atoi(level)
		if err != nil {
			continue
		}
		result[n] = v
	}
	return result
}

// WritePriorDetect overwrites the persisted level->bool map.
func (s *StateStore) WritePriorDetect(ctx context.Context, strategyID int, dimensionHash string, result map[int]bool) error {
	byLevel := make(map[string]bool, len(result))
	for level, v := range result {
		byLevel[strconv.Itoa(level)] = v
	}
	raw, err := json.Marshal(byLevel)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, storage.DetectResultKey(strategyID, dimensionHash), string(raw), storage.DetectResultTTL)
}

// ClearState deletes the prior detect map and every check set of the
// (strategy, dimension) pair. Called when the primary alert behind a
// composite dimension closes.
func (s *StateStore) ClearState(ctx context.Context, strategyID int, dimensionHash string) error {
	if err := s.store.Delete(ctx, storage.DetectResultKey(strategyID, dimensionHash)); err != nil {
		return fmt.Errorf("delete detect result: %w", err)
	}
	if err := s.store.DeletePattern(ctx, storage.CheckSetPattern(strategyID, dimensionHash)); err != nil {
		return fmt.Errorf("delete check sets: %w", err)
	}
	return nil
}
