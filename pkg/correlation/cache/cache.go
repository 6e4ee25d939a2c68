// Package cache provides the refreshed, read-only view of composite
// strategy configuration consumed by the correlation processor.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/correlation"
	"github.com/yairfalse/fuse/pkg/domain"
)

// Loader produces a full strategy snapshot. Implementations read whatever
// the deployment stores configuration in (files, an HTTP config service).
type Loader interface {
	Load(ctx context.Context) ([]*domain.Strategy, error)
}

// SnapshotConfig configures the refreshing snapshot cache.
type SnapshotConfig struct {
	RefreshInterval time.Duration
}

// DefaultSnapshotConfig returns sensible defaults.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{RefreshInterval: time.Minute}
}

// SnapshotCache implements correlation.StrategyCache over periodically
// refreshed snapshots. The processor tolerates stale-by-seconds reads, so
// refresh failures keep serving the previous snapshot.
type SnapshotCache struct {
	logger *zap.Logger
	loader Loader
	config SnapshotConfig

	mu       sync.RWMutex
	byID     map[int]*domain.Strategy
	byUpID   map[int]map[int][]int    // upstream strategy id -> biz -> composite ids
	byUpName map[string]map[int][]int // upstream alert name -> biz -> composite ids

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSnapshotCache builds the cache and loads the first snapshot.
func NewSnapshotCache(ctx context.Context, logger *zap.Logger, config SnapshotConfig, loader Loader) (*SnapshotCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = DefaultSnapshotConfig().RefreshInterval
	}
	c := &SnapshotCache{
		logger: logger,
		loader: loader,
		config: config,
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial strategy snapshot: %w", err)
	}
	return c, nil
}

// Start launches the background refresh loop.
func (c *SnapshotCache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.refresh(ctx); err != nil {
					c.logger.Warn("strategy snapshot refresh failed, serving stale", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh loop.
func (c *SnapshotCache) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *SnapshotCache) refresh(ctx context.Context) error {
	strategies, err := c.loader.Load(ctx)
	if err != nil {
		return err
	}

	byID := make(map[int]*domain.Strategy, len(strategies))
	byUpID := make(map[int]map[int][]int)
	byUpName := make(map[string]map[int][]int)

	for _, strategy := range strategies {
		byID[strategy.ID] = strategy
		for _, qc := range strategy.QueryConfigs() {
			if qc.DataTypeLabel != domain.DataTypeAlert {
				continue
			}
			switch qc.DataSourceLabel {
			case domain.DataSourceMonitor:
				if qc.MonitorStrategyID == 0 {
					continue
				}
				if byUpID[qc.MonitorStrategyID] == nil {
					byUpID[qc.MonitorStrategyID] = make(map[int][]int)
				}
				byUpID[qc.MonitorStrategyID][strategy.BizID] = appendUnique(byUpID[qc.MonitorStrategyID][strategy.BizID], strategy.ID)
			case domain.DataSourceFTA:
				if qc.AlertName == "" {
					continue
				}
				if byUpName[qc.AlertName] == nil {
					byUpName[qc.AlertName] = make(map[int][]int)
				}
				byUpName[qc.AlertName][strategy.BizID] = appendUnique(byUpName[qc.AlertName][strategy.BizID], strategy.ID)
			}
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.byUpID = byUpID
	c.byUpName = byUpName
	c.mu.Unlock()

	c.logger.Debug("strategy snapshot refreshed", zap.Int("strategies", len(byID)))
	return nil
}

// AlertStrategyIDs implements correlation.StrategyCache.
func (c *SnapshotCache) AlertStrategyIDs(_ context.Context, strategyID int, alertName string) (map[int][]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var byBiz map[int][]int
	if strategyID != 0 {
		byBiz = c.byUpID[strategyID]
	} else {
		byBiz = c.byUpName[alertName]
	}

	out := make(map[int][]int, len(byBiz))
	for biz, ids := range byBiz {
		out[biz] = append([]int(nil), ids...)
	}
	return out, nil
}

// StrategyByID implements correlation.StrategyCache.
func (c *SnapshotCache) StrategyByID(_ context.Context, id int) (*domain.Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	strategy, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("strategy %d: %w", id, correlation.ErrConfigMiss)
	}
	return strategy, nil
}

// InAlarmTime implements correlation.StrategyCache. An empty range means
// the strategy is always active.
func (c *SnapshotCache) InAlarmTime(strategy *domain.Strategy) (bool, string) {
	return inAlarmTime(strategy.ActiveTimeRange, time.Now())
}

func inAlarmTime(timeRange string, now time.Time) (bool, string) {
	if timeRange == "" {
		return true, ""
	}
	from, to, ok := strings.Cut(timeRange, "--")
	if !ok {
		return true, ""
	}
	start, err1 := time.Parse("15:04", strings.TrimSpace(from))
	end, err2 := time.Parse("15:04", strings.TrimSpace(to))
	if err1 != nil || err2 != nil {
		return true, ""
	}

	minutes := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	var inside bool
	if startMin <= endMin {
		inside = minutes >= startMin && minutes <= endMin
	} else {
		// overnight range, e.g. 22:00--06:00
		inside = minutes >= startMin || minutes <= endMin
	}
	if !inside {
		return false, fmt.Sprintf("outside alarm time range %s", timeRange)
	}
	return true, ""
}

func appendUnique(ids []int, id int) []int {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
