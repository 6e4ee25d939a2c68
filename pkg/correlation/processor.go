package correlation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/domain"
	"github.com/yairfalse/fuse/pkg/storage"
)

// closedDescription is the derived event text when a composite recovers.
const closedDescription = "expression no longer satisfied, alert closed"

// Deps are the external collaborators of the processor. Clock may be nil,
// in which case wall time is used.
type Deps struct {
	Store   storage.Store
	Cache   StrategyCache
	Events  EventPublisher
	Actions ActionPublisher
	Delay   DelayQueue
	Clock   func() int64
}

// Processor is the composite alert correlation core. One Process call
// handles one alert update: single-strategy action gating first, then
// composite evaluation for every candidate strategy. Safe for concurrent
// use; cross-worker exclusion comes from the coordination store locks.
type Processor struct {
	logger *zap.Logger
	config Config
	store  storage.Store
	state  *StateStore
	cache  StrategyCache
	events EventPublisher
	action ActionPublisher
	delay  DelayQueue
	now    func() int64
}

// ProcessOptions carry the optional work-item fields of a (re-)delivery.
type ProcessOptions struct {
	// AlertStatus overrides the alert's own status; re-deliveries process
	// the status captured when the work item was scheduled.
	AlertStatus domain.AlertStatus

	// CompositeStrategyIDs restricts composite evaluation to the listed
	// strategies. Used by lock-contention retries.
	CompositeStrategyIDs []int

	// RetryTimes counts prior re-deliveries of this work item.
	RetryTimes int
}

// NewProcessor wires the correlation core.
func NewProcessor(logger *zap.Logger, config Config, deps Deps) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Store == nil || deps.Cache == nil || deps.Events == nil || deps.Actions == nil || deps.Delay == nil {
		return nil, fmt.Errorf("processor: missing dependency")
	}
	config = config.withDefaults()
	now := deps.Clock
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Processor{
		logger: logger,
		config: config,
		store:  deps.Store,
		state:  NewStateStore(logger, deps.Store, config.CheckWindow, now),
		cache:  deps.Cache,
		events: deps.Events,
		action: deps.Actions,
		delay:  deps.Delay,
		now:    now,
	}, nil
}

// cycle is the per-alert working state of one Process call.
type cycle struct {
	alert      *domain.Alert
	status     domain.AlertStatus
	allowlist  []int
	retryTimes int
	matcher    *Matcher

	actions []*domain.Action
	names   map[int]string // strategy id -> display name memo

	publishErr error
}

// publishError marks event-bus failures so the firewall can re-raise them
// to the outer loop while still finishing the other strategies.
type publishError struct{ err error }

func (e *publishError) Error() string { return e.err.Error() }
func (e *publishError) Unwrap() error { return e.err }

// Process handles one alert update end to end. It returns an error when the
// work item should be re-delivered: an event-bus publish failure, or a
// strategy index that could not be resolved at all. Everything else is
// contained or retried via the delay queue.
func (p *Processor) Process(ctx context.Context, alert *domain.Alert, opts ProcessOptions) error {
	start := time.Now()
	defer func() { processDuration.Observe(time.Since(start).Seconds()) }()

	status := opts.AlertStatus
	if status == "" {
		status = alert.Status
	}
	c := &cycle{
		alert:      alert,
		status:     status,
		allowlist:  opts.CompositeStrategyIDs,
		retryTimes: opts.RetryTimes,
		matcher:    NewMatcher(alert),
		names:      make(map[int]string),
	}

	p.processSingleStrategy(ctx, c)

	// composite-origin alerts never re-enter composite evaluation, and
	// no-data alerts do not participate at all
	if alert.IsCompositeOrigin() || alert.IsNoData {
		return c.publishErr
	}

	strategies, err := p.pull(ctx, c)
	if err != nil {
		return fmt.Errorf("resolve composite strategies for alert %s: %w", alert.ID, err)
	}
	for _, strategy := range strategies {
		if ok, reason := p.cache.InAlarmTime(strategy); !ok {
			p.logger.Info("strategy outside alarm time, skipped",
				zap.Int("strategy_id", strategy.ID),
				zap.String("reason", reason))
			continue
		}
		p.processCompositeStrategy(ctx, c, strategy)
	}
	return c.publishErr
}

// pull enumerates and hydrates the candidate composite strategies (C1).
// The allowlist, when present, scopes a retry to the contended strategy.
func (p *Processor) pull(ctx context.Context, c *cycle) ([]*domain.Strategy, error) {
	ids := c.allowlist
	if len(ids) == 0 {
		byBiz, err := p.cache.AlertStrategyIDs(ctx, c.alert.StrategyID, c.alert.Name)
		if err != nil {
			return nil, err
		}
		ids = byBiz[c.alert.BizID]
	}
	sort.Ints(ids)

	strategies := make([]*domain.Strategy, 0, len(ids))
	for _, id := range ids {
		strategy, err := p.cache.StrategyByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrConfigMiss) {
				p.logger.Info("composite strategy missing from cache, skipped",
					zap.Int("strategy_id", id),
					zap.String("alert_id", c.alert.ID))
				continue
			}
			return nil, err
		}
		if strategy.BizID != c.alert.BizID {
			continue
		}
		strategies = append(strategies, strategy)
	}
	return strategies, nil
}

// processCompositeStrategy is the per-strategy firewall: lock contention
// goes to the retry scheduler, publish failures are re-raised after the
// loop, anything else is logged and contained.
func (p *Processor) processCompositeStrategy(ctx context.Context, c *cycle, strategy *domain.Strategy) {
	err := p.evaluateComposite(ctx, c, strategy)
	if err == nil {
		return
	}

	var pe *publishError
	switch {
	case errors.Is(err, ErrLockContended):
		lockContendedCount.WithLabelValues("dimension").Inc()
		p.logger.Info("dimension lock contended, retry scheduled",
			zap.Int("strategy_id", strategy.ID),
			zap.String("alert_id", c.alert.ID))
		p.scheduleRetry(ctx, c, []int{strategy.ID})
	case errors.Is(err, ErrStoreTimeout):
		p.logger.Warn("coordination store timed out, retry scheduled",
			zap.Int("strategy_id", strategy.ID),
			zap.String("alert_id", c.alert.ID),
			zap.Error(err))
		p.scheduleRetry(ctx, c, []int{strategy.ID})
	case errors.As(err, &pe):
		if c.publishErr == nil {
			c.publishErr = pe.err
		}
	default:
		p.logger.Error("composite strategy detect error",
			zap.Int("strategy_id", strategy.ID),
			zap.String("alert_id", c.alert.ID),
			zap.Error(err))
	}
}

func (p *Processor) evaluateComposite(ctx context.Context, c *cycle, strategy *domain.Strategy) error {
	if len(strategy.Detects) == 0 {
		return nil
	}

	matched, unmatched := c.matcher.Partition(strategy)
	if len(matched) == 0 {
		return nil
	}

	public := PublicDimensions(strategy)
	values := ProjectDimensions(c.alert.TopEvent, public)
	dimensionHash := DimensionHash(values)

	release, err := p.store.Lock(ctx, storage.DimensionLockKey(strategy.ID, dimensionHash), p.config.LockTTL, p.config.LockWait)
	if err != nil {
		if errors.Is(err, storage.ErrLockContended) {
			return fmt.Errorf("dimension %s: %w", dimensionHash, ErrLockContended)
		}
		return err
	}
	defer release(ctx)

	aliasCtx := make(map[string]Truth, len(matched)+len(unmatched))
	for id, qc := range matched {
		truth, err := p.state.UpdateMatched(ctx, strategy.ID, dimensionHash, id, c.alert, c.status)
		if err != nil {
			return classifyStoreErr(err)
		}
		aliasCtx[qc.Alias] = truth
	}
	for id, qc := range unmatched {
		truth, err := p.state.QueryUnmatched(ctx, strategy.ID, dimensionHash, id)
		if err != nil {
			return classifyStoreErr(err)
		}
		aliasCtx[qc.Alias] = truth
	}

	current := EvaluateDetects(p.logger, strategy, aliasCtx)
	prior := p.state.ReadPriorDetect(ctx, strategy.ID, dimensionHash)
	level, closed := CompareWithPrior(current, prior)

	if level == 0 {
		p.logger.Debug("composite detect finished, no transition",
			zap.Int("strategy_id", strategy.ID),
			zap.String("dimension_hash", dimensionHash))
		return classifyStoreErr(p.state.WritePriorDetect(ctx, strategy.ID, dimensionHash, current))
	}

	p.logger.Info("composite detect finished, level transition",
		zap.Int("strategy_id", strategy.ID),
		zap.String("dimension_hash", dimensionHash),
		zap.Int("level", level),
		zap.Bool("closed", closed),
		zap.String("alert_id", c.alert.ID))

	event := p.buildDerivedEvent(ctx, c, strategy, values, dimensionHash, level, closed)
	if err := p.pushEvents(ctx, c, event); err != nil {
		return &publishError{err: err}
	}

	// publish-then-persist: a crash in between re-fires at most one
	// duplicate on the next update, which downstream dedupes
	return classifyStoreErr(p.state.WritePriorDetect(ctx, strategy.ID, dimensionHash, current))
}

// classifyStoreErr maps per-call deadline hits to ErrStoreTimeout so the
// firewall can route them to the retry scheduler.
func classifyStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return err
}

func (p *Processor) buildDerivedEvent(ctx context.Context, c *cycle, strategy *domain.Strategy, values map[string]string, dimensionHash string, level int, closed bool) *domain.DerivedEvent {
	now := p.now()

	status := domain.AlertStatusAbnormal
	description := p.translateExpression(ctx, c, strategy)
	if closed {
		status = domain.AlertStatusClosed
		description = closedDescription
	}

	dims := DisplayDimensions(values, c.alert.Dimensions)
	targetType, target := ExtractTarget(values)

	tags := make([]domain.Dimension, 0, len(dims))
	dedupeKeys := make([]string, 0, len(dims))
	for _, d := range dims {
		key := StripTagPrefix(d.Key)
		tags = append(tags, domain.Dimension{
			Key:          key,
			Value:        d.Value,
			DisplayKey:   d.DisplayKey,
			DisplayValue: d.DisplayValue,
		})
		dedupeKeys = append(dedupeKeys, domain.TagPrefix+key)
	}

	return &domain.DerivedEvent{
		EventID:     fmt.Sprintf("%s.%d", dimensionHash, now),
		PluginID:    domain.DerivedEventPluginID,
		StrategyID:  strategy.ID,
		AlertName:   strategy.Name,
		Description: description,
		Severity:    level,
		Status:      status,
		Tags:        tags,
		TargetType:  targetType,
		Target:      target,
		Metrics:     strategy.MetricIDs(),
		Category:    strategy.Scenario,
		DataType:    domain.DataTypeAlert,
		DedupeKeys:  dedupeKeys,
		BizID:       strategy.BizID,
		Time:        c.alert.UpdateTime,
		IngestTime:  now,
		CleanTime:   now,
	}
}

// translateExpression renders the strategy's first detect expression with
// aliases substituted by display names. On any failure the raw expression
// is used.
func (p *Processor) translateExpression(ctx context.Context, c *cycle, strategy *domain.Strategy) string {
	src := strategy.Detects[0].Expression
	expr, err := ParseExpression(src)
	if err != nil {
		return fmt.Sprintf("expression satisfied: %s", src)
	}

	names := make(map[string]string)
	for _, qc := range strategy.QueryConfigs() {
		if qc.DataSourceLabel == domain.DataSourceMonitor {
			names[qc.Alias] = p.strategyName(ctx, c, qc)
		} else {
			names[qc.Alias] = metricTail(qc.MetricID)
		}
	}
	return fmt.Sprintf("expression satisfied: %s", expr.Translate(names))
}

func (p *Processor) strategyName(ctx context.Context, c *cycle, qc domain.QueryConfig) string {
	id := qc.MonitorStrategyID
	if id == 0 {
		if n, err := strconv.Atoi(metricTail(qc.MetricID)); err == nil {
			id = n
		}
	}
	if name, ok := c.names[id]; ok {
		return name
	}
	name := fmt.Sprintf("strategy(%d)", id)
	if s, err := p.cache.StrategyByID(ctx, id); err == nil {
		name = s.Name
	}
	c.names[id] = name
	return name
}

func metricTail(metricID string) string {
	parts := strings.Split(metricID, ".")
	return parts[len(parts)-1]
}

func (p *Processor) pushEvents(ctx context.Context, c *cycle, events ...*domain.DerivedEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := p.events.PublishEvents(ctx, events); err != nil {
		p.logger.Error("push derived events failed",
			zap.String("alert_id", c.alert.ID),
			zap.Int("count", len(events)),
			zap.Error(err))
		return fmt.Errorf("push derived events: %w", err)
	}
	for _, e := range events {
		pushEventCount.WithLabelValues(string(e.Status)).Inc()
	}
	p.logger.Info("derived events pushed",
		zap.String("alert_id", c.alert.ID),
		zap.Int("count", len(events)))
	return nil
}

// processSingleStrategy gates action dispatch for the alert itself (C5's
// single-strategy path), serialized by the per-alert lock.
func (p *Processor) processSingleStrategy(ctx context.Context, c *cycle) {
	release, err := p.store.Lock(ctx, storage.AlertLockKey(c.alert.ID), p.config.LockTTL, p.config.LockWait)
	if err != nil {
		if errors.Is(err, storage.ErrLockContended) {
			lockContendedCount.WithLabelValues("alert").Inc()
			p.logger.Info("alert lock contended, retry scheduled", zap.String("alert_id", c.alert.ID))
			p.scheduleRetry(ctx, c, nil)
			return
		}
		p.logger.Error("alert lock error", zap.String("alert_id", c.alert.ID), zap.Error(err))
		return
	}
	defer release(ctx)

	if err := p.gateActions(ctx, c); err != nil {
		if errors.Is(err, ErrStoreTimeout) {
			p.logger.Warn("single strategy gating timed out, retry scheduled",
				zap.String("alert_id", c.alert.ID),
				zap.Error(err))
			p.scheduleRetry(ctx, c, nil)
			return
		}
		p.logger.Error("single strategy gating failed",
			zap.String("alert_id", c.alert.ID),
			zap.Error(err))
	}
}

func (p *Processor) gateActions(ctx context.Context, c *cycle) error {
	cacheKey := storage.AlertDetectKey(c.alert.ID)
	cachedRaw, err := p.store.Get(ctx, cacheKey)
	cached := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return classifyStoreErr(err)
	}
	cachedSeverity := 0
	if cached {
		cachedSeverity, _ = strconv.Atoi(cachedRaw)
	}

	abnormal := c.status == domain.AlertStatusAbnormal
	var signal domain.ActionSignal

	switch {
	case cached && !abnormal:
		// no-data alerts do not emit recoveries or closes
		if !c.alert.IsNoData {
			if c.status == domain.AlertStatusRecovered {
				signal = domain.SignalRecovered
			} else {
				signal = domain.SignalClosed
			}
		}
	case !cached && abnormal:
		if c.alert.IsNoData {
			signal = domain.SignalNoData
		} else {
			signal = domain.SignalAbnormal
		}
	case cached && abnormal && c.alert.IsAckSignal:
		signal = domain.SignalAck
	case cached && abnormal && c.alert.Severity < cachedSeverity:
		// escalation; a severity tie does not re-fire
		signal = domain.SignalAbnormal
	case cached && abnormal:
		signal = p.refireSignal(ctx, c)
	}

	if signal != "" {
		p.dispatchSignal(ctx, c, signal)
	}

	if abnormal {
		return p.store.Set(ctx, cacheKey, strconv.Itoa(c.alert.Severity), storage.AlertDetectTTL)
	}
	if err := p.store.Delete(ctx, cacheKey); err != nil {
		return err
	}
	// a closed primary alert must not keep composite state alive
	return p.clearCompositeState(ctx, c)
}

// refireSignal decides whether a still-abnormal alert whose dispatch was
// likely dropped by QoS should fire again: only when it was never handled,
// no first-fire record exists, and the alert has aged past the QoS window.
func (p *Processor) refireSignal(ctx context.Context, c *cycle) domain.ActionSignal {
	check := domain.SignalAbnormal
	if c.alert.IsNoData {
		check = domain.SignalNoData
	}
	if c.alert.IsHandled {
		return ""
	}
	if _, err := p.store.Get(ctx, storage.FirstFireKey(c.alert.StrategyID, c.alert.ID, check)); err == nil {
		return ""
	}
	if p.now()-c.alert.CreateTime < int64(p.config.QoSWindow/time.Second) {
		return ""
	}
	return check
}

func (p *Processor) dispatchSignal(ctx context.Context, c *cycle, signal domain.ActionSignal) {
	if signal != domain.SignalAbnormal && c.alert.IsThirdParty() {
		p.logger.Info("third-party alert, non-abnormal signal ignored",
			zap.String("alert_id", c.alert.ID),
			zap.String("signal", string(signal)))
		return
	}

	key := storage.FirstFireKey(c.alert.StrategyID, c.alert.ID, signal)
	won, err := p.store.SetNX(ctx, key, "1", storage.FirstFireTTL)
	if err != nil {
		p.logger.Error("first-fire marker failed",
			zap.String("alert_id", c.alert.ID),
			zap.String("signal", string(signal)),
			zap.Error(err))
		return
	}
	if won {
		c.actions = append(c.actions, &domain.Action{
			StrategyID: c.alert.StrategyID,
			Signal:     signal,
			AlertIDs:   []string{c.alert.ID},
			Severity:   c.alert.Severity,
			Dimensions: c.alert.Dimensions,
		})
	}
	p.pushActions(ctx, c)
}

func (p *Processor) pushActions(ctx context.Context, c *cycle) {
	if len(c.actions) == 0 {
		return
	}

	suppressed := 0
	var lastCount int64
	var throttled domain.ActionSignal

	for _, action := range c.actions {
		blocked, count, err := p.qosCalc(ctx, c.alert, action.Signal)
		if err != nil {
			p.logger.Error("qos counter failed",
				zap.String("alert_id", c.alert.ID),
				zap.Int("strategy_id", action.StrategyID),
				zap.Error(err))
			pushActionCount.WithLabelValues(string(action.Signal), "0", "failed").Inc()
			continue
		}

		if !blocked {
			if err := p.action.PublishAction(ctx, action); err != nil {
				p.logger.Error("push action failed",
					zap.String("alert_id", c.alert.ID),
					zap.Int("strategy_id", action.StrategyID),
					zap.Error(err))
				pushActionCount.WithLabelValues(string(action.Signal), "0", "failed").Inc()
				continue
			}
			pushActionCount.WithLabelValues(string(action.Signal), "0", "success").Inc()
			p.logger.Info("action pushed",
				zap.String("alert_id", c.alert.ID),
				zap.Int("strategy_id", action.StrategyID),
				zap.String("signal", string(action.Signal)),
				zap.Int("severity", action.Severity))
			continue
		}

		// throttled: drop the first-fire marker so a later unthrottled
		// window can fire again
		_ = p.store.Delete(ctx, storage.FirstFireKey(action.StrategyID, c.alert.ID, action.Signal))
		qosBlockedCount.WithLabelValues(string(action.Signal)).Inc()
		pushActionCount.WithLabelValues(string(action.Signal), "1", "success").Inc()
		suppressed++
		lastCount = count
		throttled = action.Signal
		p.logger.Info("action qos triggered",
			zap.String("alert_id", c.alert.ID),
			zap.Int("strategy_id", action.StrategyID),
			zap.String("signal", string(action.Signal)),
			zap.Int64("qos_count", count))
	}
	c.actions = nil

	if suppressed > 0 {
		p.pushQoSSummary(ctx, c, throttled, lastCount, suppressed)
	}
}

// pushQoSSummary publishes the coarse per-strategy throttle record, at most
// once per QoS window.
func (p *Processor) pushQoSSummary(ctx context.Context, c *cycle, signal domain.ActionSignal, count int64, suppressed int) {
	won, err := p.store.SetNX(ctx, storage.QoSSummaryKey(c.alert.StrategyID, signal), "1", p.config.QoSWindow)
	if err != nil {
		p.logger.Error("qos summary marker failed", zap.String("alert_id", c.alert.ID), zap.Error(err))
		return
	}
	if !won {
		return
	}
	log := &domain.QoSLog{
		StrategyID: c.alert.StrategyID,
		Signal:     signal,
		AlertIDs:   []string{c.alert.ID},
		Count:      count,
		Suppressed: suppressed,
		Time:       p.now(),
	}
	if err := p.action.PublishQoSLog(ctx, log); err != nil {
		p.logger.Error("push qos summary failed", zap.String("alert_id", c.alert.ID), zap.Error(err))
	}
}

// clearCompositeState wipes the correlation state behind a composite-origin
// alert once that alert closes. The dimension hash is the prefix of the
// derived event id.
func (p *Processor) clearCompositeState(ctx context.Context, c *cycle) error {
	if !c.alert.IsCompositeOrigin() || c.alert.TopEvent == nil {
		return nil
	}
	hash, _, ok := strings.Cut(c.alert.TopEvent.EventID, ".")
	if !ok || hash == "" {
		return nil
	}
	return p.state.ClearState(ctx, c.alert.StrategyID, hash)
}

// scheduleRetry re-enqueues the work item through the delay queue. The
// advisory retry counter grows by two per contention; past the cap the
// item is dropped with a warning.
func (p *Processor) scheduleRetry(ctx context.Context, c *cycle, strategyIDs []int) {
	next := c.retryTimes + 2
	if next > p.config.MaxRetryTimes {
		p.logger.Warn("retry budget exhausted, dropping work item",
			zap.String("alert_id", c.alert.ID),
			zap.Ints("strategy_ids", strategyIDs),
			zap.Int("retry_times", c.retryTimes))
		return
	}
	c.retryTimes = next

	payload := RetryPayload{
		AlertKey:             c.alert.Key(),
		AlertStatus:          c.status,
		CompositeStrategyIDs: strategyIDs,
		RetryTimes:           next,
	}
	if err := p.delay.ApplyAsync(ctx, payload, p.config.RetryCountdown); err != nil {
		p.logger.Error("retry scheduling failed", zap.String("alert_id", c.alert.ID), zap.Error(err))
	}
}
