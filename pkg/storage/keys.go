package storage

import (
	"fmt"
	"time"

	"github.com/yairfalse/fuse/pkg/domain"
)

// Key TTLs. The window-backing keys outlive the 1h check window by a full
// safety margin; locks and QoS counters are short-lived.
const (
	LockTTL            = 2 * time.Minute
	CheckSetTTL        = 2 * time.Hour
	DetectResultTTL    = 2 * time.Hour
	FirstFireTTL       = 10 * time.Minute
	AlertDetectTTL     = 3 * time.Hour
	AlertSnapshotTTL   = 3 * time.Hour
	DefaultLockWait    = 3 * time.Second
	DefaultLockBackoff = 50 * time.Millisecond
)

// DimensionLockKey serializes evaluation of one (strategy, dimension) pair.
func DimensionLockKey(strategyID int, dimensionHash string) string {
	return fmt.Sprintf("composite.dimension.%d.%s.lock", strategyID, dimensionHash)
}

// CheckSetKey holds the sliding-window abnormal set of one query config.
func CheckSetKey(strategyID int, queryConfigID, dimensionHash string) string {
	return fmt.Sprintf("composite.check.%d.%s.%s", strategyID, queryConfigID, dimensionHash)
}

// CheckSetPattern matches every check set of a (strategy, dimension) pair.
func CheckSetPattern(strategyID int, dimensionHash string) string {
	return fmt.Sprintf("composite.check.%d.*.%s", strategyID, dimensionHash)
}

// DetectResultKey holds the serialized prior level->bool map.
func DetectResultKey(strategyID int, dimensionHash string) string {
	return fmt.Sprintf("composite.detect.%d.%s", strategyID, dimensionHash)
}

// AlertSnapshotKey holds the last seen document of an alert so delayed
// retries can rehydrate it.
func AlertSnapshotKey(alertID string) string {
	return fmt.Sprintf("alert.snapshot.%s", alertID)
}

// AlertLockKey serializes single-strategy action gating of one alert.
func AlertLockKey(alertID string) string {
	return fmt.Sprintf("alert.detect.%s.lock", alertID)
}

// AlertDetectKey caches the severity of the last abnormal evaluation of an alert.
func AlertDetectKey(alertID string) string {
	return fmt.Sprintf("alert.detect.%s", alertID)
}

// FirstFireKey is the set-if-absent marker guaranteeing at most one action
// per (strategy, alert, signal).
func FirstFireKey(strategyID int, alertID string, signal domain.ActionSignal) string {
	return fmt.Sprintf("alert.action.first.%d.%s.%s", strategyID, alertID, signal)
}

// QoSCounterKey counts action dispatches within the QoS window.
func QoSCounterKey(strategyID int, signal domain.ActionSignal, severity int, fingerprint string) string {
	return fmt.Sprintf("composite.qos.%d.%s.%d.%s", strategyID, signal, severity, fingerprint)
}

// QoSSummaryKey guards the once-per-window throttle summary.
func QoSSummaryKey(strategyID int, signal domain.ActionSignal) string {
	return fmt.Sprintf("composite.qos.summary.%d.%s", strategyID, signal)
}
