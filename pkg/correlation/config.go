package correlation

import (
	"time"

	"github.com/yairfalse/fuse/pkg/storage"
)

// Config bounds the correlation processor. Zero values take defaults.
type Config struct {
	// CheckWindow is the sliding-window size W over which abnormal alerts
	// feed composite evaluation.
	CheckWindow time.Duration

	// LockTTL / LockWait bound the (strategy, dimension) and alert locks.
	LockTTL  time.Duration
	LockWait time.Duration

	// QoSThreshold is the per-fingerprint dispatch budget inside QoSWindow.
	// 0 disables QoS entirely.
	QoSThreshold int64
	QoSWindow    time.Duration

	// MaxRetryTimes caps delay-queue re-entries for one work item.
	MaxRetryTimes int

	// RetryCountdown is the delay-queue countdown on lock contention.
	RetryCountdown time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CheckWindow:    time.Hour,
		LockTTL:        storage.LockTTL,
		LockWait:       storage.DefaultLockWait,
		QoSThreshold:   100,
		QoSWindow:      2 * time.Minute,
		MaxRetryTimes:  10,
		RetryCountdown: time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CheckWindow == 0 {
		c.CheckWindow = def.CheckWindow
	}
	if c.LockTTL == 0 {
		c.LockTTL = def.LockTTL
	}
	if c.LockWait == 0 {
		c.LockWait = def.LockWait
	}
	if c.QoSWindow == 0 {
		c.QoSWindow = def.QoSWindow
	}
	if c.MaxRetryTimes == 0 {
		c.MaxRetryTimes = def.MaxRetryTimes
	}
	if c.RetryCountdown == 0 {
		c.RetryCountdown = def.RetryCountdown
	}
	return c
}
