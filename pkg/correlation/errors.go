package correlation

import "errors"

// Error kinds matched at the per-strategy firewall. Everything except
// ErrLockContended is contained so one bad strategy cannot poison the
// alert's other strategies; lock contention propagates to the retry
// scheduler for that strategy only.
var (
	// ErrLockContended signals that the (strategy, dimension) or alert lock
	// could not be acquired within its wait budget.
	ErrLockContended = errors.New("correlation: lock contended")

	// ErrConfigMiss signals a strategy id present in the index but absent
	// from the configuration cache.
	ErrConfigMiss = errors.New("correlation: strategy missing from cache")

	// ErrEvalFailed signals a detect expression that could not be parsed or
	// evaluated. The detect degrades to NoData; the cycle continues.
	ErrEvalFailed = errors.New("correlation: expression evaluation failed")

	// ErrStoreTimeout signals a coordination store call that exceeded its
	// per-call budget.
	ErrStoreTimeout = errors.New("correlation: coordination store timeout")
)
