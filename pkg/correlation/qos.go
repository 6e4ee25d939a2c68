package correlation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/yairfalse/fuse/pkg/domain"
	"github.com/yairfalse/fuse/pkg/storage"
)

// qosFingerprint returns the extra counter dimension. Monitor alerts are
// throttled per (strategy, signal, severity); third-party alerts fold biz
// and alert name into a hash so unrelated sources do not share a budget.
func qosFingerprint(alert *domain.Alert, signal domain.ActionSignal) string {
	if !alert.IsThirdParty() {
		return ""
	}
	raw, _ := json.Marshal(struct {
		BizID     int                 `json:"biz_id"`
		AlertName string              `json:"alert_name"`
		Signal    domain.ActionSignal `json:"signal"`
		Severity  int                 `json:"severity"`
	}{alert.BizID, alert.Name, signal, alert.Severity})
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// qosCalc bumps the rate-limit counter for the alert's dispatch fingerprint
// and reports whether the dispatch is throttled. A threshold of zero
// disables QoS. The counter lives for one QoS window: created with SET NX
// and the window TTL, incremented afterwards, and re-armed with the TTL if
// the key somehow lost it.
func (p *Processor) qosCalc(ctx context.Context, alert *domain.Alert, signal domain.ActionSignal) (bool, int64, error) {
	if p.config.QoSThreshold == 0 {
		return false, 0, nil
	}

	key := storage.QoSCounterKey(alert.StrategyID, signal, alert.Severity, qosFingerprint(alert, signal))

	count := int64(1)
	created, err := p.store.SetNX(ctx, key, "1", p.config.QoSWindow)
	if err != nil {
		return false, 0, fmt.Errorf("qos counter: %w", err)
	}
	if !created {
		count, err = p.store.Incr(ctx, key)
		if err != nil {
			return false, 0, fmt.Errorf("qos counter: %w", err)
		}
		ttl, err := p.store.TTL(ctx, key)
		if err == nil && ttl < 0 {
			_ = p.store.Expire(ctx, key, p.config.QoSWindow)
		}
	}

	return count > p.config.QoSThreshold, count, nil
}
