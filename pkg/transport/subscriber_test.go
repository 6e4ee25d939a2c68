package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fuse/pkg/correlation"
	"github.com/yairfalse/fuse/pkg/domain"
)

func TestConsumerName(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		subject string
		want    string
	}{
		{"alert subject", "fuse-composite", "fuse.alerts", "fuse-composite-fuse-alerts"},
		{"retry subject", "fuse-composite", "fuse.retries", "fuse-composite-fuse-retries"},
		{"deep subject", "app", "a.b.c", "app-a-b-c"},
		{"no dots", "app", "alerts", "app-alerts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := consumerName(tt.prefix, tt.subject)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, ".")
		})
	}
}

func TestRetryEnvelopeRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("not yet due", func(t *testing.T) {
		e := retryEnvelope{DeliverAfter: now.Unix() + 30}
		assert.Equal(t, 30*time.Second, e.remaining(now))
	})

	t.Run("due exactly now", func(t *testing.T) {
		e := retryEnvelope{DeliverAfter: now.Unix()}
		assert.LessOrEqual(t, e.remaining(now), time.Duration(0))
	})

	t.Run("overdue", func(t *testing.T) {
		e := retryEnvelope{DeliverAfter: now.Unix() - 60}
		assert.Equal(t, -60*time.Second, e.remaining(now))
	})
}

func TestRetryEnvelopeWireFormat(t *testing.T) {
	in := retryEnvelope{
		DeliverAfter: 1_700_000_001,
		Payload: correlation.RetryPayload{
			AlertKey:             domain.AlertKey{AlertID: "a-1", StrategyID: 101},
			AlertStatus:          domain.AlertStatusAbnormal,
			CompositeStrategyIDs: []int{100},
			RetryTimes:           2,
		},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out retryEnvelope
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestConfigWithDefaults(t *testing.T) {
	t.Run("zero config takes defaults", func(t *testing.T) {
		assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
	})

	t.Run("explicit values survive", func(t *testing.T) {
		c := Config{URL: "nats://broker:4222", WorkerCount: 8}.withDefaults()
		assert.Equal(t, "nats://broker:4222", c.URL)
		assert.Equal(t, 8, c.WorkerCount)
		assert.Equal(t, DefaultConfig().StreamName, c.StreamName)
	})
}
