package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventField(t *testing.T) {
	event := &Event{
		Target: "10.0.0.1",
		Fields: map[string]string{"ip": "10.0.0.1"},
		Tags:   map[string]string{"module": "gateway"},
	}

	v, ok := event.Field("ip")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	v, ok = event.Field("tags.module")
	assert.True(t, ok)
	assert.Equal(t, "gateway", v)

	v, ok = event.Field("target")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	_, ok = event.Field("tags.idc")
	assert.False(t, ok)

	var nilEvent *Event
	_, ok = nilEvent.Field("ip")
	assert.False(t, ok)
}

func TestEventFlatten(t *testing.T) {
	event := &Event{
		Target: "10.0.0.1",
		Fields: map[string]string{"ip": "10.0.0.1"},
		Tags:   map[string]string{"module": "gateway"},
	}
	assert.Equal(t, map[string]string{
		"ip":          "10.0.0.1",
		"target":      "10.0.0.1",
		"tags.module": "gateway",
	}, event.Flatten())
}

func TestAlertClassification(t *testing.T) {
	thirdParty := &Alert{ID: "a-1", StrategyID: 0}
	assert.True(t, thirdParty.IsThirdParty())

	monitor := &Alert{ID: "a-2", StrategyID: 101}
	assert.False(t, monitor.IsThirdParty())
	assert.False(t, monitor.IsCompositeOrigin())

	composite := &Alert{
		ID:         "a-3",
		StrategyID: 100,
		Strategy: &Strategy{
			Items: []Item{{QueryConfigs: []QueryConfig{
				{DataSourceLabel: DataSourceFTA, DataTypeLabel: DataTypeAlert},
			}}},
		},
	}
	assert.True(t, composite.IsCompositeOrigin())

	timeSeries := &Alert{
		ID:         "a-4",
		StrategyID: 101,
		Strategy: &Strategy{
			Items: []Item{{QueryConfigs: []QueryConfig{
				{DataSourceLabel: DataSourceMonitor, DataTypeLabel: "time_series"},
			}}},
		},
	}
	assert.False(t, timeSeries.IsCompositeOrigin())
}

func TestAlertKeyString(t *testing.T) {
	key := AlertKey{AlertID: "a-1", StrategyID: 101}
	assert.Equal(t, "101.a-1", key.String())
}
