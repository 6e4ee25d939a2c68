package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/fuse/pkg/domain"
)

func TestPublicDimensions(t *testing.T) {
	strategy := &domain.Strategy{
		Items: []domain.Item{{QueryConfigs: []domain.QueryConfig{
			{Alias: "A", AggDimensions: []string{"ip", "module", "idc"}},
			{Alias: "B", AggDimensions: []string{"module", "ip"}},
			{Alias: "C", AggDimensions: []string{"ip", "module", "disk"}},
		}}},
	}
	assert.Equal(t, []string{"ip", "module"}, PublicDimensions(strategy))
}

func TestPublicDimensionsDisjoint(t *testing.T) {
	strategy := &domain.Strategy{
		Items: []domain.Item{{QueryConfigs: []domain.QueryConfig{
			{Alias: "A", AggDimensions: []string{"ip"}},
			{Alias: "B", AggDimensions: []string{"module"}},
		}}},
	}
	assert.Empty(t, PublicDimensions(strategy))
}

func TestProjectDimensions(t *testing.T) {
	event := &domain.Event{
		Target: "10.0.0.1",
		Fields: map[string]string{"ip": "10.0.0.1"},
		Tags:   map[string]string{"module": "gateway"},
	}

	values := ProjectDimensions(event, []string{"ip", "tags.module", "idc"})
	assert.Equal(t, map[string]string{
		"ip":          "10.0.0.1",
		"tags.module": "gateway",
		"idc":         "",
	}, values)
}

func TestDimensionHash(t *testing.T) {
	a := map[string]string{"ip": "10.0.0.1", "module": "gw"}
	b := map[string]string{"module": "gw", "ip": "10.0.0.1"}
	c := map[string]string{"ip": "10.0.0.2", "module": "gw"}

	assert.Equal(t, DimensionHash(a), DimensionHash(b))
	assert.NotEqual(t, DimensionHash(a), DimensionHash(c))

	// a missing key and an empty value hash the same via projection
	event := &domain.Event{Fields: map[string]string{"ip": "10.0.0.1"}}
	p1 := ProjectDimensions(event, []string{"ip", "idc"})
	p2 := map[string]string{"ip": "10.0.0.1", "idc": ""}
	assert.Equal(t, DimensionHash(p1), DimensionHash(p2))
}

func TestDisplayDimensions(t *testing.T) {
	values := map[string]string{"ip": "10.0.0.1", "module": "gw"}
	alertDims := []domain.Dimension{
		{Key: "ip", Value: "10.0.0.1", DisplayKey: "Host IP", DisplayValue: "gateway-01"},
		{Key: "module", Value: "db", DisplayKey: "Module", DisplayValue: "Database"},
	}

	dims := DisplayDimensions(values, alertDims)
	assert.Equal(t, []domain.Dimension{
		{Key: "ip", Value: "10.0.0.1", DisplayKey: "Host IP", DisplayValue: "gateway-01"},
		// raw values disagree, no decoration
		{Key: "module", Value: "gw", DisplayKey: "module", DisplayValue: "gw"},
	}, dims)
}

func TestExtractTarget(t *testing.T) {
	tests := []struct {
		name       string
		values     map[string]string
		wantType   string
		wantTarget string
	}{
		{"host by ip", map[string]string{"ip": "10.0.0.1"}, domain.TargetTypeHost, "10.0.0.1"},
		{"host with cloud id", map[string]string{"ip": "10.0.0.1", "cloud_id": "3"}, domain.TargetTypeHost, "10.0.0.1|3"},
		{"target_ip wins", map[string]string{"target_ip": "10.0.0.9", "ip": "10.0.0.1"}, domain.TargetTypeHost, "10.0.0.9"},
		{"service instance", map[string]string{"service_instance_id": "svc-7"}, domain.TargetTypeService, "svc-7"},
		{"topo fallback", map[string]string{"idc": "east"}, domain.TargetTypeTopo, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targetType, target := ExtractTarget(tt.values)
			assert.Equal(t, tt.wantType, targetType)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}
