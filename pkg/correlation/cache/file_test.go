package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fuse/pkg/domain"
)

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()

	doc := `strategies:
  - id: 100
    biz_id: 2
    name: host down
    items:
      - id: 1
        query_configs:
          - alias: A
            metric_id: fta.alert.ping_lost
            data_source_label: fta
            data_type_label: alert
            alert_name: ping lost
            agg_dimension: [ip]
            agg_condition:
              - key: tags.module
                method: eq
                value: [gateway]
    detects:
      - level: 1
        expression: A
    active_time_range: "09:00--18:00"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host.yaml"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loader := &FileLoader{Dir: dir}
	strategies, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, strategies, 1)

	s := strategies[0]
	assert.Equal(t, 100, s.ID)
	assert.Equal(t, 2, s.BizID)
	assert.Equal(t, "host down", s.Name)
	assert.Equal(t, "09:00--18:00", s.ActiveTimeRange)

	require.Len(t, s.Items, 1)
	require.Len(t, s.Items[0].QueryConfigs, 1)
	qc := s.Items[0].QueryConfigs[0]
	assert.Equal(t, "A", qc.Alias)
	assert.Equal(t, domain.DataSourceFTA, qc.DataSourceLabel)
	assert.Equal(t, "ping lost", qc.AlertName)
	assert.Equal(t, []string{"ip"}, qc.AggDimensions)
	require.Len(t, qc.AggConditions, 1)
	assert.Equal(t, "tags.module", qc.AggConditions[0].Key)
	assert.Equal(t, "eq", qc.AggConditions[0].Op)
	assert.Equal(t, []string{"gateway"}, qc.AggConditions[0].Values)

	require.Len(t, s.Detects, 1)
	assert.Equal(t, 1, s.Detects[0].Level)
	assert.Equal(t, "A", s.Detects[0].Expression)
}

func TestFileLoaderEmptyDir(t *testing.T) {
	loader := &FileLoader{Dir: t.TempDir()}
	strategies, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, strategies)
}

func TestFileLoaderMissingDir(t *testing.T) {
	loader := &FileLoader{Dir: "/does/not/exist"}
	_, err := loader.Load(context.Background())
	assert.Error(t, err)
}

func TestFileLoaderBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("strategies: {{"), 0o644))

	loader := &FileLoader{Dir: dir}
	_, err := loader.Load(context.Background())
	assert.Error(t, err)
}
