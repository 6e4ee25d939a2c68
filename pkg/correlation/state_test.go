package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/domain"
	"github.com/yairfalse/fuse/pkg/storage"
)

func newTestStateStore(store storage.Store, now int64) *StateStore {
	return NewStateStore(zap.NewNop(), store, time.Hour, func() int64 { return now })
}

func TestUpdateMatched(t *testing.T) {
	ctx := context.Background()
	now := int64(1_700_000_000)

	t.Run("abnormal alert joins the window", func(t *testing.T) {
		store := storage.NewMemoryStore()
		state := newTestStateStore(store, now)

		alert := &domain.Alert{ID: "a-1", UpdateTime: now}
		truth, err := state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusAbnormal)
		require.NoError(t, err)
		assert.Equal(t, TruthAbnormal, truth)
	})

	t.Run("recovered alert leaves, empty window is normal", func(t *testing.T) {
		store := storage.NewMemoryStore()
		state := newTestStateStore(store, now)

		alert := &domain.Alert{ID: "a-1", UpdateTime: now}
		_, err := state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusAbnormal)
		require.NoError(t, err)

		truth, err := state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusRecovered)
		require.NoError(t, err)
		assert.Equal(t, TruthNormal, truth)
	})

	t.Run("other fresh alerts keep the config abnormal", func(t *testing.T) {
		store := storage.NewMemoryStore()
		state := newTestStateStore(store, now)

		other := &domain.Alert{ID: "a-2", UpdateTime: now - 60}
		_, err := state.UpdateMatched(ctx, 1, "dim", "qc", other, domain.AlertStatusAbnormal)
		require.NoError(t, err)

		alert := &domain.Alert{ID: "a-1", UpdateTime: now}
		truth, err := state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusRecovered)
		require.NoError(t, err)
		assert.Equal(t, TruthAbnormal, truth)
	})

	t.Run("stale alerts fall out of the window", func(t *testing.T) {
		store := storage.NewMemoryStore()
		state := newTestStateStore(store, now)

		stale := &domain.Alert{ID: "a-2", UpdateTime: now - 2*3600}
		_, err := state.UpdateMatched(ctx, 1, "dim", "qc", stale, domain.AlertStatusAbnormal)
		require.NoError(t, err)

		alert := &domain.Alert{ID: "a-1", UpdateTime: now}
		truth, err := state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusRecovered)
		require.NoError(t, err)
		assert.Equal(t, TruthNormal, truth)
	})
}

func TestQueryUnmatched(t *testing.T) {
	ctx := context.Background()
	now := int64(1_700_000_000)
	store := storage.NewMemoryStore()
	state := newTestStateStore(store, now)

	truth, err := state.QueryUnmatched(ctx, 1, "dim", "qc")
	require.NoError(t, err)
	assert.Equal(t, TruthNormal, truth)

	alert := &domain.Alert{ID: "a-1", UpdateTime: now - 60}
	_, err = state.UpdateMatched(ctx, 1, "dim", "qc", alert, domain.AlertStatusAbnormal)
	require.NoError(t, err)

	truth, err = state.QueryUnmatched(ctx, 1, "dim", "qc")
	require.NoError(t, err)
	assert.Equal(t, TruthAbnormal, truth)
}

func TestPriorDetectRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	state := newTestStateStore(store, 1_700_000_000)

	t.Run("absent reads empty", func(t *testing.T) {
		assert.Empty(t, state.ReadPriorDetect(ctx, 1, "dim"))
	})

	t.Run("write then read", func(t *testing.T) {
		want := map[int]bool{1: true, 2: false}
		require.NoError(t, state.WritePriorDetect(ctx, 1, "dim", want))
		assert.Equal(t, want, state.ReadPriorDetect(ctx, 1, "dim"))
	})

	t.Run("corrupt value reads empty", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "composite.detect.1.bad", "not json", 0))
		assert.Empty(t, state.ReadPriorDetect(ctx, 1, "bad"))
	})
}

func TestClearState(t *testing.T) {
	ctx := context.Background()
	now := int64(1_700_000_000)
	store := storage.NewMemoryStore()
	state := newTestStateStore(store, now)

	alert := &domain.Alert{ID: "a-1", UpdateTime: now}
	_, err := state.UpdateMatched(ctx, 1, "dim", "qc1", alert, domain.AlertStatusAbnormal)
	require.NoError(t, err)
	_, err = state.UpdateMatched(ctx, 1, "dim", "qc2", alert, domain.AlertStatusAbnormal)
	require.NoError(t, err)
	require.NoError(t, state.WritePriorDetect(ctx, 1, "dim", map[int]bool{1: true}))

	require.NoError(t, state.ClearState(ctx, 1, "dim"))

	assert.Empty(t, state.ReadPriorDetect(ctx, 1, "dim"))
	truth, err := state.QueryUnmatched(ctx, 1, "dim", "qc1")
	require.NoError(t, err)
	assert.Equal(t, TruthNormal, truth)
	truth, err = state.QueryUnmatched(ctx, 1, "dim", "qc2")
	require.NoError(t, err)
	assert.Equal(t, TruthNormal, truth)
}
