package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yairfalse/fuse/pkg/domain"
)

// AlertSnapshots keeps the last seen alert documents in the shared store so
// a retry can re-read the alert it was scheduled for.
type AlertSnapshots struct {
	store Store
}

func NewAlertSnapshots(store Store) *AlertSnapshots {
	return &AlertSnapshots{store: store}
}

// Save overwrites the stored document for the alert.
func (a *AlertSnapshots) Save(ctx context.Context, alert *domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert %s: %w", alert.ID, err)
	}
	return a.store.Set(ctx, AlertSnapshotKey(alert.ID), string(data), AlertSnapshotTTL)
}

// AlertByKey loads the stored document for the alert.
func (a *AlertSnapshots) AlertByKey(ctx context.Context, key domain.AlertKey) (*domain.Alert, error) {
	data, err := a.store.Get(ctx, AlertSnapshotKey(key.AlertID))
	if err != nil {
		return nil, err
	}
	var alert domain.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert %s: %w", key.AlertID, err)
	}
	return &alert, nil
}
