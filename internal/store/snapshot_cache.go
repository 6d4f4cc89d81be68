// Package store caches the latest tick payload and alert log per patient.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// SnapshotCache latest payload and alert log per patient, with TTL
type SnapshotCache struct {
	kv        KV
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSnapshotCache creates a SnapshotCache
func NewSnapshotCache(kv KV, keyPrefix string, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *SnapshotCache) latestKey(patientID string) string {
	return fmt.Sprintf("%spatient:%s:latest", c.keyPrefix, patientID)
}

func (c *SnapshotCache) alertsKey(patientID string) string {
	return fmt.Sprintf("%spatient:%s:alerts", c.keyPrefix, patientID)
}

// PutPayload stores the tick payload and its alert log.
func (c *SnapshotCache) PutPayload(ctx context.Context, payload *models.TickPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := c.kv.Set(ctx, c.latestKey(payload.PatientID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to set latest payload: %w", err)
	}
	if err := c.PutAlerts(ctx, payload.PatientID, payload.Alerts); err != nil {
		return err
	}

	c.logger.Debug("Updated snapshot cache",
		zap.String("patient_id", payload.PatientID),
		zap.Int("alert_count", len(payload.Alerts)),
	)
	return nil
}

// LatestPayload returns the cached payload or ErrMiss.
func (c *SnapshotCache) LatestPayload(ctx context.Context, patientID string) (*models.TickPayload, error) {
	val, err := c.kv.Get(ctx, c.latestKey(patientID))
	if err != nil {
		return nil, err
	}
	var payload models.TickPayload
	if err := json.Unmarshal([]byte(val), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

// PutAlerts stores the alert log.
func (c *SnapshotCache) PutAlerts(ctx context.Context, patientID string, alerts []models.Alert) error {
	if alerts == nil {
		alerts = []models.Alert{}
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}
	if err := c.kv.Set(ctx, c.alertsKey(patientID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}
	return nil
}

// Alerts returns the cached alert log; a miss yields an empty log.
func (c *SnapshotCache) Alerts(ctx context.Context, patientID string) ([]models.Alert, error) {
	val, err := c.kv.Get(ctx, c.alertsKey(patientID))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return []models.Alert{}, nil
		}
		return nil, err
	}
	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	return alerts, nil
}
