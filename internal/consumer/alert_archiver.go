package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"owl-vitals/internal/models"
	redisstream "owl-vitals/internal/redis"
)

// AlertArchive persists fired alerts
type AlertArchive interface {
	CreateAlertEvent(ctx context.Context, a *models.Alert) error
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// AlertArchiver drains the alerts stream into the archive. Entries are acknowledged only
// after they are stored; unacknowledged entries are retried from the pending list.
type AlertArchiver struct {
	client    *redis.Client
	archive   AlertArchive
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	logger    *zap.Logger
}

// NewAlertArchiver creates the archiver
func NewAlertArchiver(client *redis.Client, archive AlertArchive, stream, group, consumer string, batchSize int64, logger *zap.Logger) *AlertArchiver {
	return &AlertArchiver{
		client:    client,
		archive:   archive,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		batchSize: batchSize,
		block:     2 * time.Second,
		logger:    logger,
	}
}

// Start creates the consumer group and consumes until ctx is cancelled.
func (a *AlertArchiver) Start(ctx context.Context) error {
	if err := redisstream.CreateConsumerGroup(ctx, a.client, a.stream, a.group); err != nil {
		return err
	}
	a.logger.Info("Alert archiver started",
		zap.String("stream", a.stream),
		zap.String("group", a.group),
	)

	backoff := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Alert archiver stopped")
			return nil
		case <-time.After(backoff):
		}

		if _, err := a.ProcessPending(ctx); err != nil {
			backoff = nextBackoff(backoff)
			a.logger.Error("Failed to archive pending alerts", zap.Error(err), zap.Duration("backoff", backoff))
			continue
		}
		if _, err := a.ProcessBatch(ctx, a.block); err != nil {
			if ctx.Err() != nil {
				continue
			}
			backoff = nextBackoff(backoff)
			a.logger.Error("Failed to archive alerts", zap.Error(err), zap.Duration("backoff", backoff))
			continue
		}
		backoff = 0
	}
}

// ProcessPending retries entries delivered earlier but not acknowledged.
func (a *AlertArchiver) ProcessPending(ctx context.Context) (int, error) {
	msgs, err := redisstream.ReadPendingFromStream(ctx, a.client, a.stream, a.group, a.consumer, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending alerts: %w", err)
	}
	return a.archiveAll(ctx, msgs)
}

// ProcessBatch reads and archives new entries, waiting up to block.
func (a *AlertArchiver) ProcessBatch(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := redisstream.ReadFromStream(ctx, a.client, a.stream, a.group, a.consumer, a.batchSize, block)
	if err != nil {
		return 0, fmt.Errorf("failed to read alerts: %w", err)
	}
	return a.archiveAll(ctx, msgs)
}

// archiveAll stops at the first storage error so the rest stay pending.
func (a *AlertArchiver) archiveAll(ctx context.Context, msgs []redisstream.StreamMessage) (int, error) {
	stored := 0
	for _, msg := range msgs {
		alert, err := decodeAlert(msg)
		if err != nil {
			// undecodable entries would be retried forever
			a.logger.Warn("Dropping malformed alert entry", zap.String("id", msg.ID), zap.Error(err))
			if err := redisstream.Ack(ctx, a.client, a.stream, a.group, msg.ID); err != nil {
				return stored, err
			}
			continue
		}
		if err := a.archive.CreateAlertEvent(ctx, alert); err != nil {
			return stored, fmt.Errorf("failed to archive alert %s: %w", alert.ID, err)
		}
		if err := redisstream.Ack(ctx, a.client, a.stream, a.group, msg.ID); err != nil {
			return stored, err
		}
		stored++
		a.logger.Debug("Archived alert",
			zap.String("alert_id", alert.ID),
			zap.String("patient_id", alert.PatientID),
		)
	}
	return stored, nil
}

func decodeAlert(msg redisstream.StreamMessage) (*models.Alert, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}
	var alert models.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minBackoff
	}
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
