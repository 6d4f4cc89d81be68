package monitor

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"owl-vitals/internal/models"
	redisstream "owl-vitals/internal/redis"
)

// PayloadCache stores the latest payload per patient
type PayloadCache interface {
	PutPayload(ctx context.Context, payload *models.TickPayload) error
}

// Broadcaster fans a typed message out to push clients
type Broadcaster interface {
	Broadcast(msgType string, data interface{}) error
}

// Notifier delivers a fired alert
type Notifier interface {
	Notify(ctx context.Context, a models.Alert) error
}

// MessageVitalsUpdate push message type for tick payloads
const MessageVitalsUpdate = "vitals_update"

// CacheSink writes payloads to the snapshot cache
type CacheSink struct {
	cache PayloadCache
}

func NewCacheSink(cache PayloadCache) *CacheSink { return &CacheSink{cache: cache} }

func (s *CacheSink) Name() string { return "cache" }

func (s *CacheSink) Consume(ctx context.Context, payload *models.TickPayload) error {
	return s.cache.PutPayload(ctx, payload)
}

// StreamSink appends every tick to the ticks stream and fired alerts to the alerts stream
type StreamSink struct {
	client       *redis.Client
	ticksStream  string
	alertsStream string
}

func NewStreamSink(client *redis.Client, ticksStream, alertsStream string) *StreamSink {
	return &StreamSink{client: client, ticksStream: ticksStream, alertsStream: alertsStream}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Consume(ctx context.Context, payload *models.TickPayload) error {
	if _, err := redisstream.PublishJSONToStream(ctx, s.client, s.ticksStream, payload); err != nil {
		return fmt.Errorf("failed to publish tick: %w", err)
	}
	if payload.NewAlert == nil {
		return nil
	}
	if _, err := redisstream.PublishJSONToStream(ctx, s.client, s.alertsStream, payload.NewAlert); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// HubSink pushes payloads to connected dashboards
type HubSink struct {
	hub Broadcaster
}

func NewHubSink(hub Broadcaster) *HubSink { return &HubSink{hub: hub} }

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Consume(_ context.Context, payload *models.TickPayload) error {
	return s.hub.Broadcast(MessageVitalsUpdate, payload)
}

// NotifierSink forwards newly fired alerts
type NotifierSink struct {
	notifier Notifier
}

func NewNotifierSink(n Notifier) *NotifierSink { return &NotifierSink{notifier: n} }

func (s *NotifierSink) Name() string { return "notifier" }

func (s *NotifierSink) Consume(ctx context.Context, payload *models.TickPayload) error {
	if payload.NewAlert == nil {
		return nil
	}
	return s.notifier.Notify(ctx, *payload.NewAlert)
}
