package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
	"owl-vitals/internal/mqtt"
)

// Processor runs one reading through the vitals pipeline
type Processor interface {
	Process(ctx context.Context, patientID string, reading models.VitalReading) (*models.TickPayload, error)
}

// Subscriber MQTT subscription surface used by the ingest consumer
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// VitalsIngestConsumer feeds device readings published on vitals/{patient_id}/reading into the pipeline.
type VitalsIngestConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	processor  Processor
	clock      func() time.Time
	logger     *zap.Logger

	mu         sync.Mutex
	subscribed bool
}

// NewVitalsIngestConsumer creates the consumer
func NewVitalsIngestConsumer(subscriber Subscriber, topic string, qos byte, processor Processor, logger *zap.Logger) *VitalsIngestConsumer {
	return &VitalsIngestConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		processor:  processor,
		clock:      time.Now,
		logger:     logger,
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (c *VitalsIngestConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	c.logger.Info("Vitals ingest consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return c.Stop()
}

// Stop unsubscribes. Calling it again, or before Start, is a no-op.
func (c *VitalsIngestConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		return nil
	}
	c.subscribed = false
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("Vitals ingest consumer stopped")
	return nil
}

// HandleMessage validates one device submission and processes it.
func (c *VitalsIngestConsumer) HandleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// vitals/{patient_id}/reading
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	patientID := parts[1]

	var sub models.VitalSubmission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if sub.PatientID != "" && sub.PatientID != patientID {
		return fmt.Errorf("patient_id %q does not match topic %s", sub.PatientID, topic)
	}

	ts, err := sub.Time(c.clock())
	if err != nil {
		return err
	}
	reading, err := sub.ToReading(ts)
	if err != nil {
		return err
	}

	result, err := c.processor.Process(context.Background(), patientID, reading)
	if err != nil {
		return fmt.Errorf("failed to process reading: %w", err)
	}

	c.logger.Debug("Processed device reading",
		zap.String("patient_id", patientID),
		zap.Float64("risk_score", result.RiskScore),
	)
	return nil
}
