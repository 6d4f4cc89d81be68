package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"owl-vitals/internal/config"
	"owl-vitals/internal/models"
	"owl-vitals/internal/mqtt"
	redisstream "owl-vitals/internal/redis"
)

type fakeProcessor struct {
	mu       sync.Mutex
	patients []string
	readings []models.VitalReading
}

func (p *fakeProcessor) Process(_ context.Context, patientID string, r models.VitalReading) (*models.TickPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patients = append(p.patients, patientID)
	p.readings = append(p.readings, r)
	return &models.TickPayload{PatientID: patientID}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readings)
}

const validReading = `{
	"heart_rate": 88,
	"blood_pressure": [128, 84],
	"respiratory_rate": 17,
	"oxygen_saturation": 97,
	"temperature": 98.9,
	"timestamp": "2024-03-01T10:00:00Z"
}`

func TestVitalsIngest_HandleMessage(t *testing.T) {
	proc := &fakeProcessor{}
	c := NewVitalsIngestConsumer(nil, "vitals/+/reading", 1, proc, zap.NewNop())

	require.NoError(t, c.HandleMessage("vitals/bed-4/reading", []byte(validReading)))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, "bed-4", proc.patients[0])
	r := proc.readings[0]
	assert.Equal(t, 128.0, r.BloodPressure.Systolic)
	assert.Len(t, r.ECG, models.ECGLength)
	assert.True(t, r.Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestVitalsIngest_Rejects(t *testing.T) {
	proc := &fakeProcessor{}
	c := NewVitalsIngestConsumer(nil, "vitals/+/reading", 1, proc, zap.NewNop())

	err := c.HandleMessage("vitals/reading", []byte(validReading))
	assert.Error(t, err)

	err = c.HandleMessage("vitals/bed-4/reading", []byte(`{"heart_rate": 80}`))
	require.Error(t, err)
	assert.Equal(t, "Missing required field: blood_pressure", err.Error())

	err = c.HandleMessage("vitals/bed-4/reading", []byte(`{"patient_id":"bed-5","heart_rate":80}`))
	assert.Error(t, err)

	err = c.HandleMessage("vitals/bed-4/reading", []byte(`not json`))
	assert.Error(t, err)

	assert.Equal(t, 0, proc.count())
}

func TestVitalsIngest_RejectsOutOfDomainValues(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"huge heart rate", `{"heart_rate":1e308,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6}`, models.SignalHeartRate},
		{"negative systolic", `{"heart_rate":80,"blood_pressure":[-5,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6}`, models.SignalSystolic},
		{"diastolic too high", `{"heart_rate":80,"blood_pressure":[120,900],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6}`, models.SignalDiastolic},
		{"negative respiratory rate", `{"heart_rate":80,"blood_pressure":[120,80],"respiratory_rate":-1,"oxygen_saturation":98,"temperature":98.6}`, models.SignalRespiratoryRate},
		{"oxygen above 100", `{"heart_rate":80,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":250,"temperature":98.6}`, models.SignalOxygenSaturation},
		{"zero temperature", `{"heart_rate":80,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":0}`, models.SignalTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			c := NewVitalsIngestConsumer(nil, "vitals/+/reading", 1, proc, zap.NewNop())

			err := c.HandleMessage("vitals/bed-4/reading", []byte(tt.body))
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, models.ErrInvalidVitals)
			assert.Equal(t, 0, proc.count())
		})
	}
}

type countingSubscriber struct {
	mu           sync.Mutex
	unsubscribes int
	subscribeErr error
}

func (s *countingSubscriber) Subscribe(string, byte, mqtt.MessageHandler) error {
	return s.subscribeErr
}

func (s *countingSubscriber) Unsubscribe(...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes++
	return nil
}

func TestVitalsIngest_StopIsIdempotent(t *testing.T) {
	sub := &countingSubscriber{}
	c := NewVitalsIngestConsumer(sub, "vitals/+/reading", 1, &fakeProcessor{}, zap.NewNop())

	require.NoError(t, c.Stop())
	assert.Equal(t, 0, sub.unsubscribes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop())
	assert.Equal(t, 1, sub.unsubscribes)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestVitalsIngest_ThroughBroker(t *testing.T) {
	port := freePort(t)
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))
	require.NoError(t, broker.Serve())
	defer broker.Close()

	logger := zap.NewNop()
	client, err := mqtt.NewClient(&config.MQTTConfig{
		Broker:   fmt.Sprintf("tcp://127.0.0.1:%d", port),
		ClientID: "owl-vitals-test",
	}, logger)
	require.NoError(t, err)
	defer client.Disconnect()

	proc := &fakeProcessor{}
	c := NewVitalsIngestConsumer(client, "vitals/+/reading", 1, proc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		_ = client.Publish("vitals/bed-7/reading", 1, false, []byte(validReading))
		return proc.count() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "bed-7", proc.patients[0])
}

type fakeArchive struct {
	mu       sync.Mutex
	failures int
	stored   []*models.Alert
}

func (f *fakeArchive) CreateAlertEvent(_ context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("database unavailable")
	}
	f.stored = append(f.stored, a)
	return nil
}

func setupArchiver(t *testing.T, archive AlertArchive) (*redis.Client, *AlertArchiver) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewAlertArchiver(client, archive, "vitals:alerts", "archiver", "c1", 10, zap.NewNop())
	require.NoError(t, redisstream.CreateConsumerGroup(context.Background(), client, "vitals:alerts", "archiver"))
	return client, a
}

func publishAlert(t *testing.T, client *redis.Client, id string) {
	_, err := redisstream.PublishJSONToStream(context.Background(), client, "vitals:alerts", models.Alert{
		ID:        id,
		PatientID: "bed-1",
		Timestamp: "2024-03-01 10:00:00",
		RiskScore: 0.3,
	})
	require.NoError(t, err)
}

func TestAlertArchiver_ArchivesAndAcks(t *testing.T) {
	archive := &fakeArchive{}
	client, a := setupArchiver(t, archive)
	ctx := context.Background()

	publishAlert(t, client, "a1")
	publishAlert(t, client, "a2")
	_, err := redisstream.PublishToStream(ctx, client, "vitals:alerts", map[string]interface{}{"data": "{broken"})
	require.NoError(t, err)

	n, err := a.ProcessBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, archive.stored, 2)
	assert.Equal(t, "a1", archive.stored[0].ID)

	pending, err := redisstream.ReadPendingFromStream(ctx, client, "vitals:alerts", "archiver", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAlertArchiver_RetriesPendingAfterFailure(t *testing.T) {
	archive := &fakeArchive{failures: 1}
	client, a := setupArchiver(t, archive)
	ctx := context.Background()

	publishAlert(t, client, "a1")
	_, err := a.ProcessBatch(ctx, 0)
	assert.Error(t, err)
	assert.Empty(t, archive.stored)

	n, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, archive.stored, 1)
	assert.Equal(t, "a1", archive.stored[0].ID)
}

func TestDecodeAlert(t *testing.T) {
	data, err := json.Marshal(models.Alert{ID: "x", RiskFactors: []string{"Low oxygen saturation: 84%"}})
	require.NoError(t, err)

	a, err := decodeAlert(redisstream.StreamMessage{Values: map[string]interface{}{"data": string(data)}})
	require.NoError(t, err)
	assert.Equal(t, "x", a.ID)

	_, err = decodeAlert(redisstream.StreamMessage{Values: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, minBackoff, nextBackoff(0))
	assert.Equal(t, 2*minBackoff, nextBackoff(minBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff))
}
