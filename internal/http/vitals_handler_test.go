package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"owl-vitals/internal/alert"
	"owl-vitals/internal/detector"
	"owl-vitals/internal/generator"
	"owl-vitals/internal/history"
	"owl-vitals/internal/models"
	"owl-vitals/internal/monitor"
	"owl-vitals/internal/predictor"
	"owl-vitals/internal/repository"
	"owl-vitals/internal/risk"
)

type fakeArchive struct {
	alerts []*models.Alert
	page   int
	size   int
}

func (f *fakeArchive) ListAlertEvents(_ context.Context, patientID string, _ repository.AlertEventFilters, page, size int) ([]*models.Alert, int, error) {
	f.page, f.size = page, size
	var out []*models.Alert
	for _, a := range f.alerts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

type testServer struct {
	handler *VitalsHandler
	router  http.Handler
	service *monitor.Service
}

func newTestServer(t *testing.T, opts ...VitalsHandlerOption) *testServer {
	t.Helper()
	logger := zap.NewNop()

	ranges := detector.NewRangeDetector(nil)
	iso := detector.NewIsolationDetector(0.05, 42, 30)
	composite := detector.NewComposite(ranges, iso, nil, logger)
	pred := predictor.New(predictor.WithNoise(0))
	policy := alert.NewPolicy(alert.DefaultRiskThreshold, alert.DefaultAnomalyRiskThreshold)
	calculator := risk.NewCalculator()

	pipeline := monitor.NewPipeline(
		history.NewStore(history.DefaultCapacity, alert.DefaultLogSize),
		detector.NewTrainer(0, logger, iso),
		composite,
		pred,
		calculator,
		policy,
		logger,
	)
	svc := monitor.NewService(pipeline, time.Second, []string{"bed-1"}, logger,
		monitor.WithGeneratorFactory(func(string) *generator.Generator {
			return generator.New(generator.WithSeed(7), generator.WithoutTimeOfDay())
		}),
	)
	settings := monitor.NewSettings(pipeline, policy, ranges, composite, pred, logger, monitor.WithMonitor(svc))

	h := NewVitalsHandler(svc, settings, calculator, logger, opts...)
	router := NewRouter(logger)
	router.RegisterVitalsRoutes(h)
	return &testServer{handler: h, router: router.WithCORS(nil), service: svc}
}

func (s *testServer) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeResult[T any](t *testing.T, w *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

const submitBody = `{
  "patient_id": "p1",
  "heart_rate": 75,
  "blood_pressure": {"systolic": 120, "diastolic": 80},
  "respiratory_rate": 16,
  "oxygen_saturation": 98,
  "temperature": 98.6,
  "timestamp": "2024-03-01T10:00:00Z"
}`

func TestStatus_WrapsResult(t *testing.T) {
	s := newTestServer(t,
		WithDetectorStates(func() map[string]string { return map[string]string{"isolation_forest": "untrained"} }),
		WithClientCount(func() int { return 2 }),
	)

	w := s.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"code":2000`)
	assert.Contains(t, body, `"monitoring":false`)
	assert.Contains(t, body, `"connected_clients":2`)
	assert.Contains(t, body, `"isolation_forest":"untrained"`)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodPost, "/api/status", "{}").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodGet, "/api/vitals/submit", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodDelete, "/api/settings", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSimulate_RunsPipeline(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/vitals/simulate?patient_id=bed-9", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[models.TickPayload](t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "bed-9", res.Result.PatientID)
	assert.Equal(t, 1, s.service.Pipeline().Store().Len("bed-9"))
}

func TestSubmit_AppendsAndReturnsPayload(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/vitals/submit", submitBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeResult[models.TickPayload](t, w)
	assert.Equal(t, "p1", res.Result.PatientID)
	assert.Equal(t, 75.0, res.Result.CurrentVitals.HeartRate)
	assert.Len(t, res.Result.CurrentVitals.ECG, models.ECGLength)
	assert.Equal(t, 1, s.service.Pipeline().Store().Len("p1"))
}

func TestSubmit_MissingFieldIs400(t *testing.T) {
	s := newTestServer(t)
	body := `{"patient_id":"p1","heart_rate":75,"blood_pressure":{"systolic":120,"diastolic":80},"respiratory_rate":16,"oxygen_saturation":98}`

	w := s.do(t, http.MethodPost, "/api/vitals/submit", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	res := decodeResult[any](t, w)
	assert.Equal(t, ResultError, res.Code)
	assert.Equal(t, "Missing required field: temperature", res.Message)
	assert.Equal(t, 0, s.service.Pipeline().Store().Len("p1"))
}

func TestSubmit_OutOfDomainValuesAre400(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		message string
	}{
		{"huge heart rate", `"heart_rate": 75`, `"heart_rate": 1e308`, "Invalid field heart_rate: must be within [0, 300]"},
		{"negative systolic", `"systolic": 120`, `"systolic": -5`, "Invalid field blood_pressure_systolic: must be within [0, 300]"},
		{"negative respiratory rate", `"respiratory_rate": 16`, `"respiratory_rate": -1`, "Invalid field respiratory_rate: must be within [0, 100]"},
		{"oxygen above 100", `"oxygen_saturation": 98`, `"oxygen_saturation": 250`, "Invalid field oxygen_saturation: must be within [0, 100]"},
		{"zero temperature", `"temperature": 98.6`, `"temperature": 0`, "Invalid field temperature: must be within [80, 115]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			body := strings.Replace(submitBody, tt.from, tt.to, 1)
			require.NotEqual(t, submitBody, body)

			w := s.do(t, http.MethodPost, "/api/vitals/submit", body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			res := decodeResult[any](t, w)
			assert.Equal(t, ResultError, res.Code)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, 0, s.service.Pipeline().Store().Len("p1"))
		})
	}
}

func TestSubmit_AfterRejectedReadingMonitorKeepsTicking(t *testing.T) {
	s := newTestServer(t)
	huge := strings.Replace(submitBody, `"heart_rate": 75`, `"heart_rate": 1e308`, 1)

	for i := 0; i < 10; i++ {
		_, err := s.service.Simulate(context.Background(), "p1")
		require.NoError(t, err)
	}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/vitals/submit", huge).Code)
	for i := 0; i < 6; i++ {
		payload, err := s.service.Simulate(context.Background(), "p1")
		require.NoError(t, err)
		for _, v := range payload.Predictions.HeartRate {
			assert.LessOrEqual(t, v, 300.0)
		}
	}
	assert.Equal(t, 16, s.service.Pipeline().Store().Len("p1"))
}

func TestSubmit_InvalidBodyAndTimestamp(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/vitals/submit", "{not json").Code)

	bad := strings.Replace(submitBody, "2024-03-01T10:00:00Z", "yesterday", 1)
	w := s.do(t, http.MethodPost, "/api/vitals/submit", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestHistory_SeedsEmptyPatient(t *testing.T) {
	s := newTestServer(t, WithSeedSize(40))

	w := s.do(t, http.MethodGet, "/api/vitals/history?patient_id=new-bed", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[models.HistorySnapshot](t, w)
	assert.Len(t, res.Result.Timestamps, 40)
	assert.Len(t, res.Result.HeartRate, 40)

	// a second call does not seed again
	w = s.do(t, http.MethodGet, "/api/vitals/history?patient_id=new-bed", "")
	res = decodeResult[models.HistorySnapshot](t, w)
	assert.Len(t, res.Result.Timestamps, 40)
}

func TestExportHistory_WritesWorkbook(t *testing.T) {
	s := newTestServer(t, WithSeedSize(12))

	w := s.do(t, http.MethodGet, "/api/vitals/history/export?patient_id=bed-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vitals-history-bed-1.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(historySheetName)
	require.NoError(t, err)
	require.Len(t, rows, 13)
	assert.Equal(t, HistoryExportHeader, rows[0])
	assert.Len(t, rows[1], len(HistoryExportHeader))
}

func TestRiskHistory_OnePointPerEntry(t *testing.T) {
	s := newTestServer(t, WithSeedSize(25))

	w := s.do(t, http.MethodGet, "/api/risk-history?patient_id=bed-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[[]models.RiskPoint](t, w)
	require.Len(t, res.Result, 25)

	snap := s.service.Pipeline().Store().Snapshot("bed-1")
	calc := risk.NewCalculator()
	for i, p := range res.Result {
		assert.Equal(t, snap.Timestamps[i], p.Timestamp)
		assert.Equal(t, calc.CurrentVitalsScore(snap.At(i)), p.RiskScore)
		assert.GreaterOrEqual(t, p.RiskScore, 0.0)
		assert.LessOrEqual(t, p.RiskScore, 1.0)
	}
}

func TestAlerts_LiveLogAndArchive(t *testing.T) {
	archive := &fakeArchive{alerts: []*models.Alert{{ID: "a1", PatientID: "p1"}, {ID: "a2", PatientID: "p2"}}}
	s := newTestServer(t, WithAlertArchive(archive))

	low := strings.Replace(submitBody, `"oxygen_saturation": 98`, `"oxygen_saturation": 80`, 1)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/vitals/submit", low).Code)

	w := s.do(t, http.MethodGet, "/api/vitals/alerts?patient_id=p1", "")
	res := decodeResult[[]models.Alert](t, w)
	require.Len(t, res.Result, 1)
	assert.Contains(t, res.Result[0].RiskFactors, "Low oxygen saturation: 80%")

	w = s.do(t, http.MethodGet, "/api/vitals/alerts?patient_id=p1&source=archive&page=0&size=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"a1"`)
	assert.NotContains(t, w.Body.String(), `"id":"a2"`)
	assert.Equal(t, 1, archive.page)
	assert.Equal(t, 20, archive.size)
}

func TestAlerts_ArchiveNotConfigured(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/vitals/alerts?patient_id=p1&source=archive", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSettings_GetAndUpdate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/settings", "")
	res := decodeResult[models.Settings](t, w)
	assert.Equal(t, models.DefaultSettings(), res.Result)

	w = s.do(t, http.MethodPost, "/api/settings", `{"alertPolicy":{"riskThreshold":2}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/settings", `{"alertPolicy":{"riskThreshold":0.3,"anomalyRiskThreshold":0.1},"displaySettings":{"showPredictions":false}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decodeResult[models.Settings](t, w)
	assert.Equal(t, 0.3, res.Result.AlertPolicy.RiskThreshold)
	assert.False(t, res.Result.DisplaySettings.ShowPredictions)
	// untouched sections keep their values
	assert.Equal(t, 60.0, res.Result.AlertThresholds.HeartRate.Min)

	w = s.do(t, http.MethodGet, "/api/vitals/simulate?patient_id=bed-1", "")
	assert.Contains(t, w.Body.String(), `"predictions":null`)

	w = s.do(t, http.MethodPost, "/api/settings", `{"alertThresholds":{"heartRate":{"min":100,"max":60}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, time.Second, s.service.Interval())
	w = s.do(t, http.MethodPost, "/api/settings", `{"displaySettings":{"updateFrequency":7}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 7*time.Second, s.service.Interval())
}

func TestPatientSummary(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/patient/summary", "").Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/vitals/submit", submitBody).Code)
	second := strings.Replace(submitBody, `"heart_rate": 75`, `"heart_rate": 85`, 1)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/vitals/submit", second).Code)

	w := s.do(t, http.MethodGet, "/api/patient/summary?patient_id=p1", "")
	res := decodeResult[PatientSummary](t, w)
	assert.Equal(t, 2, res.Result.DataPoints)
	require.NotNil(t, res.Result.LatestVitals)
	assert.Equal(t, 85.0, res.Result.LatestVitals.HeartRate)
	assert.Equal(t, SignalStats{Min: 75, Max: 85, Mean: 80}, res.Result.Statistics[models.SignalHeartRate])
	assert.Equal(t, 0, res.Result.AlertCount)
}

func TestTrendAnalysis(t *testing.T) {
	s := newTestServer(t)
	for i, hr := range []string{"70", "80", "90"} {
		ts := time.Date(2024, 3, 1, 10, 30*i, 0, 0, time.UTC).Format(time.RFC3339)
		body := strings.Replace(submitBody, `"heart_rate": 75`, `"heart_rate": `+hr, 1)
		body = strings.Replace(body, "2024-03-01T10:00:00Z", ts, 1)
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/vitals/submit", body).Code)
	}

	w := s.do(t, http.MethodGet, "/api/trend-analysis?patient_id=p1&parameter=heart_rate&window=PT2H", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeResult[TrendAnalysis](t, w)
	assert.Equal(t, 3, res.Result.DataPoints)
	assert.InDelta(t, 20.0, res.Result.SlopePerHour, 1e-9)
	assert.Equal(t, DirectionIncreasing, res.Result.Direction)
	assert.Equal(t, 80.0, res.Result.Mean)
	assert.Equal(t, 20.0, res.Result.TotalChange)

	// a 45 minute window keeps the last two points
	w = s.do(t, http.MethodGet, "/api/trend-analysis?patient_id=p1&parameter=heart_rate&window=45m", "")
	res = decodeResult[TrendAnalysis](t, w)
	assert.Equal(t, 2, res.Result.DataPoints)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/trend-analysis?patient_id=p1", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/trend-analysis?patient_id=p1&parameter=mood", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/trend-analysis?patient_id=p1&parameter=heart_rate&window=soon", "").Code)
}

func TestAnalyzeTrend_StableAndEmpty(t *testing.T) {
	h := models.NewHistorySnapshot(3)
	for i := 0; i < 3; i++ {
		r := models.VitalReading{HeartRate: 72, Temperature: 98.6}
		h.Append(time.Date(2024, 3, 1, 10, i, 0, 0, time.Local).Format(models.TimestampLayout), &r, nil)
	}
	out, err := analyzeTrend("p", models.SignalHeartRate, time.Hour, h)
	require.NoError(t, err)
	assert.Equal(t, DirectionStable, out.Direction)
	assert.Equal(t, 0.0, out.SlopePerHour)

	out, err = analyzeTrend("p", models.SignalHeartRate, time.Hour, models.NewHistorySnapshot(0))
	require.NoError(t, err)
	assert.Equal(t, 0, out.DataPoints)
}
