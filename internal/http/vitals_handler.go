package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/config"
	"owl-vitals/internal/history"
	"owl-vitals/internal/models"
	"owl-vitals/internal/monitor"
	"owl-vitals/internal/repository"
	"owl-vitals/internal/risk"
)

// DefaultPatientID used when a request names no patient and nothing is monitored
const DefaultPatientID = "demo_patient"

const defaultTrendWindow = "PT1H"

// AlertArchive persisted alert history
type AlertArchive interface {
	ListAlertEvents(ctx context.Context, patientID string, filters repository.AlertEventFilters, page, size int) ([]*models.Alert, int, error)
}

// VitalsHandler serves the monitoring API
type VitalsHandler struct {
	service    *monitor.Service
	settings   *monitor.Settings
	calculator *risk.Calculator
	logger     *zap.Logger

	archive        AlertArchive
	detectorStates func() map[string]string
	clientCount    func() int
	seedSize       int
	now            func() time.Time
}

// VitalsHandlerOption configures a VitalsHandler
type VitalsHandlerOption func(*VitalsHandler)

// WithAlertArchive serves ?source=archive from the persisted alert table.
func WithAlertArchive(a AlertArchive) VitalsHandlerOption {
	return func(h *VitalsHandler) { h.archive = a }
}

// WithDetectorStates reports detector training states on /api/status.
func WithDetectorStates(fn func() map[string]string) VitalsHandlerOption {
	return func(h *VitalsHandler) { h.detectorStates = fn }
}

// WithClientCount reports connected push clients on /api/status.
func WithClientCount(fn func() int) VitalsHandlerOption {
	return func(h *VitalsHandler) { h.clientCount = fn }
}

// WithSeedSize sets how many synthetic points an empty history is seeded with.
func WithSeedSize(n int) VitalsHandlerOption {
	return func(h *VitalsHandler) { h.seedSize = n }
}

func NewVitalsHandler(service *monitor.Service, settings *monitor.Settings, calculator *risk.Calculator, logger *zap.Logger, opts ...VitalsHandlerOption) *VitalsHandler {
	h := &VitalsHandler{
		service:    service,
		settings:   settings,
		calculator: calculator,
		logger:     logger,
		seedSize:   history.DefaultCapacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *VitalsHandler) store() *history.Store { return h.service.Pipeline().Store() }

func (h *VitalsHandler) patientID(r *http.Request) string {
	if patients := h.service.Patients(); len(patients) > 0 {
		return patientID(r, patients[0])
	}
	return patientID(r, DefaultPatientID)
}

// snapshot returns the patient's history, seeding an empty one first.
func (h *VitalsHandler) snapshot(id string) *models.HistorySnapshot {
	if h.service.SeedHistory(id, h.seedSize) {
		h.logger.Info("Seeded empty history",
			zap.String("patient_id", id),
			zap.Int("points", h.seedSize),
		)
	}
	return h.store().Snapshot(id)
}

// riskScores current-vitals score of every history entry
func (h *VitalsHandler) riskScores(snap *models.HistorySnapshot) []float64 {
	scores := make([]float64, snap.Len())
	for i := range scores {
		scores[i] = h.calculator.CurrentVitalsScore(snap.At(i))
	}
	return scores
}

// GET /api/status
func (h *VitalsHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"monitoring": h.service.Running(),
		"interval":   h.service.Interval().String(),
		"patients":   h.service.Patients(),
		"timestamp":  h.now().Format(models.TimestampLayout),
	}
	if h.detectorStates != nil {
		resp["detectors"] = h.detectorStates()
	}
	if h.clientCount != nil {
		resp["connected_clients"] = h.clientCount()
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// GET /api/vitals/simulate?patient_id=
func (h *VitalsHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	id := h.patientID(r)
	payload, err := h.service.Simulate(r.Context(), id)
	if err != nil {
		h.logger.Error("Simulate failed", zap.String("patient_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to simulate vitals: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(payload))
}

// POST /api/vitals/submit
// body: VitalSubmission; patient_id falls back to ?patient_id=
func (h *VitalsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub models.VitalSubmission
	if err := readBodyJSON(r, maxBodyBytes, &sub); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if sub.PatientID == "" {
		sub.PatientID = h.patientID(r)
	}

	ts, err := sub.Time(h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	reading, err := sub.ToReading(ts)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	payload, err := h.service.Pipeline().Process(r.Context(), sub.PatientID, reading)
	if err != nil {
		h.logger.Error("Submit failed", zap.String("patient_id", sub.PatientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to process vitals: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(payload))
}

// GET /api/vitals/history?patient_id=
func (h *VitalsHandler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.snapshot(h.patientID(r))))
}

// GET /api/vitals/history/export?patient_id=
func (h *VitalsHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	id := h.patientID(r)
	snap := h.snapshot(id)

	data, err := GenerateHistoryExport(snap, h.riskScores(snap))
	if err != nil {
		h.logger.Error("Failed to generate history export", zap.String("patient_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=vitals-history-%s.xlsx", id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GET /api/vitals/alerts?patient_id=
// source=archive&page=&size= reads the persisted archive instead of the live log
func (h *VitalsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	id := h.patientID(r)
	q := r.URL.Query()

	if q.Get("source") != "archive" {
		writeJSON(w, http.StatusOK, Ok(h.store().Alerts(id)))
		return
	}
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("alert archive not configured"))
		return
	}

	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	items, total, err := h.archive.ListAlertEvents(r.Context(), id, repository.AlertEventFilters{}, page, size)
	if err != nil {
		h.logger.Error("Failed to list archived alerts", zap.String("patient_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to list alerts: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	}))
}

// GET /api/risk-history?patient_id=
func (h *VitalsHandler) RiskHistory(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(h.patientID(r))
	scores := h.riskScores(snap)
	points := make([]models.RiskPoint, len(scores))
	for i, s := range scores {
		points[i] = models.RiskPoint{Timestamp: snap.Timestamps[i], RiskScore: s}
	}
	writeJSON(w, http.StatusOK, Ok(points))
}

// GET /api/settings
func (h *VitalsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.settings.Get()))
}

// POST /api/settings
func (h *VitalsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := h.settings.Get()
	if err := readBodyJSON(r, maxBodyBytes, &next); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if err := h.settings.Apply(next); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.settings.Get()))
}

// GET /api/patient/summary?patient_id=
func (h *VitalsHandler) PatientSummary(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("patient_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, Fail("patient_id is required"))
		return
	}

	snap := h.store().Snapshot(id)
	var latest *models.VitalReading
	if reading, ok := h.store().Latest(id); ok {
		latest = &reading
	}
	writeJSON(w, http.StatusOK, Ok(summarize(id, snap, latest, len(h.store().Alerts(id)))))
}

// GET /api/trend-analysis?patient_id=&parameter=&window=
func (h *VitalsHandler) TrendAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("patient_id")
	parameter := q.Get("parameter")
	if id == "" || parameter == "" {
		writeJSON(w, http.StatusBadRequest, Fail("patient_id and parameter are required"))
		return
	}

	raw := q.Get("window")
	if raw == "" {
		raw = defaultTrendWindow
	}
	window, err := config.ParseDuration(raw)
	if err != nil || window <= 0 {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("invalid window %q", raw)))
		return
	}

	result, err := analyzeTrend(id, parameter, window, h.store().Snapshot(id))
	if errors.Is(err, errUnknownParameter) {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}
