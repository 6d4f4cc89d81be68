package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// ErrAlertNotFound no alert_events row for the id
var ErrAlertNotFound = errors.New("alert event not found")

// AlertEventsSchema DDL for the alert archive
const AlertEventsSchema = `
	CREATE TABLE IF NOT EXISTS alert_events (
		alert_id     TEXT PRIMARY KEY,
		patient_id   TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		risk_score   DOUBLE PRECISION NOT NULL,
		message      TEXT NOT NULL,
		risk_factors JSONB NOT NULL DEFAULT '[]',
		vitals       JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_alert_events_patient_time ON alert_events (patient_id, triggered_at DESC);
`

// AlertEventsRepository archive of fired alerts
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository creates the repository
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertEventFilters list filters; nil fields are ignored
type AlertEventFilters struct {
	StartTime    *time.Time // triggered_at >= StartTime
	EndTime      *time.Time // triggered_at <= EndTime
	MinRiskScore *float64
}

// EnsureSchema creates the table when missing.
func (r *AlertEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, AlertEventsSchema); err != nil {
		return fmt.Errorf("failed to create alert_events schema: %w", err)
	}
	return nil
}

// CreateAlertEvent inserts an alert. Re-inserting the same id is a no-op, so stream
// redelivery is safe.
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, a *models.Alert) error {
	if a == nil {
		return fmt.Errorf("alert is required")
	}
	if a.ID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if a.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}

	triggeredAt, err := time.ParseInLocation(models.TimestampLayout, a.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("invalid alert timestamp %q: %w", a.Timestamp, err)
	}
	factors, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	vitals, err := json.Marshal(a.Vitals)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals: %w", err)
	}

	query := `
		INSERT INTO alert_events (
			alert_id,
			patient_id,
			triggered_at,
			risk_score,
			message,
			risk_factors,
			vitals
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.PatientID,
		triggeredAt,
		a.RiskScore,
		a.Message,
		factors,
		vitals,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// GetAlertEvent returns one alert by id.
func (r *AlertEventsRepository) GetAlertEvent(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			alert_id,
			patient_id,
			triggered_at,
			risk_score,
			message,
			risk_factors,
			vitals
		FROM alert_events
		WHERE alert_id = $1
	`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}
	return a, nil
}

// ListAlertEvents returns a page of a patient's alerts, newest first, plus the total count.
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, patientID string, filters AlertEventFilters, page, size int) ([]*models.Alert, int, error) {
	if patientID == "" {
		return []*models.Alert{}, 0, nil
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	args := []interface{}{patientID}
	where := []string{"patient_id = $1"}
	if filters.StartTime != nil {
		args = append(args, *filters.StartTime)
		where = append(where, fmt.Sprintf("triggered_at >= $%d", len(args)))
	}
	if filters.EndTime != nil {
		args = append(args, *filters.EndTime)
		where = append(where, fmt.Sprintf("triggered_at <= $%d", len(args)))
	}
	if filters.MinRiskScore != nil {
		args = append(args, *filters.MinRiskScore)
		where = append(where, fmt.Sprintf("risk_score >= $%d", len(args)))
	}
	whereClause := "WHERE " + strings.Join(where, " AND ")

	var total int
	queryCount := fmt.Sprintf(`SELECT COUNT(*) FROM alert_events %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alert events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT
			alert_id,
			patient_id,
			triggered_at,
			risk_score,
			message,
			risk_factors,
			vitals
		FROM alert_events
		%s
		ORDER BY triggered_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert event: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return alerts, total, nil
}

// PurgeBefore deletes alerts triggered before t and returns the number removed.
func (r *AlertEventsRepository) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_events WHERE triggered_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to purge alert events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	r.logger.Info("Purged alert events", zap.Time("before", t), zap.Int64("count", n))
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a           models.Alert
		triggeredAt time.Time
		factors     []byte
		vitals      []byte
	)
	if err := row.Scan(&a.ID, &a.PatientID, &triggeredAt, &a.RiskScore, &a.Message, &factors, &vitals); err != nil {
		return nil, err
	}
	a.Timestamp = triggeredAt.In(time.Local).Format(models.TimestampLayout)

	a.RiskFactors = []string{}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &a.RiskFactors); err != nil {
			return nil, fmt.Errorf("invalid risk_factors: %w", err)
		}
	}
	if len(vitals) > 0 {
		if err := json.Unmarshal(vitals, &a.Vitals); err != nil {
			return nil, fmt.Errorf("invalid vitals: %w", err)
		}
	}
	return &a, nil
}
