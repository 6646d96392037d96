package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-medication/internal/domain"
)

// PostgresHospitalizationRepository 住院/请假事件Repository实现（只读）
type PostgresHospitalizationRepository struct {
	db *sql.DB
}

// NewPostgresHospitalizationRepository 创建住院/请假事件Repository
func NewPostgresHospitalizationRepository(db *sql.DB) *PostgresHospitalizationRepository {
	return &PostgresHospitalizationRepository{db: db}
}

var _ HospitalizationRepository = (*PostgresHospitalizationRepository)(nil)

// ListEvents 查询住户全部事件（按时间排序）
func (r *PostgresHospitalizationRepository) ListEvents(ctx context.Context, patientID string) ([]domain.HospitalizationEvent, error) {
	query := `
		SELECT
			event_id::text,
			patient_id::text,
			event_type,
			event_date::text,
			event_time
		FROM hospitalization_events
		WHERE patient_id = $1
		ORDER BY event_date, event_time
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hospitalization events: %w", err)
	}
	defer rows.Close()

	out := []domain.HospitalizationEvent{}
	for rows.Next() {
		var e domain.HospitalizationEvent
		var eventType string
		if err := rows.Scan(&e.EventID, &e.PatientID, &eventType, &e.Date, &e.Time); err != nil {
			return nil, fmt.Errorf("failed to scan hospitalization event: %w", err)
		}
		e.Type = domain.HospitalizationEventType(eventType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hospitalization events: %w", err)
	}
	return out, nil
}
