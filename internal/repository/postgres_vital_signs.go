package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-medication/internal/domain"
)

// PostgresVitalSignsRepository 生命体征Repository实现（只读）
type PostgresVitalSignsRepository struct {
	db *sql.DB
}

// NewPostgresVitalSignsRepository 创建生命体征Repository
func NewPostgresVitalSignsRepository(db *sql.DB) *PostgresVitalSignsRepository {
	return &PostgresVitalSignsRepository{db: db}
}

var _ VitalSignsRepository = (*PostgresVitalSignsRepository)(nil)

// ListVitalSigns 查询日期范围内某类型的生命体征
func (r *PostgresVitalSignsRepository) ListVitalSigns(ctx context.Context, patientID, vitalType string, dates domain.DateRange) ([]domain.VitalSignRecord, error) {
	query := `
		SELECT
			record_id::text,
			patient_id::text,
			vital_type,
			value,
			recorded_date::text,
			recorded_time
		FROM vital_sign_records
		WHERE patient_id = $1
			AND vital_type = $2
			AND recorded_date BETWEEN $3 AND $4
		ORDER BY recorded_date, recorded_time
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, vitalType, dates.Start, dates.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list vital signs: %w", err)
	}
	defer rows.Close()

	out := []domain.VitalSignRecord{}
	for rows.Next() {
		var v domain.VitalSignRecord
		if err := rows.Scan(&v.RecordID, &v.PatientID, &v.Type, &v.Value, &v.RecordedDate, &v.RecordedTime); err != nil {
			return nil, fmt.Errorf("failed to scan vital sign: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vital signs: %w", err)
	}
	return out, nil
}
