package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wisefido-medication/internal/domain"

	"github.com/lib/pq"
)

const prescriptionColumns = `
			prescription_id::text,
			patient_id::text,
			medication_name,
			frequency_type,
			COALESCE(frequency_value, 1),
			specific_weekdays,
			odd_even_flag,
			start_date::text,
			end_date::text,
			status,
			time_slots,
			preparation_method,
			administration_route,
			inspection_rules::text,
			dosage,
			dosage_unit,
			updated_at`

// PostgresPrescriptionsRepository 处方Repository实现（只读）
type PostgresPrescriptionsRepository struct {
	db *sql.DB
}

// NewPostgresPrescriptionsRepository 创建处方Repository
func NewPostgresPrescriptionsRepository(db *sql.DB) *PostgresPrescriptionsRepository {
	return &PostgresPrescriptionsRepository{db: db}
}

var _ PrescriptionsRepository = (*PostgresPrescriptionsRepository)(nil)

// GetPrescription 获取处方
func (r *PostgresPrescriptionsRepository) GetPrescription(ctx context.Context, prescriptionID string) (*domain.Prescription, error) {
	if prescriptionID == "" {
		return nil, domain.ErrPrescriptionNotFound
	}

	query := `SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE prescription_id = $1
	`

	p, err := scanPrescription(r.db.QueryRowContext(ctx, query, prescriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("prescription %s: %w", prescriptionID, domain.ErrPrescriptionNotFound)
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return p, nil
}

// ListPrescriptions 按范围查询处方
func (r *PostgresPrescriptionsRepository) ListPrescriptions(ctx context.Context, scope PrescriptionScope) ([]*domain.Prescription, error) {
	where := []string{"1 = 1"}
	args := []any{}
	argN := 1

	if scope.PrescriptionID != "" {
		where = append(where, fmt.Sprintf("prescription_id = $%d", argN))
		args = append(args, scope.PrescriptionID)
		argN++
	}
	if scope.PatientID != "" {
		where = append(where, fmt.Sprintf("patient_id = $%d", argN))
		args = append(args, scope.PatientID)
		argN++
	}
	if scope.ActiveOnly {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, string(domain.PrescriptionActive))
	}

	query := `SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY patient_id, prescription_id
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	defer rows.Close()

	out := []*domain.Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescriptions: %w", err)
	}
	return out, nil
}

func scanPrescription(s rowScanner) (*domain.Prescription, error) {
	var p domain.Prescription
	var (
		frequencyType, status, prepMethod string
		weekdays                          pq.Int64Array
		timeSlots                         pq.StringArray
		oddEven, endDate, route           sql.NullString
		rules, dosage, dosageUnit         sql.NullString
	)

	if err := s.Scan(
		&p.PrescriptionID,
		&p.PatientID,
		&p.MedicationName,
		&frequencyType,
		&p.FrequencyValue,
		&weekdays,
		&oddEven,
		&p.StartDate,
		&endDate,
		&status,
		&timeSlots,
		&prepMethod,
		&route,
		&rules,
		&dosage,
		&dosageUnit,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.FrequencyType = domain.FrequencyType(frequencyType)
	p.Status = domain.PrescriptionStatus(status)
	p.PreparationMethod = domain.PreparationMethod(prepMethod)
	p.OddEvenFlag = oddEven.String
	p.EndDate = endDate.String
	p.AdministrationRoute = route.String
	p.Dosage = dosage.String
	p.DosageUnit = dosageUnit.String
	p.TimeSlots = []string(timeSlots)
	for _, d := range weekdays {
		p.SpecificWeekdays = append(p.SpecificWeekdays, int(d))
	}

	if rules.Valid && rules.String != "" && rules.String != "null" {
		if err := json.Unmarshal([]byte(rules.String), &p.InspectionRules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inspection_rules: %w", err)
		}
	}

	return &p, nil
}
