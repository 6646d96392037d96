package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-medication/internal/domain"

	"owl-common/database"

	"github.com/google/uuid"
)

// workflowRecordColumns 查询列（顺序与 scanWorkflowRecord 一致）
const workflowRecordColumns = `
			record_id::text,
			prescription_id::text,
			patient_id::text,
			scheduled_date::text,
			scheduled_time,
			preparation_status,
			preparation_staff_id,
			preparation_at,
			verification_status,
			verification_staff_id,
			verification_at,
			dispensing_status,
			dispensing_staff_id,
			dispensing_at,
			failure_reason,
			custom_failure_reason,
			inspection_check_result::text,
			injection_site,
			notes,
			created_at,
			updated_at`

// PostgresWorkflowRecordsRepository 给药流程记录Repository实现
type PostgresWorkflowRecordsRepository struct {
	db *sql.DB
}

// NewPostgresWorkflowRecordsRepository 创建给药流程记录Repository
func NewPostgresWorkflowRecordsRepository(db *sql.DB) *PostgresWorkflowRecordsRepository {
	return &PostgresWorkflowRecordsRepository{db: db}
}

// 确保实现了接口
var _ WorkflowRecordsRepository = (*PostgresWorkflowRecordsRepository)(nil)

// CreateRecord 幂等创建（ON CONFLICT DO NOTHING）
func (r *PostgresWorkflowRecordsRepository) CreateRecord(ctx context.Context, record *domain.WorkflowRecord) (bool, error) {
	if record == nil || record.PrescriptionID == "" || record.PatientID == "" {
		return false, fmt.Errorf("prescription_id and patient_id are required")
	}
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	inspection, err := marshalInspection(record.Dispensing.InspectionCheckResult)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO medication_workflow_records (
			record_id, prescription_id, patient_id, scheduled_date, scheduled_time,
			preparation_status, preparation_staff_id, preparation_at,
			verification_status, verification_staff_id, verification_at,
			dispensing_status, dispensing_staff_id, dispensing_at,
			failure_reason, custom_failure_reason, inspection_check_result,
			injection_site, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21
		)
		ON CONFLICT (prescription_id, scheduled_date, scheduled_time) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		record.PrescriptionID,
		record.PatientID,
		record.ScheduledDate,
		record.ScheduledTime,
		string(record.Preparation.Status),
		nullString(record.Preparation.StaffID),
		nullTime(record.Preparation.Timestamp),
		string(record.Verification.Status),
		nullString(record.Verification.StaffID),
		nullTime(record.Verification.Timestamp),
		string(record.Dispensing.Status),
		nullString(record.Dispensing.StaffID),
		nullTime(record.Dispensing.Timestamp),
		nullString(string(record.Dispensing.FailureReason)),
		nullString(record.Dispensing.CustomFailureReason),
		inspection,
		nullString(record.Dispensing.InjectionSite),
		nullString(record.Dispensing.Notes),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, fmt.Errorf("failed to create workflow record: %w", domain.ErrDuplicateKey)
		}
		return false, fmt.Errorf("failed to create workflow record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetRecord 获取给药流程记录
func (r *PostgresWorkflowRecordsRepository) GetRecord(ctx context.Context, recordID string) (*domain.WorkflowRecord, error) {
	if recordID == "" {
		return nil, domain.ErrRecordNotFound
	}

	query := `SELECT ` + workflowRecordColumns + `
		FROM medication_workflow_records
		WHERE record_id = $1
	`

	record, err := scanWorkflowRecord(r.db.QueryRowContext(ctx, query, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow record %s: %w", recordID, domain.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow record: %w", err)
	}
	return record, nil
}

// ListRecords 范围查询（按计划日期、时间排序）
func (r *PostgresWorkflowRecordsRepository) ListRecords(ctx context.Context, filters *RecordFilters) ([]*domain.WorkflowRecord, error) {
	where := []string{"1 = 1"}
	args := []any{}
	argN := 1

	if filters != nil {
		if filters.PatientID != "" {
			where = append(where, fmt.Sprintf("patient_id = $%d", argN))
			args = append(args, filters.PatientID)
			argN++
		}
		if filters.PrescriptionID != "" {
			where = append(where, fmt.Sprintf("prescription_id = $%d", argN))
			args = append(args, filters.PrescriptionID)
			argN++
		}
		if filters.DateRange != nil {
			where = append(where, fmt.Sprintf("scheduled_date BETWEEN $%d AND $%d", argN, argN+1))
			args = append(args, filters.DateRange.Start, filters.DateRange.End)
			argN += 2
		}
	}

	query := `SELECT ` + workflowRecordColumns + `
		FROM medication_workflow_records
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY scheduled_date, scheduled_time, record_id
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}
	defer rows.Close()

	records := []*domain.WorkflowRecord{}
	for rows.Next() {
		record, err := scanWorkflowRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow records: %w", err)
	}
	return records, nil
}

// ExistingKeys 处方在日期范围内已存在的唯一键
func (r *PostgresWorkflowRecordsRepository) ExistingKeys(ctx context.Context, prescriptionID string, dates domain.DateRange) (map[domain.RecordKey]bool, error) {
	query := `
		SELECT scheduled_date::text, scheduled_time
		FROM medication_workflow_records
		WHERE prescription_id = $1 AND scheduled_date BETWEEN $2 AND $3
	`

	rows, err := r.db.QueryContext(ctx, query, prescriptionID, dates.Start, dates.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing keys: %w", err)
	}
	defer rows.Close()

	keys := map[domain.RecordKey]bool{}
	for rows.Next() {
		key := domain.RecordKey{PrescriptionID: prescriptionID}
		if err := rows.Scan(&key.ScheduledDate, &key.ScheduledTime); err != nil {
			return nil, fmt.Errorf("failed to scan existing key: %w", err)
		}
		keys[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate existing keys: %w", err)
	}
	return keys, nil
}

// UpdateRecord 更新三步状态（单条语句，单条记录原子）
// 以读取时的 updated_at 作为条件，避免并发写覆盖
func (r *PostgresWorkflowRecordsRepository) UpdateRecord(ctx context.Context, record *domain.WorkflowRecord, expected time.Time) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	inspection, err := marshalInspection(record.Dispensing.InspectionCheckResult)
	if err != nil {
		return err
	}

	query := `
		UPDATE medication_workflow_records
		SET preparation_status = $2,
			preparation_staff_id = $3,
			preparation_at = $4,
			verification_status = $5,
			verification_staff_id = $6,
			verification_at = $7,
			dispensing_status = $8,
			dispensing_staff_id = $9,
			dispensing_at = $10,
			failure_reason = $11,
			custom_failure_reason = $12,
			inspection_check_result = $13,
			injection_site = $14,
			notes = $15,
			updated_at = $16
		WHERE record_id = $1
		  AND ($17::timestamptz IS NULL OR updated_at = $17)
	`

	result, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		string(record.Preparation.Status),
		nullString(record.Preparation.StaffID),
		nullTime(record.Preparation.Timestamp),
		string(record.Verification.Status),
		nullString(record.Verification.StaffID),
		nullTime(record.Verification.Timestamp),
		string(record.Dispensing.Status),
		nullString(record.Dispensing.StaffID),
		nullTime(record.Dispensing.Timestamp),
		nullString(string(record.Dispensing.FailureReason)),
		nullString(record.Dispensing.CustomFailureReason),
		inspection,
		nullString(record.Dispensing.InjectionSite),
		nullString(record.Dispensing.Notes),
		record.UpdatedAt,
		expectedArg(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return r.missOrStale(ctx, record.RecordID)
	}
	return nil
}

// missOrStale 条件更新未命中时区分记录不存在与已被并发修改
func (r *PostgresWorkflowRecordsRepository) missOrStale(ctx context.Context, recordID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM medication_workflow_records WHERE record_id = $1)`, recordID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check workflow record: %w", err)
	}
	if exists {
		return fmt.Errorf("workflow record %s: %w", recordID, domain.ErrStaleRecord)
	}
	return fmt.Errorf("workflow record %s: %w", recordID, domain.ErrRecordNotFound)
}

func expectedArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// DeleteRecord 删除记录
func (r *PostgresWorkflowRecordsRepository) DeleteRecord(ctx context.Context, recordID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM medication_workflow_records WHERE record_id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workflow record %s: %w", recordID, domain.ErrRecordNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflowRecord(s rowScanner) (*domain.WorkflowRecord, error) {
	var rec domain.WorkflowRecord
	var (
		prepStatus, verifStatus, dispStatus     string
		prepStaff, verifStaff, dispStaff        sql.NullString
		prepAt, verifAt, dispAt                 sql.NullTime
		failureReason, customReason, inspection sql.NullString
		injectionSite, notes                    sql.NullString
	)

	if err := s.Scan(
		&rec.RecordID,
		&rec.PrescriptionID,
		&rec.PatientID,
		&rec.ScheduledDate,
		&rec.ScheduledTime,
		&prepStatus,
		&prepStaff,
		&prepAt,
		&verifStatus,
		&verifStaff,
		&verifAt,
		&dispStatus,
		&dispStaff,
		&dispAt,
		&failureReason,
		&customReason,
		&inspection,
		&injectionSite,
		&notes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Preparation = domain.StepState{Status: domain.StepStatus(prepStatus), StaffID: prepStaff.String, Timestamp: timePtr(prepAt)}
	rec.Verification = domain.StepState{Status: domain.StepStatus(verifStatus), StaffID: verifStaff.String, Timestamp: timePtr(verifAt)}
	rec.Dispensing.StepState = domain.StepState{Status: domain.StepStatus(dispStatus), StaffID: dispStaff.String, Timestamp: timePtr(dispAt)}
	rec.Dispensing.FailureReason = domain.FailureReasonCode(failureReason.String)
	rec.Dispensing.CustomFailureReason = customReason.String
	rec.Dispensing.InjectionSite = injectionSite.String
	rec.Dispensing.Notes = notes.String

	if inspection.Valid && inspection.String != "" && inspection.String != "null" {
		var result domain.InspectionCheckResult
		if err := json.Unmarshal([]byte(inspection.String), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inspection_check_result: %w", err)
		}
		rec.Dispensing.InspectionCheckResult = &result
	}

	return &rec, nil
}

func marshalInspection(result *domain.InspectionCheckResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inspection_check_result: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
