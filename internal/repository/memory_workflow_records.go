package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-medication/internal/domain"

	"github.com/google/uuid"
)

// MemoryWorkflowRecordsRepo: DB 未启用时的内存实现（联测 / 单元测试）
// - 与 Postgres 一致：按唯一键幂等创建
// - 读写均返回拷贝，调用方修改不影响存储
type MemoryWorkflowRecordsRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.WorkflowRecord // recordID -> record
	keys    map[domain.RecordKey]string       // key -> recordID
}

func NewMemoryWorkflowRecordsRepo() *MemoryWorkflowRecordsRepo {
	return &MemoryWorkflowRecordsRepo{
		records: map[string]*domain.WorkflowRecord{},
		keys:    map[domain.RecordKey]string{},
	}
}

var _ WorkflowRecordsRepository = (*MemoryWorkflowRecordsRepo)(nil)

func (r *MemoryWorkflowRecordsRepo) CreateRecord(_ context.Context, record *domain.WorkflowRecord) (bool, error) {
	if record == nil || record.PrescriptionID == "" || record.PatientID == "" {
		return false, fmt.Errorf("prescription_id and patient_id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[record.Key()]; ok {
		return false, nil
	}
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	if _, ok := r.records[record.RecordID]; ok {
		return false, fmt.Errorf("failed to create workflow record: %w", domain.ErrDuplicateKey)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	r.records[record.RecordID] = record.Clone()
	r.keys[record.Key()] = record.RecordID
	return true, nil
}

func (r *MemoryWorkflowRecordsRepo) GetRecord(_ context.Context, recordID string) (*domain.WorkflowRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[recordID]
	if !ok {
		return nil, fmt.Errorf("workflow record %s: %w", recordID, domain.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

func (r *MemoryWorkflowRecordsRepo) ListRecords(_ context.Context, filters *RecordFilters) ([]*domain.WorkflowRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.WorkflowRecord{}
	for _, rec := range r.records {
		if filters != nil {
			if filters.PatientID != "" && rec.PatientID != filters.PatientID {
				continue
			}
			if filters.PrescriptionID != "" && rec.PrescriptionID != filters.PrescriptionID {
				continue
			}
			if filters.DateRange != nil && !filters.DateRange.Contains(rec.ScheduledDate) {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (r *MemoryWorkflowRecordsRepo) ExistingKeys(_ context.Context, prescriptionID string, dates domain.DateRange) (map[domain.RecordKey]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := map[domain.RecordKey]bool{}
	for key := range r.keys {
		if key.PrescriptionID == prescriptionID && dates.Contains(key.ScheduledDate) {
			keys[key] = true
		}
	}
	return keys, nil
}

func (r *MemoryWorkflowRecordsRepo) UpdateRecord(_ context.Context, record *domain.WorkflowRecord, expected time.Time) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[record.RecordID]
	if !ok {
		return fmt.Errorf("workflow record %s: %w", record.RecordID, domain.ErrRecordNotFound)
	}
	if !expected.IsZero() && !existing.UpdatedAt.Equal(expected) {
		return fmt.Errorf("workflow record %s: %w", record.RecordID, domain.ErrStaleRecord)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	// 唯一键与归属字段不可通过更新修改
	updated := record.Clone()
	updated.PrescriptionID = existing.PrescriptionID
	updated.PatientID = existing.PatientID
	updated.ScheduledDate = existing.ScheduledDate
	updated.ScheduledTime = existing.ScheduledTime
	updated.CreatedAt = existing.CreatedAt
	r.records[record.RecordID] = updated
	return nil
}

func (r *MemoryWorkflowRecordsRepo) DeleteRecord(_ context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[recordID]
	if !ok {
		return fmt.Errorf("workflow record %s: %w", recordID, domain.ErrRecordNotFound)
	}
	delete(r.records, recordID)
	if r.keys[rec.Key()] == recordID {
		delete(r.keys, rec.Key())
	}
	return nil
}

func sortRecords(records []*domain.WorkflowRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.ScheduledDate != b.ScheduledDate {
			return a.ScheduledDate < b.ScheduledDate
		}
		if a.ScheduledTime != b.ScheduledTime {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.RecordID < b.RecordID
	})
}
