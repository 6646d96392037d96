package repository

import (
	"context"
	"time"

	"wisefido-medication/internal/domain"
)

// RecordFilters 给药流程记录查询过滤器
type RecordFilters struct {
	PatientID      string            // 住户ID
	PrescriptionID string            // 处方ID
	DateRange      *domain.DateRange // 计划日期范围（闭区间）
}

// WorkflowRecordsRepository 给药流程记录Repository接口
// 唯一键：(prescription_id, scheduled_date, scheduled_time)
type WorkflowRecordsRepository interface {
	// CreateRecord 按唯一键幂等创建；键已存在时返回 created=false 且不修改已有记录
	CreateRecord(ctx context.Context, record *domain.WorkflowRecord) (created bool, err error)

	// GetRecord 获取记录，不存在返回 domain.ErrRecordNotFound
	GetRecord(ctx context.Context, recordID string) (*domain.WorkflowRecord, error)

	// ListRecords 范围查询（filters 为 nil 时返回全部）
	ListRecords(ctx context.Context, filters *RecordFilters) ([]*domain.WorkflowRecord, error)

	// ExistingKeys 返回处方在日期范围内已存在的唯一键
	ExistingKeys(ctx context.Context, prescriptionID string, dates domain.DateRange) (map[domain.RecordKey]bool, error)

	// UpdateRecord 按 record_id 整体更新三步状态
	// expected 为读取时的 updated_at，不一致返回 domain.ErrStaleRecord；零值表示不比较
	UpdateRecord(ctx context.Context, record *domain.WorkflowRecord, expected time.Time) error

	// DeleteRecord 删除记录（仅去重使用）
	DeleteRecord(ctx context.Context, recordID string) error
}

// PrescriptionScope 处方查询范围
type PrescriptionScope struct {
	PrescriptionID string // 单个处方
	PatientID      string // 某住户的全部处方
	ActiveOnly     bool
}

// PrescriptionsRepository 处方Repository接口（只读，处方由处方管理服务维护）
type PrescriptionsRepository interface {
	GetPrescription(ctx context.Context, prescriptionID string) (*domain.Prescription, error)
	ListPrescriptions(ctx context.Context, scope PrescriptionScope) ([]*domain.Prescription, error)
}

// VitalSignsRepository 生命体征Repository接口（只读）
type VitalSignsRepository interface {
	// ListVitalSigns 查询住户在日期范围内某类型的生命体征
	ListVitalSigns(ctx context.Context, patientID, vitalType string, dates domain.DateRange) ([]domain.VitalSignRecord, error)
}

// HospitalizationRepository 住院/请假事件Repository接口（只读）
type HospitalizationRepository interface {
	ListEvents(ctx context.Context, patientID string) ([]domain.HospitalizationEvent, error)
}
