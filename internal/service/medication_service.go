package service

import (
	"context"
	"time"

	"wisefido-medication/internal/batch"
	"wisefido-medication/internal/dedup"
	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"
	"wisefido-medication/internal/workflow"

	"go.uber.org/zap"
)

// RecordView 记录视图；Pending 表示存在尚未确认的写入
type RecordView struct {
	Record  *domain.WorkflowRecord `json:"record"`
	Pending bool                   `json:"pending"`
}

// MergedReader 覆盖层合并视图（overlay.Writer 满足此接口）
type MergedReader interface {
	GetRecord(ctx context.Context, recordID string) (*domain.WorkflowRecord, bool, error)
}

// BatchPublisher 批量执行汇总发布（events.StreamPublisher 满足此接口）
type BatchPublisher interface {
	PublishBatch(ctx context.Context, req batch.Request, s *batch.Summary)
}

// ExpandRequest 排程展开请求；PrescriptionID / PatientID 都为空时展开全部 active 处方
type ExpandRequest struct {
	PrescriptionID string           `json:"prescription_id,omitempty"`
	PatientID      string           `json:"patient_id,omitempty"`
	DateRange      domain.DateRange `json:"date_range"`
}

// BatchRequest 批量执行；RecordIDs 为空时按 PatientID + DateRange 选取记录
type BatchRequest struct {
	batch.Request
	PatientID string            `json:"patient_id,omitempty"`
	DateRange *domain.DateRange `json:"date_range,omitempty"`
}

// Deps MedicationService 依赖
type Deps struct {
	Records      repository.WorkflowRecordsRepository
	Expander     *schedule.Expander
	Executor     *workflow.Executor
	Reverser     *workflow.Reverser
	Orchestrator *batch.Orchestrator
	Deduplicator *dedup.Deduplicator
	Merged       MergedReader   // 可选
	Batches      BatchPublisher // 可选
	Location     *time.Location
	HorizonDays  int
}

// MedicationService 给药流程对外操作
type MedicationService struct {
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

// NewMedicationService 创建给药流程服务
func NewMedicationService(deps Deps, logger *zap.Logger) *MedicationService {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &MedicationService{deps: deps, now: time.Now, logger: logger}
}

// ExpandSchedule 展开排程；未给日期范围时使用默认展开天数
func (s *MedicationService) ExpandSchedule(ctx context.Context, req ExpandRequest) (*schedule.MaterializeResult, error) {
	dates := req.DateRange
	if dates.Start == "" && dates.End == "" {
		dates = schedule.Horizon(s.now(), s.deps.Location, s.deps.HorizonDays)
	}
	return s.deps.Expander.Materialize(ctx, repository.PrescriptionScope{
		PrescriptionID: req.PrescriptionID,
		PatientID:      req.PatientID,
	}, dates)
}

// ExecuteStep 执行单条记录的某一步骤
func (s *MedicationService) ExecuteStep(ctx context.Context, req workflow.ExecuteRequest) (*workflow.Result, error) {
	return s.deps.Executor.Execute(ctx, req)
}

// RevertStep 撤销步骤（级联清除后续步骤）
func (s *MedicationService) RevertStep(ctx context.Context, recordID string, step domain.Step) (*workflow.Result, error) {
	return s.deps.Reverser.Revert(ctx, recordID, step)
}

// RunBatch 批量执行
func (s *MedicationService) RunBatch(ctx context.Context, req BatchRequest) (*batch.Summary, error) {
	if len(req.RecordIDs) == 0 && req.PatientID != "" {
		dates := schedule.Horizon(s.now(), s.deps.Location, 0)
		if req.DateRange != nil {
			dates = *req.DateRange
		}
		var (
			ids []string
			err error
		)
		if req.FullProcess {
			ids, err = s.deps.Orchestrator.SelectFullProcess(ctx, req.PatientID, dates)
		} else {
			ids, err = s.deps.Orchestrator.SelectPendingDispensing(ctx, req.PatientID, dates)
		}
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return &batch.Summary{Items: []batch.ItemResult{}}, nil
		}
		req.RecordIDs = ids
	}

	summary, err := s.deps.Orchestrator.Run(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	if s.deps.Batches != nil {
		s.deps.Batches.PublishBatch(ctx, req.Request, summary)
	}
	return summary, nil
}

// CheckCompleteness 检查住户在日期范围内的记录是否完整
func (s *MedicationService) CheckCompleteness(ctx context.Context, patientID string, dates domain.DateRange) (*schedule.Completeness, error) {
	return s.deps.Expander.CheckCompleteness(ctx, patientID, dates)
}

// FindDuplicates 重复记录报告（只读）
func (s *MedicationService) FindDuplicates(ctx context.Context, filters *repository.RecordFilters) (*dedup.Report, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	return s.deps.Deduplicator.FindDuplicates(ctx, filters)
}

// DeleteDuplicates 删除操作员确认的重复记录
func (s *MedicationService) DeleteDuplicates(ctx context.Context, recordIDs []string) (*dedup.DeleteResult, error) {
	return s.deps.Deduplicator.DeleteConfirmed(ctx, recordIDs)
}

// ListRecords 范围查询
func (s *MedicationService) ListRecords(ctx context.Context, filters *repository.RecordFilters) ([]*domain.WorkflowRecord, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	return s.deps.Records.ListRecords(ctx, filters)
}

// GetRecord 单条记录；启用覆盖层时返回合并视图
func (s *MedicationService) GetRecord(ctx context.Context, recordID string) (*RecordView, error) {
	if recordID == "" {
		return nil, domain.NewValidationError("record_id is required")
	}
	if s.deps.Merged != nil {
		rec, pending, err := s.deps.Merged.GetRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		return &RecordView{Record: rec, Pending: pending}, nil
	}
	rec, err := s.deps.Records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return &RecordView{Record: rec}, nil
}

func validateFilters(filters *repository.RecordFilters) error {
	if filters == nil || filters.DateRange == nil {
		return nil
	}
	return filters.DateRange.Validate()
}
