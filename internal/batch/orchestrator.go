package batch

import (
	"context"
	"errors"
	"fmt"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/workflow"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StepExecutor 单条记录的步骤执行
type StepExecutor interface {
	Execute(ctx context.Context, req workflow.ExecuteRequest) (*workflow.Result, error)
}

// Request 批量执行请求
type Request struct {
	RecordIDs   []string                                 `json:"record_ids"`
	Step        domain.Step                              `json:"step"`
	StaffID     string                                   `json:"staff_id"`
	Outcome     workflow.Outcome                         `json:"outcome"`
	Reason      *domain.FailureReason                    `json:"reason,omitempty"`
	Notes       string                                   `json:"notes,omitempty"`
	Overrides   map[string]*domain.InspectionCheckResult `json:"overrides,omitempty"` // recordID -> 调用方检查结果
	FullProcess bool                                     `json:"full_process,omitempty"`
}

// Error kinds
const (
	ErrorKindValidation  = "validation"
	ErrorKindPersistence = "persistence"
	ErrorKindConflict    = "conflict"
	ErrorKindNotFound    = "not_found"
	ErrorKindInternal    = "internal"
)

// ItemResult 单条记录结果
type ItemResult struct {
	RecordID  string                   `json:"record_id"`
	Kind      workflow.ResultKind      `json:"kind,omitempty"`
	Reason    domain.FailureReasonCode `json:"reason,omitempty"`
	Error     string                   `json:"error,omitempty"`
	ErrorKind string                   `json:"error_kind,omitempty"`
}

// Summary 批量执行汇总（全部结束后统计）
type Summary struct {
	Total        int          `json:"total"`
	Success      int          `json:"success"`
	Hospitalized int          `json:"hospitalized"`
	OnVacation   int          `json:"on_vacation"`
	Blocked      int          `json:"blocked"` // 规则拦截 + 缺少数据 + 暂停
	Failed       int          `json:"failed"`  // 校验 / 存储等错误
	Items        []ItemResult `json:"items"`
}

// Orchestrator 批量执行：每条记录独立执行，互不影响，无整体回滚
type Orchestrator struct {
	executor      StepExecutor
	records       repository.WorkflowRecordsRepository
	prescriptions repository.PrescriptionsRepository
	concurrency   int
	logger        *zap.Logger
}

// NewOrchestrator 创建批量执行器
func NewOrchestrator(
	executor StepExecutor,
	records repository.WorkflowRecordsRepository,
	prescriptions repository.PrescriptionsRepository,
	concurrency int,
	logger *zap.Logger,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		executor:      executor,
		records:       records,
		prescriptions: prescriptions,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// Run 并发执行全部记录，全部结束后汇总
// 只有请求本身不合法时返回 error；单条失败体现在 Summary 中
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	ids := uniqueIDs(req.RecordIDs)
	if len(ids) == 0 {
		return nil, domain.NewValidationError("record_ids is required")
	}
	if req.FullProcess {
		req.Step = domain.StepDispensing
		req.Outcome = workflow.OutcomeCompleted
	}

	items := make([]ItemResult, len(ids))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			items[i] = o.runOne(ctx, req, id)
			return nil
		})
	}
	_ = g.Wait()

	summary := tally(items)
	o.logger.Info("Batch executed",
		zap.String("step", string(req.Step)),
		zap.Bool("full_process", req.FullProcess),
		zap.Int("total", summary.Total),
		zap.Int("success", summary.Success),
		zap.Int("hospitalized", summary.Hospitalized),
		zap.Int("on_vacation", summary.OnVacation),
		zap.Int("blocked", summary.Blocked),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (o *Orchestrator) runOne(ctx context.Context, req Request, recordID string) (item ItemResult) {
	item.RecordID = recordID
	defer func() {
		// 单条记录 panic 不影响其它记录
		if r := recover(); r != nil {
			o.logger.Error("Batch item panicked", zap.String("record_id", recordID), zap.Any("panic", r))
			item = ItemResult{RecordID: recordID, Error: fmt.Sprint(r), ErrorKind: ErrorKindInternal}
		}
	}()

	res, err := o.executor.Execute(ctx, workflow.ExecuteRequest{
		RecordID:    recordID,
		Step:        req.Step,
		StaffID:     req.StaffID,
		Outcome:     req.Outcome,
		Reason:      req.Reason,
		Notes:       req.Notes,
		Inspection:  req.Overrides[recordID],
		FullProcess: req.FullProcess,
	})
	if err != nil {
		item.Error = err.Error()
		item.ErrorKind = classify(err)
		o.logger.Warn("Batch item failed",
			zap.String("record_id", recordID),
			zap.String("error_kind", item.ErrorKind),
			zap.Error(err),
		)
		return item
	}
	item.Kind = res.Kind
	item.Reason = res.Reason
	return item
}

func tally(items []ItemResult) *Summary {
	s := &Summary{Total: len(items), Items: items}
	for _, it := range items {
		if it.Error != "" {
			s.Failed++
			continue
		}
		switch it.Kind {
		case workflow.KindCompleted:
			s.Success++
		case workflow.KindFailed:
			// 操作员选择暂停与规则拦截同归 blocked；拒服等其它原因视为已处理
			if it.Reason == domain.ReasonPaused {
				s.Blocked++
			} else {
				s.Success++
			}
		case workflow.KindHospitalized:
			s.Hospitalized++
		case workflow.KindOnVacation:
			s.OnVacation++
		case workflow.KindBlocked, workflow.KindNeedsData:
			s.Blocked++
		default:
			s.Failed++
		}
	}
	return s
}

func classify(err error) string {
	switch {
	case domain.IsValidation(err):
		return ErrorKindValidation
	case errors.Is(err, domain.ErrStaleRecord):
		return ErrorKindConflict
	case domain.IsPersistence(err):
		return ErrorKindPersistence
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrPrescriptionNotFound):
		return ErrorKindNotFound
	}
	return ErrorKindInternal
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
