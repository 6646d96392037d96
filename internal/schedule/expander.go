package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaterializeResult 排程展开结果
type MaterializeResult struct {
	Generated int `json:"generated"` // 新建记录数
	Existing  int `json:"existing"`  // 已存在（幂等跳过）
	Skipped   int `json:"skipped"`   // 非 active 处方
	Failed    int `json:"failed"`    // 展开失败的处方
}

// Completeness 完整性检查结果
type Completeness struct {
	PatientID  string           `json:"patient_id"`
	DateRange  domain.DateRange `json:"date_range"`
	Expected   int              `json:"expected"`
	Actual     int              `json:"actual"`
	Missing    int              `json:"missing"`
	IsComplete bool             `json:"is_complete"`
}

// Expander 排程展开器：把处方频次规则物化为给药流程记录
type Expander struct {
	prescriptions repository.PrescriptionsRepository
	records       repository.WorkflowRecordsRepository
	logger        *zap.Logger
	concurrency   int
	now           func() time.Time
}

// NewExpander 创建排程展开器
func NewExpander(
	prescriptions repository.PrescriptionsRepository,
	records repository.WorkflowRecordsRepository,
	concurrency int,
	logger *zap.Logger,
) *Expander {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Expander{
		prescriptions: prescriptions,
		records:       records,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}
}

// Materialize 展开范围内处方，仅插入缺失的唯一键
// 单个处方失败只计数，不影响其它处方
func (e *Expander) Materialize(ctx context.Context, scope repository.PrescriptionScope, dates domain.DateRange) (*MaterializeResult, error) {
	if err := dates.Validate(); err != nil {
		return nil, err
	}

	list, err := e.prescriptions.ListPrescriptions(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}

	var (
		mu     sync.Mutex
		result MaterializeResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, p := range list {
		if p.Status != domain.PrescriptionActive {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			generated, existing, err := e.materializeOne(gctx, p, dates)
			mu.Lock()
			defer mu.Unlock()
			result.Generated += generated
			result.Existing += existing
			if err != nil {
				result.Failed++
				e.logger.Warn("Failed to materialize prescription",
					zap.String("prescription_id", p.PrescriptionID),
					zap.String("patient_id", p.PatientID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("Schedule materialized",
		zap.String("start_date", dates.Start),
		zap.String("end_date", dates.End),
		zap.Int("prescriptions", len(list)),
		zap.Int("generated", result.Generated),
		zap.Int("existing", result.Existing),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return &result, nil
}

func (e *Expander) materializeOne(ctx context.Context, p *domain.Prescription, dates domain.DateRange) (generated, existing int, err error) {
	instances, err := Expand(p, dates)
	if err != nil {
		return 0, 0, err
	}
	if len(instances) == 0 {
		return 0, 0, nil
	}

	keys, err := e.records.ExistingKeys(ctx, p.PrescriptionID, dates)
	if err != nil {
		return 0, 0, err
	}

	var firstErr error
	for _, inst := range instances {
		key := domain.RecordKey{PrescriptionID: p.PrescriptionID, ScheduledDate: inst.Date, ScheduledTime: inst.Time}
		if keys[key] {
			existing++
			continue
		}
		rec := domain.NewPendingRecord(uuid.NewString(), p, inst.Date, inst.Time, e.now())
		created, err := e.records.CreateRecord(ctx, rec)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if created {
			generated++
		} else {
			// 并发触发时其它实例已插入
			existing++
		}
	}
	return generated, existing, firstErr
}

// CheckCompleteness 比较住户在日期范围内的应有记录数与实际记录数
// Actual 只统计应有的唯一键，多余或重复记录不会掩盖缺失
func (e *Expander) CheckCompleteness(ctx context.Context, patientID string, dates domain.DateRange) (*Completeness, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id is required")
	}
	if err := dates.Validate(); err != nil {
		return nil, err
	}

	list, err := e.prescriptions.ListPrescriptions(ctx, repository.PrescriptionScope{PatientID: patientID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}

	expected := map[domain.RecordKey]bool{}
	for _, p := range list {
		instances, err := Expand(p, dates)
		if err != nil {
			e.logger.Warn("Skipping prescription in completeness check",
				zap.String("prescription_id", p.PrescriptionID),
				zap.Error(err),
			)
			continue
		}
		for _, inst := range instances {
			expected[domain.RecordKey{PrescriptionID: p.PrescriptionID, ScheduledDate: inst.Date, ScheduledTime: inst.Time}] = true
		}
	}

	records, err := e.records.ListRecords(ctx, &repository.RecordFilters{PatientID: patientID, DateRange: &dates})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}
	present := map[domain.RecordKey]bool{}
	for _, r := range records {
		if expected[r.Key()] {
			present[r.Key()] = true
		}
	}

	c := &Completeness{
		PatientID: patientID,
		DateRange: dates,
		Expected:  len(expected),
		Actual:    len(present),
	}
	c.Missing = c.Expected - c.Actual
	c.IsComplete = c.Missing == 0
	return c, nil
}
