package workflow

import (
	"context"
	"errors"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// Executor 步骤执行器：备药 → 核药 → 发药
// 每次被接受的变更只产生一次 UpdateRecord
type Executor struct {
	records       repository.WorkflowRecordsRepository
	prescriptions repository.PrescriptionsRepository
	writer        Writer
	guards        []dispenseGuard
	sink          EventSink
	logger        *zap.Logger
	now           func() time.Time
}

// NewExecutor 创建步骤执行器；writer 为 nil 时直接写入 records
func NewExecutor(
	records repository.WorkflowRecordsRepository,
	prescriptions repository.PrescriptionsRepository,
	writer Writer,
	periods PeriodChecker,
	inspections InspectionEvaluator,
	sink EventSink,
	logger *zap.Logger,
) *Executor {
	if writer == nil {
		writer = records
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Executor{
		records:       records,
		prescriptions: prescriptions,
		writer:        writer,
		guards: []dispenseGuard{
			periodGuard{checker: periods},
			safetyGuard{evaluator: inspections},
		},
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Execute 执行单条记录的一个步骤
// 前置条件在任何修改之前校验；业务拦截作为 Result 返回而不是错误
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	rec, err := e.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	p, err := e.prescriptions.GetPrescription(ctx, rec.PrescriptionID)
	if err != nil {
		return nil, err
	}

	backfill, err := checkPreconditions(rec, p, req)
	if err != nil {
		return nil, err
	}

	now := e.now()
	working := rec.Clone()
	if backfill {
		backfillPending(working, req.StaffID, now)
	}

	result := &Result{}
	if req.Step == domain.StepDispensing {
		dc := &dispenseContext{record: working, prescription: p, request: req, now: now}
		decision, err := runGuards(ctx, e.guards, dc)
		if err != nil {
			return nil, err
		}
		if !decision.Proceed {
			result = decision.Result
			e.logger.Info("Dispensing short-circuited",
				zap.String("record_id", rec.RecordID),
				zap.String("guard", decision.Guard),
				zap.String("kind", string(result.Kind)),
				zap.String("reason", string(result.Reason)),
			)
			if result.Kind == KindNeedsData {
				// 不修改记录，等待补录生命体征
				result.Record = rec
				e.publish(ctx, EventStepExecuted, rec, req, result, now)
				return result, nil
			}
		}
	}

	if result.Kind == "" {
		applyOutcome(working, req, now)
		result.Kind = KindCompleted
		if req.Outcome == OutcomeFailed {
			result.Kind = KindFailed
			if req.Reason != nil {
				result.Reason = req.Reason.Code
			}
		}
		if req.Step == domain.StepDispensing {
			result.Inspection = working.Dispensing.InspectionCheckResult
		}
	}

	working.UpdatedAt = now
	if err := working.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := e.writer.UpdateRecord(ctx, working, rec.UpdatedAt); err != nil {
		logWriteFailure(e.logger, "Failed to persist workflow step", rec.RecordID, req.Step, err)
		return nil, &domain.PersistenceError{Op: "update", RecordID: rec.RecordID, Err: err}
	}

	result.Record = working
	result.Changed = true
	e.publish(ctx, EventStepExecuted, working, req, result, now)
	return result, nil
}

func (e *Executor) publish(ctx context.Context, typ EventType, rec *domain.WorkflowRecord, req ExecuteRequest, result *Result, now time.Time) {
	ev := Event{
		Type:           typ,
		RecordID:       rec.RecordID,
		PrescriptionID: rec.PrescriptionID,
		PatientID:      rec.PatientID,
		ScheduledDate:  rec.ScheduledDate,
		ScheduledTime:  rec.ScheduledTime,
		Step:           req.Step,
		Kind:           result.Kind,
		Reason:         result.Reason,
		MissingVitals:  result.MissingVitals,
		StaffID:        req.StaffID,
		At:             now,
	}
	if result.Inspection != nil {
		ev.BlockedRules = result.Inspection.BlockedRules
	}
	e.sink.Publish(ctx, ev)
}

// logWriteFailure 并发修改只记 warn，其它写入失败记 error
func logWriteFailure(logger *zap.Logger, msg, recordID string, step domain.Step, err error) {
	fields := []zap.Field{
		zap.String("record_id", recordID),
		zap.String("step", string(step)),
		zap.Error(err),
	}
	if errors.Is(err, domain.ErrStaleRecord) {
		logger.Warn("Workflow record changed since read, write rejected", fields...)
		return
	}
	logger.Error(msg, fields...)
}

func validateRequest(req ExecuteRequest) error {
	if req.RecordID == "" {
		return domain.NewValidationError("record_id is required")
	}
	if _, ok := domain.ParseStep(string(req.Step)); !ok {
		return domain.NewValidationError("invalid step: %q", req.Step)
	}
	if req.StaffID == "" {
		return domain.NewValidationError("staff_id is required")
	}
	switch req.Outcome {
	case OutcomeCompleted:
		if req.Reason != nil {
			return domain.NewValidationError("failure reason is only allowed for failed outcome")
		}
	case OutcomeFailed:
		if req.Step == domain.StepDispensing {
			if req.Reason == nil {
				return domain.NewValidationError("failure reason is required for failed dispensing")
			}
			if err := req.Reason.Validate(); err != nil {
				return err
			}
		}
	default:
		return domain.NewValidationError("invalid outcome: %q", req.Outcome)
	}
	return nil
}

// checkPreconditions 返回是否需要自动补齐备药/核药
func checkPreconditions(rec *domain.WorkflowRecord, p *domain.Prescription, req ExecuteRequest) (bool, error) {
	if p.IsSelfCare() {
		return false, domain.NewValidationError("prescription %s is self-care; no staff steps apply", p.PrescriptionID)
	}
	if req.FullProcess {
		if req.Step != domain.StepDispensing {
			return false, domain.NewValidationError("full process runs on the dispensing step")
		}
		if !p.IsFullProcessEligible() {
			return false, domain.NewValidationError("prescription %s is not eligible for full process", p.PrescriptionID)
		}
	}

	current := rec.StatusOf(req.Step)
	if current.IsTerminal() {
		return false, domain.NewValidationError("%s is already %s; revert it first", req.Step, current)
	}

	backfill := req.Step == domain.StepDispensing &&
		(p.PreparationMethod == domain.PreparationImmediate || req.FullProcess)

	switch req.Step {
	case domain.StepVerification:
		if rec.Preparation.Status != domain.StatusCompleted {
			return false, domain.NewValidationError("verification requires completed preparation (is %s)", rec.Preparation.Status)
		}
	case domain.StepDispensing:
		if backfill {
			// 即配即发：pending 的备药/核药会被补齐，failed 不能被覆盖
			if rec.Preparation.Status == domain.StatusFailed || rec.Verification.Status == domain.StatusFailed {
				return false, domain.NewValidationError("cannot dispense: preparation or verification has failed")
			}
			return true, nil
		}
		if rec.Verification.Status != domain.StatusCompleted {
			return false, domain.NewValidationError("dispensing requires completed verification (is %s)", rec.Verification.Status)
		}
	}
	return false, nil
}

// backfillPending 自动完成仍为 pending 的备药与核药
func backfillPending(rec *domain.WorkflowRecord, staffID string, now time.Time) {
	if rec.Preparation.Status == domain.StatusPending {
		ts := now
		rec.Preparation = domain.StepState{Status: domain.StatusCompleted, StaffID: staffID, Timestamp: &ts}
	}
	if rec.Verification.Status == domain.StatusPending {
		ts := now
		rec.Verification = domain.StepState{Status: domain.StatusCompleted, StaffID: staffID, Timestamp: &ts}
	}
}

// applyOutcome 写入操作员选择的结果
func applyOutcome(rec *domain.WorkflowRecord, req ExecuteRequest, now time.Time) {
	ts := now
	status := domain.StatusCompleted
	if req.Outcome == OutcomeFailed {
		status = domain.StatusFailed
	}
	state := domain.StepState{Status: status, StaffID: req.StaffID, Timestamp: &ts}

	switch req.Step {
	case domain.StepPreparation:
		rec.Preparation = state
	case domain.StepVerification:
		rec.Verification = state
	case domain.StepDispensing:
		rec.Dispensing.StepState = state
		rec.Dispensing.Notes = req.Notes
		rec.Dispensing.FailureReason = ""
		rec.Dispensing.CustomFailureReason = ""
		if req.Outcome == OutcomeFailed {
			rec.Dispensing.FailureReason = req.Reason.Code
			rec.Dispensing.CustomFailureReason = req.Reason.Custom
			rec.Dispensing.InjectionSite = ""
		} else {
			rec.Dispensing.InjectionSite = req.InjectionSite
		}
	}
}
