package workflow

import (
	"context"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// Reverser 撤销步骤：回到 pending，并级联重置后续步骤
//   - preparation  → verification、dispensing
//   - verification → dispensing
//   - dispensing   → 仅自身
type Reverser struct {
	records repository.WorkflowRecordsRepository
	writer  Writer
	sink    EventSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewReverser 创建撤销管理
func NewReverser(records repository.WorkflowRecordsRepository, writer Writer, sink EventSink, logger *zap.Logger) *Reverser {
	if writer == nil {
		writer = records
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Reverser{records: records, writer: writer, sink: sink, logger: logger, now: time.Now}
}

// Revert 撤销步骤；completed 与 failed 均可撤销，已是 pending 时为无变更成功
func (r *Reverser) Revert(ctx context.Context, recordID string, step domain.Step) (*Result, error) {
	if recordID == "" {
		return nil, domain.NewValidationError("record_id is required")
	}
	if _, ok := domain.ParseStep(string(step)); !ok {
		return nil, domain.NewValidationError("invalid step: %q", step)
	}

	rec, err := r.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	working := rec.Clone()
	changed := resetStep(working, step)
	if !changed {
		return &Result{Kind: KindReverted, Record: rec}, nil
	}

	now := r.now()
	working.UpdatedAt = now
	if err := r.writer.UpdateRecord(ctx, working, rec.UpdatedAt); err != nil {
		logWriteFailure(r.logger, "Failed to persist step reversal", recordID, step, err)
		return nil, &domain.PersistenceError{Op: "revert", RecordID: recordID, Err: err}
	}

	result := &Result{Kind: KindReverted, Record: working, Changed: true}
	r.sink.Publish(ctx, Event{
		Type:           EventStepReverted,
		RecordID:       working.RecordID,
		PrescriptionID: working.PrescriptionID,
		PatientID:      working.PatientID,
		ScheduledDate:  working.ScheduledDate,
		ScheduledTime:  working.ScheduledTime,
		Step:           step,
		Kind:           KindReverted,
		At:             now,
	})
	return result, nil
}

// resetStep 重置步骤及其依赖步骤，返回是否有变化
func resetStep(rec *domain.WorkflowRecord, step domain.Step) bool {
	changed := false
	switch step {
	case domain.StepPreparation:
		changed = resetState(&rec.Preparation) || changed
		changed = resetState(&rec.Verification) || changed
		changed = resetDispensing(&rec.Dispensing) || changed
	case domain.StepVerification:
		changed = resetState(&rec.Verification) || changed
		changed = resetDispensing(&rec.Dispensing) || changed
	case domain.StepDispensing:
		changed = resetDispensing(&rec.Dispensing) || changed
	}
	return changed
}

func resetState(s *domain.StepState) bool {
	if s.Status == domain.StatusPending && s.StaffID == "" && s.Timestamp == nil {
		return false
	}
	*s = domain.StepState{Status: domain.StatusPending}
	return true
}

func resetDispensing(d *domain.DispensingState) bool {
	clean := domain.DispensingState{StepState: domain.StepState{Status: domain.StatusPending}}
	if d.Status == domain.StatusPending && d.StaffID == "" && d.Timestamp == nil &&
		d.FailureReason == "" && d.CustomFailureReason == "" && d.InspectionCheckResult == nil &&
		d.InjectionSite == "" && d.Notes == "" {
		return false
	}
	*d = clean
	return true
}
