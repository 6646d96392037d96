package workflow

import (
	"context"
	"errors"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/period"
)

// Decision 守卫决策：继续，或以某个结果短路
type Decision struct {
	Proceed bool
	Result  *Result
	Guard   string // 短路的守卫
}

func proceed() Decision { return Decision{Proceed: true} }

func shortCircuit(r *Result) Decision { return Decision{Result: r} }

// dispenseContext 发药守卫的输入；record 为待写入的工作副本
type dispenseContext struct {
	record       *domain.WorkflowRecord
	prescription *domain.Prescription
	request      ExecuteRequest
	now          time.Time
}

// dispenseGuard 发药前守卫，按固定顺序执行：时段检查 → 规则检查
type dispenseGuard interface {
	name() string
	evaluate(ctx context.Context, dc *dispenseContext) (Decision, error)
}

// runGuards 依次执行守卫，遇到短路立即返回
func runGuards(ctx context.Context, guards []dispenseGuard, dc *dispenseContext) (Decision, error) {
	for _, g := range guards {
		d, err := g.evaluate(ctx, dc)
		if err != nil {
			return Decision{}, err
		}
		if !d.Proceed {
			d.Guard = g.name()
			return d, nil
		}
	}
	return proceed(), nil
}

// ---- 时段检查 ----

type periodGuard struct {
	checker PeriodChecker
}

func (periodGuard) name() string { return "period" }

// 住院/请假优先于规则检查和操作员选择
func (g periodGuard) evaluate(ctx context.Context, dc *dispenseContext) (Decision, error) {
	rec := dc.record
	status, err := g.checker.Check(ctx, rec.PatientID, rec.ScheduledDate, rec.ScheduledTime)
	if err != nil {
		return Decision{}, err
	}
	if status == period.StatusClear {
		return proceed(), nil
	}

	checkedAt := dc.now
	inspection := &domain.InspectionCheckResult{
		CanDispense:       false,
		BlockedRules:      []domain.InspectionRule{},
		UsedVitalSignData: []domain.UsedVitalSign{},
		IsHospitalized:    status == period.StatusHospitalized,
		IsOnVacation:      status == period.StatusOnVacation,
		CheckedAt:         &checkedAt,
	}
	reason := status.FailureReason()
	markDispensingFailed(rec, dc.request, domain.FailureReason{Code: reason}, inspection, dc.now)

	kind := KindHospitalized
	if status == period.StatusOnVacation {
		kind = KindOnVacation
	}
	return shortCircuit(&Result{Kind: kind, Reason: reason, Inspection: inspection}), nil
}

// ---- 规则检查 ----

type safetyGuard struct {
	evaluator InspectionEvaluator
}

func (safetyGuard) name() string { return "safety" }

// 仅对 completed 结果评估；操作员主动选择失败时直接记录
func (g safetyGuard) evaluate(ctx context.Context, dc *dispenseContext) (Decision, error) {
	if dc.request.Outcome != OutcomeCompleted {
		return proceed(), nil
	}
	rec := dc.record

	inspection := dc.request.Inspection
	if inspection == nil {
		var err error
		inspection, err = g.evaluator.Evaluate(ctx, dc.prescription, rec.PatientID, rec.ScheduledDate, rec.ScheduledTime)
		if err != nil {
			var missing *domain.DataMissingError
			if errors.As(err, &missing) {
				return shortCircuit(&Result{Kind: KindNeedsData, MissingVitals: missing.MissingTypes}), nil
			}
			return Decision{}, err
		}
	} else {
		// 调用方结果原样保存；can_dispense=false 或列出任一拦截规则即拦截
		inspection = inspection.Clone()
		if inspection.CheckedAt == nil {
			checkedAt := dc.now
			inspection.CheckedAt = &checkedAt
		}
	}

	if inspection.CanDispense && len(inspection.BlockedRules) == 0 {
		rec.Dispensing.InspectionCheckResult = inspection
		return proceed(), nil
	}

	markDispensingFailed(rec, dc.request, domain.FailureReason{Code: domain.ReasonPaused}, inspection, dc.now)
	return shortCircuit(&Result{Kind: KindBlocked, Reason: domain.ReasonPaused, Inspection: inspection}), nil
}

func markDispensingFailed(rec *domain.WorkflowRecord, req ExecuteRequest, reason domain.FailureReason, inspection *domain.InspectionCheckResult, now time.Time) {
	ts := now
	rec.Dispensing.Status = domain.StatusFailed
	rec.Dispensing.StaffID = req.StaffID
	rec.Dispensing.Timestamp = &ts
	rec.Dispensing.FailureReason = reason.Code
	rec.Dispensing.CustomFailureReason = reason.Custom
	rec.Dispensing.InspectionCheckResult = inspection
	rec.Dispensing.InjectionSite = ""
	rec.Dispensing.Notes = req.Notes
}
