package workflow

import (
	"context"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/period"
)

// Outcome 操作员选择的步骤结果
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// ResultKind 执行结果类型（业务结果，不是错误）
type ResultKind string

const (
	KindCompleted    ResultKind = "completed"
	KindFailed       ResultKind = "failed"       // 操作员选择失败原因
	KindHospitalized ResultKind = "hospitalized" // 时段检查：住院
	KindOnVacation   ResultKind = "on_vacation"  // 时段检查：请假
	KindBlocked      ResultKind = "blocked"      // 检查规则拦截（paused）
	KindNeedsData    ResultKind = "needs_data"   // 缺少生命体征，未修改记录
	KindReverted     ResultKind = "reverted"
)

// ExecuteRequest 单条记录的步骤执行请求
type ExecuteRequest struct {
	RecordID      string                        `json:"record_id"`
	Step          domain.Step                   `json:"step"`
	StaffID       string                        `json:"staff_id"`
	Outcome       Outcome                       `json:"outcome"`
	Reason        *domain.FailureReason         `json:"reason,omitempty"`
	Notes         string                        `json:"notes,omitempty"`
	InjectionSite string                        `json:"injection_site,omitempty"`
	Inspection    *domain.InspectionCheckResult `json:"inspection,omitempty"` // 调用方提供的检查结果（覆盖自动评估）
	FullProcess   bool                          `json:"full_process,omitempty"`
}

// Result 执行结果
type Result struct {
	Kind          ResultKind                    `json:"kind"`
	Record        *domain.WorkflowRecord        `json:"record"`
	Reason        domain.FailureReasonCode      `json:"reason,omitempty"`
	Inspection    *domain.InspectionCheckResult `json:"inspection,omitempty"`
	MissingVitals []string                      `json:"missing_vitals,omitempty"`
	Changed       bool                          `json:"changed"`
}

// Writer 记录写入（单条记录一次更新）
// expected 为读取时的 updated_at；记录已被并发修改时返回 domain.ErrStaleRecord
type Writer interface {
	UpdateRecord(ctx context.Context, record *domain.WorkflowRecord, expected time.Time) error
}

// PeriodChecker 住院/请假时段检查
type PeriodChecker interface {
	Check(ctx context.Context, patientID, date, clock string) (period.Status, error)
}

// InspectionEvaluator 发药前规则评估
type InspectionEvaluator interface {
	Evaluate(ctx context.Context, p *domain.Prescription, patientID, date, clock string) (*domain.InspectionCheckResult, error)
}

// EventType 流程事件类型
type EventType string

const (
	EventStepExecuted EventType = "step_executed"
	EventStepReverted EventType = "step_reverted"
)

// Event 流程事件（审计 / 提醒）
type Event struct {
	Type           EventType                `json:"type"`
	RecordID       string                   `json:"record_id"`
	PrescriptionID string                   `json:"prescription_id"`
	PatientID      string                   `json:"patient_id"`
	ScheduledDate  string                   `json:"scheduled_date"`
	ScheduledTime  string                   `json:"scheduled_time"`
	Step           domain.Step              `json:"step"`
	Kind           ResultKind               `json:"kind"`
	Reason         domain.FailureReasonCode `json:"reason,omitempty"`
	MissingVitals  []string                 `json:"missing_vitals,omitempty"`
	BlockedRules   []domain.InspectionRule  `json:"blocked_rules,omitempty"`
	StaffID        string                   `json:"staff_id,omitempty"`
	At             time.Time                `json:"at"`
}

// EventSink 事件发布；发布失败由实现方记录日志，不影响流程结果
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
