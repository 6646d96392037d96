package domain

import "time"

// Step 给药流程步骤
type Step string

const (
	StepPreparation  Step = "preparation"  // 备药
	StepVerification Step = "verification" // 核药
	StepDispensing   Step = "dispensing"   // 发药
)

// ParseStep 解析步骤名
func ParseStep(s string) (Step, bool) {
	switch Step(s) {
	case StepPreparation, StepVerification, StepDispensing:
		return Step(s), true
	}
	return "", false
}

// StepStatus 步骤状态
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// IsTerminal completed/failed 为终态，只能通过撤销回到 pending
func (s StepStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepState 单个步骤的状态
type StepState struct {
	Status    StepStatus `json:"status"`
	StaffID   string     `json:"staff_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DispensingState 发药步骤状态（包含失败原因与检查结果）
type DispensingState struct {
	StepState
	FailureReason         FailureReasonCode      `json:"failure_reason,omitempty"`
	CustomFailureReason   string                 `json:"custom_failure_reason,omitempty"`
	InspectionCheckResult *InspectionCheckResult `json:"inspection_check_result,omitempty"`
	InjectionSite         string                 `json:"injection_site,omitempty"`
	Notes                 string                 `json:"notes,omitempty"`
}

// RecordKey 给药实例唯一键
type RecordKey struct {
	PrescriptionID string `json:"prescription_id"`
	ScheduledDate  string `json:"scheduled_date"`
	ScheduledTime  string `json:"scheduled_time"`
}

// WorkflowRecord 给药流程记录（对应 medication_workflow_records 表）
// 每个 (prescription_id, scheduled_date, scheduled_time) 至多一条
type WorkflowRecord struct {
	RecordID       string `json:"record_id"`       // UUID, PRIMARY KEY
	PrescriptionID string `json:"prescription_id"` // UUID, NOT NULL
	PatientID      string `json:"patient_id"`      // UUID, NOT NULL
	ScheduledDate  string `json:"scheduled_date"`  // DATE (YYYY-MM-DD)
	ScheduledTime  string `json:"scheduled_time"`  // VARCHAR(5) (HH:MM)

	Preparation  StepState       `json:"preparation"`
	Verification StepState       `json:"verification"`
	Dispensing   DispensingState `json:"dispensing"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPendingRecord 创建三步均为 pending 的记录
func NewPendingRecord(id string, p *Prescription, date, slot string, now time.Time) *WorkflowRecord {
	return &WorkflowRecord{
		RecordID:       id,
		PrescriptionID: p.PrescriptionID,
		PatientID:      p.PatientID,
		ScheduledDate:  date,
		ScheduledTime:  slot,
		Preparation:    StepState{Status: StatusPending},
		Verification:   StepState{Status: StatusPending},
		Dispensing:     DispensingState{StepState: StepState{Status: StatusPending}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Key 返回记录唯一键
func (r *WorkflowRecord) Key() RecordKey {
	return RecordKey{
		PrescriptionID: r.PrescriptionID,
		ScheduledDate:  r.ScheduledDate,
		ScheduledTime:  r.ScheduledTime,
	}
}

// StatusOf 返回指定步骤状态
func (r *WorkflowRecord) StatusOf(step Step) StepStatus {
	switch step {
	case StepPreparation:
		return r.Preparation.Status
	case StepVerification:
		return r.Verification.Status
	case StepDispensing:
		return r.Dispensing.Status
	}
	return ""
}

// Clone 深拷贝（乐观覆盖层与回滚需要）
func (r *WorkflowRecord) Clone() *WorkflowRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Preparation.Timestamp = cloneTime(r.Preparation.Timestamp)
	c.Verification.Timestamp = cloneTime(r.Verification.Timestamp)
	c.Dispensing.Timestamp = cloneTime(r.Dispensing.Timestamp)
	c.Dispensing.InspectionCheckResult = r.Dispensing.InspectionCheckResult.Clone()
	return &c
}

// CheckInvariants 校验步骤先后关系
func (r *WorkflowRecord) CheckInvariants() error {
	if r.Verification.Status == StatusCompleted && r.Preparation.Status != StatusCompleted {
		return NewValidationError("verification completed without preparation")
	}
	if r.Dispensing.Status == StatusCompleted && r.Verification.Status != StatusCompleted {
		return NewValidationError("dispensing completed without verification")
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
