package domain

import "time"

// FrequencyType 给药频次类型
type FrequencyType string

const (
	FrequencyDaily        FrequencyType = "daily"
	FrequencyEveryXDays   FrequencyType = "every_x_days"
	FrequencyWeeklyDays   FrequencyType = "weekly_days"
	FrequencyOddEvenDays  FrequencyType = "odd_even_days"
	FrequencyEveryXMonths FrequencyType = "every_x_months"
)

// PrescriptionStatus 处方状态
type PrescriptionStatus string

const (
	PrescriptionActive        PrescriptionStatus = "active"
	PrescriptionInactive      PrescriptionStatus = "inactive"
	PrescriptionPendingChange PrescriptionStatus = "pending_change"
)

// PreparationMethod 备药方式
type PreparationMethod string

const (
	PreparationAdvanced  PreparationMethod = "advanced"  // 提前备药
	PreparationImmediate PreparationMethod = "immediate" // 即配即发（发药时自动补齐备药/核药）
	PreparationSelfCare  PreparationMethod = "self_care" // 住户自理，无三步流程
)

// RouteOral 口服
const RouteOral = "oral"

// OddEvenFlag 单双日标记
const (
	OddDays  = "odd"
	EvenDays = "even"
)

// Prescription 处方领域模型（对应 prescriptions 表）
// 由处方管理服务维护，本服务只读
type Prescription struct {
	PrescriptionID string `db:"prescription_id"` // UUID, PRIMARY KEY
	PatientID      string `db:"patient_id"`      // UUID, NOT NULL
	MedicationName string `db:"medication_name"` // VARCHAR(200)

	// 频次
	FrequencyType    FrequencyType `db:"frequency_type"`
	FrequencyValue   int           `db:"frequency_value"`   // 间隔数（every_x_days / every_x_months）
	SpecificWeekdays []int         `db:"specific_weekdays"` // 1=周一 ... 7=周日
	OddEvenFlag      string        `db:"odd_even_flag"`     // 'odd' / 'even'

	// 有效期（YYYY-MM-DD），EndDate 为空表示长期
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`

	Status              PrescriptionStatus `db:"status"`
	TimeSlots           []string           `db:"time_slots"` // HH:MM
	PreparationMethod   PreparationMethod  `db:"preparation_method"`
	AdministrationRoute string             `db:"administration_route"`
	InspectionRules     []InspectionRule   `db:"inspection_rules"` // JSONB

	// 剂量
	Dosage     string `db:"dosage"`
	DosageUnit string `db:"dosage_unit"`

	UpdatedAt time.Time `db:"updated_at"`
}

// IsSelfCare 是否为住户自理处方
func (p *Prescription) IsSelfCare() bool {
	return p.PreparationMethod == PreparationSelfCare
}

// IsFullProcessEligible 一键全流程条件：即配即发 + 口服 + 无检查规则
func (p *Prescription) IsFullProcessEligible() bool {
	return p.PreparationMethod == PreparationImmediate &&
		p.AdministrationRoute == RouteOral &&
		len(p.InspectionRules) == 0
}

// RuleOperator 检查规则比较符
type RuleOperator string

const (
	OperatorGT  RuleOperator = "gt"
	OperatorLT  RuleOperator = "lt"
	OperatorGTE RuleOperator = "gte"
	OperatorLTE RuleOperator = "lte"
)

// RuleAction 规则不满足时的动作
type RuleAction string

const (
	ActionBlockDispensing RuleAction = "block_dispensing"
	ActionWarnOnly        RuleAction = "warn_only"
)

// InspectionRule 发药前检查规则（嵌入在处方中，评估时为不可变快照）
type InspectionRule struct {
	VitalSignType string       `json:"vital_sign_type"`
	Operator      RuleOperator `json:"operator"`
	Threshold     float64      `json:"threshold"`
	Action        RuleAction   `json:"action"`
}

// Triggered 比较式描述的是告警条件（如 blood_glucose lt 4 表示血糖低于 4 时触发）
// 触发即规则不满足；未知比较符视为触发
func (r InspectionRule) Triggered(value float64) bool {
	switch r.Operator {
	case OperatorGT:
		return value > r.Threshold
	case OperatorLT:
		return value < r.Threshold
	case OperatorGTE:
		return value >= r.Threshold
	case OperatorLTE:
		return value <= r.Threshold
	default:
		return true
	}
}
