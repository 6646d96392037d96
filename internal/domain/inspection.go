package domain

import "time"

// MatchKind 生命体征匹配方式
type MatchKind string

const (
	MatchExact MatchKind = "exact" // 精确窗口内（默认 30 分钟）
	MatchFuzzy MatchKind = "fuzzy" // 模糊窗口内（默认 60 分钟）
)

// UsedVitalSign 规则评估时实际使用的生命体征数据
type UsedVitalSign struct {
	Rule       InspectionRule `json:"rule"`
	Value      float64        `json:"value"`
	MatchKind  MatchKind      `json:"match_kind"`
	RecordedAt time.Time      `json:"recorded_at"`
	Passed     bool           `json:"passed"`
}

// InspectionCheckResult 发药前检查结果（随发药步骤保存，用于审计）
type InspectionCheckResult struct {
	CanDispense       bool             `json:"can_dispense"`
	BlockedRules      []InspectionRule `json:"blocked_rules"`
	UsedVitalSignData []UsedVitalSign  `json:"used_vital_sign_data"`
	IsHospitalized    bool             `json:"is_hospitalized"`
	IsOnVacation      bool             `json:"is_on_vacation"`
	CheckedAt         *time.Time       `json:"checked_at,omitempty"`
}

// Clone 深拷贝
func (r *InspectionCheckResult) Clone() *InspectionCheckResult {
	if r == nil {
		return nil
	}
	c := *r
	c.BlockedRules = append([]InspectionRule(nil), r.BlockedRules...)
	c.UsedVitalSignData = append([]UsedVitalSign(nil), r.UsedVitalSignData...)
	c.CheckedAt = cloneTime(r.CheckedAt)
	return &c
}
