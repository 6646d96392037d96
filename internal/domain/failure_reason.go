package domain

// FailureReasonCode 发药失败原因（封闭集合）
type FailureReasonCode string

const (
	ReasonAdmission FailureReasonCode = "admission"  // 住院
	ReasonHomeLeave FailureReasonCode = "home_leave" // 请假回家
	ReasonRefused   FailureReasonCode = "refused"    // 拒服
	ReasonPaused    FailureReasonCode = "paused"     // 暂停（含检查规则拦截）
	ReasonOther     FailureReasonCode = "other"      // 其他（需填写说明）
)

// FailureReason 失败原因；仅 other 携带自由文本
type FailureReason struct {
	Code   FailureReasonCode `json:"code"`
	Custom string            `json:"custom,omitempty"`
}

// ParseFailureReasonCode 解析失败原因
func ParseFailureReasonCode(s string) (FailureReasonCode, bool) {
	switch FailureReasonCode(s) {
	case ReasonAdmission, ReasonHomeLeave, ReasonRefused, ReasonPaused, ReasonOther:
		return FailureReasonCode(s), true
	}
	return "", false
}

// Validate 校验失败原因
func (f FailureReason) Validate() error {
	if _, ok := ParseFailureReasonCode(string(f.Code)); !ok {
		return NewValidationError("invalid failure reason: %q", f.Code)
	}
	if f.Code == ReasonOther && f.Custom == "" {
		return NewValidationError("failure reason 'other' requires a description")
	}
	if f.Code != ReasonOther && f.Custom != "" {
		return NewValidationError("custom failure text is only allowed for 'other'")
	}
	return nil
}
