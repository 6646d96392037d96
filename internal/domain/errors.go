package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound 记录不存在
	ErrRecordNotFound = errors.New("workflow record not found")
	// ErrPrescriptionNotFound 处方不存在
	ErrPrescriptionNotFound = errors.New("prescription not found")
	// ErrDuplicateKey 违反 (prescription_id, scheduled_date, scheduled_time) 唯一约束
	ErrDuplicateKey = errors.New("workflow record key already exists")
	// ErrStaleRecord 读取之后记录已被其他操作修改（updated_at 不一致）
	ErrStaleRecord = errors.New("workflow record was modified concurrently")
)

// ValidationError 前置条件不满足，在任何修改之前拒绝
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// NewValidationError 创建校验错误
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DataMissingError 检查规则在匹配窗口内没有对应的生命体征数据，需要人工补录
type DataMissingError struct {
	PatientID    string
	MissingTypes []string
}

func (e *DataMissingError) Error() string {
	return fmt.Sprintf("vital sign data missing for patient %s: %s", e.PatientID, strings.Join(e.MissingTypes, ","))
}

// PersistenceError 存储写入失败（不自动重试）
type PersistenceError struct {
	Op       string
	RecordID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsDataMissing 判断是否为数据缺失
func IsDataMissing(err error) bool {
	var d *DataMissingError
	return errors.As(err, &d)
}

// IsPersistence 判断是否为存储错误
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
