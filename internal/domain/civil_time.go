package domain

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ParseDate 解析 YYYY-MM-DD（按 UTC 零点，便于按天计算）
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// ParseClock 校验 HH:MM
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Instant 将日期 + 时间解析为指定时区的时刻
func Instant(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// FormatDate 格式化为 YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange 闭区间日期范围
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// Validate 校验范围
func (r DateRange) Validate() error {
	s, err := ParseDate(r.Start)
	if err != nil {
		return NewValidationError("start_date: %v", err)
	}
	e, err := ParseDate(r.End)
	if err != nil {
		return NewValidationError("end_date: %v", err)
	}
	if e.Before(s) {
		return NewValidationError("end_date %s is before start_date %s", r.End, r.Start)
	}
	return nil
}

// Contains 日期是否在范围内（字符串按 ISO 格式可直接比较）
func (r DateRange) Contains(date string) bool {
	return date >= r.Start && date <= r.End
}
