package domain

import "time"

// HospitalizationEventType 住院/请假事件类型
type HospitalizationEventType string

const (
	EventAdmission     HospitalizationEventType = "admission"
	EventDischarge     HospitalizationEventType = "discharge"
	EventVacationStart HospitalizationEventType = "vacation_start"
	EventVacationEnd   HospitalizationEventType = "vacation_end"
)

// HospitalizationEvent 住院/请假事件（对应 hospitalization_events 表）
type HospitalizationEvent struct {
	EventID   string                   `json:"event_id"`
	PatientID string                   `json:"patient_id"`
	Type      HospitalizationEventType `json:"type"`
	Date      string                   `json:"date"` // YYYY-MM-DD
	Time      string                   `json:"time"` // HH:MM
}

// HospitalizationEpisode 住户的事件日志
type HospitalizationEpisode struct {
	PatientID string
	Events    []HospitalizationEvent
}

// IntervalKind 区间类型
type IntervalKind string

const (
	IntervalHospitalization IntervalKind = "hospitalization"
	IntervalVacation        IntervalKind = "vacation"
)

// Interval 由事件推导出的区间 [Start, End)；End 为 nil 表示未结束
type Interval struct {
	Kind  IntervalKind
	Start time.Time
	End   *time.Time
}

// Contains 判断时刻是否落在区间内
func (i Interval) Contains(t time.Time) bool {
	if t.Before(i.Start) {
		return false
	}
	return i.End == nil || t.Before(*i.End)
}
