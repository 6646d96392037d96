package domain

// VitalSignRecord 生命体征记录（只读输入）
type VitalSignRecord struct {
	RecordID     string  `json:"record_id"`
	PatientID    string  `json:"patient_id"`
	Type         string  `json:"type"` // 如 blood_glucose / systolic_bp / heart_rate
	Value        float64 `json:"value"`
	RecordedDate string  `json:"recorded_date"` // YYYY-MM-DD
	RecordedTime string  `json:"recorded_time"` // HH:MM
}
