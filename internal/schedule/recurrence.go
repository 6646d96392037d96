package schedule

import (
	"sort"
	"time"

	"wisefido-medication/internal/domain"
)

// DoseInstance 一次给药实例（日期 + 时间）
type DoseInstance struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time"` // HH:MM
}

// ShouldOccur 判断处方在某天是否需要给药
// date 为 UTC 零点的日历日期（domain.ParseDate 的结果）
func ShouldOccur(p *domain.Prescription, date time.Time) bool {
	switch p.FrequencyType {
	case domain.FrequencyDaily:
		return true

	case domain.FrequencyEveryXDays:
		start, err := domain.ParseDate(p.StartDate)
		if err != nil {
			return true
		}
		return daysBetween(start, date)%interval(p) == 0

	case domain.FrequencyWeeklyDays:
		wd := isoWeekday(date)
		for _, d := range p.SpecificWeekdays {
			if d == wd {
				return true
			}
		}
		return false

	case domain.FrequencyOddEvenDays:
		odd := date.Day()%2 == 1
		switch p.OddEvenFlag {
		case domain.OddDays:
			return odd
		case domain.EvenDays:
			return !odd
		}
		return true

	case domain.FrequencyEveryXMonths:
		start, err := domain.ParseDate(p.StartDate)
		if err != nil {
			return true
		}
		return monthsBetween(start, date)%interval(p) == 0 && date.Day() == start.Day()
	}

	// 未知频次：默认给药
	return true
}

// Expand 将处方展开为日期范围内的给药实例（按日期、时间排序）
// 范围与处方有效期 [start_date, end_date] 取交集；end_date 为空表示长期
func Expand(p *domain.Prescription, dates domain.DateRange) ([]DoseInstance, error) {
	if err := dates.Validate(); err != nil {
		return nil, err
	}
	slots, err := normalizeSlots(p.TimeSlots)
	if err != nil {
		return nil, err
	}

	from, _ := domain.ParseDate(dates.Start)
	to, _ := domain.ParseDate(dates.End)

	if p.StartDate != "" {
		start, err := domain.ParseDate(p.StartDate)
		if err != nil {
			return nil, domain.NewValidationError("prescription %s: %v", p.PrescriptionID, err)
		}
		if start.After(from) {
			from = start
		}
	}
	if p.EndDate != "" {
		end, err := domain.ParseDate(p.EndDate)
		if err != nil {
			return nil, domain.NewValidationError("prescription %s: %v", p.PrescriptionID, err)
		}
		if end.Before(to) {
			to = end
		}
	}

	instances := []DoseInstance{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !ShouldOccur(p, d) {
			continue
		}
		date := domain.FormatDate(d)
		for _, slot := range slots {
			instances = append(instances, DoseInstance{Date: date, Time: slot})
		}
	}
	return instances, nil
}

// normalizeSlots 校验 HH:MM，去重并排序
func normalizeSlots(slots []string) ([]string, error) {
	seen := make(map[string]bool, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		h, m, err := domain.ParseClock(s)
		if err != nil {
			return nil, domain.NewValidationError("%v", err)
		}
		// 统一为两位格式（如 "8:00" -> "08:00"）
		norm := time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format(domain.TimeLayout)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	sort.Strings(out)
	return out, nil
}

func interval(p *domain.Prescription) int {
	if p.FrequencyValue <= 0 {
		return 1
	}
	return p.FrequencyValue
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// isoWeekday 1=周一 ... 7=周日
func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}
