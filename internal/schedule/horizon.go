package schedule

import (
	"time"

	"wisefido-medication/internal/domain"
)

// Horizon 以 now 所在日期（loc 时区）为起点，向后 days 天的日期范围（含两端）
func Horizon(now time.Time, loc *time.Location, days int) domain.DateRange {
	if loc == nil {
		loc = time.UTC
	}
	if days < 0 {
		days = 0
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return domain.DateRange{
		Start: domain.FormatDate(start),
		End:   domain.FormatDate(start.AddDate(0, 0, days)),
	}
}
