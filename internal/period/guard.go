package period

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// Status 给药时刻所处的时段状态
type Status string

const (
	StatusClear        Status = "clear"
	StatusHospitalized Status = "hospitalized"
	StatusOnVacation   Status = "on_vacation"
)

// FailureReason 非 clear 状态对应的发药失败原因
func (s Status) FailureReason() domain.FailureReasonCode {
	switch s {
	case StatusHospitalized:
		return domain.ReasonAdmission
	case StatusOnVacation:
		return domain.ReasonHomeLeave
	}
	return ""
}

type timedEvent struct {
	event domain.HospitalizationEvent
	at    time.Time
}

// DeriveIntervals 由事件日志推导住院/请假区间
// 每个 admission / vacation_start 与其后第一个严格更晚的 discharge / vacation_end 配对；
// 没有配对的开始事件为开放区间。无法解析的事件被跳过并通过 error 返回。
func DeriveIntervals(events []domain.HospitalizationEvent, loc *time.Location) ([]domain.Interval, error) {
	timed := make([]timedEvent, 0, len(events))
	var errs []error
	for _, e := range events {
		at, err := domain.Instant(e.Date, e.Time, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", e.EventID, err))
			continue
		}
		timed = append(timed, timedEvent{event: e, at: at})
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].at.Before(timed[j].at) })

	intervals := []domain.Interval{}
	for i, te := range timed {
		var kind domain.IntervalKind
		var endType domain.HospitalizationEventType
		switch te.event.Type {
		case domain.EventAdmission:
			kind, endType = domain.IntervalHospitalization, domain.EventDischarge
		case domain.EventVacationStart:
			kind, endType = domain.IntervalVacation, domain.EventVacationEnd
		default:
			continue
		}

		iv := domain.Interval{Kind: kind, Start: te.at}
		for _, next := range timed[i+1:] {
			if next.event.Type == endType && next.at.After(te.at) {
				end := next.at
				iv.End = &end
				break
			}
		}
		intervals = append(intervals, iv)
	}
	return intervals, errors.Join(errs...)
}

// Classify 判断时刻所处状态；住院优先于请假
func Classify(intervals []domain.Interval, at time.Time) Status {
	onVacation := false
	for _, iv := range intervals {
		if !iv.Contains(at) {
			continue
		}
		if iv.Kind == domain.IntervalHospitalization {
			return StatusHospitalized
		}
		onVacation = true
	}
	if onVacation {
		return StatusOnVacation
	}
	return StatusClear
}

// Guard 住院/请假时段检查（仅在发药步骤使用）
type Guard struct {
	repo   repository.HospitalizationRepository
	loc    *time.Location
	logger *zap.Logger
}

// NewGuard 创建时段检查
func NewGuard(repo repository.HospitalizationRepository, loc *time.Location, logger *zap.Logger) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{repo: repo, loc: loc, logger: logger}
}

// Check 判断住户在计划给药时刻是否住院或请假
func (g *Guard) Check(ctx context.Context, patientID, date, clock string) (Status, error) {
	at, err := domain.Instant(date, clock, g.loc)
	if err != nil {
		return "", domain.NewValidationError("%v", err)
	}

	events, err := g.repo.ListEvents(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("failed to list hospitalization events: %w", err)
	}

	intervals, err := DeriveIntervals(events, g.loc)
	if err != nil {
		g.logger.Warn("Skipped malformed hospitalization events",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
	return Classify(intervals, at), nil
}
