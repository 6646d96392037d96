package period

import (
	"context"
	"testing"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ev(typ domain.HospitalizationEventType, date, clock string) domain.HospitalizationEvent {
	return domain.HospitalizationEvent{EventID: string(typ) + date + clock, PatientID: "pt-1", Type: typ, Date: date, Time: clock}
}

func TestDeriveIntervals_PairsAndOpenInterval(t *testing.T) {
	// 乱序输入
	events := []domain.HospitalizationEvent{
		ev(domain.EventDischarge, "2025-01-05", "10:00"),
		ev(domain.EventAdmission, "2025-01-01", "08:00"),
		ev(domain.EventVacationStart, "2025-01-20", "09:00"),
	}

	intervals, err := DeriveIntervals(events, time.UTC)
	require.NoError(t, err)
	require.Len(t, intervals, 2)

	assert.Equal(t, domain.IntervalHospitalization, intervals[0].Kind)
	require.NotNil(t, intervals[0].End)
	assert.Equal(t, time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), *intervals[0].End)

	assert.Equal(t, domain.IntervalVacation, intervals[1].Kind)
	assert.Nil(t, intervals[1].End)
}

func TestDeriveIntervals_EndBeforeStartIsIgnored(t *testing.T) {
	events := []domain.HospitalizationEvent{
		ev(domain.EventDischarge, "2025-01-01", "08:00"),
		ev(domain.EventAdmission, "2025-01-02", "08:00"),
		ev(domain.EventDischarge, "2025-01-02", "08:00"), // 同一时刻不闭合
	}
	intervals, err := DeriveIntervals(events, time.UTC)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Nil(t, intervals[0].End)
}

func TestDeriveIntervals_MalformedEventSkipped(t *testing.T) {
	events := []domain.HospitalizationEvent{
		ev(domain.EventAdmission, "2025-13-01", "08:00"),
		ev(domain.EventVacationStart, "2025-01-02", "08:00"),
	}
	intervals, err := DeriveIntervals(events, time.UTC)
	assert.Error(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, domain.IntervalVacation, intervals[0].Kind)
}

func TestClassify_HalfOpenBoundaries(t *testing.T) {
	end := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	intervals := []domain.Interval{{
		Kind:  domain.IntervalHospitalization,
		Start: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		End:   &end,
	}}

	assert.Equal(t, StatusClear, Classify(intervals, time.Date(2025, 1, 1, 7, 59, 0, 0, time.UTC)))
	assert.Equal(t, StatusHospitalized, Classify(intervals, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, StatusHospitalized, Classify(intervals, time.Date(2025, 1, 5, 9, 59, 0, 0, time.UTC)))
	assert.Equal(t, StatusClear, Classify(intervals, end))
}

func TestClassify_HospitalizationWinsOverVacation(t *testing.T) {
	intervals := []domain.Interval{
		{Kind: domain.IntervalVacation, Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Kind: domain.IntervalHospitalization, Start: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, StatusOnVacation, Classify(intervals, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, StatusHospitalized, Classify(intervals, time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)))
}

func TestGuard_UnmatchedAdmission(t *testing.T) {
	repo := repository.NewMemoryHospitalizationRepo(ev(domain.EventAdmission, "2025-01-09", "18:00"))
	g := NewGuard(repo, time.UTC, zap.NewNop())

	status, err := g.Check(context.Background(), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusHospitalized, status)
	assert.Equal(t, domain.ReasonAdmission, status.FailureReason())

	status, err = g.Check(context.Background(), "pt-1", "2025-01-09", "17:00")
	require.NoError(t, err)
	assert.Equal(t, StatusClear, status)

	// 其它住户不受影响
	status, err = g.Check(context.Background(), "pt-2", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusClear, status)
}

func TestGuard_Vacation(t *testing.T) {
	repo := repository.NewMemoryHospitalizationRepo(
		ev(domain.EventVacationStart, "2025-01-09", "18:00"),
		ev(domain.EventVacationEnd, "2025-01-11", "12:00"),
	)
	g := NewGuard(repo, time.UTC, zap.NewNop())

	status, err := g.Check(context.Background(), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusOnVacation, status)
	assert.Equal(t, domain.ReasonHomeLeave, status.FailureReason())

	status, err = g.Check(context.Background(), "pt-1", "2025-01-11", "12:00")
	require.NoError(t, err)
	assert.Equal(t, StatusClear, status)
}

func TestGuard_InvalidInstant(t *testing.T) {
	g := NewGuard(repository.NewMemoryHospitalizationRepo(), time.UTC, zap.NewNop())
	_, err := g.Check(context.Background(), "pt-1", "2025-01-10", "9am")
	assert.True(t, domain.IsValidation(err))
}
