package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var glucoseRule = domain.InspectionRule{
	VitalSignType: "blood_glucose",
	Operator:      domain.OperatorLT,
	Threshold:     4,
	Action:        domain.ActionBlockDispensing,
}

func vital(typ string, value float64, date, clock string) domain.VitalSignRecord {
	return domain.VitalSignRecord{RecordID: typ + date + clock, PatientID: "pt-1", Type: typ, Value: value, RecordedDate: date, RecordedTime: clock}
}

func newGate(records ...domain.VitalSignRecord) *SafetyGate {
	return NewSafetyGate(repository.NewMemoryVitalSignsRepo(records...), time.UTC, 30*time.Minute, 60*time.Minute, zap.NewNop())
}

func rx(rules ...domain.InspectionRule) *domain.Prescription {
	return &domain.Prescription{PrescriptionID: "rx-1", PatientID: "pt-1", InspectionRules: rules}
}

func TestSafetyGate_NoRules(t *testing.T) {
	res, err := newGate().Evaluate(context.Background(), rx(), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.True(t, res.CanDispense)
	assert.Empty(t, res.BlockedRules)
	assert.Empty(t, res.UsedVitalSignData)
}

// 规则 blood_glucose lt 4：血糖低于 4 时拦截
func TestSafetyGate_GlucoseRule(t *testing.T) {
	t.Run("3.5 blocks", func(t *testing.T) {
		gate := newGate(vital("blood_glucose", 3.5, "2025-01-10", "08:50"))
		res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
		require.NoError(t, err)
		assert.False(t, res.CanDispense)
		assert.Equal(t, []domain.InspectionRule{glucoseRule}, res.BlockedRules)
		require.Len(t, res.UsedVitalSignData, 1)
		assert.Equal(t, 3.5, res.UsedVitalSignData[0].Value)
		assert.Equal(t, domain.MatchExact, res.UsedVitalSignData[0].MatchKind)
		assert.False(t, res.UsedVitalSignData[0].Passed)
	})

	t.Run("5.0 allows", func(t *testing.T) {
		gate := newGate(vital("blood_glucose", 5.0, "2025-01-10", "08:50"))
		res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
		require.NoError(t, err)
		assert.True(t, res.CanDispense)
		assert.Empty(t, res.BlockedRules)
		require.Len(t, res.UsedVitalSignData, 1)
		assert.True(t, res.UsedVitalSignData[0].Passed)
	})
}

func TestSafetyGate_WarnOnlyNeverBlocks(t *testing.T) {
	warn := domain.InspectionRule{VitalSignType: "heart_rate", Operator: domain.OperatorGT, Threshold: 100, Action: domain.ActionWarnOnly}
	gate := newGate(vital("heart_rate", 120, "2025-01-10", "09:10"))

	res, err := gate.Evaluate(context.Background(), rx(warn), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.True(t, res.CanDispense)
	assert.Empty(t, res.BlockedRules)
	require.Len(t, res.UsedVitalSignData, 1)
	assert.Equal(t, 120.0, res.UsedVitalSignData[0].Value)
	assert.False(t, res.UsedVitalSignData[0].Passed)
}

func TestSafetyGate_ExactPreferredOverFuzzy(t *testing.T) {
	gate := newGate(
		vital("blood_glucose", 3.0, "2025-01-10", "08:05"), // 55 分钟，模糊窗口
		vital("blood_glucose", 6.0, "2025-01-10", "09:20"), // 20 分钟，精确窗口
	)
	res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	require.Len(t, res.UsedVitalSignData, 1)
	assert.Equal(t, 6.0, res.UsedVitalSignData[0].Value)
	assert.Equal(t, domain.MatchExact, res.UsedVitalSignData[0].MatchKind)
	assert.True(t, res.CanDispense)
}

func TestSafetyGate_FuzzyFallback(t *testing.T) {
	gate := newGate(vital("blood_glucose", 3.0, "2025-01-10", "08:05"))
	res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	require.Len(t, res.UsedVitalSignData, 1)
	assert.Equal(t, domain.MatchFuzzy, res.UsedVitalSignData[0].MatchKind)
	assert.False(t, res.CanDispense)
}

func TestSafetyGate_TieGoesToMostRecent(t *testing.T) {
	gate := newGate(
		vital("blood_glucose", 3.0, "2025-01-10", "08:50"),
		vital("blood_glucose", 7.0, "2025-01-10", "09:10"),
	)
	res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.UsedVitalSignData[0].Value)
}

func TestSafetyGate_MatchAcrossMidnight(t *testing.T) {
	gate := newGate(vital("blood_glucose", 3.0, "2025-01-09", "23:40"))
	res, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "00:10")
	require.NoError(t, err)
	assert.False(t, res.CanDispense)
}

func TestSafetyGate_DataMissing(t *testing.T) {
	hr := domain.InspectionRule{VitalSignType: "heart_rate", Operator: domain.OperatorLT, Threshold: 50, Action: domain.ActionBlockDispensing}
	gate := newGate(
		vital("blood_glucose", 3.0, "2025-01-10", "07:30"), // 90 分钟，超出窗口
		vital("blood_glucose", 3.0, "2025-01-11", "09:00"), // 其它日期
	)

	res, err := gate.Evaluate(context.Background(), rx(glucoseRule, hr), "pt-1", "2025-01-10", "09:00")
	assert.Nil(t, res)
	require.True(t, domain.IsDataMissing(err))

	var missing *domain.DataMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"blood_glucose", "heart_rate"}, missing.MissingTypes)
}

func TestSafetyGate_WindowsAreConfigurable(t *testing.T) {
	gate := NewSafetyGate(
		repository.NewMemoryVitalSignsRepo(vital("blood_glucose", 3.0, "2025-01-10", "08:40")),
		time.UTC, 10*time.Minute, 15*time.Minute, zap.NewNop(),
	)
	_, err := gate.Evaluate(context.Background(), rx(glucoseRule), "pt-1", "2025-01-10", "09:00")
	assert.True(t, domain.IsDataMissing(err))
}
