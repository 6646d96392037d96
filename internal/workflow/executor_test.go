package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/evaluator"
	"wisefido-medication/internal/period"
	"wisefido-medication/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureSink 记录发布的事件
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// countingWriter 统计写入次数，可注入失败
type countingWriter struct {
	repo  *repository.MemoryWorkflowRecordsRepo
	calls int
	err   error
}

func (w *countingWriter) UpdateRecord(ctx context.Context, rec *domain.WorkflowRecord, expected time.Time) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	return w.repo.UpdateRecord(ctx, rec, expected)
}

type fixture struct {
	records       *repository.MemoryWorkflowRecordsRepo
	prescriptions *repository.MemoryPrescriptionsRepo
	vitals        *repository.MemoryVitalSignsRepo
	hospital      *repository.MemoryHospitalizationRepo
	writer        *countingWriter
	sink          *captureSink
	executor      *Executor
	reverser      *Reverser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records:       repository.NewMemoryWorkflowRecordsRepo(),
		prescriptions: repository.NewMemoryPrescriptionsRepo(),
		vitals:        repository.NewMemoryVitalSignsRepo(),
		hospital:      repository.NewMemoryHospitalizationRepo(),
		sink:          &captureSink{},
	}
	f.writer = &countingWriter{repo: f.records}
	logger := zap.NewNop()
	guard := period.NewGuard(f.hospital, time.UTC, logger)
	gate := evaluator.NewSafetyGate(f.vitals, time.UTC, 30*time.Minute, 60*time.Minute, logger)
	f.executor = NewExecutor(f.records, f.prescriptions, f.writer, guard, gate, f.sink, logger)
	f.reverser = NewReverser(f.records, f.writer, f.sink, logger)
	return f
}

// addRecord 创建处方与一条 2025-01-10 09:00 的记录
func (f *fixture) addRecord(t *testing.T, method domain.PreparationMethod, rules ...domain.InspectionRule) *domain.WorkflowRecord {
	t.Helper()
	p := &domain.Prescription{
		PrescriptionID:      "rx-" + string(method),
		PatientID:           "pt-1",
		FrequencyType:       domain.FrequencyDaily,
		StartDate:           "2025-01-01",
		Status:              domain.PrescriptionActive,
		TimeSlots:           []string{"09:00"},
		PreparationMethod:   method,
		AdministrationRoute: domain.RouteOral,
		InspectionRules:     rules,
	}
	f.prescriptions.Put(p)
	rec := domain.NewPendingRecord("rec-"+string(method), p, "2025-01-10", "09:00", time.Now())
	_, err := f.records.CreateRecord(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func (f *fixture) get(t *testing.T, id string) *domain.WorkflowRecord {
	t.Helper()
	rec, err := f.records.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func complete(id string, step domain.Step) ExecuteRequest {
	return ExecuteRequest{RecordID: id, Step: step, StaffID: "nurse-1", Outcome: OutcomeCompleted}
}

// ============================================
// 正常流程
// ============================================

func TestExecute_ThreeStepHappyPath(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)
	ctx := context.Background()

	for _, step := range []domain.Step{domain.StepPreparation, domain.StepVerification, domain.StepDispensing} {
		res, err := f.executor.Execute(ctx, complete(rec.RecordID, step))
		require.NoError(t, err, step)
		assert.Equal(t, KindCompleted, res.Kind)
		assert.True(t, res.Changed)
	}

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusCompleted, got.Preparation.Status)
	assert.Equal(t, domain.StatusCompleted, got.Verification.Status)
	assert.Equal(t, domain.StatusCompleted, got.Dispensing.Status)
	assert.Equal(t, "nurse-1", got.Dispensing.StaffID)
	require.NotNil(t, got.Dispensing.Timestamp)
	require.NotNil(t, got.Dispensing.InspectionCheckResult)
	assert.True(t, got.Dispensing.InspectionCheckResult.CanDispense)
	assert.Equal(t, 3, f.writer.calls)
	assert.Len(t, f.sink.events, 3)
}

func TestExecute_DispensingRecordsInjectionSiteAndNotes(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)
	ctx := context.Background()
	_, err := f.executor.Execute(ctx, complete(rec.RecordID, domain.StepPreparation))
	require.NoError(t, err)
	_, err = f.executor.Execute(ctx, complete(rec.RecordID, domain.StepVerification))
	require.NoError(t, err)

	req := complete(rec.RecordID, domain.StepDispensing)
	req.InjectionSite = "left arm"
	req.Notes = "took with water"
	_, err = f.executor.Execute(ctx, req)
	require.NoError(t, err)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, "left arm", got.Dispensing.InjectionSite)
	assert.Equal(t, "took with water", got.Dispensing.Notes)
}

// ============================================
// 前置条件
// ============================================

func TestExecute_DispensingRequiresVerification(t *testing.T) {
	states := []domain.StepStatus{domain.StatusPending, domain.StatusCompleted, domain.StatusFailed}
	for _, prep := range states {
		for _, verif := range states {
			if verif == domain.StatusCompleted && prep != domain.StatusCompleted {
				continue // 不可能的状态
			}
			f := newFixture(t)
			rec := f.addRecord(t, domain.PreparationAdvanced)
			rec.Preparation.Status = prep
			rec.Verification.Status = verif
			require.NoError(t, f.records.UpdateRecord(context.Background(), rec, time.Time{}))

			res, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepDispensing))
			got := f.get(t, rec.RecordID)
			if verif == domain.StatusCompleted {
				require.NoError(t, err)
				assert.Equal(t, KindCompleted, res.Kind)
				assert.Equal(t, domain.StatusCompleted, got.Dispensing.Status)
			} else {
				assert.True(t, domain.IsValidation(err), "prep=%s verif=%s", prep, verif)
				assert.Equal(t, domain.StatusPending, got.Dispensing.Status)
			}
		}
	}
}

func TestExecute_VerificationRequiresPreparation(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)

	_, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepVerification))
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 0, f.writer.calls)
}

func TestExecute_TerminalStepRequiresRevert(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)
	ctx := context.Background()

	_, err := f.executor.Execute(ctx, complete(rec.RecordID, domain.StepPreparation))
	require.NoError(t, err)
	_, err = f.executor.Execute(ctx, complete(rec.RecordID, domain.StepPreparation))
	assert.True(t, domain.IsValidation(err))
}

func TestExecute_SelfCareHasNoSteps(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationSelfCare)

	for _, step := range []domain.Step{domain.StepPreparation, domain.StepVerification, domain.StepDispensing} {
		_, err := f.executor.Execute(context.Background(), complete(rec.RecordID, step))
		assert.True(t, domain.IsValidation(err), step)
	}
	assert.Equal(t, 0, f.writer.calls)
}

func TestExecute_RequestValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)

	cases := map[string]ExecuteRequest{
		"missing record": {Step: domain.StepPreparation, StaffID: "n", Outcome: OutcomeCompleted},
		"bad step":       {RecordID: rec.RecordID, Step: "packing", StaffID: "n", Outcome: OutcomeCompleted},
		"missing staff":  {RecordID: rec.RecordID, Step: domain.StepPreparation, Outcome: OutcomeCompleted},
		"bad outcome":    {RecordID: rec.RecordID, Step: domain.StepPreparation, StaffID: "n", Outcome: "done"},
		"reason on success": {RecordID: rec.RecordID, Step: domain.StepPreparation, StaffID: "n", Outcome: OutcomeCompleted,
			Reason: &domain.FailureReason{Code: domain.ReasonRefused}},
		"failed dispensing without reason": {RecordID: rec.RecordID, Step: domain.StepDispensing, StaffID: "n", Outcome: OutcomeFailed},
		"other without text": {RecordID: rec.RecordID, Step: domain.StepDispensing, StaffID: "n", Outcome: OutcomeFailed,
			Reason: &domain.FailureReason{Code: domain.ReasonOther}},
		"unknown reason": {RecordID: rec.RecordID, Step: domain.StepDispensing, StaffID: "n", Outcome: OutcomeFailed,
			Reason: &domain.FailureReason{Code: "lost"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.executor.Execute(context.Background(), req)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestExecute_RecordNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), complete("missing", domain.StepPreparation))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

// ============================================
// 即配即发自动补齐
// ============================================

func TestExecute_ImmediateBackfillsInOneUpdate(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate)

	res, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepDispensing))
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, res.Kind)
	assert.Equal(t, 1, f.writer.calls)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusCompleted, got.Preparation.Status)
	assert.Equal(t, domain.StatusCompleted, got.Verification.Status)
	assert.Equal(t, domain.StatusCompleted, got.Dispensing.Status)
	assert.Equal(t, "nurse-1", got.Preparation.StaffID)
}

func TestExecute_ImmediateBackfillOnOperatorFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate)

	res, err := f.executor.Execute(context.Background(), ExecuteRequest{
		RecordID: rec.RecordID,
		Step:     domain.StepDispensing,
		StaffID:  "nurse-1",
		Outcome:  OutcomeFailed,
		Reason:   &domain.FailureReason{Code: domain.ReasonOther, Custom: "vomiting"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindFailed, res.Kind)
	assert.Equal(t, domain.ReasonOther, res.Reason)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusCompleted, got.Verification.Status)
	assert.Equal(t, domain.StatusFailed, got.Dispensing.Status)
	assert.Equal(t, "vomiting", got.Dispensing.CustomFailureReason)
}

func TestExecute_FullProcessRequiresEligibility(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)

	req := complete(rec.RecordID, domain.StepDispensing)
	req.FullProcess = true
	_, err := f.executor.Execute(context.Background(), req)
	assert.True(t, domain.IsValidation(err))
}

// ============================================
// 时段检查
// ============================================

func TestExecute_HospitalizedOverridesDispensing(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate)
	f.hospital.Add(domain.HospitalizationEvent{EventID: "e1", PatientID: "pt-1", Type: domain.EventAdmission, Date: "2025-01-09", Time: "18:00"})

	res, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepDispensing))
	require.NoError(t, err)
	assert.Equal(t, KindHospitalized, res.Kind)
	assert.Equal(t, domain.ReasonAdmission, res.Reason)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusFailed, got.Dispensing.Status)
	assert.Equal(t, domain.ReasonAdmission, got.Dispensing.FailureReason)
	require.NotNil(t, got.Dispensing.InspectionCheckResult)
	assert.True(t, got.Dispensing.InspectionCheckResult.IsHospitalized)
	assert.False(t, got.Dispensing.InspectionCheckResult.CanDispense)
	assert.Empty(t, got.Dispensing.InspectionCheckResult.BlockedRules)
	assert.Empty(t, got.Dispensing.InspectionCheckResult.UsedVitalSignData)
}

func TestExecute_VacationOverridesOperatorReason(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate)
	f.hospital.Add(domain.HospitalizationEvent{EventID: "e1", PatientID: "pt-1", Type: domain.EventVacationStart, Date: "2025-01-10", Time: "08:00"})

	res, err := f.executor.Execute(context.Background(), ExecuteRequest{
		RecordID: rec.RecordID,
		Step:     domain.StepDispensing,
		StaffID:  "nurse-1",
		Outcome:  OutcomeFailed,
		Reason:   &domain.FailureReason{Code: domain.ReasonRefused},
	})
	require.NoError(t, err)
	assert.Equal(t, KindOnVacation, res.Kind)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.ReasonHomeLeave, got.Dispensing.FailureReason)
	assert.True(t, got.Dispensing.InspectionCheckResult.IsOnVacation)
}

// ============================================
// 规则检查
// ============================================

var lowGlucose = domain.InspectionRule{VitalSignType: "blood_glucose", Operator: domain.OperatorLT, Threshold: 4, Action: domain.ActionBlockDispensing}

func TestExecute_SafetyGateBlocks(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate, lowGlucose)
	f.vitals.Add(domain.VitalSignRecord{PatientID: "pt-1", Type: "blood_glucose", Value: 3.5, RecordedDate: "2025-01-10", RecordedTime: "08:45"})

	res, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepDispensing))
	require.NoError(t, err)
	assert.Equal(t, KindBlocked, res.Kind)
	assert.Equal(t, domain.ReasonPaused, res.Reason)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusFailed, got.Dispensing.Status)
	assert.Equal(t, domain.ReasonPaused, got.Dispensing.FailureReason)
	assert.Equal(t, []domain.InspectionRule{lowGlucose}, got.Dispensing.InspectionCheckResult.BlockedRules)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, KindBlocked, f.sink.events[0].Kind)
	assert.Equal(t, []domain.InspectionRule{lowGlucose}, f.sink.events[0].BlockedRules)
}

func TestExecute_NeedsDataDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate, lowGlucose)

	res, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepDispensing))
	require.NoError(t, err)
	assert.Equal(t, KindNeedsData, res.Kind)
	assert.Equal(t, []string{"blood_glucose"}, res.MissingVitals)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, f.writer.calls)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusPending, got.Preparation.Status)
	assert.Equal(t, domain.StatusPending, got.Dispensing.Status)
}

func TestExecute_CallerSuppliedInspection(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate, lowGlucose)

	req := complete(rec.RecordID, domain.StepDispensing)
	req.Inspection = &domain.InspectionCheckResult{CanDispense: true}
	res, err := f.executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, res.Kind)

	got := f.get(t, rec.RecordID)
	assert.Equal(t, domain.StatusCompleted, got.Dispensing.Status)
	require.NotNil(t, got.Dispensing.InspectionCheckResult)
	assert.NotNil(t, got.Dispensing.InspectionCheckResult.CheckedAt)
}

func TestExecute_CallerSuppliedInspectionBlocks(t *testing.T) {
	tests := []struct {
		name       string
		inspection *domain.InspectionCheckResult
		wantFlag   bool
	}{
		{"can_dispense false", &domain.InspectionCheckResult{CanDispense: false}, false},
		{"blocked rule listed", &domain.InspectionCheckResult{CanDispense: true, BlockedRules: []domain.InspectionRule{lowGlucose}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.addRecord(t, domain.PreparationImmediate)

			req := complete(rec.RecordID, domain.StepDispensing)
			req.Inspection = tt.inspection
			res, err := f.executor.Execute(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, KindBlocked, res.Kind)
			assert.Equal(t, domain.ReasonPaused, res.Reason)

			got := f.get(t, rec.RecordID)
			assert.Equal(t, domain.StatusFailed, got.Dispensing.Status)
			assert.Equal(t, domain.ReasonPaused, got.Dispensing.FailureReason)
			require.NotNil(t, got.Dispensing.InspectionCheckResult)
			// 保存的是调用方给出的原始结论
			assert.Equal(t, tt.wantFlag, got.Dispensing.InspectionCheckResult.CanDispense)
		})
	}
}

func TestExecute_OperatorFailureSkipsSafetyGate(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate, lowGlucose)

	res, err := f.executor.Execute(context.Background(), ExecuteRequest{
		RecordID: rec.RecordID,
		Step:     domain.StepDispensing,
		StaffID:  "nurse-1",
		Outcome:  OutcomeFailed,
		Reason:   &domain.FailureReason{Code: domain.ReasonRefused},
	})
	require.NoError(t, err)
	assert.Equal(t, KindFailed, res.Kind)
	assert.Equal(t, domain.ReasonRefused, f.get(t, rec.RecordID).Dispensing.FailureReason)
}

// ============================================
// 存储失败
// ============================================

func TestExecute_PersistenceError(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationAdvanced)
	f.writer.err = errors.New("disk full")

	_, err := f.executor.Execute(context.Background(), complete(rec.RecordID, domain.StepPreparation))
	require.True(t, domain.IsPersistence(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.sink.events)
	assert.Equal(t, domain.StatusPending, f.get(t, rec.RecordID).Preparation.Status)
}

// barrierWriter 等所有并发写入都完成读取后再放行，制造读-改-写交错
type barrierWriter struct {
	repo    *repository.MemoryWorkflowRecordsRepo
	arrived sync.WaitGroup
}

func newBarrierWriter(repo *repository.MemoryWorkflowRecordsRepo, n int) *barrierWriter {
	w := &barrierWriter{repo: repo}
	w.arrived.Add(n)
	return w
}

func (w *barrierWriter) UpdateRecord(ctx context.Context, rec *domain.WorkflowRecord, expected time.Time) error {
	w.arrived.Done()
	w.arrived.Wait()
	return w.repo.UpdateRecord(ctx, rec, expected)
}

func TestExecute_ConcurrentDispensingOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord(t, domain.PreparationImmediate)
	w := newBarrierWriter(f.records, 2)
	logger := zap.NewNop()
	executor := NewExecutor(f.records, f.prescriptions, w,
		period.NewGuard(f.hospital, time.UTC, logger),
		evaluator.NewSafetyGate(f.vitals, time.UTC, 30*time.Minute, 60*time.Minute, logger),
		nil, logger)

	staff := []string{"nurse-A", "nurse-B"}
	results := make([]*Result, len(staff))
	errs := make([]error, len(staff))
	var wg sync.WaitGroup
	for i, s := range staff {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := complete(rec.RecordID, domain.StepDispensing)
			req.StaffID = s
			results[i], errs[i] = executor.Execute(context.Background(), req)
		}()
	}
	wg.Wait()

	winner := -1
	for i := range staff {
		if errs[i] == nil {
			require.Equal(t, -1, winner, "both writes accepted")
			winner = i
			assert.True(t, results[i].Changed)
			continue
		}
		assert.ErrorIs(t, errs[i], domain.ErrStaleRecord)
		assert.True(t, domain.IsPersistence(errs[i]))
	}
	require.NotEqual(t, -1, winner)
	assert.Equal(t, staff[winner], f.get(t, rec.RecordID).Dispensing.StaffID)
}
