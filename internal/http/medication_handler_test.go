package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-medication/internal/batch"
	"wisefido-medication/internal/dedup"
	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/evaluator"
	"wisefido-medication/internal/period"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"
	"wisefido-medication/internal/service"
	"wisefido-medication/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

type testAPI struct {
	router  *Router
	records *repository.MemoryWorkflowRecordsRepo
	vitals  *repository.MemoryVitalSignsRepo
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	rule := domain.InspectionRule{VitalSignType: "blood_glucose", Operator: domain.OperatorLT, Threshold: 4, Action: domain.ActionBlockDispensing}
	prescriptions := repository.NewMemoryPrescriptionsRepo(
		&domain.Prescription{
			PrescriptionID:      "rx-1",
			PatientID:           "pt-1",
			FrequencyType:       domain.FrequencyDaily,
			StartDate:           "2025-01-01",
			Status:              domain.PrescriptionActive,
			TimeSlots:           []string{"09:00"},
			PreparationMethod:   domain.PreparationImmediate,
			AdministrationRoute: domain.RouteOral,
			InspectionRules:     []domain.InspectionRule{rule},
		},
	)
	records := repository.NewMemoryWorkflowRecordsRepo()
	vitals := repository.NewMemoryVitalSignsRepo()
	hospital := repository.NewMemoryHospitalizationRepo()

	executor := workflow.NewExecutor(records, prescriptions, nil,
		period.NewGuard(hospital, time.UTC, logger),
		evaluator.NewSafetyGate(vitals, time.UTC, evaluator.DefaultExactWindow, evaluator.DefaultFuzzyWindow, logger),
		nil, logger)
	svc := service.NewMedicationService(service.Deps{
		Records:      records,
		Expander:     schedule.NewExpander(prescriptions, records, 2, logger),
		Executor:     executor,
		Reverser:     workflow.NewReverser(records, nil, nil, logger),
		Orchestrator: batch.NewOrchestrator(executor, records, prescriptions, 2, logger),
		Deduplicator: dedup.NewDeduplicator(records, logger),
		Location:     time.UTC,
		HorizonDays:  0,
	}, logger)

	router := NewRouter(logger)
	router.RegisterMedicationRoutes(NewMedicationHandler(svc, logger))
	return &testAPI{router: router, records: records, vitals: vitals}
}

func (a *testAPI) expand(t *testing.T) string {
	t.Helper()
	rr, env := do(t, a.router, http.MethodPost, "/medication/api/v1/schedule/expand",
		`{"prescription_id":"rx-1","date_range":{"start_date":"2025-01-10","end_date":"2025-01-10"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, ResultSuccess, env.Code)

	list, err := a.records.ListRecords(context.Background(), &repository.RecordFilters{PrescriptionID: "rx-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0].RecordID
}

func TestMedicationRoutes_DispenseFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.expand(t)
	stepPath := fmt.Sprintf("/medication/api/v1/records/%s/steps/dispensing", id)
	body := `{"staff_id":"nurse-1","outcome":"completed"}`

	// 缺少血糖数据：409，记录不变
	rr, env := do(t, api.router, http.MethodPost, stepPath, body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, ResultError, env.Code)
	var res workflow.Result
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, workflow.KindNeedsData, res.Kind)
	assert.Equal(t, []string{"blood_glucose"}, res.MissingVitals)

	api.vitals.Add(domain.VitalSignRecord{PatientID: "pt-1", Type: "blood_glucose", Value: 5.0, RecordedDate: "2025-01-10", RecordedTime: "08:50"})
	rr, env = do(t, api.router, http.MethodPost, stepPath, body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, workflow.KindCompleted, res.Kind)

	// 已完成的步骤需要先撤销
	rr, _ = do(t, api.router, http.MethodPost, stepPath, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, api.router, http.MethodPost, stepPath+"/revert", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = do(t, api.router, http.MethodGet, "/medication/api/v1/records/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view service.RecordView
	require.NoError(t, json.Unmarshal(env.Result, &view))
	assert.Equal(t, domain.StatusPending, view.Record.Dispensing.Status)
	// 自动补齐的备药和核药保留
	assert.Equal(t, domain.StatusCompleted, view.Record.Verification.Status)
}

func TestMedicationRoutes_QueryEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.expand(t)

	rr, env := do(t, api.router, http.MethodGet, "/medication/api/v1/records?patient_id=pt-1&start_date=2025-01-10&end_date=2025-01-10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items []*domain.WorkflowRecord `json:"items"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &list))
	assert.Equal(t, 1, list.Total)

	rr, env = do(t, api.router, http.MethodGet, "/medication/api/v1/schedule/completeness?patient_id=pt-1&start_date=2025-01-10&end_date=2025-01-11", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var c schedule.Completeness
	require.NoError(t, json.Unmarshal(env.Result, &c))
	assert.Equal(t, 2, c.Expected)
	assert.Equal(t, 1, c.Missing)

	rr, _ = do(t, api.router, http.MethodGet, "/medication/api/v1/duplicates", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, api.router, http.MethodGet, "/medication/api/v1/records?start_date=2025-01-11&end_date=2025-01-10", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMedicationRoutes_BatchAndNotFound(t *testing.T) {
	api := newTestAPI(t)
	id := api.expand(t)

	rr, env := do(t, api.router, http.MethodPost, "/medication/api/v1/batch",
		fmt.Sprintf(`{"record_ids":[%q,"missing"],"step":"dispensing","staff_id":"nurse-1","outcome":"completed","overrides":{%q:{"can_dispense":true}}}`, id, id))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var summary batch.Summary
	require.NoError(t, json.Unmarshal(env.Result, &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)

	rr, _ = do(t, api.router, http.MethodPost, "/medication/api/v1/batch", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, api.router, http.MethodGet, "/medication/api/v1/records/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, api.router, http.MethodPost, "/medication/api/v1/records/"+id+"/steps/unknown", "{}")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, api.router, http.MethodGet, "/medication/api/v1/records/"+id+"/bogus/x/y/z", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, api.router, http.MethodGet, "/medication/api/v1/batch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr, _ = do(t, api.router, http.MethodPost, "/medication/api/v1/batch", "{bad")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", domain.NewValidationError("bad step"), http.StatusBadRequest},
		{"record not found", fmt.Errorf("workflow record x: %w", domain.ErrRecordNotFound), http.StatusNotFound},
		{"prescription not found", domain.ErrPrescriptionNotFound, http.StatusNotFound},
		{"data missing", &domain.DataMissingError{PatientID: "pt-1", MissingTypes: []string{"heart_rate"}}, http.StatusConflict},
		{"persistence", &domain.PersistenceError{Op: "update", RecordID: "x", Err: errors.New("reset")}, http.StatusInternalServerError},
		{"stale record", &domain.PersistenceError{Op: "update", RecordID: "x", Err: domain.ErrStaleRecord}, http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)
			assert.Equal(t, tt.code, rr.Code)
			var env envelope
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
			assert.Equal(t, ResultError, env.Code)
			assert.Equal(t, "error", env.Type)
		})
	}
}
