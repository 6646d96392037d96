package httpapi

import (
	"context"
	"net/http"
	"strings"

	"wisefido-medication/internal/batch"
	"wisefido-medication/internal/dedup"
	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"
	"wisefido-medication/internal/service"
	"wisefido-medication/internal/workflow"

	"go.uber.org/zap"
)

// MedicationAPI 处理器依赖的服务操作（service.MedicationService 满足此接口）
type MedicationAPI interface {
	ExpandSchedule(ctx context.Context, req service.ExpandRequest) (*schedule.MaterializeResult, error)
	ExecuteStep(ctx context.Context, req workflow.ExecuteRequest) (*workflow.Result, error)
	RevertStep(ctx context.Context, recordID string, step domain.Step) (*workflow.Result, error)
	RunBatch(ctx context.Context, req service.BatchRequest) (*batch.Summary, error)
	CheckCompleteness(ctx context.Context, patientID string, dates domain.DateRange) (*schedule.Completeness, error)
	FindDuplicates(ctx context.Context, filters *repository.RecordFilters) (*dedup.Report, error)
	DeleteDuplicates(ctx context.Context, recordIDs []string) (*dedup.DeleteResult, error)
	ListRecords(ctx context.Context, filters *repository.RecordFilters) ([]*domain.WorkflowRecord, error)
	GetRecord(ctx context.Context, recordID string) (*service.RecordView, error)
}

var _ MedicationAPI = (*service.MedicationService)(nil)

const recordsPrefix = "/medication/api/v1/records/"

type MedicationHandler struct {
	svc    MedicationAPI
	logger *zap.Logger
}

func NewMedicationHandler(svc MedicationAPI, logger *zap.Logger) *MedicationHandler {
	return &MedicationHandler{svc: svc, logger: logger}
}

// POST /medication/api/v1/schedule/expand
// body: { prescription_id?, patient_id?, date_range?: { start_date, end_date } }
func (h *MedicationHandler) ExpandSchedule(w http.ResponseWriter, r *http.Request) {
	var req service.ExpandRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	res, err := h.svc.ExpandSchedule(r.Context(), req)
	if err != nil {
		h.logger.Warn("Expand schedule failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// GET /medication/api/v1/schedule/completeness?patient_id=&start_date=&end_date=
func (h *MedicationHandler) CheckCompleteness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.svc.CheckCompleteness(r.Context(), q.Get("patient_id"), domain.DateRange{
		Start: q.Get("start_date"),
		End:   q.Get("end_date"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// GET /medication/api/v1/records?patient_id=&prescription_id=&start_date=&end_date=
func (h *MedicationHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListRecords(r.Context(), recordFilters(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": list, "total": len(list)}))
}

// RecordRoutes 分发 /medication/api/v1/records/{id}[/steps/{step}[/revert]]
func (h *MedicationHandler) RecordRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, recordsPrefix), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.getRecord(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "steps":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.executeStep(w, r, parts[0], parts[2])
	case len(parts) == 4 && parts[1] == "steps" && parts[3] == "revert":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.revertStep(w, r, parts[0], parts[2])
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

func (h *MedicationHandler) getRecord(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// executeStepBody POST records/{id}/steps/{step} 的请求体
type executeStepBody struct {
	StaffID       string                        `json:"staff_id"`
	Outcome       workflow.Outcome              `json:"outcome"`
	Reason        *domain.FailureReason         `json:"reason,omitempty"`
	Notes         string                        `json:"notes,omitempty"`
	InjectionSite string                        `json:"injection_site,omitempty"`
	Inspection    *domain.InspectionCheckResult `json:"inspection,omitempty"`
	FullProcess   bool                          `json:"full_process,omitempty"`
}

func (h *MedicationHandler) executeStep(w http.ResponseWriter, r *http.Request, id, stepName string) {
	step, ok := domain.ParseStep(stepName)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Fail("invalid step: "+stepName))
		return
	}
	var body executeStepBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	res, err := h.svc.ExecuteStep(r.Context(), workflow.ExecuteRequest{
		RecordID:      id,
		Step:          step,
		StaffID:       body.StaffID,
		Outcome:       body.Outcome,
		Reason:        body.Reason,
		Notes:         body.Notes,
		InjectionSite: body.InjectionSite,
		Inspection:    body.Inspection,
		FullProcess:   body.FullProcess,
	})
	if err != nil {
		h.logger.Warn("Execute step failed",
			zap.String("record_id", id),
			zap.String("step", stepName),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	if res.Kind == workflow.KindNeedsData {
		// 缺少生命体征：记录未修改，前端需要先录入体征
		writeJSON(w, http.StatusConflict, FailWith("vital signs required", res))
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *MedicationHandler) revertStep(w http.ResponseWriter, r *http.Request, id, stepName string) {
	step, ok := domain.ParseStep(stepName)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Fail("invalid step: "+stepName))
		return
	}
	res, err := h.svc.RevertStep(r.Context(), id, step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// POST /medication/api/v1/batch
// body: { record_ids?, step, staff_id, outcome, reason?, overrides?, full_process?, patient_id?, date_range? }
func (h *MedicationHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req service.BatchRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	summary, err := h.svc.RunBatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}

// GET /medication/api/v1/duplicates?patient_id=&prescription_id=&start_date=&end_date=
func (h *MedicationHandler) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.FindDuplicates(r.Context(), recordFilters(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// POST /medication/api/v1/duplicates/delete
// body: { record_ids: [] }
func (h *MedicationHandler) DeleteDuplicates(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecordIDs []string `json:"record_ids"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	res, err := h.svc.DeleteDuplicates(r.Context(), body.RecordIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}
