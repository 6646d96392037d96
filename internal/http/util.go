package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// writeError 错误映射：校验 400，不存在 404，缺少数据 409，存储 500
func writeError(w http.ResponseWriter, err error) {
	var missing *domain.DataMissingError
	switch {
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrPrescriptionNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.Is(err, domain.ErrStaleRecord):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.As(err, &missing):
		writeJSON(w, http.StatusConflict, FailWith(err.Error(), map[string]any{"missing_vitals": missing.MissingTypes}))
	default:
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}

// recordFilters 从查询参数解析记录过滤条件
func recordFilters(r *http.Request) *repository.RecordFilters {
	q := r.URL.Query()
	f := &repository.RecordFilters{
		PatientID:      q.Get("patient_id"),
		PrescriptionID: q.Get("prescription_id"),
	}
	if start, end := q.Get("start_date"), q.Get("end_date"); start != "" || end != "" {
		f.DateRange = &domain.DateRange{Start: start, End: end}
	}
	return f
}
