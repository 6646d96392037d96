package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterMedicationRoutes 给药流程路由
func (r *Router) RegisterMedicationRoutes(h *MedicationHandler) {
	r.Handle("/medication/api/v1/schedule/expand", allow(http.MethodPost, h.ExpandSchedule))
	r.Handle("/medication/api/v1/schedule/completeness", allow(http.MethodGet, h.CheckCompleteness))

	r.Handle("/medication/api/v1/records", allow(http.MethodGet, h.ListRecords))
	// records/{id}、records/{id}/steps/{step}、records/{id}/steps/{step}/revert
	r.Handle("/medication/api/v1/records/", h.RecordRoutes)

	r.Handle("/medication/api/v1/batch", allow(http.MethodPost, h.RunBatch))

	r.Handle("/medication/api/v1/duplicates", allow(http.MethodGet, h.FindDuplicates))
	r.Handle("/medication/api/v1/duplicates/delete", allow(http.MethodPost, h.DeleteDuplicates))

	r.Handle("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}
