package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wisefido-medication/internal/domain"
)

// ---- prescriptions ----

// MemoryPrescriptionsRepo 内存处方库（DB 未启用时由种子数据填充）
type MemoryPrescriptionsRepo struct {
	mu            sync.RWMutex
	prescriptions map[string]*domain.Prescription
}

func NewMemoryPrescriptionsRepo(prescriptions ...*domain.Prescription) *MemoryPrescriptionsRepo {
	r := &MemoryPrescriptionsRepo{prescriptions: map[string]*domain.Prescription{}}
	for _, p := range prescriptions {
		r.Put(p)
	}
	return r
}

var _ PrescriptionsRepository = (*MemoryPrescriptionsRepo)(nil)

// Put 新增或替换处方
func (r *MemoryPrescriptionsRepo) Put(p *domain.Prescription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.prescriptions[p.PrescriptionID] = &cp
}

func (r *MemoryPrescriptionsRepo) GetPrescription(_ context.Context, prescriptionID string) (*domain.Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prescriptions[prescriptionID]
	if !ok {
		return nil, fmt.Errorf("prescription %s: %w", prescriptionID, domain.ErrPrescriptionNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPrescriptionsRepo) ListPrescriptions(_ context.Context, scope PrescriptionScope) ([]*domain.Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.Prescription{}
	for _, p := range r.prescriptions {
		if scope.PrescriptionID != "" && p.PrescriptionID != scope.PrescriptionID {
			continue
		}
		if scope.PatientID != "" && p.PatientID != scope.PatientID {
			continue
		}
		if scope.ActiveOnly && p.Status != domain.PrescriptionActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientID != out[j].PatientID {
			return out[i].PatientID < out[j].PatientID
		}
		return out[i].PrescriptionID < out[j].PrescriptionID
	})
	return out, nil
}

// ---- vital signs ----

// MemoryVitalSignsRepo 内存生命体征库
type MemoryVitalSignsRepo struct {
	mu      sync.RWMutex
	records []domain.VitalSignRecord
}

func NewMemoryVitalSignsRepo(records ...domain.VitalSignRecord) *MemoryVitalSignsRepo {
	return &MemoryVitalSignsRepo{records: append([]domain.VitalSignRecord(nil), records...)}
}

var _ VitalSignsRepository = (*MemoryVitalSignsRepo)(nil)

// Add 追加测量记录
func (r *MemoryVitalSignsRepo) Add(records ...domain.VitalSignRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
}

func (r *MemoryVitalSignsRepo) ListVitalSigns(_ context.Context, patientID, vitalType string, dates domain.DateRange) ([]domain.VitalSignRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.VitalSignRecord{}
	for _, v := range r.records {
		if v.PatientID == patientID && v.Type == vitalType && dates.Contains(v.RecordedDate) {
			out = append(out, v)
		}
	}
	return out, nil
}

// ---- hospitalization events ----

// MemoryHospitalizationRepo 内存住院/请假事件库
type MemoryHospitalizationRepo struct {
	mu     sync.RWMutex
	events map[string][]domain.HospitalizationEvent // patientID -> events
}

func NewMemoryHospitalizationRepo(events ...domain.HospitalizationEvent) *MemoryHospitalizationRepo {
	r := &MemoryHospitalizationRepo{events: map[string][]domain.HospitalizationEvent{}}
	r.Add(events...)
	return r
}

var _ HospitalizationRepository = (*MemoryHospitalizationRepo)(nil)

// Add 追加事件
func (r *MemoryHospitalizationRepo) Add(events ...domain.HospitalizationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.events[e.PatientID] = append(r.events[e.PatientID], e)
	}
}

func (r *MemoryHospitalizationRepo) ListEvents(_ context.Context, patientID string) ([]domain.HospitalizationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.HospitalizationEvent{}, r.events[patientID]...), nil
}
