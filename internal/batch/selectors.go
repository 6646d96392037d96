package batch

import (
	"context"
	"errors"
	"fmt"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// SelectPendingDispensing 住户在日期范围内待发药的记录（不含自理处方）
func (o *Orchestrator) SelectPendingDispensing(ctx context.Context, patientID string, dates domain.DateRange) ([]string, error) {
	return o.selectRecords(ctx, patientID, dates, func(p *domain.Prescription) bool {
		return !p.IsSelfCare()
	})
}

// SelectFullProcess 一键全流程候选：即配即发 + 口服 + 无检查规则，且发药仍为 pending
func (o *Orchestrator) SelectFullProcess(ctx context.Context, patientID string, dates domain.DateRange) ([]string, error) {
	return o.selectRecords(ctx, patientID, dates, func(p *domain.Prescription) bool {
		return p.IsFullProcessEligible()
	})
}

func (o *Orchestrator) selectRecords(ctx context.Context, patientID string, dates domain.DateRange, keep func(*domain.Prescription) bool) ([]string, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id is required")
	}
	if err := dates.Validate(); err != nil {
		return nil, err
	}

	records, err := o.records.ListRecords(ctx, &repository.RecordFilters{PatientID: patientID, DateRange: &dates})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}

	cache := map[string]*domain.Prescription{}
	ids := []string{}
	for _, rec := range records {
		if rec.Dispensing.Status != domain.StatusPending {
			continue
		}
		p, ok := cache[rec.PrescriptionID]
		if !ok {
			p, err = o.prescriptions.GetPrescription(ctx, rec.PrescriptionID)
			if err != nil {
				if errors.Is(err, domain.ErrPrescriptionNotFound) {
					o.logger.Warn("Workflow record references missing prescription",
						zap.String("record_id", rec.RecordID),
						zap.String("prescription_id", rec.PrescriptionID),
					)
					cache[rec.PrescriptionID] = nil
					continue
				}
				return nil, err
			}
			cache[rec.PrescriptionID] = p
		}
		if p != nil && keep(p) {
			ids = append(ids, rec.RecordID)
		}
	}
	return ids, nil
}
