package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// Store 去重所需的记录读写
type Store interface {
	ListRecords(ctx context.Context, filters *repository.RecordFilters) ([]*domain.WorkflowRecord, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// Group 同一 (prescription, date, time) 的一组记录
type Group struct {
	Key        domain.RecordKey         `json:"key"`
	Survivor   *domain.WorkflowRecord   `json:"survivor"`
	Duplicates []*domain.WorkflowRecord `json:"duplicates"`
}

// Report 去重报告（只读）
type Report struct {
	Groups       []Group  `json:"groups"`
	CandidateIDs []string `json:"candidate_ids"`
}

// DeleteResult 确认删除结果
type DeleteResult struct {
	Deleted []string          `json:"deleted"`
	Refused map[string]string `json:"refused,omitempty"` // recordID -> 原因
}

// Deduplicator 重复记录检测与确认删除
type Deduplicator struct {
	store  Store
	logger *zap.Logger
}

// NewDeduplicator 创建去重器
func NewDeduplicator(store Store, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{store: store, logger: logger}
}

// FindDuplicates 按键分组，保留 UpdatedAt 最新的一条（相同时保留 ID 较大者），其余为删除候选
func (d *Deduplicator) FindDuplicates(ctx context.Context, filters *repository.RecordFilters) (*Report, error) {
	records, err := d.store.ListRecords(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}

	byKey := map[domain.RecordKey][]*domain.WorkflowRecord{}
	for _, rec := range records {
		byKey[rec.Key()] = append(byKey[rec.Key()], rec)
	}

	report := &Report{Groups: []Group{}, CandidateIDs: []string{}}
	for key, group := range byKey {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return newer(group[i], group[j]) })
		report.Groups = append(report.Groups, Group{Key: key, Survivor: group[0], Duplicates: group[1:]})
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		a, b := report.Groups[i].Key, report.Groups[j].Key
		if a.PrescriptionID != b.PrescriptionID {
			return a.PrescriptionID < b.PrescriptionID
		}
		if a.ScheduledDate != b.ScheduledDate {
			return a.ScheduledDate < b.ScheduledDate
		}
		return a.ScheduledTime < b.ScheduledTime
	})
	for _, g := range report.Groups {
		for _, rec := range g.Duplicates {
			report.CandidateIDs = append(report.CandidateIDs, rec.RecordID)
		}
	}

	if len(report.Groups) > 0 {
		d.logger.Info("Duplicate workflow records found",
			zap.Int("groups", len(report.Groups)),
			zap.Int("candidates", len(report.CandidateIDs)),
		)
	}
	return report, nil
}

// DeleteConfirmed 删除操作员确认的记录；重新生成报告，拒绝保留记录和已不再重复的记录
func (d *Deduplicator) DeleteConfirmed(ctx context.Context, recordIDs []string) (*DeleteResult, error) {
	if len(recordIDs) == 0 {
		return nil, domain.NewValidationError("record_ids is required")
	}

	report, err := d.FindDuplicates(ctx, nil)
	if err != nil {
		return nil, err
	}
	candidates := map[string]bool{}
	survivors := map[string]bool{}
	for _, g := range report.Groups {
		survivors[g.Survivor.RecordID] = true
		for _, rec := range g.Duplicates {
			candidates[rec.RecordID] = true
		}
	}

	result := &DeleteResult{Deleted: []string{}, Refused: map[string]string{}}
	for _, id := range recordIDs {
		switch {
		case survivors[id]:
			result.Refused[id] = "survivor"
			continue
		case !candidates[id]:
			result.Refused[id] = "not a duplicate"
			continue
		}
		if err := d.store.DeleteRecord(ctx, id); err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				result.Refused[id] = "not found"
				continue
			}
			return result, &domain.PersistenceError{Op: "delete", RecordID: id, Err: err}
		}
		// 同一请求中重复的 ID 不再处理
		delete(candidates, id)
		result.Deleted = append(result.Deleted, id)
	}

	d.logger.Info("Duplicate workflow records deleted",
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("refused", len(result.Refused)),
	)
	return result, nil
}

func newer(a, b *domain.WorkflowRecord) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.RecordID > b.RecordID
}
