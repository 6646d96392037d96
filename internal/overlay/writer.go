package overlay

import (
	"context"
	"errors"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/store"

	"go.uber.org/zap"
)

// Repository 覆盖层包装的记录存储
type Repository interface {
	GetRecord(ctx context.Context, recordID string) (*domain.WorkflowRecord, error)
	UpdateRecord(ctx context.Context, record *domain.WorkflowRecord, expected time.Time) error
}

// Writer 先登记补丁再写存储；成功确认，失败回滚
// KV 不可用时只记录日志，写入照常进行
type Writer struct {
	overlay *Overlay
	repo    Repository
	logger  *zap.Logger
}

// NewWriter 创建带覆盖层的写入器
func NewWriter(overlay *Overlay, repo Repository, logger *zap.Logger) *Writer {
	return &Writer{overlay: overlay, repo: repo, logger: logger}
}

// UpdateRecord 实现 workflow.Writer
func (w *Writer) UpdateRecord(ctx context.Context, record *domain.WorkflowRecord, expected time.Time) error {
	base, err := w.repo.GetRecord(ctx, record.RecordID)
	if err != nil {
		return err
	}

	staged := true
	if err := w.overlay.Stage(ctx, base, record); err != nil {
		staged = false
		w.logger.Warn("Overlay stage failed, writing without overlay",
			zap.String("record_id", record.RecordID),
			zap.Error(err),
		)
	}

	if err := w.repo.UpdateRecord(ctx, record, expected); err != nil {
		if staged {
			if _, rbErr := w.overlay.Rollback(ctx, record.RecordID); rbErr != nil && !errors.Is(rbErr, store.ErrMiss) {
				w.logger.Warn("Overlay rollback failed", zap.String("record_id", record.RecordID), zap.Error(rbErr))
			}
		}
		return err
	}

	if staged {
		if err := w.overlay.Confirm(ctx, record.RecordID); err != nil {
			w.logger.Warn("Overlay confirm failed", zap.String("record_id", record.RecordID), zap.Error(err))
		}
	}
	return nil
}

// GetRecord 合并视图：存在挂起补丁时返回补丁状态
func (w *Writer) GetRecord(ctx context.Context, recordID string) (*domain.WorkflowRecord, bool, error) {
	pending, err := w.overlay.Pending(ctx, recordID)
	if err == nil && pending != nil {
		return pending, true, nil
	}
	if err != nil && !errors.Is(err, store.ErrMiss) {
		w.logger.Warn("Overlay read failed", zap.String("record_id", recordID), zap.Error(err))
	}
	rec, err := w.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}
