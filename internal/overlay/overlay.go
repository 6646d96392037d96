package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/store"

	"go.uber.org/zap"
)

// entry 挂起补丁：写入前的最后确认状态 + 待确认状态
type entry struct {
	Base     *domain.WorkflowRecord `json:"base"`
	Pending  *domain.WorkflowRecord `json:"pending"`
	StagedAt time.Time              `json:"staged_at"`
}

// Overlay 按记录 ID 保存的乐观补丁，每条记录一个 key，互不干扰
type Overlay struct {
	kv     store.KV
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New 创建覆盖层；ttl 限制异常退出后残留补丁的存活时间
func New(kv store.KV, prefix string, ttl time.Duration, logger *zap.Logger) *Overlay {
	if prefix == "" {
		prefix = "medication:overlay:"
	}
	return &Overlay{kv: kv, prefix: prefix, ttl: ttl, logger: logger}
}

func (o *Overlay) key(recordID string) string {
	return o.prefix + recordID
}

// Stage 写入前登记补丁
func (o *Overlay) Stage(ctx context.Context, base, pending *domain.WorkflowRecord) error {
	if pending == nil || pending.RecordID == "" {
		return domain.NewValidationError("pending record is required")
	}
	b, err := json.Marshal(entry{Base: base, Pending: pending, StagedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal overlay entry: %w", err)
	}
	if err := o.kv.Set(ctx, o.key(pending.RecordID), string(b), o.ttl); err != nil {
		return fmt.Errorf("failed to stage overlay: %w", err)
	}
	return nil
}

// Confirm 写入成功后清除补丁
func (o *Overlay) Confirm(ctx context.Context, recordID string) error {
	if err := o.kv.Delete(ctx, o.key(recordID)); err != nil {
		return fmt.Errorf("failed to confirm overlay: %w", err)
	}
	return nil
}

// Rollback 写入失败后清除补丁，返回最后确认状态；没有补丁时返回 store.ErrMiss
func (o *Overlay) Rollback(ctx context.Context, recordID string) (*domain.WorkflowRecord, error) {
	e, err := o.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := o.kv.Delete(ctx, o.key(recordID)); err != nil {
		return nil, fmt.Errorf("failed to roll back overlay: %w", err)
	}
	return e.Base, nil
}

// Pending 当前挂起的补丁；没有时返回 store.ErrMiss
func (o *Overlay) Pending(ctx context.Context, recordID string) (*domain.WorkflowRecord, error) {
	e, err := o.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return e.Pending, nil
}

// PendingIDs 所有存在挂起补丁的记录 ID
func (o *Overlay) PendingIDs(ctx context.Context) ([]string, error) {
	keys, err := o.kv.ScanKeys(ctx, o.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan overlay keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, o.prefix))
	}
	return ids, nil
}

func (o *Overlay) load(ctx context.Context, recordID string) (*entry, error) {
	raw, err := o.kv.Get(ctx, o.key(recordID))
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, store.ErrMiss
		}
		return nil, fmt.Errorf("failed to get overlay: %w", err)
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		o.logger.Warn("Dropping corrupt overlay entry", zap.String("record_id", recordID), zap.Error(err))
		_ = o.kv.Delete(ctx, o.key(recordID))
		return nil, store.ErrMiss
	}
	return &e, nil
}
