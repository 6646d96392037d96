package events

import (
	"context"
	"time"

	"wisefido-medication/internal/batch"
	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/workflow"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	owlredis "owl-common/redis"
)

// EventBatchExecuted 批量执行汇总事件
const EventBatchExecuted workflow.EventType = "batch_executed"

// BatchEvent 批量执行汇总（审计）
type BatchEvent struct {
	Type         workflow.EventType `json:"type"`
	Step         domain.Step        `json:"step"`
	FullProcess  bool               `json:"full_process"`
	StaffID      string             `json:"staff_id"`
	Total        int                `json:"total"`
	Success      int                `json:"success"`
	Hospitalized int                `json:"hospitalized"`
	OnVacation   int                `json:"on_vacation"`
	Blocked      int                `json:"blocked"`
	Failed       int                `json:"failed"`
	At           time.Time          `json:"at"`
}

// StreamPublisher 将流程事件写入 Redis Stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher 创建 Stream 发布器
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish 实现 workflow.EventSink
func (p *StreamPublisher) Publish(ctx context.Context, e workflow.Event) {
	if _, err := owlredis.PublishJSONToStream(ctx, p.client, p.stream, e, p.maxLen); err != nil {
		p.logger.Warn("Failed to publish workflow event",
			zap.String("stream", p.stream),
			zap.String("record_id", e.RecordID),
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}

// PublishBatch 发布批量执行汇总
func (p *StreamPublisher) PublishBatch(ctx context.Context, req batch.Request, s *batch.Summary) {
	e := BatchEvent{
		Type:         EventBatchExecuted,
		Step:         req.Step,
		FullProcess:  req.FullProcess,
		StaffID:      req.StaffID,
		Total:        s.Total,
		Success:      s.Success,
		Hospitalized: s.Hospitalized,
		OnVacation:   s.OnVacation,
		Blocked:      s.Blocked,
		Failed:       s.Failed,
		At:           time.Now().UTC(),
	}
	if req.FullProcess {
		e.Step = domain.StepDispensing
	}
	if _, err := owlredis.PublishJSONToStream(ctx, p.client, p.stream, e, p.maxLen); err != nil {
		p.logger.Warn("Failed to publish batch summary", zap.String("stream", p.stream), zap.Error(err))
	}
}
