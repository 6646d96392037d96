package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "owl-common/redis"
)

// PrescriptionEventType 处方变更事件类型
type PrescriptionEventType string

const (
	PrescriptionCreated   PrescriptionEventType = "created"
	PrescriptionUpdated   PrescriptionEventType = "updated"
	PrescriptionActivated PrescriptionEventType = "activated"
)

// PrescriptionEvent 处方服务发布的变更事件
type PrescriptionEvent struct {
	Type           PrescriptionEventType `json:"type"`
	PrescriptionID string                `json:"prescription_id"`
	PatientID      string                `json:"patient_id,omitempty"`
}

// Materializer 生成给药记录
type Materializer interface {
	Materialize(ctx context.Context, scope repository.PrescriptionScope, dates domain.DateRange) (*schedule.MaterializeResult, error)
}

// Options 消费者配置
type Options struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int64
	Block         time.Duration
	HorizonDays   int
	Location      *time.Location
	RetryInterval time.Duration // 重新处理 pending 消息的间隔
	MaxAttempts   int           // 超过后记录错误并确认，不再重试
}

// PrescriptionConsumer 处方变更后为该处方补齐未来若干天的给药记录
type PrescriptionConsumer struct {
	opts         Options
	redisClient  *redis.Client
	materializer Materializer
	attempts     map[string]int // messageID -> 失败次数，仅消费循环使用
	now          func() time.Time
	logger       *zap.Logger
}

// NewPrescriptionConsumer 创建处方变更消费者
func NewPrescriptionConsumer(opts Options, redisClient *redis.Client, materializer Materializer, logger *zap.Logger) *PrescriptionConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &PrescriptionConsumer{
		opts:         opts,
		redisClient:  redisClient,
		materializer: materializer,
		attempts:     make(map[string]int),
		now:          time.Now,
		logger:       logger,
	}
}

// Start 启动消费循环，ctx 取消后返回
func (c *PrescriptionConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.opts.Stream, c.opts.Group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.opts.Stream, err)
	}

	c.logger.Info("Prescription consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("consumer_group", c.opts.Group),
		zap.String("consumer_name", c.opts.Consumer),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second
	var lastRetry time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// 启动时及每隔 RetryInterval 重新处理上次失败的消息
		if time.Since(lastRetry) >= c.opts.RetryInterval {
			lastRetry = time.Now()
			if _, err := c.retryPending(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Failed to retry pending prescription events", zap.Error(err))
			}
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume prescription stream", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

// consumeOnce 读取并处理一批新消息，返回已确认的消息数
// 处理失败的消息不确认，留在 pending 列表等待 retryPending
func (c *PrescriptionConsumer) consumeOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize, c.opts.Block)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.opts.Stream, err)
	}
	return c.handle(ctx, messages), nil
}

// retryPending 重新处理本消费者 pending 列表中的消息
func (c *PrescriptionConsumer) retryPending(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadPending(ctx, c.redisClient, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending from stream %s: %w", c.opts.Stream, err)
	}
	if len(messages) > 0 {
		c.logger.Info("Retrying pending prescription events", zap.Int("count", len(messages)))
	}
	return c.handle(ctx, messages), nil
}

// handle 处理并确认消息；失败达到 MaxAttempts 次后放弃
func (c *PrescriptionConsumer) handle(ctx context.Context, messages []rediscommon.StreamMessage) int {
	acked := 0
	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.attempts[msg.ID]++
			if c.attempts[msg.ID] < c.opts.MaxAttempts {
				c.logger.Error("Failed to process prescription event",
					zap.String("message_id", msg.ID),
					zap.Int("attempt", c.attempts[msg.ID]),
					zap.Error(err),
				)
				continue
			}
			c.logger.Error("Giving up on prescription event, daily expansion will cover it",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", c.attempts[msg.ID]),
				zap.Error(err),
			)
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, c.opts.Stream, c.opts.Group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		delete(c.attempts, msg.ID)
		acked++
	}
	return acked
}

func (c *PrescriptionConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	var ev PrescriptionEvent
	if err := json.Unmarshal([]byte(msg.Data()), &ev); err != nil || ev.PrescriptionID == "" {
		// 格式错误的消息无法重试成功，记录后确认
		c.logger.Warn("Skipping malformed prescription event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	switch ev.Type {
	case PrescriptionCreated, PrescriptionUpdated, PrescriptionActivated:
	default:
		c.logger.Debug("Ignoring prescription event", zap.String("type", string(ev.Type)))
		return nil
	}

	dates := schedule.Horizon(c.now(), c.opts.Location, c.opts.HorizonDays)
	result, err := c.materializer.Materialize(ctx, repository.PrescriptionScope{
		PrescriptionID: ev.PrescriptionID,
		ActiveOnly:     true,
	}, dates)
	if err != nil {
		return fmt.Errorf("failed to materialize prescription %s: %w", ev.PrescriptionID, err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("failed to materialize prescription %s: %d failures", ev.PrescriptionID, result.Failed)
	}

	c.logger.Info("Prescription schedule materialized",
		zap.String("prescription_id", ev.PrescriptionID),
		zap.String("event_type", string(ev.Type)),
		zap.String("start_date", dates.Start),
		zap.String("end_date", dates.End),
		zap.Int("generated", result.Generated),
		zap.Int("existing", result.Existing),
	)
	return nil
}
