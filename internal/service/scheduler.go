package service

import (
	"context"
	"fmt"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Materializer 排程展开
type Materializer interface {
	Materialize(ctx context.Context, scope repository.PrescriptionScope, dates domain.DateRange) (*schedule.MaterializeResult, error)
}

// ExpansionScheduler 启动时及每天固定时刻展开全部 active 处方
type ExpansionScheduler struct {
	materializer Materializer
	location     *time.Location
	horizonDays  int
	onStartup    bool
	cronExpr     string
	schedule     cron.Schedule
	now          func() time.Time
	logger       *zap.Logger
}

// NewExpansionScheduler 创建定时展开任务；hour 为机构时区的整点（0-23）
func NewExpansionScheduler(m Materializer, loc *time.Location, horizonDays, hour int, onStartup bool, logger *zap.Logger) (*ExpansionScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	cronExpr := fmt.Sprintf("0 %d * * *", hour)
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid expansion hour %d: %w", hour, err)
	}
	return &ExpansionScheduler{
		materializer: m,
		location:     loc,
		horizonDays:  horizonDays,
		onStartup:    onStartup,
		cronExpr:     cronExpr,
		schedule:     sched,
		now:          time.Now,
		logger:       logger,
	}, nil
}

// Start 阻塞运行直到 ctx 取消；上一次未结束时跳过本次
func (s *ExpansionScheduler) Start(ctx context.Context) {
	if s.onStartup {
		s.RunOnce(ctx)
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))
	c.Start()
	s.logger.Info("Expansion scheduler started",
		zap.String("cron", s.cronExpr),
		zap.String("location", s.location.String()),
		zap.Time("next_run", s.nextRun(s.now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
}

// RunOnce 展开一次；错误只记录日志，下次定时重试
func (s *ExpansionScheduler) RunOnce(ctx context.Context) *schedule.MaterializeResult {
	dates := schedule.Horizon(s.now(), s.location, s.horizonDays)
	result, err := s.materializer.Materialize(ctx, repository.PrescriptionScope{ActiveOnly: true}, dates)
	if err != nil {
		s.logger.Error("Scheduled expansion failed",
			zap.String("start_date", dates.Start),
			zap.String("end_date", dates.End),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Info("Scheduled expansion finished",
		zap.String("start_date", dates.Start),
		zap.String("end_date", dates.End),
		zap.Int("generated", result.Generated),
		zap.Int("existing", result.Existing),
		zap.Int("failed", result.Failed),
	)
	return result
}

// nextRun now 之后的下一次触发时间（机构时区）
func (s *ExpansionScheduler) nextRun(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.location))
}

// cronLogger 将 cron 日志转到 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
