package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wisefido-medication/internal/batch"
	"wisefido-medication/internal/config"
	"wisefido-medication/internal/consumer"
	"wisefido-medication/internal/dedup"
	"wisefido-medication/internal/evaluator"
	"wisefido-medication/internal/events"
	httpapi "wisefido-medication/internal/http"
	"wisefido-medication/internal/overlay"
	"wisefido-medication/internal/period"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"
	"wisefido-medication/internal/service"
	"wisefido-medication/internal/store"
	"wisefido-medication/internal/workflow"

	"owl-common/database"
	"owl-common/logger"
	"owl-common/mqtt"
	owlredis "owl-common/redis"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-medication")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 存储：DB 不可用时回落到内存 repo（联调用）
	var (
		db            *sql.DB
		records       repository.WorkflowRecordsRepository
		prescriptions repository.PrescriptionsRepository
		vitals        repository.VitalSignsRepository
		hospital      repository.HospitalizationRepository
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			lg.Info("DB enabled for wisefido-medication")
		} else {
			lg.Warn("DB enabled but connection failed, falling back to memory", zap.Error(err))
		}
	}
	if db != nil {
		records = repository.NewPostgresWorkflowRecordsRepository(db)
		prescriptions = repository.NewPostgresPrescriptionsRepository(db)
		vitals = repository.NewPostgresVitalSignsRepository(db)
		hospital = repository.NewPostgresHospitalizationRepository(db)
	} else {
		records = repository.NewMemoryWorkflowRecordsRepo()
		prescriptions = repository.NewMemoryPrescriptionsRepo()
		vitals = repository.NewMemoryVitalSignsRepo()
		hospital = repository.NewMemoryHospitalizationRepo()
	}
	switch cfg.Medication.VitalsSource {
	case "http":
		vitals = repository.NewHTTPVitalSignsRepository(cfg.Medication.VitalsBaseURL, cfg.Medication.VitalsTimeout, lg)
	case "memory":
		vitals = repository.NewMemoryVitalSignsRepo()
	}

	// Redis：覆盖层、事件流、处方变更消费；不可用时相关功能关闭
	redisClient, err := owlredis.Connect(ctx, &cfg.Redis, 3*time.Second)
	if err != nil {
		lg.Warn("Redis unavailable, overlay and event stream disabled", zap.Error(err))
	}

	// 事件：Redis Stream 审计 + MQTT 护士站提醒
	var sinks events.Fanout
	var batches service.BatchPublisher
	if redisClient != nil {
		stream := events.NewStreamPublisher(redisClient, cfg.Medication.EventStream, cfg.Medication.EventStreamMaxLen, lg)
		sinks = append(sinks, stream)
		batches = stream
	}
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		if c, err := mqtt.NewClient(&cfg.MQTT, lg); err == nil {
			mqttClient = c
			sinks = append(sinks, events.NewNotifier(c, cfg.Medication.AlertTopicPrefix, lg))
		} else {
			lg.Warn("MQTT connection failed, alerts disabled", zap.Error(err))
		}
	}

	var writer workflow.Writer = records
	var merged service.MergedReader
	if redisClient != nil {
		ov := overlay.New(store.NewRedisKV(redisClient), cfg.Medication.OverlayKeyPrefix, cfg.Medication.OverlayTTL, lg)
		ow := overlay.NewWriter(ov, records, lg)
		writer = ow
		merged = ow
	}

	loc := cfg.Medication.Location
	expander := schedule.NewExpander(prescriptions, records, cfg.Medication.BatchConcurrency, lg)
	gate := evaluator.NewSafetyGate(vitals, loc, cfg.Medication.ExactMatchWindow, cfg.Medication.FuzzyMatchWindow, lg)
	executor := workflow.NewExecutor(records, prescriptions, writer, period.NewGuard(hospital, loc, lg), gate, sinks, lg)

	svc := service.NewMedicationService(service.Deps{
		Records:      records,
		Expander:     expander,
		Executor:     executor,
		Reverser:     workflow.NewReverser(records, writer, sinks, lg),
		Orchestrator: batch.NewOrchestrator(executor, records, prescriptions, cfg.Medication.BatchConcurrency, lg),
		Deduplicator: dedup.NewDeduplicator(records, lg),
		Merged:       merged,
		Batches:      batches,
		Location:     loc,
		HorizonDays:  cfg.Medication.ExpansionHorizonDays,
	}, lg)

	router := httpapi.NewRouter(lg)
	router.RegisterMedicationRoutes(httpapi.NewMedicationHandler(svc, lg))
	srv := service.NewServer(cfg.HTTP.Addr, router, lg)

	var wg sync.WaitGroup
	scheduler, err := service.NewExpansionScheduler(expander, loc, cfg.Medication.ExpansionHorizonDays, cfg.Medication.ExpansionHour, cfg.Medication.ExpandOnStartup, lg)
	if err != nil {
		lg.Fatal("Failed to create expansion scheduler", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	if redisClient != nil {
		pc := consumer.NewPrescriptionConsumer(consumer.Options{
			Stream:        cfg.Medication.PrescriptionStream,
			Group:         cfg.Medication.ConsumerGroup,
			Consumer:      cfg.Medication.ConsumerName,
			HorizonDays:   cfg.Medication.ExpansionHorizonDays,
			Location:      loc,
			RetryInterval: cfg.Medication.ConsumerRetry,
			MaxAttempts:   cfg.Medication.ConsumerMaxRetries,
		}, redisClient, expander, lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pc.Start(ctx); err != nil {
				lg.Error("Prescription consumer stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		lg.Error("HTTP server error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	wg.Wait()

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	_ = owlredis.Close(redisClient)
	if db != nil {
		_ = database.Close(db)
	}
}
