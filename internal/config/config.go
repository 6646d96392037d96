package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "owl-common/config"
)

// Config wisefido-medication（给药流程服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  commoncfg.DatabaseConfig
	Redis     commoncfg.RedisConfig
	MQTT      commoncfg.MQTTConfig

	// 给药流程特定配置
	Medication MedicationConfig

	Log struct {
		Level  string
		Format string
	}
}

// MedicationConfig 给药流程配置
type MedicationConfig struct {
	Timezone string         // 机构时区（IANA），如 "Asia/Shanghai"
	Location *time.Location // 由 Timezone 解析

	// 生命体征匹配窗口（默认 30 / 60 分钟）
	ExactMatchWindow time.Duration
	FuzzyMatchWindow time.Duration

	BatchConcurrency int // 批量执行并发数，默认 8

	// 排程展开
	ExpansionHorizonDays int  // 展开天数，默认 7
	ExpansionHour        int  // 每日展开时刻（0-23），默认 2
	ExpandOnStartup      bool // 启动时立即展开一次

	// Redis Streams
	EventStream        string // 流程事件流，默认 "medication:workflow:events"
	EventStreamMaxLen  int64
	PrescriptionStream string // 处方变更流，默认 "prescription:events"
	ConsumerGroup      string
	ConsumerName       string
	ConsumerRetry      time.Duration // pending 消息重试间隔，默认 30s
	ConsumerMaxRetries int           // 单条消息最多处理次数，默认 5

	// 乐观覆盖层
	OverlayKeyPrefix string
	OverlayTTL       time.Duration

	// 生命体征来源：postgres / http / memory
	VitalsSource  string
	VitalsBaseURL string
	VitalsTimeout time.Duration

	AlertTopicPrefix string // MQTT 提醒主题前缀，默认 "medication/alerts/"
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "owlrd",
		SSLMode:         "disable",
		MaxConns:        20,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-medication",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	m := &cfg.Medication
	m.Timezone = getEnv("MEDICATION_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid MEDICATION_TIMEZONE %q: %w", m.Timezone, err)
	}
	m.Location = loc

	m.ExactMatchWindow = time.Duration(parseInt(getEnv("VITALS_EXACT_WINDOW_MINUTES", "30"), 30)) * time.Minute
	m.FuzzyMatchWindow = time.Duration(parseInt(getEnv("VITALS_FUZZY_WINDOW_MINUTES", "60"), 60)) * time.Minute
	if m.FuzzyMatchWindow < m.ExactMatchWindow {
		return nil, fmt.Errorf("fuzzy match window (%s) must not be shorter than exact window (%s)", m.FuzzyMatchWindow, m.ExactMatchWindow)
	}

	m.BatchConcurrency = parseInt(getEnv("BATCH_CONCURRENCY", "8"), 8)
	if m.BatchConcurrency <= 0 {
		m.BatchConcurrency = 1
	}

	m.ExpansionHorizonDays = parseInt(getEnv("EXPANSION_HORIZON_DAYS", "7"), 7)
	m.ExpansionHour = parseInt(getEnv("EXPANSION_HOUR", "2"), 2)
	if m.ExpansionHour < 0 || m.ExpansionHour > 23 {
		return nil, fmt.Errorf("invalid EXPANSION_HOUR %d", m.ExpansionHour)
	}
	m.ExpandOnStartup = getEnv("EXPAND_ON_STARTUP", "true") == "true"

	m.EventStream = getEnv("MEDICATION_EVENT_STREAM", "medication:workflow:events")
	m.EventStreamMaxLen = int64(parseInt(getEnv("MEDICATION_EVENT_STREAM_MAXLEN", "10000"), 10000))
	m.PrescriptionStream = getEnv("PRESCRIPTION_STREAM", "prescription:events")
	m.ConsumerGroup = getEnv("PRESCRIPTION_CONSUMER_GROUP", "medication-expander")
	m.ConsumerName = getEnv("PRESCRIPTION_CONSUMER_NAME", hostnameOr("medication-1"))
	m.ConsumerRetry = time.Duration(parseInt(getEnv("PRESCRIPTION_RETRY_SECONDS", "30"), 30)) * time.Second
	m.ConsumerMaxRetries = parseInt(getEnv("PRESCRIPTION_MAX_ATTEMPTS", "5"), 5)

	m.OverlayKeyPrefix = getEnv("OVERLAY_KEY_PREFIX", "medication:overlay:")
	m.OverlayTTL = time.Duration(parseInt(getEnv("OVERLAY_TTL_SECONDS", "300"), 300)) * time.Second

	m.VitalsSource = getEnv("VITALS_SOURCE", "postgres")
	switch m.VitalsSource {
	case "postgres", "http", "memory":
	default:
		return nil, fmt.Errorf("invalid VITALS_SOURCE %q", m.VitalsSource)
	}
	m.VitalsBaseURL = getEnv("VITALS_BASE_URL", "http://localhost:8080")
	m.VitalsTimeout = time.Duration(parseInt(getEnv("VITALS_TIMEOUT_SECONDS", "5"), 5)) * time.Second

	m.AlertTopicPrefix = getEnv("MEDICATION_ALERT_TOPIC_PREFIX", "medication/alerts/")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
