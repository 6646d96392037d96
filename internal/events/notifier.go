package events

import (
	"context"
	"encoding/json"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/workflow"

	"go.uber.org/zap"
)

// MQTTPublisher MQTT 发布（owl-common/mqtt.Client 满足此接口）
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	QoS() byte
	IsConnected() bool
}

// Alert 护士站提醒
type Alert struct {
	RecordID       string                   `json:"record_id"`
	PrescriptionID string                   `json:"prescription_id"`
	PatientID      string                   `json:"patient_id"`
	ScheduledDate  string                   `json:"scheduled_date"`
	ScheduledTime  string                   `json:"scheduled_time"`
	Kind           workflow.ResultKind      `json:"kind"`
	Reason         domain.FailureReasonCode `json:"reason,omitempty"`
	MissingVitals  []string                 `json:"missing_vitals,omitempty"`
	BlockedRules   []domain.InspectionRule  `json:"blocked_rules,omitempty"`
}

// Notifier 发药被规则拦截或缺少体征数据时推送提醒
type Notifier struct {
	client      MQTTPublisher
	topicPrefix string
	logger      *zap.Logger
}

// NewNotifier 创建提醒推送
func NewNotifier(client MQTTPublisher, topicPrefix string, logger *zap.Logger) *Notifier {
	return &Notifier{client: client, topicPrefix: topicPrefix, logger: logger}
}

// Publish 实现 workflow.EventSink；只处理需要护士介入的发药结果
func (n *Notifier) Publish(_ context.Context, e workflow.Event) {
	if e.Type != workflow.EventStepExecuted || e.Step != domain.StepDispensing {
		return
	}
	if e.Kind != workflow.KindBlocked && e.Kind != workflow.KindNeedsData {
		return
	}

	if !n.client.IsConnected() {
		n.logger.Warn("MQTT not connected, alert dropped",
			zap.String("record_id", e.RecordID),
			zap.String("kind", string(e.Kind)),
		)
		return
	}

	payload, err := json.Marshal(Alert{
		RecordID:       e.RecordID,
		PrescriptionID: e.PrescriptionID,
		PatientID:      e.PatientID,
		ScheduledDate:  e.ScheduledDate,
		ScheduledTime:  e.ScheduledTime,
		Kind:           e.Kind,
		Reason:         e.Reason,
		MissingVitals:  e.MissingVitals,
		BlockedRules:   e.BlockedRules,
	})
	if err != nil {
		n.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	topic := n.topicPrefix + e.PatientID
	if err := n.client.Publish(topic, n.client.QoS(), false, payload); err != nil {
		n.logger.Warn("Failed to publish alert",
			zap.String("topic", topic),
			zap.String("record_id", e.RecordID),
			zap.Error(err),
		)
	}
}
