package repository

import (
	"context"
	"fmt"
	"time"

	"wisefido-medication/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// vitalSignsResponse 生命体征服务返回（Result 信封，code=2000 表示成功）
type vitalSignsResponse struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  struct {
		Items []domain.VitalSignRecord `json:"items"`
	} `json:"result"`
}

const vitalSignsSuccessCode = 2000

// HTTPVitalSignsRepository 通过生命体征服务 HTTP API 读取测量数据
// 外部读取为单次调用，不做自动重试
type HTTPVitalSignsRepository struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPVitalSignsRepository 创建生命体征 HTTP 客户端
func NewHTTPVitalSignsRepository(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPVitalSignsRepository {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &HTTPVitalSignsRepository{
		httpClient: client,
		logger:     logger,
	}
}

var _ VitalSignsRepository = (*HTTPVitalSignsRepository)(nil)

// ListVitalSigns GET /vitals/api/v1/patients/{patient_id}/vital-signs
func (r *HTTPVitalSignsRepository) ListVitalSigns(ctx context.Context, patientID, vitalType string, dates domain.DateRange) ([]domain.VitalSignRecord, error) {
	var response vitalSignsResponse
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetPathParam("patient_id", patientID).
		SetQueryParams(map[string]string{
			"type":       vitalType,
			"start_date": dates.Start,
			"end_date":   dates.End,
		}).
		SetResult(&response).
		Get("/vitals/api/v1/patients/{patient_id}/vital-signs")
	if err != nil {
		r.logger.Error("Vital signs API call failed",
			zap.String("patient_id", patientID),
			zap.String("vital_type", vitalType),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to call vital signs API: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("vital signs API returned HTTP %d", resp.StatusCode())
	}
	if response.Code != vitalSignsSuccessCode {
		r.logger.Warn("Vital signs API returned error",
			zap.Int("code", response.Code),
			zap.String("message", response.Message),
		)
		return nil, fmt.Errorf("vital signs API error: %s (code: %d)", response.Message, response.Code)
	}

	items := response.Result.Items
	if items == nil {
		items = []domain.VitalSignRecord{}
	}
	return items, nil
}
