package evaluator

import (
	"context"
	"fmt"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"go.uber.org/zap"
)

// 默认匹配窗口
const (
	DefaultExactWindow = 30 * time.Minute
	DefaultFuzzyWindow = 60 * time.Minute
)

// SafetyGate 发药前检查：按处方检查规则评估计划时刻附近的生命体征
type SafetyGate struct {
	vitals      repository.VitalSignsRepository
	loc         *time.Location
	exactWindow time.Duration
	fuzzyWindow time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewSafetyGate 创建发药前检查
func NewSafetyGate(
	vitals repository.VitalSignsRepository,
	loc *time.Location,
	exactWindow, fuzzyWindow time.Duration,
	logger *zap.Logger,
) *SafetyGate {
	if loc == nil {
		loc = time.UTC
	}
	if exactWindow <= 0 {
		exactWindow = DefaultExactWindow
	}
	if fuzzyWindow < exactWindow {
		fuzzyWindow = exactWindow
	}
	return &SafetyGate{
		vitals:      vitals,
		loc:         loc,
		exactWindow: exactWindow,
		fuzzyWindow: fuzzyWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate 评估处方的全部检查规则
// 无规则时直接允许；任何规则在模糊窗口内找不到数据时返回 *domain.DataMissingError
func (g *SafetyGate) Evaluate(ctx context.Context, p *domain.Prescription, patientID, date, clock string) (*domain.InspectionCheckResult, error) {
	checkedAt := g.now()
	result := &domain.InspectionCheckResult{
		CanDispense:       true,
		BlockedRules:      []domain.InspectionRule{},
		UsedVitalSignData: []domain.UsedVitalSign{},
		CheckedAt:         &checkedAt,
	}
	if len(p.InspectionRules) == 0 {
		return result, nil
	}

	at, err := domain.Instant(date, clock, g.loc)
	if err != nil {
		return nil, domain.NewValidationError("%v", err)
	}
	dates := domain.DateRange{
		Start: domain.FormatDate(at.Add(-g.fuzzyWindow)),
		End:   domain.FormatDate(at.Add(g.fuzzyWindow)),
	}

	byType := map[string][]domain.VitalSignRecord{}
	var missing []string
	for _, rule := range p.InspectionRules {
		records, ok := byType[rule.VitalSignType]
		if !ok {
			records, err = g.vitals.ListVitalSigns(ctx, patientID, rule.VitalSignType, dates)
			if err != nil {
				return nil, fmt.Errorf("failed to load vital signs (%s): %w", rule.VitalSignType, err)
			}
			byType[rule.VitalSignType] = records
		}

		match, ok := g.match(records, at)
		if !ok {
			missing = appendUnique(missing, rule.VitalSignType)
			continue
		}

		passed := !rule.Triggered(match.value)
		result.UsedVitalSignData = append(result.UsedVitalSignData, domain.UsedVitalSign{
			Rule:       rule,
			Value:      match.value,
			MatchKind:  match.kind,
			RecordedAt: match.at,
			Passed:     passed,
		})
		if !passed && rule.Action == domain.ActionBlockDispensing {
			result.BlockedRules = append(result.BlockedRules, rule)
		}
	}

	if len(missing) > 0 {
		g.logger.Info("Vital sign data missing for inspection rules",
			zap.String("patient_id", patientID),
			zap.String("prescription_id", p.PrescriptionID),
			zap.Strings("missing_types", missing),
		)
		return nil, &domain.DataMissingError{PatientID: patientID, MissingTypes: missing}
	}

	result.CanDispense = len(result.BlockedRules) == 0
	return result, nil
}

type vitalMatch struct {
	value float64
	kind  domain.MatchKind
	at    time.Time
}

// match 先在精确窗口内找距离最近的测量，再退到模糊窗口；距离相同取更新的一条
func (g *SafetyGate) match(records []domain.VitalSignRecord, at time.Time) (vitalMatch, bool) {
	var best vitalMatch
	var bestDist time.Duration
	found := false

	for _, r := range records {
		recordedAt, err := domain.Instant(r.RecordedDate, r.RecordedTime, g.loc)
		if err != nil {
			continue
		}
		dist := absDuration(recordedAt.Sub(at))
		if dist > g.fuzzyWindow {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && recordedAt.After(best.at)) {
			best = vitalMatch{value: r.Value, at: recordedAt}
			bestDist = dist
			found = true
		}
	}
	if !found {
		return vitalMatch{}, false
	}

	// 最近的一条落在精确窗口内即为 exact，否则为 fuzzy
	best.kind = domain.MatchFuzzy
	if bestDist <= g.exactWindow {
		best.kind = domain.MatchExact
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
