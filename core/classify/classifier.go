package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"sapsan-iro/config"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// ErrUnavailable means the backend failed after the retry budget was spent.
// Callers fail the incident instead of guessing a category.
var ErrUnavailable = errors.New("classifier unavailable")

// Known incident categories. A backend may return any of these; anything
// else is mapped to CategoryGeneral.
const (
	CategoryUnauthorizedAccess = "unauthorized_access"
	CategoryPaymentAnomaly     = "payment_anomaly"
	CategoryDataExposure       = "data_exposure"
	CategoryFacilityFault      = "facility_fault"
	CategoryGeneral            = "general"
)

func KnownCategory(category string) bool {
	switch category {
	case CategoryUnauthorizedAccess, CategoryPaymentAnomaly, CategoryDataExposure,
		CategoryFacilityFault, CategoryGeneral:
		return true
	}
	return false
}

// Result is a backend verdict before the service normalizes it.
type Result struct {
	Category     string
	Confidence   float64
	Alternatives []store.CategoryScore
}

// Backend produces a raw category verdict. Transient failures should be
// wrapped with retry.RetryableError so the service retries them once.
type Backend interface {
	Name() string
	Categorize(ctx context.Context, incident *store.Incident) (*Result, error)
}

type Service struct {
	backend     Backend
	assessments store.AssessmentsStore
	cfg         config.ClassifierConfig
	logger      *utils.Logger
}

func NewService(backend Backend, assessments store.AssessmentsStore, cfg config.ClassifierConfig, logger *utils.Logger) *Service {
	return &Service{backend: backend, assessments: assessments, cfg: cfg, logger: logger}
}

// Classify runs the backend with a bounded timeout and a single retry, then
// persists the verdict. A confidence below the configured floor is still a
// valid verdict; the decision engine downstream is what refuses to act on it.
func (s *Service) Classify(ctx context.Context, incident *store.Incident) (*store.Classification, error) {
	timeout := time.Duration(s.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *Result
	backoff := retry.WithMaxRetries(1, retry.NewConstant(500*time.Millisecond))
	err := retry.Do(cctx, backoff, func(ctx context.Context) error {
		r, err := s.backend.Categorize(ctx, incident)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.logger.Errorf("classify: backend %s failed for incident %s: %v", s.backend.Name(), incident.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	category := result.Category
	if !KnownCategory(category) {
		category = CategoryGeneral
	}
	confidence := clamp01(result.Confidence)
	if confidence < s.cfg.ConfidenceFloor {
		s.logger.Warnf("classify: incident %s confidence %.2f below floor %.2f (category %s)",
			incident.ID, confidence, s.cfg.ConfidenceFloor, category)
	}

	classification := &store.Classification{
		IncidentID:   incident.ID,
		Category:     category,
		Confidence:   confidence,
		Alternatives: result.Alternatives,
	}
	if err := s.assessments.SaveClassification(ctx, classification); err != nil {
		return nil, fmt.Errorf("save classification: %w", err)
	}
	return classification, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
