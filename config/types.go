package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type AppConfig struct {
	DBDriver   string `yaml:"db_driver" env:"SAPSAN_DB_DRIVER" env-default:"sqlite"`
	DBURL      string `yaml:"db_url" env:"SAPSAN_DB_URL" env-default:"data/sapsan.db"`
	ListenAddr string `yaml:"listen_addr" env:"SAPSAN_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv     string `yaml:"app_env" env:"SAPSAN_APP_ENV"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Risk       RiskConfig       `yaml:"risk"`
	Decision   DecisionConfig   `yaml:"decision"`
	Escalation EscalationConfig `yaml:"escalation"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Impact     ImpactConfig     `yaml:"impact"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ClassifierConfig struct {
	Backend         string  `yaml:"backend" env:"SAPSAN_CLASSIFIER_BACKEND" env-default:"keyword"`
	ConfidenceFloor float64 `yaml:"confidence_floor" env:"SAPSAN_CLASSIFIER_CONFIDENCE_FLOOR" env-default:"0.5"`
	TimeoutSec      int     `yaml:"timeout_sec" env:"SAPSAN_CLASSIFIER_TIMEOUT_SEC" env-default:"20"`
	LLMModel        string  `yaml:"llm_model" env:"SAPSAN_CLASSIFIER_LLM_MODEL" env-default:"gpt-4o-mini"`
}

type RiskConfig struct {
	// Weights maps incident category -> dimension -> weight. Weights within a
	// category must sum to 1.0; validated at load, not at call time.
	Weights map[string]map[string]float64 `yaml:"weights"`
	// BaseImpactCents maps incident category -> baseline financial exposure.
	BaseImpactCents map[string]int64 `yaml:"base_impact_cents"`
}

type DecisionConfig struct {
	AutonomyConfidenceFloor    float64 `yaml:"autonomy_confidence_floor" env:"SAPSAN_AUTONOMY_CONFIDENCE_FLOOR" env-default:"0.75"`
	AutonomyRiskCeiling        float64 `yaml:"autonomy_risk_ceiling" env:"SAPSAN_AUTONOMY_RISK_CEILING" env-default:"0.4"`
	AutonomyImpactCeilingCents int64   `yaml:"autonomy_impact_ceiling_cents" env:"SAPSAN_AUTONOMY_IMPACT_CEILING_CENTS" env-default:"100000"`
}

type EscalationConfig struct {
	DefaultTimeoutMin int            `yaml:"default_timeout_min" env:"SAPSAN_ESCALATION_TIMEOUT_MIN" env-default:"30"`
	TimeoutByPriority map[string]int `yaml:"timeout_by_priority"`
	WebhookURL        string         `yaml:"webhook_url" env:"SAPSAN_ESCALATION_WEBHOOK_URL"`
	CallbackBaseURL   string         `yaml:"callback_base_url" env:"SAPSAN_ESCALATION_CALLBACK_BASE_URL" env-default:"http://localhost:8080"`
}

type AdaptersConfig struct {
	PropertyURL        string `yaml:"property_url" env:"SAPSAN_ADAPTER_PROPERTY_URL"`
	AccessControlURL   string `yaml:"access_control_url" env:"SAPSAN_ADAPTER_ACCESS_CONTROL_URL"`
	NotificationURL    string `yaml:"notification_url" env:"SAPSAN_ADAPTER_NOTIFICATION_URL"`
	WorkforceURL       string `yaml:"workforce_url" env:"SAPSAN_ADAPTER_WORKFORCE_URL"`
	TimeoutSec         int    `yaml:"timeout_sec" env:"SAPSAN_ADAPTER_TIMEOUT_SEC" env-default:"15"`
	MaxParallelActions int    `yaml:"max_parallel_actions" env:"SAPSAN_ADAPTER_MAX_PARALLEL" env-default:"4"`
}

type ImpactConfig struct {
	PerCallCostCents   int64            `yaml:"per_call_cost_cents" env:"SAPSAN_IMPACT_PER_CALL_COST_CENTS" env-default:"12"`
	PerMinuteCostCents int64            `yaml:"per_minute_cost_cents" env:"SAPSAN_IMPACT_PER_MINUTE_COST_CENTS" env-default:"50"`
	AvoidedCostCents   map[string]int64 `yaml:"avoided_cost_cents"`
}

type AuthConfig struct {
	Operators []OperatorKey `yaml:"operators"`
}

// OperatorKey grants API access. KeyHash is a bcrypt hash of the raw key
// presented in the X-Api-Key header.
type OperatorKey struct {
	Name    string `yaml:"name"`
	Role    string `yaml:"role"`
	KeyHash string `yaml:"key_hash"`
}

func (c *EscalationConfig) TimeoutFor(priority string) time.Duration {
	minutes := c.DefaultTimeoutMin
	if minutes <= 0 {
		minutes = 30
	}
	if c.TimeoutByPriority != nil {
		if v, ok := c.TimeoutByPriority[strings.ToLower(strings.TrimSpace(priority))]; ok && v > 0 {
			minutes = v
		}
	}
	return time.Duration(minutes) * time.Minute
}

func (c *AppConfig) Validate() error {
	if c.Decision.AutonomyConfidenceFloor < 0 || c.Decision.AutonomyConfidenceFloor > 1 {
		return fmt.Errorf("decision.autonomy_confidence_floor %v outside [0,1]", c.Decision.AutonomyConfidenceFloor)
	}
	if c.Decision.AutonomyRiskCeiling < 0 || c.Decision.AutonomyRiskCeiling > 1 {
		return fmt.Errorf("decision.autonomy_risk_ceiling %v outside [0,1]", c.Decision.AutonomyRiskCeiling)
	}
	if c.Classifier.ConfidenceFloor < 0 || c.Classifier.ConfidenceFloor > 1 {
		return fmt.Errorf("classifier.confidence_floor %v outside [0,1]", c.Classifier.ConfidenceFloor)
	}
	for category, weights := range c.Risk.Weights {
		sum := 0.0
		for dim, w := range weights {
			if w < 0 {
				return fmt.Errorf("risk.weights[%s][%s] is negative", category, dim)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return fmt.Errorf("risk.weights[%s] sum to %v, want 1.0", category, sum)
		}
	}
	for _, op := range c.Auth.Operators {
		if strings.TrimSpace(op.Name) == "" || strings.TrimSpace(op.KeyHash) == "" {
			return fmt.Errorf("auth.operators entries require name and key_hash")
		}
	}
	return nil
}
