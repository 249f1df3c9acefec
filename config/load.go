package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads configuration from the given YAML file (when present) overlaid
// with SAPSAN_* environment variables, then validates cross-field invariants.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			if err := cleanenv.ReadEnv(&cfg); err != nil {
				return nil, fmt.Errorf("read env config: %w", err)
			}
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if len(cfg.Risk.Weights) == 0 {
		cfg.Risk.Weights = DefaultRiskWeights()
	}
	if len(cfg.Risk.BaseImpactCents) == 0 {
		cfg.Risk.BaseImpactCents = DefaultBaseImpact()
	}
	if len(cfg.Impact.AvoidedCostCents) == 0 {
		cfg.Impact.AvoidedCostCents = DefaultAvoidedCost()
	}
}

// DefaultRiskWeights covers the built-in incident categories. Each category's
// weights sum to 1.0.
func DefaultRiskWeights() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"unauthorized_access": {
			"guest_safety":           0.40,
			"financial_impact":       0.15,
			"compliance_risk":        0.25,
			"operational_disruption": 0.20,
		},
		"payment_anomaly": {
			"guest_safety":           0.05,
			"financial_impact":       0.55,
			"compliance_risk":        0.30,
			"operational_disruption": 0.10,
		},
		"data_exposure": {
			"guest_safety":           0.10,
			"financial_impact":       0.20,
			"compliance_risk":        0.55,
			"operational_disruption": 0.15,
		},
		"facility_fault": {
			"guest_safety":           0.30,
			"financial_impact":       0.20,
			"compliance_risk":        0.05,
			"operational_disruption": 0.45,
		},
		"general": {
			"guest_safety":           0.25,
			"financial_impact":       0.25,
			"compliance_risk":        0.25,
			"operational_disruption": 0.25,
		},
	}
}

func DefaultBaseImpact() map[string]int64 {
	return map[string]int64{
		"unauthorized_access": 75000,
		"payment_anomaly":     150000,
		"data_exposure":       500000,
		"facility_fault":      40000,
		"general":             25000,
	}
}

func DefaultAvoidedCost() map[string]int64 {
	return map[string]int64{
		"unauthorized_access": 60000,
		"payment_anomaly":     120000,
		"data_exposure":       400000,
		"facility_fault":      30000,
		"general":             15000,
	}
}
