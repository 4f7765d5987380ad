package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler maps an outer training iteration to a learning rate.
// Implementations are pure functions of their arguments.
type LRScheduler interface {
	LR(iteration int, baseLR float64) float64
	Name() string
}

// SchedulerConfig selects and parameterizes a schedule. Type is one of
// "constant" (or empty), "step", "exponential" or "cosine".
type SchedulerConfig struct {
	Type     string  `json:"type"`
	StepSize int     `json:"step_size,omitempty"`
	Gamma    float64 `json:"gamma,omitempty"`
	TMax     int     `json:"t_max,omitempty"`
	EtaMin   float64 `json:"eta_min,omitempty"`
}

// NewScheduler builds the schedule described by cfg.
func NewScheduler(cfg SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "constant":
		return ConstantLR{}, nil
	case "step":
		if cfg.StepSize <= 0 {
			return nil, fmt.Errorf("step schedule needs step_size > 0, got %d", cfg.StepSize)
		}
		if cfg.Gamma <= 0 || cfg.Gamma > 1 {
			return nil, fmt.Errorf("step schedule needs gamma in (0, 1], got %v", cfg.Gamma)
		}
		return StepLR{StepSize: cfg.StepSize, Gamma: cfg.Gamma}, nil
	case "exponential":
		if cfg.Gamma <= 0 || cfg.Gamma > 1 {
			return nil, fmt.Errorf("exponential schedule needs gamma in (0, 1], got %v", cfg.Gamma)
		}
		return ExponentialLR{Gamma: cfg.Gamma}, nil
	case "cosine":
		if cfg.TMax <= 0 {
			return nil, fmt.Errorf("cosine schedule needs t_max > 0, got %d", cfg.TMax)
		}
		if cfg.EtaMin < 0 {
			return nil, fmt.Errorf("cosine schedule needs eta_min >= 0, got %v", cfg.EtaMin)
		}
		return CosineAnnealingLR{TMax: cfg.TMax, EtaMin: cfg.EtaMin}, nil
	default:
		return nil, fmt.Errorf("unknown learning rate schedule %q", cfg.Type)
	}
}

// ConstantLR keeps the base rate.
type ConstantLR struct{}

func (ConstantLR) LR(iteration int, baseLR float64) float64 { return baseLR }
func (ConstantLR) Name() string { return "ConstantLR" }

// StepLR multiplies the rate by Gamma every StepSize iterations.
type StepLR struct {
	StepSize int
	Gamma    float64
}

func (s StepLR) LR(iteration int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(iteration/s.StepSize))
}

func (s StepLR) Name() string { return "StepLR" }

// ExponentialLR decays the rate by Gamma each iteration.
type ExponentialLR struct {
	Gamma float64
}

func (s ExponentialLR) LR(iteration int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(iteration))
}

func (s ExponentialLR) Name() string { return "ExponentialLR" }

// CosineAnnealingLR anneals from the base rate to EtaMin over TMax iterations
// and stays at EtaMin afterwards.
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

func (s CosineAnnealingLR) LR(iteration int, baseLR float64) float64 {
	if iteration >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(iteration)/float64(s.TMax)))/2
}

func (s CosineAnnealingLR) Name() string { return "CosineAnnealingLR" }
