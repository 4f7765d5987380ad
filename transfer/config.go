package transfer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/tsawler/go-mtlfin/checkpoints"
	"github.com/tsawler/go-mtlfin/training"
)

// Config holds the trainer settings. Field tags match the JSON configuration file.
type Config struct {
	TSteps      int    `json:"tsteps"`       // outer training iterations
	TasksTSteps int    `json:"tasks_tsteps"` // reserved, not used by the trainer
	BatchSize   int    `json:"batch_size"`
	SeqLen      int    `json:"seq_len"`
	Device      string `json:"device"`
	ExportPath  string `json:"export_path"`
	ExportLabel string `json:"export_label"`

	GlobalLinearLinear GlobalLinearConfig `json:"global_linear_linear"`

	ExportFormat string                   `json:"export_format"` // "onnx" (default) or "json"
	Seed         int64                    `json:"seed"`          // 0 picks a time-based seed
	LogEvery     int                      `json:"log_every"`     // 0 uses training.DefaultReportEvery, negative disables
	Objective    ObjectiveConfig          `json:"objective"`
	LRSchedule   training.SchedulerConfig `json:"lr_schedule"`
}

// GlobalLinearConfig configures the shared transform and the per-subtask optimizers.
type GlobalLinearConfig struct {
	OptLR          float64 `json:"opt_lr"`
	AMSGrad        bool    `json:"amsgrad"`
	ExportWeights  bool    `json:"export_weights"`
	InTransferDim  int     `json:"in_transfer_dim"`
	OutTransferDim int     `json:"out_transfer_dim"`
}

// ObjectiveConfig holds the turnover cost rates of the Sharpe objective.
type ObjectiveConfig struct {
	BPRate       float64 `json:"bp_rate"`
	SlippageRate float64 `json:"slippage_rate"`
}

// DefaultConfig returns a configuration with every field set.
func DefaultConfig() Config {
	return Config{
		TSteps:      1000,
		BatchSize:   32,
		SeqLen:      20,
		Device:      "cpu",
		ExportPath:  "./",
		ExportLabel: "gll",
		GlobalLinearLinear: GlobalLinearConfig{
			OptLR:          0.001,
			InTransferDim:  10,
			OutTransferDim: 10,
		},
		ExportFormat: "onnx",
		LogEvery:     training.DefaultReportEvery,
		Objective: ObjectiveConfig{
			BPRate:       training.DefaultBPRate,
			SlippageRate: training.DefaultSlippageRate,
		},
	}
}

// LoadConfig reads a JSON configuration. Fields missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %v: %w", path, err, ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field the trainer depends on. The device is resolved
// separately by NewTrainer.
func (c Config) Validate() error {
	g := c.GlobalLinearLinear
	switch {
	case c.TSteps < 0:
		return fmt.Errorf("tsteps must be non-negative, got %d: %w", c.TSteps, ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d: %w", c.BatchSize, ErrInvalidConfig)
	case c.SeqLen <= 0:
		return fmt.Errorf("seq_len must be positive, got %d: %w", c.SeqLen, ErrInvalidConfig)
	case !(g.OptLR > 0) || math.IsInf(g.OptLR, 0):
		return fmt.Errorf("global_linear_linear.opt_lr must be positive and finite, got %v: %w", g.OptLR, ErrInvalidConfig)
	case g.InTransferDim <= 0:
		return fmt.Errorf("global_linear_linear.in_transfer_dim must be positive, got %d: %w", g.InTransferDim, ErrInvalidConfig)
	case g.OutTransferDim <= 0:
		return fmt.Errorf("global_linear_linear.out_transfer_dim must be positive, got %d: %w", g.OutTransferDim, ErrInvalidConfig)
	case g.ExportWeights && c.ExportLabel == "":
		return fmt.Errorf("export_label is required when export_weights is set: %w", ErrInvalidConfig)
	case c.Objective.BPRate < 0 || c.Objective.SlippageRate < 0:
		return fmt.Errorf("objective rates must be non-negative, got bp=%v slippage=%v: %w",
			c.Objective.BPRate, c.Objective.SlippageRate, ErrInvalidConfig)
	}

	if _, err := checkpoints.ParseFormat(c.ExportFormat); err != nil {
		return fmt.Errorf("export_format: %v: %w", err, ErrInvalidConfig)
	}
	if _, err := training.NewScheduler(c.LRSchedule); err != nil {
		return fmt.Errorf("lr_schedule: %v: %w", err, ErrInvalidConfig)
	}
	return nil
}

func (c Config) reportEvery() int {
	if c.LogEvery == 0 {
		return training.DefaultReportEvery
	}
	return c.LogEvery
}

func (c Config) loss() training.SharpeLoss {
	return training.SharpeLoss{BPRate: c.Objective.BPRate, SlippageRate: c.Objective.SlippageRate}
}
