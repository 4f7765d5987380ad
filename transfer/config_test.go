package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.reportEvery() != 100 {
		t.Errorf("Expected report interval 100, got %d", cfg.reportEvery())
	}
	if cfg.loss().CostRate() != 0 {
		t.Errorf("Expected zero default cost rate, got %v", cfg.loss().CostRate())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative tsteps", func(c *Config) { c.TSteps = -1 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero seq_len", func(c *Config) { c.SeqLen = 0 }},
		{"zero lr", func(c *Config) { c.GlobalLinearLinear.OptLR = 0 }},
		{"zero in dim", func(c *Config) { c.GlobalLinearLinear.InTransferDim = 0 }},
		{"negative out dim", func(c *Config) { c.GlobalLinearLinear.OutTransferDim = -2 }},
		{"missing label on export", func(c *Config) {
			c.GlobalLinearLinear.ExportWeights = true
			c.ExportLabel = ""
		}},
		{"negative bp rate", func(c *Config) { c.Objective.BPRate = -0.001 }},
		{"unknown export format", func(c *Config) { c.ExportFormat = "pt" }},
		{"unknown lr schedule", func(c *Config) { c.LRSchedule.Type = "plateau" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	t.Run("tsteps zero is allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TSteps = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("Partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		doc := `{
			"tsteps": 3,
			"batch_size": 4,
			"seq_len": 5,
			"device": "cpu",
			"export_label": "run1",
			"global_linear_linear": {"opt_lr": 0.01, "amsgrad": true, "in_transfer_dim": 2, "out_transfer_dim": 2},
			"objective": {"bp_rate": 0.002}
		}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.TSteps != 3 || cfg.BatchSize != 4 || cfg.SeqLen != 5 || cfg.ExportLabel != "run1" {
			t.Errorf("Unexpected top-level fields: %+v", cfg)
		}
		g := cfg.GlobalLinearLinear
		if g.OptLR != 0.01 || !g.AMSGrad || g.InTransferDim != 2 || g.OutTransferDim != 2 || g.ExportWeights {
			t.Errorf("Unexpected global_linear_linear: %+v", g)
		}
		if cfg.ExportFormat != "onnx" || cfg.ExportPath != "./" || cfg.LogEvery != 100 {
			t.Errorf("Defaults not kept: format=%q path=%q log_every=%d", cfg.ExportFormat, cfg.ExportPath, cfg.LogEvery)
		}
		if cfg.Objective.BPRate != 0.002 || cfg.Objective.SlippageRate != 0 {
			t.Errorf("Unexpected objective: %+v", cfg.Objective)
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte(`{"tsteps": "many"}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Invalid values", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		if err := os.WriteFile(path, []byte(`{"batch_size": 0}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Expected os.ErrNotExist, got %v", err)
		}
	})
}
