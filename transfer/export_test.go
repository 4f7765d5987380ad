package transfer

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-mtlfin/checkpoints"
)

func TestExportArtifacts(t *testing.T) {
	for _, format := range []string{"onnx", "json"} {
		t.Run(format, func(t *testing.T) {
			rng := rand.New(rand.NewSource(20))
			dir := t.TempDir()

			cfg := scenarioConfig()
			cfg.ExportPath = dir + string(os.PathSeparator)
			cfg.ExportFormat = format
			cfg.GlobalLinearLinear.ExportWeights = true

			series := twoSubtaskSeries(t, rng, 30)
			trainer := newTestTrainer(t, series, cfg)
			if err := trainer.Train(context.Background()); err != nil {
				t.Fatalf("Train failed: %v", err)
			}

			want := []string{
				"fx_eurusd_test_intransferlinear." + format,
				"fx_eurusd_test_outtransferlinear." + format,
				"fx_gbpusd_test_intransferlinear." + format,
				"fx_gbpusd_test_outtransferlinear." + format,
				"fx_test_globaltransferlinear." + format,
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir failed: %v", err)
			}
			if len(entries) != len(want) {
				t.Fatalf("Expected %d files, got %d", len(want), len(entries))
			}
			for _, name := range want {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Errorf("Missing artifact %s: %v", name, err)
				}
			}

			encoder, err := checkpoints.LoadLinear(filepath.Join(dir, want[0]))
			if err != nil {
				t.Fatalf("LoadLinear failed: %v", err)
			}
			if encoder.InFeatures != 3 || encoder.OutFeatures != 2 {
				t.Errorf("Expected a 3x2 encoder, got %dx%d", encoder.InFeatures, encoder.OutFeatures)
			}
		})
	}
}

func TestExportPathWithoutSeparator(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	dir := filepath.Join(t.TempDir(), "nested", "weights")

	cfg := scenarioConfig()
	cfg.ExportPath = dir
	trainer := newTestTrainer(t, twoSubtaskSeries(t, rng, 30), cfg)

	paths, err := trainer.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(paths) != 5 {
		t.Fatalf("Expected 5 paths, got %d", len(paths))
	}
	if paths[4] != filepath.Join(dir, "fx_test_globaltransferlinear.onnx") {
		t.Errorf("Unexpected global path %s", paths[4])
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Missing artifact %s: %v", p, err)
		}
	}
}

func TestExportMultipleTasks(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	cfg := scenarioConfig()
	cfg.ExportPath = t.TempDir() + "/"

	series := Series{
		{Name: "fx", Subtasks: []SubtaskSeries{{Name: "eurusd", Data: randomReturns(t, rng, 20, 2)}}},
		{Name: "rates", Subtasks: []SubtaskSeries{{Name: "us10y", Data: randomReturns(t, rng, 20, 1)}}},
	}
	trainer := newTestTrainer(t, series, cfg)

	paths, err := trainer.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// 2 files per subtask plus one global copy per task
	if len(paths) != 6 {
		t.Fatalf("Expected 6 paths, got %d: %v", len(paths), paths)
	}
	if filepath.Base(paths[2]) != "fx_test_globaltransferlinear.onnx" || filepath.Base(paths[5]) != "rates_test_globaltransferlinear.onnx" {
		t.Errorf("Unexpected global artifact order: %v", paths)
	}
}

func TestRestoreReproducesPredictions(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	cfg := scenarioConfig()
	cfg.ExportPath = t.TempDir() + "/"
	cfg.GlobalLinearLinear.ExportWeights = true

	series := twoSubtaskSeries(t, rng, 30)
	trained := newTestTrainer(t, series, cfg)
	if err := trained.Train(context.Background()); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	cfg.Seed = 99
	fresh := newTestTrainer(t, series, cfg)
	if err := fresh.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	xTest := twoSubtaskSeries(t, rng, 8)
	want, err := trained.Predict(xTest)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	got, err := fresh.Predict(xTest)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for _, sub := range []string{"eurusd", "gbpusd"} {
		if !want.Get("fx", sub).Equal(got.Get("fx", sub)) {
			t.Errorf("%s: restored predictions differ", sub)
		}
	}

	t.Run("Missing artifacts", func(t *testing.T) {
		cfg := scenarioConfig()
		cfg.ExportPath = t.TempDir() + "/"
		empty := newTestTrainer(t, series, cfg)
		if err := empty.Restore(); err == nil {
			t.Error("Expected error when no artifacts exist")
		}
	})
}
