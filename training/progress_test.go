package training

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestShouldReport(t *testing.T) {
	tests := []struct {
		iteration int
		every     int
		want      bool
	}{
		{0, 100, false},
		{1, 100, true},
		{100, 100, false},
		{101, 100, true},
		{5, 1, true},
		{3, 2, true},
		{4, 2, false},
		{1, 0, false},
	}

	for _, tt := range tests {
		if got := ShouldReport(tt.iteration, tt.every); got != tt.want {
			t.Errorf("ShouldReport(%d, %d) = %v, want %v", tt.iteration, tt.every, got, tt.want)
		}
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	observer := NewLogObserver(logger)
	observer.OnIteration(101, []StepLoss{
		{Task: "fx", Subtask: "eurusd", Loss: -0.5},
		{Task: "fx", Subtask: "gbpusd", Loss: -1.5},
	})

	out := buf.String()
	if !strings.Contains(out, `"iteration":101`) {
		t.Errorf("Expected iteration field in %q", out)
	}
	if !strings.Contains(out, `"mean_loss":-1`) {
		t.Errorf("Expected mean loss -1 in %q", out)
	}
}

func TestObserverFunc(t *testing.T) {
	var got int
	var observer Observer = ObserverFunc(func(iteration int, losses []StepLoss) {
		got = iteration
	})
	observer.OnIteration(7, nil)
	if got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
}
