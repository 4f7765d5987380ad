package training

import (
	"github.com/sirupsen/logrus"
)

// DefaultReportEvery is the progress interval in outer iterations. Reports
// fire when iteration % every == 1.
const DefaultReportEvery = 100

// StepLoss is the most recent loss of one (task, subtask) pair.
type StepLoss struct {
	Task    string
	Subtask string
	Loss    float64
}

// Observer receives training progress signals.
type Observer interface {
	OnIteration(iteration int, losses []StepLoss)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(iteration int, losses []StepLoss)

func (f ObserverFunc) OnIteration(iteration int, losses []StepLoss) {
	f(iteration, losses)
}

// ShouldReport reports whether iteration is a progress iteration for the
// given interval (every <= 0 disables reporting).
func ShouldReport(iteration, every int) bool {
	if every <= 0 {
		return false
	}
	return iteration%every == 1%every
}

// LogObserver writes progress through logrus.
type LogObserver struct {
	Logger *logrus.Logger
}

// NewLogObserver creates a LogObserver; a nil logger uses logrus.New().
func NewLogObserver(logger *logrus.Logger) *LogObserver {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) OnIteration(iteration int, losses []StepLoss) {
	mean := 0.0
	for _, l := range losses {
		mean += l.Loss
	}
	if len(losses) > 0 {
		mean /= float64(len(losses))
	}

	o.Logger.WithFields(logrus.Fields{
		"iteration": iteration,
		"subtasks":  len(losses),
		"mean_loss": mean,
	}).Info("Training progress")

	for _, l := range losses {
		o.Logger.WithFields(logrus.Fields{
			"iteration": iteration,
			"task":      l.Task,
			"subtask":   l.Subtask,
			"loss":      l.Loss,
		}).Debug("Subtask loss")
	}
}
