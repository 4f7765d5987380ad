package transfer

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-mtlfin/tensor"
)

// SubtaskSeries is one [T, F] time series.
type SubtaskSeries struct {
	Name string
	Data *tensor.Tensor
}

// TaskSeries groups the subtask series of one task.
type TaskSeries struct {
	Name     string
	Subtasks []SubtaskSeries
}

// Series is the two-level task -> subtask namespace in traversal order.
type Series []TaskSeries

// SeriesFromMap builds a Series with tasks and subtasks sorted by name.
func SeriesFromMap(m map[string]map[string]*tensor.Tensor) Series {
	tasks := make([]string, 0, len(m))
	for task := range m {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)

	series := make(Series, 0, len(tasks))
	for _, task := range tasks {
		subs := make([]string, 0, len(m[task]))
		for sub := range m[task] {
			subs = append(subs, sub)
		}
		sort.Strings(subs)

		ts := TaskSeries{Name: task, Subtasks: make([]SubtaskSeries, 0, len(subs))}
		for _, sub := range subs {
			ts.Subtasks = append(ts.Subtasks, SubtaskSeries{Name: sub, Data: m[task][sub]})
		}
		series = append(series, ts)
	}
	return series
}

// Lookup returns the series stored for (task, subtask).
func (s Series) Lookup(task, subtask string) (*tensor.Tensor, bool) {
	for _, ts := range s {
		if ts.Name != task {
			continue
		}
		for _, ss := range ts.Subtasks {
			if ss.Name == subtask {
				return ss.Data, true
			}
		}
	}
	return nil, false
}

// validate rejects empty or duplicate names and nil data.
func (s Series) validate() error {
	if len(s) == 0 {
		return fmt.Errorf("no tasks given: %w", ErrInvalidConfig)
	}
	tasks := make(map[string]bool, len(s))
	for _, ts := range s {
		if ts.Name == "" {
			return fmt.Errorf("empty task name: %w", ErrInvalidConfig)
		}
		if tasks[ts.Name] {
			return fmt.Errorf("duplicate task %q: %w", ts.Name, ErrInvalidConfig)
		}
		tasks[ts.Name] = true

		if len(ts.Subtasks) == 0 {
			return fmt.Errorf("task %q has no subtasks: %w", ts.Name, ErrInvalidConfig)
		}
		subs := make(map[string]bool, len(ts.Subtasks))
		for _, ss := range ts.Subtasks {
			if ss.Name == "" {
				return fmt.Errorf("task %q has an empty subtask name: %w", ts.Name, ErrInvalidConfig)
			}
			if subs[ss.Name] {
				return fmt.Errorf("duplicate subtask %s/%s: %w", ts.Name, ss.Name, ErrInvalidConfig)
			}
			subs[ss.Name] = true
			if ss.Data == nil {
				return fmt.Errorf("subtask %s/%s has no data: %w", ts.Name, ss.Name, ErrInvalidConfig)
			}
		}
	}
	return nil
}

// Predictions maps task -> subtask -> [1, T-1, F] model output.
type Predictions map[string]map[string]*tensor.Tensor

// Get returns the prediction for (task, subtask), or nil.
func (p Predictions) Get(task, subtask string) *tensor.Tensor {
	return p[task][subtask]
}
