package quiz

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Errors returned by the weighted picker.
var (
	// ErrNoTasks is returned when no task has a positive weight.
	ErrNoTasks = errors.New("quiz: no tasks with positive weight")
	// ErrInvalidWeight is returned when a task has a negative weight.
	ErrInvalidWeight = errors.New("quiz: invalid task weight")
)

// Task is one repeatable user action with its relative weight.
type Task struct {
	// Name identifies the task in logs.
	Name string
	// Weight is the relative selection frequency. Zero disables the task.
	Weight int
	// Fn performs the action.
	Fn func(ctx context.Context)
}

// Picker draws tasks with probability proportional to their weight.
//
// A Picker is immutable after construction and safe for concurrent use as
// long as each caller passes its own Rand.
type Picker struct {
	tasks      []Task
	cumulative []int
	total      int
}

// NewPicker builds a picker over tasks. Zero-weight tasks are skipped.
func NewPicker(tasks ...Task) (*Picker, error) {
	p := &Picker{}

	for _, t := range tasks {
		if t.Weight < 0 {
			return nil, fmt.Errorf("%w: %s has weight %d", ErrInvalidWeight, t.Name, t.Weight)
		}
		if t.Weight == 0 {
			continue
		}
		p.total += t.Weight
		p.tasks = append(p.tasks, t)
		p.cumulative = append(p.cumulative, p.total)
	}

	if p.total == 0 {
		return nil, ErrNoTasks
	}

	return p, nil
}

// Pick returns one task.
func (p *Picker) Pick(r Rand) Task {
	n := r.Number(1, p.total)
	idx := sort.SearchInts(p.cumulative, n)
	return p.tasks[idx]
}
