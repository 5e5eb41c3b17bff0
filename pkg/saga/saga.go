package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one unit of a saga. Compensate undoes a completed Execute and may be nil.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and whether compensation succeeded.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga runs steps in order and compensates completed steps in reverse on failure.
type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute returns the index of the failed step and a *StepError, or -1 and nil.
// Compensation runs on a context detached from ctx's cancellation so a caller
// abort does not leave completed steps behind.
func (s *Saga) Execute(ctx context.Context) (failedStep int, err error) {
	completed := make([]int, 0, len(s.steps))

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return i, s.fail(ctx, i, step, err, completed)
		}
		if err := step.Execute(ctx); err != nil {
			return i, s.fail(ctx, i, step, err, completed)
		}
		completed = append(completed, i)
	}

	return -1, nil
}

func (s *Saga) fail(ctx context.Context, i int, step Step, err error, completed []int) error {
	return &StepError{
		Saga:            s.name,
		Step:            step.Name,
		Index:           i,
		Err:             err,
		CompensationErr: s.compensate(context.WithoutCancel(ctx), completed),
	}
}

func (s *Saga) compensate(ctx context.Context, completedIndexes []int) error {
	var errs []error
	for i := len(completedIndexes) - 1; i >= 0; i-- {
		step := s.steps[completedIndexes[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
