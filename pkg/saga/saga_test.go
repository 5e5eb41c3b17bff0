package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cassiomorais/kioskpos/pkg/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga_AllStepsSucceed(t *testing.T) {
	var executed []string

	s := saga.New("start_payment").
		AddStep(saga.Step{
			Name:    "refresh_cart",
			Execute: func(ctx context.Context) error { executed = append(executed, "refresh"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "stash_amount",
			Execute: func(ctx context.Context) error { executed = append(executed, "stash"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "terminal_start",
			Execute: func(ctx context.Context) error { executed = append(executed, "start"); return nil },
		})

	failedStep, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, failedStep)
	assert.Equal(t, []string{"refresh", "stash", "start"}, executed)
}

func TestSaga_SecondStepFails_CompensatesFirst(t *testing.T) {
	var executed []string

	s := saga.New("start_payment").
		AddStep(saga.Step{
			Name:       "stash_amount",
			Execute:    func(ctx context.Context) error { executed = append(executed, "stash"); return nil },
			Compensate: func(ctx context.Context) error { executed = append(executed, "unstash"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "terminal_start",
			Execute: func(ctx context.Context) error { return errors.New("terminal offline") },
			Compensate: func(ctx context.Context) error {
				executed = append(executed, "never")
				return nil
			},
		}).
		AddStep(saga.Step{
			Name:    "after",
			Execute: func(ctx context.Context) error { executed = append(executed, "after"); return nil },
		})

	failedStep, err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, failedStep)
	assert.Contains(t, err.Error(), "terminal offline")
	assert.Equal(t, []string{"stash", "unstash"}, executed)
}

func TestSaga_StepErrorUnwraps(t *testing.T) {
	sentinel := errors.New("rejected")

	_, err := saga.New("start_payment").
		AddStep(saga.Step{Name: "terminal_start", Execute: func(ctx context.Context) error { return sentinel }}).
		Execute(context.Background())

	require.ErrorIs(t, err, sentinel)

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "terminal_start", stepErr.Step)
	assert.Equal(t, 0, stepErr.Index)
	assert.NoError(t, stepErr.CompensationErr)
}

func TestSaga_ThirdStepFails_CompensatesInReverse(t *testing.T) {
	var compensated []string

	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "comp1"); return nil },
		}).
		AddStep(saga.Step{
			Name:       "step2",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "comp2"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "step3",
			Execute: func(ctx context.Context) error { return errors.New("step3 failed") },
		})

	failedStep, err := s.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, failedStep)
	assert.Equal(t, []string{"comp2", "comp1"}, compensated)
}

func TestSaga_CancelledContext_CompensatesWithLiveContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var compErr error

	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { cancel(); return nil },
			Compensate: func(ctx context.Context) error { compErr = ctx.Err(); return nil },
		}).
		AddStep(saga.Step{
			Name:    "step2",
			Execute: func(ctx context.Context) error { t.Fatal("step2 must not run"); return nil },
		})

	failedStep, err := s.Execute(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, failedStep)
	assert.NoError(t, compErr)
}

func TestSaga_NoSteps(t *testing.T) {
	failedStep, err := saga.New("empty").Execute(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, -1, failedStep)
}

func TestSaga_MultipleCompensationErrors_AllCollected(t *testing.T) {
	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return errors.New("comp1 failed") },
		}).
		AddStep(saga.Step{
			Name:       "step2",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return errors.New("comp2 failed") },
		}).
		AddStep(saga.Step{
			Name:    "step3",
			Execute: func(ctx context.Context) error { return errors.New("step3 failed") },
		})

	_, err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comp1 failed")
	assert.Contains(t, err.Error(), "comp2 failed")
}

func TestSaga_NilCompensate(t *testing.T) {
	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:    "step1",
			Execute: func(ctx context.Context) error { return nil },
		}).
		AddStep(saga.Step{
			Name:    "step2",
			Execute: func(ctx context.Context) error { return errors.New("fail") },
		})

	failedStep, err := s.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, failedStep)
}
