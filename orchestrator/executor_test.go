package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/core"
)

func TestExecuteProcessHappyPath(t *testing.T) {
	disp := NewInProcessDispatcher()
	disp.Register("greet", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"greeting": "hello " + params["name"].(string)}, nil
	})

	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "greet-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "step1", Type: core.StepExecute, Action: "greet",
					Params: map[string]interface{}{"name": "${input.name}"}, Output: "greeted", Next: "step2"},
				{ID: "step2", Type: core.StepComplete, Result: "${greeted.greeting}"},
			},
		},
	}

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, map[string]interface{}{"name": "world"}, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessCompleted, instance.Status)
	assert.Equal(t, "hello world", instance.Result)
	assert.Len(t, instance.StepResults, 2)
}

func TestExecuteProcessConditionBranching(t *testing.T) {
	disp := NewInProcessDispatcher()
	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "branch-flow"},
		Spec: core.ProcessCardSpec{
			Variables: map[string]interface{}{"threshold": float64(10)},
			Steps: []core.Step{
				{ID: "check", Type: core.StepCondition, Condition: "${input.score} > ${threshold}", Then: "pass", Else: "fail"},
				{ID: "pass", Type: core.StepComplete, Result: "PASS"},
				{ID: "fail", Type: core.StepComplete, Result: "FAIL"},
			},
		},
	}

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, map[string]interface{}{"score": float64(20)}, "")
	require.NoError(t, err)
	assert.Equal(t, "PASS", instance.Result)

	instance2, err := exec.ExecuteProcess(context.Background(), card, map[string]interface{}{"score": float64(1)}, "")
	require.NoError(t, err)
	assert.Equal(t, "FAIL", instance2.Result)
}

func TestExecuteProcessRetryThenAbort(t *testing.T) {
	disp := NewInProcessDispatcher()
	attempts := 0
	disp.Register("flaky", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		attempts++
		return nil, assert.AnError
	})

	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "retry-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "step1", Type: core.StepExecute, Action: "flaky",
					Retry: &core.RetryPolicy{MaxAttempts: 3, DelaySeconds: 0, OnFailure: core.OnFailureAbort}},
			},
		},
	}

	restoreSleep := stubSleep()
	defer restoreSleep()

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, nil, "")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessFailed, instance.Status)
	assert.Equal(t, 3, attempts)
	require.Len(t, instance.StepResults, 1)
	assert.Equal(t, 3, instance.StepResults[0].Attempts)
}

func TestExecuteProcessOnFailureContinue(t *testing.T) {
	disp := NewInProcessDispatcher()
	disp.Register("flaky", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return nil, assert.AnError
	})

	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "continue-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "step1", Type: core.StepExecute, Action: "flaky", Next: "step2",
					Retry: &core.RetryPolicy{MaxAttempts: 1, OnFailure: core.OnFailureContinue}},
				{ID: "step2", Type: core.StepComplete, Result: "reached despite failure"},
			},
		},
	}

	restoreSleep := stubSleep()
	defer restoreSleep()

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, nil, "")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessCompleted, instance.Status)
	assert.Equal(t, "reached despite failure", instance.Result)
}

func TestExecuteProcessOnFailureEscalate(t *testing.T) {
	disp := NewInProcessDispatcher()
	disp.Register("flaky", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return nil, assert.AnError
	})

	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "escalate-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "step1", Type: core.StepExecute, Action: "flaky",
					Retry: &core.RetryPolicy{MaxAttempts: 1, OnFailure: core.OnFailureEscalate}},
			},
		},
	}

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, nil, "")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessWaitingHuman, instance.Status)
}

func TestExecuteProcessWaitStep(t *testing.T) {
	disp := NewInProcessDispatcher()
	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "wait-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "step1", Type: core.StepWait, Duration: "0.01s", Next: "step2"},
				{ID: "step2", Type: core.StepComplete, Result: "done"},
			},
		},
	}

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "done", instance.Result)
}

func TestExecuteProcessLoopSafetyBound(t *testing.T) {
	disp := NewInProcessDispatcher()
	card := &core.ProcessCard{
		Metadata: core.ProcessCardMetadata{ID: "loop-flow"},
		Spec: core.ProcessCardSpec{
			Steps: []core.Step{
				{ID: "a", Type: core.StepCondition, Condition: "true", Then: "b", Else: "b"},
				{ID: "b", Type: core.StepCondition, Condition: "true", Then: "a", Else: "a"},
			},
		},
	}

	exec := NewExecutor(disp, nil)
	instance, err := exec.ExecuteProcess(context.Background(), card, nil, "")
	require.NoError(t, err)
	assert.Equal(t, core.ProcessFailed, instance.Status)
	assert.Contains(t, instance.Error, "loop safety")
}

func stubSleep() func() {
	original := sleep
	sleep = func(time.Duration) {}
	return func() { sleep = original }
}
