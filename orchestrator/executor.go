package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/telemetry"
)

// maxWaitDuration bounds a wait step's sleep regardless of what the card
// asks for, so a misbehaving card can never park an executor goroutine
// indefinitely.
const maxWaitDuration = 10 * time.Second

// Executor runs ProcessCards to completion against a Dispatcher.
type Executor struct {
	dispatcher Dispatcher
	logger     core.Logger
}

// NewExecutor wires an executor over dispatcher. Either BusDispatcher or
// InProcessDispatcher may be supplied interchangeably.
func NewExecutor(dispatcher Dispatcher, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Executor{dispatcher: dispatcher, logger: logger}
}

// ExecuteProcess runs card to completion with inputParams seeded as
// variables["input"], returning the finished instance. It never returns an
// error for a failed process — failure is recorded on the instance itself;
// the error return is reserved for setup problems (invalid card, nil
// starting step).
func (e *Executor) ExecuteProcess(ctx context.Context, card *core.ProcessCard, inputParams map[string]interface{}, traceID string) (*core.ProcessInstance, error) {
	if err := card.Validate(); err != nil {
		return nil, err
	}
	if len(card.Spec.Steps) == 0 {
		return nil, fmt.Errorf("process card %s has no steps: %w", card.Metadata.ID, core.ErrInvalidConfiguration)
	}

	variables := make(map[string]interface{}, len(card.Spec.Variables)+1)
	for k, v := range card.Spec.Variables {
		variables[k] = v
	}
	variables["input"] = inputParams

	if traceID == "" {
		traceID = uuid.NewString()
	}

	instance := &core.ProcessInstance{
		ID: uuid.NewString(), CardID: card.Metadata.ID, InputParams: inputParams,
		Variables: variables, Status: core.ProcessRunning, CurrentStepID: card.Spec.Steps[0].ID,
		StepResults: []core.StepResult{}, StartedAt: time.Now().Unix(), TraceID: traceID,
	}

	maxIterations := len(card.Spec.Steps) * (maxRetryBound(card) + 1) * 2
	iterations := 0

	for instance.CurrentStepID != "" && !instance.Status.IsTerminal() {
		iterations++
		if iterations > maxIterations {
			instance.Status = core.ProcessFailed
			instance.Error = "exceeded maximum step iterations (loop safety bound)"
			break
		}

		step, ok := card.StepByID(instance.CurrentStepID)
		if !ok {
			instance.Status = core.ProcessFailed
			instance.Error = fmt.Sprintf("step %q not found", instance.CurrentStepID)
			break
		}

		next, err := e.executeStep(ctx, instance, step)
		if err != nil {
			return nil, err
		}

		if instance.Status.IsTerminal() {
			break
		}
		instance.CurrentStepID = next
		if next == "" {
			instance.Status = core.ProcessCompleted
		}
	}

	if instance.Status == core.ProcessRunning {
		instance.Status = core.ProcessCompleted
	}
	instance.CompletedAt = time.Now().Unix()
	return instance, nil
}

func maxRetryBound(card *core.ProcessCard) int {
	max := 0
	for _, s := range card.Spec.Steps {
		if s.Retry != nil && s.Retry.MaxAttempts > max {
			max = s.Retry.MaxAttempts
		}
	}
	return max
}

// executeStep runs one step (with its retry policy, if any) and returns
// the next step id to run ("" means the process is complete).
func (e *Executor) executeStep(ctx context.Context, instance *core.ProcessInstance, step *core.Step) (string, error) {
	attempts := 0
	for {
		attempts++
		result, next, retryable := e.runStepOnce(ctx, instance, step)
		result.Attempts = attempts

		if result.Status == "completed" {
			instance.StepResults = append(instance.StepResults, result)
			return next, nil
		}

		if step.Retry != nil && retryable && attempts < step.Retry.MaxAttempts {
			e.logger.Warn("step failed, retrying", map[string]interface{}{
				"step_id": step.ID, "attempt": attempts, "max_attempts": step.Retry.MaxAttempts,
			})
			sleep(time.Duration(step.Retry.DelaySeconds * float64(time.Second)))
			continue
		}

		instance.StepResults = append(instance.StepResults, result)

		if step.Retry == nil || step.Retry.OnFailure == "" || step.Retry.OnFailure == core.OnFailureAbort {
			instance.Status = core.ProcessFailed
			instance.Error = result.Error
			return "", nil
		}

		switch step.Retry.OnFailure {
		case core.OnFailureContinue:
			return next, nil
		case core.OnFailureEscalate:
			instance.Status = core.ProcessWaitingHuman
			instance.Error = result.Error
			return "", nil
		default:
			instance.Status = core.ProcessFailed
			instance.Error = result.Error
			return "", nil
		}
	}
}

// runStepOnce executes step exactly once, without retry bookkeeping.
// retryable indicates whether a retry policy may act on this particular
// failure: it is true for a failed execute step (whatever the error code)
// and false for condition, complete, wait and unknown-type steps.
func (e *Executor) runStepOnce(ctx context.Context, instance *core.ProcessInstance, step *core.Step) (result core.StepResult, next string, retryable bool) {
	start := time.Now()
	result = core.StepResult{StepID: step.ID}
	retryable = true

	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	defer telemetry.Duration("agent.workflow.step.duration_ms", start, "step_type", string(step.Type))

	switch step.Type {
	case core.StepExecute:
		result, next, retryable = e.runExecute(ctx, instance, step)
	case core.StepCondition:
		result, next, retryable = e.runCondition(instance, step)
	case core.StepComplete:
		result, next, retryable = e.runComplete(instance, step)
	case core.StepWait:
		result, next, retryable = e.runWait(step)
	default:
		result.Status = "failed"
		result.ErrorCode = core.CodeInvalidArgument
		result.Error = fmt.Sprintf("unknown step type %q", step.Type)
		return result, "", false
	}

	if result.Status == "completed" {
		telemetry.Counter("agent.workflow.step.success", "step_type", string(step.Type))
	} else {
		telemetry.Counter("agent.workflow.step.failure", "step_type", string(step.Type), "error_code", string(result.ErrorCode))
	}
	return result, next, retryable
}

func (e *Executor) runExecute(ctx context.Context, instance *core.ProcessInstance, step *core.Step) (core.StepResult, string, bool) {
	result := core.StepResult{StepID: step.ID}
	resolved := ExpandParams(step.Params, instance.Variables)

	timeout := time.Duration(step.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	output, busErr, err := e.dispatcher.Dispatch(ctx, step.Action, resolved, instance.TraceID, instance.ID, timeout)
	if err != nil {
		result.Status = "failed"
		result.ErrorCode = core.ToErrorCode(err)
		result.Error = err.Error()
		return result, step.Next, true
	}
	if busErr != nil {
		result.Status = "failed"
		result.ErrorCode = busErr.Code
		result.Error = busErr.Message
		// The step's own retry block is the sole gate on re-execution; a
		// message's retryable flag is about bus-level redelivery, not this.
		return result, step.Next, true
	}

	if step.Output != "" {
		instance.Variables[step.Output] = output
	}
	result.Status = "completed"
	result.Output = output
	return result, step.Next, false
}

func (e *Executor) runCondition(instance *core.ProcessInstance, step *core.Step) (core.StepResult, string, bool) {
	result := core.StepResult{StepID: step.ID}
	expanded := expandString(step.Condition, instance.Variables)

	exprStr := fmt.Sprint(expanded)
	matched, err := EvaluateCondition(exprStr)
	if err != nil {
		result.Status = "failed"
		result.ErrorCode = core.CodeInvalidArgument
		result.Error = fmt.Sprintf("evaluating condition %q: %s", step.Condition, err)
		return result, "", false
	}

	result.Status = "completed"
	result.Output = matched
	if matched {
		return result, step.Then, false
	}
	return result, step.Else, false
}

func (e *Executor) runComplete(instance *core.ProcessInstance, step *core.Step) (core.StepResult, string, bool) {
	result := core.StepResult{StepID: step.ID, Status: "completed"}

	switch v := step.Result.(type) {
	case string:
		resolved := expandString(v, instance.Variables)
		instance.Variables["_result"] = resolved
		instance.Result = resolved
	case map[string]interface{}:
		resolved := ExpandValue(v, instance.Variables)
		instance.Variables["_result"] = resolved
		instance.Result = resolved
	case nil:
		// no explicit result; leave instance.Result unset
	default:
		instance.Result = v
	}

	result.Output = instance.Result
	return result, "", false
}

func (e *Executor) runWait(step *core.Step) (core.StepResult, string, bool) {
	result := core.StepResult{StepID: step.ID}
	d, err := parseWaitDuration(step.Duration)
	if err != nil {
		result.Status = "failed"
		result.ErrorCode = core.CodeInvalidArgument
		result.Error = err.Error()
		return result, "", false
	}
	if d > maxWaitDuration {
		d = maxWaitDuration
	}
	sleep(d)
	result.Status = "completed"
	return result, step.Next, false
}

// parseWaitDuration parses a duration of the form "<float>[s|m|h]".
func parseWaitDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("wait step has empty duration: %w", core.ErrInvalidConfiguration)
	}
	unit := raw[len(raw)-1]
	numPart := raw
	var multiplier time.Duration
	switch unit {
	case 's':
		multiplier = time.Second
		numPart = raw[:len(raw)-1]
	case 'm':
		multiplier = time.Minute
		numPart = raw[:len(raw)-1]
	case 'h':
		multiplier = time.Hour
		numPart = raw[:len(raw)-1]
	default:
		multiplier = time.Second
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid wait duration %q: %w", raw, core.ErrInvalidConfiguration)
	}
	return time.Duration(n * float64(multiplier)), nil
}

// sleep is a var so tests can stub it out instead of actually blocking.
var sleep = time.Sleep
