package core

import "fmt"

// StepType is the discriminator on a Process Card step.
type StepType string

const (
	StepExecute   StepType = "execute"
	StepCondition StepType = "condition"
	StepComplete  StepType = "complete"
	StepWait      StepType = "wait"
)

// FailurePolicy controls what happens once a step's retries are exhausted.
type FailurePolicy string

const (
	OnFailureAbort    FailurePolicy = "abort"
	OnFailureContinue FailurePolicy = "continue"
	OnFailureEscalate FailurePolicy = "escalate"
)

// RetryPolicy bounds how many times a failed execute step is re-attempted.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	DelaySeconds float64      `yaml:"delay_seconds" json:"delay_seconds"`
	OnFailure   FailurePolicy `yaml:"on_failure" json:"on_failure"`
}

// Step is one node of a Process Card's step graph. Which fields are
// meaningful depends on Type; unused fields are simply zero.
type Step struct {
	ID             string                 `yaml:"id" json:"id"`
	Type           StepType               `yaml:"type" json:"type"`

	// execute
	Action         string                 `yaml:"action,omitempty" json:"action,omitempty"`
	Params         map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
	Output         string                 `yaml:"output,omitempty" json:"output,omitempty"`
	Retry          *RetryPolicy           `yaml:"retry,omitempty" json:"retry,omitempty"`
	TimeoutSeconds float64                `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Next           string                 `yaml:"next,omitempty" json:"next,omitempty"`

	// condition
	Condition      string                 `yaml:"condition,omitempty" json:"condition,omitempty"`
	Then           string                 `yaml:"then,omitempty" json:"then,omitempty"`
	Else           string                 `yaml:"else,omitempty" json:"else,omitempty"`

	// complete
	Result         interface{}            `yaml:"result,omitempty" json:"result,omitempty"`

	// wait
	Duration       string                 `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// ProcessCardMetadata identifies a card.
type ProcessCardMetadata struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// ProcessCardSpec holds the workflow body: seed variables and the step graph.
type ProcessCardSpec struct {
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps     []Step                 `yaml:"steps" json:"steps"`
}

// ProcessCard is a declarative multi-step workflow definition, loaded
// from YAML.
type ProcessCard struct {
	Metadata ProcessCardMetadata `yaml:"metadata" json:"metadata"`
	Spec     ProcessCardSpec     `yaml:"spec" json:"spec"`
}

// StepByID returns the step with the given id, if present.
func (c *ProcessCard) StepByID(id string) (*Step, bool) {
	for i := range c.Spec.Steps {
		if c.Spec.Steps[i].ID == id {
			return &c.Spec.Steps[i], true
		}
	}
	return nil, false
}

// Validate checks structural invariants that must hold before a card is
// ever run: ids are unique, and every next/then/else names a real step.
// A card rejected here never runs.
func (c *ProcessCard) Validate() error {
	if len(c.Spec.Steps) == 0 {
		return fmt.Errorf("process card %s has no steps: %w", c.Metadata.ID, ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(c.Spec.Steps))
	for _, s := range c.Spec.Steps {
		if s.ID == "" {
			return fmt.Errorf("process card %s has a step with empty id: %w", c.Metadata.ID, ErrInvalidConfiguration)
		}
		if seen[s.ID] {
			return fmt.Errorf("process card %s has duplicate step id %q: %w", c.Metadata.ID, s.ID, ErrInvalidConfiguration)
		}
		seen[s.ID] = true
	}

	refersValid := func(ref string) bool {
		return ref == "" || seen[ref]
	}

	for _, s := range c.Spec.Steps {
		switch s.Type {
		case StepExecute:
			if s.Action == "" {
				return fmt.Errorf("step %s: execute requires action: %w", s.ID, ErrInvalidConfiguration)
			}
			if !refersValid(s.Next) {
				return fmt.Errorf("step %s: next %q does not refer to a declared step: %w", s.ID, s.Next, ErrInvalidConfiguration)
			}
		case StepCondition:
			if s.Condition == "" {
				return fmt.Errorf("step %s: condition requires condition expression: %w", s.ID, ErrInvalidConfiguration)
			}
			if !refersValid(s.Then) {
				return fmt.Errorf("step %s: then %q does not refer to a declared step: %w", s.ID, s.Then, ErrInvalidConfiguration)
			}
			if !refersValid(s.Else) {
				return fmt.Errorf("step %s: else %q does not refer to a declared step: %w", s.ID, s.Else, ErrInvalidConfiguration)
			}
		case StepComplete:
			// terminal, no successor fields to validate
		case StepWait:
			if s.Duration == "" {
				return fmt.Errorf("step %s: wait requires duration: %w", s.ID, ErrInvalidConfiguration)
			}
			if !refersValid(s.Next) {
				return fmt.Errorf("step %s: next %q does not refer to a declared step: %w", s.ID, s.Next, ErrInvalidConfiguration)
			}
		default:
			return fmt.Errorf("step %s: unknown step type %q: %w", s.ID, s.Type, ErrInvalidConfiguration)
		}
	}

	return nil
}

// ProcessStatus is the lifecycle state of a ProcessInstance.
type ProcessStatus string

const (
	ProcessPending      ProcessStatus = "pending"
	ProcessRunning      ProcessStatus = "running"
	ProcessCompleted    ProcessStatus = "completed"
	ProcessFailed       ProcessStatus = "failed"
	ProcessCancelled    ProcessStatus = "cancelled"
	ProcessWaitingHuman ProcessStatus = "waiting_human"
)

// IsTerminal reports whether status is one a process never leaves.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessCompleted, ProcessFailed, ProcessCancelled, ProcessWaitingHuman:
		return true
	default:
		return false
	}
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID     string      `json:"step_id"`
	Status     string      `json:"status"` // "completed" | "failed"
	Output     interface{} `json:"output,omitempty"`
	ErrorCode  ErrorCode   `json:"error_code,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
	DurationMs int64       `json:"duration_ms"`
}

// ProcessInstance is the ephemeral runtime object produced by executing
// a ProcessCard.
type ProcessInstance struct {
	ID            string                 `json:"id"`
	CardID        string                 `json:"card_id"`
	InputParams   map[string]interface{} `json:"input_params"`
	Variables     map[string]interface{} `json:"variables"`
	Status        ProcessStatus          `json:"status"`
	CurrentStepID string                 `json:"current_step_id,omitempty"`
	StepResults   []StepResult           `json:"step_results"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     int64                  `json:"started_at"`
	CompletedAt   int64                  `json:"completed_at,omitempty"`
	TraceID       string                 `json:"trace_id"`
}
