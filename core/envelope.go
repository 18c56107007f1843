package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the discriminator on an Envelope's data payload.
type MessageType string

const (
	MessageCommand MessageType = "command"
	MessageResult  MessageType = "result"
	MessageError   MessageType = "error"
	MessageEvent   MessageType = "event"
	MessageControl MessageType = "control"
)

// Severity classifies an event's urgency.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ResultStatus is the only legal value of a result payload's status field
// today; kept as a named type so the wire shape is self-documenting.
type ResultStatus string

const ResultStatusSuccess ResultStatus = "SUCCESS"

// Envelope is the CloudEvents-style wrapper carried by every bus message.
// Data holds the type-specific payload as raw JSON; callers decode it via
// DecodeCommand/DecodeResult/DecodeError/DecodeEvent/DecodeControl after
// checking Type, or via Validate which does exactly that as a side effect.
type Envelope struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	Source        string          `json:"source"`
	Subject       string          `json:"subject,omitempty"`
	Time          time.Time       `json:"time"`
	TraceParent   string          `json:"traceparent,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Priority      int             `json:"priority"`
	Data          json.RawMessage `json:"data"`
}

// CommandPayload is the data shape of a MessageCommand envelope.
type CommandPayload struct {
	Action          string                 `json:"action"`
	Params          map[string]interface{} `json:"params"`
	TimeoutSeconds  *float64               `json:"timeout_seconds,omitempty"`
	Requirements    map[string]interface{} `json:"requirements,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

// ResultPayload is the data shape of a MessageResult envelope.
type ResultPayload struct {
	Status          ResultStatus           `json:"status"`
	Output          map[string]interface{} `json:"output"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// ErrorPayload is the data shape of a MessageError envelope.
type ErrorPayload struct {
	Error           BusError `json:"error"`
	ExecutionTimeMs *int64   `json:"execution_time_ms,omitempty"`
}

// EventPayload is the data shape of a MessageEvent envelope.
type EventPayload struct {
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	Severity  Severity               `json:"severity"`
	Tags      []string               `json:"tags,omitempty"`
}

// ControlPayload is the data shape of a MessageControl envelope.
type ControlPayload struct {
	ControlType string                 `json:"control_type"`
	Reason      string                 `json:"reason,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Validate checks the envelope's required fields and that Data parses and
// satisfies the schema for Type. It is called on both send and receive
// (spec: payloads are validated in both directions).
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is required: %w", ErrInvalidConfiguration)
	}
	if e.Time.IsZero() {
		return fmt.Errorf("envelope time is required: %w", ErrInvalidConfiguration)
	}

	switch e.Type {
	case MessageCommand:
		if e.ReplyTo == "" {
			return fmt.Errorf("command envelope requires reply_to: %w", ErrInvalidConfiguration)
		}
		p, err := e.DecodeCommand()
		if err != nil {
			return err
		}
		if p.Action == "" {
			return fmt.Errorf("command payload requires action: %w", ErrInvalidConfiguration)
		}
	case MessageResult:
		if e.CorrelationID == "" {
			return fmt.Errorf("result envelope requires correlation_id: %w", ErrInvalidConfiguration)
		}
		p, err := e.DecodeResult()
		if err != nil {
			return err
		}
		if p.Status != ResultStatusSuccess {
			return fmt.Errorf("result payload status must be SUCCESS: %w", ErrInvalidConfiguration)
		}
	case MessageError:
		if e.CorrelationID == "" {
			return fmt.Errorf("error envelope requires correlation_id: %w", ErrInvalidConfiguration)
		}
		p, err := e.DecodeError()
		if err != nil {
			return err
		}
		if p.Error.Code == "" || p.Error.Message == "" {
			return fmt.Errorf("error payload requires code and message: %w", ErrInvalidConfiguration)
		}
	case MessageEvent:
		p, err := e.DecodeEvent()
		if err != nil {
			return err
		}
		if p.EventType == "" {
			return fmt.Errorf("event payload requires event_type: %w", ErrInvalidConfiguration)
		}
		switch p.Severity {
		case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		default:
			return fmt.Errorf("event payload has invalid severity %q: %w", p.Severity, ErrInvalidConfiguration)
		}
	case MessageControl:
		p, err := e.DecodeControl()
		if err != nil {
			return err
		}
		if p.ControlType == "" {
			return fmt.Errorf("control payload requires control_type: %w", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("unknown envelope type %q: %w", e.Type, ErrInvalidConfiguration)
	}

	return nil
}

func (e *Envelope) DecodeCommand() (*CommandPayload, error) {
	var p CommandPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decoding command payload: %w", ErrInvalidConfiguration)
	}
	return &p, nil
}

func (e *Envelope) DecodeResult() (*ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decoding result payload: %w", ErrInvalidConfiguration)
	}
	return &p, nil
}

func (e *Envelope) DecodeError() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decoding error payload: %w", ErrInvalidConfiguration)
	}
	return &p, nil
}

func (e *Envelope) DecodeEvent() (*EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", ErrInvalidConfiguration)
	}
	return &p, nil
}

func (e *Envelope) DecodeControl() (*ControlPayload, error) {
	var p ControlPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decoding control payload: %w", ErrInvalidConfiguration)
	}
	return &p, nil
}

// setData marshals payload into e.Data; used by the bus package's
// Send* helpers so callers build typed payloads, not raw JSON.
func (e *Envelope) setData(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	e.Data = data
	return nil
}

// NewCommandEnvelope builds and validates a command envelope.
func NewCommandEnvelope(id, source, subject, replyTo string, priority int, payload CommandPayload) (*Envelope, error) {
	e := &Envelope{
		ID: id, Type: MessageCommand, Source: source, Subject: subject,
		Time: time.Now().UTC(), ReplyTo: replyTo, CorrelationID: id, Priority: priority,
	}
	if err := e.setData(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewResultEnvelope builds and validates a result envelope.
func NewResultEnvelope(id, source, subject, correlationID string, priority int, payload ResultPayload) (*Envelope, error) {
	e := &Envelope{
		ID: id, Type: MessageResult, Source: source, Subject: subject,
		Time: time.Now().UTC(), CorrelationID: correlationID, Priority: priority,
	}
	if err := e.setData(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewErrorEnvelope builds and validates an error envelope.
func NewErrorEnvelope(id, source, subject, correlationID string, priority int, payload ErrorPayload) (*Envelope, error) {
	e := &Envelope{
		ID: id, Type: MessageError, Source: source, Subject: subject,
		Time: time.Now().UTC(), CorrelationID: correlationID, Priority: priority,
	}
	if err := e.setData(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEventEnvelope builds and validates an event envelope.
func NewEventEnvelope(id, source string, priority int, payload EventPayload) (*Envelope, error) {
	e := &Envelope{
		ID: id, Type: MessageEvent, Source: source,
		Time: time.Now().UTC(), Priority: priority,
	}
	if err := e.setData(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewControlEnvelope builds and validates a control envelope.
func NewControlEnvelope(id, source string, priority int, payload ControlPayload) (*Envelope, error) {
	e := &Envelope{
		ID: id, Type: MessageControl, Source: source,
		Time: time.Now().UTC(), Priority: priority,
	}
	if err := e.setData(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
