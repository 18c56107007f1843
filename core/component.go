package core

import (
	"time"
)

// NodeType classifies what role a registered node plays on the bus.
// The set is open-ended (spec allows "storage, gateway, ..."); these are
// the roles the rest of this module actually produces or consumes.
type NodeType string

const (
	NodeTypeOrchestrator NodeType = "orchestrator"
	NodeTypeAgent        NodeType = "agent"
	NodeTypeStorage      NodeType = "storage"
	NodeTypeGateway      NodeType = "gateway"
)

// NodePhase is the coarse lifecycle phase a node reports about itself,
// independent of the registry's own liveness tracking (HealthState).
type NodePhase string

const (
	NodePhasePending    NodePhase = "pending"
	NodePhaseRunning    NodePhase = "running"
	NodePhaseDegraded   NodePhase = "degraded"
	NodePhaseTerminated NodePhase = "terminated"
)

// ConditionStatus is a tri-state condition value, following the
// Kubernetes condition convention the passport shape is modeled on.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "true"
	ConditionFalse   ConditionStatus = "false"
	ConditionUnknown ConditionStatus = "unknown"
)

// Condition is a single reported health/readiness facet of a node.
type Condition struct {
	Type               string          `json:"type"`
	Status             ConditionStatus `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	Message            string          `json:"message,omitempty"`
	LastTransitionTime time.Time       `json:"last_transition_time"`
}

// Capability is a named unit of work a node advertises; the unit of
// discovery for both the Registry's capability filter and the
// Orchestrator's worker selection.
type Capability struct {
	Name       string                 `json:"name"`
	Version    string                 `json:"version,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Endpoint describes how a node is reachable for its capabilities.
// Protocol is almost always "bus" in this system; "url" exists for nodes
// that additionally expose a direct endpoint (e.g. a gateway).
type Endpoint struct {
	Protocol string `json:"protocol"`
	Queue    string `json:"queue,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Lease is the heartbeat contract between a node and the registry that
// holds it. RenewTime is bumped on every heartbeat; an entry whose lease
// has gone stale past TTL is evicted by the registry's sweeper.
type Lease struct {
	HolderIdentity    string    `json:"holder_identity"`
	LeaseDurationSecs int       `json:"lease_duration_seconds"`
	RenewTime         time.Time `json:"renew_time"`
}

// NodeMetadata identifies a node and carries its queryable labels.
type NodeMetadata struct {
	UID      string            `json:"uid"`
	Name     string            `json:"name"`
	NodeType NodeType          `json:"node_type"`
	Labels   map[string]string `json:"labels,omitempty"`
	Version  string            `json:"version,omitempty"`
}

// NodeSpec declares what a node can do and how to reach it.
type NodeSpec struct {
	Capabilities  []Capability           `json:"capabilities"`
	Endpoint      Endpoint               `json:"endpoint"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// NodeStatus is the mutable, registry-observed state of a node.
type NodeStatus struct {
	Phase                NodePhase   `json:"phase"`
	Conditions           []Condition `json:"conditions,omitempty"`
	Lease                Lease       `json:"lease"`
	CurrentTasks         int         `json:"current_tasks"`
	TotalTasksProcessed  int64       `json:"total_tasks_processed"`
}

// NodePassport is the complete registry entity for a node: the
// metadata/spec/status triad described in the registry's data model.
type NodePassport struct {
	Metadata NodeMetadata `json:"metadata"`
	Spec     NodeSpec     `json:"spec"`
	Status   NodeStatus   `json:"status"`
}

// HasCapability reports whether the passport advertises the named
// capability, regardless of version.
func (p *NodePassport) HasCapability(name string) bool {
	for _, c := range p.Spec.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// MatchesLabels reports whether every key in selector is present on the
// passport's labels with an equal value (AND semantics; an empty
// selector always matches).
func (p *NodePassport) MatchesLabels(selector map[string]string) bool {
	for k, v := range selector {
		if p.Metadata.Labels[k] != v {
			return false
		}
	}
	return true
}
