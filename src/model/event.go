package model

import (
	"time"

	"github.com/google/uuid"
)

type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionFiltered Decision = "FILTERED"
	DecisionNeutral  Decision = "NEUTRAL"
)

// PipelineEvent is the audit record a stage emits. Build it with
// NewPipelineEvent; the maps are copied so the record cannot be changed
// by the producer afterwards.
type PipelineEvent struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`
	Symbol     string         `json:"symbol"`
	Timestamp  time.Time      `json:"timestamp"`
	Decision   Decision       `json:"decision"`
	Reason     string         `json:"reason"`
	Context    map[string]any `json:"context"`
	Confidence int            `json:"confidence"`
	Payload    map[string]any `json:"payload"`
}

func NewPipelineEvent(agent, symbol string, at time.Time, decision Decision, confidence int, reason string, context, payload map[string]any) PipelineEvent {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return PipelineEvent{
		ID:         uuid.NewString(),
		Agent:      agent,
		Symbol:     symbol,
		Timestamp:  at,
		Decision:   decision,
		Reason:     reason,
		Context:    CloneFields(context),
		Confidence: confidence,
		Payload:    CloneFields(payload),
	}
}

// Approved is shorthand for Decision == APPROVED.
func (e PipelineEvent) Approved() bool {
	return e.Decision == DecisionApproved
}

// Copy returns the event with its maps duplicated.
func (e PipelineEvent) Copy() PipelineEvent {
	e.Context = CloneFields(e.Context)
	e.Payload = CloneFields(e.Payload)
	return e
}

// String reads a string value from Context, or "" when absent.
func (e PipelineEvent) String(key string) string {
	if v, ok := e.Context[key].(string); ok {
		return v
	}
	return ""
}

// CloneFields is a shallow copy of m; nil stays nil-safe as an empty map.
func CloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const (
	AgentStatusActive  = "ACTIVE"
	AgentStatusBlocked = "BLOCKED"
)

// AgentStatus summarises one pipeline stage for the control surface.
type AgentStatus struct {
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	LastDecision Decision   `json:"last_decision,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	Runs         int64      `json:"runs"`
}
