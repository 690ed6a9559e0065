// Package dispatch delivers milestone notifications to the external automation
// bus with idempotency, bounded retry, and a durable fallback queue.
package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Event enumerates the closed vocabulary of milestone notifications.
type Event string

const (
	EventPlanValidated  Event = "PLAN_VALIDATED"
	EventExecutionError Event = "EXECUTION_ERROR"
	EventEvidenceReady  Event = "EVIDENCE_READY"
	EventSecurityBreach Event = "SECURITY_BREACH_ATTEMPT"
	EventHighLatency    Event = "HIGH_LATENCY_THRESHOLD"
	EventHITLTimeout    Event = "HITL_TIMEOUT"
	EventHeartbeat      Event = "HEARTBEAT"
)

var eventDescriptions = map[Event]string{
	EventPlanValidated:  "Plan generated and validated successfully",
	EventExecutionError: "Error during plan execution",
	EventEvidenceReady:  "Evidence collected and ready for reporting",
	EventSecurityBreach: "Security breach attempt detected",
	EventHighLatency:    "Latency threshold exceeded",
	EventHITLTimeout:    "Timed out waiting for human approval",
	EventHeartbeat:      "Dispatcher heartbeat",
}

// Valid reports whether the event type is in the vocabulary.
func (e Event) Valid() bool {
	_, ok := eventDescriptions[e]
	return ok
}

// Description returns the human-readable milestone description.
func (e Event) Description() string {
	return eventDescriptions[e]
}

// Events lists the full vocabulary in a stable order.
func Events() []Event {
	return []Event{
		EventPlanValidated,
		EventExecutionError,
		EventEvidenceReady,
		EventSecurityBreach,
		EventHighLatency,
		EventHITLTimeout,
		EventHeartbeat,
	}
}

// IdempotencyKey derives the deterministic at-most-once key for an emission.
// Two emissions of the same (event type, plan id) always collide here.
func IdempotencyKey(event Event, planID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", event, planID)))
	return hex.EncodeToString(sum[:])[:16]
}

// SystemContext identifies the emitting installation.
type SystemContext struct {
	ToolVersion string `json:"tool_version"`
	Hostname    string `json:"hostname"`
	Model       string `json:"model"`
}

// Envelope is the wire body POSTed to the bus.
type Envelope struct {
	EventType        Event          `json:"event_type"`
	EventDescription string         `json:"event_description"`
	Timestamp        string         `json:"timestamp"`
	IdempotencyKey   string         `json:"idempotency_key"`
	SystemContext    SystemContext  `json:"system_context"`
	Payload          map[string]any `json:"payload"`
}
