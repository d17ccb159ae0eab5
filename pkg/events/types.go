// Package events publishes runtime lifecycle and resource telemetry over
// NATS so external observers (dashboards, alerting) can follow a goal
// without polling the HTTP facade.
//
// Publishing is always best-effort and never blocks orchestration: a
// *Publisher is nil-able exactly like the teacher's agent.EventPublisher,
// and every method on a nil *Publisher is a no-op. NATS publish failures
// are logged and swallowed rather than propagated, for the same reason
// the teacher's transient stream.chunk events never fail a request.
//
// pkg/runtime connects a Publisher and keeps it in Runtime.Events, but no
// component of this module calls its Publish methods.
package events

// Subjects this runtime publishes on. Each corresponds to one typed
// payload in payloads.go.
const (
	SubjectResourceSample = "forge.resource.sample"
	SubjectQuotaViolation = "forge.quota.violation"
	SubjectGoalStatus     = "forge.goal.status"
	SubjectTaskStatus     = "forge.task.status"
	SubjectAgentStatus    = "forge.agent.status"
	SubjectCapabilityGap  = "forge.capability.gap"
)
