package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher publishes runtime events over NATS. A nil *Publisher is valid
// and every method becomes a no-op — callers thread it through exactly
// like the teacher's nil-able agent.EventPublisher, so components never
// need a "has events" branch.
//
// Each public method accepts a specific typed payload struct (see
// payloads.go), marshals it to JSON, and publishes on a fixed subject
// (see types.go). Connection and publish failures are logged and
// swallowed: telemetry must never fail or slow down orchestration.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials the given NATS URL, grounded on
// streamspace-dev-streamspace/docker-controller's subscriber connection
// options (named connection, indefinite reconnect). Returns a nil
// *Publisher with a non-nil error on failure; callers that treat events
// as optional can log the error and continue with the nil result.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("forge-runtime"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &Publisher{conn: conn}, nil
}

// Close drains and closes the NATS connection. Safe to call on nil.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// PublishResourceSample publishes a forge.resource.sample event.
func (p *Publisher) PublishResourceSample(payload ResourceSamplePayload) {
	p.publish(SubjectResourceSample, payload)
}

// PublishQuotaViolation publishes a forge.quota.violation event.
func (p *Publisher) PublishQuotaViolation(payload QuotaViolationPayload) {
	p.publish(SubjectQuotaViolation, payload)
}

// PublishGoalStatus publishes a forge.goal.status event.
func (p *Publisher) PublishGoalStatus(payload GoalStatusPayload) {
	p.publish(SubjectGoalStatus, payload)
}

// PublishTaskStatus publishes a forge.task.status event.
func (p *Publisher) PublishTaskStatus(payload TaskStatusPayload) {
	p.publish(SubjectTaskStatus, payload)
}

// PublishAgentStatus publishes a forge.agent.status event.
func (p *Publisher) PublishAgentStatus(payload AgentStatusPayload) {
	p.publish(SubjectAgentStatus, payload)
}

// PublishCapabilityGap publishes a forge.capability.gap event.
func (p *Publisher) PublishCapabilityGap(payload CapabilityGapPayload) {
	p.publish(SubjectCapabilityGap, payload)
}

func (p *Publisher) publish(subject string, payload any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("failed to marshal event payload", "subject", subject, "error", err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("failed to publish event", "subject", subject, "error", err)
	}
}
