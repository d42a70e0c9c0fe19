package event

import "time"

// Standard topics published by the pipeline.
const (
	TopicRequestCreated    = "request.created"
	TopicRequestUpdated    = "request.updated"
	TopicApprovalRequested = "approval.requested"
	TopicDecisionCreated   = "decision.created"
)

// Event is the envelope fanned out to subscribers.
type Event struct {
	Topic     string            `json:"topic"`
	Data      interface{}       `json:"data"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func NewEvent(topic string, data interface{}) *Event {
	return &Event{
		Topic:     topic,
		Data:      data,
		CreatedAt: time.Now(),
	}
}
