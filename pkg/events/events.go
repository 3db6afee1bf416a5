// Package events defines event types and structures for approval request
// lifecycle notifications.
package events

import (
	"time"
)

type EventType string

// Kafka topic.
const Topic = "approvalflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RequestStartedEvent       EventType = "request.started"
	RequestStepAdvancedEvent  EventType = "request.step.advanced"
	RequestApprovedEvent      EventType = "request.approved"
	RequestRejectedEvent      EventType = "request.rejected"
	RequestReturnedEvent      EventType = "request.returned"
	RequestDelegatedEvent     EventType = "request.delegated"
	RequestCancelledEvent     EventType = "request.cancelled"
	RequestCommentedEvent     EventType = "request.commented"
	RequestInfoRequestedEvent EventType = "request.info_requested"
	RequestOverdueEvent       EventType = "request.overdue"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RequestStarted is emitted when a pending request enters its first step.
type RequestStarted struct {
	BaseEvent

	StepOrder  int       `json:"step_order"`
	ApproverID string    `json:"approver_id,omitempty"`
	DueAt      time.Time `json:"due_at"`
}

func (e RequestStarted) GetType() EventType {
	return RequestStartedEvent
}

// RequestStepAdvanced is emitted when an approval moves a request to its
// next step.
type RequestStepAdvanced struct {
	BaseEvent

	FromStep   int       `json:"from_step"`
	ToStep     int       `json:"to_step"`
	ApproverID string    `json:"approver_id,omitempty"`
	DueAt      time.Time `json:"due_at"`
}

func (e RequestStepAdvanced) GetType() EventType {
	return RequestStepAdvancedEvent
}

// RequestApproved is emitted when the final step approves a request.
type RequestApproved struct {
	BaseEvent

	CompletedBy string `json:"completed_by"`
}

func (e RequestApproved) GetType() EventType {
	return RequestApprovedEvent
}

// RequestRejected is emitted when an approver rejects a request.
type RequestRejected struct {
	BaseEvent

	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

func (e RequestRejected) GetType() EventType {
	return RequestRejectedEvent
}

// RequestReturned is emitted when an approver sends a request back one step.
type RequestReturned struct {
	BaseEvent

	FromStep   int    `json:"from_step"`
	ToStep     int    `json:"to_step"`
	ApproverID string `json:"approver_id,omitempty"`
}

func (e RequestReturned) GetType() EventType {
	return RequestReturnedEvent
}

// RequestDelegated is emitted when the current approver hands the step to
// another user.
type RequestDelegated struct {
	BaseEvent

	StepOrder    int    `json:"step_order"`
	FromApprover string `json:"from_approver"`
	ToApprover   string `json:"to_approver"`
	Reason       string `json:"reason,omitempty"`
}

func (e RequestDelegated) GetType() EventType {
	return RequestDelegatedEvent
}

// RequestCancelled is emitted when a request is cancelled.
type RequestCancelled struct {
	BaseEvent

	ActorID string `json:"actor_id"`
}

func (e RequestCancelled) GetType() EventType {
	return RequestCancelledEvent
}

// RequestCommented is emitted when an approver comments without deciding.
type RequestCommented struct {
	BaseEvent

	ActorID   string `json:"actor_id"`
	StepOrder int    `json:"step_order"`
}

func (e RequestCommented) GetType() EventType {
	return RequestCommentedEvent
}

// RequestInfoRequested is emitted when an approver asks the submitter for
// more information.
type RequestInfoRequested struct {
	BaseEvent

	ActorID   string `json:"actor_id"`
	StepOrder int    `json:"step_order"`
}

func (e RequestInfoRequested) GetType() EventType {
	return RequestInfoRequestedEvent
}

// RequestOverdue is emitted by the overdue poller for every in-progress
// request whose current step due date has elapsed.
type RequestOverdue struct {
	BaseEvent

	StepOrder  int       `json:"step_order"`
	ApproverID string    `json:"approver_id,omitempty"`
	DueAt      time.Time `json:"due_at"`
}

func (e RequestOverdue) GetType() EventType {
	return RequestOverdueEvent
}
