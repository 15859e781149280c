package contract

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// Message is immutable once created; corrections are new messages.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is an assistant-side record of a call that was made, kept in
// history so the reasoner can pair it with the role=tool result.
type ToolCall struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
}

// LatestUserMessage returns the last role=user message in history.
func LatestUserMessage(history []Message) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i], true
		}
	}
	return Message{}, false
}

type ClientContext struct {
	ConversationID string `json:"conversationId,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Channel        string `json:"channel,omitempty"`
}

type ToolName string

const (
	ToolScheduleAppointment   ToolName = "schedule_appointment"
	ToolRescheduleAppointment ToolName = "reschedule_appointment"
	ToolCancelAppointment     ToolName = "cancel_appointment"
)

type ProviderName string

const (
	ProviderCalendly ProviderName = "calendly"
	ProviderGoogle   ProviderName = "google"
	ProviderCustom   ProviderName = "custom"
)

func (p ProviderName) Valid() bool {
	switch p {
	case ProviderCalendly, ProviderGoogle, ProviderCustom:
		return true
	default:
		return false
	}
}

// ToolCallProposal is unvalidated until the tool registry checks it.
type ToolCallProposal struct {
	ID           string         `json:"id"`
	Tool         string         `json:"tool"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"rawArguments,omitempty"`
}

type AppointmentPayload struct {
	CustomerName  string         `json:"customerName"`
	CustomerEmail string         `json:"customerEmail,omitempty"`
	CustomerPhone string         `json:"customerPhone,omitempty"`
	ServiceType   string         `json:"serviceType"`
	StartTime     time.Time      `json:"startTime"`
	Notes         string         `json:"notes,omitempty"`
	Provider      ProviderName   `json:"provider,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type ReschedulePayload struct {
	BookingID    BookingID    `json:"bookingId"`
	NewStartTime time.Time    `json:"newStartTime"`
	Notes        string       `json:"notes,omitempty"`
	Provider     ProviderName `json:"provider,omitempty"`
}

type CancelPayload struct {
	BookingID BookingID    `json:"bookingId"`
	Notes     string       `json:"notes,omitempty"`
	Provider  ProviderName `json:"provider,omitempty"`
}

type BookingID string

type Ack struct {
	BookingID BookingID `json:"bookingId"`
	Status    string    `json:"status"`
}

type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionRejected  ExecutionStatus = "rejected"
)

// ToolExecution is the human-readable outcome of one handled proposal.
type ToolExecution struct {
	Tool      string          `json:"tool"`
	Content   string          `json:"content"`
	Status    ExecutionStatus `json:"status"`
	BookingID BookingID       `json:"bookingId,omitempty"`
	Retriable bool            `json:"retriable,omitempty"`
}

type AgentRules struct {
	Tone               string   `json:"tone" yaml:"tone"`
	EscalationCriteria []string `json:"escalationCriteria" yaml:"escalation_criteria"`
	DisallowedTopics   []string `json:"disallowedTopics" yaml:"disallowed_topics"`
}

type AgentReply struct {
	Content        string          `json:"content"`
	ToolExecutions []ToolExecution `json:"toolExecutions"`
}

type ReasoningMode string

const (
	// ReasoningAct may propose tool calls.
	ReasoningAct ReasoningMode = "act"
	// ReasoningCorrect re-prompts after a rejected proposal.
	ReasoningCorrect ReasoningMode = "correct"
	// ReasoningFinalize summarizes executed tools for the user; no tool calls.
	ReasoningFinalize ReasoningMode = "finalize"
)

type ParamSchema struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Desc     string   `json:"desc"`
	Required bool     `json:"required"`
	Enum     []string `json:"enum,omitempty"`
}

type ToolSchema struct {
	Name   string        `json:"name"`
	Desc   string        `json:"desc"`
	Params []ParamSchema `json:"params"`
}

type ReasoningRequest struct {
	Mode     ReasoningMode `json:"mode"`
	History  []Message     `json:"history"`
	Rules    AgentRules    `json:"rules"`
	Policy   string        `json:"policy"`
	Tools    []ToolSchema  `json:"tools,omitempty"`
	Now      time.Time     `json:"now"`
	Timezone string        `json:"timezone,omitempty"`
}

type Proposal struct {
	Text      string             `json:"text"`
	ToolCalls []ToolCallProposal `json:"toolCalls,omitempty"`
}

type AuditEntry struct {
	ConversationID  string          `json:"conversationId"`
	TurnID          string          `json:"turnId"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	Tool            string          `json:"tool"`
	Status          ExecutionStatus `json:"status"`
	Content         string          `json:"content"`
	BookingID       BookingID       `json:"bookingId,omitempty"`
	Retriable       bool            `json:"retriable,omitempty"`
	CallerCancelled bool            `json:"callerCancelled,omitempty"`
	RecordedAt      time.Time       `json:"recordedAt"`
}
