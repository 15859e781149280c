package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
)

var (
	ErrEmptyHistory   = errors.New("history is empty")
	ErrNoUserMessage  = errors.New("history has no user message")
	ErrInvalidHistory = errors.New("history is invalid")
)

type GraphInput struct {
	History []contractx.Message
	Client  *contractx.ClientContext
}

type GraphOutput struct {
	Reply contractx.AgentReply
}

// GraphState is owned by a single turn and threaded through every node.
type GraphState struct {
	TurnID         string
	ConversationID string
	Channel        string
	Now            time.Time
	Location       *time.Location

	// History starts as a copy of the caller's messages; executed tool calls
	// and their results are appended as the turn progresses.
	History []contractx.Message
	Latest  contractx.Message

	Escalation *policyx.Match

	Ledger      *statex.ConversationState
	LedgerDirty bool

	Draft      string
	Proposals  []contractx.ToolCallProposal
	Executions []contractx.ToolExecution

	Reply string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time, fallback *time.Location) (*GraphState, error) {
	if len(in.History) == 0 {
		return nil, stageErr("validate_request", ErrEmptyHistory)
	}

	var prev time.Time
	for i, msg := range in.History {
		if !msg.Role.Valid() {
			return nil, stageErr("validate_request", fmt.Errorf("%w: message %d has role %q", ErrInvalidHistory, i, msg.Role))
		}
		if !msg.CreatedAt.IsZero() {
			if !prev.IsZero() && msg.CreatedAt.Before(prev) {
				return nil, stageErr("validate_request", fmt.Errorf("%w: message %d is older than the one before it", ErrInvalidHistory, i))
			}
			prev = msg.CreatedAt
		}
	}

	latest, ok := contractx.LatestUserMessage(in.History)
	if !ok {
		return nil, stageErr("validate_request", ErrNoUserMessage)
	}

	st := &GraphState{
		TurnID:   uuid.NewString(),
		Now:      nowFn(),
		Location: fallback,
		History:  append([]contractx.Message(nil), in.History...),
		Latest:   latest,
	}
	if st.Location == nil {
		st.Location = time.UTC
	}

	if in.Client != nil {
		st.ConversationID = strings.TrimSpace(in.Client.ConversationID)
		st.Channel = strings.TrimSpace(in.Client.Channel)
		if tz := strings.TrimSpace(in.Client.Timezone); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				log.Warn().Str("timezone", tz).Err(err).Msg("ignoring unknown client timezone")
			} else {
				st.Location = loc
			}
		}
	}
	if st.ConversationID == "" {
		st.ConversationID = strings.TrimSpace(in.History[0].ID)
	}
	if st.ConversationID == "" {
		st.ConversationID = "conv_" + st.TurnID
	}

	return st, nil
}

func stageErr(stage string, err error) error {
	var oe *contractx.OrchestrationError
	if errors.As(err, &oe) {
		return oe
	}
	return &contractx.OrchestrationError{Stage: stage, Err: err}
}
