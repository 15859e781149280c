package orchestratornode

import (
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
)

func EscalationGuard(in *GraphState, guard *policyx.Guard) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("escalation_guard", errNilState)
	}

	match, tripped := guard.Check(in.Latest, in.History)
	if !tripped {
		return in, nil
	}

	in.Escalation = &match
	log.Info().
		Str("conversation_id", in.ConversationID).
		Str("turn_id", in.TurnID).
		Str("kind", string(match.Kind)).
		Str("rule", match.Rule).
		Str("keyword", match.Keyword).
		Msg("escalation guard tripped")
	return in, nil
}

func Escalated(in *GraphState) bool {
	return in != nil && in.Escalation != nil
}

// Handoff ends an escalated turn with the fixed hand-off reply. No reasoning
// runs and no tool is executed.
func Handoff(in *GraphState, message string) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("handoff", errNilState)
	}
	in.Reply = message
	in.Executions = []contractx.ToolExecution{}
	return in, nil
}
