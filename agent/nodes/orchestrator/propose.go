package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

const proposeAttempts = 2

// ReasoningInputs are the turn-independent parts of every reasoning request.
type ReasoningInputs struct {
	Rules  contractx.AgentRules
	Policy string
	Tools  []contractx.ToolSchema
}

func (r ReasoningInputs) request(in *GraphState, mode contractx.ReasoningMode, history []contractx.Message) contractx.ReasoningRequest {
	req := contractx.ReasoningRequest{
		Mode:     mode,
		History:  history,
		Rules:    r.Rules,
		Policy:   r.Policy,
		Now:      in.Now,
		Timezone: in.Location.String(),
	}
	if mode != contractx.ReasoningFinalize {
		req.Tools = r.Tools
	}
	return req
}

// Propose runs the first reasoning pass. An unreachable model or a malformed
// response is retried once before the turn fails.
func Propose(ctx context.Context, in *GraphState, reasoner contractx.Reasoner, inputs ReasoningInputs) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("propose", errNilState)
	}

	req := inputs.request(in, contractx.ReasoningAct, in.History)
	var (
		proposal contractx.Proposal
		err      error
	)
	for attempt := 1; attempt <= proposeAttempts; attempt++ {
		proposal, err = reasoner.Propose(ctx, req)
		if err == nil {
			break
		}
		log.Warn().
			Str("conversation_id", in.ConversationID).
			Int("attempt", attempt).
			Err(err).
			Msg("reasoning pass failed")
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, stageErr("propose", err)
	}

	in.Draft = proposal.Text
	in.Proposals = proposal.ToolCalls
	log.Debug().
		Str("conversation_id", in.ConversationID).
		Int("proposals", len(in.Proposals)).
		Msg("reasoning proposed")
	return in, nil
}
