package orchestratornode

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// Finalize turns the executions into the user-facing reply. When no proposal
// was handled the first-pass text is the reply. When the final pass fails the
// reply is built from the executions alone so nothing is claimed that the
// provider did not confirm.
func Finalize(ctx context.Context, in *GraphState, reasoner contractx.Reasoner, inputs ReasoningInputs) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("finalize", errNilState)
	}
	if len(in.Executions) == 0 {
		in.Reply = strings.TrimSpace(in.Draft)
		return in, nil
	}

	proposal, err := reasoner.Propose(ctx, inputs.request(in, contractx.ReasoningFinalize, in.History))
	if err == nil && strings.TrimSpace(proposal.Text) != "" {
		in.Reply = strings.TrimSpace(proposal.Text)
		return in, nil
	}
	if err != nil {
		log.Warn().
			Str("conversation_id", in.ConversationID).
			Int("executions", len(in.Executions)).
			Err(err).
			Msg("final reasoning pass failed, summarizing executions")
	}
	in.Reply = Summarize(in.Executions)
	return in, nil
}

// Summarize is the deterministic reply for a turn whose final pass failed.
func Summarize(executions []contractx.ToolExecution) string {
	if len(executions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Here is where things stand:")
	for _, exec := range executions {
		b.WriteString("\n- ")
		b.WriteString(exec.Content)
	}
	return b.String()
}

func FinalizeReply(in *GraphState, fallback string) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, stageErr("finalize_reply", errNilState)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = fallback
	}
	executions := in.Executions
	if executions == nil {
		executions = []contractx.ToolExecution{}
	}
	return GraphOutput{Reply: contractx.AgentReply{
		Content:        reply,
		ToolExecutions: executions,
	}}, nil
}
