package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	promptx "github.com/tanpawarit/booking-concierge/agent/prompt"
)

var _ contractx.Reasoner = (*Reasoner)(nil)

// Reasoner turns a conversation into text and tool call proposals using a
// tool-calling chat model. Tools are bound once at construction; the
// finalize pass runs on the unbound model so it cannot propose more calls.
type Reasoner struct {
	actRunner   compose.Runnable[map[string]any, *schema.Message]
	finalRunner compose.Runnable[map[string]any, *schema.Message]
}

func New(ctx context.Context, chatModel einomodel.ToolCallingChatModel, tools []*schema.ToolInfo) (*Reasoner, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrModelInvoke)
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind booking tools: %v", contractx.ErrModelInvoke, err)
	}
	actRunner, err := compileChatGraph(ctx, toolModel, "reasoning.act_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	finalRunner, err := compileChatGraph(ctx, chatModel, "reasoning.finalize_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	return &Reasoner{actRunner: actRunner, finalRunner: finalRunner}, nil
}

func (r *Reasoner) Propose(ctx context.Context, req contractx.ReasoningRequest) (contractx.Proposal, error) {
	if len(req.History) == 0 {
		return contractx.Proposal{}, fmt.Errorf("%w: history is empty", contractx.ErrValidation)
	}

	runner := r.actRunner
	if req.Mode == contractx.ReasoningFinalize {
		runner = r.finalRunner
		req.Tools = nil
	}

	vars := promptx.Vars(req)
	vars[historyVar] = toSchemaMessages(req.History)

	msg, err := runner.Invoke(ctx, vars)
	if err != nil {
		return contractx.Proposal{}, fmt.Errorf("%w: %s pass: %v", contractx.ErrModelInvoke, modeName(req.Mode), err)
	}
	if msg == nil {
		return contractx.Proposal{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}

	proposal := contractx.Proposal{Text: strings.TrimSpace(msg.Content)}
	if req.Mode != contractx.ReasoningFinalize {
		calls, err := toProposals(msg.ToolCalls)
		if err != nil {
			return contractx.Proposal{}, err
		}
		proposal.ToolCalls = calls
	}

	if proposal.Text == "" && len(proposal.ToolCalls) == 0 {
		return contractx.Proposal{}, fmt.Errorf("%w: response has neither text nor tool calls", contractx.ErrSchemaViolation)
	}
	return proposal, nil
}

// toProposals keeps calls with unparseable arguments; they surface as a nil
// Arguments map so the orchestrator can reject and re-prompt.
func toProposals(calls []schema.ToolCall) ([]contractx.ToolCallProposal, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]contractx.ToolCallProposal, 0, len(calls))
	for i, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}

		raw := strings.TrimSpace(call.Function.Arguments)
		var args map[string]any
		if raw == "" {
			args = map[string]any{}
		} else if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = nil
		}

		out = append(out, contractx.ToolCallProposal{
			ID:           id,
			Tool:         tool,
			Arguments:    args,
			RawArguments: raw,
		})
	}
	return out, nil
}

func toSchemaMessages(history []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case contractx.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case contractx.RoleTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		case contractx.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, toSchemaToolCalls(m.ToolCalls)))
		}
	}
	return out
}

func toSchemaToolCalls(calls []contractx.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Tool,
				Arguments: c.Arguments,
			},
		})
	}
	return out
}

func modeName(m contractx.ReasoningMode) string {
	if m == "" {
		return string(contractx.ReasoningAct)
	}
	return string(m)
}
