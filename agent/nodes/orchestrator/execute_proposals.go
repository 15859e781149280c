package orchestratornode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
	toolx "github.com/tanpawarit/booking-concierge/agent/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor handles a turn's proposals strictly in order: validate, optionally
// correct once, dedupe by idempotency key, call the provider, record.
type Executor struct {
	Registry  *toolx.Registry
	Provider  contractx.BookingProvider
	Reasoner  contractx.Reasoner
	Audit     contractx.AuditSink
	Inputs    ReasoningInputs
	Timeout   time.Duration
	Retention int
	Tracer    trace.Tracer
}

type turnRun struct {
	in   *GraphState
	refs map[string]contractx.BookingID
	// seen maps an idempotency key to its index in in.Executions.
	seen map[string]int
	// lengths holds bookings made or moved this turn.
	lengths map[contractx.BookingID]time.Duration
}

func (r *turnRun) length(id contractx.BookingID) (time.Duration, bool) {
	if d, ok := r.lengths[id]; ok {
		return d, true
	}
	return r.in.Ledger.Length(id)
}

func (e *Executor) ExecuteProposals(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("execute_proposals", errNilState)
	}
	if in.Executions == nil {
		in.Executions = []contractx.ToolExecution{}
	}

	run := &turnRun{
		in:      in,
		refs:    map[string]contractx.BookingID{},
		seen:    map[string]int{},
		lengths: map[contractx.BookingID]time.Duration{},
	}
	for _, p := range in.Proposals {
		if ctx.Err() != nil {
			log.Warn().
				Str("conversation_id", in.ConversationID).
				Str("turn_id", in.TurnID).
				Err(ctx.Err()).
				Msg("caller went away, skipping remaining proposals")
			break
		}
		e.handle(ctx, run, p, true)
	}
	return in, nil
}

func (e *Executor) handle(ctx context.Context, run *turnRun, p contractx.ToolCallProposal, mayCorrect bool) {
	in := run.in

	args, err := e.validate(run, p)
	if err != nil {
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("tool", p.Tool).
			Str("call_id", p.ID).
			Err(err).
			Msg("proposal rejected")

		if mayCorrect {
			if corrected, ok := e.correct(ctx, in, p, err); ok {
				e.handle(ctx, run, corrected, false)
				// Later calls may still refer to the booking by the original id.
				if id, ok := run.refs[corrected.ID]; ok {
					run.refs[p.ID] = id
				}
				return
			}
		}
		e.reject(ctx, run, p, err)
		return
	}

	intent := toolx.IdempotencyKey(args, in.ConversationID)
	rec, reuse, supersedes := in.Ledger.Applied(intent, toolx.TargetBooking(args))
	key := toolx.SupersedingKey(intent, supersedes)
	if reuse {
		key = rec.IdempotencyKey
	}

	if idx, dup := run.seen[key]; dup {
		prior := in.Executions[idx]
		if prior.BookingID != "" {
			run.refs[p.ID] = prior.BookingID
		}
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("idempotency_key", key).
			Msg("duplicate proposal in turn, not executing again")
		return
	}

	if reuse {
		exec := contractx.ToolExecution{
			Tool:      p.Tool,
			Content:   rec.Content,
			Status:    contractx.ExecutionSucceeded,
			BookingID: rec.BookingID,
		}
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("idempotency_key", key).
			Str("booking_id", string(rec.BookingID)).
			Msg("reusing completed execution from ledger")
		e.commit(ctx, run, p, statex.ExecutionRecord{IdempotencyKey: key, Intent: intent, Length: rec.Length}, exec, false)
		return
	}

	if supersedes != "" {
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("idempotency_key", key).
			Str("supersedes", supersedes).
			Msg("booking changed since this request last ran, executing again")
	}

	exec := e.invoke(ctx, in, p, args, key)
	e.commit(ctx, run, p, statex.ExecutionRecord{IdempotencyKey: key, Intent: intent, Length: e.lengthOf(run, args)}, exec, true)
}

// lengthOf is how long the booking lasts once args apply.
func (e *Executor) lengthOf(run *turnRun, args toolx.ValidatedArgs) time.Duration {
	switch a := args.(type) {
	case toolx.ScheduleAppointment:
		return a.Duration
	case toolx.RescheduleAppointment:
		d, _ := run.length(a.Payload.BookingID)
		return d
	}
	return 0
}

func (e *Executor) validate(run *turnRun, p contractx.ToolCallProposal) (toolx.ValidatedArgs, error) {
	in := run.in
	args := p.Arguments
	if args == nil && p.RawArguments != "" {
		decoded, err := toolx.DecodeArguments(p.Tool, p.RawArguments)
		if err != nil {
			return nil, err
		}
		args = decoded
	}
	return e.Registry.Validate(p.Tool, args, toolx.ValidationContext{
		Now:           in.Now,
		Location:      in.Location,
		BookingRefs:   run.refs,
		BookingLength: run.length,
	})
}

// correct asks the reasoner once to fix a rejected proposal. The first call it
// returns replaces the rejected one.
func (e *Executor) correct(ctx context.Context, in *GraphState, p contractx.ToolCallProposal, cause error) (contractx.ToolCallProposal, bool) {
	history := append([]contractx.Message(nil), in.History...)
	history = append(history, callMessages(in.Now, p, rejectionContent(p, cause))...)

	proposal, err := e.Reasoner.Propose(ctx, e.Inputs.request(in, contractx.ReasoningCorrect, history))
	if err != nil {
		log.Warn().Str("conversation_id", in.ConversationID).Str("call_id", p.ID).Err(err).Msg("corrective re-prompt failed")
		return contractx.ToolCallProposal{}, false
	}
	if len(proposal.ToolCalls) == 0 {
		return contractx.ToolCallProposal{}, false
	}
	return proposal.ToolCalls[0], true
}

func (e *Executor) reject(ctx context.Context, run *turnRun, p contractx.ToolCallProposal, cause error) {
	in := run.in
	exec := contractx.ToolExecution{
		Tool:    p.Tool,
		Content: rejectionContent(p, cause),
		Status:  contractx.ExecutionRejected,
	}
	in.Executions = append(in.Executions, exec)
	in.History = append(in.History, callMessages(in.Now, p, exec.Content)...)
	e.audit(ctx, in, "", exec)
}

func (e *Executor) invoke(ctx context.Context, in *GraphState, p contractx.ToolCallProposal, args toolx.ValidatedArgs, key string) contractx.ToolExecution {
	ctx, span := e.Tracer.Start(ctx, "orchestrator.execute_tool", trace.WithAttributes(
		attribute.String("conversation.id", in.ConversationID),
		attribute.String("tool.name", p.Tool),
		attribute.String("tool.call_id", p.ID),
		attribute.String("tool.idempotency_key", key),
	))
	defer span.End()

	started := time.Now()
	outcome, err := toolx.Invoke(ctx, e.Provider, args, key, e.Timeout, in.Location)
	if err != nil {
		exec := contractx.ToolExecution{
			Tool:    p.Tool,
			Content: toolx.DescribeFailure(args, err),
			Status:  contractx.ExecutionFailed,
		}
		var pe *contractx.ProviderError
		if errors.As(err, &pe) {
			exec.Retriable = pe.Retriable
			span.SetAttributes(attribute.String("provider.error_code", string(pe.Code)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		log.Error().
			Str("conversation_id", in.ConversationID).
			Str("tool", p.Tool).
			Str("idempotency_key", key).
			Dur("elapsed", time.Since(started)).
			Err(err).
			Msg("provider call failed")
		return exec
	}

	span.SetAttributes(attribute.String("booking.id", string(outcome.BookingID)))
	log.Info().
		Str("conversation_id", in.ConversationID).
		Str("tool", p.Tool).
		Str("booking_id", string(outcome.BookingID)).
		Dur("elapsed", time.Since(started)).
		Msg("provider call succeeded")
	return contractx.ToolExecution{
		Tool:      p.Tool,
		Content:   outcome.Content,
		Status:    contractx.ExecutionSucceeded,
		BookingID: outcome.BookingID,
	}
}

// commit folds an execution into the turn: execution log, history, booking
// references, ledger and audit. base carries the keys and booking length.
func (e *Executor) commit(ctx context.Context, run *turnRun, p contractx.ToolCallProposal, base statex.ExecutionRecord, exec contractx.ToolExecution, record bool) {
	in := run.in
	key := base.IdempotencyKey

	run.seen[key] = len(in.Executions)
	in.Executions = append(in.Executions, exec)
	in.History = append(in.History, callMessages(in.Now, p, exec.Content)...)
	if exec.Status == contractx.ExecutionSucceeded && exec.BookingID != "" {
		run.refs[p.ID] = exec.BookingID
		if base.Length > 0 {
			run.lengths[exec.BookingID] = base.Length
		}
	}

	if record && in.Ledger != nil {
		rec := base
		rec.TurnID = in.TurnID
		rec.Tool = exec.Tool
		rec.Status = exec.Status
		rec.Content = exec.Content
		rec.BookingID = exec.BookingID
		rec.Retriable = exec.Retriable
		rec.RecordedAt = in.Now
		if err := in.Ledger.Record(rec, e.Retention); err != nil {
			log.Error().Str("conversation_id", in.ConversationID).Err(err).Msg("record execution in ledger")
		} else {
			in.LedgerDirty = true
		}
	}

	e.audit(ctx, in, key, exec)
}

func (e *Executor) audit(ctx context.Context, in *GraphState, key string, exec contractx.ToolExecution) {
	if e.Audit == nil {
		return
	}
	entry := contractx.AuditEntry{
		ConversationID:  in.ConversationID,
		TurnID:          in.TurnID,
		IdempotencyKey:  key,
		Tool:            exec.Tool,
		Status:          exec.Status,
		Content:         exec.Content,
		BookingID:       exec.BookingID,
		Retriable:       exec.Retriable,
		CallerCancelled: ctx.Err() != nil,
		RecordedAt:      time.Now().UTC(),
	}
	if err := e.Audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().
			Str("conversation_id", in.ConversationID).
			Str("tool", exec.Tool).
			Err(err).
			Msg("audit sink failed")
	}
}

// callMessages is the assistant tool call and its role=tool result, in the
// shape the reasoner expects to see them in history.
func callMessages(now time.Time, p contractx.ToolCallProposal, result string) []contractx.Message {
	return []contractx.Message{
		{
			ID:        "msg_" + p.ID,
			Role:      contractx.RoleAssistant,
			CreatedAt: now,
			ToolCalls: []contractx.ToolCall{{ID: p.ID, Tool: p.Tool, Arguments: rawArguments(p)}},
		},
		{
			ID:         "msg_" + p.ID + "_result",
			Role:       contractx.RoleTool,
			Name:       p.Tool,
			ToolCallID: p.ID,
			Content:    result,
			CreatedAt:  now,
		},
	}
}

func rawArguments(p contractx.ToolCallProposal) string {
	if p.RawArguments != "" {
		return p.RawArguments
	}
	if p.Arguments == nil {
		return "{}"
	}
	b, err := json.Marshal(p.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func rejectionContent(p contractx.ToolCallProposal, cause error) string {
	var ve *contractx.ValidationError
	if errors.As(cause, &ve) {
		if ve.Field != "" {
			return fmt.Sprintf("Did not run %s: %s %s.", p.Tool, ve.Field, ve.Reason)
		}
		return fmt.Sprintf("Did not run %s: %s.", p.Tool, ve.Reason)
	}
	return fmt.Sprintf("Did not run %s: %v.", p.Tool, cause)
}
