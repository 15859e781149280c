package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	nodex "github.com/tanpawarit/booking-concierge/agent/nodes/orchestrator"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
	toolx "github.com/tanpawarit/booking-concierge/agent/tool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tanpawarit/booking-concierge/agent/agents/orchestrator"

const defaultProviderTimeout = 10 * time.Second

var (
	ErrEmptyHistory  = nodex.ErrEmptyHistory
	ErrNoUserMessage = nodex.ErrNoUserMessage
)

type Config struct {
	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration
	// Retention is how many executions a conversation ledger keeps.
	Retention int
}

// Dependencies are shared across turns and must be safe for concurrent use.
type Dependencies struct {
	Policy   *policyx.Store
	Registry *toolx.Registry
	Reasoner contractx.Reasoner
	Provider contractx.BookingProvider
	Store    statex.Store
	Audit    contractx.AuditSink
}

type Orchestrator struct {
	policy   *policyx.Store
	reasoner contractx.Reasoner
	store    statex.Store
	executor *nodex.Executor
	inputs   nodex.ReasoningInputs
	tracer   trace.Tracer

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Policy == nil {
		return nil, errors.New("policy store is required")
	}
	if deps.Reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("booking provider is required")
	}
	if deps.Registry == nil {
		deps.Registry = toolx.NewRegistry(deps.Policy)
	}
	if deps.Store == nil {
		deps.Store = statex.NewMemoryStore()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = statex.DefaultRetention
	}

	tracer := otel.Tracer(tracerName)
	inputs := nodex.ReasoningInputs{
		Rules:  deps.Policy.Rules(),
		Policy: deps.Policy.Describe(),
		Tools:  deps.Registry.Schemas(),
	}

	o := &Orchestrator{
		policy:   deps.Policy,
		reasoner: deps.Reasoner,
		store:    deps.Store,
		inputs:   inputs,
		tracer:   tracer,
		executor: &nodex.Executor{
			Registry:  deps.Registry,
			Provider:  deps.Provider,
			Reasoner:  deps.Reasoner,
			Audit:     deps.Audit,
			Inputs:    inputs,
			Timeout:   cfg.ProviderTimeout,
			Retention: cfg.Retention,
			Tracer:    tracer,
		},
		now: time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn processes one conversation turn. The only error it returns is a
// *contract.OrchestrationError; callers answer with the policy fallback
// message in that case.
func (o *Orchestrator) HandleTurn(ctx context.Context, history []contractx.Message, cc *contractx.ClientContext) (contractx.AgentReply, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_turn", trace.WithAttributes(
		attribute.Int("history.length", len(history)),
	))
	defer span.End()

	started := time.Now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{History: history, Client: cc})
	if err != nil {
		oe := asOrchestrationError(err)
		span.RecordError(oe)
		span.SetStatus(codes.Error, oe.Stage)
		log.Error().
			Str("stage", oe.Stage).
			Dur("elapsed", time.Since(started)).
			Err(oe.Err).
			Msg("turn failed")
		return contractx.AgentReply{}, oe
	}

	span.SetAttributes(attribute.Int("tool.executions", len(out.Reply.ToolExecutions)))
	log.Info().
		Int("tool_executions", len(out.Reply.ToolExecutions)).
		Dur("elapsed", time.Since(started)).
		Msg("turn handled")
	return out.Reply, nil
}

// FallbackMessage is the reply to send when HandleTurn fails.
func (o *Orchestrator) FallbackMessage() string {
	return o.policy.FallbackMessage()
}

func asOrchestrationError(err error) *contractx.OrchestrationError {
	var oe *contractx.OrchestrationError
	if errors.As(err, &oe) {
		return oe
	}
	return &contractx.OrchestrationError{Stage: "graph", Err: err}
}
