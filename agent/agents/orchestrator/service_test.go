package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
)

type reasonerStep struct {
	proposal contractx.Proposal
	err      error
}

type fakeReasoner struct {
	steps []reasonerStep
	reqs  []contractx.ReasoningRequest
}

func (f *fakeReasoner) Propose(ctx context.Context, req contractx.ReasoningRequest) (contractx.Proposal, error) {
	f.reqs = append(f.reqs, req)
	idx := len(f.reqs) - 1
	if idx >= len(f.steps) {
		return contractx.Proposal{}, fmt.Errorf("%w: no reasoner step left at call=%d", contractx.ErrModelInvoke, idx+1)
	}
	return f.steps[idx].proposal, f.steps[idx].err
}

func (f *fakeReasoner) modes() []contractx.ReasoningMode {
	out := make([]contractx.ReasoningMode, 0, len(f.reqs))
	for _, r := range f.reqs {
		out = append(out, r.Mode)
	}
	return out
}

type fakeProvider struct {
	mu       sync.Mutex
	byKey    map[string]contractx.BookingID
	creates  int
	updates  []contractx.BookingID
	upKeys   []string
	cancels  []contractx.BookingID
	cancelFn func(ctx context.Context, id contractx.BookingID) error
	createFn func(ctx context.Context) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{byKey: map[string]contractx.BookingID{}}
}

func (f *fakeProvider) Create(ctx context.Context, _ contractx.AppointmentPayload, key string) (contractx.BookingID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createFn != nil {
		if err := f.createFn(ctx); err != nil {
			return "", err
		}
	}
	if id, ok := f.byKey[key]; ok {
		return id, nil
	}
	id := contractx.BookingID(fmt.Sprintf("bk_%d", len(f.byKey)+1))
	f.byKey[key] = id
	return id, nil
}

func (f *fakeProvider) Update(_ context.Context, id contractx.BookingID, _ contractx.ReschedulePayload, key string) (contractx.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id)
	f.upKeys = append(f.upKeys, key)
	return contractx.Ack{BookingID: id, Status: "confirmed"}, nil
}

func (f *fakeProvider) Cancel(ctx context.Context, id contractx.BookingID, _ contractx.CancelPayload, _ string) (contractx.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	if f.cancelFn != nil {
		if err := f.cancelFn(ctx, id); err != nil {
			return contractx.Ack{}, err
		}
	}
	return contractx.Ack{BookingID: id, Status: "cancelled"}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []contractx.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e contractx.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type recordingStore struct {
	*statex.MemoryStore
	saves int
}

func (s *recordingStore) Save(ctx context.Context, st *statex.ConversationState) error {
	s.saves++
	return s.MemoryStore.Save(ctx, st)
}

type harness struct {
	o        *Orchestrator
	reasoner *fakeReasoner
	provider *fakeProvider
	audit    *fakeAudit
	store    *recordingStore
	policy   *policyx.Store
}

// Thursday noon in the studio's timezone.
var testNow = time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, steps ...reasonerStep) *harness {
	t.Helper()

	policy, err := policyx.Load("")
	if err != nil {
		t.Fatalf("policy.Load() error = %v", err)
	}
	h := &harness{
		reasoner: &fakeReasoner{steps: steps},
		provider: newFakeProvider(),
		audit:    &fakeAudit{},
		store:    &recordingStore{MemoryStore: statex.NewMemoryStore()},
		policy:   policy,
	}
	o, err := New(Dependencies{
		Policy:   policy,
		Reasoner: h.reasoner,
		Provider: h.provider,
		Store:    h.store,
		Audit:    h.audit,
	}, Config{ProviderTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.now = func() time.Time { return testNow }
	h.o = o
	return h
}

func userTurn(content string) []contractx.Message {
	return []contractx.Message{{ID: "m1", Role: contractx.RoleUser, Content: content, CreatedAt: testNow}}
}

var studioClient = &contractx.ClientContext{ConversationID: "conv-1", Timezone: "America/New_York"}

func call(id, tool string, args map[string]any) contractx.ToolCallProposal {
	return contractx.ToolCallProposal{ID: id, Tool: tool, Arguments: args}
}

func massageArgs(start string) map[string]any {
	return map[string]any{
		"customerName": "Dana Reyes",
		"serviceType":  "massage",
		"startTime":    start,
	}
}

func text(s string) reasonerStep {
	return reasonerStep{proposal: contractx.Proposal{Text: s}}
}

func calls(c ...contractx.ToolCallProposal) reasonerStep {
	return reasonerStep{proposal: contractx.Proposal{ToolCalls: c}}
}

func TestHandleTurnSchedulesAppointment(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))),
		text("You're booked for a massage tomorrow, Friday, at 10:00 AM."),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book a 60-minute massage tomorrow at 10am, I'm Dana Reyes"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !strings.Contains(reply.Content, "10:00 AM") {
		t.Fatalf("reply should mention the confirmed time: %q", reply.Content)
	}
	if len(reply.ToolExecutions) != 1 {
		t.Fatalf("expected one execution, got %#v", reply.ToolExecutions)
	}
	exec := reply.ToolExecutions[0]
	if exec.Tool != "schedule_appointment" || exec.Status != contractx.ExecutionSucceeded || exec.BookingID != "bk_1" {
		t.Fatalf("unexpected execution: %#v", exec)
	}
	if !strings.Contains(exec.Content, "Fri Oct 16, 2026 at 10:00 AM EDT") || !strings.Contains(exec.Content, "bk_1") {
		t.Fatalf("execution content lacks confirmation: %q", exec.Content)
	}

	modes := h.reasoner.modes()
	if len(modes) != 2 || modes[0] != contractx.ReasoningAct || modes[1] != contractx.ReasoningFinalize {
		t.Fatalf("unexpected reasoning passes: %v", modes)
	}
	final := h.reasoner.reqs[1]
	last := final.History[len(final.History)-1]
	if last.Role != contractx.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("tool result not appended before the final pass: %#v", last)
	}
	if len(final.Tools) != 0 {
		t.Fatal("final pass must not offer tools")
	}

	if h.provider.creates != 1 || len(h.audit.entries) != 1 {
		t.Fatalf("creates=%d audit=%d", h.provider.creates, len(h.audit.entries))
	}
	if h.audit.entries[0].ConversationID != "conv-1" || h.audit.entries[0].IdempotencyKey == "" {
		t.Fatalf("unexpected audit entry: %#v", h.audit.entries[0])
	}
	st, err := h.store.Load(context.Background(), "conv-1")
	if err != nil || len(st.Executions) != 1 {
		t.Fatalf("ledger not saved: %#v, %v", st, err)
	}
}

func TestHandleTurnEscalatesLegalThreat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))))

	reply, err := h.o.HandleTurn(context.Background(), userTurn("I want to sue you, this is unacceptable"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Content != h.policy.HandoffMessage() {
		t.Fatalf("expected hand-off reply, got %q", reply.Content)
	}
	if reply.ToolExecutions == nil || len(reply.ToolExecutions) != 0 {
		t.Fatalf("expected empty execution log, got %#v", reply.ToolExecutions)
	}
	if len(h.reasoner.reqs) != 0 || h.provider.creates != 0 {
		t.Fatal("escalated turn must not reason or call the provider")
	}
}

func TestHandleTurnPlainReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, text("We're open 9 to 7 on weekdays."))

	reply, err := h.o.HandleTurn(context.Background(), userTurn("When are you open?"), nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Content != "We're open 9 to 7 on weekdays." || len(reply.ToolExecutions) != 0 {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if len(h.reasoner.reqs) != 1 {
		t.Fatalf("expected a single reasoning pass, got %d", len(h.reasoner.reqs))
	}
	if h.store.saves != 0 {
		t.Fatal("a turn without tool calls must not write the ledger")
	}
}

func TestHandleTurnRejectsPastStartTime(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(call("call_1", "schedule_appointment", massageArgs("2026-10-14T10:00:00-04:00"))),
		text("Which day works for you?"),
		text("That time has already passed. Which day works for you?"),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book a massage yesterday at 10"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if h.provider.creates != 0 {
		t.Fatal("rejected proposal reached the provider")
	}
	if len(reply.ToolExecutions) != 1 {
		t.Fatalf("expected the rejection to be surfaced, got %#v", reply.ToolExecutions)
	}
	exec := reply.ToolExecutions[0]
	if exec.Status != contractx.ExecutionRejected || !strings.Contains(exec.Content, "in the past") {
		t.Fatalf("unexpected rejection: %#v", exec)
	}

	modes := h.reasoner.modes()
	if len(modes) != 3 || modes[1] != contractx.ReasoningCorrect || modes[2] != contractx.ReasoningFinalize {
		t.Fatalf("unexpected reasoning passes: %v", modes)
	}
	correction := h.reasoner.reqs[1].History
	if got := correction[len(correction)-1]; got.Role != contractx.RoleTool || !strings.Contains(got.Content, "in the past") {
		t.Fatalf("rejection not fed back to the corrective pass: %#v", got)
	}
}

func TestHandleTurnCorrectionReplacesRejectedProposal(t *testing.T) {
	t.Parallel()

	broken := massageArgs("2026-10-16T10:00:00")
	delete(broken, "customerName")

	h := newHarness(t,
		calls(call("call_1", "schedule_appointment", broken)),
		calls(call("call_2", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))),
		text("Booked!"),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Massage tomorrow 10am for Dana Reyes"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(reply.ToolExecutions) != 1 || reply.ToolExecutions[0].Status != contractx.ExecutionSucceeded {
		t.Fatalf("corrected proposal should replace the rejected one: %#v", reply.ToolExecutions)
	}
	if h.provider.creates != 1 {
		t.Fatalf("expected one create, got %d", h.provider.creates)
	}
}

func TestHandleTurnCorrectedCallKeepsOriginalReference(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(
			call("call_1", "schedule_appointment", massageArgs("2026-10-14T10:00:00")),
			call("call_2", "cancel_appointment", map[string]any{"bookingId": "$ref:call_1"}),
		),
		calls(call("call_1b", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))),
		text("Booked and cancelled."),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book Wednesday 10am, then cancel it"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(h.provider.cancels) != 1 || h.provider.cancels[0] != "bk_1" {
		t.Fatalf("reference to the corrected call did not resolve: %#v", h.provider.cancels)
	}
	if len(reply.ToolExecutions) != 2 {
		t.Fatalf("unexpected executions: %#v", reply.ToolExecutions)
	}
	for _, exec := range reply.ToolExecutions {
		if exec.Status != contractx.ExecutionSucceeded {
			t.Fatalf("unexpected execution: %#v", exec)
		}
	}
}

func TestHandleTurnMalformedArgumentsAreRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(contractx.ToolCallProposal{ID: "call_1", Tool: "cancel_appointment", RawArguments: `{"bookingId":`}),
		text("Could you share your booking number?"),
		text("Could you share your booking number?"),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("cancel it"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(reply.ToolExecutions) != 1 || reply.ToolExecutions[0].Status != contractx.ExecutionRejected {
		t.Fatalf("unexpected executions: %#v", reply.ToolExecutions)
	}
	if len(h.provider.cancels) != 0 {
		t.Fatal("malformed proposal reached the provider")
	}
}

func TestHandleTurnDuplicateProposalExecutesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(
			call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00")),
			call("call_2", "schedule_appointment", massageArgs("2026-10-16T14:00:00Z")),
		),
		text("Booked once."),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book it. Yes, book it!"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if h.provider.creates != 1 {
		t.Fatalf("expected one provider call, got %d", h.provider.creates)
	}
	if len(reply.ToolExecutions) != 1 || reply.ToolExecutions[0].Status != contractx.ExecutionSucceeded {
		t.Fatalf("expected a single successful execution, got %#v", reply.ToolExecutions)
	}
}

func TestHandleTurnReusesLedgerAcrossTurns(t *testing.T) {
	t.Parallel()

	step := calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00")))
	h := newHarness(t, step, text("Booked."), step, text("Still booked."))

	first, err := h.o.HandleTurn(context.Background(), userTurn("Book a massage tomorrow 10am"), studioClient)
	if err != nil {
		t.Fatalf("first HandleTurn() error = %v", err)
	}
	second, err := h.o.HandleTurn(context.Background(), userTurn("Did that go through? Book it"), studioClient)
	if err != nil {
		t.Fatalf("second HandleTurn() error = %v", err)
	}

	if h.provider.creates != 1 {
		t.Fatalf("provider called again for a completed key: %d", h.provider.creates)
	}
	if len(second.ToolExecutions) != 1 || second.ToolExecutions[0].BookingID != first.ToolExecutions[0].BookingID {
		t.Fatalf("cached execution not reused: %#v", second.ToolExecutions)
	}
}

func TestHandleTurnMovingBackRunsAgain(t *testing.T) {
	t.Parallel()

	move := func(start string) reasonerStep {
		return calls(call("call_1", "reschedule_appointment", map[string]any{
			"bookingId":    "bk_77",
			"newStartTime": start,
		}))
	}
	h := newHarness(t,
		move("2026-10-16T13:00:00"), text("Moved to 1pm."),
		move("2026-10-16T14:00:00"), text("Moved to 2pm."),
		move("2026-10-16T13:00:00"), text("Back to 1pm."),
		move("2026-10-16T13:00:00"), text("Still 1pm."),
	)

	for i, msg := range []string{"1pm please", "make it 2pm", "no, 1pm after all", "is it 1pm?"} {
		reply, err := h.o.HandleTurn(context.Background(), userTurn(msg), studioClient)
		if err != nil {
			t.Fatalf("turn %d: HandleTurn() error = %v", i+1, err)
		}
		if len(reply.ToolExecutions) != 1 || reply.ToolExecutions[0].Status != contractx.ExecutionSucceeded {
			t.Fatalf("turn %d: unexpected executions: %#v", i+1, reply.ToolExecutions)
		}
	}

	// The last turn repeats the change already in effect and is served from the ledger.
	if len(h.provider.updates) != 3 {
		t.Fatalf("provider updates = %d, want 3", len(h.provider.updates))
	}
	if h.provider.upKeys[2] == h.provider.upKeys[0] {
		t.Fatal("moving back must reach the provider under a new key")
	}
}

func TestHandleTurnRebookAfterCancelCreatesNewBooking(t *testing.T) {
	t.Parallel()

	book := calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00")))
	h := newHarness(t,
		book, text("Booked."),
		calls(call("call_1", "cancel_appointment", map[string]any{"bookingId": "bk_1"})), text("Cancelled."),
		book, text("Booked again."),
	)

	var last contractx.AgentReply
	for i, msg := range []string{"Book 10am", "Cancel that", "Actually book 10am again"} {
		reply, err := h.o.HandleTurn(context.Background(), userTurn(msg), studioClient)
		if err != nil {
			t.Fatalf("turn %d: HandleTurn() error = %v", i+1, err)
		}
		last = reply
	}

	if h.provider.creates != 2 {
		t.Fatalf("provider creates = %d, want 2", h.provider.creates)
	}
	if len(last.ToolExecutions) != 1 || last.ToolExecutions[0].BookingID != "bk_2" {
		t.Fatalf("rebook must not report the cancelled booking: %#v", last.ToolExecutions)
	}
}

func TestHandleTurnResolvesBookingReference(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(
			call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00")),
			call("call_2", "reschedule_appointment", map[string]any{
				"bookingId":    "$ref:call_1",
				"newStartTime": "2026-10-16T13:00:00",
			}),
		),
		text("Booked and moved to 1pm."),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book 10am, actually make it 1pm"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(h.provider.updates) != 1 || h.provider.updates[0] != "bk_1" {
		t.Fatalf("reschedule did not observe the created booking: %#v", h.provider.updates)
	}
	if len(reply.ToolExecutions) != 2 || reply.ToolExecutions[1].BookingID != "bk_1" {
		t.Fatalf("unexpected executions: %#v", reply.ToolExecutions)
	}
}

func TestHandleTurnCancelNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(call("call_1", "cancel_appointment", map[string]any{"bookingId": "bk_404"})),
		text("I'm sorry, I couldn't find that booking. A coordinator will follow up with you."),
	)
	h.provider.cancelFn = func(context.Context, contractx.BookingID) error {
		return contractx.NewProviderError("cancel", contractx.ProviderNotFound, errors.New("no such booking"))
	}

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Cancel booking bk_404"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(reply.ToolExecutions) != 1 {
		t.Fatalf("expected one execution, got %#v", reply.ToolExecutions)
	}
	exec := reply.ToolExecutions[0]
	if exec.Tool != "cancel_appointment" || exec.Status != contractx.ExecutionFailed || !strings.Contains(exec.Content, "Could not find booking bk_404") {
		t.Fatalf("unexpected execution: %#v", exec)
	}
	if !strings.Contains(reply.Content, "coordinator will follow up") {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
}

func TestHandleTurnProviderTimeoutSummarizesWhenFinalPassFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))),
		reasonerStep{err: contractx.ErrModelInvoke},
	)
	h.provider.createFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	reply, err := h.o.HandleTurn(context.Background(), userTurn("Book a massage tomorrow 10am"), studioClient)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if h.provider.creates != 1 {
		t.Fatalf("timed out call must not be retried, got %d calls", h.provider.creates)
	}
	exec := reply.ToolExecutions[0]
	if exec.Status != contractx.ExecutionFailed || !exec.Retriable {
		t.Fatalf("expected failed retriable execution, got %#v", exec)
	}
	if !strings.Contains(reply.Content, "unconfirmed") || strings.Contains(reply.Content, "Booked") {
		t.Fatalf("summary must not claim a confirmation: %q", reply.Content)
	}
}

func TestHandleTurnRetriesReasoningOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		reasonerStep{err: contractx.ErrModelInvoke},
		text("Happy to help!"),
	)

	reply, err := h.o.HandleTurn(context.Background(), userTurn("hi"), nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Content != "Happy to help!" {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
}

func TestHandleTurnMalformedReasoningTwiceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		reasonerStep{err: contractx.ErrSchemaViolation},
		reasonerStep{err: contractx.ErrSchemaViolation},
	)

	_, err := h.o.HandleTurn(context.Background(), userTurn("Book a massage"), studioClient)
	if !errors.Is(err, contractx.ErrOrchestration) {
		t.Fatalf("expected OrchestrationError, got %v", err)
	}
	var oe *contractx.OrchestrationError
	if !errors.As(err, &oe) || oe.Stage != "propose" {
		t.Fatalf("unexpected error: %#v", err)
	}
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if len(h.reasoner.reqs) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", len(h.reasoner.reqs))
	}
	if h.o.FallbackMessage() == "" {
		t.Fatal("fallback message must be available to callers")
	}
}

func TestHandleTurnInvalidHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.o.HandleTurn(context.Background(), nil, nil)
	if !errors.Is(err, ErrEmptyHistory) || !errors.Is(err, contractx.ErrOrchestration) {
		t.Fatalf("expected empty history orchestration error, got %v", err)
	}

	_, err = h.o.HandleTurn(context.Background(), []contractx.Message{{ID: "a", Role: contractx.RoleAssistant, Content: "hello"}}, nil)
	if !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("expected ErrNoUserMessage, got %v", err)
	}
}

func TestHandleTurnAuditsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t,
		calls(call("call_1", "schedule_appointment", massageArgs("2026-10-16T10:00:00"))),
		text("Booked."),
	)
	h.provider.createFn = func(context.Context) error {
		cancel()
		return nil
	}

	_, _ = h.o.HandleTurn(ctx, userTurn("Book a massage tomorrow 10am"), studioClient)

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	if len(h.audit.entries) != 1 {
		t.Fatalf("expected the execution to be audited, got %d entries", len(h.audit.entries))
	}
	entry := h.audit.entries[0]
	if entry.Status != contractx.ExecutionSucceeded || !entry.CallerCancelled {
		t.Fatalf("unexpected audit entry: %#v", entry)
	}
}
