package policy

import (
	"testing"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

func userMsg(id, content string) contractx.Message {
	return contractx.Message{
		ID:        id,
		Role:      contractx.RoleUser,
		Content:   content,
		CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGuardDisallowedTopicViaKeyword(t *testing.T) {
	t.Parallel()

	g := NewGuard(
		contractx.AgentRules{
			Tone:             "warm",
			DisallowedTopics: []string{"legal threat"},
		},
		map[string][]string{"legal threat": {"sue", "lawyer"}},
	)

	latest := userMsg("m1", "I want to sue you, this is unacceptable")
	match, ok := g.Check(latest, []contractx.Message{latest})
	if !ok {
		t.Fatal("expected guard to trip")
	}
	if match.Kind != MatchDisallowedTopic {
		t.Fatalf("unexpected match kind: %s", match.Kind)
	}
	if match.Rule != "legal threat" || match.Keyword != "sue" {
		t.Fatalf("unexpected match: %#v", match)
	}
}

func TestGuardWholeWordMatching(t *testing.T) {
	t.Parallel()

	g := NewGuard(
		contractx.AgentRules{DisallowedTopics: []string{"legal threat"}},
		map[string][]string{"legal threat": {"sue"}},
	)

	latest := userMsg("m1", "There is an issue with my booking, can you pursue it?")
	if g.ShouldEscalate(latest, []contractx.Message{latest}) {
		t.Fatal("substring inside a word must not trip the guard")
	}
}

func TestGuardLiteralRulePhrase(t *testing.T) {
	t.Parallel()

	rules := contractx.AgentRules{EscalationCriteria: []string{"Speak to a human"}}
	latest := userMsg("m1", "Please, can I speak to a HUMAN?")
	if !ShouldEscalate(latest, []contractx.Message{latest}, rules) {
		t.Fatal("expected literal rule phrase to match case-insensitively")
	}
}

func TestGuardScansUserMessagesSinceLastReply(t *testing.T) {
	t.Parallel()

	rules := contractx.AgentRules{EscalationCriteria: []string{"refund"}}
	history := []contractx.Message{
		userMsg("m1", "I was charged twice, I want a refund"),
		{ID: "m2", Role: contractx.RoleAssistant, Content: "Let me look into it."},
		userMsg("m3", "ok"),
		userMsg("m4", "also my card"),
	}

	if ShouldEscalate(history[3], history, rules) {
		t.Fatal("messages before the last assistant reply must not trip the guard")
	}

	history[2] = userMsg("m3", "refund please")
	if !ShouldEscalate(history[3], history, rules) {
		t.Fatal("expected pending user message to trip the guard")
	}
}

func TestGuardNoRules(t *testing.T) {
	t.Parallel()

	latest := userMsg("m1", "Book a 60-minute massage tomorrow at 10am")
	if ShouldEscalate(latest, []contractx.Message{latest}, contractx.AgentRules{}) {
		t.Fatal("guard without rules must never trip")
	}
}

func TestDefaultPolicyGuard(t *testing.T) {
	t.Parallel()

	store := MustLoad("")
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "booking", text: "Book a 60-minute massage tomorrow at 10am", want: false},
		{name: "legal", text: "I want to sue you, this is unacceptable", want: true},
		{name: "human", text: "can I talk to someone real? a manager please", want: true},
		{name: "dosage", text: "what dosage of ibuprofen should I take", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			latest := userMsg("m1", tt.text)
			if got := store.Guard().ShouldEscalate(latest, []contractx.Message{latest}); got != tt.want {
				t.Fatalf("ShouldEscalate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
