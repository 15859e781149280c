package policy

import (
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

type MatchKind string

const (
	MatchDisallowedTopic    MatchKind = "disallowed_topic"
	MatchEscalationCriteria MatchKind = "escalation_criteria"
)

// Match explains why the guard tripped. It is only used for logging; callers
// of ShouldEscalate get a boolean.
type Match struct {
	Kind    MatchKind
	Rule    string
	Keyword string
}

// Guard is the escalation check run before any tool reasoning. It has no
// side effects and holds no mutable state.
type Guard struct {
	rules    []guardRule
	keywords map[string][]string
}

type guardRule struct {
	kind     MatchKind
	rule     string
	triggers []string
}

// NewGuard builds a guard from the rules and optional keyword aliases keyed
// by rule phrase. Disallowed topics are checked before escalation criteria.
func NewGuard(rules contractx.AgentRules, keywords map[string][]string) *Guard {
	g := &Guard{keywords: map[string][]string{}}
	for k, v := range keywords {
		g.keywords[normalize(k)] = v
	}
	for _, topic := range rules.DisallowedTopics {
		g.rules = append(g.rules, g.compile(MatchDisallowedTopic, topic))
	}
	for _, crit := range rules.EscalationCriteria {
		g.rules = append(g.rules, g.compile(MatchEscalationCriteria, crit))
	}
	return g
}

func (g *Guard) compile(kind MatchKind, rule string) guardRule {
	r := guardRule{kind: kind, rule: rule}
	if n := normalize(rule); n != "" {
		r.triggers = append(r.triggers, n)
	}
	for _, alias := range g.keywords[normalize(rule)] {
		if n := normalize(alias); n != "" {
			r.triggers = append(r.triggers, n)
		}
	}
	return r
}

// Check matches the latest user message, plus any user messages sent since
// the last assistant reply, against the compiled rules. First match wins.
func (g *Guard) Check(latest contractx.Message, history []contractx.Message) (Match, bool) {
	if g == nil {
		return Match{}, false
	}
	texts := []string{normalize(latest.Content)}
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role == contractx.RoleAssistant {
			break
		}
		if msg.Role != contractx.RoleUser || msg.ID == latest.ID {
			continue
		}
		texts = append(texts, normalize(msg.Content))
	}

	for _, r := range g.rules {
		for _, trigger := range r.triggers {
			for _, text := range texts {
				if containsPhrase(text, trigger) {
					return Match{Kind: r.kind, Rule: r.rule, Keyword: trigger}, true
				}
			}
		}
	}
	return Match{}, false
}

func (g *Guard) ShouldEscalate(latest contractx.Message, history []contractx.Message) bool {
	_, ok := g.Check(latest, history)
	return ok
}

// ShouldEscalate is the rule-only form: rule phrases match literally with no
// keyword aliases.
func ShouldEscalate(latest contractx.Message, history []contractx.Message, rules contractx.AgentRules) bool {
	return NewGuard(rules, nil).ShouldEscalate(latest, history)
}

// normalize lowercases, maps punctuation to spaces and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsPhrase matches whole words only, so "sue" does not trip on "issue".
func containsPhrase(text, phrase string) bool {
	if text == "" || phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
