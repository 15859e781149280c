package prompt

import (
	_ "embed"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

//go:embed template/system.tmpl
var systemRaw string

// System returns the system message template. It is written in Go template
// syntax and rendered by eino's chat template with the map from Vars.
func System() string {
	return strings.TrimSpace(systemRaw)
}

// Vars builds the template variables for a reasoning request. Values are data
// to the template, so rule text containing braces renders verbatim.
func Vars(req contractx.ReasoningRequest) map[string]any {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	tz := req.Timezone
	if loc, err := time.LoadLocation(tz); tz != "" && err == nil {
		now = now.In(loc)
	} else {
		tz = now.Location().String()
	}

	mode := req.Mode
	if mode == "" {
		mode = contractx.ReasoningAct
	}

	return map[string]any{
		"mode":                string(mode),
		"tone":                req.Rules.Tone,
		"policy":              req.Policy,
		"now":                 now.Format("Monday, January 2, 2006 15:04 MST"),
		"timezone":            tz,
		"disallowed_topics":   listOrNone(req.Rules.DisallowedTopics),
		"escalation_criteria": listOrNone(req.Rules.EscalationCriteria),
		"tools":               req.Tools,
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "; ")
}
