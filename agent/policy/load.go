package policy

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyRaw []byte

type policyFile struct {
	BusinessName       string               `yaml:"business_name"`
	Timezone           string               `yaml:"timezone"`
	Tone               string               `yaml:"tone"`
	EscalationCriteria []string             `yaml:"escalation_criteria"`
	DisallowedTopics   []string             `yaml:"disallowed_topics"`
	Keywords           map[string][]string  `yaml:"keywords"`
	HandoffMessage     string               `yaml:"handoff_message"`
	FallbackMessage    string               `yaml:"fallback_message"`
	Services           []serviceFile        `yaml:"services"`
	Hours              map[string]hoursFile `yaml:"hours"`
}

type serviceFile struct {
	Name            string   `yaml:"name"`
	DurationMinutes int      `yaml:"duration_minutes"`
	Aliases         []string `yaml:"aliases"`
}

type hoursFile struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Load reads a YAML policy file. An empty path loads the embedded default.
func Load(path string) (*Store, error) {
	raw := defaultPolicyRaw
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

func MustLoad(path string) *Store {
	s, err := Load(path)
	if err != nil {
		panic(err)
	}
	return s
}

func Parse(raw []byte) (*Store, error) {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidPolicy, err)
	}

	p := Policy{
		BusinessName: strings.TrimSpace(f.BusinessName),
		Timezone:     strings.TrimSpace(f.Timezone),
		Rules: contractx.AgentRules{
			Tone:               strings.TrimSpace(f.Tone),
			EscalationCriteria: trimAll(f.EscalationCriteria),
			DisallowedTopics:   trimAll(f.DisallowedTopics),
		},
		Keywords:        f.Keywords,
		HandoffMessage:  strings.TrimSpace(f.HandoffMessage),
		FallbackMessage: strings.TrimSpace(f.FallbackMessage),
	}

	for _, svc := range f.Services {
		p.Services = append(p.Services, Service{
			Name:            strings.TrimSpace(svc.Name),
			DurationMinutes: svc.DurationMinutes,
			Aliases:         trimAll(svc.Aliases),
		})
	}

	if len(f.Hours) > 0 {
		p.Hours = make(map[time.Weekday]OpeningHours, len(f.Hours))
		for day, h := range f.Hours {
			wd, err := parseWeekday(day)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
			}
			open, err := parseClock(h.Open)
			if err != nil {
				return nil, fmt.Errorf("%w: %s open: %v", ErrInvalidPolicy, day, err)
			}
			closing, err := parseClock(h.Close)
			if err != nil {
				return nil, fmt.Errorf("%w: %s close: %v", ErrInvalidPolicy, day, err)
			}
			p.Hours[wd] = OpeningHours{Open: open, Close: closing}
		}
	}

	return NewStore(p)
}

func parseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, s)
}

// parseClock turns "HH:MM" into minutes since midnight; "24:00" is allowed.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockStr, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockStr, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockStr, s)
	}
	total := h*60 + m
	if h < 0 || m < 0 || m > 59 || total > 24*60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockStr, s)
	}
	return total, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
