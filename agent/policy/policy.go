package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

var (
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrUnknownWeekday  = errors.New("unknown weekday")
	ErrInvalidClockStr = errors.New("invalid clock time")
)

// Policy is the full set of business rules loaded at process start.
type Policy struct {
	BusinessName    string
	Timezone        string
	Rules           contractx.AgentRules
	Keywords        map[string][]string
	HandoffMessage  string
	FallbackMessage string
	Services        []Service
	Hours           map[time.Weekday]OpeningHours
}

type Service struct {
	Name            string
	DurationMinutes int
	Aliases         []string
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// OpeningHours are minutes since local midnight.
type OpeningHours struct {
	Open  int
	Close int
}

// Store holds an immutable Policy. All accessors return copies, so a Store is
// safe to share across concurrent turns without locking.
type Store struct {
	policy   Policy
	location *time.Location
	guard    *Guard
}

func NewStore(p Policy) (*Store, error) {
	if strings.TrimSpace(p.Rules.Tone) == "" {
		return nil, fmt.Errorf("%w: tone is required", ErrInvalidPolicy)
	}
	if strings.TrimSpace(p.HandoffMessage) == "" {
		return nil, fmt.Errorf("%w: handoff message is required", ErrInvalidPolicy)
	}
	if strings.TrimSpace(p.FallbackMessage) == "" {
		return nil, fmt.Errorf("%w: fallback message is required", ErrInvalidPolicy)
	}
	for day, h := range p.Hours {
		if h.Open < 0 || h.Close > 24*60 || h.Open >= h.Close {
			return nil, fmt.Errorf("%w: hours for %s must open before they close", ErrInvalidPolicy, day)
		}
	}
	for _, svc := range p.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return nil, fmt.Errorf("%w: service name is required", ErrInvalidPolicy)
		}
		if svc.DurationMinutes <= 0 {
			return nil, fmt.Errorf("%w: service %q needs a positive duration", ErrInvalidPolicy, svc.Name)
		}
	}

	loc := time.UTC
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidPolicy, tz, err)
		}
		loc = l
	}

	cp := clonePolicy(p)
	return &Store{
		policy:   cp,
		location: loc,
		guard:    NewGuard(cp.Rules, cp.Keywords),
	}, nil
}

func (s *Store) Snapshot() Policy {
	return clonePolicy(s.policy)
}

func (s *Store) Rules() contractx.AgentRules {
	return cloneRules(s.policy.Rules)
}

func (s *Store) Guard() *Guard {
	return s.guard
}

func (s *Store) HandoffMessage() string {
	return s.policy.HandoffMessage
}

func (s *Store) FallbackMessage() string {
	return s.policy.FallbackMessage
}

// Location is the business timezone; it is the default for opening hours.
func (s *Store) Location() *time.Location {
	return s.location
}

func (s *Store) HasCatalog() bool {
	return len(s.policy.Services) > 0
}

// Service looks up an offered service by name or alias, case-insensitively.
func (s *Store) Service(name string) (Service, bool) {
	needle := normalize(name)
	if needle == "" {
		return Service{}, false
	}
	for _, svc := range s.policy.Services {
		if normalize(svc.Name) == needle {
			return cloneService(svc), true
		}
		for _, alias := range svc.Aliases {
			if normalize(alias) == needle {
				return cloneService(svc), true
			}
		}
	}
	return Service{}, false
}

// WithinHours reports whether [start, start+d) fits inside the opening hours
// of start's weekday in the business timezone. No configured hours means open.
func (s *Store) WithinHours(start time.Time, d time.Duration) bool {
	if len(s.policy.Hours) == 0 {
		return true
	}
	local := start.In(s.location)
	h, ok := s.policy.Hours[local.Weekday()]
	if !ok {
		return false
	}
	begin := local.Hour()*60 + local.Minute()
	end := begin + int(d.Round(time.Minute)/time.Minute)
	return begin >= h.Open && end <= h.Close
}

func (s *Store) ServiceNames() []string {
	names := make([]string, 0, len(s.policy.Services))
	for _, svc := range s.policy.Services {
		names = append(names, svc.Name)
	}
	return names
}

// ServiceDuration is the booked length of a service, or an hour for
// anything outside the catalog.
func (s *Store) ServiceDuration(name string) time.Duration {
	if svc, ok := s.Service(name); ok && svc.DurationMinutes > 0 {
		return svc.Duration()
	}
	return time.Hour
}

// Describe renders the business facts the reasoner needs: name, timezone,
// services and opening hours.
func (s *Store) Describe() string {
	var b strings.Builder
	if s.policy.BusinessName != "" {
		fmt.Fprintf(&b, "Business: %s\n", s.policy.BusinessName)
	}
	fmt.Fprintf(&b, "Timezone: %s\n", s.location)

	if len(s.policy.Services) > 0 {
		b.WriteString("Services:\n")
		for _, svc := range s.policy.Services {
			fmt.Fprintf(&b, "- %s (%d minutes)", svc.Name, svc.DurationMinutes)
			if len(svc.Aliases) > 0 {
				fmt.Fprintf(&b, ", also called: %s", strings.Join(svc.Aliases, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(s.policy.Hours) > 0 {
		b.WriteString("Opening hours:\n")
		for d := time.Monday; ; d = (d + 1) % 7 {
			if h, ok := s.policy.Hours[d]; ok {
				fmt.Fprintf(&b, "- %s %s-%s\n", d, clock(h.Open), clock(h.Close))
			} else {
				fmt.Fprintf(&b, "- %s closed\n", d)
			}
			if d == time.Sunday {
				break
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func clonePolicy(p Policy) Policy {
	out := p
	out.Rules = cloneRules(p.Rules)
	if p.Keywords != nil {
		out.Keywords = make(map[string][]string, len(p.Keywords))
		for k, v := range p.Keywords {
			out.Keywords[k] = slices.Clone(v)
		}
	}
	if p.Services != nil {
		out.Services = make([]Service, 0, len(p.Services))
		for _, svc := range p.Services {
			out.Services = append(out.Services, cloneService(svc))
		}
	}
	if p.Hours != nil {
		out.Hours = make(map[time.Weekday]OpeningHours, len(p.Hours))
		for k, v := range p.Hours {
			out.Hours[k] = v
		}
	}
	return out
}

func cloneRules(r contractx.AgentRules) contractx.AgentRules {
	return contractx.AgentRules{
		Tone:               r.Tone,
		EscalationCriteria: slices.Clone(r.EscalationCriteria),
		DisallowedTopics:   slices.Clone(r.DisallowedTopics),
	}
}

func cloneService(s Service) Service {
	s.Aliases = slices.Clone(s.Aliases)
	return s
}
