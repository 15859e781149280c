package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// BookingRefPrefix marks a bookingId that points at a booking created by an
// earlier call in the same turn, e.g. "$ref:call_1".
const BookingRefPrefix = "$ref:"

const defaultAppointmentLength = time.Hour

// ValidatedArgs is the closed set of argument shapes a proposal can validate
// into: ScheduleAppointment, RescheduleAppointment or CancelAppointment.
type ValidatedArgs interface {
	Tool() contractx.ToolName
	Operation() Operation
	Provider() contractx.ProviderName
	sealed()
}

type ScheduleAppointment struct {
	Payload  contractx.AppointmentPayload
	Duration time.Duration
}

type RescheduleAppointment struct {
	Payload contractx.ReschedulePayload
}

type CancelAppointment struct {
	Payload contractx.CancelPayload
}

func (ScheduleAppointment) Tool() contractx.ToolName   { return contractx.ToolScheduleAppointment }
func (RescheduleAppointment) Tool() contractx.ToolName { return contractx.ToolRescheduleAppointment }
func (CancelAppointment) Tool() contractx.ToolName     { return contractx.ToolCancelAppointment }

func (ScheduleAppointment) Operation() Operation   { return OpCreate }
func (RescheduleAppointment) Operation() Operation { return OpUpdate }
func (CancelAppointment) Operation() Operation     { return OpCancel }

func (a ScheduleAppointment) Provider() contractx.ProviderName   { return a.Payload.Provider }
func (a RescheduleAppointment) Provider() contractx.ProviderName { return a.Payload.Provider }
func (a CancelAppointment) Provider() contractx.ProviderName     { return a.Payload.Provider }

func (ScheduleAppointment) sealed()   {}
func (RescheduleAppointment) sealed() {}
func (CancelAppointment) sealed()     {}

// ValidationContext carries the per-turn inputs validation depends on.
type ValidationContext struct {
	Now time.Time
	// Location interprets date-times without an explicit offset.
	Location *time.Location
	// BookingRefs maps call ids executed earlier in the turn to the booking
	// they produced.
	BookingRefs map[string]contractx.BookingID
	// BookingLength reports how long a known booking lasts. Unknown bookings
	// are checked against the shortest service.
	BookingLength func(contractx.BookingID) (time.Duration, bool)
}

// Validate checks a proposal's arguments against the named tool's schema and
// the business policy. Failures are *contract.ValidationError; an unknown
// tool is a ValidationError wrapping ErrToolNotFound's message.
func (r *Registry) Validate(name string, args map[string]any, vc ValidationContext) (ValidatedArgs, error) {
	spec, err := r.Resolve(name)
	if err != nil {
		return nil, contractx.NewValidationError(name, "", "unknown tool; available tools are %s", r.toolList())
	}
	if vc.Now.IsZero() {
		vc.Now = time.Now()
	}
	if vc.Location == nil {
		vc.Location = time.Local
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := checkParams(spec, args); err != nil {
		return nil, err
	}

	switch spec.Name {
	case contractx.ToolScheduleAppointment:
		return r.validateSchedule(args, vc)
	case contractx.ToolRescheduleAppointment:
		return r.validateReschedule(args, vc)
	case contractx.ToolCancelAppointment:
		return r.validateCancel(args, vc)
	default:
		return nil, contractx.NewValidationError(name, "", "tool has no validator")
	}
}

func (r *Registry) validateSchedule(args map[string]any, vc ValidationContext) (ValidatedArgs, error) {
	const tool = string(contractx.ToolScheduleAppointment)

	p := contractx.AppointmentPayload{
		CustomerName:  str(args, "customerName"),
		CustomerEmail: str(args, "customerEmail"),
		CustomerPhone: str(args, "customerPhone"),
		ServiceType:   str(args, "serviceType"),
		Notes:         str(args, "notes"),
	}
	if p.CustomerName == "" {
		return nil, contractx.NewValidationError(tool, "customerName", "is required")
	}
	if p.ServiceType == "" {
		return nil, contractx.NewValidationError(tool, "serviceType", "is required")
	}
	if p.CustomerEmail != "" {
		addr, err := mail.ParseAddress(p.CustomerEmail)
		if err != nil {
			return nil, contractx.NewValidationError(tool, "customerEmail", "is not a valid email address")
		}
		p.CustomerEmail = addr.Address
	}

	provider, err := r.parseProvider(tool, args)
	if err != nil {
		return nil, err
	}
	p.Provider = provider

	if meta, ok := args["metadata"].(map[string]any); ok {
		p.Metadata = meta
	}

	duration := defaultAppointmentLength
	if r.policy != nil && r.policy.HasCatalog() {
		svc, ok := r.policy.Service(p.ServiceType)
		if !ok {
			return nil, contractx.NewValidationError(tool, "serviceType", "%q is not offered; choose one of %s",
				p.ServiceType, strings.Join(r.policy.ServiceNames(), ", "))
		}
		p.ServiceType = svc.Name
		duration = svc.Duration()
	}

	start, err := parseInstant(tool, "startTime", str(args, "startTime"), vc)
	if err != nil {
		return nil, err
	}
	if r.policy != nil && !r.policy.WithinHours(start, duration) {
		return nil, contractx.NewValidationError(tool, "startTime", "%s is outside business hours",
			start.In(r.policy.Location()).Format(time.RFC1123))
	}
	p.StartTime = start

	return ScheduleAppointment{Payload: p, Duration: duration}, nil
}

func (r *Registry) validateReschedule(args map[string]any, vc ValidationContext) (ValidatedArgs, error) {
	const tool = string(contractx.ToolRescheduleAppointment)

	bookingID, err := resolveBookingID(tool, str(args, "bookingId"), vc)
	if err != nil {
		return nil, err
	}
	provider, err := r.parseProvider(tool, args)
	if err != nil {
		return nil, err
	}
	start, err := parseInstant(tool, "newStartTime", str(args, "newStartTime"), vc)
	if err != nil {
		return nil, err
	}
	if r.policy != nil && !r.policy.WithinHours(start, r.bookingLength(bookingID, vc)) {
		return nil, contractx.NewValidationError(tool, "newStartTime", "%s is outside business hours",
			start.In(r.policy.Location()).Format(time.RFC1123))
	}

	return RescheduleAppointment{Payload: contractx.ReschedulePayload{
		BookingID:    bookingID,
		NewStartTime: start,
		Notes:        str(args, "notes"),
		Provider:     provider,
	}}, nil
}

func (r *Registry) validateCancel(args map[string]any, vc ValidationContext) (ValidatedArgs, error) {
	const tool = string(contractx.ToolCancelAppointment)

	bookingID, err := resolveBookingID(tool, str(args, "bookingId"), vc)
	if err != nil {
		return nil, err
	}
	provider, err := r.parseProvider(tool, args)
	if err != nil {
		return nil, err
	}

	return CancelAppointment{Payload: contractx.CancelPayload{
		BookingID: bookingID,
		Notes:     str(args, "notes"),
		Provider:  provider,
	}}, nil
}

func (r *Registry) bookingLength(id contractx.BookingID, vc ValidationContext) time.Duration {
	if vc.BookingLength != nil {
		if d, ok := vc.BookingLength(id); ok && d > 0 {
			return d
		}
	}
	if r.policy == nil || !r.policy.HasCatalog() {
		return defaultAppointmentLength
	}
	shortest := time.Duration(0)
	for _, name := range r.policy.ServiceNames() {
		if d := r.policy.ServiceDuration(name); shortest == 0 || d < shortest {
			shortest = d
		}
	}
	return shortest
}

func (r *Registry) toolList() string {
	names := make([]string, 0, len(r.order))
	for _, n := range r.order {
		names = append(names, string(n))
	}
	return strings.Join(names, ", ")
}

// checkParams enforces required fields and primitive types.
func checkParams(spec ToolSpec, args map[string]any) error {
	for _, p := range spec.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return contractx.NewValidationError(string(spec.Name), p.Name, "is required")
			}
			continue
		}
		if p.Type == "string" {
			s, ok := v.(string)
			if !ok {
				return contractx.NewValidationError(string(spec.Name), p.Name, "expected string but got %T", v)
			}
			if p.Required && strings.TrimSpace(s) == "" {
				return contractx.NewValidationError(string(spec.Name), p.Name, "is required")
			}
		}
	}
	return nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseInstant accepts RFC 3339, or a local date-time interpreted in
// vc.Location. The instant must not be in the past.
func parseInstant(tool, field, raw string, vc ValidationContext) (time.Time, error) {
	if raw == "" {
		return time.Time{}, contractx.NewValidationError(tool, field, "is required")
	}

	var (
		t   time.Time
		err error
	)
	for i, layout := range instantLayouts {
		if i < 2 {
			t, err = time.Parse(layout, raw)
		} else {
			t, err = time.ParseInLocation(layout, raw, vc.Location)
		}
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, contractx.NewValidationError(tool, field, "%q is not an ISO-8601 date-time", raw)
	}
	if t.Before(vc.Now) {
		return time.Time{}, contractx.NewValidationError(tool, field, "%s is in the past", t.In(vc.Location).Format(time.RFC1123))
	}
	return t.UTC(), nil
}

func resolveBookingID(tool, raw string, vc ValidationContext) (contractx.BookingID, error) {
	if raw == "" {
		return "", contractx.NewValidationError(tool, "bookingId", "is required")
	}
	if ref, ok := strings.CutPrefix(raw, BookingRefPrefix); ok {
		id, found := vc.BookingRefs[strings.TrimSpace(ref)]
		if !found || id == "" {
			return "", contractx.NewValidationError(tool, "bookingId", "%q does not refer to a booking created earlier in this turn", raw)
		}
		return id, nil
	}
	if strings.ContainsAny(raw, "{}<>") || strings.ContainsAny(raw, " \t\n") {
		return "", contractx.NewValidationError(tool, "bookingId", "%q looks like a placeholder, not a booking id", raw)
	}
	return contractx.BookingID(raw), nil
}

func (r *Registry) parseProvider(tool string, args map[string]any) (contractx.ProviderName, error) {
	raw := strings.ToLower(str(args, "provider"))
	if raw == "" {
		return "", nil
	}
	p := contractx.ProviderName(raw)
	if !slices.Contains(r.providers, p) {
		return "", contractx.NewValidationError(tool, "provider", "%q is not a supported provider", raw)
	}
	return p, nil
}

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// DecodeArguments parses a raw JSON arguments string. A nil map with an error
// means the proposal is unusable and must be rejected.
func DecodeArguments(tool, raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, contractx.NewValidationError(tool, "", "arguments are not a JSON object: %v", err)
	}
	return args, nil
}

// IsValidationError reports whether err rejects a proposal rather than
// failing the turn.
func IsValidationError(err error) bool {
	var ve *contractx.ValidationError
	return errors.As(err, &ve)
}

func describeArgs(args ValidatedArgs) string {
	switch a := args.(type) {
	case ScheduleAppointment:
		return fmt.Sprintf("%s for %s", a.Payload.ServiceType, a.Payload.CustomerName)
	case RescheduleAppointment:
		return "booking " + string(a.Payload.BookingID)
	case CancelAppointment:
		return "booking " + string(a.Payload.BookingID)
	default:
		return "request"
	}
}
