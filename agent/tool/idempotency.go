package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// normalizedArgs is the canonical form hashed into an idempotency key. Only
// fields that change the side effect take part; notes and metadata do not.
type normalizedArgs struct {
	Tool          contractx.ToolName     `json:"tool"`
	Conversation  string                 `json:"conversation"`
	CustomerName  string                 `json:"customer_name,omitempty"`
	CustomerEmail string                 `json:"customer_email,omitempty"`
	CustomerPhone string                 `json:"customer_phone,omitempty"`
	ServiceType   string                 `json:"service_type,omitempty"`
	StartTime     string                 `json:"start_time,omitempty"`
	BookingID     contractx.BookingID    `json:"booking_id,omitempty"`
	Provider      contractx.ProviderName `json:"provider,omitempty"`
}

// IdempotencyKey derives a deterministic key from the tool, its normalized
// arguments and the conversation id. Identical intent in the same
// conversation always yields the same key.
func IdempotencyKey(args ValidatedArgs, conversationID string) string {
	n := normalizedArgs{
		Tool:         args.Tool(),
		Conversation: strings.TrimSpace(conversationID),
		Provider:     args.Provider(),
	}
	switch a := args.(type) {
	case ScheduleAppointment:
		n.CustomerName = strings.ToLower(strings.Join(strings.Fields(a.Payload.CustomerName), " "))
		n.CustomerEmail = strings.ToLower(a.Payload.CustomerEmail)
		n.CustomerPhone = digitsOnly(a.Payload.CustomerPhone)
		n.ServiceType = strings.ToLower(a.Payload.ServiceType)
		n.StartTime = a.Payload.StartTime.UTC().Format(time.RFC3339)
	case RescheduleAppointment:
		n.BookingID = a.Payload.BookingID
		n.StartTime = a.Payload.NewStartTime.UTC().Format(time.RFC3339)
	case CancelAppointment:
		n.BookingID = a.Payload.BookingID
	}

	// Struct field order makes the encoding canonical.
	raw, _ := json.Marshal(n)
	sum := sha256.Sum256(raw)
	return "idem_" + hex.EncodeToString(sum[:16])
}

// SupersedingKey derives the key for an intent that replaces an earlier
// change to the same booking, so providers that dedupe on the key see new
// work. An empty prior leaves the intent key unchanged.
func SupersedingKey(intent, prior string) string {
	if prior == "" {
		return intent
	}
	sum := sha256.Sum256([]byte(intent + "\x00" + prior))
	return "idem_" + hex.EncodeToString(sum[:16])
}

// TargetBooking is the existing booking args change, empty for a new one.
func TargetBooking(args ValidatedArgs) contractx.BookingID {
	switch a := args.(type) {
	case RescheduleAppointment:
		return a.Payload.BookingID
	case CancelAppointment:
		return a.Payload.BookingID
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
