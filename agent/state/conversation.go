package state

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// DefaultRetention is how many executions a conversation ledger keeps.
const DefaultRetention = 50

var ErrInvalidRecord = errors.New("execution record has no idempotency key")

// ConversationState is the per-conversation execution ledger. It exists so a
// proposal repeated in a later turn reuses the earlier booking instead of
// calling the provider twice, while a change that was since superseded runs
// again under a fresh key.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	Executions     []ExecutionRecord `json:"executions,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ExecutionRecord is one provider call outcome keyed by its idempotency key.
// Intent is the key of the request alone; IdempotencyKey may also fold in
// the change it superseded.
type ExecutionRecord struct {
	IdempotencyKey string                    `json:"idempotency_key"`
	Intent         string                    `json:"intent,omitempty"`
	TurnID         string                    `json:"turn_id"`
	Tool           string                    `json:"tool"`
	Status         contractx.ExecutionStatus `json:"status"`
	Content        string                    `json:"content"`
	BookingID      contractx.BookingID       `json:"booking_id,omitempty"`
	Length         time.Duration             `json:"length,omitempty"`
	Retriable      bool                      `json:"retriable,omitempty"`
	RecordedAt     time.Time                 `json:"recorded_at"`
}

func (r ExecutionRecord) intent() string {
	if r.Intent != "" {
		return r.Intent
	}
	return r.IdempotencyKey
}

func NewConversationState(conversationID string, now time.Time) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		UpdatedAt:      now.UTC(),
	}
}

// Head returns the latest succeeded change to a booking: its create, last
// reschedule or cancel.
func (s *ConversationState) Head(id contractx.BookingID) (ExecutionRecord, bool) {
	if s == nil || id == "" {
		return ExecutionRecord{}, false
	}
	for i := len(s.Executions) - 1; i >= 0; i-- {
		rec := s.Executions[i]
		if rec.BookingID == id && rec.Status == contractx.ExecutionSucceeded {
			return rec, true
		}
	}
	return ExecutionRecord{}, false
}

// Length is how long a booking lasts as last recorded.
func (s *ConversationState) Length(id contractx.BookingID) (time.Duration, bool) {
	if s == nil || id == "" {
		return 0, false
	}
	for i := len(s.Executions) - 1; i >= 0; i-- {
		rec := s.Executions[i]
		if rec.BookingID == id && rec.Status == contractx.ExecutionSucceeded && rec.Length > 0 {
			return rec.Length, true
		}
	}
	return 0, false
}

// Applied checks intent against the ledger. target is the booking the
// intent changes, empty for a new booking. When intent is still the latest
// change to its booking the succeeded record is returned for reuse.
// Otherwise supersedes names the key of the latest change the new call
// replaces, empty when the ledger knows none. Failed calls are never
// reused; replaying them is safe because the key travels with the retry.
func (s *ConversationState) Applied(intent string, target contractx.BookingID) (rec ExecutionRecord, reuse bool, supersedes string) {
	if s == nil || intent == "" {
		return ExecutionRecord{}, false, ""
	}

	if target == "" {
		prev, ok := s.lastIntent(intent)
		if !ok {
			return ExecutionRecord{}, false, ""
		}
		if prev.BookingID == "" {
			return prev, true, ""
		}
		target = prev.BookingID
		head, _ := s.Head(target)
		if head.IdempotencyKey == prev.IdempotencyKey {
			return prev, true, ""
		}
		return ExecutionRecord{}, false, head.IdempotencyKey
	}

	head, ok := s.Head(target)
	if !ok {
		return ExecutionRecord{}, false, ""
	}
	if head.intent() == intent {
		return head, true, ""
	}
	return ExecutionRecord{}, false, head.IdempotencyKey
}

func (s *ConversationState) lastIntent(intent string) (ExecutionRecord, bool) {
	for i := len(s.Executions) - 1; i >= 0; i-- {
		rec := s.Executions[i]
		if rec.intent() == intent && rec.Status == contractx.ExecutionSucceeded {
			return rec, true
		}
	}
	return ExecutionRecord{}, false
}

// Record appends rec, replacing any earlier record with the same key, and
// trims the ledger to the most recent retention entries.
func (s *ConversationState) Record(rec ExecutionRecord, retention int) error {
	if strings.TrimSpace(rec.IdempotencyKey) == "" {
		return ErrInvalidRecord
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	kept := s.Executions[:0]
	for _, existing := range s.Executions {
		if existing.IdempotencyKey != rec.IdempotencyKey {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, rec)
	if len(kept) > retention {
		kept = kept[len(kept)-retention:]
	}
	s.Executions = kept
	s.Touch(rec.RecordedAt)
	return nil
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Clone returns a deep copy.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Executions = append([]ExecutionRecord(nil), s.Executions...)
	return &out
}

func (s *ConversationState) Validate() error {
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrInvalidConversation
	}
	for _, rec := range s.Executions {
		if rec.IdempotencyKey == "" {
			return ErrInvalidRecord
		}
	}
	return nil
}
