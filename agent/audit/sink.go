// Package audit records every tool execution out of band. Sinks never fail a
// turn; the orchestrator logs their errors and moves on.
package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

var _ contractx.AuditSink = (*LogSink)(nil)
var _ contractx.AuditSink = MultiSink(nil)

// LogSink writes entries to the global zerolog logger.
type LogSink struct{}

func (LogSink) Record(_ context.Context, e contractx.AuditEntry) error {
	log.Info().
		Str("conversation_id", e.ConversationID).
		Str("turn_id", e.TurnID).
		Str("tool", e.Tool).
		Str("status", string(e.Status)).
		Str("booking_id", string(e.BookingID)).
		Str("idempotency_key", e.IdempotencyKey).
		Bool("retriable", e.Retriable).
		Bool("caller_cancelled", e.CallerCancelled).
		Msg("tool execution")
	return nil
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []contractx.AuditSink

func (m MultiSink) Record(ctx context.Context, e contractx.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
