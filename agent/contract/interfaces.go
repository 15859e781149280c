package contract

import "context"

// Reasoner is the non-deterministic step deciding what, if anything, to do.
type Reasoner interface {
	Propose(ctx context.Context, req ReasoningRequest) (Proposal, error)
}

// BookingProvider is the external scheduling backend. Implementations must
// honor the idempotency key: a repeated call with the same key and payload
// returns the original result without a second side effect.
type BookingProvider interface {
	Create(ctx context.Context, payload AppointmentPayload, idempotencyKey string) (BookingID, error)
	Update(ctx context.Context, bookingID BookingID, payload ReschedulePayload, idempotencyKey string) (Ack, error)
	Cancel(ctx context.Context, bookingID BookingID, payload CancelPayload, idempotencyKey string) (Ack, error)
}

// AuditSink receives every tool execution out of band, even when the caller
// that started the turn has gone away.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
