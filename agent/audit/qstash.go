package audit

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	"github.com/tanpawarit/booking-concierge/pkg/qstash"
)

type publisher interface {
	PublishJSON(ctx context.Context, destination string, body any, opts qstash.PublishOptions) (string, error)
}

// QStashSink forwards entries to a webhook through QStash so delivery is
// retried independently of the chat request.
type QStashSink struct {
	client      publisher
	destination string
}

func NewQStashSink(client *qstash.Client, destination string) *QStashSink {
	return &QStashSink{client: client, destination: destination}
}

func (s *QStashSink) Record(ctx context.Context, e contractx.AuditEntry) error {
	opts := qstash.PublishOptions{}
	if e.IdempotencyKey != "" {
		opts.DeduplicationID = e.TurnID + "-" + e.IdempotencyKey + "-" + string(e.Status)
	}
	if _, err := s.client.PublishJSON(ctx, s.destination, e, opts); err != nil {
		return fmt.Errorf("audit qstash: %w", err)
	}
	return nil
}
