package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

func (c PostgresConfig) Enabled() bool {
	return c.DSN != ""
}

type executionRow struct {
	bun.BaseModel `bun:"table:tool_executions,alias:te"`

	ID              int64     `bun:"id,pk,autoincrement"`
	ConversationID  string    `bun:"conversation_id,notnull"`
	TurnID          string    `bun:"turn_id,notnull"`
	IdempotencyKey  string    `bun:"idempotency_key"`
	Tool            string    `bun:"tool,notnull"`
	Status          string    `bun:"status,notnull"`
	Content         string    `bun:"content"`
	BookingID       string    `bun:"booking_id"`
	Retriable       bool      `bun:"retriable,notnull,default:false"`
	CallerCancelled bool      `bun:"caller_cancelled,notnull,default:false"`
	RecordedAt      time.Time `bun:"recorded_at,notnull"`
}

func toRow(e contractx.AuditEntry) *executionRow {
	recorded := e.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	return &executionRow{
		ConversationID:  e.ConversationID,
		TurnID:          e.TurnID,
		IdempotencyKey:  e.IdempotencyKey,
		Tool:            e.Tool,
		Status:          string(e.Status),
		Content:         e.Content,
		BookingID:       string(e.BookingID),
		Retriable:       e.Retriable,
		CallerCancelled: e.CallerCancelled,
		RecordedAt:      recorded.UTC(),
	}
}

// PostgresSink appends entries to the tool_executions table.
type PostgresSink struct {
	db      *bun.DB
	timeout time.Duration
}

func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("audit postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())

	s := &PostgresSink{db: db, timeout: cfg.Timeout}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit postgres migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*executionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateIndex().
		Model((*executionRow)(nil)).
		Index("idx_tool_executions_conversation").
		IfNotExists().
		Column("conversation_id", "recorded_at").
		Exec(ctx)
	return err
}

func (s *PostgresSink) Record(ctx context.Context, e contractx.AuditEntry) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.db.NewInsert().Model(toRow(e)).Exec(ctx); err != nil {
		return fmt.Errorf("audit postgres insert: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
