// Package localcal is a single-resource appointment calendar backed by
// SQLite. It is the default booking backend for deployments without an
// external scheduler and honors idempotency keys with a unique index, so a
// replayed call returns the original booking.
package localcal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"
	idPrefix   = "bk_"
)

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

type Config struct {
	Path string `envconfig:"PATH" default:"bookings.db"`
}

// Booking is a row of the bookings table.
type Booking struct {
	ID            contractx.BookingID
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ServiceType   string
	Start         time.Time
	End           time.Time
	Notes         string
	Status        string
}

// Store is safe for concurrent use; SQLite serializes writes.
type Store struct {
	db       *sql.DB
	duration func(serviceType string) time.Duration
}

type Option func(*Store)

// WithDurations sets how long an appointment of a given service lasts.
// Without it every appointment is one hour.
func WithDurations(fn func(serviceType string) time.Duration) Option {
	return func(s *Store) {
		if fn != nil {
			s.duration = fn
		}
	}
}

// Open creates the calendar at path. The schema is created on first use.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		duration: func(string) time.Duration { return time.Hour },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Owns reports whether id was issued by this calendar.
func (s *Store) Owns(id contractx.BookingID) bool {
	return strings.HasPrefix(string(id), idPrefix)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id             TEXT PRIMARY KEY,
		customer_name  TEXT NOT NULL,
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		service_type   TEXT NOT NULL,
		start_at       TEXT NOT NULL,
		end_at         TEXT NOT NULL,
		notes          TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_window ON bookings (status, start_at, end_at);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key        TEXT PRIMARY KEY,
		op         TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Create(ctx context.Context, p contractx.AppointmentPayload, key string) (contractx.BookingID, error) {
	const op = "create"

	var id contractx.BookingID
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if prior, _, found, err := lookupKey(ctx, tx, key); err != nil {
			return err
		} else if found {
			id = prior
			return nil
		}

		start := p.StartTime.UTC()
		end := start.Add(s.duration(p.ServiceType))
		if err := checkOverlap(ctx, tx, op, start, end, ""); err != nil {
			return err
		}

		id = contractx.BookingID(idPrefix + uuid.NewString())
		now := time.Now().UTC().Format(timeLayout)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bookings (id, customer_name, customer_email, customer_phone, service_type,
			   start_at, end_at, notes, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(id), p.CustomerName, p.CustomerEmail, p.CustomerPhone, p.ServiceType,
			start.Format(timeLayout), end.Format(timeLayout), p.Notes, StatusBooked, now, now,
		); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return saveKey(ctx, tx, key, op, id, StatusBooked)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id contractx.BookingID, p contractx.ReschedulePayload, key string) (contractx.Ack, error) {
	const op = "update"

	ack := contractx.Ack{BookingID: id, Status: "rescheduled"}
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if prior, status, found, err := lookupKey(ctx, tx, key); err != nil {
			return err
		} else if found {
			ack = contractx.Ack{BookingID: prior, Status: status}
			return nil
		}

		b, err := getBooking(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if b.Status == StatusCancelled {
			return contractx.NewProviderError(op, contractx.ProviderConflict, fmt.Errorf("booking %s is cancelled", id))
		}

		start := p.NewStartTime.UTC()
		end := start.Add(b.End.Sub(b.Start))
		if err := checkOverlap(ctx, tx, op, start, end, id); err != nil {
			return err
		}

		notes := b.Notes
		if p.Notes != "" {
			notes = p.Notes
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET start_at = ?, end_at = ?, notes = ?, updated_at = ? WHERE id = ?`,
			start.Format(timeLayout), end.Format(timeLayout), notes, time.Now().UTC().Format(timeLayout), string(id),
		); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		return saveKey(ctx, tx, key, op, id, ack.Status)
	})
	if err != nil {
		return contractx.Ack{}, err
	}
	return ack, nil
}

func (s *Store) Cancel(ctx context.Context, id contractx.BookingID, p contractx.CancelPayload, key string) (contractx.Ack, error) {
	const op = "cancel"

	ack := contractx.Ack{BookingID: id, Status: StatusCancelled}
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if prior, status, found, err := lookupKey(ctx, tx, key); err != nil {
			return err
		} else if found {
			ack = contractx.Ack{BookingID: prior, Status: status}
			return nil
		}

		b, err := getBooking(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if b.Status != StatusCancelled {
			notes := b.Notes
			if p.Notes != "" {
				notes = p.Notes
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bookings SET status = ?, notes = ?, updated_at = ? WHERE id = ?`,
				StatusCancelled, notes, time.Now().UTC().Format(timeLayout), string(id),
			); err != nil {
				return fmt.Errorf("cancel booking: %w", err)
			}
		}
		return saveKey(ctx, tx, key, op, id, StatusCancelled)
	})
	if err != nil {
		return contractx.Ack{}, err
	}
	return ack, nil
}

// Get returns a booking by id.
func (s *Store) Get(ctx context.Context, id contractx.BookingID) (Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	return getBooking(ctx, tx, "get", id)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return providerErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return providerErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return providerErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func lookupKey(ctx context.Context, tx *sql.Tx, key string) (contractx.BookingID, string, bool, error) {
	if key == "" {
		return "", "", false, nil
	}
	var id, status string
	err := tx.QueryRowContext(ctx,
		`SELECT booking_id, status FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("lookup key: %w", err)
	}
	return contractx.BookingID(id), status, true, nil
}

func saveKey(ctx context.Context, tx *sql.Tx, key, op string, id contractx.BookingID, status string) error {
	if key == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, op, booking_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		key, op, string(id), status, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

func checkOverlap(ctx context.Context, tx *sql.Tx, op string, start, end time.Time, exclude contractx.BookingID) error {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE status = ? AND start_at < ? AND end_at > ? AND id != ?`,
		StatusBooked, end.Format(timeLayout), start.Format(timeLayout), string(exclude),
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if n > 0 {
		return contractx.NewProviderError(op, contractx.ProviderConflict,
			fmt.Errorf("slot %s is already taken", start.Format(time.RFC3339)))
	}
	return nil
}

func getBooking(ctx context.Context, tx *sql.Tx, op string, id contractx.BookingID) (Booking, error) {
	var (
		b          Booking
		rawID      string
		start, end string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, customer_name, customer_email, customer_phone, service_type, start_at, end_at, notes, status
		 FROM bookings WHERE id = ?`, string(id),
	).Scan(&rawID, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.ServiceType, &start, &end, &b.Notes, &b.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, contractx.NewProviderError(op, contractx.ProviderNotFound, fmt.Errorf("booking %s does not exist", id))
	}
	if err != nil {
		return Booking{}, fmt.Errorf("get booking %s: %w", id, err)
	}

	b.ID = contractx.BookingID(rawID)
	if b.Start, err = time.Parse(timeLayout, start); err != nil {
		return Booking{}, fmt.Errorf("parse start_at: %w", err)
	}
	if b.End, err = time.Parse(timeLayout, end); err != nil {
		return Booking{}, fmt.Errorf("parse end_at: %w", err)
	}
	return b, nil
}

func providerErr(op string, err error) error {
	var pe *contractx.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contractx.NewProviderError(op, contractx.ProviderTimeout, err)
	}
	return contractx.NewProviderError(op, contractx.ProviderUnavailable, err)
}
