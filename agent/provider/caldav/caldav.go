// Package caldav books appointments as events on a CalDAV calendar. Object
// paths derive from the idempotency key, so a replayed create lands on the
// same object instead of a second event.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

const (
	productID     = "-//booking-concierge//caldav//EN"
	statusCancel  = "CANCELLED"
	statusConfirm = "CONFIRMED"
	idPrefix      = "cal_"
)

type Config struct {
	Endpoint     string        `envconfig:"ENDPOINT"`
	CalendarPath string        `envconfig:"CALENDAR_PATH"`
	Username     string        `envconfig:"USERNAME"`
	Password     string        `envconfig:"PASSWORD"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// Enabled reports whether a CalDAV backend is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.CalendarPath != ""
}

type Provider struct {
	client   *caldav.Client
	calendar string
	duration func(serviceType string) time.Duration
}

type Option func(*Provider)

// WithDurations sets how long an appointment of a given service lasts.
func WithDurations(fn func(serviceType string) time.Duration) Option {
	return func(p *Provider) {
		if fn != nil {
			p.duration = fn
		}
	}
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	if !cfg.Enabled() {
		return nil, errors.New("caldav: endpoint and calendar path are required")
	}

	var hc webdav.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(statusClient{next: hc}, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav: new client: %w", err)
	}

	p := &Provider{
		client:   client,
		calendar: cfg.CalendarPath,
		duration: func(string) time.Duration { return time.Hour },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Create(ctx context.Context, payload contractx.AppointmentPayload, key string) (contractx.BookingID, error) {
	const op = "create"

	id := bookingIDFromKey(key)
	objPath := p.objectPath(id)

	ctx, last := trackStatus(ctx)
	if _, err := p.client.GetCalendarObject(ctx, objPath); err == nil {
		return id, nil
	} else if last.code != http.StatusNotFound {
		return "", classify(op, err, last.code)
	}

	start := payload.StartTime.UTC()
	end := start.Add(p.duration(payload.ServiceType))

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, string(id))
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, end)
	event.Props.SetText(ical.PropSummary, fmt.Sprintf("%s: %s", payload.ServiceType, payload.CustomerName))
	event.Props.SetText(ical.PropStatus, statusConfirm)
	event.Props.SetText(ical.PropSequence, "0")
	if desc := describe(payload); desc != "" {
		event.Props.SetText(ical.PropDescription, desc)
	}

	if _, err := p.client.PutCalendarObject(ctx, objPath, wrap(event)); err != nil {
		return "", classify(op, err, last.code)
	}
	return id, nil
}

func (p *Provider) Update(ctx context.Context, id contractx.BookingID, payload contractx.ReschedulePayload, _ string) (contractx.Ack, error) {
	const op = "update"

	ctx, last := trackStatus(ctx)
	cal, event, err := p.load(ctx, op, id, last)
	if err != nil {
		return contractx.Ack{}, err
	}
	if status, _ := event.Props.Text(ical.PropStatus); status == statusCancel {
		return contractx.Ack{}, contractx.NewProviderError(op, contractx.ProviderConflict, fmt.Errorf("booking %s is cancelled", id))
	}

	oldStart, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return contractx.Ack{}, contractx.NewProviderError(op, contractx.ProviderInvalid, err)
	}
	oldEnd, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		return contractx.Ack{}, contractx.NewProviderError(op, contractx.ProviderInvalid, err)
	}

	start := payload.NewStartTime.UTC()
	if !start.Equal(oldStart) {
		event.Props.SetDateTime(ical.PropDateTimeStart, start)
		event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(oldEnd.Sub(oldStart)))
		event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		bumpSequence(event)
		if payload.Notes != "" {
			event.Props.SetText(ical.PropComment, payload.Notes)
		}
		if _, err := p.client.PutCalendarObject(ctx, p.objectPath(id), cal); err != nil {
			return contractx.Ack{}, classify(op, err, last.code)
		}
	}
	return contractx.Ack{BookingID: id, Status: "rescheduled"}, nil
}

func (p *Provider) Cancel(ctx context.Context, id contractx.BookingID, payload contractx.CancelPayload, _ string) (contractx.Ack, error) {
	const op = "cancel"

	ctx, last := trackStatus(ctx)
	cal, event, err := p.load(ctx, op, id, last)
	if err != nil {
		return contractx.Ack{}, err
	}
	if status, _ := event.Props.Text(ical.PropStatus); status != statusCancel {
		event.Props.SetText(ical.PropStatus, statusCancel)
		event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		bumpSequence(event)
		if payload.Notes != "" {
			event.Props.SetText(ical.PropComment, payload.Notes)
		}
		if _, err := p.client.PutCalendarObject(ctx, p.objectPath(id), cal); err != nil {
			return contractx.Ack{}, classify(op, err, last.code)
		}
	}
	return contractx.Ack{BookingID: id, Status: "cancelled"}, nil
}

func (p *Provider) load(ctx context.Context, op string, id contractx.BookingID, last *lastStatus) (*ical.Calendar, *ical.Event, error) {
	obj, err := p.client.GetCalendarObject(ctx, p.objectPath(id))
	if err != nil {
		if last.code == http.StatusNotFound {
			return nil, nil, contractx.NewProviderError(op, contractx.ProviderNotFound, fmt.Errorf("booking %s does not exist", id))
		}
		return nil, nil, classify(op, err, last.code)
	}
	if obj.Data == nil {
		return nil, nil, contractx.NewProviderError(op, contractx.ProviderInvalid, fmt.Errorf("booking %s has no calendar data", id))
	}
	events := obj.Data.Events()
	if len(events) == 0 {
		return nil, nil, contractx.NewProviderError(op, contractx.ProviderInvalid, fmt.Errorf("booking %s has no event", id))
	}
	return obj.Data, &events[0], nil
}

// Owns reports whether id names an event this provider created.
func (p *Provider) Owns(id contractx.BookingID) bool {
	return strings.HasPrefix(string(id), idPrefix)
}

func (p *Provider) objectPath(id contractx.BookingID) string {
	return path.Join(p.calendar, string(id)+".ics")
}

func bookingIDFromKey(key string) contractx.BookingID {
	key = strings.TrimPrefix(key, "idem_")
	if key == "" {
		key = uuid.NewString()
	}
	return contractx.BookingID(idPrefix + key)
}

func wrap(event *ical.Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, event.Component)
	return cal
}

func describe(p contractx.AppointmentPayload) string {
	var lines []string
	if p.CustomerEmail != "" {
		lines = append(lines, "Email: "+p.CustomerEmail)
	}
	if p.CustomerPhone != "" {
		lines = append(lines, "Phone: "+p.CustomerPhone)
	}
	if p.Notes != "" {
		lines = append(lines, "Notes: "+p.Notes)
	}
	return strings.Join(lines, "\n")
}

func bumpSequence(event *ical.Event) {
	seq := 0
	if raw, err := event.Props.Text(ical.PropSequence); err == nil && raw != "" {
		seq, _ = strconv.Atoi(raw)
	}
	event.Props.SetText(ical.PropSequence, strconv.Itoa(seq+1))
}

type statusKey struct{}

// lastStatus holds the status of the most recent response within one
// provider call, so failures are classified by code rather than by the
// client's error text.
type lastStatus struct {
	code int
}

func trackStatus(ctx context.Context) (context.Context, *lastStatus) {
	last := &lastStatus{}
	return context.WithValue(ctx, statusKey{}, last), last
}

// statusClient records response codes into the request's lastStatus.
type statusClient struct {
	next webdav.HTTPClient
}

func (c statusClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.next.Do(req)
	if last, ok := req.Context().Value(statusKey{}).(*lastStatus); ok {
		last.code = 0
		if resp != nil {
			last.code = resp.StatusCode
		}
	}
	return resp, err
}

func classify(op string, err error, status int) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return contractx.NewProviderError(op, contractx.ProviderTimeout, err)
	case status == http.StatusNotFound:
		return contractx.NewProviderError(op, contractx.ProviderNotFound, err)
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return contractx.NewProviderError(op, contractx.ProviderConflict, err)
	case status == http.StatusBadRequest, status == http.StatusForbidden, status == http.StatusUnauthorized:
		return contractx.NewProviderError(op, contractx.ProviderInvalid, err)
	default:
		return contractx.NewProviderError(op, contractx.ProviderUnavailable, err)
	}
}
