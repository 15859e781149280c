package caldav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// calendarServer stores calendar objects by path and answers GET and PUT.
type calendarServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	// putStatus, when set, fails every PUT with that code.
	putStatus int
}

func (s *calendarServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		body, ok := s.objects[r.URL.Path]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Write(body)
	case http.MethodPut:
		if s.putStatus != 0 {
			http.Error(w, "rejected", s.putStatus)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = body
		s.puts++
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestProvider(t *testing.T) (*Provider, *calendarServer) {
	t.Helper()

	cs := &calendarServer{objects: map[string][]byte{}}
	server := httptest.NewServer(cs)
	t.Cleanup(server.Close)

	p, err := New(Config{
		Endpoint:     server.URL,
		CalendarPath: "/calendars/studio/bookings/",
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, cs
}

var start = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func TestCreateUsesKeyDerivedPath(t *testing.T) {
	t.Parallel()

	p, cs := newTestProvider(t)
	ctx := context.Background()
	payload := contractx.AppointmentPayload{CustomerName: "Dana Reyes", ServiceType: "massage", StartTime: start}

	id, err := p.Create(ctx, payload, "idem_abc")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "cal_abc" {
		t.Fatalf("booking id = %s, want cal_abc", id)
	}

	again, err := p.Create(ctx, payload, "idem_abc")
	if err != nil || again != id {
		t.Fatalf("replayed Create() = %s, %v", again, err)
	}
	if cs.puts != 1 {
		t.Fatalf("expected one PUT, got %d", cs.puts)
	}
	body := string(cs.objects["/calendars/studio/bookings/cal_abc.ics"])
	if !strings.Contains(body, "SUMMARY:massage: Dana Reyes") {
		t.Fatalf("unexpected calendar object:\n%s", body)
	}
}

func TestUpdateAndCancel(t *testing.T) {
	t.Parallel()

	p, cs := newTestProvider(t)
	ctx := context.Background()

	id, err := p.Create(ctx, contractx.AppointmentPayload{CustomerName: "Dana", ServiceType: "massage", StartTime: start}, "idem_x")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	moved := start.Add(2 * time.Hour)
	if _, err := p.Update(ctx, id, contractx.ReschedulePayload{BookingID: id, NewStartTime: moved}, "idem_u"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	body := string(cs.objects["/calendars/studio/bookings/cal_x.ics"])
	if !strings.Contains(body, "DTSTART:20261016T160000Z") || !strings.Contains(body, "DTEND:20261016T170000Z") {
		t.Fatalf("event not moved:\n%s", body)
	}

	ack, err := p.Cancel(ctx, id, contractx.CancelPayload{BookingID: id}, "idem_c")
	if err != nil || ack.Status != "cancelled" {
		t.Fatalf("Cancel() = %#v, %v", ack, err)
	}
	if !strings.Contains(string(cs.objects["/calendars/studio/bookings/cal_x.ics"]), "STATUS:CANCELLED") {
		t.Fatal("event not cancelled")
	}

	_, err = p.Update(ctx, id, contractx.ReschedulePayload{NewStartTime: start}, "idem_u2")
	var pe *contractx.ProviderError
	if !errors.As(err, &pe) || pe.Code != contractx.ProviderConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCancelMissingBooking(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t)
	_, err := p.Cancel(context.Background(), "cal_missing", contractx.CancelPayload{}, "idem_c")

	var pe *contractx.ProviderError
	if !errors.As(err, &pe) || pe.Code != contractx.ProviderNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCreateClassifiesServerStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   contractx.ProviderErrorCode
	}{
		{status: http.StatusPreconditionFailed, want: contractx.ProviderConflict},
		{status: http.StatusConflict, want: contractx.ProviderConflict},
		{status: http.StatusUnauthorized, want: contractx.ProviderInvalid},
		{status: http.StatusServiceUnavailable, want: contractx.ProviderUnavailable},
	}
	for _, tt := range tests {
		p, cs := newTestProvider(t)
		cs.putStatus = tt.status

		_, err := p.Create(context.Background(), contractx.AppointmentPayload{CustomerName: "Dana", ServiceType: "massage", StartTime: start}, "idem_s")
		var pe *contractx.ProviderError
		if !errors.As(err, &pe) || pe.Code != tt.want {
			t.Fatalf("PUT %d: error = %v, want %s", tt.status, err, tt.want)
		}
	}
}

func TestOwns(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t)
	if !p.Owns("cal_abc") || p.Owns("bk_abc") {
		t.Fatal("Owns() must match cal_ ids only")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}
