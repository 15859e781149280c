package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

var ErrNoBackend = errors.New("no booking backend registered")

// Owner is implemented by backends whose booking ids are recognisable, so
// updates and cancels reach the backend that issued the id.
type Owner interface {
	Owns(id contractx.BookingID) bool
}

// Router dispatches creates to the backend named by the payload's provider
// field, or to the fallback when the payload leaves it empty. Updates and
// cancels go to the backend that owns the booking id first.
type Router struct {
	backends map[contractx.ProviderName]contractx.BookingProvider
	fallback contractx.ProviderName
}

type Option func(*Router)

// WithBackend registers a backend under a provider name.
func WithBackend(name contractx.ProviderName, p contractx.BookingProvider) Option {
	return func(r *Router) {
		if p != nil {
			r.backends[name] = p
		}
	}
}

func New(fallback contractx.ProviderName, opts ...Option) (*Router, error) {
	r := &Router{
		backends: make(map[contractx.ProviderName]contractx.BookingProvider),
		fallback: fallback,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, ok := r.backends[fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback %q", ErrNoBackend, fallback)
	}
	return r, nil
}

func (r *Router) Create(ctx context.Context, payload contractx.AppointmentPayload, key string) (contractx.BookingID, error) {
	p, err := r.pick("create", payload.Provider)
	if err != nil {
		return "", err
	}
	return p.Create(ctx, payload, key)
}

func (r *Router) Update(ctx context.Context, id contractx.BookingID, payload contractx.ReschedulePayload, key string) (contractx.Ack, error) {
	p, err := r.pickFor("update", id, payload.Provider)
	if err != nil {
		return contractx.Ack{}, err
	}
	return p.Update(ctx, id, payload, key)
}

func (r *Router) Cancel(ctx context.Context, id contractx.BookingID, payload contractx.CancelPayload, key string) (contractx.Ack, error) {
	p, err := r.pickFor("cancel", id, payload.Provider)
	if err != nil {
		return contractx.Ack{}, err
	}
	return p.Cancel(ctx, id, payload, key)
}

// Names lists the registered provider names in a stable order.
func (r *Router) Names() []contractx.ProviderName {
	names := make([]contractx.ProviderName, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (r *Router) pickFor(op string, id contractx.BookingID, name contractx.ProviderName) (contractx.BookingProvider, error) {
	for _, n := range r.Names() {
		if o, ok := r.backends[n].(Owner); ok && o.Owns(id) {
			return r.backends[n], nil
		}
	}
	return r.pick(op, name)
}

func (r *Router) pick(op string, name contractx.ProviderName) (contractx.BookingProvider, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.backends[name]
	if !ok {
		return nil, contractx.NewProviderError(op, contractx.ProviderInvalid, fmt.Errorf("%w: %q", ErrNoBackend, name))
	}
	return p, nil
}
