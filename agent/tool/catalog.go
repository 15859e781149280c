package tool

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
)

// Operation is the provider capability a tool maps to.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpCancel Operation = "cancel"
)

// ToolSpec binds a tool name to its argument schema and exactly one provider
// operation.
type ToolSpec struct {
	Name      contractx.ToolName
	Desc      string
	Params    []contractx.ParamSchema
	Operation Operation
}

// Registry is built once at startup and is read-only afterwards.
type Registry struct {
	specs     map[contractx.ToolName]ToolSpec
	order     []contractx.ToolName
	policy    *policyx.Store
	providers []contractx.ProviderName
}

type RegistryOption func(*Registry)

// WithProviders limits the provider argument to the backends actually
// registered. Without it every known provider name is accepted.
func WithProviders(names ...contractx.ProviderName) RegistryOption {
	return func(r *Registry) {
		r.providers = r.providers[:0]
		for _, n := range names {
			if n.Valid() {
				r.providers = append(r.providers, n)
			}
		}
	}
}

func NewRegistry(policy *policyx.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		specs:  make(map[contractx.ToolName]ToolSpec, 3),
		policy: policy,
		providers: []contractx.ProviderName{
			contractx.ProviderCalendly,
			contractx.ProviderGoogle,
			contractx.ProviderCustom,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, spec := range builtinSpecs(policy, r.providers) {
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}
	return r
}

func (r *Registry) Resolve(name string) (ToolSpec, error) {
	spec, ok := r.specs[contractx.ToolName(strings.TrimSpace(name))]
	if !ok {
		return ToolSpec{}, fmt.Errorf("%w: %q", contractx.ErrToolNotFound, name)
	}
	return spec, nil
}

// Schemas lists declared tools in registration order.
func (r *Registry) Schemas() []contractx.ToolSchema {
	out := make([]contractx.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		spec := r.specs[name]
		params := make([]contractx.ParamSchema, len(spec.Params))
		copy(params, spec.Params)
		out = append(out, contractx.ToolSchema{
			Name:   string(spec.Name),
			Desc:   spec.Desc,
			Params: params,
		})
	}
	return out
}

// ToolInfos converts tool schemas to the form a tool-calling chat model binds.
func ToolInfos(schemas []contractx.ToolSchema) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(schemas))
	for _, s := range schemas {
		params := make(map[string]*schema.ParameterInfo, len(s.Params))
		for _, p := range s.Params {
			params[p.Name] = &schema.ParameterInfo{
				Type:     schema.DataType(p.Type),
				Desc:     p.Desc,
				Required: p.Required,
				Enum:     p.Enum,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        s.Name,
			Desc:        s.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func builtinSpecs(policy *policyx.Store, names []contractx.ProviderName) []ToolSpec {
	providers := make([]string, 0, len(names))
	for _, n := range names {
		providers = append(providers, string(n))
	}

	serviceDesc := "Service to book"
	if policy != nil && policy.HasCatalog() {
		serviceDesc = "Service to book, one of: " + strings.Join(policy.ServiceNames(), ", ")
	}

	return []ToolSpec{
		{
			Name:      contractx.ToolScheduleAppointment,
			Desc:      "Book a new appointment for a customer.",
			Operation: OpCreate,
			Params: []contractx.ParamSchema{
				{Name: "customerName", Type: string(schema.String), Desc: "Full name of the customer", Required: true},
				{Name: "customerEmail", Type: string(schema.String), Desc: "Customer email address"},
				{Name: "customerPhone", Type: string(schema.String), Desc: "Customer phone number"},
				{Name: "serviceType", Type: string(schema.String), Desc: serviceDesc, Required: true},
				{Name: "startTime", Type: string(schema.String), Desc: "Appointment start as an ISO-8601 date-time", Required: true},
				{Name: "notes", Type: string(schema.String), Desc: "Notes for the provider"},
				{Name: "provider", Type: string(schema.String), Desc: "Booking backend", Enum: providers},
			},
		},
		{
			Name:      contractx.ToolRescheduleAppointment,
			Desc:      "Move an existing booking to a new start time. Use $ref:<call id> as bookingId to refer to a booking created earlier in the same response.",
			Operation: OpUpdate,
			Params: []contractx.ParamSchema{
				{Name: "bookingId", Type: string(schema.String), Desc: "Existing booking id", Required: true},
				{Name: "newStartTime", Type: string(schema.String), Desc: "New start as an ISO-8601 date-time", Required: true},
				{Name: "notes", Type: string(schema.String), Desc: "Reason or notes for the change"},
				{Name: "provider", Type: string(schema.String), Desc: "Booking backend", Enum: providers},
			},
		},
		{
			Name:      contractx.ToolCancelAppointment,
			Desc:      "Cancel an existing booking. Use $ref:<call id> as bookingId to refer to a booking created earlier in the same response.",
			Operation: OpCancel,
			Params: []contractx.ParamSchema{
				{Name: "bookingId", Type: string(schema.String), Desc: "Existing booking id", Required: true},
				{Name: "notes", Type: string(schema.String), Desc: "Cancellation reason"},
				{Name: "provider", Type: string(schema.String), Desc: "Booking backend", Enum: providers},
			},
		},
	}
}
