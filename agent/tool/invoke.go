package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

// Outcome is a successful provider call.
type Outcome struct {
	BookingID contractx.BookingID
	Content   string
}

// Invoke calls the single provider operation the validated arguments map to.
// A hung call is cut off after timeout and reported as a retriable
// ProviderError; Invoke itself never retries.
func Invoke(
	ctx context.Context,
	provider contractx.BookingProvider,
	args ValidatedArgs,
	idempotencyKey string,
	timeout time.Duration,
	loc *time.Location,
) (Outcome, error) {
	if provider == nil {
		return Outcome{}, contractx.NewProviderError(string(args.Operation()), contractx.ProviderUnavailable, errors.New("no provider configured"))
	}
	if loc == nil {
		loc = time.UTC
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := dispatch(callCtx, provider, args, idempotencyKey, loc)
	if err != nil {
		return Outcome{}, classifyProviderError(callCtx, args.Operation(), err)
	}
	return out, nil
}

func dispatch(
	ctx context.Context,
	provider contractx.BookingProvider,
	args ValidatedArgs,
	key string,
	loc *time.Location,
) (Outcome, error) {
	switch a := args.(type) {
	case ScheduleAppointment:
		id, err := provider.Create(ctx, a.Payload, key)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			BookingID: id,
			Content: fmt.Sprintf("Booked %s for %s on %s (booking %s).",
				a.Payload.ServiceType, a.Payload.CustomerName, formatWhen(a.Payload.StartTime, loc), id),
		}, nil
	case RescheduleAppointment:
		ack, err := provider.Update(ctx, a.Payload.BookingID, a.Payload, key)
		if err != nil {
			return Outcome{}, err
		}
		id := ack.BookingID
		if id == "" {
			id = a.Payload.BookingID
		}
		return Outcome{
			BookingID: id,
			Content:   fmt.Sprintf("Moved booking %s to %s.", id, formatWhen(a.Payload.NewStartTime, loc)),
		}, nil
	case CancelAppointment:
		ack, err := provider.Cancel(ctx, a.Payload.BookingID, a.Payload, key)
		if err != nil {
			return Outcome{}, err
		}
		id := ack.BookingID
		if id == "" {
			id = a.Payload.BookingID
		}
		return Outcome{
			BookingID: id,
			Content:   fmt.Sprintf("Cancelled booking %s.", id),
		}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: unsupported arguments %T", contractx.ErrValidation, args)
	}
}

func classifyProviderError(ctx context.Context, op Operation, err error) error {
	var pe *contractx.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return contractx.NewProviderError(string(op), contractx.ProviderTimeout, err)
	}
	return contractx.NewProviderError(string(op), contractx.ProviderUnavailable, err)
}

// DescribeFailure is the user-safe summary of a failed provider call.
func DescribeFailure(args ValidatedArgs, err error) string {
	var pe *contractx.ProviderError
	if !errors.As(err, &pe) {
		return fmt.Sprintf("Could not complete %s: %v. A coordinator will follow up.", describeArgs(args), err)
	}
	switch pe.Code {
	case contractx.ProviderNotFound:
		return fmt.Sprintf("Could not find %s, so nothing was changed. A coordinator will follow up.", describeArgs(args))
	case contractx.ProviderConflict:
		return fmt.Sprintf("That time is no longer available for %s. A coordinator will follow up.", describeArgs(args))
	case contractx.ProviderTimeout:
		return fmt.Sprintf("The booking system did not respond in time for %s; the outcome is unconfirmed and must be checked manually before retrying.", describeArgs(args))
	default:
		return fmt.Sprintf("The booking system could not confirm %s (%s). A coordinator will follow up.", describeArgs(args), pe.Code)
	}
}

func formatWhen(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon Jan 2, 2006 at 3:04 PM MST")
}
