package communication

import (
	"context"
	"fmt"

	"github.com/kat-co/vala"
	"golang.org/x/sync/errgroup"
)

type (
	// Notifier delivers a communication to a single guardian over some channel (email, sms, ...).
	Notifier interface {
		Notify(ctx context.Context, comm Communication, guardian Guardian) error
	}

	// Dispatcher attempts the delivery of a communication to its guardians.
	// It never changes the communication's status.
	Dispatcher interface {
		Dispatch(ctx context.Context, comm Communication) SendResult
	}

	DeliveryError struct {
		GuardianID string `json:"guardian_id"`
		Guardian   string `json:"guardian"`
		Error      string `json:"error"`
	}

	SendResult struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Sent    int             `json:"sent"`
		Errors  []DeliveryError `json:"errors"`
	}
)

type notifierDispatcher struct {
	notifier Notifier
	workers  int
}

// NewDispatcher returns a Dispatcher notifying up to `workers` guardians concurrently.
func NewDispatcher(notifier Notifier, workers int) (Dispatcher, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(notifier, "notifier"),
		vala.GreaterThan(workers, 0, "workers"),
	).Check()
	if err != nil {
		return nil, err
	}
	return &notifierDispatcher{notifier: notifier, workers: workers}, nil
}

// Dispatch notifies every guardian in comm.Guardians once.
// The dispatch succeeds only when no delivery failed; a communication without guardians succeeds with nothing sent.
func (d *notifierDispatcher) Dispatch(ctx context.Context, comm Communication) SendResult {
	failures := make([]error, len(comm.Guardians))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, guardian := range comm.Guardians {
		i, guardian := i, guardian
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			failures[i] = d.notifier.Notify(ctx, comm, guardian)
			return nil
		})
	}
	_ = g.Wait()

	return newSendResult(comm.Guardians, failures)
}

func newSendResult(guardians []Guardian, failures []error) SendResult {
	res := SendResult{Errors: make([]DeliveryError, 0)}
	for i, guardian := range guardians {
		if failures[i] == nil {
			res.Sent++
			continue
		}
		res.Errors = append(res.Errors, DeliveryError{
			GuardianID: guardian.ID,
			Guardian:   guardian.Name,
			Error:      failures[i].Error(),
		})
	}

	res.Success = len(res.Errors) == 0
	switch {
	case len(guardians) == 0:
		res.Message = "communication has no guardians to send to"
	case res.Success:
		res.Message = fmt.Sprintf("communication sent to %d guardian(s)", res.Sent)
	case res.Sent == 0:
		res.Message = fmt.Sprintf("communication could not be sent to any of the %d guardian(s)", len(guardians))
	default:
		res.Message = fmt.Sprintf("communication sent to %d of %d guardian(s), %d failed", res.Sent, len(guardians), len(res.Errors))
	}
	return res
}
