// Package payments defines the payment processor boundary. The processor is
// an unreliable remote service: calls may time out, fail transiently, or be
// rejected permanently, and the distinction drives the worker's retry policy.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Error is a processor-side failure. Permanent errors (declined card, closed
// account) must never be retried; everything else is treated as transient.
type Error struct {
	Code      string
	Message   string
	Permanent bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor %s: %s", e.Code, e.Message)
}

// IsPermanent reports whether err is a processor rejection that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Permanent
}

// Processor issues holds, transfers, and refunds against the external payment
// provider. Every call takes a stable idempotency key derived from the outbox
// event id, so a retry after a network timeout collapses into the original
// request on the processor side.
type Processor interface {
	// PlaceHold reserves amountCents against the payer's payment method and
	// returns the processor's hold reference.
	PlaceHold(ctx context.Context, accountRef string, amountCents int64, idemKey string) (string, error)
	// ReleaseTransfer pays amountCents out to the destination and returns the
	// transfer reference.
	ReleaseTransfer(ctx context.Context, destRef string, amountCents int64, idemKey string) (string, error)
	// ReverseHold cancels a previously placed hold and returns the refund
	// reference.
	ReverseHold(ctx context.Context, holdRef string, idemKey string) (string, error)
}
