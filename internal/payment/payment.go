// Package payment is the boundary to the hosted checkout provider: starting
// checkout sessions and turning signed inbound webhooks into verified events.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	OrderID            int64
	UserID             int64
	OrderNumber        string
	Amount             decimal.Decimal
	ProductName        string
	ProductDescription string
	ProductImage       string
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type EventType string

const (
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventPaymentExpired   EventType = "payment_expired"
	EventUnhandled        EventType = "unhandled"
)

// Event is a verified provider notification. OrderID and UserID are zero when
// the provider payload did not carry usable metadata.
type Event struct {
	ID           string
	Type         EventType
	ProviderType string
	OrderID      int64
	UserID       int64
}

type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ParseEvent verifies the signature header against payload and decodes the
	// event. Verification failures wrap apperr.ErrUntrustedEvent.
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}
