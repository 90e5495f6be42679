package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var errNoWebhookSecret = errors.New("webhook secret is not configured")

const (
	metadataOrderID = "orderId"
	metadataUserID  = "userId"
)

// Stripe implements Provider with Stripe Checkout and Stripe-Signature
// webhook verification.
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
	tolerance     time.Duration
}

func NewStripe(cfg config.StripeConfig) *Stripe {
	return &Stripe{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		tolerance:     webhook.DefaultTolerance,
	}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.ProductDescription != "" {
		productData.Description = stripe.String(req.ProductDescription)
	}
	if req.ProductImage != "" {
		productData.Images = stripe.StringSlice([]string{req.ProductImage})
	}

	// Card payments settle or expire within the session lifetime. Delayed
	// methods would also need async_payment_* handling and a pending order
	// TTL longer than their settlement window.
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(s.currency),
					ProductData: productData,
					UnitAmount:  stripe.Int64(toMinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderNumber),
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, strconv.FormatInt(req.OrderID, 10))
	params.AddMetadata(metadataUserID, strconv.FormatInt(req.UserID, 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseEvent rejects every event when no webhook secret is configured.
func (s *Stripe) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, apperr.Wrap(apperr.ErrUntrustedEvent, errNoWebhookSecret)
	}
	if signatureHeader == "" {
		return nil, apperr.Wrap(apperr.ErrUntrustedEvent, webhook.ErrNotSigned)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, apperr.Wrap(apperr.ErrUntrustedEvent, err)
		}
		return nil, apperr.Wrap(apperr.Validation("malformed event"), err)
	}

	event := &Event{
		ID:           evt.ID,
		Type:         EventUnhandled,
		ProviderType: string(evt.Type),
	}

	switch evt.Type {
	case "checkout.session.completed":
		sess, err := decodeSession(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return event, nil
		}
		event.Type = EventPaymentConfirmed
		event.OrderID, event.UserID = sessionOwner(sess)

	case "checkout.session.expired":
		sess, err := decodeSession(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		event.Type = EventPaymentExpired
		event.OrderID, event.UserID = sessionOwner(sess)
	}

	return event, nil
}

func decodeSession(raw json.RawMessage) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, apperr.Wrap(apperr.Validation("malformed event"), err)
	}
	return &sess, nil
}

func sessionOwner(sess *stripe.CheckoutSession) (orderID, userID int64) {
	orderID, _ = strconv.ParseInt(sess.Metadata[metadataOrderID], 10, 64)
	userID, _ = strconv.ParseInt(sess.Metadata[metadataUserID], 10, 64)
	return orderID, userID
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
