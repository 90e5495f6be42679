package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripe() *Stripe {
	return NewStripe(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Currency:      "usd",
	})
}

func sessionEvent(t *testing.T, eventType, paymentStatus string, metadata map[string]string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     "evt_test_1",
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": paymentStatus,
				"metadata":       metadata,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestParseEventCheckoutCompleted(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.completed", "paid", map[string]string{
		"orderId": "42",
		"userId":  "7",
	})

	event, err := s.ParseEvent(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)

	assert.Equal(t, "evt_test_1", event.ID)
	assert.Equal(t, EventPaymentConfirmed, event.Type)
	assert.Equal(t, int64(42), event.OrderID)
	assert.Equal(t, int64(7), event.UserID)
}

func TestParseEventRejectsWrongSecret(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.completed", "paid", map[string]string{"orderId": "1", "userId": "1"})

	_, err := s.ParseEvent(payload, sign(payload, "whsec_attacker"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUntrustedEvent)
	assert.Equal(t, apperr.KindUntrustedEvent, apperr.KindOf(err))
}

func TestParseEventRejectsWhenSecretUnset(t *testing.T) {
	s := NewStripe(config.StripeConfig{SecretKey: "sk_test_123", Currency: "usd"})
	payload := sessionEvent(t, "checkout.session.completed", "paid", map[string]string{"orderId": "42", "userId": "7"})

	event, err := s.ParseEvent(payload, sign(payload, ""))
	require.Error(t, err)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, apperr.ErrUntrustedEvent)
}

func TestParseEventRejectsMissingSignature(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.completed", "paid", nil)

	_, err := s.ParseEvent(payload, "")
	assert.ErrorIs(t, err, apperr.ErrUntrustedEvent)
}

func TestParseEventRejectsTamperedPayload(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.completed", "paid", map[string]string{"orderId": "1", "userId": "1"})
	header := sign(payload, testWebhookSecret)

	tampered := sessionEvent(t, "checkout.session.completed", "paid", map[string]string{"orderId": "2", "userId": "1"})
	_, err := s.ParseEvent(tampered, header)
	assert.ErrorIs(t, err, apperr.ErrUntrustedEvent)
}

func TestParseEventUnpaidSessionIsUnhandled(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.completed", "unpaid", map[string]string{"orderId": "3", "userId": "1"})

	event, err := s.ParseEvent(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, EventUnhandled, event.Type)
}

func TestParseEventExpiredSession(t *testing.T) {
	s := newTestStripe()
	payload := sessionEvent(t, "checkout.session.expired", "unpaid", map[string]string{"orderId": "9", "userId": "2"})

	event, err := s.ParseEvent(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentExpired, event.Type)
	assert.Equal(t, int64(9), event.OrderID)
}

func TestParseEventOtherTypesAreUnhandled(t *testing.T) {
	s := newTestStripe()
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	event, err := s.ParseEvent(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, EventUnhandled, event.Type)
	assert.Equal(t, "customer.created", event.ProviderType)
}

func TestParseEventAsyncPaymentIsUnhandled(t *testing.T) {
	s := newTestStripe()
	for _, eventType := range []string{"checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed"} {
		payload := sessionEvent(t, eventType, "paid", map[string]string{"orderId": "5", "userId": "1"})

		event, err := s.ParseEvent(payload, sign(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, EventUnhandled, event.Type, eventType)
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000), toMinorUnits(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1999), toMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), toMinorUnits(decimal.RequireFromString("0.005")))
}
