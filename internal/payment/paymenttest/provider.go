// Package paymenttest provides an in-memory payment.Provider for tests.
package paymenttest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/safar/cashback-store/internal/apperr"
	"github.com/safar/cashback-store/internal/payment"
)

// Provider records checkout requests and verifies events signed with Sign.
type Provider struct {
	mu       sync.Mutex
	secret   string
	requests []payment.CheckoutRequest
	counter  int

	// CheckoutErr, when set, is returned by CreateCheckoutSession.
	CheckoutErr error
}

func New(secret string) *Provider {
	return &Provider{secret: secret}
}

func (p *Provider) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CheckoutErr != nil {
		return nil, p.CheckoutErr
	}

	p.requests = append(p.requests, req)
	p.counter++
	id := fmt.Sprintf("cs_test_%06d", p.counter)
	return &payment.CheckoutSession{
		ID:  id,
		URL: "https://checkout.test/pay/" + id,
	}, nil
}

func (p *Provider) Requests() []payment.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.CheckoutRequest(nil), p.requests...)
}

// EventPayload is the JSON body accepted by ParseEvent.
type EventPayload struct {
	ID      string            `json:"id"`
	Type    payment.EventType `json:"type"`
	OrderID int64             `json:"orderId"`
	UserID  int64             `json:"userId"`
}

func (p *Provider) ParseEvent(payload []byte, signatureHeader string) (*payment.Event, error) {
	if !hmac.Equal([]byte(signatureHeader), []byte(p.Sign(payload))) {
		return nil, apperr.Wrap(apperr.ErrUntrustedEvent, errors.New("signature mismatch"))
	}

	var body EventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperr.Wrap(apperr.Validation("malformed event"), err)
	}

	return &payment.Event{
		ID:           body.ID,
		Type:         body.Type,
		ProviderType: string(body.Type),
		OrderID:      body.OrderID,
		UserID:       body.UserID,
	}, nil
}

// Sign returns the signature header ParseEvent expects for payload.
func (p *Provider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedEvent marshals an event payload and signs it.
func (p *Provider) SignedEvent(body EventPayload) ([]byte, string) {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return data, p.Sign(data)
}
