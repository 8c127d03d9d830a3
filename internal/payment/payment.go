// Package payment talks to the payment gateway. Calls here are slow and
// remote; callers must never hold a store transaction across them.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is the gateway contract.
type Client interface {
	CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error)
	VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) (bool, error)
	// LookupOrder returns the amount, currency and metadata an order was
	// opened with.
	LookupOrder(ctx context.Context, orderRef string) (Order, error)
	Refund(ctx context.Context, paymentRef string, amount int64) (string, error)
}

var (
	ErrUnknownOrder   = errors.New("unknown order")
	ErrUnknownPayment = errors.New("unknown payment")
	ErrRefundExceeds  = errors.New("refund exceeds captured amount")
)

// Order is a sandbox order.
type Order struct {
	Ref        string
	Amount     int64
	Currency   string
	Metadata   map[string]string
	PaymentRef string
	Refunded   int64
	CreatedAt  time.Time
}

// Sandbox is an in-process gateway. Payment signatures are
// hex(HMAC-SHA256(secret, orderRef + "|" + paymentRef)), the scheme hosted
// checkout gateways use to let merchants verify a client-reported payment.
type Sandbox struct {
	secret []byte

	mu        sync.Mutex
	orders    map[string]*Order
	byPayment map[string]string // payment ref -> order ref
	refunds   map[string]int64  // refund ref -> amount
}

var _ Client = (*Sandbox)(nil)

// NewSandbox builds a sandbox gateway keyed by secret.
func NewSandbox(secret []byte) (*Sandbox, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("payment secret is required")
	}
	return &Sandbox{
		secret:    secret,
		orders:    make(map[string]*Order),
		byPayment: make(map[string]string),
		refunds:   make(map[string]int64),
	}, nil
}

// CreateOrder opens an order for amount minor units.
func (s *Sandbox) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("order amount must be positive")
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	o := &Order{
		Ref:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:    amount,
		Currency:  currency,
		Metadata:  md,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.orders[o.Ref] = o
	s.mu.Unlock()
	return o.Ref, nil
}

// Sign returns the gateway signature for a captured payment.
func (s *Sandbox) Sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// Capture simulates the customer completing checkout for orderRef and
// returns what the client would report back.
func (s *Sandbox) Capture(orderRef string) (paymentRef, signature string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderRef]
	if !ok {
		return "", "", ErrUnknownOrder
	}
	if o.PaymentRef == "" {
		o.PaymentRef = "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		s.byPayment[o.PaymentRef] = o.Ref
	}
	return o.PaymentRef, s.Sign(o.Ref, o.PaymentRef), nil
}

// VerifyPayment checks the signature in constant time.
func (s *Sandbox) VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	want, _ := hex.DecodeString(s.Sign(orderRef, paymentRef))
	if !hmac.Equal(got, want) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderRef]; !ok || o.PaymentRef != paymentRef {
		return false, nil
	}
	return true, nil
}

// LookupOrder returns a copy of the order, metadata included.
func (s *Sandbox) LookupOrder(ctx context.Context, orderRef string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	o, ok := s.Order(orderRef)
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	return o, nil
}

// Refund returns amount of the captured payment.
func (s *Sandbox) Refund(ctx context.Context, paymentRef string, amount int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("refund amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orderRef, ok := s.byPayment[paymentRef]
	if !ok {
		return "", ErrUnknownPayment
	}
	o := s.orders[orderRef]
	if o.Refunded+amount > o.Amount {
		return "", ErrRefundExceeds
	}
	o.Refunded += amount
	ref := "rfnd_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.refunds[ref] = amount
	return ref, nil
}

// Order returns a copy of the order.
func (s *Sandbox) Order(orderRef string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderRef]
	if !ok {
		return Order{}, false
	}
	out := *o
	out.Metadata = make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		out.Metadata[k] = v
	}
	return out, true
}
