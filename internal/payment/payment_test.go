package payment

import (
	"context"
	"errors"
	"testing"
)

func TestSandboxCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	s, err := NewSandbox([]byte("sandbox-secret"))
	if err != nil {
		t.Fatal(err)
	}
	orderRef, err := s.CreateOrder(ctx, 50000, "INR", map[string]string{"registration_id": "r1"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	paymentRef, sig, err := s.Capture(orderRef)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	ok, err := s.VerifyPayment(ctx, orderRef, paymentRef, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyPayment = %v, %v", ok, err)
	}
	for name, args := range map[string][3]string{
		"bad signature":   {orderRef, paymentRef, "deadbeef"},
		"not hex":         {orderRef, paymentRef, "zz"},
		"swapped order":   {"order_other", paymentRef, sig},
		"swapped payment": {orderRef, "pay_other", sig},
	} {
		if ok, _ := s.VerifyPayment(ctx, args[0], args[1], args[2]); ok {
			t.Errorf("%s: verified", name)
		}
	}

	if _, err := s.Refund(ctx, paymentRef, 30000); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if _, err := s.Refund(ctx, paymentRef, 30000); !errors.Is(err, ErrRefundExceeds) {
		t.Fatalf("over-refund err = %v", err)
	}
	if _, err := s.Refund(ctx, "pay_missing", 1); !errors.Is(err, ErrUnknownPayment) {
		t.Fatalf("unknown payment err = %v", err)
	}
	o, _ := s.Order(orderRef)
	if o.Refunded != 30000 || o.Metadata["registration_id"] != "r1" {
		t.Fatalf("order = %+v", o)
	}
}

func TestSandboxRejectsBadInput(t *testing.T) {
	if _, err := NewSandbox(nil); err == nil {
		t.Error("empty secret accepted")
	}
	s, _ := NewSandbox([]byte("k"))
	if _, err := s.CreateOrder(context.Background(), 0, "INR", nil); err == nil {
		t.Error("zero amount order accepted")
	}
	if _, _, err := s.Capture("order_missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("capture unknown order err = %v", err)
	}
}

func TestSandboxLookupOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := NewSandbox([]byte("k"))
	ref, err := s.CreateOrder(ctx, 700, "INR", map[string]string{"event_id": "gala", "participant_id": "p1"})
	if err != nil {
		t.Fatal(err)
	}
	o, err := s.LookupOrder(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if o.Amount != 700 || o.Currency != "INR" || o.Metadata["event_id"] != "gala" || o.Metadata["participant_id"] != "p1" {
		t.Fatalf("order = %+v", o)
	}
	o.Metadata["event_id"] = "other"
	if again, _ := s.LookupOrder(ctx, ref); again.Metadata["event_id"] != "gala" {
		t.Fatal("lookup leaked the stored metadata map")
	}
	if _, err := s.LookupOrder(ctx, "order_missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("unknown order err = %v", err)
	}
}
