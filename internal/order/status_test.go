package order

import "testing"

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		for _, to := range []Status{StatusPending, StatusProcessing, StatusPaid, StatusShipped} {
			if CanTransition(s, to) {
				t.Fatalf("%s -> %s should be rejected", s, to)
			}
		}
	}
}

func TestCancelReachableFromEveryNonTerminalState(t *testing.T) {
	for s := range validNext {
		if s.Terminal() {
			continue
		}
		if !CanTransition(s, StatusCancelled) || !CanTransition(s, StatusFailed) {
			t.Fatalf("%s must allow cancellation and failure", s)
		}
	}
}

func TestNoBackwardTransitions(t *testing.T) {
	cases := [][2]Status{
		{StatusProcessing, StatusPending},
		{StatusPaid, StatusProcessing},
		{StatusShipped, StatusPaid},
		{StatusPendingPayment, StatusPending},
	}
	for _, c := range cases {
		if CanTransition(c[0], c[1]) {
			t.Fatalf("%s -> %s should be rejected", c[0], c[1])
		}
	}
}

func TestPaymentTransitions(t *testing.T) {
	if !CanTransitionPayment(PaymentPending, PaymentSucceeded) {
		t.Fatal("pending -> succeeded must be allowed")
	}
	if CanTransitionPayment(PaymentSucceeded, PaymentPending) {
		t.Fatal("succeeded -> pending must be rejected")
	}
	if !CanTransitionPayment(PaymentSucceeded, PaymentRefunded) {
		t.Fatal("succeeded -> refunded must be allowed")
	}
}
