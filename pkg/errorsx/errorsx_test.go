package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonDeliverySend)
	if Reason(err) != ReasonDeliverySend {
		t.Fatalf("expected reason %s, got %s", ReasonDeliverySend, Reason(err))
	}
	if !HasReason(err, ReasonDeliverySend) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonMediaSequence)
	second := Wrap(first, ReasonDeliverySend)
	if Reason(second) != ReasonMediaSequence {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonDeliverySend) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
