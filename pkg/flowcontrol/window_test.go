package flowcontrol

import "testing"

func TestSendWindowConsumeAndIncrease(t *testing.T) {
	w := NewSendWindow(100)
	w.Consume(40)
	if got := w.Available(); got != 60 {
		t.Fatalf("Available() = %d, want 60", got)
	}
	if err := w.Increase(10); err != nil {
		t.Fatalf("Increase: %v", err)
	}
	if got := w.Available(); got != 70 {
		t.Fatalf("Available() = %d, want 70", got)
	}
}

func TestSendWindowIncreaseOverflow(t *testing.T) {
	w := NewSendWindow(maxWindow)
	if err := w.Increase(1); err == nil {
		t.Fatal("expected overflow error, got nil")
	}
}

func TestSendWindowApplySettingsDeltaCanGoNegative(t *testing.T) {
	w := NewSendWindow(100)
	if err := w.ApplySettingsDelta(100, 10); err != nil {
		t.Fatalf("ApplySettingsDelta: %v", err)
	}
	if got := w.Available(); got != 10 {
		t.Fatalf("Available() = %d, want 10", got)
	}
	w.Consume(10)
	if err := w.ApplySettingsDelta(10, 0); err != nil {
		t.Fatalf("ApplySettingsDelta: %v", err)
	}
	if got := w.Available(); got != -10 {
		t.Fatalf("Available() = %d, want -10", got)
	}
}

func TestRecvWindowConsumeRejectsOverdraw(t *testing.T) {
	w := NewRecvWindow(10)
	if err := w.Consume(10); err != nil {
		t.Fatalf("Consume(10): %v", err)
	}
	if err := w.Consume(1); err == nil {
		t.Fatal("expected flow control error consuming past zero, got nil")
	}
}

func TestRecvWindowReleaseHalfWindowPolicy(t *testing.T) {
	w := NewRecvWindow(100)
	if err := w.Consume(40); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	// Window is now 60, still >= initial/2 (50): no credit should be
	// reported yet.
	if inc, ok := w.Release(40); ok {
		t.Fatalf("Release reported increment=%d before falling below half-window", inc)
	}
	if err := w.Consume(20); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	// Window is now 40, below half (50): the accumulated credit must be
	// released in one increment.
	inc, ok := w.Release(20)
	if !ok {
		t.Fatal("expected Release to report an increment once below half-window")
	}
	if inc != 60 {
		t.Fatalf("increment = %d, want 60 (40+20 accumulated)", inc)
	}
	if got := w.Available(); got != 100 {
		t.Fatalf("Available() = %d, want 100 after replenish", got)
	}
}

func TestRecvWindowReleaseNeverReportsZero(t *testing.T) {
	w := NewRecvWindow(10)
	if inc, ok := w.Release(0); ok {
		t.Fatalf("Release(0) reported increment=%d, want ok=false", inc)
	}
}
