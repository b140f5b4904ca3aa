package hal

import (
	"context"
	"testing"
	"time"
)

func TestLatchRaiseBlocksWhileMasked(t *testing.T) {
	l := newIRQLatch()
	l.disable()

	raised := make(chan struct{})
	go func() {
		l.raise(IRQPinChange)
		close(raised)
	}()

	select {
	case <-raised:
		t.Fatal("raise completed inside a critical section")
	case <-time.After(20 * time.Millisecond):
	}
	if l.peek() != IRQNone {
		t.Errorf("expected nothing pending while masked, got %s", l.peek())
	}

	l.enable()
	select {
	case <-raised:
	case <-time.After(2 * time.Second):
		t.Fatal("raise never completed after unmask")
	}
	if l.peek() != IRQPinChange {
		t.Errorf("expected pin change pending, got %s", l.peek())
	}
}

func TestLatchIdleReturnsWhenPending(t *testing.T) {
	l := newIRQLatch()
	l.raise(IRQTick)

	done := make(chan struct{})
	l.idle(done)

	// idle does not consume.
	if l.peek() != IRQTick {
		t.Errorf("expected tick still pending, got %s", l.peek())
	}
}

func TestLatchIdleWakesOnRaise(t *testing.T) {
	l := newIRQLatch()
	done := make(chan struct{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.raise(IRQConversion)
	}()

	finished := make(chan struct{})
	go func() {
		l.idle(done)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("idle did not wake")
	}
}

func TestLatchIdleStopsOnDone(t *testing.T) {
	l := newIRQLatch()
	done := make(chan struct{})
	close(done)
	l.idle(done)
}

func TestLatchWaitRespectsMask(t *testing.T) {
	l := newIRQLatch()
	l.raise(IRQTick)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.wait(ctx, IRQConversion); err == nil {
		t.Error("expected timeout waiting for a masked-out source")
	}

	irq, err := l.wait(context.Background(), IRQAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if irq != IRQTick {
		t.Errorf("expected tick, got %s", irq)
	}
}
