package hal

import (
	"context"
	"sync"
)

// irqLatch latches interrupt sources raised from other goroutines.
// While masked, raise blocks until unmask, so nothing latches inside a
// critical section but nothing is lost either.
type irqLatch struct {
	mask    sync.Mutex
	mu      sync.Mutex
	pending Interrupt
	notify  chan struct{}
}

func newIRQLatch() *irqLatch {
	return &irqLatch{notify: make(chan struct{}, 1)}
}

func (l *irqLatch) disable() { l.mask.Lock() }
func (l *irqLatch) enable()  { l.mask.Unlock() }

func (l *irqLatch) raise(irq Interrupt) {
	l.mask.Lock()
	l.mu.Lock()
	l.pending |= irq
	l.mu.Unlock()
	l.mask.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *irqLatch) peek() Interrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// take clears and returns the highest-priority pending source in mask.
func (l *irqLatch) take(mask Interrupt) Interrupt {
	l.mu.Lock()
	defer l.mu.Unlock()
	irq := (l.pending & mask).Highest()
	l.pending &^= irq
	return irq
}

func (l *irqLatch) wait(ctx context.Context, mask Interrupt) (Interrupt, error) {
	for {
		if irq := l.take(mask); irq != IRQNone {
			return irq, nil
		}
		select {
		case <-ctx.Done():
			return IRQNone, ctx.Err()
		case <-l.notify:
		}
	}
}

// idle blocks until anything is pending or done is closed. Nothing is
// cleared.
func (l *irqLatch) idle(done <-chan struct{}) {
	for l.peek() == IRQNone {
		select {
		case <-done:
			return
		case <-l.notify:
		}
	}
}
