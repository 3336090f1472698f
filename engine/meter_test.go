package engine

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/ban1717/scripto/errors"
)

func TestMeter_Consume(t *testing.T) {
	m := NewMeter(100)

	if err := m.Consume(40); err != nil {
		t.Fatalf("Consume(40): %v", err)
	}
	if err := m.Consume(60); err != nil {
		t.Fatalf("Consume(60): %v", err)
	}
	if m.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", m.Remaining())
	}
	if m.Consumed() != 100 {
		t.Errorf("Consumed = %d, want 100", m.Consumed())
	}
	if m.Exhausted() {
		t.Error("spending the exact budget must not mark the meter exhausted")
	}
	if err := m.Consume(0); err != nil {
		t.Errorf("Consume(0) on an empty meter: %v", err)
	}
}

func TestMeter_Exhaustion(t *testing.T) {
	m := NewMeter(10)

	err := m.Consume(11)
	if !stderrors.Is(err, errors.ErrCostUnitsExhausted) {
		t.Fatalf("expected cost exhaustion, got %v", err)
	}
	if m.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", m.Remaining())
	}
	if m.Consumed() != 10 {
		t.Errorf("Consumed = %d, want 10", m.Consumed())
	}
	if !m.Exhausted() {
		t.Error("meter should be exhausted")
	}

	if err := m.Consume(1); !stderrors.Is(err, errors.ErrCostUnitsExhausted) {
		t.Errorf("expected cost exhaustion after the budget ran out, got %v", err)
	}
}

func TestMeter_LargeBudget(t *testing.T) {
	m := NewMeter(^uint64(0))
	if err := m.Consume(^uint32(0)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if want := ^uint64(0) - uint64(^uint32(0)); m.Remaining() != want {
		t.Errorf("Remaining = %d, want %d", m.Remaining(), want)
	}
}

func TestMeter_Concurrent(t *testing.T) {
	const (
		workers = 8
		calls   = 1000
	)
	m := NewMeter(workers * calls / 2)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for c := 0; c < calls; c++ {
				if m.Consume(1) == nil {
					n++
				}
			}
			mu.Lock()
			accepted += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if accepted != workers*calls/2 {
		t.Errorf("accepted %d charges, want %d", accepted, workers*calls/2)
	}
	if m.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", m.Remaining())
	}
}
