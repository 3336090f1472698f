package engine

import (
	"sync/atomic"

	"github.com/ban1717/scripto/errors"
)

// Meter tracks the cost budget of one instance. Consume is called by the
// consume_cost_units host function before each metered segment runs.
type Meter struct {
	remaining atomic.Uint64
	consumed  atomic.Uint64
	exhausted atomic.Bool
}

// NewMeter returns a meter holding budget cost units.
func NewMeter(budget uint64) *Meter {
	m := &Meter{}
	m.remaining.Store(budget)
	return m
}

// Consume deducts units from the budget. When the budget cannot cover the
// request it drops to zero, the meter is marked exhausted and a
// cost-exhaustion error is returned. The balance never goes negative.
func (m *Meter) Consume(units uint32) error {
	for {
		remaining := m.remaining.Load()
		if uint64(units) > remaining {
			if m.remaining.CompareAndSwap(remaining, 0) {
				m.consumed.Add(remaining)
				m.exhausted.Store(true)
				return errors.CostUnitsExhausted(uint64(units), remaining)
			}
			continue
		}
		if m.remaining.CompareAndSwap(remaining, remaining-uint64(units)) {
			m.consumed.Add(uint64(units))
			return nil
		}
	}
}

// Remaining returns the unspent budget.
func (m *Meter) Remaining() uint64 {
	return m.remaining.Load()
}

// Consumed returns the units spent so far.
func (m *Meter) Consumed() uint64 {
	return m.consumed.Load()
}

// Exhausted reports whether a request was ever refused.
func (m *Meter) Exhausted() bool {
	return m.exhausted.Load()
}
