package clock

import "sync/atomic"

// AtomicClock is a lock-free local sequence. It only moves forward.
type AtomicClock struct {
	v atomic.Uint64
}

func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.v.Store(init)
	return &ac
}

func (ac *AtomicClock) Val() uint64 {
	return ac.v.Load()
}

// Next advances the sequence and returns the new value.
func (ac *AtomicClock) Next() uint64 {
	return ac.v.Add(1)
}

// Observe raises the sequence to seen if it is behind, so the next value handed out is newer
// than anything observed. It reports whether the sequence moved.
func (ac *AtomicClock) Observe(seen uint64) bool {
	for {
		cur := ac.v.Load()
		if seen <= cur {
			return false
		}
		if ac.v.CompareAndSwap(cur, seen) {
			return true
		}
	}
}
