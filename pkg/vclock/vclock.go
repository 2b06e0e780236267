// Package vclock implements the causal clock attached to every versioned metadata value.
//
// A Clock maps writer identities to counters. Clocks are values: every operation returns a new
// Clock and never mutates its receiver, so clocks may be shared freely between snapshots.
package vclock

import (
	"fmt"
	"sort"
	"strings"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
)

// Ordering is the causal relation between two clocks.
type Ordering uint8

const (
	Equal Ordering = iota
	Dominates
	Dominated
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case Dominated:
		return "dominated"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", uint8(o))
	}
}

// Clock is an immutable writer -> counter mapping. The zero Clock is empty and valid.
// Writers with a zero counter are never stored.
type Clock struct {
	counters map[types.NodeID]uint64
}

// New builds a clock from explicit counters; zero counters are dropped.
func New(counters map[types.NodeID]uint64) Clock {
	c := Clock{counters: make(map[types.NodeID]uint64, len(counters))}
	for w, n := range counters {
		if n > 0 {
			c.counters[w] = n
		}
	}
	return c
}

// Get returns the writer's counter, 0 for a writer the clock has never seen.
func (c Clock) Get(writer types.NodeID) uint64 {
	return c.counters[writer]
}

func (c Clock) Len() int {
	return len(c.counters)
}

func (c Clock) IsZero() bool {
	return len(c.counters) == 0
}

// Writers returns writer identities in ascending order.
func (c Clock) Writers() []types.NodeID {
	ws := make([]types.NodeID, 0, len(c.counters))
	for w := range c.counters {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	return ws
}

// Advance returns a copy of c with the writer's counter incremented by one.
// A writer never seen before starts from zero, so its first advance yields 1.
func (c Clock) Advance(writer types.NodeID) Clock {
	next := c.copy(1)
	next.counters[writer] = c.counters[writer] + 1
	return next
}

// Merge returns the pointwise maximum of both clocks.
func (c Clock) Merge(other Clock) Clock {
	merged := c.copy(len(other.counters))
	for w, n := range other.counters {
		if n > merged.counters[w] {
			merged.counters[w] = n
		}
	}
	return merged
}

// Compare reports how c relates to other over the union of their writers.
func (c Clock) Compare(other Clock) Ordering {
	greater, less := false, false

	for w, n := range c.counters {
		switch o := other.counters[w]; {
		case n > o:
			greater = true
		case n < o:
			less = true
		}
	}
	for w, n := range other.counters {
		if _, ok := c.counters[w]; !ok && n > 0 {
			less = true
		}
	}

	switch {
	case greater && less:
		return Concurrent
	case greater:
		return Dominates
	case less:
		return Dominated
	default:
		return Equal
	}
}

// Equal reports whether both clocks hold the same counters.
func (c Clock) Equal(other Clock) bool {
	return c.Compare(other) == Equal
}

// String renders the clock as {n1:1, n2:3} with writers sorted.
func (c Clock) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, w := range c.Writers() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%d", w, c.counters[w])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Counters returns a copy of the underlying mapping.
func (c Clock) Counters() map[types.NodeID]uint64 {
	return c.copy(0).counters
}

func (c Clock) copy(extra int) Clock {
	cp := Clock{counters: make(map[types.NodeID]uint64, len(c.counters)+extra)}
	for w, n := range c.counters {
		cp.counters[w] = n
	}
	return cp
}

// MarshalValue encodes the clock as a list of (writer, counter) pairs sorted by writer.
func (c Clock) MarshalValue() custom.Value {
	items := make([]custom.Value, 0, len(c.counters))
	for _, w := range c.Writers() {
		items = append(items, custom.Message(custom.String(string(w)), custom.Uint64(c.counters[w])))
	}
	return custom.List(items...)
}

// UnmarshalValue is the inverse of MarshalValue. It rejects unsorted or duplicate writers and
// zero counters so that every accepted encoding re-encodes to the same bytes.
func UnmarshalValue(v custom.Value) (Clock, error) {
	items, err := v.AsList()
	if err != nil {
		return Clock{}, fmt.Errorf("clock: %w", err)
	}

	c := Clock{counters: make(map[types.NodeID]uint64, len(items))}
	var prev string
	for i, item := range items {
		fields, err := item.AsMessage(2)
		if err != nil {
			return Clock{}, fmt.Errorf("clock entry %d: %w", i, err)
		}
		w, err := fields[0].AsString()
		if err != nil {
			return Clock{}, fmt.Errorf("clock entry %d writer: %w", i, err)
		}
		n, err := fields[1].AsUint64()
		if err != nil {
			return Clock{}, fmt.Errorf("clock entry %d counter: %w", i, err)
		}
		if n == 0 {
			return Clock{}, &custom.DecodeError{Message: fmt.Sprintf("clock entry %d: zero counter", i)}
		}
		if i > 0 && w <= prev {
			return Clock{}, &custom.DecodeError{Message: fmt.Sprintf("clock entry %d: writers not strictly sorted", i)}
		}
		prev = w
		c.counters[types.NodeID(w)] = n
	}
	return c, nil
}

// Encode returns the framed encoding of the clock.
func (c Clock) Encode() ([]byte, error) {
	return custom.Frame(c.MarshalValue())
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Clock, error) {
	v, err := custom.Unframe(data)
	if err != nil {
		return Clock{}, err
	}
	return UnmarshalValue(v)
}
