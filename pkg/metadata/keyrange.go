package metadata

import (
	"fmt"
	"sort"

	"nsmeta/pkg/encoding/custom"
)

// KeyRange is the half-open key interval [Left, Right). With Unbounded set the range extends
// to the end of the key space and Right is ignored.
type KeyRange struct {
	Left      string `json:"left"`
	Right     string `json:"right,omitempty"`
	Unbounded bool   `json:"unbounded,omitempty"`
}

// Universe covers every key.
func Universe() KeyRange {
	return KeyRange{Unbounded: true}
}

func (r KeyRange) normalized() KeyRange {
	if r.Unbounded {
		r.Right = ""
	}
	return r
}

func (r KeyRange) Valid() bool {
	return r.Unbounded || r.Left < r.Right
}

func (r KeyRange) Contains(key string) bool {
	return key >= r.Left && (r.Unbounded || key < r.Right)
}

func (r KeyRange) Overlaps(other KeyRange) bool {
	return r.before(other.Left) && other.before(r.Left)
}

// before reports whether key is below the right bound.
func (r KeyRange) before(key string) bool {
	return r.Unbounded || key < r.Right
}

// Less orders ranges by left bound, then by right bound with unbounded last.
func (r KeyRange) Less(other KeyRange) bool {
	if r.Left != other.Left {
		return r.Left < other.Left
	}
	if r.Unbounded != other.Unbounded {
		return other.Unbounded
	}
	return !r.Unbounded && r.Right < other.Right
}

func (r KeyRange) String() string {
	if r.Unbounded {
		return fmt.Sprintf("[%q, +inf)", r.Left)
	}
	return fmt.Sprintf("[%q, %q)", r.Left, r.Right)
}

func (r KeyRange) MarshalValue() custom.Value {
	r = r.normalized()
	return custom.Message(custom.String(r.Left), custom.String(r.Right), custom.Bool(r.Unbounded))
}

func UnmarshalKeyRange(v custom.Value) (KeyRange, error) {
	fields, err := v.AsMessage(3)
	if err != nil {
		return KeyRange{}, fmt.Errorf("key range: %w", err)
	}
	var r KeyRange
	if r.Left, err = fields[0].AsString(); err != nil {
		return KeyRange{}, fmt.Errorf("key range left: %w", err)
	}
	if r.Right, err = fields[1].AsString(); err != nil {
		return KeyRange{}, fmt.Errorf("key range right: %w", err)
	}
	if r.Unbounded, err = fields[2].AsBool(); err != nil {
		return KeyRange{}, fmt.Errorf("key range unbounded: %w", err)
	}
	return r, nil
}

// checkDisjoint normalizes and sorts ranges in place and verifies they are valid and
// pairwise disjoint.
func checkDisjoint(ranges []KeyRange) error {
	for i := range ranges {
		ranges[i] = ranges[i].normalized()
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Less(ranges[j]) })
	for i, r := range ranges {
		if !r.Valid() {
			return fmt.Errorf("empty range %s", r)
		}
		if i > 0 && ranges[i-1].Overlaps(r) {
			return fmt.Errorf("range %s overlaps %s", ranges[i-1], r)
		}
	}
	return nil
}

// checkPartition verifies that sorted ranges cover the key space without gaps or overlaps.
func checkPartition(ranges []KeyRange) error {
	if len(ranges) == 0 {
		return fmt.Errorf("no ranges")
	}
	if ranges[0].Left != "" {
		return fmt.Errorf("first range starts at %q, not at the beginning of the key space", ranges[0].Left)
	}
	for i := 1; i < len(ranges); i++ {
		prev := ranges[i-1]
		if prev.Unbounded || prev.Right != ranges[i].Left {
			return fmt.Errorf("range %s is not followed by %s", prev, ranges[i])
		}
	}
	if !ranges[len(ranges)-1].Unbounded {
		return fmt.Errorf("last range %s does not reach the end of the key space", ranges[len(ranges)-1])
	}
	return nil
}
