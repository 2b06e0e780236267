// Package directory keeps what every node currently announces about the tables it serves.
//
// Announcements are not merged: the newest announcement of an origin for a table replaces the
// previous one. Each origin orders its own announcements with a local sequence; sequences of
// different origins are never compared.
package directory

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"nsmeta/pkg/clock"
	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
)

// Key addresses one announcement.
type Key struct {
	Origin types.NodeID
	Table  types.NamespaceID
}

func (k Key) less(other Key) bool {
	if k.Origin != other.Origin {
		return k.Origin < other.Origin
	}
	return bytes.Compare(k.Table[:], other.Table[:]) < 0
}

// Announcement is the latest payload an origin published for a table.
// Payload is shared between readers and must not be modified.
type Announcement struct {
	Origin  types.NodeID
	Table   types.NamespaceID
	Seq     types.SeqN
	Payload []byte
}

func (a Announcement) Key() Key {
	return Key{Origin: a.Origin, Table: a.Table}
}

type store = skipmap.FuncMap[Key, Announcement]

// Directory is safe for concurrent use. Reads are lock-free; writers are serialized so that the
// stale check in Observe and the replacement happen together.
type Directory struct {
	mu      sync.Mutex
	entries *store
	seqs    *skipmap.FuncMap[types.NodeID, *clock.AtomicClock]
}

func New() *Directory {
	return &Directory{
		entries: skipmap.NewFunc[Key, Announcement](func(a, b Key) bool { return a.less(b) }),
		seqs: skipmap.NewFunc[types.NodeID, *clock.AtomicClock](func(a, b types.NodeID) bool {
			return a < b
		}),
	}
}

func (d *Directory) sequence(origin types.NodeID) *clock.AtomicClock {
	seq, _ := d.seqs.LoadOrStoreLazy(origin, func() *clock.AtomicClock { return clock.NewAtomic(0) })
	return seq
}

// Publish replaces the announcement of origin for table unconditionally and stamps it with the
// origin's next sequence number. The payload is copied once and shared from then on.
func (d *Directory) Publish(origin types.NodeID, table types.NamespaceID, payload []byte) Announcement {
	d.mu.Lock()
	defer d.mu.Unlock()

	a := Announcement{
		Origin:  origin,
		Table:   table,
		Seq:     d.sequence(origin).Next(),
		Payload: bytes.Clone(payload),
	}
	d.entries.Store(a.Key(), a)
	return a
}

// Observe stores an announcement received from another node unless an announcement of the same
// origin and table with an equal or newer sequence is already known. It reports whether the
// announcement was stored.
func (d *Directory) Observe(a Announcement) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.entries.Load(a.Key()); ok && cur.Seq >= a.Seq {
		return false
	}
	d.sequence(a.Origin).Observe(a.Seq)
	d.entries.Store(a.Key(), a)
	return true
}

// Reclaim handles an echo of one of the local node's own announcements. The origin's sequence
// catches up with the echo, and the local announcement for the same table is stamped past it if
// the echo would otherwise shadow it at peers. This happens after a restart, when the sequence
// starts from zero again. The echo itself is never stored. Reclaim reports whether the local
// announcement was restamped.
func (d *Directory) Reclaim(a Announcement) (Announcement, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq := d.sequence(a.Origin)
	seq.Observe(a.Seq)

	cur, ok := d.entries.Load(a.Key())
	if !ok || cur.Seq > a.Seq || (cur.Seq == a.Seq && bytes.Equal(cur.Payload, a.Payload)) {
		return cur, false
	}
	cur.Seq = seq.Next()
	d.entries.Store(cur.Key(), cur)
	return cur, true
}

// Withdraw removes the announcement of origin for table.
func (d *Directory) Withdraw(origin types.NodeID, table types.NamespaceID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.entries.LoadAndDelete(Key{Origin: origin, Table: table})
	return ok
}

// DropOrigin forgets every announcement of origin, typically after the membership layer reported
// the node gone. It returns the number of removed announcements.
func (d *Directory) DropOrigin(origin types.NodeID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var keys []Key
	d.entries.Range(func(k Key, _ Announcement) bool {
		if k.Origin == origin {
			keys = append(keys, k)
		}
		return true
	})
	for _, k := range keys {
		d.entries.Delete(k)
	}
	return len(keys)
}

func (d *Directory) Lookup(origin types.NodeID, table types.NamespaceID) (Announcement, bool) {
	return d.entries.Load(Key{Origin: origin, Table: table})
}

// Range calls fn for every announcement ordered by origin, then table, until fn returns false.
func (d *Directory) Range(fn func(Announcement) bool) {
	d.entries.Range(func(_ Key, a Announcement) bool {
		return fn(a)
	})
}

// ForTable returns the announcements of all origins for one table.
func (d *Directory) ForTable(table types.NamespaceID) []Announcement {
	var out []Announcement
	d.Range(func(a Announcement) bool {
		if a.Table == table {
			out = append(out, a)
		}
		return true
	})
	return out
}

// FromOrigin returns the announcements of one origin ordered by table.
func (d *Directory) FromOrigin(origin types.NodeID) []Announcement {
	var out []Announcement
	d.Range(func(a Announcement) bool {
		if a.Origin == origin {
			out = append(out, a)
		}
		return true
	})
	return out
}

func (d *Directory) Len() int {
	return d.entries.Len()
}

func (a Announcement) MarshalValue() custom.Value {
	return custom.Message(
		custom.String(string(a.Origin)),
		custom.Bytes(a.Table[:]),
		custom.Uint64(a.Seq),
		custom.Bytes(a.Payload),
	)
}

func UnmarshalAnnouncement(v custom.Value) (Announcement, error) {
	fields, err := v.AsMessage(4)
	if err != nil {
		return Announcement{}, fmt.Errorf("announcement: %w", err)
	}
	origin, err := fields[0].AsString()
	if err != nil {
		return Announcement{}, fmt.Errorf("announcement origin: %w", err)
	}
	tb, err := fields[1].AsBytes()
	if err != nil {
		return Announcement{}, fmt.Errorf("announcement table: %w", err)
	}
	if len(tb) != len(types.NamespaceID{}) {
		return Announcement{}, &custom.DecodeError{Message: fmt.Sprintf("announcement table: %d bytes", len(tb))}
	}
	seq, err := fields[2].AsUint64()
	if err != nil {
		return Announcement{}, fmt.Errorf("announcement seq: %w", err)
	}
	payload, err := fields[3].AsBytes()
	if err != nil {
		return Announcement{}, fmt.Errorf("announcement payload: %w", err)
	}

	a := Announcement{Origin: types.NodeID(origin), Seq: seq, Payload: bytes.Clone(payload)}
	copy(a.Table[:], tb)
	return a, nil
}

// EncodeAnnouncements returns the framed encoding of a batch of announcements.
func EncodeAnnouncements(as []Announcement) ([]byte, error) {
	items := make([]custom.Value, len(as))
	for i, a := range as {
		items[i] = a.MarshalValue()
	}
	return custom.Frame(custom.List(items...))
}

func DecodeAnnouncements(data []byte) ([]Announcement, error) {
	v, err := custom.Unframe(data)
	if err != nil {
		return nil, err
	}
	items, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("announcements: %w", err)
	}
	out := make([]Announcement, len(items))
	for i, item := range items {
		if out[i], err = UnmarshalAnnouncement(item); err != nil {
			return nil, fmt.Errorf("announcement %d: %w", i, err)
		}
	}
	return out, nil
}
