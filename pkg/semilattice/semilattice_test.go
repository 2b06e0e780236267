package semilattice

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/types"
	"nsmeta/pkg/vclock"

	"github.com/stretchr/testify/require"
)

type str string

func (s str) MarshalValue() custom.Value { return custom.String(string(s)) }

func decodeStr(v custom.Value) (str, error) {
	s, err := v.AsString()
	return str(s), err
}

type cell = Versioned[str]

func clk(pairs ...any) vclock.Clock {
	m := map[types.NodeID]uint64{}
	for i := 0; i < len(pairs); i += 2 {
		m[types.NodeID(pairs[i].(string))] = uint64(pairs[i+1].(int))
	}
	return vclock.New(m)
}

func mustJoin[T Lattice[T]](t *testing.T, a, b T) T {
	t.Helper()
	j, err := a.Join(b)
	require.NoError(t, err)
	return j
}

func TestConcurrentNameResolvesDeterministically(t *testing.T) {
	users := At(clk("n1", 1), str("users"))
	accounts := At(clk("n2", 1), str("accounts"))

	ab := mustJoin(t, users, accounts)
	ba := mustJoin(t, accounts, users)

	require.True(t, ab.Equal(ba))
	require.Equal(t, str("users"), ab.Value())
	require.True(t, ab.Clock().Equal(clk("n1", 1, "n2", 1)), "clock %s", ab.Clock())
	require.True(t, ab.Conflicted())
	require.ElementsMatch(t, []str{"users", "accounts"}, ab.Candidates())
}

func TestConcurrentSameValueIsNotAConflict(t *testing.T) {
	j := mustJoin(t, At(clk("n1", 1), str("users")), At(clk("n2", 1), str("users")))
	require.False(t, j.Conflicted())
	require.Equal(t, []str{"users"}, j.Candidates())
	require.True(t, j.Clock().Equal(clk("n1", 1, "n2", 1)))
}

func TestOrderKeyNotWireBytes(t *testing.T) {
	// длина префикса не должна влиять на выбор
	long := At(clk("n1", 1), str("zz"))
	short := At(clk("n2", 1), str("aaaaaaaa"))
	require.Equal(t, str("zz"), mustJoin(t, long, short).Value())
}

func TestDominatingWriteReplaces(t *testing.T) {
	old := At(clk("n1", 1), str("a"))
	newer := old.Update(vclock.Clock{}, "n2", str("b"))

	require.Equal(t, vclock.Dominates, newer.Clock().Compare(old.Clock()))
	for _, j := range []cell{mustJoin(t, old, newer), mustJoin(t, newer, old)} {
		require.Equal(t, str("b"), j.Value())
		require.False(t, j.Conflicted())
		require.True(t, j.Clock().Equal(clk("n1", 1, "n2", 1)))
	}
}

func TestNextWriteCollapsesConflict(t *testing.T) {
	j := mustJoin(t, At(clk("n1", 1), str("x")), At(clk("n2", 1), str("y")))
	require.True(t, j.Conflicted())

	next := j.Update(vclock.Clock{}, "n3", str("z"))
	require.False(t, next.Conflicted())
	require.True(t, next.Clock().Equal(clk("n1", 1, "n2", 1, "n3", 1)))

	merged := mustJoin(t, j, next)
	require.Equal(t, str("z"), merged.Value())
	require.False(t, merged.Conflicted())
}

func TestUpdateMergesContext(t *testing.T) {
	c := At(clk("n1", 1), str("a"))
	ctx := clk("n1", 1, "n2", 4)
	got := c.Update(ctx, "n2", str("b"))
	require.True(t, got.Clock().Equal(clk("n1", 1, "n2", 5)), "clock %s", got.Clock())
}

func TestEqualClocksDifferentValues(t *testing.T) {
	a := At(clk("n1", 1), str("a"))
	b := At(clk("n1", 1), str("b"))

	_, err := a.Join(b)
	require.ErrorIs(t, err, ErrDataIntegrity)

	var die *DataIntegrityError
	require.True(t, errors.As(err, &die))
	require.True(t, die.Clock.Equal(clk("n1", 1)))

	// the same clash hidden behind a third concurrent version
	c := At(clk("n2", 1), str("c"))
	_, err = mustJoin(t, a, c).Join(b)
	require.ErrorIs(t, err, ErrDataIntegrity)

	same, err := a.Join(At(clk("n1", 1), str("a")))
	require.NoError(t, err)
	require.True(t, same.Equal(a))
}

func TestZeroCellIsIdentity(t *testing.T) {
	a := At(clk("n1", 2), str("a"))
	require.True(t, mustJoin(t, cell{}, a).Equal(a))
	require.True(t, mustJoin(t, a, cell{}).Equal(a))
	require.True(t, cell{}.IsZero())
	require.Equal(t, str(""), cell{}.Value())
}

func TestThreeWayConcurrencyIsAssociative(t *testing.T) {
	x := At(clk("x", 1), str("zzz"))
	z := At(clk("z", 1), str("b"))
	xy := At(clk("x", 1, "y", 1), str("a"))

	require.NoError(t, CheckAssociative(x, z, xy))
	require.NoError(t, CheckAssociative(z, xy, x))

	j := mustJoin(t, mustJoin(t, x, z), xy)
	require.Equal(t, str("b"), j.Value())
	require.True(t, j.Clock().Equal(clk("x", 1, "y", 1, "z", 1)))
}

func TestVersionedJoinLaws(t *testing.T) {
	pool := simulateCells(rand.New(rand.NewSource(21)), 300)
	rng := rand.New(rand.NewSource(22))
	for i := 0; i < 1000; i++ {
		a, b, c := pick(rng, pool), pick(rng, pool), pick(rng, pool)
		require.NoError(t, CheckJoinLaws(a, b))
		require.NoError(t, CheckAssociative(a, b, c))
	}
}

func TestVersionedRoundTrip(t *testing.T) {
	for _, c := range simulateCells(rand.New(rand.NewSource(4)), 100) {
		b, err := custom.Frame(c.MarshalValue())
		require.NoError(t, err)

		v, err := custom.Unframe(b)
		require.NoError(t, err)
		got, err := UnmarshalVersioned(v, decodeStr)
		require.NoError(t, err)
		require.True(t, got.Equal(c))

		again, err := custom.Frame(got.MarshalValue())
		require.NoError(t, err)
		require.Equal(t, b, again)
	}
}

func TestUnmarshalVersionedRejectsComparableVersions(t *testing.T) {
	bad := custom.List(
		custom.Message(clk("n1", 1).MarshalValue(), custom.String("a")),
		custom.Message(clk("n1", 2).MarshalValue(), custom.String("b")),
	)
	_, err := UnmarshalVersioned(bad, decodeStr)
	var de *custom.DecodeError
	require.True(t, errors.As(err, &de), "got %v", err)

	empty := custom.List(custom.Message(custom.List(), custom.String("a")))
	_, err = UnmarshalVersioned(empty, decodeStr)
	require.True(t, errors.As(err, &de), "got %v", err)
}

type slot = Deletable[cell]

func setName(writer types.NodeID, name str) func(vclock.Clock, cell) (cell, error) {
	return func(ctx vclock.Clock, inner cell) (cell, error) {
		return inner.Update(ctx, writer, name), nil
	}
}

func TestDeleteWinsOverConcurrentUpdate(t *testing.T) {
	base := mustJoin(t,
		NewLive(At(clk("n1", 1), str("users"))),
		NewLive(At(clk("n2", 1), str("accounts"))))
	require.True(t, base.Clock().Equal(clk("n1", 1, "n2", 1)))

	deleted := base.Delete("n1")
	require.True(t, deleted.Tombstoned())
	require.True(t, deleted.DeletedAt().Equal(clk("n1", 2, "n2", 1)))

	updated, err := base.Edit("n2", setName("n2", "people"))
	require.NoError(t, err)
	inner, ok := updated.Inner()
	require.True(t, ok)
	require.True(t, inner.Clock().Equal(clk("n1", 1, "n2", 2)), "clock %s", inner.Clock())

	for _, j := range []slot{mustJoin(t, deleted, updated), mustJoin(t, updated, deleted)} {
		require.True(t, j.Tombstoned())
		require.True(t, j.Clock().Equal(clk("n1", 2, "n2", 2)), "clock %s", j.Clock())
		_, ok := j.Inner()
		require.False(t, ok)
	}
}

func TestInformedUpdateUndeletes(t *testing.T) {
	s := NewLive(At(clk("n1", 1), str("users")))
	deleted := s.Delete("n2")

	revived, err := deleted.Edit("n1", setName("n1", "again"))
	require.NoError(t, err)
	require.False(t, revived.Tombstoned())
	require.Equal(t, vclock.Dominates, revived.LiveClock().Compare(revived.DeletedAt()))

	for _, j := range []slot{mustJoin(t, deleted, revived), mustJoin(t, revived, deleted)} {
		inner, ok := j.Inner()
		require.True(t, ok)
		require.Equal(t, str("again"), inner.Value())
	}
}

func TestEarlierUpdateStaysDeleted(t *testing.T) {
	s := NewLive(At(clk("n1", 1), str("users")))
	renamed, err := s.Edit("n1", setName("n1", "people"))
	require.NoError(t, err)

	deleted := renamed.Delete("n2")
	j := mustJoin(t, s, mustJoin(t, deleted, renamed))
	require.True(t, j.Tombstoned())
	require.True(t, j.Equal(mustJoin(t, deleted, renamed)))
}

func TestBothTombstonesMergeClocks(t *testing.T) {
	s := NewLive(At(clk("n1", 1), str("users")))
	a, b := s.Delete("n1"), s.Delete("n2")

	j := mustJoin(t, a, b)
	require.True(t, j.Tombstoned())
	require.True(t, j.DeletedAt().Equal(clk("n1", 2, "n2", 1)))
}

// надгробие продолжает вливать inner: иначе порядок слияний менял бы результат
func TestTombstoneKeepsJoiningInner(t *testing.T) {
	x := NewLive(At(clk("n1", 1), str("users")))
	a := x.Delete("n2")
	y := NewLive(At(clk("n3", 1), str("people")))

	left := mustJoin(t, mustJoin(t, x, a), y)
	right := mustJoin(t, x, mustJoin(t, a, y))
	require.True(t, left.Equal(right), "%s vs %s", left, right)
	require.True(t, left.Tombstoned())

	// информированная правка поднимает запись, старые версии её не перекрывают
	revived, err := left.Edit("n1", setName("n1", "orders"))
	require.NoError(t, err)
	inner, ok := revived.Inner()
	require.True(t, ok)
	require.Equal(t, str("orders"), inner.Value())
	require.False(t, inner.Conflicted())
}

func TestDeletableJoinLaws(t *testing.T) {
	pool := simulateSlots(rand.New(rand.NewSource(31)), 300)
	rng := rand.New(rand.NewSource(32))
	for i := 0; i < 1000; i++ {
		a, b, c := pick(rng, pool), pick(rng, pool), pick(rng, pool)
		require.NoError(t, CheckJoinLaws(a, b))
		require.NoError(t, CheckAssociative(a, b, c))
	}
}

func TestDeletableRoundTrip(t *testing.T) {
	decode := func(v custom.Value) (cell, error) { return UnmarshalVersioned(v, decodeStr) }
	for _, s := range simulateSlots(rand.New(rand.NewSource(8)), 100) {
		b, err := custom.Frame(s.MarshalValue())
		require.NoError(t, err)

		v, err := custom.Unframe(b)
		require.NoError(t, err)
		got, err := UnmarshalDeletable(v, decode)
		require.NoError(t, err)
		require.True(t, got.Equal(s))
		require.Equal(t, s.Tombstoned(), got.Tombstoned())
	}
}

func TestCheckJoinLawsReportsBrokenJoin(t *testing.T) {
	err := CheckJoinLaws(leftBiased{"a"}, leftBiased{"b"})
	require.ErrorIs(t, err, ErrJoinLawViolation)
}

// leftBiased keeps its receiver: idempotent but not commutative.
type leftBiased struct{ v string }

func (l leftBiased) Join(leftBiased) (leftBiased, error) { return l, nil }
func (l leftBiased) MarshalValue() custom.Value          { return custom.String(l.v) }
func (l leftBiased) Clock() vclock.Clock                 { return vclock.Clock{} }
func (l leftBiased) Equal(o leftBiased) bool             { return l == o }

var writers = []types.NodeID{"n1", "n2", "n3"}

// simulateCells plays random writes and merges on one cell per writer and returns every
// intermediate state. A writer only writes on top of its own state, as nodes do.
func simulateCells(rng *rand.Rand, steps int) []cell {
	states := make([]cell, len(writers))
	var out []cell
	for i := 0; i < steps; i++ {
		n := rng.Intn(len(writers))
		if rng.Intn(2) == 0 {
			states[n] = states[n].Update(vclock.Clock{}, writers[n], randomName(rng))
		} else {
			j, err := states[n].Join(states[rng.Intn(len(writers))])
			if err != nil {
				panic(err)
			}
			states[n] = j
		}
		out = append(out, states[n])
	}
	return out
}

func simulateSlots(rng *rand.Rand, steps int) []slot {
	states := make([]slot, len(writers))
	var out []slot
	for i := 0; i < steps; i++ {
		n := rng.Intn(len(writers))
		w := writers[n]
		switch rng.Intn(4) {
		case 0:
			states[n] = states[n].Delete(w)
		case 1:
			next, err := states[n].Edit(w, setName(w, randomName(rng)))
			if err != nil {
				panic(err)
			}
			states[n] = next
		default:
			j, err := states[n].Join(states[rng.Intn(len(writers))])
			if err != nil {
				panic(err)
			}
			states[n] = j
		}
		out = append(out, states[n])
	}
	return out
}

func randomName(rng *rand.Rand) str {
	return str(fmt.Sprintf("t%d", rng.Intn(6)))
}

func pick[T any](rng *rand.Rand, pool []T) T {
	return pool[rng.Intn(len(pool))]
}
