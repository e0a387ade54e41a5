package queue

import (
	"math/rand"
	"testing"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

func items(ids ...int64) []types.PlaybackItem {
	out := make([]types.PlaybackItem, len(ids))
	for i, id := range ids {
		out[i] = types.PlaybackItem{ID: id, Source: types.SourceLocal, SourceTrackID: string(rune('a' + id))}
	}
	return out
}

func ids(q *Queue) []int64 {
	out := make([]int64, q.Len())
	for i, item := range q.Items() {
		out[i] = item.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew(t *testing.T) {
	q := New()
	if q.Index() != -1 {
		t.Errorf("Expected index -1, got %d", q.Index())
	}
	if q.Len() != 0 {
		t.Errorf("Expected size 0, got %d", q.Len())
	}
	if _, ok := q.Current(); ok {
		t.Error("Expected no current item")
	}
}

func TestReplaceClampsStart(t *testing.T) {
	tests := []struct {
		name  string
		start int
		want  int
	}{
		{"in range", 1, 1},
		{"negative", -4, 0},
		{"past end", 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			if got := q.Replace(items(1, 2, 3), tt.start); got != tt.want {
				t.Errorf("Replace start %d: expected %d, got %d", tt.start, tt.want, got)
			}
		})
	}

	q := New()
	if got := q.Replace(nil, 0); got != -1 {
		t.Errorf("Expected -1 for empty queue, got %d", got)
	}
}

func TestReplaceCopiesItems(t *testing.T) {
	src := items(1, 2)
	q := New()
	q.Replace(src, 0)
	src[0].Title = "changed"

	got, _ := q.At(0)
	if got.Title == "changed" {
		t.Error("Queue entries should be copies")
	}
}

func TestInsertNext(t *testing.T) {
	q := New()
	q.Replace(items(1, 2, 3), 1)

	at := q.InsertNext(items(5))
	if at != 2 {
		t.Errorf("Expected insert at 2, got %d", at)
	}
	if !equalIDs(ids(q), []int64{1, 2, 5, 3}) {
		t.Errorf("Unexpected order %v", ids(q))
	}
	if q.Index() != 1 {
		t.Errorf("Current index should stay 1, got %d", q.Index())
	}
}

func TestInsertNextWithoutCurrent(t *testing.T) {
	q := New()
	at := q.InsertNext(items(1, 2))
	if at != 0 || q.Index() != -1 {
		t.Errorf("Expected insert at 0 with no current, got at=%d index=%d", at, q.Index())
	}
}

func TestAppend(t *testing.T) {
	q := New()
	q.Replace(items(1), 0)
	at := q.Append(items(2, 3))
	if at != 1 {
		t.Errorf("Expected append at 1, got %d", at)
	}
	if q.Len() != 3 {
		t.Errorf("Expected size 3, got %d", q.Len())
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		name      string
		from      []int
		to        int
		current   int
		wantOrder []int64
		wantIndex int
	}{
		{"down past current", []int{0}, 3, 1, []int64{1, 2, 0, 3}, 0},
		{"current moves up", []int{2}, 0, 2, []int64{2, 0, 1, 3}, 0},
		{"current moves to end", []int{1}, 4, 1, []int64{0, 2, 3, 1}, 3},
		{"multiple offsets", []int{0, 2}, 4, 3, []int64{1, 3, 0, 2}, 1},
		{"no-op", []int{1}, 1, 1, []int64{0, 1, 2, 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			q.Replace(items(0, 1, 2, 3), tt.current)
			if !q.Move(tt.from, tt.to) {
				t.Fatal("Move returned false")
			}
			if !equalIDs(ids(q), tt.wantOrder) {
				t.Errorf("Expected %v, got %v", tt.wantOrder, ids(q))
			}
			if q.Index() != tt.wantIndex {
				t.Errorf("Expected index %d, got %d", tt.wantIndex, q.Index())
			}
		})
	}
}

func TestMoveKeepsCurrentIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(8)
		all := make([]int64, n)
		for i := range all {
			all[i] = int64(i)
		}
		q := New()
		cur := q.Replace(items(all...), rng.Intn(n))
		before, _ := q.At(cur)

		from := []int{rng.Intn(n)}
		if n > 2 && rng.Intn(2) == 0 {
			from = append(from, rng.Intn(n))
		}
		to := rng.Intn(n + 1)

		if !q.Move(from, to) {
			t.Fatalf("Move(%v, %d) failed on %d items", from, to, n)
		}
		after, ok := q.Current()
		if !ok || after.ID != before.ID {
			t.Fatalf("Move(%v, %d): current changed from %d to %d", from, to, before.ID, after.ID)
		}
		if q.Len() != n {
			t.Fatalf("Move changed length")
		}
	}
}

func TestMoveRejectsBadOffsets(t *testing.T) {
	q := New()
	q.Replace(items(0, 1), 0)
	if q.Move([]int{5}, 0) {
		t.Error("Expected out of range offset to fail")
	}
	if q.Move([]int{0}, 3) {
		t.Error("Expected out of range destination to fail")
	}
	if q.Move(nil, 0) {
		t.Error("Expected empty offsets to fail")
	}
}

func TestRemoveAt(t *testing.T) {
	t.Run("current", func(t *testing.T) {
		q := New()
		q.Replace(items(1, 2, 3), 1)
		r, ok := q.RemoveAt(1)
		if !ok || !r.CurrentRemoved {
			t.Fatalf("Expected current removal, got %+v", r)
		}
		cur, _ := q.Current()
		if cur.ID != 3 || q.Index() != 1 {
			t.Errorf("Expected item 3 at index 1, got %d at %d", cur.ID, q.Index())
		}
	})

	t.Run("current last", func(t *testing.T) {
		q := New()
		q.Replace(items(1, 2, 3), 2)
		q.RemoveAt(2)
		if q.Index() != 1 {
			t.Errorf("Expected index 1, got %d", q.Index())
		}
	})

	t.Run("before current", func(t *testing.T) {
		q := New()
		q.Replace(items(1, 2, 3), 2)
		r, _ := q.RemoveAt(0)
		if r.CurrentRemoved {
			t.Error("Current should not be reported removed")
		}
		if q.Index() != 1 {
			t.Errorf("Expected index 1, got %d", q.Index())
		}
	})

	t.Run("only item", func(t *testing.T) {
		q := New()
		q.Replace(items(1), 0)
		q.RemoveAt(0)
		if q.Index() != -1 {
			t.Errorf("Expected -1, got %d", q.Index())
		}
	})

	t.Run("out of range", func(t *testing.T) {
		q := New()
		if _, ok := q.RemoveAt(0); ok {
			t.Error("Expected failure on empty queue")
		}
	})
}

func TestRemoveTrack(t *testing.T) {
	q := New()
	q.Replace(items(1, 2, 1, 3, 1, 4), 3)

	r := q.RemoveTrack(1)
	if r.Removed != 3 || r.CurrentRemoved {
		t.Errorf("Unexpected removal %+v", r)
	}
	if !equalIDs(ids(q), []int64{2, 3, 4}) {
		t.Errorf("Unexpected order %v", ids(q))
	}
	cur, _ := q.Current()
	if cur.ID != 3 {
		t.Errorf("Expected current 3, got %d", cur.ID)
	}

	q.Replace(items(1, 2, 1, 3), 2)
	r = q.RemoveTrack(1)
	if !r.CurrentRemoved {
		t.Error("Expected current removed")
	}
	cur, _ = q.Current()
	if cur.ID != 3 {
		t.Errorf("Expected current to advance to 3, got %d", cur.ID)
	}

	if r := q.RemoveTrack(99); r.Removed != 0 {
		t.Error("Unknown track should remove nothing")
	}
}

func TestNextIndex(t *testing.T) {
	q := New()
	q.Replace(items(1, 2, 3), 2)
	rng := rand.New(rand.NewSource(1))

	if _, ok := q.NextIndex(types.RepeatOff, false, rng); ok {
		t.Error("Expected end of queue without repeat")
	}
	if _, ok := q.NextIndex(types.RepeatOne, false, rng); ok {
		t.Error("RepeatOne does not wrap on explicit next")
	}
	if i, ok := q.NextIndex(types.RepeatAll, false, rng); !ok || i != 0 {
		t.Errorf("Expected wrap to 0, got %d %v", i, ok)
	}

	for n := 0; n < 100; n++ {
		i, ok := q.NextIndex(types.RepeatOff, true, rng)
		if !ok || i == 2 || i < 0 || i > 2 {
			t.Fatalf("Shuffle picked %d", i)
		}
	}
}

func TestPrevIndex(t *testing.T) {
	q := New()
	q.Replace(items(1, 2, 3), 0)

	if _, ok := q.PrevIndex(types.RepeatOff); ok {
		t.Error("Expected no previous at index 0")
	}
	if i, ok := q.PrevIndex(types.RepeatAll); !ok || i != 2 {
		t.Errorf("Expected wrap to 2, got %d", i)
	}
	q.SetIndex(2)
	if i, _ := q.PrevIndex(types.RepeatOff); i != 1 {
		t.Errorf("Expected 1, got %d", i)
	}
}

func TestIndexOf(t *testing.T) {
	q := New()
	q.Replace(items(1, 2, 3), 0)
	if i := q.IndexOf(types.ItemKey{Source: types.SourceLocal, SourceTrackID: string(rune('a' + 3))}); i != 2 {
		t.Errorf("Expected 2, got %d", i)
	}
	if i := q.IndexOf(types.ItemKey{Source: types.SourceExternal, SourceTrackID: "x"}); i != -1 {
		t.Errorf("Expected -1, got %d", i)
	}
}

func TestSet(t *testing.T) {
	q := New()
	q.Replace(items(1, 2), 0)

	d := 12.5
	updated := items(2)[0]
	updated.Duration = &d
	if !q.Set(1, updated) {
		t.Fatal("Set in range should succeed")
	}
	if got, _ := q.At(1); got.KnownDuration() != 12.5 {
		t.Errorf("Expected duration 12.5, got %v", got.KnownDuration())
	}
	if q.Set(2, updated) || q.Set(-1, updated) {
		t.Error("Set out of range should fail")
	}
}
