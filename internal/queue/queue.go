// Package queue manages the playback queue.
//
// A Queue is not safe for concurrent use; the engine owns it and serializes
// every mutation through its command loop.
package queue

import (
	"math/rand"
	"sort"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Queue is an ordered list of playback items plus the current index (-1 for none)
type Queue struct {
	items []types.PlaybackItem
	index int
}

// New creates an empty queue
func New() *Queue {
	return &Queue{index: -1}
}

// Len returns the number of items
func (q *Queue) Len() int {
	return len(q.items)
}

// Index returns the current index, or -1
func (q *Queue) Index() int {
	return q.index
}

// Items returns a copy of the queue contents
func (q *Queue) Items() []types.PlaybackItem {
	out := make([]types.PlaybackItem, len(q.items))
	copy(out, q.items)
	return out
}

// At returns the item at i
func (q *Queue) At(i int) (types.PlaybackItem, bool) {
	if i < 0 || i >= len(q.items) {
		return types.PlaybackItem{}, false
	}
	return q.items[i], true
}

// Current returns the current item
func (q *Queue) Current() (types.PlaybackItem, bool) {
	return q.At(q.index)
}

// Set overwrites the entry at i, e.g. once its duration is known
func (q *Queue) Set(i int, item types.PlaybackItem) bool {
	if i < 0 || i >= len(q.items) {
		return false
	}
	q.items[i] = item
	return true
}

// SetIndex points the queue at i; -1 clears it
func (q *Queue) SetIndex(i int) bool {
	if i < -1 || i >= len(q.items) {
		return false
	}
	q.index = i
	return true
}

// Replace swaps in items and clamps start into range. The new index is
// returned, -1 when items is empty.
func (q *Queue) Replace(items []types.PlaybackItem, start int) int {
	q.items = append([]types.PlaybackItem(nil), items...)
	if len(q.items) == 0 {
		q.index = -1
		return -1
	}
	q.index = lo.Clamp(start, 0, len(q.items)-1)
	return q.index
}

// InsertNext inserts items right after the current index, or at 0 when
// there is none. It returns the insert position.
func (q *Queue) InsertNext(items []types.PlaybackItem) int {
	at := 0
	if q.index >= 0 {
		at = q.index + 1
	}
	q.insert(at, items)
	return at
}

// Append adds items at the end and returns the insert position
func (q *Queue) Append(items []types.PlaybackItem) int {
	at := len(q.items)
	q.insert(at, items)
	return at
}

func (q *Queue) insert(at int, items []types.PlaybackItem) {
	if len(items) == 0 {
		return
	}
	next := make([]types.PlaybackItem, 0, len(q.items)+len(items))
	next = append(next, q.items[:at]...)
	next = append(next, items...)
	next = append(next, q.items[at:]...)
	q.items = next
	if q.index >= at {
		q.index += len(items)
	}
}

// Move relocates the items at fromOffsets so they sit before toOffset (an
// offset into the list as it was before the move). The current item keeps
// being current wherever it lands.
func (q *Queue) Move(fromOffsets []int, toOffset int) bool {
	n := len(q.items)
	offsets := lo.Uniq(fromOffsets)
	if len(offsets) == 0 || toOffset < 0 || toOffset > n {
		return false
	}
	for _, o := range offsets {
		if o < 0 || o >= n {
			return false
		}
	}
	sort.Ints(offsets)

	moving := make(map[int]bool, len(offsets))
	for _, o := range offsets {
		moving[o] = true
	}

	// Work on original positions so identity survives the reorder
	rest := lo.Filter(lo.Range(n), func(i int, _ int) bool { return !moving[i] })
	insertAt := toOffset - lo.CountBy(offsets, func(o int) bool { return o < toOffset })

	order := make([]int, 0, n)
	order = append(order, rest[:insertAt]...)
	order = append(order, offsets...)
	order = append(order, rest[insertAt:]...)

	items := make([]types.PlaybackItem, n)
	newIndex := -1
	for newPos, oldPos := range order {
		items[newPos] = q.items[oldPos]
		if oldPos == q.index {
			newIndex = newPos
		}
	}
	q.items = items
	q.index = newIndex
	return true
}

// Removal describes what a removal did to the current item
type Removal struct {
	Removed        int
	CurrentRemoved bool
}

// RemoveAt removes the item at i. Removing the current item moves the index
// to min(i, len-1); removing an earlier item shifts the index down.
func (q *Queue) RemoveAt(i int) (Removal, bool) {
	if i < 0 || i >= len(q.items) {
		return Removal{}, false
	}

	q.items = append(q.items[:i:i], q.items[i+1:]...)
	r := Removal{Removed: 1}

	switch {
	case i == q.index:
		r.CurrentRemoved = true
		q.index = min(i, len(q.items)-1)
	case i < q.index:
		q.index--
	}
	return r, true
}

// RemoveTrack removes every entry referencing trackID
func (q *Queue) RemoveTrack(trackID int64) Removal {
	var (
		r      Removal
		before int
	)
	kept := make([]types.PlaybackItem, 0, len(q.items))
	for i, item := range q.items {
		if item.ID != trackID {
			kept = append(kept, item)
			continue
		}
		r.Removed++
		if i < q.index {
			before++
		}
		if i == q.index {
			r.CurrentRemoved = true
		}
	}
	if r.Removed == 0 {
		return r
	}

	q.items = kept
	if q.index >= 0 {
		q.index = min(q.index-before, len(q.items)-1)
	}
	return r
}

// Clear empties the queue
func (q *Queue) Clear() {
	q.items = nil
	q.index = -1
}

// NextIndex picks the index after the current one. Shuffle picks a random
// different index; otherwise the end of the queue wraps under RepeatAll and
// reports false under any other mode.
func (q *Queue) NextIndex(repeat types.RepeatMode, shuffle bool, rng *rand.Rand) (int, bool) {
	n := len(q.items)
	if n == 0 {
		return -1, false
	}
	if shuffle && q.index < 0 {
		return rng.Intn(n), true
	}
	if shuffle && n > 1 {
		i := rng.Intn(n - 1)
		if i >= q.index {
			i++
		}
		return i, true
	}
	if q.index+1 < n {
		return q.index + 1, true
	}
	if repeat == types.RepeatAll {
		return 0, true
	}
	return -1, false
}

// PrevIndex picks the index before the current one, wrapping under
// RepeatAll. false means there is nothing earlier.
func (q *Queue) PrevIndex(repeat types.RepeatMode) (int, bool) {
	n := len(q.items)
	if n == 0 {
		return -1, false
	}
	if q.index > 0 {
		return q.index - 1, true
	}
	if repeat == types.RepeatAll {
		return n - 1, true
	}
	return -1, false
}

// IndexOf returns the first index whose key matches
func (q *Queue) IndexOf(key types.ItemKey) int {
	_, i, ok := lo.FindIndexOf(q.items, func(item types.PlaybackItem) bool { return item.Key() == key })
	if !ok {
		return -1
	}
	return i
}
