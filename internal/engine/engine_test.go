package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

func TestSetQueueLoadsStartItem(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("one", "two", "three")

	h.must(h.engine.SetQueue(h.ctx, items, 1, true, "album"))

	h.expectCurrent(items[1], StatePlaying)
	if !h.pipeline.current().isPlaying() {
		t.Error("Render item should be playing")
	}
	if got := h.persistedIDs(); !equalIDs(got, idsOf(items...)) {
		t.Errorf("Expected persisted %v, got %v", idsOf(items...), got)
	}
	if !h.access.Held() {
		t.Error("A grant should be held for the current item")
	}
}

func TestSetQueueClampsAndEmptyStops(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")

	h.must(h.engine.SetQueue(h.ctx, items, 10, false, ""))
	h.expectCurrent(items[1], StatePaused)

	h.must(h.engine.SetQueue(h.ctx, nil, 0, true, ""))
	snap := h.snapshot()
	if snap.State != StateStopped || snap.Item != nil || snap.QueueLength != 0 {
		t.Errorf("Empty queue should stop, got %+v", snap)
	}
	if h.access.Held() {
		t.Error("Stopping should release the grant")
	}
}

func TestEnqueueNext(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("1", "2", "3", "5")

	h.must(h.engine.SetQueue(h.ctx, items[:3], 1, true, ""))
	h.must(h.engine.EnqueueNext(h.ctx, items[3:]))

	want := idsOf(items[0], items[1], items[3], items[2])
	if got := h.queueIDs(); !equalIDs(got, want) {
		t.Errorf("Expected queue %v, got %v", want, got)
	}
	if got := h.persistedIDs(); !equalIDs(got, want) {
		t.Errorf("Expected persisted %v, got %v", want, got)
	}
	h.expectCurrent(items[1], StatePlaying)
	if h.pipeline.openCount() != 1 {
		t.Error("Enqueueing must not reload")
	}
}

func TestEnqueueWithoutCurrent(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")

	h.must(h.engine.EnqueueEnd(h.ctx, items[:1]))
	h.must(h.engine.EnqueueNext(h.ctx, items[1:2]))
	h.must(h.engine.EnqueueEnd(h.ctx, items[2:]))

	want := idsOf(items[1], items[0], items[2])
	if got := h.queueIDs(); !equalIDs(got, want) {
		t.Errorf("Expected queue %v, got %v", want, got)
	}
	if snap := h.snapshot(); snap.State != StateStopped || snap.Item != nil {
		t.Errorf("Nothing should load, got %+v", snap)
	}

	h.must(h.engine.Play(h.ctx))
	h.expectCurrent(items[1], StatePlaying)
}

func TestRemoveFromQueue(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("1", "2", "3")

	t.Run("current", func(t *testing.T) {
		h.must(h.engine.SetQueue(h.ctx, items, 1, true, ""))
		h.must(h.engine.RemoveFromQueue(h.ctx, 1))

		h.expectCurrent(items[2], StatePlaying)
		if snap := h.snapshot(); snap.Index != 1 {
			t.Errorf("Expected index 1, got %d", snap.Index)
		}
		if got := h.persistedIDs(); !equalIDs(got, idsOf(items[0], items[2])) {
			t.Errorf("Unexpected persisted queue %v", got)
		}
	})

	t.Run("before current", func(t *testing.T) {
		h.must(h.engine.SetQueue(h.ctx, items, 2, true, ""))
		opened := h.pipeline.openCount()
		h.must(h.engine.RemoveFromQueue(h.ctx, 0))

		h.expectCurrent(items[2], StatePlaying)
		if snap := h.snapshot(); snap.Index != 1 {
			t.Errorf("Expected index 1, got %d", snap.Index)
		}
		if h.pipeline.openCount() != opened {
			t.Error("Removing an earlier item must not reload")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if err := h.engine.RemoveFromQueue(h.ctx, 9); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
		}
	})

	t.Run("last item stops", func(t *testing.T) {
		h.must(h.engine.SetQueue(h.ctx, items[:1], 0, true, ""))
		h.must(h.engine.RemoveFromQueue(h.ctx, 0))
		if snap := h.snapshot(); snap.State != StateStopped {
			t.Errorf("Expected stopped, got %s", snap.State)
		}
	})
}

func TestRemoveTrackFromQueue(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")
	a, b, c := items[0], items[1], items[2]

	h.must(h.engine.SetQueue(h.ctx, []types.PlaybackItem{a, b, a, c}, 3, true, ""))
	h.must(h.engine.RemoveTrackFromQueue(h.ctx, a.ID))

	h.expectCurrent(c, StatePlaying)
	if snap := h.snapshot(); snap.Index != 1 {
		t.Errorf("Expected index 1, got %d", snap.Index)
	}
	if h.pipeline.openCount() != 1 {
		t.Error("Current item survived, nothing should reload")
	}
	if got := h.persistedIDs(); !equalIDs(got, idsOf(b, c)) {
		t.Errorf("Unexpected persisted queue %v", got)
	}
}

func TestMoveKeepsCurrentIdentity(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c", "d")

	h.must(h.engine.SetQueue(h.ctx, items, 1, true, ""))
	h.must(h.engine.MoveQueue(h.ctx, []int{1}, 4))

	want := idsOf(items[0], items[2], items[3], items[1])
	if got := h.queueIDs(); !equalIDs(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	h.expectCurrent(items[1], StatePlaying)
	if snap := h.snapshot(); snap.Index != 3 {
		t.Errorf("Expected index 3, got %d", snap.Index)
	}
	if got := h.persistedIDs(); !equalIDs(got, want) {
		t.Errorf("Expected persisted %v, got %v", want, got)
	}

	if err := h.engine.MoveQueue(h.ctx, []int{7}, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestFailureSkipsMissingItems(t *testing.T) {
	h := newHarness(t)
	a := h.addTrack("a", false)
	b := h.addTrack("b", true)
	c := h.addTrack("c", true)

	h.must(h.engine.SetQueue(h.ctx, []types.PlaybackItem{a, b, c}, 0, true, ""))
	h.expectCurrent(b, StatePlaying)
	h.flush()

	missing, reason, err := h.db.MissingState(h.ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !missing || reason != types.MissingNotFound {
		t.Errorf("Expected a flagged notFound, got %v %q", missing, reason)
	}
	if missing, _, _ := h.db.MissingState(h.ctx, b.ID); missing {
		t.Error("b opened fine and should not be flagged")
	}
}

func TestNothingPlayableStops(t *testing.T) {
	h := newHarness(t)
	a := h.addTrack("a", false)
	b := h.addTrack("b", true)
	h.pipeline.fail("b.mp3", audio.ErrUnsupportedFormat)

	err := h.engine.SetQueue(h.ctx, []types.PlaybackItem{a, b}, 0, true, "")
	if !errors.Is(err, ErrNothingPlayable) {
		t.Errorf("Expected ErrNothingPlayable, got %v", err)
	}
	if snap := h.snapshot(); snap.State != StateStopped || snap.Index != -1 {
		t.Errorf("Expected stopped with no index, got %s at %d", snap.State, snap.Index)
	}
	h.flush()
	if missing, _, _ := h.db.MissingState(h.ctx, b.ID); missing {
		t.Error("A decode failure is not a missing file")
	}
}

func TestNextAtEndOfQueue(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")

	h.must(h.engine.SetQueue(h.ctx, items, 1, true, ""))
	h.must(h.engine.Next(h.ctx))
	if snap := h.snapshot(); snap.State != StateStopped {
		t.Fatalf("Expected stopped at end of queue, got %s", snap.State)
	}

	h.must(h.engine.SetRepeat(h.ctx, types.RepeatAll))
	h.must(h.engine.PlayIndex(h.ctx, 1))
	h.must(h.engine.Next(h.ctx))
	h.expectCurrent(items[0], StatePlaying)
}

func TestStoppedHasNoCurrentIndex(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")

	h.must(h.engine.SetQueue(h.ctx, items, 2, true, ""))
	h.must(h.engine.Next(h.ctx))
	snap := h.snapshot()
	if snap.State != StateStopped || snap.Index != -1 {
		t.Fatalf("Expected stopped with no index, got %s at %d", snap.State, snap.Index)
	}
	if snap.QueueLength != 3 {
		t.Errorf("Stopping should keep the queue, got length %d", snap.QueueLength)
	}

	h.must(h.engine.Play(h.ctx))
	h.expectCurrent(items[0], StatePlaying)

	h.must(h.engine.PlayIndex(h.ctx, 1))
	h.must(h.engine.Stop(h.ctx))
	if snap := h.snapshot(); snap.Index != -1 {
		t.Errorf("Expected no index after stop, got %d", snap.Index)
	}
	h.must(h.engine.Play(h.ctx))
	h.expectCurrent(items[0], StatePlaying)
}

func TestNextKeepsPausedState(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")

	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.must(h.engine.Pause(h.ctx))
	h.must(h.engine.Next(h.ctx))
	h.expectCurrent(items[1], StatePaused)
}

func TestPrevious(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 1, true, ""))

	h.pipeline.current().setPosition(10)
	h.must(h.engine.Previous(h.ctx))
	h.expectCurrent(items[1], StatePlaying)
	if seeks := h.pipeline.current().seekLog(); len(seeks) != 1 || seeks[0] != 0 {
		t.Errorf("Expected restart seek to 0, got %v", seeks)
	}

	h.pipeline.current().setPosition(2)
	h.must(h.engine.Previous(h.ctx))
	h.expectCurrent(items[0], StatePlaying)

	// At the head without repeat, previous restarts
	opened := h.pipeline.openCount()
	h.must(h.engine.Previous(h.ctx))
	if h.pipeline.openCount() != opened {
		t.Error("Previous at the head should not reload")
	}
}

func TestSeek(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")

	if err := h.engine.Seek(h.ctx, 3); !errors.Is(err, ErrNoCurrentItem) {
		t.Errorf("Expected ErrNoCurrentItem, got %v", err)
	}

	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.must(h.engine.Seek(h.ctx, 42))
	if snap := h.snapshot(); snap.CurrentTime != 42 {
		t.Errorf("Expected current time 42, got %v", snap.CurrentTime)
	}
	if log := h.session.seekLog(); len(log) == 0 || log[len(log)-1] != 42*time.Second {
		t.Errorf("Media session should see the seek immediately, got %v", log)
	}

	h.must(h.engine.Seek(h.ctx, 999))
	if snap := h.snapshot(); snap.CurrentTime != 180 {
		t.Errorf("Seek should clamp to the duration, got %v", snap.CurrentTime)
	}
}

func TestResumePosition(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")

	h.must(h.db.SavePosition(h.ctx, items[0].Key(), 30, time.Now()))
	h.must(h.db.SavePosition(h.ctx, items[1].Key(), 179, time.Now()))

	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	if seeks := h.pipeline.current().seekLog(); len(seeks) != 1 || seeks[0] != 30 {
		t.Errorf("Expected resume seek to 30, got %v", seeks)
	}

	h.must(h.engine.Next(h.ctx))
	if seeks := h.pipeline.current().seekLog(); len(seeks) != 0 {
		t.Errorf("A finished item should start from 0, got %v", seeks)
	}

	h.flush()
	pos, ok, err := h.db.Position(h.ctx, items[0].Key())
	if err != nil || !ok || pos != 30 {
		t.Errorf("Track change should force-save the previous position, got %v %v %v", pos, ok, err)
	}
}

func TestEndOfTrack(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	first := h.pipeline.current()
	first.setPosition(179.5)
	first.signal(audio.SignalEnded, nil)

	h.expectCurrent(items[1], StatePlaying)
	h.flush()
	if pos, ok, _ := h.db.Position(h.ctx, items[0].Key()); !ok || pos != 0 {
		t.Errorf("Finished item should be saved at 0, got %v %v", pos, ok)
	}

	// A late signal from the old item is ignored
	first.signal(audio.SignalEnded, nil)
	h.expectCurrent(items[1], StatePlaying)

	h.pipeline.current().signal(audio.SignalEnded, nil)
	if snap := h.snapshot(); snap.State != StateStopped {
		t.Errorf("End of the last item should stop, got %s", snap.State)
	}
}

func TestRepeatOneReplays(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.must(h.engine.SetRepeat(h.ctx, types.RepeatOne))

	item := h.pipeline.current()
	item.setPosition(180)
	item.signal(audio.SignalEnded, nil)

	h.expectCurrent(items[0], StatePlaying)
	if h.pipeline.openCount() != 1 {
		t.Error("Repeat one should reuse the render item")
	}
	if seeks := item.seekLog(); len(seeks) != 1 || seeks[0] != 0 {
		t.Errorf("Expected seek to 0, got %v", seeks)
	}
}

func TestRenderFailureAdvances(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	h.pipeline.current().signal(audio.SignalFailed, &access.MissingError{Reason: types.MissingPermission, Target: "a"})
	h.expectCurrent(items[1], StatePlaying)

	h.flush()
	missing, reason, _ := h.db.MissingState(h.ctx, items[0].ID)
	if !missing || reason != types.MissingPermission {
		t.Errorf("Expected a flagged permission, got %v %q", missing, reason)
	}

	// A plain decode error advances without flagging
	h.pipeline.current().signal(audio.SignalFailed, errors.New("corrupt frame"))
	h.expectCurrent(items[2], StatePlaying)
	h.flush()
	if missing, _, _ := h.db.MissingState(h.ctx, items[1].ID); missing {
		t.Error("Decode errors must not flag the file missing")
	}
}

func TestFailureDuringFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	h.must(h.engine.do(h.ctx, func() error {
		h.engine.failing = true
		h.engine.onFailed(errors.New("nested"))
		h.engine.failing = false
		return nil
	}))
	h.expectCurrent(items[0], StatePlaying)
}

func TestFailureWithNoCandidateStops(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	b := h.addTrack("b", false)
	h.must(h.engine.SetQueue(h.ctx, []types.PlaybackItem{items[0], b}, 0, true, ""))

	h.pipeline.current().signal(audio.SignalFailed, errors.New("boom"))
	if snap := h.snapshot(); snap.State != StateStopped {
		t.Errorf("Expected stopped, got %s", snap.State)
	}
	h.flush()
	if missing, reason, _ := h.db.MissingState(h.ctx, b.ID); !missing || reason != types.MissingNotFound {
		t.Errorf("Probed candidate should be flagged, got %v %q", missing, reason)
	}
}

func TestStallRecovery(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	item := h.pipeline.current()
	item.signal(audio.SignalStalled, nil)
	if snap := h.snapshot(); snap.State != StateBuffering {
		t.Fatalf("Expected buffering, got %s", snap.State)
	}

	eventually(t, "stall retry", func() bool { return item.resumeCount() > 0 })

	item.signal(audio.SignalRecovered, nil)
	if snap := h.snapshot(); snap.State != StatePlaying {
		t.Errorf("Expected playing after recovery, got %s", snap.State)
	}
}

func TestInterruptions(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	h.engine.InterruptionBegan()
	h.expectCurrent(items[0], StatePaused)
	h.engine.InterruptionEnded(true)
	h.expectCurrent(items[0], StatePlaying)

	// Paused before the interruption stays paused
	h.must(h.engine.Pause(h.ctx))
	h.engine.InterruptionBegan()
	h.engine.InterruptionEnded(true)
	h.expectCurrent(items[0], StatePaused)

	// No resume hint, no resume
	h.must(h.engine.Play(h.ctx))
	h.engine.InterruptionBegan()
	h.engine.InterruptionEnded(false)
	h.expectCurrent(items[0], StatePaused)
}

func TestRouteChangePauses(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	h.engine.RouteChanged(media.RouteNewDeviceAvailable)
	h.expectCurrent(items[0], StatePlaying)

	h.engine.RouteChanged(media.RouteOldDeviceUnavailable)
	h.expectCurrent(items[0], StatePaused)
	if h.pipeline.current().isPlaying() {
		t.Error("Render item should be paused")
	}
}

func TestMediaServicesResetReopens(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.pipeline.current().setPosition(50)

	h.engine.MediaServicesReset()
	h.expectCurrent(items[0], StatePlaying)
	if h.pipeline.openCount() != 2 {
		t.Fatalf("Expected a reopen, got %d opens", h.pipeline.openCount())
	}
	if seeks := h.pipeline.current().seekLog(); len(seeks) != 1 || seeks[0] != 50 {
		t.Errorf("Expected reopen at 50, got %v", seeks)
	}
}

func TestMediaCommands(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	h.must(h.engine.OnCommand(media.CmdPlayPause, nil))
	h.expectCurrent(items[0], StatePaused)
	h.must(h.engine.OnCommand(media.CmdSeek, 20*time.Second))
	if snap := h.snapshot(); snap.CurrentTime != 20 {
		t.Errorf("Expected 20s, got %v", snap.CurrentTime)
	}
	h.must(h.engine.OnCommand(media.CmdSetLoopStatus, media.LoopPlaylist))
	h.must(h.engine.OnCommand(media.CmdSetShuffle, true))
	if snap := h.snapshot(); snap.Repeat != "all" || !snap.Shuffle {
		t.Errorf("Expected repeat all with shuffle, got %+v", snap)
	}
	if err := h.engine.OnCommand(media.CmdSeek, "soon"); err == nil {
		t.Error("Bad seek payload should fail")
	}

	md := h.session.lastMetadata()
	if md.TrackID != items[0].Key().String() || md.Duration != 180*time.Second {
		t.Errorf("Unexpected now playing metadata %+v", md)
	}
}

func TestShuffleNextPicksAnotherItem(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c", "d")
	h.must(h.engine.SetQueue(h.ctx, items, 2, true, ""))
	h.must(h.engine.SetShuffle(h.ctx, true))

	for i := 0; i < 10; i++ {
		before := h.snapshot().Index
		h.must(h.engine.Next(h.ctx))
		if after := h.snapshot().Index; after == before {
			t.Fatalf("Shuffle repeated index %d", after)
		}
	}
}

func TestSetVolume(t *testing.T) {
	h := newHarness(t)
	h.must(h.engine.SetVolume(h.ctx, 0.3))
	if snap := h.snapshot(); snap.Volume != 0.3 {
		t.Errorf("Expected volume 0.3, got %v", snap.Volume)
	}
}

func TestClearQueue(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.must(h.engine.ClearQueue(h.ctx))

	snap := h.snapshot()
	if snap.State != StateStopped || snap.QueueLength != 0 {
		t.Errorf("Expected empty and stopped, got %+v", snap)
	}
	if got := h.persistedIDs(); len(got) != 0 {
		t.Errorf("Expected empty persisted queue, got %v", got)
	}
	if h.access.Held() {
		t.Error("Clearing should release the grant")
	}
	if err := h.engine.Next(h.ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Expected ErrQueueEmpty, got %v", err)
	}
}

func TestSetQueueByIDs(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")

	h.must(h.engine.SetQueueByIDs(h.ctx, []int64{items[0].ID, 9999, items[2].ID}, 2, true, "playlist"))
	if got := h.queueIDs(); !equalIDs(got, idsOf(items[0], items[2])) {
		t.Errorf("Unknown ids should be skipped, got %v", got)
	}
	h.expectCurrent(items[2], StatePlaying)
}

func TestPlayFromHistory(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")
	h.must(h.engine.SetQueue(h.ctx, items[:2], 0, true, ""))

	h.must(h.engine.PlayFromHistory(h.ctx, items[2].Key()))
	if got := h.queueIDs(); !equalIDs(got, idsOf(items[0], items[2], items[1])) {
		t.Errorf("History item should be inserted next, got %v", got)
	}
	h.expectCurrent(items[2], StatePlaying)

	h.must(h.engine.PlayFromHistory(h.ctx, items[1].Key()))
	if h.snapshot().Index != 2 {
		t.Error("Queued history item should be jumped to")
	}

	h.flush()
	entries, err := h.db.History(h.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 recorded plays, got %d", len(entries))
	}
}

func TestPausedSetQueueIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, false, ""))
	h.flush()

	entries, err := h.db.History(h.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Loading without playing is not a play, got %d entries", len(entries))
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a", "b", "c")
	h.must(h.engine.SetQueue(h.ctx, items, 2, true, ""))
	h.pipeline.current().setPosition(61)
	h.must(h.engine.Pause(h.ctx))

	h.restart()
	h.must(h.engine.Restore(h.ctx))

	if got := h.queueIDs(); !equalIDs(got, idsOf(items...)) {
		t.Errorf("Expected restored queue %v, got %v", idsOf(items...), got)
	}
	h.expectCurrent(items[2], StatePaused)
	if seeks := h.pipeline.current().seekLog(); len(seeks) != 1 || seeks[0] != 61 {
		t.Errorf("Expected resume at 61, got %v", seeks)
	}

	h.flush()
	entries, _ := h.db.History(h.ctx, 10)
	if len(entries) != 1 {
		t.Errorf("Restore must not record history, got %d entries", len(entries))
	}
}

func TestLyricsPublished(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	eventually(t, "lyrics", func() bool { return h.snapshot().Lyrics == "words" })
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	events, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	var sawQueue, sawPlaying bool
	timeout := time.After(2 * time.Second)
	for !(sawQueue && sawPlaying) {
		select {
		case ev := <-events:
			switch {
			case ev.Kind == EventQueue && len(ev.Queue) == 1:
				sawQueue = true
			case ev.Kind == EventState && ev.Snapshot.State == StatePlaying:
				sawPlaying = true
			}
		case <-timeout:
			t.Fatalf("Missing events: queue=%v playing=%v", sawQueue, sawPlaying)
		}
	}
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hb := newHub()
	slow := hb.subscribe()

	for i := 0; i < subscriberBuffer+1; i++ {
		hb.publish(Event{Kind: EventState})
	}

	n := 0
	for range slow {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("Expected %d buffered events before the drop, got %d", subscriberBuffer, n)
	}
}

func TestLevelsKeepOnlyNewestFrame(t *testing.T) {
	lh := newLevelsHub()
	ch := lh.subscribe()

	for i := 0; i < subscriberBuffer*4; i++ {
		lh.publish(spectrum.Levels{float64(i)})
	}
	if len(ch) != 1 {
		t.Fatalf("Expected one pending frame, got %d", len(ch))
	}
	if got := <-ch; got[0] != float64(subscriberBuffer*4-1) {
		t.Errorf("Expected the newest frame, got %v", got)
	}

	lh.unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("Unsubscribe should close the channel")
	}
}

func TestSpectrumDoesNotStarveEvents(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	events, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()
	levels, stopLevels := h.engine.SubscribeLevels()
	defer stopLevels()

	for i := 0; i < subscriberBuffer*4; i++ {
		h.engine.levels.publish(spectrum.Levels{0.5})
	}
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))

	timeout := time.After(2 * time.Second)
	for sawPlaying := false; !sawPlaying; {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Subscription closed while spectrum frames were pending")
			}
			sawPlaying = ev.Kind == EventState && ev.Snapshot.State == StatePlaying
		case <-timeout:
			t.Fatal("No playing event")
		}
	}
	if len(levels) != 1 {
		t.Errorf("Expected one pending frame, got %d", len(levels))
	}
}

func TestCloseRejectsCommands(t *testing.T) {
	h := newHarness(t)
	items := h.tracks("a")
	h.must(h.engine.SetQueue(h.ctx, items, 0, true, ""))
	h.must(h.engine.Close(h.ctx))

	if err := h.engine.Play(h.ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if h.access.Held() {
		t.Error("Close should release the grant")
	}
}
