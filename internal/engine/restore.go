package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Restore rebuilds the last session from the persisted queue and playback
// pointer. Restores are not recorded in history and only start playback
// when ResumeOnStart is set. A queue set meanwhile wins.
func (e *Engine) Restore(ctx context.Context) error {
	var epoch uint64
	if err := e.do(ctx, func() error {
		epoch = e.epoch
		return nil
	}); err != nil {
		return err
	}

	rows, err := e.deps.Catalog.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted queue: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	items, err := e.materialize(ctx, rows)
	if err != nil {
		return err
	}

	start := 0
	if e.deps.Pointer != nil {
		sp, ok, err := e.deps.Pointer.Load(ctx)
		switch {
		case err != nil:
			e.logger.WithError(err).Warn("Failed to read playback pointer")
		case ok:
			if _, i, found := lo.FindIndexOf(items, func(item types.PlaybackItem) bool { return item.Key() == sp.Key }); found {
				start = i
			} else {
				start = sp.QueueIndex
			}
		}
	}

	return e.do(ctx, func() error {
		if e.epoch != epoch {
			return ErrSuperseded
		}
		e.epoch++

		index := e.queue.Replace(items, start)
		if len(items) != len(rows) {
			e.deps.Queue.Replace(items)
		}
		e.publish(EventQueue)
		e.logger.WithField("count", len(items)).Info("Restored queue")

		if index < 0 {
			return nil
		}
		err := e.load(ctx, index, loadMode{play: e.opts.ResumeOnStart})
		if errors.Is(err, ErrNothingPlayable) {
			return nil
		}
		return err
	})
}

// materialize turns persisted rows back into items, dropping rows whose
// track no longer exists
func (e *Engine) materialize(ctx context.Context, rows []store.QueueRow) ([]types.PlaybackItem, error) {
	ids := lo.FilterMap(rows, func(r store.QueueRow, _ int) (int64, bool) {
		return r.TrackID, r.TrackID > 0
	})
	found, err := e.deps.Catalog.TracksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load queued tracks: %w", err)
	}
	byID := lo.KeyBy(found, func(item types.PlaybackItem) int64 { return item.ID })

	items := make([]types.PlaybackItem, 0, len(rows))
	for _, r := range rows {
		if item, ok := byID[r.TrackID]; ok {
			items = append(items, item)
			continue
		}

		key := types.ItemKey{Source: r.Source, SourceTrackID: r.SourceTrackID}
		item, err := e.deps.Catalog.TrackByKey(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				e.logger.WithError(err).WithField("item", key.String()).Warn("Queued track lookup failed")
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
