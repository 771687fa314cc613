package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/imaging"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/state"
)

// PostNext publishes the head of the queue. It returns nil, nil when the
// queue is empty.
func (s *PostScheduler) PostNext(ctx context.Context) (*state.HistoryEntry, error) {
	item, ok, err := s.opts.Queue.Dequeue()
	if err != nil {
		s.log.Warning("scheduler: refresh queue: %v", err)
	}
	if !ok {
		return nil, nil
	}
	entry, err := s.postFolder(ctx, item.Path, ledger.TriggerSchedule)
	s.requeue(item, err)
	return entry, err
}

// PostNow publishes the named folder, or the head of the queue when name is
// empty, and returns any failure to the caller.
func (s *PostScheduler) PostNow(ctx context.Context, name string) (*state.HistoryEntry, error) {
	if name == "" {
		item, ok, err := s.opts.Queue.Dequeue()
		if err != nil {
			s.log.Warning("scheduler: refresh queue: %v", err)
		}
		if !ok {
			return nil, schedErr("post_now", "", ErrQueueEmpty)
		}
		entry, err := s.postFolder(ctx, item.Path, ledger.TriggerManual)
		s.requeue(item, err)
		if err != nil {
			return nil, schedErr("post", item.Name, err)
		}
		return entry, nil
	}

	path, err := s.opts.Library.Lookup(name)
	if err != nil {
		return nil, schedErr("post_now", name, ErrFolderNotFound)
	}
	return s.PostFolder(ctx, path)
}

// PostFolder publishes the folder at path, which must not already be in
// flight.
func (s *PostScheduler) PostFolder(ctx context.Context, path string) (*state.HistoryEntry, error) {
	if !s.opts.Queue.Claim(path) {
		return nil, schedErr("post", filepath.Base(path), ErrFolderBusy)
	}
	defer s.opts.Queue.Release(path)
	entry, err := s.postFolder(ctx, path, ledger.TriggerManual)
	if err != nil {
		return nil, schedErr("post", filepath.Base(path), err)
	}
	return entry, nil
}

// postFolder runs parse, normalize, publish, archive and record. Once the
// remote publish succeeded, local bookkeeping failures are logged and never
// reported as a failed post.
func (s *PostScheduler) postFolder(ctx context.Context, path, trigger string) (*state.HistoryEntry, error) {
	name := filepath.Base(path)
	s.log.Info("scheduler: posting %s", name)

	folder, err := s.opts.Classifier.Parse(path)
	if err != nil {
		s.recordFailure(ctx, ledger.Row{Folder: name, Trigger: trigger}, err)
		return nil, err
	}
	row := ledger.Row{Folder: name, Type: string(folder.Type), Slides: folder.SlideCount(), Trigger: trigger}

	caption := folder.Caption
	if s.opts.Hook != nil && folder.Type != content.Story {
		caption = s.opts.Hook.Apply(ctx, caption, name)
	}

	images, err := s.opts.Normalizer.Normalize(ctx, folder.Slides, imaging.TargetFor(folder.Type))
	if err != nil {
		s.recordFailure(ctx, row, err)
		return nil, err
	}
	if d, ok := s.opts.Normalizer.(imaging.Discarder); ok {
		defer func() {
			if err := d.Discard(images); err != nil {
				s.log.Warning("scheduler: discard normalized images: %v", err)
			}
		}()
	}

	outcome, err := publish.Post(ctx, s.opts.Publisher, folder.Type, images, caption)
	if err != nil {
		s.recordFailure(ctx, row, err)
		return nil, err
	}
	now := s.now()

	if _, err := s.opts.Library.Archive(path, now); err != nil {
		// Known gap: the folder stays in the content root and may be
		// published again by a later slot.
		s.log.Warning("scheduler: %s was published (ids %v) but could not be archived: %v", name, outcome.IDs(), err)
	}

	result, err := json.Marshal(outcome)
	if err != nil {
		result = nil
	}
	entry := state.HistoryEntry{
		Folder:    name,
		Type:      string(folder.Type),
		Slides:    folder.SlideCount(),
		Result:    result,
		Timestamp: now.In(s.opts.Slots.Location()).Format(time.RFC3339),
	}
	if err := s.opts.Store.AddToHistory(entry); err != nil {
		s.log.Error("scheduler: record history for %s: %v", name, err)
	}
	if err := s.opts.Store.RecordPost(now); err != nil {
		s.log.Error("scheduler: record post time: %v", err)
	}
	if s.opts.Ledger != nil {
		if len(outcome.Results) > 0 {
			row.RemoteID = outcome.Results[0].ID
			row.Code = outcome.Results[0].Code
		}
		row.PostedAt = now
		if _, err := s.opts.Ledger.Record(ctx, row); err != nil {
			s.log.Error("scheduler: ledger: %v", err)
		}
	}

	s.log.Info("scheduler: posted %s as %s (%d image(s))", name, folder.Type, len(images))
	s.notify(common.NotifyPostPublished, entry)
	return &entry, nil
}

func (s *PostScheduler) recordFailure(ctx context.Context, row ledger.Row, err error) {
	s.log.Error("scheduler: posting %s failed (%s): %v", row.Folder, publish.ClassifyError(err), err)
	if s.opts.Ledger != nil {
		row.Error = err.Error()
		row.PostedAt = s.now()
		if _, lerr := s.opts.Ledger.Record(ctx, row); lerr != nil {
			s.log.Error("scheduler: ledger: %v", lerr)
		}
	}
	s.notify(common.NotifyPostFailed, map[string]string{"folder": row.Folder, "error": err.Error()})
}

// requeue ends the in-flight hold on a dequeued item. After a failure the
// folder keeps its priority, except that unusable content goes behind every
// other queued folder so later slots still make progress.
func (s *PostScheduler) requeue(item queue.Item, err error) {
	s.opts.Queue.Release(item.Path)
	if err == nil || !s.opts.Library.Exists(item.Path) {
		return
	}
	var cerr *content.ContentError
	if !errors.As(err, &cerr) {
		s.opts.Queue.Enqueue(item.Path, item.Priority)
		return
	}
	last := 0
	for _, e := range s.opts.Queue.List() {
		if e.Priority > last {
			last = e.Priority
		}
	}
	s.opts.Queue.Enqueue(item.Path, last+1)
	s.savePriorities()
	s.log.Warning("scheduler: %s moved to the back of the queue", item.Name)
}
