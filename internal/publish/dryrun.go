package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/slotpost/slotpost/pkg/logger"
)

// DryRunPublisher logs what would be published and returns sequential ids.
// It is used when no relay is configured.
type DryRunPublisher struct {
	log logger.Logger
	seq atomic.Int64
}

var _ Publisher = (*DryRunPublisher)(nil)

func NewDryRunPublisher(l logger.Logger) *DryRunPublisher {
	return &DryRunPublisher{log: logger.OrNop(l)}
}

func (d *DryRunPublisher) next() Result {
	n := d.seq.Add(1)
	return Result{ID: fmt.Sprintf("dry-%d", n), Code: fmt.Sprintf("DRY%06d", n)}
}

func (d *DryRunPublisher) PublishSingle(_ context.Context, image, caption string) (Result, error) {
	r := d.next()
	d.log.Info("dry-run: single %s (%d caption chars) -> %s", filepath.Base(image), len([]rune(caption)), r.ID)
	return r, nil
}

func (d *DryRunPublisher) PublishAlbum(_ context.Context, images []string, caption string) (Result, error) {
	r := d.next()
	d.log.Info("dry-run: album of %d (%d caption chars) -> %s", len(images), len([]rune(caption)), r.ID)
	return r, nil
}

func (d *DryRunPublisher) PublishStory(_ context.Context, image string) (Result, error) {
	r := d.next()
	d.log.Info("dry-run: story %s -> %s", filepath.Base(image), r.ID)
	return r, nil
}

func (d *DryRunPublisher) IsAuthenticated(context.Context) bool { return true }

func (d *DryRunPublisher) Reauthenticate(context.Context) error { return nil }
