// Package publish defines the narrow interface the scheduler uses to put
// content on the social platform, the retry policy around expired sessions,
// the pacing that keeps remote writes human-like, and two implementations:
// an HTTP relay client and a dry-run publisher.
package publish

import (
	"context"
	"fmt"

	"github.com/slotpost/slotpost/internal/content"
)

// Platform limits.
const (
	MaxAlbumImages = content.MaxSlides
	MaxStories     = content.MaxSlides
)

// Result identifies one remote post.
type Result struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
}

// Publisher is implemented by remote publishing clients.
type Publisher interface {
	PublishSingle(ctx context.Context, image, caption string) (Result, error)
	PublishAlbum(ctx context.Context, images []string, caption string) (Result, error)
	PublishStory(ctx context.Context, image string) (Result, error)
	IsAuthenticated(ctx context.Context) bool
	Reauthenticate(ctx context.Context) error
}

// Outcome is the result of publishing one content folder.
type Outcome struct {
	Type    content.PostType `json:"type"`
	Count   int              `json:"images_count"`
	Results []Result         `json:"results"`
}

// IDs returns the remote ids in publish order.
func (o Outcome) IDs() []string {
	ids := make([]string, len(o.Results))
	for i, r := range o.Results {
		ids[i] = r.ID
	}
	return ids
}

// Post publishes images as pt. A carousel with a single image goes out as a
// single photo; stories are published one call per image and carry no
// caption. The session is checked first and re-established when it is not
// valid.
func Post(ctx context.Context, p Publisher, pt content.PostType, images []string, caption string) (Outcome, error) {
	out := Outcome{Type: pt, Count: len(images)}
	if len(images) == 0 {
		return out, publishErr(string(pt), ErrNoImages)
	}
	if !p.IsAuthenticated(ctx) {
		if err := p.Reauthenticate(ctx); err != nil {
			return out, publishErr("login", err)
		}
	}

	switch pt {
	case content.Story:
		if len(images) > MaxStories {
			return out, publishErr("story", fmt.Errorf("%w: %d stories, max %d", ErrTooManyImages, len(images), MaxStories))
		}
		for i, img := range images {
			r, err := p.PublishStory(ctx, img)
			if err != nil {
				return out, publishErr(fmt.Sprintf("story %d/%d", i+1, len(images)), err)
			}
			out.Results = append(out.Results, r)
		}
		return out, nil

	default:
		if len(images) > MaxAlbumImages {
			return out, publishErr("album", fmt.Errorf("%w: %d images, max %d", ErrTooManyImages, len(images), MaxAlbumImages))
		}
		var (
			r   Result
			err error
		)
		if len(images) == 1 {
			out.Type = content.Single
			r, err = p.PublishSingle(ctx, images[0], caption)
		} else {
			out.Type = content.Carousel
			r, err = p.PublishAlbum(ctx, images, caption)
		}
		if err != nil {
			return out, publishErr(string(out.Type), err)
		}
		out.Results = append(out.Results, r)
		return out, nil
	}
}
