// Package imaging turns content images into files the platform accepts:
// RGB JPEG, no transparency, within the target box for the post type and
// under the upload size cap.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Size is a bounding box in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Target boxes per post type.
var Targets = map[content.PostType]Size{
	content.Carousel: {1080, 1350},
	content.Story:    {1080, 1920},
	content.Single:   {1080, 1080},
}

// TargetFor returns the box for pt, the carousel box when pt is unknown.
func TargetFor(pt content.PostType) Size {
	if s, ok := Targets[pt]; ok {
		return s
	}
	return Targets[content.Carousel]
}

// Normalizer prepares images for upload. The returned paths are in the same
// order as images.
type Normalizer interface {
	Normalize(ctx context.Context, images []string, target Size) ([]string, error)
}

// Discarder is implemented by normalizers whose output can be removed once
// it has been uploaded.
type Discarder interface {
	Discard(paths []string) error
}

// Defaults for JPEGNormalizer.
const (
	DefaultMaxBytes   = 8 << 20
	DefaultQuality    = 95
	DefaultMinQuality = 30
	DefaultMinSide    = 320
	qualityStep       = 10
	shrinkFactor      = 0.85
)

// ErrTooSmall is returned for images with a side below the minimum.
var ErrTooSmall = errors.New("image too small")

// JPEGNormalizer decodes JPEG and PNG input, flattens transparency onto
// white, shrinks to fit the target box and re-encodes as JPEG, lowering the
// quality until the file fits MaxBytes.
type JPEGNormalizer struct {
	fs      afero.Fs
	outDir  string
	log     logger.Logger
	Workers int

	MaxBytes   int
	Quality    int
	MinQuality int
	MinSide    int
}

var (
	_ Normalizer = (*JPEGNormalizer)(nil)
	_ Discarder  = (*JPEGNormalizer)(nil)
)

// NewJPEGNormalizer writes its output under outDir on fsys.
func NewJPEGNormalizer(fsys afero.Fs, outDir string, l logger.Logger) *JPEGNormalizer {
	return &JPEGNormalizer{
		fs:         fsys,
		outDir:     outDir,
		log:        logger.OrNop(l),
		Workers:    2,
		MaxBytes:   DefaultMaxBytes,
		Quality:    DefaultQuality,
		MinQuality: DefaultMinQuality,
		MinSide:    DefaultMinSide,
	}
}

// Normalize processes images concurrently into a fresh directory under the
// output dir. Any failure removes that directory.
func (n *JPEGNormalizer) Normalize(ctx context.Context, images []string, target Size) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	dir := filepath.Join(n.outDir, uuid.NewString())
	if err := n.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out := make([]string, len(images))
	g, ctx := errgroup.WithContext(ctx)
	if n.Workers > 0 {
		g.SetLimit(n.Workers)
	}
	for i, src := range images {
		dst := filepath.Join(dir, fmt.Sprintf("%02d_%s.jpg", i+1, stem(src)))
		out[i] = dst
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return n.normalizeOne(src, dst, target)
		})
	}
	if err := g.Wait(); err != nil {
		_ = n.fs.RemoveAll(dir)
		return nil, err
	}
	return out, nil
}

// Discard removes normalized files and their per-call directory.
func (n *JPEGNormalizer) Discard(paths []string) error {
	dirs := make(map[string]bool)
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
	}
	var errs []error
	for d := range dirs {
		if filepath.Dir(d) != filepath.Clean(n.outDir) {
			continue
		}
		if err := n.fs.RemoveAll(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *JPEGNormalizer) normalizeOne(src, dst string, target Size) error {
	folder := filepath.Base(filepath.Dir(src))
	f, err := n.fs.Open(src)
	if err != nil {
		return &content.ContentError{Folder: folder, Err: err}
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return &content.ContentError{Folder: folder, Err: fmt.Errorf("decode %s: %w", filepath.Base(src), err)}
	}
	b := img.Bounds()
	if b.Dx() < n.MinSide || b.Dy() < n.MinSide {
		return &content.ContentError{Folder: folder, Err: fmt.Errorf("%w: %s is %dx%d, minimum side %d", ErrTooSmall, filepath.Base(src), b.Dx(), b.Dy(), n.MinSide)}
	}

	rgb := Fit(Flatten(img), target)
	data, quality, err := n.encode(rgb)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(src), err)
	}
	if err := afero.WriteFile(n.fs, dst, data, 0644); err != nil {
		return err
	}
	n.log.Info("imaging: %s (%s %dx%d) -> %s q%d %d bytes",
		filepath.Base(src), format, b.Dx(), b.Dy(), filepath.Base(dst), quality, len(data))
	return nil
}

// encode lowers the quality in steps down to MinQuality, then shrinks the
// image, until the encoding fits MaxBytes.
func (n *JPEGNormalizer) encode(img image.Image) ([]byte, int, error) {
	for {
		var (
			buf     bytes.Buffer
			quality = n.Quality
		)
		for {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				return nil, 0, err
			}
			if n.MaxBytes <= 0 || buf.Len() <= n.MaxBytes || quality-qualityStep < n.MinQuality {
				break
			}
			quality -= qualityStep
		}
		if n.MaxBytes <= 0 || buf.Len() <= n.MaxBytes {
			return buf.Bytes(), quality, nil
		}
		b := img.Bounds()
		w, h := int(float64(b.Dx())*shrinkFactor), int(float64(b.Dy())*shrinkFactor)
		if w < 1 || h < 1 {
			return nil, 0, fmt.Errorf("can not fit under %d bytes", n.MaxBytes)
		}
		img = Fit(img, Size{w, h})
	}
}

// Flatten draws img onto an opaque white RGBA canvas.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Fit scales img down, keeping its aspect ratio, so it fits within box.
// Images already inside the box are returned unchanged.
func Fit(img image.Image, box Size) image.Image {
	b := img.Bounds()
	if b.Dx() <= box.Width && b.Dy() <= box.Height {
		return img
	}
	ratio := min(float64(box.Width)/float64(b.Dx()), float64(box.Height)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*ratio))
	h := max(1, int(float64(b.Dy())*ratio))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
