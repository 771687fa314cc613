// Package content classifies post folders and manages the local content
// library. A post folder holds ordered images plus an optional caption file;
// its file names decide whether it is published as a carousel, a story or a
// single image.
package content

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/charmap"
)

// PostType is the publish format detected for a folder.
type PostType string

const (
	Carousel PostType = "carousel"
	Story    PostType = "story"
	Single   PostType = "single"
)

// MaxCaptionLength is the longest caption the platform accepts, in runes.
const MaxCaptionLength = 2200

// MaxSlides is the most images one album or story set may carry.
const MaxSlides = 10

var (
	storyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^story[-_]?(\d+)\.(jpg|jpeg|png)$`),
	}
	slidePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^slide[-_]?(\d+)\.(jpg|jpeg|png)$`),
		regexp.MustCompile(`(?i)^(\d+)\.(jpg|jpeg|png)$`),
	}
	captionFiles = []string{"caption.txt", "Caption.txt", "CAPTION.txt", "legenda.txt"}
)

// Folder is a parsed content folder.
type Folder struct {
	Name    string
	Path    string
	Type    PostType
	Slides  []string
	Caption string
}

// SlideCount returns the number of media files in the folder.
func (f *Folder) SlideCount() int {
	return len(f.Slides)
}

// Classifier inspects content folders. It never mutates them.
type Classifier struct {
	fs  afero.Fs
	log logger.Logger
}

// NewClassifier creates a classifier reading from fs. A nil logger discards
// messages.
func NewClassifier(fs afero.Fs, log logger.Logger) *Classifier {
	return &Classifier{fs: fs, log: logger.OrNop(log)}
}

// IsImage reports whether name has a valid image extension.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Parse classifies dir and extracts its media and caption.
func (c *Classifier) Parse(dir string) (*Folder, error) {
	name := filepath.Base(dir)
	if err := c.checkDir(dir); err != nil {
		return nil, err
	}
	files, err := c.files(dir)
	if err != nil {
		return nil, contentErr(name, err)
	}
	pt := detect(files)
	slides := slidesFor(dir, files, pt)
	if len(slides) == 0 {
		return nil, contentErr(name, ErrNoImages)
	}
	if len(slides) > MaxSlides {
		return nil, contentErr(name, fmt.Errorf("%w: %d images, max %d", ErrTooManySlides, len(slides), MaxSlides))
	}
	return &Folder{
		Name:    name,
		Path:    dir,
		Type:    pt,
		Slides:  slides,
		Caption: c.Caption(dir),
	}, nil
}

// Validate checks that dir exists, is a directory and holds at least one image.
func (c *Classifier) Validate(dir string) error {
	if err := c.checkDir(dir); err != nil {
		return err
	}
	files, err := c.files(dir)
	if err != nil {
		return contentErr(filepath.Base(dir), err)
	}
	for _, f := range files {
		if IsImage(f) {
			return nil
		}
	}
	return contentErr(filepath.Base(dir), ErrNoImages)
}

// DetectType returns the post type for dir. Unreadable folders are Single.
func (c *Classifier) DetectType(dir string) PostType {
	files, err := c.files(dir)
	if err != nil {
		return Single
	}
	return detect(files)
}

// Slides returns the ordered media paths of dir for the given type. An empty
// type is detected first.
func (c *Classifier) Slides(dir string, pt PostType) []string {
	files, err := c.files(dir)
	if err != nil {
		return nil
	}
	if pt == "" {
		pt = detect(files)
	}
	return slidesFor(dir, files, pt)
}

// Caption returns the trimmed caption text of dir, or "" when there is none
// or it cannot be read. UTF-8 is tried first, then latin-1.
func (c *Classifier) Caption(dir string) string {
	var data []byte
	found := false
	for _, name := range captionFiles {
		b, err := afero.ReadFile(c.fs, filepath.Join(dir, name))
		if err == nil {
			data, found = b, true
			break
		}
	}
	if !found {
		return ""
	}
	text, ok := decodeCaption(data)
	if !ok {
		return ""
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxCaptionLength {
		c.log.Warning("content: caption of %s truncated to %d characters", filepath.Base(dir), MaxCaptionLength)
		text = string([]rune(text)[:MaxCaptionLength])
	}
	return text
}

func decodeCaption(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), true
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func (c *Classifier) checkDir(dir string) error {
	name := filepath.Base(dir)
	info, err := c.fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return contentErr(name, ErrFolderNotFound)
		}
		return contentErr(name, err)
	}
	if !info.IsDir() {
		return contentErr(name, ErrNotDirectory)
	}
	return nil
}

// files returns the regular file names in dir.
func (c *Classifier) files(dir string) ([]string, error) {
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func detect(files []string) PostType {
	if len(matchNumbered(files, storyPatterns)) > 0 {
		return Story
	}
	if len(matchNumbered(files, slidePatterns)) > 1 {
		return Carousel
	}
	return Single
}

func slidesFor(dir string, files []string, pt PostType) []string {
	var names []string
	if pt == Story {
		names = matchNumbered(files, storyPatterns)
	} else {
		names = matchNumbered(files, slidePatterns)
	}
	if len(names) == 0 && pt != Story {
		for _, f := range files {
			if IsImage(f) {
				names = append(names, f)
			}
		}
		sort.Strings(names)
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths
}

type numbered struct {
	index int
	name  string
}

// matchNumbered returns the files matching any pattern, ordered by the
// captured index and then by file name. The first matching pattern wins.
func matchNumbered(files []string, patterns []*regexp.Regexp) []string {
	var found []numbered
	for _, f := range files {
		for _, re := range patterns {
			m := re.FindStringSubmatch(f)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				break
			}
			found = append(found, numbered{index: n, name: f})
			break
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].index != found[j].index {
			return found[i].index < found[j].index
		}
		return found[i].name < found[j].name
	})
	out := make([]string, len(found))
	for i, n := range found {
		out[i] = n.name
	}
	return out
}
