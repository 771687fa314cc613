package content

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
)

// PostedDir is the archive directory name inside the content root.
const PostedDir = "posted"

// archiveLayout is the timestamp suffix appended to archived folders.
const archiveLayout = "20060102_150405"

var reservedNames = map[string]bool{
	PostedDir:     true,
	"processed":   true,
	"__pycache__": true,
}

// Counts summarizes the content root.
type Counts struct {
	Pending int `json:"pending"`
	Posted  int `json:"posted"`
	Total   int `json:"total"`
}

// Library manages the local content root: pending folders waiting to be
// published and the timestamped archive of published ones.
type Library struct {
	fs   afero.Fs
	root string
	log  logger.Logger
}

// NewLibrary creates a library rooted at root and makes sure the root and
// its archive directory exist.
func NewLibrary(fs afero.Fs, root string, log logger.Logger) (*Library, error) {
	if err := fs.MkdirAll(filepath.Join(root, PostedDir), 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &Library{fs: fs, root: root, log: logger.OrNop(log)}, nil
}

// Root returns the content root directory.
func (l *Library) Root() string {
	return l.root
}

// Fs returns the filesystem the library reads from.
func (l *Library) Fs() afero.Fs {
	return l.fs
}

// Pending lists the paths of folders waiting to be published, sorted by
// case-insensitive name. Hidden, reserved and image-less folders are skipped.
func (l *Library) Pending() ([]string, error) {
	infos, err := afero.ReadDir(l.fs, l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list content root: %w", err)
	}
	var out []string
	for _, fi := range infos {
		if !fi.IsDir() || !validName(fi.Name()) {
			continue
		}
		dir := filepath.Join(l.root, fi.Name())
		if l.hasImage(dir) {
			out = append(out, dir)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(filepath.Base(out[i])) < strings.ToLower(filepath.Base(out[j]))
	})
	return out, nil
}

// Exists reports whether path is an existing directory.
func (l *Library) Exists(path string) bool {
	ok, err := afero.DirExists(l.fs, path)
	return err == nil && ok
}

// Lookup resolves a folder name to its path inside the content root.
func (l *Library) Lookup(name string) (string, error) {
	if !ValidName(name) {
		return "", contentErr(name, ErrInvalidName)
	}
	dir := filepath.Join(l.root, name)
	if !l.Exists(dir) {
		return "", contentErr(name, ErrFolderNotFound)
	}
	return dir, nil
}

// Archive moves a published folder to posted/<name>_<YYYYmmdd_HHMMSS>. An
// existing archive entry is never overwritten: a numeric suffix is added.
func (l *Library) Archive(dir string, now time.Time) (string, error) {
	if !l.Exists(dir) {
		return "", contentErr(filepath.Base(dir), ErrFolderNotFound)
	}
	base := filepath.Join(l.root, PostedDir, filepath.Base(dir)+"_"+now.Format(archiveLayout))
	dest := base
	for i := 2; ; i++ {
		_, err := l.fs.Stat(dest)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("archive %s: %w", filepath.Base(dir), err)
		}
		dest = fmt.Sprintf("%s-%d", base, i)
	}
	if err := l.fs.Rename(dir, dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(dir), err)
	}
	l.log.Info("content: archived %s to %s", filepath.Base(dir), dest)
	return dest, nil
}

// Delete removes a folder instead of archiving it.
func (l *Library) Delete(dir string) error {
	if !l.Exists(dir) {
		return contentErr(filepath.Base(dir), ErrFolderNotFound)
	}
	return l.fs.RemoveAll(dir)
}

// CleanupPosted removes archived folders older than days. Age comes from the
// timestamp in the archive name, falling back to the directory mtime. Folders
// that can not be removed are skipped and reported together in the error.
func (l *Library) CleanupPosted(days int, now time.Time) (int, error) {
	postedRoot := filepath.Join(l.root, PostedDir)
	infos, err := afero.ReadDir(l.fs, postedRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list archive: %w", err)
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	var errs *multierror.Error
	for _, fi := range infos {
		if !fi.IsDir() {
			continue
		}
		at, ok := archivedAt(fi.Name(), now.Location())
		if !ok {
			at = fi.ModTime()
		}
		if !at.Before(cutoff) {
			continue
		}
		if err := l.fs.RemoveAll(filepath.Join(postedRoot, fi.Name())); err != nil {
			l.log.Warning("content: failed to remove %s: %v", fi.Name(), err)
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", fi.Name(), err))
			continue
		}
		removed++
	}
	if removed > 0 {
		l.log.Info("content: removed %d archived folder(s) older than %d days", removed, days)
	}
	return removed, errs.ErrorOrNil()
}

// PostedNames returns the original names of archived folders.
func (l *Library) PostedNames() ([]string, error) {
	infos, err := afero.ReadDir(l.fs, filepath.Join(l.root, PostedDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			names = append(names, OriginalName(fi.Name()))
		}
	}
	return names, nil
}

// Counts returns pending and archived folder counts.
func (l *Library) Counts() (Counts, error) {
	pending, err := l.Pending()
	if err != nil {
		return Counts{}, err
	}
	posted, err := l.PostedNames()
	if err != nil {
		return Counts{}, err
	}
	return Counts{Pending: len(pending), Posted: len(posted), Total: len(pending) + len(posted)}, nil
}

// OriginalName strips the _<date>_<time> archive suffix from name.
func OriginalName(archived string) string {
	parts := strings.Split(archived, "_")
	if len(parts) < 3 {
		return archived
	}
	return strings.Join(parts[:len(parts)-2], "_")
}

func archivedAt(name string, loc *time.Location) (time.Time, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	if i := strings.IndexByte(stamp, '-'); i >= 0 {
		stamp = stamp[:i]
	}
	t, err := time.ParseInLocation(archiveLayout, stamp, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ValidName reports whether name can be a content folder: a single path
// element that is neither hidden nor reserved.
func ValidName(name string) bool {
	return validName(name) && !strings.ContainsAny(name, `/\`) && name != ".."
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !reservedNames[strings.ToLower(name)]
}

func (l *Library) hasImage(dir string) bool {
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return false
	}
	for _, fi := range infos {
		if fi.Mode().IsRegular() && IsImage(fi.Name()) {
			return true
		}
	}
	return false
}
