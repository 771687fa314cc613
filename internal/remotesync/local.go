package remotesync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalBackend treats a directory on fs as the remote store. It serves
// file:// URLs and mounted network shares.
type LocalBackend struct {
	fs   afero.Fs
	root string
}

func NewLocalBackend(fs afero.Fs, root string) *LocalBackend {
	return &LocalBackend{fs: fs, root: root}
}

func (b *LocalBackend) List(ctx context.Context) ([]RemoteFolder, error) {
	dirs, err := afero.ReadDir(b.fs, b.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.root, err)
	}
	var out []RemoteFolder
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(b.root, d.Name())
		files, err := afero.ReadDir(b.fs, dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		rf := RemoteFolder{Name: d.Name(), Path: dir}
		for _, f := range files {
			if f.Mode().IsRegular() {
				rf.Files = append(rf.Files, RemoteFile{Name: f.Name(), Size: f.Size()})
			}
		}
		out = append(out, rf)
	}
	sortFolders(out)
	return out, nil
}

func (b *LocalBackend) Open(_ context.Context, folder RemoteFolder, file RemoteFile) (io.ReadCloser, error) {
	return b.fs.Open(filepath.Join(folder.Path, file.Name))
}

func (b *LocalBackend) Close() error { return nil }
