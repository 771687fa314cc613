// Package session stores the publishing session token between restarts,
// in the operating system keyring when one is available and in a 0600 file
// otherwise.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

// ErrNoSession is returned by Load when nothing is stored.
var ErrNoSession = errors.New("no stored session")

// Store persists a single session token.
type Store interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

const (
	// ServiceName is the keyring service entries are stored under.
	ServiceName = "slotpost"
	fileMode    = 0600
	fileDirMode = 0700
	tmpSuffix   = ".tmp"
)

type fileRecord struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// FileStore keeps the token in a JSON file.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore returns a FileStore writing to path on fsys.
func NewFileStore(fsys afero.Fs, path string) *FileStore {
	return &FileStore{fs: fsys, path: path}
}

func (f *FileStore) Load() (string, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode session file: %w", err)
	}
	if rec.Token == "" {
		return "", ErrNoSession
	}
	return rec.Token, nil
}

func (f *FileStore) Save(token string) error {
	if err := f.fs.MkdirAll(filepath.Dir(f.path), fileDirMode); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(fileRecord{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := f.path + tmpSuffix
	if err := afero.WriteFile(f.fs, tmp, data, fileMode); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	err := f.fs.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

// KeyringStore keeps the token in the OS keyring under ServiceName and the
// given user. When the keyring is unusable every call falls through to the
// fallback store.
type KeyringStore struct {
	User     string
	fallback Store
	log      logger.Logger
}

// NewKeyringStore returns a keyring-backed store. fallback may be nil.
func NewKeyringStore(user string, fallback Store, l logger.Logger) *KeyringStore {
	if user == "" {
		user = "default"
	}
	return &KeyringStore{User: user, fallback: fallback, log: logger.OrNop(l)}
}

func (k *KeyringStore) Load() (string, error) {
	token, err := keyringGet(ServiceName, k.User)
	if err == nil && token != "" {
		return token, nil
	}
	if errors.Is(err, keyring.ErrNotFound) || err == nil {
		if k.fallback != nil {
			return k.fallback.Load()
		}
		return "", ErrNoSession
	}
	return k.fallbackOr("load", err, func(s Store) (string, error) { return s.Load() })
}

func (k *KeyringStore) Save(token string) error {
	err := keyringSet(ServiceName, k.User, token)
	if err == nil {
		return nil
	}
	_, err = k.fallbackOr("save", err, func(s Store) (string, error) { return "", s.Save(token) })
	return err
}

func (k *KeyringStore) Clear() error {
	err := keyringDelete(ServiceName, k.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		k.log.Warning("session: keyring delete: %v", err)
	}
	if k.fallback != nil {
		return k.fallback.Clear()
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (k *KeyringStore) fallbackOr(op string, kerr error, fn func(Store) (string, error)) (string, error) {
	if k.fallback == nil {
		return "", fmt.Errorf("keyring %s: %w", op, kerr)
	}
	k.log.Warning("session: keyring %s failed (%v), using file store", op, kerr)
	return fn(k.fallback)
}
