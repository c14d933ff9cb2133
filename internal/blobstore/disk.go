package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceTime coalesces bursts of filesystem events (a single logical
// operation often touches several files) into one change notification.
const debounceTime = 100 * time.Millisecond

// DiskStore persists blobs as files under a root directory, one file per
// key. It is the adapter used when the core runs against a local directory
// instead of browser storage. An fsnotify watcher can be started to learn
// about external mutation of the backing directory.
type DiskStore struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	closed  bool
}

// NewDiskStore creates (if needed) the root directory and returns a store
// over it. logger may be nil, in which case slog.Default() is used.
func NewDiskStore(root string, logger *slog.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolving root: %w", err)
	}
	return &DiskStore{root: abs, logger: logger}, nil
}

// Root returns the absolute path of the backing directory.
func (s *DiskStore) Root() string { return s.root }

// keyPath maps a store key to a path under root, rejecting keys that would
// escape it.
func (s *DiskStore) keyPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Get returns the value stored at key, or ErrKeyNotFound.
func (s *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is rooted and ".."-free
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("blobstore: reading %s: %w", key, err)
	}
	return data, nil
}

// Set writes value at key via a temporary file and rename, so concurrent
// readers never observe a partial value.
func (s *DiskStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blobstore: creating parent of %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("blobstore: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("blobstore: closing temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("blobstore: renaming into %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: deleting %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key has a value.
func (s *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// List returns all keys beginning with prefix.
func (s *DiskStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("blobstore: listing %q: %w", prefix, walkErr)
	}
	return keys, nil
}

// GetBatch returns values for all keys that exist.
func (s *DiskStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			if err == ErrKeyNotFound {
				continue
			}
			return nil, err
		}
		result[key] = value
	}
	return result, nil
}

// SetBatch stores every entry.
func (s *DiskStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBatch removes every key.
func (s *DiskStore) DeleteBatch(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Quota reports total bytes under root. Disk stores have no enforced quota.
func (s *DiskStore) Quota(ctx context.Context) (QuotaInfo, error) {
	if err := ctx.Err(); err != nil {
		return QuotaInfo{}, err
	}
	var usage int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // skip unreadable entries
		}
		info, infoErr := d.Info()
		if infoErr == nil {
			usage += info.Size()
		}
		return nil
	})
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("blobstore: computing usage: %w", err)
	}
	return QuotaInfo{Usage: usage}, nil
}

// StartWatching begins observing the backing directory for external changes.
// Subsequent Changes() receives get one coalesced signal per burst of events.
// fsnotify does not recurse, so every existing subdirectory is watched
// explicitly and newly created directories are added as they appear.
func (s *DiskStore) StartWatching() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("blobstore: creating watcher: %w", err)
	}

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				s.logger.Warn("Failed to watch directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
	if walkErr != nil {
		_ = watcher.Close()
		return fmt.Errorf("blobstore: walking root for watches: %w", walkErr)
	}

	s.watcher = watcher
	s.changes = make(chan struct{}, 1)
	s.done = make(chan struct{})
	go s.watchLoop(watcher, s.changes, s.done)

	s.logger.Info("Watching blob store for changes", "root", s.root)
	return nil
}

// Changes implements Notifier. Returns nil if StartWatching was never called.
func (s *DiskStore) Changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes
}

// Close stops the watcher, if any. The store itself needs no teardown.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.done != nil {
		close(s.done)
	}
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *DiskStore) watchLoop(watcher *fsnotify.Watcher, changes chan struct{}, done chan struct{}) {
	defer close(changes)

	var debounceTimer *time.Timer

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if shouldIgnoreEvent(event) {
				continue
			}

			// Watch directories as they are created so that nested keys
			// (e.g. the first ref under refs/remotes/origin) are covered.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if addErr := watcher.Add(event.Name); addErr != nil {
						s.logger.Warn("Failed to watch new directory", "dir", event.Name, "err", addErr)
					}
				}
			}

			s.logger.Debug("Store change detected", "file", filepath.Base(event.Name), "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceTime, func() {
				select {
				case changes <- struct{}{}:
				default: // a signal is already pending
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Watcher error", "err", err)
		}
	}
}

// shouldIgnoreEvent filters events for temp files and uninteresting ops.
func shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	return strings.HasPrefix(base, ".tmp-")
}
