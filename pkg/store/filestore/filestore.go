// Package filestore provides local-filesystem persistence for
// reusablestore. Items are gob-encoded, one file per key, written with
// an atomic rename and laid out squid-style in two-character hash
// subdirectories.
package filestore

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/goobs/reusablestore/pkg/store"
)

const fileExt = ".gob"

var (
	writerPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(nil, 4096)
		},
	}
	readerPool = sync.Pool{
		New: func() any {
			return bufio.NewReaderSize(nil, 4096)
		},
	}
)

// Store implements store.Store using local files.
type Store struct {
	dir         string
	subdirsMu   sync.RWMutex
	subdirsMade map[string]bool // cache of created subdirectories
}

// New creates a file-based store. cacheID names the subdirectory under
// dir, or under os.UserCacheDir() when dir is empty.
func New(cacheID, dir string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if strings.Contains(cacheID, "..") || strings.Contains(cacheID, "/") || strings.Contains(cacheID, "\\") {
		return nil, errors.New("invalid cacheID: contains path separators or traversal sequences")
	}
	if strings.Contains(cacheID, "\x00") {
		return nil, errors.New("invalid cacheID: contains null byte")
	}

	if dir == "" {
		baseDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get user cache dir: %w", err)
		}
		dir = baseDir
	}
	fullDir := filepath.Join(dir, cacheID)

	if err := os.MkdirAll(fullDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	slog.Debug("initialized file store", "dir", fullDir)

	return &Store{
		dir:         fullDir,
		subdirsMade: make(map[string]bool),
	}, nil
}

// filename converts a backend key to a path with squid-style layout.
// Keys are hashed, so any identifier/storeName characters are allowed.
func (s *Store) filename(identifier, storeName string) string {
	h := fmt.Sprintf("%016x", xxhash.Sum64String(store.Key(identifier, storeName)))
	return filepath.Join(s.dir, h[:2], h+fileExt)
}

// Get retrieves an item from its file. Corrupted and expired files are
// removed and reported as misses.
func (s *Store) Get(_ context.Context, identifier, storeName string) (store.Item, bool, error) {
	filename := s.filename(identifier, storeName)

	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return store.Item{}, false, nil
		}
		return store.Item{}, false, fmt.Errorf("open file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("failed to close file", "file", filename, "error", err)
		}
	}()

	reader := readerPool.Get().(*bufio.Reader)
	reader.Reset(file)
	defer readerPool.Put(reader)

	var item store.Item
	if err := gob.NewDecoder(reader).Decode(&item); err != nil {
		// File corrupted, remove it
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			slog.Debug("failed to remove corrupted file", "file", filename, "error", err)
		}
		return store.Item{}, false, nil
	}

	if item.Expired(time.Now()) {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			slog.Debug("failed to remove expired file", "file", filename, "error", err)
		}
		return store.Item{}, false, nil
	}

	return item, true, nil
}

// Set saves an item to its file via a temp file and atomic rename.
func (s *Store) Set(_ context.Context, item store.Item) error {
	filename := s.filename(item.Identifier, item.StoreName)
	subdir := filepath.Dir(filename)

	s.subdirsMu.RLock()
	exists := s.subdirsMade[subdir]
	s.subdirsMu.RUnlock()

	if !exists {
		if err := os.MkdirAll(subdir, 0o750); err != nil {
			return fmt.Errorf("create subdirectory: %w", err)
		}
		s.subdirsMu.Lock()
		s.subdirsMade[subdir] = true
		s.subdirsMu.Unlock()
	}

	tempFile := filename + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	writer := writerPool.Get().(*bufio.Writer)
	writer.Reset(file)

	encErr := gob.NewEncoder(writer).Encode(item)
	if encErr == nil {
		encErr = writer.Flush()
	}
	writerPool.Put(writer)

	closeErr := file.Close()

	if encErr != nil {
		removeQuietly(tempFile, "encode error")
		return fmt.Errorf("encode item: %w", encErr)
	}
	if closeErr != nil {
		removeQuietly(tempFile, "close error")
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		removeQuietly(tempFile, "rename error")
		return fmt.Errorf("rename file: %w", err)
	}

	return nil
}

func removeQuietly(filename, reason string) {
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove temp file", "file", filename, "reason", reason, "error", err)
	}
}

// Remove deletes an item's file. An absent file is not an error.
func (s *Store) Remove(_ context.Context, identifier, storeName string) error {
	filename := s.filename(identifier, storeName)
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Clear removes every entry file.
func (s *Store) Clear(ctx context.Context) (int, error) {
	removed := 0
	err := s.walk(ctx, func(path string) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// Len returns the number of entry files.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.walk(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

// walk visits every entry file under the store directory.
func (s *Store) walk(ctx context.Context, visit func(path string) error) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			slog.Warn("error walking cache dir", "path", path, "error", err)
			return nil // continue walking
		}
		if d.IsDir() || filepath.Ext(d.Name()) != fileExt {
			return nil
		}
		return visit(path)
	})
}

// LoadRecent streams up to limit most recently updated live entries.
// Corrupted and expired files are removed along the way.
func (s *Store) LoadRecent(ctx context.Context, limit int) (<-chan store.Item, <-chan error) {
	itemCh := make(chan store.Item, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(itemCh)
		defer close(errCh)

		now := time.Now()
		expired := 0
		var items []store.Item

		err := s.walk(ctx, func(path string) error {
			item, ok := s.readFile(path)
			if !ok {
				return nil
			}
			if item.Expired(now) {
				removeQuietly(path, "expired")
				expired++
				return nil
			}
			items = append(items, item)
			return nil
		})
		if err != nil {
			errCh <- fmt.Errorf("walk dir: %w", err)
			return
		}

		sort.Slice(items, func(i, j int) bool {
			return items[i].LastUpdated.After(items[j].LastUpdated)
		})

		loaded := 0
		for _, item := range items {
			if limit > 0 && loaded >= limit {
				break
			}
			itemCh <- item
			loaded++
		}

		slog.Info("loaded cache entries from disk", "loaded", loaded, "expired", expired, "total", len(items))
	}()

	return itemCh, errCh
}

// readFile decodes one entry file, deleting it if corrupted.
func (s *Store) readFile(path string) (store.Item, bool) {
	file, err := os.Open(path)
	if err != nil {
		slog.Warn("failed to open cache file", "file", path, "error", err)
		return store.Item{}, false
	}

	reader := readerPool.Get().(*bufio.Reader)
	reader.Reset(file)

	var item store.Item
	decErr := gob.NewDecoder(reader).Decode(&item)
	readerPool.Put(reader)
	if err := file.Close(); err != nil {
		slog.Debug("failed to close file", "file", path, "error", err)
	}

	if decErr != nil {
		slog.Warn("failed to decode cache file", "file", path, "error", decErr)
		removeQuietly(path, "corrupted")
		return store.Item{}, false
	}
	return item, true
}

// Cleanup removes entries that expired more than maxAge ago.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.walk(ctx, func(path string) error {
		item, ok := s.readFile(path)
		if !ok {
			return nil
		}
		if !item.ExpiresAt.IsZero() && item.ExpiresAt.Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Debug("failed to remove expired file", "file", path, "error", err)
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		slog.Info("cleaned up expired file entries", "count", deleted, "dir", s.dir)
	}
	return deleted, nil
}

// Close is a no-op for file-based persistence.
func (*Store) Close() error {
	return nil
}
