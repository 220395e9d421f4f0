// Package store implements the on-disk wwids/prkeys/bindings persistence
// (C9): line-oriented, append-mostly key/value files behind a lookup /
// insert / remove / replace-all interface, guarded by advisory file
// locking so multiple processes touching the same file never interleave
// writes.
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("store")

// dirMode/fileMode mirror the permission bits the teacher's persist/fs and
// virtcontainers/store backends use for their on-disk state.
const (
	dirMode  = os.FileMode(0700) | os.ModeDir
	fileMode = os.FileMode(0600)
)

// KVStore is the minimal persistence contract every on-disk store in this
// package satisfies: lookup, insert-or-update, remove, and an atomic
// replace of the entire contents.
type KVStore interface {
	Lookup(key string) (value string, ok bool, err error)
	Add(key, value string) error
	Remove(key string) error
	ReplaceAll(entries map[string]string) error
	All() (map[string]string, error)
}

// recordCodec parses one non-comment, non-blank line into a key/value
// pair and renders a key/value pair back into a line, so the same
// flock+rewrite machinery serves the wwids, prkeys, and bindings formats
// even though their column layouts differ.
type recordCodec struct {
	parse  func(line string) (key, value string, ok bool)
	format func(key, value string) string
	header string
}

// FileStore is a KVStore backed by a single line-oriented file, protected
// by an advisory exclusive lock for the duration of every mutation and a
// shared lock for reads.
type FileStore struct {
	path  string
	codec recordCodec
}

func newFileStore(path string, codec recordCodec) *FileStore {
	return &FileStore{path: path, codec: codec}
}

func (s *FileStore) open(flag int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, fmt.Errorf("store: create parent dir: %w", err)
	}
	f, err := os.OpenFile(s.path, flag, fileMode)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", s.path, err)
	}
	return f, nil
}

func flock(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	return unix.Flock(int(f.Fd()), how)
}

func funlock(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		log.WithField("path", f.Name()).WithError(err).Warn("failed to release advisory lock")
	}
}

func (s *FileStore) readLocked(f *os.File) (map[string]string, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := s.codec.parse(line)
		if !ok {
			log.WithField("path", s.path).WithField("line", line).Warn("skipping malformed record")
			continue
		}
		out[key] = value
	}
	return out, sc.Err()
}

func (s *FileStore) writeLocked(f *os.File, entries map[string]string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if s.codec.header != "" {
		if _, err := fmt.Fprintln(w, s.codec.header); err != nil {
			return err
		}
	}
	for key, value := range entries {
		if _, err := fmt.Fprintln(w, s.codec.format(key, value)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// All returns every record currently on disk.
func (s *FileStore) All() (map[string]string, error) {
	f, err := s.open(os.O_RDONLY | os.O_CREATE)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := flock(f, false); err != nil {
		return nil, fmt.Errorf("store: lock %s: %w", s.path, err)
	}
	defer funlock(f)
	return s.readLocked(f)
}

// Lookup returns the value recorded for key, if any.
func (s *FileStore) Lookup(key string) (string, bool, error) {
	entries, err := s.All()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

// Add inserts or overwrites the record for key.
func (s *FileStore) Add(key, value string) error {
	f, err := s.open(os.O_RDWR | os.O_CREATE)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := flock(f, true); err != nil {
		return fmt.Errorf("store: lock %s: %w", s.path, err)
	}
	defer funlock(f)

	entries, err := s.readLocked(f)
	if err != nil {
		return err
	}
	entries[key] = value
	return s.writeLocked(f, entries)
}

// Remove deletes the record for key, if present. Removing an absent key
// is not an error.
func (s *FileStore) Remove(key string) error {
	f, err := s.open(os.O_RDWR | os.O_CREATE)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := flock(f, true); err != nil {
		return fmt.Errorf("store: lock %s: %w", s.path, err)
	}
	defer funlock(f)

	entries, err := s.readLocked(f)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.writeLocked(f, entries)
}

// ReplaceAll atomically discards the current contents and writes entries
// in their place.
func (s *FileStore) ReplaceAll(entries map[string]string) error {
	f, err := s.open(os.O_RDWR | os.O_CREATE)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := flock(f, true); err != nil {
		return fmt.Errorf("store: lock %s: %w", s.path, err)
	}
	defer funlock(f)
	return s.writeLocked(f, entries)
}
