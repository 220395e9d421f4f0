package store

import (
	"fmt"
	"strings"
)

// WWIDStore persists the set of wwids multipath has ever claimed, one
// "/<wwid>/" per line, per §6's on-disk format. It is a set rather than a
// true key/value mapping, but is built on the same FileStore machinery:
// each record's key and value are both the wwid.
type WWIDStore struct {
	*FileStore
}

// NewWWIDStore opens (without yet touching disk) the wwids file at path.
func NewWWIDStore(path string) *WWIDStore {
	return &WWIDStore{FileStore: newFileStore(path, recordCodec{
		parse: func(line string) (string, string, bool) {
			if !strings.HasPrefix(line, "/") || !strings.HasSuffix(line, "/") || len(line) < 2 {
				return "", "", false
			}
			wwid := line[1 : len(line)-1]
			if wwid == "" {
				return "", "", false
			}
			return wwid, wwid, true
		},
		format: func(key, _ string) string {
			return fmt.Sprintf("/%s/", key)
		},
	})}
}

// Has reports whether wwid is already recorded.
func (s *WWIDStore) Has(wwid string) (bool, error) {
	_, ok, err := s.Lookup(wwid)
	return ok, err
}

// Remember records wwid, a no-op if it is already present.
func (s *WWIDStore) Remember(wwid string) error {
	return s.Add(wwid, wwid)
}

// Forget removes wwid from the store.
func (s *WWIDStore) Forget(wwid string) error {
	return s.Remove(wwid)
}
