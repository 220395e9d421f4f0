package store

import (
	"fmt"
	"strings"
)

// BindingStore persists the alias assigned to each wwid, one
// "<alias> <wwid>" per line, per §6. The underlying FileStore is keyed by
// wwid (the immutable identity); WWIDFor provides the reverse lookup
// a fresh bootstrap or collision check needs.
type BindingStore struct {
	*FileStore
}

// NewBindingStore opens the bindings file at path.
func NewBindingStore(path string) *BindingStore {
	return &BindingStore{FileStore: newFileStore(path, recordCodec{
		parse: func(line string) (string, string, bool) {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return "", "", false
			}
			alias, wwid := fields[0], fields[1]
			if alias == "" || wwid == "" {
				return "", "", false
			}
			return wwid, alias, true
		},
		format: func(wwid, alias string) string {
			return fmt.Sprintf("%s %s", alias, wwid)
		},
	})}
}

// AliasFor returns the alias bound to wwid, if any.
func (s *BindingStore) AliasFor(wwid string) (string, bool, error) {
	return s.Lookup(wwid)
}

// WWIDFor scans the store for the wwid currently bound to alias; returns
// ok=false if no binding claims it.
func (s *BindingStore) WWIDFor(alias string) (string, bool, error) {
	entries, err := s.All()
	if err != nil {
		return "", false, err
	}
	for wwid, a := range entries {
		if a == alias {
			return wwid, true, nil
		}
	}
	return "", false, nil
}

// Bind records alias for wwid.
func (s *BindingStore) Bind(wwid, alias string) error {
	return s.Add(wwid, alias)
}

// Unbind drops the binding for wwid.
func (s *BindingStore) Unbind(wwid string) error {
	return s.Remove(wwid)
}
