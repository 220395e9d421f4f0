package store

import (
	"fmt"
	"strings"
)

// PRKeyStore persists the reservation key recorded per wwid, one
// "<hex-key> <wwid>" per line; a key beginning with an upper-case X
// carries the APTPL (persist-through-power-loss) flag, per §6.
type PRKeyStore struct {
	*FileStore
}

// NewPRKeyStore opens the prkeys file at path.
func NewPRKeyStore(path string) *PRKeyStore {
	return &PRKeyStore{FileStore: newFileStore(path, recordCodec{
		parse: func(line string) (string, string, bool) {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return "", "", false
			}
			key, wwid := fields[0], fields[1]
			if key == "" || wwid == "" {
				return "", "", false
			}
			return wwid, key, true
		},
		format: func(wwid, key string) string {
			return fmt.Sprintf("%s %s", key, wwid)
		},
	})}
}

// LookupKey returns the raw hex key on disk for wwid, along with whether
// it carries the APTPL flag.
func (s *PRKeyStore) LookupKey(wwid string) (key string, aptpl bool, ok bool, err error) {
	raw, ok, err := s.Lookup(wwid)
	if err != nil || !ok {
		return "", false, ok, err
	}
	aptpl = strings.HasPrefix(raw, "X")
	key = strings.TrimPrefix(raw, "X")
	return key, aptpl, true, nil
}

// SetKey records key for wwid, prefixing it with "X" when aptpl is set.
func (s *PRKeyStore) SetKey(wwid, key string, aptpl bool) error {
	raw := key
	if aptpl {
		raw = "X" + key
	}
	return s.Add(wwid, raw)
}

// ClearKey drops the recorded key for wwid, mirroring the rule that a
// successful register of the zero key clears the persistence record.
func (s *PRKeyStore) ClearKey(wwid string) error {
	return s.Remove(wwid)
}
