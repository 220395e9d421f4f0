package dmtable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// tokenizer walks a space-separated parameter string one word at a time,
// the Go equivalent of get_word()'s pointer-advancing scan.
type tokenizer struct {
	words []string
	pos   int
}

func newTokenizer(params string) *tokenizer {
	return &tokenizer{words: strings.Fields(params)}
}

func (t *tokenizer) next() (string, bool) {
	if t.pos >= len(t.words) {
		return "", false
	}
	w := t.words[t.pos]
	t.pos++
	return w, true
}

func (t *tokenizer) nextInt() (int, error) {
	w, ok := t.next()
	if !ok {
		return 0, fmt.Errorf("dmtable: unexpected end of table string")
	}
	n, err := strconv.Atoi(w)
	if err != nil {
		return 0, fmt.Errorf("dmtable: expected integer, got %q: %w", w, err)
	}
	return n, nil
}

func (t *tokenizer) skip(n int) {
	for i := 0; i < n && t.pos < len(t.words); i++ {
		t.pos++
	}
}

// Disassemble parses a DM_TABLE_LOAD/DM_TABLE_STATUS parameter string
// into m, replacing its Features, Hwhandler, Pathgroups and NextPG,
// setting Minio from the path arguments, and setting Selector only when m
// has none yet. Every referenced device is attached to mh; one not already
// known to v is first added as a new path carrying only its devt,
// mirroring disassemble_map's documented caveat that callers must follow
// up with a path rescan to populate the rest of that path's fields.
func Disassemble(v *topology.Vectors, mh topology.MapHandle, params string) error {
	m := v.Map(mh)
	if m == nil {
		return fmt.Errorf("dmtable: unknown map handle %d", mh)
	}

	tok := newTokenizer(params)

	numFeatures, err := tok.nextInt()
	if err != nil {
		return fmt.Errorf("dmtable: reading feature count: %w", err)
	}
	featureWords := make([]string, 0, numFeatures+1)
	featureWords = append(featureWords, strconv.Itoa(numFeatures))
	for i := 0; i < numFeatures; i++ {
		w, ok := tok.next()
		if !ok {
			return fmt.Errorf("dmtable: truncated feature list")
		}
		featureWords = append(featureWords, w)
	}
	m.Features = strings.Join(featureWords, " ")

	hwhandlerCount, err := tok.nextInt()
	if err != nil {
		return fmt.Errorf("dmtable: reading hwhandler count: %w", err)
	}
	hwWords := make([]string, 0, hwhandlerCount+1)
	hwWords = append(hwWords, strconv.Itoa(hwhandlerCount))
	for i := 0; i < hwhandlerCount; i++ {
		w, ok := tok.next()
		if !ok {
			return fmt.Errorf("dmtable: truncated hwhandler list")
		}
		hwWords = append(hwWords, w)
	}
	m.Hwhandler = strings.Join(hwWords, " ")

	numPG, err := tok.nextInt()
	if err != nil {
		return fmt.Errorf("dmtable: reading path group count: %w", err)
	}
	nextPG, err := tok.nextInt()
	if err != nil {
		return fmt.Errorf("dmtable: reading initial path group: %w", err)
	}
	m.NextPG = nextPG

	groups := make([]*topology.Pathgroup, 0, numPG)
	for i := 0; i < numPG; i++ {
		selectorName, ok := tok.next()
		if !ok {
			return fmt.Errorf("dmtable: truncated selector")
		}
		selectorArgs, err := tok.nextInt()
		if err != nil {
			return fmt.Errorf("dmtable: reading selector arg count: %w", err)
		}
		if m.Selector == "" {
			m.Selector = fmt.Sprintf("%s %d", selectorName, selectorArgs)
		}
		tok.skip(selectorArgs)

		numPaths, err := tok.nextInt()
		if err != nil {
			return fmt.Errorf("dmtable: reading path count: %w", err)
		}
		numPathArgs, err := tok.nextInt()
		if err != nil {
			return fmt.Errorf("dmtable: reading path arg count: %w", err)
		}

		pg := &topology.Pathgroup{}
		for j := 0; j < numPaths; j++ {
			devt, ok := tok.next()
			if !ok {
				return fmt.Errorf("dmtable: truncated path list")
			}

			h, ok := findOrAddPathByDevT(v, devt)
			if !ok {
				return fmt.Errorf("dmtable: malformed dev_t %q", devt)
			}
			path := v.Path(h)
			path.Map = mh

			for k := 0; k < numPathArgs; k++ {
				w, ok := tok.next()
				if !ok {
					return fmt.Errorf("dmtable: truncated path args")
				}
				if k != 0 {
					continue
				}
				// first path arg is minio; round-robin additionally
				// reports it pre-multiplied by priority under
				// RRWeightPrio, so undo that to recover the
				// configured base value.
				minio, err := strconv.Atoi(w)
				if err != nil {
					continue
				}
				if m.RRWeight == topology.RRWeightPrio &&
					strings.HasPrefix(m.Selector, "round-robin") && path.Priority > 0 {
					minio /= path.Priority
				}
				m.Minio = minio
			}

			pg.Paths = append(pg.Paths, h)
		}
		groups = append(groups, pg)
	}

	m.Pathgroups = groups
	return nil
}

// findOrAddPathByDevT resolves a "major:minor" token to a path handle,
// creating a bare orphan path for it if this is the first time it has
// been seen -- the "adds them uninitialized to the mpp" behavior
// disassemble_map documents, which relies on a subsequent path rescan to
// fill in the rest of the record.
func findOrAddPathByDevT(v *topology.Vectors, devt string) (topology.PathHandle, bool) {
	major, minor, ok := parseDevT(devt)
	if !ok {
		return 0, false
	}
	if h, found := v.FindPathByDevT(major, minor); found {
		return h, true
	}
	return v.AddPath(&topology.Path{Major: major, Minor: minor, Init: topology.InitPartial}), true
}

func parseDevT(devt string) (major, minor int, ok bool) {
	parts := strings.SplitN(devt, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}
