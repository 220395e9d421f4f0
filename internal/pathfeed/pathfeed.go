// Package pathfeed decodes the newline-delimited JSON path-admission
// events the cmd entrypoints read from stdin or a snapshot file. It
// stands in for the real event source (the udev monitor loop and sysfs
// scan), which is an external collaborator out of scope for this
// repository: whatever feeds that pipe is responsible for resolving a
// path's devnode, dev_t, SCSI inquiry strings and wwid.
package pathfeed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// Kind distinguishes a path coming up from one going away.
type Kind string

const (
	Add    Kind = "add"
	Remove Kind = "remove"
)

// Event is one line of the feed: either a fully described path to admit,
// or a devnode to remove.
type Event struct {
	Kind Kind `json:"kind"`

	Devnode  string `json:"devnode"`
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	Vendor   string `json:"vendor"`
	Product  string `json:"product"`
	Revision string `json:"revision"`
	WWID     string `json:"wwid"`
	Serial   string `json:"serial"`
	NodeName string `json:"node_name"`
	TPGID    int    `json:"tpgid"`
}

// Path converts an Add event into the topology.Path the engine expects.
// Callers must not call this on a Remove event.
func (e Event) Path() *topology.Path {
	return &topology.Path{
		Devnode:  e.Devnode,
		Major:    e.Major,
		Minor:    e.Minor,
		Vendor:   e.Vendor,
		Product:  e.Product,
		Revision: e.Revision,
		WWID:     e.WWID,
		Serial:   e.Serial,
		NodeName: e.NodeName,
		TPGID:    e.TPGID,
	}
}

// Decode reads one JSON object per line from r, skipping blank lines and
// "#"-prefixed comments, and validates each event's Kind.
func Decode(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("pathfeed: line %d: %w", lineNo, err)
		}
		if ev.Kind != Add && ev.Kind != Remove {
			return nil, fmt.Errorf("pathfeed: line %d: unknown kind %q", lineNo, ev.Kind)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pathfeed: %w", err)
	}
	return events, nil
}
