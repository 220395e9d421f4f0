package topology

import (
	"sync"

	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("topology")

// FreeMode selects how Vectors.RemoveMap disposes of the map's path
// vector: KeepPaths leaves the paths in the global path vector (orphaned),
// FreePaths also drops them from the path vector.
type FreeMode int

const (
	KeepPaths FreeMode = iota
	FreePaths
)

// Vectors is the path collection and map collection, guarded by a single
// coarse mutex held for the duration of a full reconciliation pass, per the
// single-threaded scheduling model this engine uses.
type Vectors struct {
	mu sync.Mutex

	paths []*Path
	maps  []*Multipath
}

// NewVectors returns an empty path/map collection.
func NewVectors() *Vectors {
	return &Vectors{}
}

// Lock/Unlock expose the coarse mutex so a caller can hold it across a full
// reconciliation pass (coalesce + domap), matching the source's "lock for
// the duration of a pass" model rather than locking per-lookup.
func (v *Vectors) Lock()   { v.mu.Lock() }
func (v *Vectors) Unlock() { v.mu.Unlock() }

// AddPath appends a new orphan path to the path vector and returns its
// handle.
func (v *Vectors) AddPath(p *Path) PathHandle {
	p.Map = NoMap
	v.paths = append(v.paths, p)
	return PathHandle(len(v.paths) - 1)
}

// Path dereferences a handle. Returns nil for an out-of-range handle.
func (v *Vectors) Path(h PathHandle) *Path {
	if h < 0 || int(h) >= len(v.paths) {
		return nil
	}
	return v.paths[h]
}

// Paths returns the full path vector in insertion order. The returned slice
// is owned by Vectors; callers must not retain it across a mutation.
func (v *Vectors) Paths() []*Path {
	return v.paths
}

// AddMap appends a new, pathgroup-less map and returns its handle.
func (v *Vectors) AddMap(m *Multipath) MapHandle {
	v.maps = append(v.maps, m)
	return MapHandle(len(v.maps) - 1)
}

// Map dereferences a handle. Returns nil for an out-of-range handle.
func (v *Vectors) Map(h MapHandle) *Multipath {
	if h < 0 || int(h) >= len(v.maps) {
		return nil
	}
	return v.maps[h]
}

// Maps returns the full map vector.
func (v *Vectors) Maps() []*Multipath {
	return v.maps
}

// FindPathByDevnode returns the handle of the path with the given devnode,
// or (0, false).
func (v *Vectors) FindPathByDevnode(devnode string) (PathHandle, bool) {
	for i, p := range v.paths {
		if p.Devnode == devnode {
			return PathHandle(i), true
		}
	}
	return 0, false
}

// FindPathByDevT returns the handle of the path with the given
// major:minor, or (0, false).
func (v *Vectors) FindPathByDevT(major, minor int) (PathHandle, bool) {
	for i, p := range v.paths {
		if p.Major == major && p.Minor == minor {
			return PathHandle(i), true
		}
	}
	return 0, false
}

// FindMapByWWID returns the map with the given wwid, or nil.
func (v *Vectors) FindMapByWWID(wwid string) *Multipath {
	for _, m := range v.maps {
		if m.WWID == wwid {
			return m
		}
	}
	return nil
}

// FindMapByAlias returns the map with the given alias, or nil.
func (v *Vectors) FindMapByAlias(alias string) *Multipath {
	for _, m := range v.maps {
		if m.Alias == alias {
			return m
		}
	}
	return nil
}

// FindMapByMinor returns the map whose alias matches a devmapper device
// name of the form "<alias>" resolved by the caller from a minor number;
// kept as a thin indirection point so callers that already resolved a
// minor to a name via the kernel client can look the map up uniformly.
func (v *Vectors) FindMapByMinor(nameFromMinor string) *Multipath {
	return v.FindMapByAlias(nameFromMinor)
}

// OrphanPath detaches a path from its owning map, logs reason, and resets
// its checker/prioritizer state while preserving its wwid -- mirroring
// orphan_path()'s contract in the source this topology model was adapted
// from.
func (v *Vectors) OrphanPath(h PathHandle, reason string) {
	p := v.Path(h)
	if p == nil {
		return
	}
	if m := v.Map(p.Map); m != nil {
		for _, g := range m.Pathgroups {
			g.Paths = removeHandle(g.Paths, h)
		}
	}
	log.WithField("path", p.Devnode).WithField("reason", reason).Debug("orphaning path")
	p.Map = NoMap
	p.GroupIndex = -1
	p.CheckerState = PathUnchecked
	p.Priority = UndefPriority
	p.CheckerName = ""
	p.PrioritizerName = ""
}

func removeHandle(hs []PathHandle, target PathHandle) []PathHandle {
	out := hs[:0]
	for _, h := range hs {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// RemoveMap drops a map from the map vector. If mode is FreePaths, every
// path still pointing at it is also dropped from the path vector;
// otherwise those paths are orphaned (kept in the path vector, per the
// "a path with state removed is kept in the path vector until it is
// removed from the kernel table" invariant).
func (v *Vectors) RemoveMap(h MapHandle, mode FreeMode) {
	m := v.Map(h)
	if m == nil {
		return
	}
	if mode == KeepPaths {
		for i, p := range v.paths {
			if p.Map == h {
				v.OrphanPath(PathHandle(i), "map removed")
			}
		}
	} else {
		kept := v.paths[:0]
		for i, p := range v.paths {
			if p.Map != h {
				kept = append(kept, p)
			} else {
				_ = i
			}
		}
		v.paths = kept
	}
	v.maps = append(v.maps[:h], v.maps[h+1:]...)
	v.reindexMaps(h)
}

// reindexMaps fixes up path.Map handles after removing the map at
// removed: every map index above it shifted down by one.
func (v *Vectors) reindexMaps(removed MapHandle) {
	for i, p := range v.paths {
		if p.Map == NoMap {
			continue
		}
		if p.Map > removed {
			v.paths[i].Map--
		}
	}
}

// RemovedButReferenced reports whether p is in PathRemoved state but still
// appears in some pathgroup of its owning map -- the condition under which
// it must be retained in the path vector.
func (v *Vectors) RemovedButReferenced(h PathHandle) bool {
	p := v.Path(h)
	if p == nil || p.CheckerState != PathRemoved {
		return false
	}
	m := v.Map(p.Map)
	if m == nil {
		return false
	}
	for _, g := range m.Pathgroups {
		for _, mh := range g.Paths {
			if mh == h {
				return true
			}
		}
	}
	return false
}
