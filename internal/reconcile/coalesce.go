package reconcile

import (
	"fmt"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// AdoptPaths claims every discovered path sharing mh's wwid that isn't
// already owned by another map, appending it to the map's member path
// set (adopt_paths). Paths whose reported size conflicts with the map's
// established size, or that are mid-removal, are skipped rather than
// rejected outright -- a later poll cycle gets another chance once the
// conflict clears.
func AdoptPaths(v *topology.Vectors, mh topology.MapHandle) error {
	m := v.Map(mh)
	if m == nil {
		return fmt.Errorf("reconcile: unknown map handle %d", mh)
	}

	for _, h := range v.Paths() {
		p := v.Path(h)
		if p == nil || p.WWID != m.WWID {
			continue
		}
		if p.Init == topology.InitRemoved {
			continue
		}
		if p.SizeSectors != 0 && m.SizeSectors != 0 && p.SizeSectors != m.SizeSectors {
			log.WithFields(logFields{"path": p.Devnode, "map": m.Alias}).
				Debug("size mismatch, not adopting path")
			continue
		}
		if p.Map != topology.NoMap && p.Map != mh {
			continue
		}
		p.Map = mh
	}
	return nil
}

// logFields is a tiny alias kept local so coalesce.go doesn't need its
// own logrus import just for WithFields call sites.
type logFields = map[string]any

// OrphanPath detaches p from its map, the handle-arena equivalent of
// orphan_path: the path keeps existing in the Vectors arena (callers
// needing the C struct's "belongs to nothing" represent that as
// Map == topology.NoMap) but is no longer considered part of any map's
// path set.
func OrphanPath(v *topology.Vectors, h topology.PathHandle, reason string) {
	p := v.Path(h)
	if p == nil {
		return
	}
	log.WithFields(logFields{"path": p.Devnode, "reason": reason}).Debug("orphaning path")
	p.Map = topology.NoMap
	p.Init = topology.InitNew
}

// SyncPaths orphans every path owned by mh whose handle no longer appears
// in any of m's pathgroups (the kernel's disassembled table), the drop
// half of sync_paths's reconciliation between the in-memory map and the
// live device-mapper table. Paths the pathgroups do list are left as they
// are.
func SyncPaths(v *topology.Vectors, mh topology.MapHandle) {
	m := v.Map(mh)
	if m == nil {
		return
	}

	inTable := make(map[topology.PathHandle]bool)
	for _, pg := range m.Pathgroups {
		for _, h := range pg.Paths {
			inTable[h] = true
		}
	}

	for _, h := range v.Paths() {
		p := v.Path(h)
		if p == nil || p.Map != mh {
			continue
		}
		if !inTable[h] {
			log.WithFields(logFields{"path": p.Devnode, "map": m.Alias}).Debug("dropped path")
			OrphanPath(v, h, "path removed externally")
		}
	}
}

// VerifyPaths marks as InitRemoved every path in m's pathgroups that no
// longer resolves to a backing device (an empty Devnode) and returns how
// many it marked (verify_paths). Marked paths stay in the pathgroups and
// keep their map ownership.
func VerifyPaths(v *topology.Vectors, mh topology.MapHandle) int {
	m := v.Map(mh)
	if m == nil {
		return 0
	}
	removed := 0
	for _, pg := range m.Pathgroups {
		for _, h := range pg.Paths {
			p := v.Path(h)
			if p == nil || p.Devnode != "" {
				continue
			}
			log.WithField("path", h).Info("removing path no longer present in sysfs")
			p.Init = topology.InitRemoved
			removed++
		}
	}
	return removed
}
