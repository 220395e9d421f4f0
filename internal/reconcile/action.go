// Package reconcile implements the action selector and coalesce pass
// (C6): given a freshly recomputed desired Multipath and whatever the
// kernel currently reports for that wwid/alias, decide what device-mapper
// call (if any) applies the difference.
package reconcile

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("reconcile")

// Snapshot is the minimal subset of a kernel-reported multipath map's
// properties the action selector needs, kept independent of
// topology.Multipath so a caller querying the kernel doesn't have to
// build a full arena-backed Multipath + Pathgroups just to compare
// against one.
type Snapshot struct {
	Alias      string
	SizeSectors uint64
	Features   string
	Hwhandler  string
	Selector   string
	Minio      int
	NextPG     int
	Pathgroups []*topology.Pathgroup // identities compared against desired's
}

// Context carries the two lookups select_action performs against the
// live map vector before it gets to the single-map decision table: one
// by wwid, one by the alias the desired map is about to claim.
type Context struct {
	// ByWWID is the kernel's current map for this wwid, or nil if none
	// exists yet.
	ByWWID *Snapshot
	// ByAlias is the kernel's current map already using the alias the
	// desired map wants, or nil. It may differ from ByWWID when an alias
	// collision has occurred.
	ByAlias *Snapshot
	// ByAliasWWID is the wwid of ByAlias's map, used to report/resolve
	// an alias collision; ignored when ByAlias is nil.
	ByAliasWWID string

	ForceReload bool

	// RetainHWHandlerOn is the resolved retain_attached_hw_handler
	// setting (config.SelectRetainAttachedHWHandler() == TristateYes):
	// when on, a hwhandler string mismatch against the kernel's current
	// map is expected and doesn't itself trigger a reload.
	RetainHWHandlerOn bool
}

// Decision is the action selector's verdict plus enough context for the
// caller to apply it (a rename's old alias, an alias collision's
// resolved fallback alias).
type Decision struct {
	Action   topology.Action
	Reason   string
	OldAlias string // set for ActionRename
	// ResolvedAlias is set when an alias collision forces the desired
	// map to keep using cmpp's existing alias instead of the one it
	// asked for.
	ResolvedAlias string
	// FlushAlias is set on a "map wwid change" ActionCreate: a stale
	// device already sits at this alias under a different wwid, and
	// must be flushed (dm_flush_map) before the create, so the kernel's
	// dm-uuid ends up bound to the new wwid instead of silently serving
	// a new table under the old one's uuid.
	FlushAlias string
}

// SelectAction runs the decision table from select_action against
// desired's properties and ctx, in the same order as the source: rename/
// create branches based on identity lookups first, then the no-usable-
// path and forced-reload short circuits, then property-by-property
// comparison against the current map, finally the best-path-group check.
func SelectAction(desired *topology.Multipath, ctx Context) Decision {
	if ctx.ByAlias == nil {
		if ctx.ByWWID != nil {
			d := Decision{
				Action:   topology.ActionRename,
				Reason:   fmt.Sprintf("rename %s to %s", ctx.ByWWID.Alias, desired.Alias),
				OldAlias: ctx.ByWWID.Alias,
			}
			if ctx.ForceReload {
				// ACT_RENAME2 in the source: rename plus a reload in
				// one pass. This engine expresses that as a plain
				// rename whose caller also forces a subsequent
				// reload, so there is no separate enum value.
				d.Reason = "rename+reload " + d.Reason
			}
			log.WithField("alias", desired.Alias).Info(d.Reason)
			return d
		}
		log.WithField("alias", desired.Alias).Debug("set create (map does not exist)")
		return Decision{Action: topology.ActionCreate, Reason: "map does not exist"}
	}

	if ctx.ByWWID == nil {
		log.WithField("alias", desired.Alias).Info("remove (wwid changed)")
		return Decision{Action: topology.ActionCreate, Reason: "map wwid change", FlushAlias: ctx.ByAlias.Alias}
	}

	if ctx.ByWWID != ctx.ByAlias {
		log.WithFields(logrus.Fields{
			"wwid": desired.WWID, "wanted_alias": desired.Alias, "holder_wwid": ctx.ByAliasWWID,
		}).Warn("unable to rename: alias in use by another map")
		return Decision{
			Action:        topology.ActionNothing,
			Reason:        fmt.Sprintf("alias %s is used by %s", desired.Alias, ctx.ByAliasWWID),
			ResolvedAlias: ctx.ByWWID.Alias,
		}
	}

	cmpp := ctx.ByWWID

	if countUsablePaths(desired) == 0 {
		return Decision{Action: topology.ActionNothing, Reason: "no usable path"}
	}
	if ctx.ForceReload {
		return Decision{Action: topology.ActionReload, Reason: "forced by user"}
	}
	if cmpp.SizeSectors != desired.SizeSectors {
		return Decision{Action: topology.ActionResize, Reason: "size change"}
	}
	if desired.NoPathRetry == topology.NoPathRetryUndef && cmpp.Features != desired.Features {
		return Decision{Action: topology.ActionReload, Reason: "features change"}
	}
	if !ctx.RetainHWHandlerOn && cmpp.Hwhandler != desired.Hwhandler {
		return Decision{Action: topology.ActionReload, Reason: "hwhandler change"}
	}
	if cmpp.Selector == "" || cmpp.Selector != desired.Selector {
		return Decision{Action: topology.ActionReload, Reason: "selector change"}
	}
	if cmpp.Minio != desired.Minio {
		return Decision{Action: topology.ActionReload, Reason: fmt.Sprintf("minio change, %d->%d", cmpp.Minio, desired.Minio)}
	}
	if len(cmpp.Pathgroups) != len(desired.Pathgroups) {
		return Decision{Action: topology.ActionReload, Reason: "path group number change"}
	}
	if pgTopologyChanged(desired.Pathgroups, cmpp.Pathgroups) {
		return Decision{Action: topology.ActionReload, Reason: "path group topology change"}
	}
	if cmpp.NextPG != desired.BestPG {
		return Decision{Action: topology.ActionSwitchGroup, Reason: "next path group change"}
	}
	return Decision{Action: topology.ActionNothing, Reason: "map unchanged"}
}

func countUsablePaths(m *topology.Multipath) int {
	n := 0
	for _, pg := range m.Pathgroups {
		n += len(pg.Paths)
	}
	return n
}

// pgTopologyChanged reports whether desired's pathgroup set differs from
// current's, comparing each desired group's Identity() fingerprint
// against every current group's (pgcmp): a desired group with no
// identity match anywhere in current counts as a topology change. Order
// across groups doesn't matter here -- SwitchGroup (not Reload) is what
// detects "same groups, different nextpg".
func pgTopologyChanged(desired, current []*topology.Pathgroup) bool {
	for _, dg := range desired {
		found := false
		did := dg.Identity()
		for _, cg := range current {
			if cg.Identity() == did {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}
