// Package engine wires the core components together: blacklist
// filtering on path admission, wwid-based map coalescing, path-group
// policy, table assembly, and the action selector's decisions applied
// through the device-mapper client -- the orchestration domap() and
// add_map_with_path() carry out in the source this was adapted from.
//
// Path discovery itself (the udev monitor loop, sysfs scanning) is an
// external collaborator out of scope; this package only reacts to
// already-decided path-admission events.
package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/opensvc/multipath-tools-sub000/internal/blacklist"
	"github.com/opensvc/multipath-tools-sub000/internal/config"
	"github.com/opensvc/multipath-tools-sub000/internal/dmclient"
	"github.com/opensvc/multipath-tools-sub000/internal/dmtable"
	"github.com/opensvc/multipath-tools-sub000/internal/pgpolicy"
	"github.com/opensvc/multipath-tools-sub000/internal/prbroadcast"
	"github.com/opensvc/multipath-tools-sub000/internal/reconcile"
	"github.com/opensvc/multipath-tools-sub000/internal/store"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("engine")

// DMClient is the subset of *dmclient.Control the engine drives a
// reconcile pass through; narrowed to an interface so tests can swap in
// a fake instead of opening the real /dev/mapper/control device.
type DMClient interface {
	CreateDevice(name, uuid string) (uint64, error)
	RemoveDevice(name string) error
	Rename(oldName, newName string) error
	SuspendDevice(name string, suspend, skipLockfs bool) error
	LoadTable(name string, sizeSectors uint64, params string) error
	Message(name string, text string) error
	Info(name string) (dmclient.DeviceInfo, error)
	TableStatus(name string, inactive bool) (params string, sizeSectors uint64, err error)
	SetQueueIfNoPath(name string, on bool) error
}

// Engine holds every collaborator a reconciliation pass needs.
type Engine struct {
	Vectors   *topology.Vectors
	Config    *config.Config
	Blacklist *blacklist.List
	DM        DMClient
	PR        *prbroadcast.Broadcaster

	WWIDs    *store.WWIDStore
	Bindings *store.BindingStore
	PRKeys   *store.PRKeyStore

	// KernelPre43 selects whether retain_attached_hw_handler needs an
	// explicit feature token (see dmtable.Assemble).
	KernelPre43 bool

	// CheckIntervalSecs stands in for the checker loop's polling_interval,
	// which this engine has no ticking loop of its own for: it only scales
	// the no_path_retry countdown armed by reconcile.EnterRecoveryMode.
	// Defaults to 5 (the source's default polling_interval) when unset.
	CheckIntervalSecs int
}

func (e *Engine) checkIntervalSecs() int {
	if e.CheckIntervalSecs > 0 {
		return e.CheckIntervalSecs
	}
	return 5
}

// New returns an Engine wiring the given collaborators.
func New(v *topology.Vectors, cfg *config.Config, bl *blacklist.List, dm DMClient, pr *prbroadcast.Broadcaster, wwids *store.WWIDStore, bindings *store.BindingStore, prkeys *store.PRKeyStore) *Engine {
	return &Engine{
		Vectors:   v,
		Config:    cfg,
		Blacklist: bl,
		DM:        dm,
		PR:        pr,
		WWIDs:     wwids,
		Bindings:  bindings,
		PRKeys:    prkeys,
	}
}

// AddPath admits a newly discovered path: blacklist-filters it, appends
// it to the path vector, coalesces it into its wwid's map (creating the
// map on first sight of that wwid), and runs one reconcile+apply pass
// for that map.
func (e *Engine) AddPath(p *topology.Path) error {
	verdict := e.Blacklist.Filter(blacklist.Path{
		Devnode:      p.Devnode,
		Vendor:       p.Vendor,
		Product:      p.Product,
		WWID:         p.WWID,
		UdevProps:    nil,
		UIDAttribute: "",
	})
	if verdict.Blocked() {
		log.WithField("devnode", p.Devnode).Info("path rejected by blacklist, not admitted")
		return nil
	}

	e.Vectors.Lock()
	defer e.Vectors.Unlock()

	e.Vectors.AddPath(p)
	defer e.recordTopologyCounts()

	if p.WWID == "" {
		return nil
	}

	mh, err := e.findOrCreateMap(p.WWID)
	if err != nil {
		return fmt.Errorf("engine: coalesce wwid %s: %w", p.WWID, err)
	}

	if err := reconcile.AdoptPaths(e.Vectors, mh); err != nil {
		return fmt.Errorf("engine: adopt paths for wwid %s: %w", p.WWID, err)
	}

	return e.reconcileMap(mh)
}

// RemovePath orphans the path at devnode (it has disappeared from
// sysfs) and, if it belonged to a map, re-runs that map's reconcile
// pass so the kernel table catches up.
func (e *Engine) RemovePath(devnode string) error {
	e.Vectors.Lock()
	defer e.Vectors.Unlock()
	defer e.recordTopologyCounts()

	h, ok := e.Vectors.FindPathByDevnode(devnode)
	if !ok {
		return nil
	}
	p := e.Vectors.Path(h)
	mh := p.Map
	e.Vectors.OrphanPath(h, "device removed from sysfs")

	if mh == topology.NoMap {
		return nil
	}
	m := e.Vectors.Map(mh)
	if m == nil {
		return nil
	}
	if m.PathCount() == 0 {
		return e.DM.RemoveDevice(m.Alias)
	}

	reconcile.UpdateQueueModeDelPath(m, e.checkIntervalSecs())
	return e.reconcileMap(mh)
}

// findOrCreateMap returns the handle of the map already coalescing
// wwid, or allocates a new one, resolving its alias via the bindings
// store the way find_existing_alias/select_alias does in the source.
func (e *Engine) findOrCreateMap(wwid string) (topology.MapHandle, error) {
	if m := e.Vectors.FindMapByWWID(wwid); m != nil {
		for i, mm := range e.Vectors.Maps() {
			if mm == m {
				return topology.MapHandle(i), nil
			}
		}
	}

	alias, err := e.resolveAlias(wwid)
	if err != nil {
		return 0, err
	}

	m := &topology.Multipath{WWID: wwid, Alias: alias}
	mh := e.Vectors.AddMap(m)
	if err := e.Bindings.Bind(wwid, alias); err != nil {
		log.WithField("wwid", wwid).WithError(err).Warn("failed to persist alias binding")
	}
	return mh, nil
}

// resolveAlias picks the alias a freshly coalesced map gets: an explicit
// per-wwid config alias wins outright; otherwise an existing bindings
// record is reused; otherwise a fresh "mpathN" is allocated and
// persisted, per scenario 1's "alias derived from bindings or mpath0".
func (e *Engine) resolveAlias(wwid string) (string, error) {
	if mpe := e.Config.FindMPEntry(wwid); mpe != nil && mpe.Alias != "" {
		return mpe.Alias, nil
	}
	if alias, ok, err := e.Bindings.AliasFor(wwid); err != nil {
		return "", err
	} else if ok {
		return alias, nil
	}
	return e.allocateAlias()
}

// allocateAlias returns the lowest-numbered "mpathN" not already bound
// to some other wwid.
func (e *Engine) allocateAlias() (string, error) {
	entries, err := e.Bindings.All()
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(entries))
	for _, alias := range entries {
		used[alias] = true
	}
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("mpath%d", n)
		if !used[candidate] {
			return candidate, nil
		}
	}
}

// reconcileMap resolves this map's properties from configuration, groups
// its paths, assembles the desired table, compares it against the
// kernel's current state, and applies the resulting action.
func (e *Engine) reconcileMap(mh topology.MapHandle) error {
	m := e.Vectors.Map(mh)
	if m == nil {
		return fmt.Errorf("engine: unknown map handle %d", mh)
	}
	if m.PathCount() == 0 {
		return nil
	}

	rep := e.representativePath(mh)
	sel := e.Config.ResolveSelection(rep.Vendor, rep.Product, rep.Revision, m.WWID)

	m.Policy, _ = sel.SelectPGPolicy()
	m.Selector, _ = sel.SelectSelector()
	m.Features, _ = sel.SelectFeatures()
	m.Hwhandler, _ = sel.SelectHwhandler()
	m.NoPathRetry, _ = sel.SelectNoPathRetry()
	m.Minio, _ = sel.SelectMinio()
	retainTri, _ := sel.SelectRetainAttachedHWHandler()
	retainHWHandlerOn := retainTri == config.TristateYes

	if err := pgpolicy.Group(e.Vectors, mh, m.Policy, m.MarginalPathDouble); err != nil {
		return fmt.Errorf("engine: group paths: %w", err)
	}
	if len(m.Pathgroups) > 0 && m.BestPG == 0 {
		m.BestPG = 1
	}

	if err := reconcile.SetNoPathRetry(m, e.DM, true, e.checkIntervalSecs()); err != nil {
		log.WithField("alias", m.Alias).WithError(err).Warn("failed to reconcile queue_if_no_path state")
	}
	if m.RecoveryMode {
		recoveryMode.WithLabelValues(m.Alias).Set(1)
	} else {
		recoveryMode.WithLabelValues(m.Alias).Set(0)
	}

	params, err := dmtable.Assemble(e.Vectors, m, retainHWHandlerOn, e.KernelPre43)
	if err != nil {
		return fmt.Errorf("engine: assemble table: %w", err)
	}
	m.SizeSectors = rep.SizeSectors

	ctx := reconcile.Context{RetainHWHandlerOn: retainHWHandlerOn}
	if snap, err := e.currentSnapshot(m.Alias); err == nil && snap != nil {
		ctx.ByWWID = snap
		ctx.ByAlias = snap
		ctx.ByAliasWWID = m.WWID
	}

	decision := reconcile.SelectAction(m, ctx)
	m.Action = decision.Action
	if decision.ResolvedAlias != "" {
		m.Alias = decision.ResolvedAlias
	}
	if decision.OldAlias != "" {
		m.PrevAlias = decision.OldAlias
	}

	action := decision.Action.String()
	if err := e.domap(m, decision, params); err != nil {
		reconcileFailuresTotal.WithLabelValues(action).Inc()
		return err
	}
	reconcileActionsTotal.WithLabelValues(action).Inc()
	return nil
}

// domap applies decision against the kernel, mirroring domap()'s action
// dispatch: create/reload/resize load params then (re)activate the
// device, switch-group and rename each issue their single targeted
// ioctl, and a successful create or reload is followed by a
// switch_group message to the best path group, matching the
// non-dry-run, daemon-mode half of the source (the CLI's one-shot
// "switch group then reset to ACT_NOTHING" distinction doesn't apply
// here: this engine only runs in daemon mode). A create carrying
// FlushAlias (a stale map occupying the target alias under a different
// wwid) flushes that device first, so the new map's dm-uuid ends up
// bound to the new wwid instead of reloading a table under the old
// one's uuid.
func (e *Engine) domap(m *topology.Multipath, decision reconcile.Decision, params string) error {
	switch decision.Action {
	case topology.ActionNothing, topology.ActionReject:
		return nil

	case topology.ActionSwitchGroup:
		if err := e.DM.Message(m.Alias, fmt.Sprintf("switch_group %d", m.BestPG)); err != nil {
			return fmt.Errorf("engine: switch group for %s: %w", m.Alias, err)
		}
		return nil

	case topology.ActionCreate:
		if decision.FlushAlias != "" {
			if err := e.DM.RemoveDevice(decision.FlushAlias); err != nil {
				return fmt.Errorf("engine: flush stale map %s before create: %w", decision.FlushAlias, err)
			}
		}
		if _, err := e.DM.CreateDevice(m.Alias, dmclient.MpathUUIDPrefix+m.WWID); err != nil {
			if errors.Is(err, unix.EEXIST) {
				log.WithField("alias", m.Alias).Info("map already present, reloading instead of creating")
				if err := e.reloadAndResume(m, params, false); err != nil {
					return err
				}
				return e.postApply(m)
			}
			return fmt.Errorf("engine: create %s: %w", m.Alias, err)
		}
		if err := e.DM.LoadTable(m.Alias, m.SizeSectors, params); err != nil {
			return fmt.Errorf("engine: load table for %s: %w", m.Alias, err)
		}
		if err := e.DM.SuspendDevice(m.Alias, false, false); err != nil {
			return fmt.Errorf("engine: activate %s: %w", m.Alias, err)
		}
		if err := e.WWIDs.Remember(m.WWID); err != nil {
			log.WithField("wwid", m.WWID).WithError(err).Warn("failed to persist wwid after map creation")
		}
		return e.postApply(m)

	case topology.ActionReload:
		if err := e.reloadAndResume(m, params, false); err != nil {
			return err
		}
		return e.postApply(m)

	case topology.ActionResize:
		if err := e.reloadAndResume(m, params, true); err != nil {
			return err
		}
		return e.postApply(m)

	case topology.ActionRename:
		if err := e.DM.Rename(decision.OldAlias, m.Alias); err != nil {
			return fmt.Errorf("engine: rename %s to %s: %w", decision.OldAlias, m.Alias, err)
		}
		return e.postApply(m)

	default:
		return fmt.Errorf("engine: unhandled action %v", decision.Action)
	}
}

// reloadAndResume loads params into the inactive table slot and resumes
// the device. flush is passed to SuspendDevice as its skipLockfs flag
// (true on the resize path); the resume sets no flush or noflush flag
// either way.
func (e *Engine) reloadAndResume(m *topology.Multipath, params string, flush bool) error {
	if err := e.DM.LoadTable(m.Alias, m.SizeSectors, params); err != nil {
		return fmt.Errorf("engine: load table for %s: %w", m.Alias, err)
	}
	if err := e.DM.SuspendDevice(m.Alias, false, flush); err != nil {
		return fmt.Errorf("engine: resume %s: %w", m.Alias, err)
	}
	return nil
}

// postApply runs the bookkeeping every successful create/reload/resize/
// rename gets: switch to the best path group and reset the action back
// to idle so the next reconcile pass starts clean.
func (e *Engine) postApply(m *topology.Multipath) error {
	if m.BestPG != 0 {
		if err := e.DM.Message(m.Alias, fmt.Sprintf("switch_group %d", m.BestPG)); err != nil {
			log.WithField("alias", m.Alias).WithError(err).Warn("failed to switch path group after apply")
		}
	}
	m.Action = topology.ActionNothing
	return nil
}

// representativePath returns the first path belonging to mh, used to
// resolve vendor/product/revision-keyed configuration for the whole map
// (every path sharing a wwid is assumed to be the same device type).
func (e *Engine) representativePath(mh topology.MapHandle) *topology.Path {
	for _, p := range e.Vectors.Paths() {
		if p.Map == mh {
			return p
		}
	}
	return &topology.Path{}
}

// currentSnapshot reads the kernel's present table for alias, if any,
// and decodes it into a reconcile.Snapshot for the action selector.
func (e *Engine) currentSnapshot(alias string) (*reconcile.Snapshot, error) {
	if _, err := e.DM.Info(alias); err != nil {
		return nil, nil // not present; SelectAction treats a nil snapshot as "map absent"
	}

	params, sizeSectors, err := e.DM.TableStatus(alias, false)
	if err != nil {
		return nil, err
	}

	// Disassemble attaches every path it finds by dev_t to the map
	// handle it's decoding into, including paths that already belong to
	// a live map -- this alias's own table echoes back the same paths
	// the engine already admitted. Save and restore ownership so reading
	// the kernel's view doesn't steal paths away from their real map.
	saved := make([]topology.MapHandle, len(e.Vectors.Paths()))
	for i, p := range e.Vectors.Paths() {
		saved[i] = p.Map
	}

	tmp := &topology.Multipath{Alias: alias}
	tmpHandle := e.Vectors.AddMap(tmp)
	disErr := dmtable.Disassemble(e.Vectors, tmpHandle, params)

	paths := e.Vectors.Paths()
	for i := 0; i < len(saved) && i < len(paths); i++ {
		paths[i].Map = saved[i]
	}
	e.Vectors.RemoveMap(tmpHandle, topology.KeepPaths)

	if disErr != nil {
		return nil, disErr
	}

	snap := &reconcile.Snapshot{
		Alias:       alias,
		SizeSectors: sizeSectors,
		Pathgroups:  tmp.Pathgroups,
		NextPG:      tmp.NextPG,
	}
	return snap, nil
}
