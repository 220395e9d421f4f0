package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

func desiredMap(sectors uint64) *topology.Multipath {
	return &topology.Multipath{
		WWID:        "wwid1",
		Alias:       "mpatha",
		SizeSectors: sectors,
		Selector:    "service-time 0",
		Features:    "0",
		Hwhandler:   "0",
		Minio:       1000,
		BestPG:      1,
		Pathgroups:  []*topology.Pathgroup{{Paths: []topology.PathHandle{0}}},
	}
}

func baseSnapshot(d *topology.Multipath) *Snapshot {
	return &Snapshot{
		Alias:       d.Alias,
		SizeSectors: d.SizeSectors,
		Features:    d.Features,
		Hwhandler:   d.Hwhandler,
		Selector:    d.Selector,
		Minio:       d.Minio,
		NextPG:      d.BestPG,
		Pathgroups:  d.Pathgroups,
	}
}

func TestSelectActionCreateWhenNoCurrentMap(t *testing.T) {
	d := desiredMap(1000)
	dec := SelectAction(d, Context{})
	assert.Equal(t, topology.ActionCreate, dec.Action)
}

func TestSelectActionRenameWhenWWIDKnownButAliasDiffers(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Alias = "mpathold"
	dec := SelectAction(d, Context{ByWWID: cur})
	assert.Equal(t, topology.ActionRename, dec.Action)
	assert.Equal(t, "mpathold", dec.OldAlias)
}

func TestSelectActionCreateWithFlushOnWWIDChange(t *testing.T) {
	d := desiredMap(1000)
	stale := baseSnapshot(d)
	stale.Alias = d.Alias
	dec := SelectAction(d, Context{ByWWID: nil, ByAlias: stale, ByAliasWWID: "wwid-stale"})
	assert.Equal(t, topology.ActionCreate, dec.Action)
	assert.Equal(t, d.Alias, dec.FlushAlias)
}

func TestSelectActionNothingWhenAliasHeldByAnotherWWID(t *testing.T) {
	d := desiredMap(1000)
	own := baseSnapshot(d)
	d.Alias = "mpathb"
	other := baseSnapshot(d)
	other.Alias = d.Alias
	dec := SelectAction(d, Context{ByWWID: own, ByAlias: other, ByAliasWWID: "wwid-other"})
	assert.Equal(t, topology.ActionNothing, dec.Action)
	assert.Equal(t, "mpatha", dec.ResolvedAlias)
}

func TestSelectActionNothingWhenNoUsablePath(t *testing.T) {
	d := desiredMap(1000)
	d.Pathgroups = nil
	cur := baseSnapshot(d)
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionNothing, dec.Action)
}

func TestSelectActionForceReload(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur, ForceReload: true})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionResizeOnSizeChange(t *testing.T) {
	d := desiredMap(2000)
	cur := baseSnapshot(d)
	cur.SizeSectors = 1000
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionResize, dec.Action)
}

func TestSelectActionReloadOnFeaturesChangeWhenNoPathRetryUndef(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Features = "1 queue_if_no_path"
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionIgnoresFeaturesChangeWhenNoPathRetrySet(t *testing.T) {
	d := desiredMap(1000)
	d.NoPathRetry = topology.NoPathRetryQueue
	cur := baseSnapshot(d)
	cur.Features = "0"
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionNothing, dec.Action)
}

func TestSelectActionReloadOnHwhandlerChangeWhenRetainOff(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Hwhandler = "1 alua"
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionIgnoresHwhandlerChangeWhenRetainOn(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Hwhandler = "1 alua"
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur, RetainHWHandlerOn: true})
	assert.Equal(t, topology.ActionNothing, dec.Action)
}

func TestSelectActionReloadOnSelectorChange(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Selector = "round-robin 0"
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionReloadOnMinioChange(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Minio = 500
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionReloadOnPathgroupCountChange(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Pathgroups = []*topology.Pathgroup{{Paths: []topology.PathHandle{0}}, {Paths: []topology.PathHandle{1}}}
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionReloadOnPathgroupTopologyChange(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	cur.Pathgroups = []*topology.Pathgroup{{Paths: []topology.PathHandle{5}}}
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionReload, dec.Action)
}

func TestSelectActionSwitchGroupOnNextPGMismatch(t *testing.T) {
	d := desiredMap(1000)
	d.BestPG = 2
	d.Pathgroups = []*topology.Pathgroup{
		{Paths: []topology.PathHandle{0}},
		{Paths: []topology.PathHandle{1}},
	}
	cur := baseSnapshot(d)
	cur.NextPG = 1
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionSwitchGroup, dec.Action)
}

func TestSelectActionNothingWhenUnchanged(t *testing.T) {
	d := desiredMap(1000)
	cur := baseSnapshot(d)
	dec := SelectAction(d, Context{ByWWID: cur, ByAlias: cur})
	assert.Equal(t, topology.ActionNothing, dec.Action)
}
