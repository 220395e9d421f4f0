package pgpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

func buildMap(v *topology.Vectors, paths []*topology.Path) (topology.MapHandle, []topology.PathHandle) {
	mh := v.AddMap(&topology.Multipath{WWID: "wwid1"})
	handles := make([]topology.PathHandle, len(paths))
	for i, p := range paths {
		h := v.AddPath(p)
		v.Path(h).Map = mh
		handles[i] = h
	}
	return mh, handles
}

func TestFailoverOnePathPerGroup(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{
		{Devnode: "/dev/sda", CheckerState: topology.PathUp, Priority: 10},
		{Devnode: "/dev/sdb", CheckerState: topology.PathUp, Priority: 10},
	})
	require.NoError(t, Group(v, mh, topology.PolicyFailover, false))
	assert.Len(t, v.Map(mh).Pathgroups, 2)
	for _, pg := range v.Map(mh).Pathgroups {
		assert.Len(t, pg.Paths, 1)
	}
}

func TestMultibusOneGroup(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{
		{Devnode: "/dev/sda", CheckerState: topology.PathUp, Priority: 10},
		{Devnode: "/dev/sdb", CheckerState: topology.PathUp, Priority: 10},
	})
	require.NoError(t, Group(v, mh, topology.PolicyMultibus, false))
	require.Len(t, v.Map(mh).Pathgroups, 1)
	assert.Len(t, v.Map(mh).Pathgroups[0].Paths, 2)
}

func TestGroupByPrioPartitionsByPriority(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{
		{Devnode: "/dev/sda", CheckerState: topology.PathUp, Priority: 50},
		{Devnode: "/dev/sdb", CheckerState: topology.PathUp, Priority: 50},
		{Devnode: "/dev/sdc", CheckerState: topology.PathUp, Priority: 10},
	})
	require.NoError(t, Group(v, mh, topology.PolicyGroupByPrio, false))
	require.Len(t, v.Map(mh).Pathgroups, 2)
	// higher priority group sorts first.
	assert.Len(t, v.Map(mh).Pathgroups[0].Paths, 2)
	assert.Equal(t, 100, v.Map(mh).Pathgroups[0].Priority)
	assert.Len(t, v.Map(mh).Pathgroups[1].Paths, 1)
}

func TestGroupByNodeNameAndSerial(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{
		{Devnode: "/dev/sda", NodeName: "n1", Serial: "S1", CheckerState: topology.PathUp, Priority: 1},
		{Devnode: "/dev/sdb", NodeName: "n2", Serial: "S1", CheckerState: topology.PathUp, Priority: 1},
		{Devnode: "/dev/sdc", NodeName: "n1", Serial: "S2", CheckerState: topology.PathUp, Priority: 1},
	})
	require.NoError(t, Group(v, mh, topology.PolicyGroupByNodeName, false))
	assert.Len(t, v.Map(mh).Pathgroups, 2)

	Group(v, mh, topology.PolicyGroupByServer, false)
	assert.Len(t, v.Map(mh).Pathgroups, 2)
}

func TestMarginalPathgroupsSplitFirst(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{
		{Devnode: "/dev/sda", CheckerState: topology.PathUp, Priority: 10},
		{Devnode: "/dev/sdb", CheckerState: topology.PathUp, Priority: 10, Marginal: true},
	})
	require.NoError(t, Group(v, mh, topology.PolicyMultibus, true))
	// one normal group, one marginal group, not merged into one.
	require.Len(t, v.Map(mh).Pathgroups, 2)
	marginalCount := 0
	for _, pg := range v.Map(mh).Pathgroups {
		for _, h := range pg.Paths {
			if v.Path(h).Marginal {
				marginalCount++
			}
		}
	}
	assert.Equal(t, 1, marginalCount)
}

func TestSortPathgroupsNonMarginalBeforeMarginal(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, nil)
	m := v.Map(mh)
	m.Pathgroups = []*topology.Pathgroup{
		{Marginal: true, Priority: 100},
		{Marginal: false, Priority: 1},
	}
	SortPathgroups(v, m)
	assert.False(t, m.Pathgroups[0].Marginal)
	assert.True(t, m.Pathgroups[1].Marginal)
}

func TestUndefinedPolicyErrors(t *testing.T) {
	v := topology.NewVectors()
	mh, _ := buildMap(v, []*topology.Path{{Devnode: "/dev/sda"}})
	err := Group(v, mh, topology.PolicyUndef, false)
	assert.Error(t, err)
}
