package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPathIsOrphan(t *testing.T) {
	v := NewVectors()
	h := v.AddPath(&Path{Devnode: "/dev/sdb", Major: 8, Minor: 16})
	p := v.Path(h)
	require.NotNil(t, p)
	assert.True(t, p.IsOrphan())
}

func TestOrphanPathRemovesFromGroup(t *testing.T) {
	v := NewVectors()
	h1 := v.AddPath(&Path{Devnode: "/dev/sdb"})
	h2 := v.AddPath(&Path{Devnode: "/dev/sdc"})

	m := &Multipath{WWID: "wwid1", Pathgroups: []*Pathgroup{{Paths: []PathHandle{h1, h2}}}}
	mh := v.AddMap(m)
	v.Path(h1).Map = mh
	v.Path(h2).Map = mh

	v.OrphanPath(h1, "checker failed")

	assert.True(t, v.Path(h1).IsOrphan())
	assert.Equal(t, []PathHandle{h2}, m.Pathgroups[0].Paths)
	assert.Equal(t, UndefPriority, v.Path(h1).Priority)
}

func TestRemoveMapKeepPathsOrphans(t *testing.T) {
	v := NewVectors()
	h1 := v.AddPath(&Path{Devnode: "/dev/sdb"})
	m := &Multipath{WWID: "wwid1", Pathgroups: []*Pathgroup{{Paths: []PathHandle{h1}}}}
	mh := v.AddMap(m)
	v.Path(h1).Map = mh

	v.RemoveMap(mh, KeepPaths)

	assert.Len(t, v.Maps(), 0)
	assert.True(t, v.Path(h1).IsOrphan())
}

func TestRemoveMapReindexesHigherHandles(t *testing.T) {
	v := NewVectors()
	m1 := &Multipath{WWID: "wwid1"}
	m2 := &Multipath{WWID: "wwid2"}
	h1 := v.AddMap(m1)
	h2 := v.AddMap(m2)

	ph := v.AddPath(&Path{Devnode: "/dev/sdb"})
	v.Path(ph).Map = h2

	v.RemoveMap(h1, FreePaths)

	require.Len(t, v.Maps(), 1)
	assert.Equal(t, m2, v.Map(0))
	assert.Equal(t, MapHandle(0), v.Path(ph).Map)
}

func TestPathgroupIdentityOrderIndependent(t *testing.T) {
	g1 := &Pathgroup{Paths: []PathHandle{1, 2, 3}}
	g2 := &Pathgroup{Paths: []PathHandle{3, 2, 1}}
	g3 := &Pathgroup{Paths: []PathHandle{1, 2, 4}}
	assert.Equal(t, g1.Identity(), g2.Identity())
	assert.NotEqual(t, g1.Identity(), g3.Identity())
}

func TestRemoveEmptyGroupsAdjustsBestPG(t *testing.T) {
	m := &Multipath{
		Pathgroups: []*Pathgroup{
			{Paths: nil},
			{Paths: []PathHandle{0}},
		},
		BestPG: 2,
	}
	m.RemoveEmptyGroups()
	assert.Len(t, m.Pathgroups, 1)
	assert.Equal(t, 1, m.BestPG)
}
