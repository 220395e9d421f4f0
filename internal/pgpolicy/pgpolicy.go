// Package pgpolicy implements the path-grouping policies (C4): given a
// map's flat path list, split it into Pathgroups under one of five
// policies, then sort the resulting groups by usability.
package pgpolicy

import (
	"fmt"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// matchFn reports whether two paths belong in the same group under a
// group_by_* policy.
type matchFn func(a, b *topology.Path) bool

func nodeNamesMatch(a, b *topology.Path) bool { return a.NodeName == b.NodeName }
func serialsMatch(a, b *topology.Path) bool   { return a.Serial == b.Serial }
func priosMatch(a, b *topology.Path) bool     { return a.Priority == b.Priority }
func tpgMatch(a, b *topology.Path) bool       { return a.TPGID == b.TPGID }

// Group splits a map's paths into Pathgroups per the given policy and
// sorts the result, replacing whatever Pathgroups the map previously had.
// marginalPathgroups splits marginal paths into their own groups before
// grouping, then re-merges and sorts the combined result, matching
// group_paths()'s optional marginal-path split.
func Group(v *topology.Vectors, mh topology.MapHandle, policy topology.Policy, marginalPathgroups bool) error {
	m := v.Map(mh)
	if m == nil {
		return fmt.Errorf("pgpolicy: unknown map handle %d", mh)
	}

	var handles []topology.PathHandle
	for i, p := range v.Paths() {
		if p.Map == mh {
			handles = append(handles, topology.PathHandle(i))
		}
	}

	m.Pathgroups = nil
	if len(handles) == 0 {
		return nil
	}

	if marginalPathgroups {
		normal, marginal := splitMarginal(v, handles)
		if len(normal) == 0 || len(marginal) == 0 {
			if err := applyPolicy(v, m, policy, handles); err != nil {
				return err
			}
		} else {
			if err := applyPolicy(v, m, policy, normal); err != nil {
				return err
			}
			if err := applyPolicy(v, m, policy, marginal); err != nil {
				return err
			}
		}
	} else {
		if err := applyPolicy(v, m, policy, handles); err != nil {
			return err
		}
	}

	SortPathgroups(v, m)
	return nil
}

func splitMarginal(v *topology.Vectors, handles []topology.PathHandle) (normal, marginal []topology.PathHandle) {
	for _, h := range handles {
		if v.Path(h).Marginal {
			marginal = append(marginal, h)
		} else {
			normal = append(normal, h)
		}
	}
	return normal, marginal
}

func applyPolicy(v *topology.Vectors, m *topology.Multipath, policy topology.Policy, handles []topology.PathHandle) error {
	switch policy {
	case topology.PolicyFailover:
		onePathPerGroup(m, handles)
	case topology.PolicyMultibus:
		oneGroup(m, handles)
	case topology.PolicyGroupByServer:
		groupByMatch(v, m, handles, serialsMatch)
	case topology.PolicyGroupByPrio:
		groupByMatch(v, m, handles, priosMatch)
	case topology.PolicyGroupByNodeName:
		groupByMatch(v, m, handles, nodeNamesMatch)
	case topology.PolicyGroupByTPG:
		groupByMatch(v, m, handles, tpgMatch)
	default:
		return fmt.Errorf("pgpolicy: undefined policy %v", policy)
	}
	return nil
}

// onePathPerGroup is the failover policy: every path gets its own group.
func onePathPerGroup(m *topology.Multipath, handles []topology.PathHandle) {
	for _, h := range handles {
		m.Pathgroups = append(m.Pathgroups, &topology.Pathgroup{Paths: []topology.PathHandle{h}})
	}
}

// oneGroup is the multibus policy: every path shares one group.
func oneGroup(m *topology.Multipath, handles []topology.PathHandle) {
	pg := &topology.Pathgroup{Paths: append([]topology.PathHandle{}, handles...)}
	m.Pathgroups = append(m.Pathgroups, pg)
}

// groupByMatch is the shared implementation behind group_by_serial,
// group_by_prio, group_by_node_name and group_by_tpg: partition handles
// into equivalence classes under match, preserving first-seen order, one
// Pathgroup per class (group_by_match's bitmap scan).
func groupByMatch(v *topology.Vectors, m *topology.Multipath, handles []topology.PathHandle, match matchFn) {
	used := make([]bool, len(handles))
	for i := range handles {
		if used[i] {
			continue
		}
		pg := &topology.Pathgroup{Paths: []topology.PathHandle{handles[i]}}
		used[i] = true
		pi := v.Path(handles[i])
		for j := i + 1; j < len(handles); j++ {
			if used[j] {
				continue
			}
			if match(pi, v.Path(handles[j])) {
				pg.Paths = append(pg.Paths, handles[j])
				used[j] = true
			}
		}
		m.Pathgroups = append(m.Pathgroups, pg)
	}
}

// updatePathgroupPrio recomputes a group's aggregate priority (sum of its
// active paths' priorities) and enabled-path count, the fields
// sort_pathgroups sorts by.
func updatePathgroupPrio(v *topology.Vectors, pg *topology.Pathgroup) {
	priority := 0
	enabled := 0
	for _, h := range pg.Paths {
		p := v.Path(h)
		if p == nil || !p.CheckerState.IsActive() {
			continue
		}
		enabled++
		if p.Priority > 0 {
			priority += p.Priority
		}
	}
	pg.Priority = priority
	pg.EnabledPaths = enabled
}

// SortPathgroups orders a map's Pathgroups: non-marginal before marginal,
// then by descending priority, then by descending enabled-path count,
// ties keeping the later group ahead (pgp2->enabled_paths >= pgp1's, per
// sort_pathgroups's insertion sort). It is exported because the
// reconciliation pass re-sorts a map's groups whenever priorities are
// refreshed, not only right after Group.
func SortPathgroups(v *topology.Vectors, m *topology.Multipath) {
	for i := 0; i < len(m.Pathgroups); i++ {
		pg1 := m.Pathgroups[i]
		updatePathgroupPrio(v, pg1)

		j := i - 1
		for ; j >= 0; j-- {
			pg2 := m.Pathgroups[j]
			if lessSevere(pg2, pg1) {
				moveUp(m.Pathgroups, i, j+1)
				break
			}
		}
		if j < 0 && i != 0 {
			moveUp(m.Pathgroups, i, 0)
		}
	}
}

// lessSevere reports whether pg2 should sit ahead of pg1: non-marginal
// ahead of marginal, then higher priority ahead, then an equal-or-higher
// enabled-path count ahead (the >= in sort_pathgroups, which is why a
// later group with an equal count displaces an earlier one of the same
// priority).
func lessSevere(pg2, pg1 *topology.Pathgroup) bool {
	if pg2.Marginal != pg1.Marginal {
		return !pg2.Marginal
	}
	if pg2.Priority != pg1.Priority {
		return pg2.Priority > pg1.Priority
	}
	return pg2.EnabledPaths >= pg1.EnabledPaths
}

// moveUp relocates the group at index from to index to, shifting the
// groups in between down by one (vector_move_up).
func moveUp(pgs []*topology.Pathgroup, from, to int) {
	moved := pgs[from]
	copy(pgs[to+1:from+1], pgs[to:from])
	pgs[to] = moved
}
