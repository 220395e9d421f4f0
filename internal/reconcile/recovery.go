package reconcile

import (
	"strings"

	"github.com/opensvc/multipath-tools-sub000/internal/dmtable"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// QueueSetter is the single device-mapper call the recovery-mode state
// machine needs: DM_TABLE_LOAD's "queue_if_no_path" in-place message
// toggle. A thin interface rather than a dmclient import, since that
// package sits above reconcile in the dependency graph.
type QueueSetter interface {
	SetQueueIfNoPath(alias string, on bool) error
}

// CountActivePaths counts every path handle across m's pathgroups; the
// paths' checker states are not consulted (countActivePathStates does
// that, given a Vectors).
func CountActivePaths(m *topology.Multipath) int {
	n := 0
	for _, pg := range m.Pathgroups {
		for range pg.Paths {
			n++
		}
	}
	return n
}

// countActivePathStates counts paths whose live checker state (looked up
// via v) is active, the precise count_active_paths semantics; callers
// that only have the handle set (no Vectors) use CountActivePaths, which
// is a coarser "path is still assigned" approximation used by tests that
// build pathgroups without a backing Vectors.
func countActivePathStates(v *topology.Vectors, m *topology.Multipath) int {
	n := 0
	for _, pg := range m.Pathgroups {
		for _, h := range pg.Paths {
			if p := v.Path(h); p != nil && p.CheckerState.IsActive() {
				n++
			}
		}
	}
	return n
}

// EnterRecoveryMode arms the no_path_retry countdown (retry_tick) once a
// map has lost every usable path, a no-op if already recovering or if
// no_path_retry isn't a positive retry count.
func EnterRecoveryMode(m *topology.Multipath, checkIntervalSecs int) {
	if m.RecoveryMode || m.NoPathRetry <= 0 {
		return
	}
	m.RecoveryMode = true
	m.RetryTick = int(m.NoPathRetry)*checkIntervalSecs + 1
}

// LeaveRecoveryMode clears recovery state and, if the map was actually
// recovering under a retry-count or QUEUE policy, re-enables
// queue_if_no_path on the live map.
func LeaveRecoveryMode(m *topology.Multipath, q QueueSetter) error {
	wasRecovering := m.RecoveryMode
	m.RecoveryMode = false
	m.RetryTick = 0

	if wasRecovering && (m.NoPathRetry == topology.NoPathRetryQueue || m.NoPathRetry > 0) {
		if q != nil {
			return q.SetQueueIfNoPath(m.Alias, true)
		}
	}
	return nil
}

// SetNoPathRetry reconciles a map's queue_if_no_path device-mapper state
// with its configured no_path_retry policy (__set_no_path_retry).
// checkFeatures mirrors the source's optimization of skipping the DM call
// when the feature string already encodes the desired state; pass false
// to always issue the call unconditionally.
func SetNoPathRetry(m *topology.Multipath, q QueueSetter, checkFeatures bool, checkIntervalSecs int) error {
	checkFeatures = checkFeatures && m.Features != ""
	isQueueing := checkFeatures && strings.Contains(m.Features, dmtable.QueueIfNoPathFeature)

	switch {
	case m.NoPathRetry == topology.NoPathRetryUndef:
		return nil
	case m.NoPathRetry == topology.NoPathRetryFail:
		if !checkFeatures || isQueueing {
			if q != nil {
				return q.SetQueueIfNoPath(m.Alias, false)
			}
		}
		return nil
	case m.NoPathRetry == topology.NoPathRetryQueue:
		if !checkFeatures || !isQueueing {
			if q != nil {
				return q.SetQueueIfNoPath(m.Alias, true)
			}
		}
		return nil
	default:
		if CountActivePaths(m) > 0 {
			if (!checkFeatures || !isQueueing) && !m.RecoveryMode {
				if q != nil {
					if err := q.SetQueueIfNoPath(m.Alias, true); err != nil {
						return err
					}
				}
			}
			return LeaveRecoveryMode(m, q)
		}
		EnterRecoveryMode(m, checkIntervalSecs)
		return nil
	}
}

// UpdateQueueModeDelPath re-evaluates recovery mode after a path has been
// removed from m's active set.
func UpdateQueueModeDelPath(m *topology.Multipath, checkIntervalSecs int) {
	if CountActivePaths(m) == 0 {
		EnterRecoveryMode(m, checkIntervalSecs)
	}
}

// UpdateQueueModeAddPath re-evaluates recovery mode after a path has
// (re)joined m's active set.
func UpdateQueueModeAddPath(m *topology.Multipath, q QueueSetter) error {
	if CountActivePaths(m) > 0 {
		return LeaveRecoveryMode(m, q)
	}
	return nil
}
