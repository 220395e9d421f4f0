package prbroadcast

import (
	"context"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// Reserve issues PROUT reserve against the first active path, per §4.8's
// "single-path operation" rule for reserve/clear/preempt.
func (b *Broadcaster) Reserve(ctx context.Context, v *topology.Vectors, m *topology.Multipath, key string, scopeType byte) (dmerr.Status, error) {
	return b.firstActivePath(v, m, func(p *topology.Path) (dmerr.Status, error) {
		return b.Exec.Reserve(ctx, p, key, scopeType)
	})
}

// Clear issues PROUT clear against the first active path.
func (b *Broadcaster) Clear(ctx context.Context, v *topology.Vectors, m *topology.Multipath, key string) (dmerr.Status, error) {
	return b.firstActivePath(v, m, func(p *topology.Path) (dmerr.Status, error) {
		return b.Exec.Clear(ctx, p, key)
	})
}

// Preempt issues PROUT preempt (or preempt-abort) against the first
// active path.
func (b *Broadcaster) Preempt(ctx context.Context, v *topology.Vectors, m *topology.Multipath, key, saKey string, scopeType byte, abort bool) (dmerr.Status, error) {
	return b.firstActivePath(v, m, func(p *topology.Path) (dmerr.Status, error) {
		return b.Exec.Preempt(ctx, p, key, saKey, scopeType, abort)
	})
}

func (b *Broadcaster) firstActivePath(v *topology.Vectors, m *topology.Multipath, op func(p *topology.Path) (dmerr.Status, error)) (dmerr.Status, error) {
	handles := activePaths(v, m)
	if len(handles) == 0 {
		return dmerr.NotPresent, nil
	}
	p := v.Path(handles[0])
	return b.withRetry(func() (dmerr.Status, error) { return op(p) })
}
