package prbroadcast

import (
	"context"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// ReadKeys issues PRIN read-keys against m's active paths in pathgroup/
// path order, stopping at the first path that returns success or
// IllegalRequest (the target's authoritative "PR unsupported" answer),
// per §4.8's read-fan-out protocol. Returns the last non-sentinel status
// if every path fails.
func (b *Broadcaster) ReadKeys(ctx context.Context, v *topology.Vectors, m *topology.Multipath) (uint32, []string, dmerr.Status, error) {
	var lastStatus dmerr.Status
	var lastErr error
	for _, h := range activePaths(v, m) {
		p := v.Path(h)
		gen, keys, status, err := b.withRetryReadKeys(ctx, p)
		if status == dmerr.OK || status == dmerr.IllegalRequest {
			return gen, keys, status, err
		}
		lastStatus, lastErr = status, err
	}
	return 0, nil, lastStatus, lastErr
}

func (b *Broadcaster) withRetryReadKeys(ctx context.Context, p *topology.Path) (uint32, []string, dmerr.Status, error) {
	var gen uint32
	var keys []string
	status, err := b.withRetry(func() (dmerr.Status, error) {
		g, k, s, e := b.Exec.ReadKeys(ctx, p)
		gen, keys = g, k
		return s, e
	})
	return gen, keys, status, err
}

// ReadReservation issues PRIN read-reservation with the same fan-out
// short-circuit rule as ReadKeys.
func (b *Broadcaster) ReadReservation(ctx context.Context, v *topology.Vectors, m *topology.Multipath) (ReservationInfo, dmerr.Status, error) {
	var lastStatus dmerr.Status
	var lastErr error
	for _, h := range activePaths(v, m) {
		p := v.Path(h)
		var info ReservationInfo
		status, err := b.withRetry(func() (dmerr.Status, error) {
			i, s, e := b.Exec.ReadReservation(ctx, p)
			info = i
			return s, e
		})
		if status == dmerr.OK || status == dmerr.IllegalRequest {
			return info, status, err
		}
		lastStatus, lastErr = status, err
	}
	return ReservationInfo{}, lastStatus, lastErr
}

// ReadFullStatus issues PRIN read-full-status with the same fan-out
// short-circuit rule as ReadKeys.
func (b *Broadcaster) ReadFullStatus(ctx context.Context, v *topology.Vectors, m *topology.Multipath) ([]Registrant, dmerr.Status, error) {
	var lastStatus dmerr.Status
	var lastErr error
	for _, h := range activePaths(v, m) {
		p := v.Path(h)
		var regs []Registrant
		status, err := b.withRetry(func() (dmerr.Status, error) {
			r, s, e := b.Exec.ReadFullStatus(ctx, p)
			regs = r
			return s, e
		})
		if status == dmerr.OK || status == dmerr.IllegalRequest {
			return regs, status, err
		}
		lastStatus, lastErr = status, err
	}
	return nil, lastStatus, lastErr
}
