package prbroadcast

import (
	"context"
	"sync"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// taskResult is one worker's outcome, written only to its own slot in a
// caller-owned slice (§5: "each worker writes only to its own slot in a
// caller-owned parameter array").
type taskResult struct {
	handle topology.PathHandle
	status dmerr.Status
	err    error
}

// RegisterOptions parametrizes a PROUT register/register-and-ignore
// fan-out.
type RegisterOptions struct {
	Key, SAKey string
	APTPL      bool
	// AllTgPt requests the target apply the registration to every port
	// in the target's port group; when set, one worker per distinct
	// SCSI host is spawned instead of one per path (host-dedup).
	AllTgPt bool
	// RegisterAndIgnore skips the reservation-key check on the target
	// (PROUT service action 6 rather than 0); the fan-out shape is
	// otherwise identical.
	RegisterAndIgnore bool
}

// dedupHandles returns the subset of handles worth issuing a worker for:
// every handle when AllTgPt is unset, or one representative handle per
// distinct SCSI host when it is set.
//
// OPEN QUESTION (preserved per spec, flagged in DESIGN.md): whether
// host-dedup should key on SCSI host number alone or on the full
// host/channel/target tuple is left exactly as ambiguous as the
// specification states it; this implementation dedups on host number,
// the narrower of the two readings.
func dedupHandles(v *topology.Vectors, handles []topology.PathHandle, allTgPt bool) []topology.PathHandle {
	if !allTgPt {
		return handles
	}
	seen := map[int]bool{}
	var out []topology.PathHandle
	for _, h := range handles {
		p := v.Path(h)
		if p == nil {
			continue
		}
		if !p.SCSI.HasHost {
			out = append(out, h)
			continue
		}
		if seen[p.SCSI.Host] {
			continue
		}
		seen[p.SCSI.Host] = true
		out = append(out, h)
	}
	return out
}

// Register fans out PROUT register (or register-and-ignore) across m's
// active paths, rolling back to the old key on a reservation conflict
// when this was a non-zero-to-non-zero key swap, per §4.8's register
// protocol.
func (b *Broadcaster) Register(ctx context.Context, v *topology.Vectors, m *topology.Multipath, opts RegisterOptions) (dmerr.Status, error) {
	handles := dedupHandles(v, activePaths(v, m), opts.AllTgPt)
	if len(handles) == 0 {
		return dmerr.NotPresent, nil
	}

	results := b.fanOutRegister(ctx, v, handles, opts)

	worst := dmerr.OK
	var worstErr error
	for _, r := range results {
		if merged := dmerr.Worst(worst, r.status); merged != worst {
			worst, worstErr = merged, r.err
		}
	}

	if worst == dmerr.ReservationConflict && opts.SAKey != "" {
		return b.rollbackRegister(ctx, v, handles, opts, results)
	}
	return worst, worstErr
}

// fanOutRegister spawns one worker per handle; after the first task, the
// "specify initiator port" flag is cleared so the rest of the fan-out
// doesn't resubmit the transport-id list (§4.8).
func (b *Broadcaster) fanOutRegister(ctx context.Context, v *topology.Vectors, handles []topology.PathHandle, opts RegisterOptions) []taskResult {
	results := make([]taskResult, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h topology.PathHandle) {
			defer wg.Done()
			p := v.Path(h)
			specifyInitiatorPort := i == 0
			status, err := b.withRetry(func() (dmerr.Status, error) {
				return b.Exec.Register(ctx, p, opts.Key, opts.SAKey, opts.APTPL, opts.AllTgPt, specifyInitiatorPort)
			})
			results[i] = taskResult{handle: h, status: status, err: err}
		}(i, h)
	}
	wg.Wait()
	return results
}

// rollbackRegister re-registers the old key (swapping Key/SAKey and
// zeroing the new key) on every path that had previously reported
// success, per §4.8's rollback rule. Tasks whose original outcome wasn't
// success are skipped with a sentinel. The overall result is always
// ReservationConflict: the rollback repairs state, it doesn't change the
// caller-visible outcome of the original register.
func (b *Broadcaster) rollbackRegister(ctx context.Context, v *topology.Vectors, handles []topology.PathHandle, opts RegisterOptions, original []taskResult) (dmerr.Status, error) {
	rollbackOpts := RegisterOptions{
		Key: opts.SAKey, SAKey: "", APTPL: opts.APTPL, AllTgPt: opts.AllTgPt,
	}

	results := make([]taskResult, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		if original[i].status != dmerr.OK {
			results[i] = taskResult{handle: h, status: dmerr.NotPresent}
			continue
		}
		wg.Add(1)
		go func(i int, h topology.PathHandle) {
			defer wg.Done()
			p := v.Path(h)
			status, err := b.withRetry(func() (dmerr.Status, error) {
				return b.Exec.Register(ctx, p, rollbackOpts.Key, rollbackOpts.SAKey, rollbackOpts.APTPL, rollbackOpts.AllTgPt, i == 0)
			})
			results[i] = taskResult{handle: h, status: status, err: err}
		}(i, h)
	}
	wg.Wait()

	for _, r := range results {
		if r.status != dmerr.OK && r.status != dmerr.NotPresent {
			log.WithField("path", r.handle).Warn("rollback register failed on path")
		}
	}
	return dmerr.ReservationConflict, nil
}
