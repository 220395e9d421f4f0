package prbroadcast

import (
	"context"
	"sync"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// Release fans out PROUT release to every active path, then recovers
// from a holder that no longer matches our configured key: if the
// reservation is already gone, it's a success; otherwise every
// registrant whose key differs from ours has its registration
// transferred to us (register with its transport-id via SPEC_I_PT, then
// un-register that key), and finally our own key is re-registered,
// matching §4.8's release protocol.
func (b *Broadcaster) Release(ctx context.Context, v *topology.Vectors, m *topology.Multipath, key string, scopeType byte) (dmerr.Status, error) {
	handles := activePaths(v, m)
	if len(handles) == 0 {
		return dmerr.NotPresent, nil
	}

	results := make([]taskResult, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h topology.PathHandle) {
			defer wg.Done()
			p := v.Path(h)
			status, err := b.withRetry(func() (dmerr.Status, error) {
				return b.Exec.Release(ctx, p, key, scopeType)
			})
			results[i] = taskResult{handle: h, status: status, err: err}
		}(i, h)
	}
	wg.Wait()

	worst := dmerr.OK
	var worstErr error
	for _, r := range results {
		if merged := dmerr.Worst(worst, r.status); merged != worst {
			worst, worstErr = merged, r.err
		}
	}
	if worst != dmerr.OK && worst != dmerr.NotPresent {
		return worst, worstErr
	}

	info, status, err := b.ReadReservation(ctx, v, m)
	if status == dmerr.NotPresent || !info.Held {
		return dmerr.OK, nil
	}
	if status != dmerr.OK {
		return status, err
	}

	regs, status, err := b.ReadFullStatus(ctx, v, m)
	if status != dmerr.OK {
		return status, err
	}

	// The adopt/un-register pairs and the final re-register all go through
	// the first active path, the same one used for reserve/clear/preempt.
	p := v.Path(handles[0])
	for _, reg := range regs {
		if reg.Key == key || reg.Key == "" {
			continue
		}
		if s, e := b.withRetry(func() (dmerr.Status, error) {
			return b.Exec.Register(ctx, p, "", reg.Key, false, reg.AllTgPt, true)
		}); s != dmerr.OK {
			log.WithField("holder_key", reg.Key).Warn("failed to adopt foreign registrant during release recovery")
			return s, e
		}
		if s, e := b.withRetry(func() (dmerr.Status, error) {
			return b.Exec.Register(ctx, p, reg.Key, "", false, reg.AllTgPt, false)
		}); s != dmerr.OK {
			return s, e
		}
	}

	return b.withRetry(func() (dmerr.Status, error) {
		return b.Exec.Register(ctx, p, "", key, false, false, false)
	})
}
