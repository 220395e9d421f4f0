// Package prbroadcast implements the SCSI-3 persistent-reservation
// broadcaster (C8): parallel fan-out of PRIN/PROUT across a map's active
// paths, result aggregation, register rollback on conflict, and
// reservation-holder recovery on release.
//
// Raw CDB encoding and sense-data decoding are out of scope (Non-goal):
// this package talks to paths exclusively through the ScsiExecutor
// interface, a semantic PRIN/PROUT collaborator a transport-layer package
// implements.
package prbroadcast

import (
	"context"
	"sync"
	"time"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/retry"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("prbroadcast")

// ReservationInfo is PRIN read-reservation's decoded response.
type ReservationInfo struct {
	Generation uint32
	Key        string
	ScopeType  byte
	Held       bool
}

// Registrant is one entry of PRIN read-full-status's decoded response.
type Registrant struct {
	Key         string
	AllTgPt     bool
	TransportID string
	ScopeType   byte
	Reservation bool
}

// ScsiExecutor is the semantic PRIN/PROUT collaborator: one path-scoped
// call per service action, with CDB construction and sense parsing
// already done by the implementation. Every method returns the
// operation's dmerr.Status alongside a Go error for transport-level
// failures (short read, closed fd) the status taxonomy doesn't cover.
type ScsiExecutor interface {
	ReadKeys(ctx context.Context, p *topology.Path) (generation uint32, keys []string, status dmerr.Status, err error)
	ReadReservation(ctx context.Context, p *topology.Path) (info ReservationInfo, status dmerr.Status, err error)
	ReadFullStatus(ctx context.Context, p *topology.Path) (regs []Registrant, status dmerr.Status, err error)

	Register(ctx context.Context, p *topology.Path, key, saKey string, aptpl, allTgPt, specifyInitiatorPort bool) (dmerr.Status, error)
	Reserve(ctx context.Context, p *topology.Path, key string, scopeType byte) (dmerr.Status, error)
	Release(ctx context.Context, p *topology.Path, key string, scopeType byte) (dmerr.Status, error)
	Clear(ctx context.Context, p *topology.Path, key string) (dmerr.Status, error)
	Preempt(ctx context.Context, p *topology.Path, key, saKey string, scopeType byte, abort bool) (dmerr.Status, error)
}

// Broadcaster runs PRIN/PROUT fan-outs against a map's paths.
type Broadcaster struct {
	Exec ScsiExecutor

	// Attempts bounds the per-worker retry count for the transient-SCSI
	// conditions named in §4.8 (unit attention, not-ready).
	Attempts uint
}

// New returns a Broadcaster issuing commands through exec.
func New(exec ScsiExecutor) *Broadcaster {
	return &Broadcaster{Exec: exec, Attempts: 5}
}

// activePaths returns the handles of every path across m's pathgroups
// whose checker state is up or ghost, in pathgroup-then-path insertion
// order (§5 ordering rule).
func activePaths(v *topology.Vectors, m *topology.Multipath) []topology.PathHandle {
	var out []topology.PathHandle
	for _, pg := range m.Pathgroups {
		for _, h := range pg.Paths {
			if p := v.Path(h); p != nil && p.CheckerState.IsActive() {
				out = append(out, h)
			}
		}
	}
	return out
}

func (b *Broadcaster) attempts() uint {
	if b.Attempts == 0 {
		return 5
	}
	return b.Attempts
}

// withRetry wraps op in the worker retry policy from §4.8: a TransientIO
// status (unit attention or not-ready) is retried up to Attempts times
// with a fixed 1ms delay; every other status is not retried.
func (b *Broadcaster) withRetry(op func() (dmerr.Status, error)) (dmerr.Status, error) {
	var status dmerr.Status
	var opErr error
	err := retry.Do(func() error {
		status, opErr = op()
		if status == dmerr.TransientIO {
			return retryableTransient{opErr}
		}
		if opErr != nil {
			return retry.Unrecoverable(opErr)
		}
		return nil
	}, retry.Attempts(b.attempts()), retry.RetryIf(retry.RetryIfStatus),
		retry.Delay(time.Millisecond), retry.DelayType(retry.FixedDelay))
	if err != nil {
		if opErr == nil {
			opErr = err
		}
	}
	return status, opErr
}

// retryableTransient is the retry.StatusError for a PRIN/PROUT call whose
// dmerr.Status came back TransientIO: unit attention or not-ready is
// worth a retry, everything else withRetry reports through
// retry.Unrecoverable instead.
type retryableTransient struct{ err error }

func (r retryableTransient) Error() string {
	if r.err == nil {
		return "transient SCSI condition"
	}
	return r.err.Error()
}

func (r retryableTransient) Retryable() bool { return true }
