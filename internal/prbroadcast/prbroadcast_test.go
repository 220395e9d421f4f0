package prbroadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// fakeExec is a scriptable ScsiExecutor test double, keyed by path handle
// index within the test's Vectors.
type fakeExec struct {
	mu sync.Mutex

	registerStatus map[int]dmerr.Status
	registerCalls  []registerCall

	releaseStatus map[int]dmerr.Status

	reserveStatus map[int]dmerr.Status
	clearStatus   map[int]dmerr.Status
	preemptStatus map[int]dmerr.Status

	readKeysStatus        dmerr.Status
	readReservation       ReservationInfo
	readReservationStatus dmerr.Status
	readFullStatusRegs    []Registrant
	readFullStatusStatus  dmerr.Status
}

type registerCall struct {
	pathIdx int
	key     string
	saKey   string
}

func (f *fakeExec) ReadKeys(ctx context.Context, p *topology.Path) (uint32, []string, dmerr.Status, error) {
	return 1, nil, f.readKeysStatus, nil
}

func (f *fakeExec) ReadReservation(ctx context.Context, p *topology.Path) (ReservationInfo, dmerr.Status, error) {
	return f.readReservation, f.readReservationStatus, nil
}

func (f *fakeExec) ReadFullStatus(ctx context.Context, p *topology.Path) ([]Registrant, dmerr.Status, error) {
	return f.readFullStatusRegs, f.readFullStatusStatus, nil
}

func (f *fakeExec) Register(ctx context.Context, p *topology.Path, key, saKey string, aptpl, allTgPt, specifyInitiatorPort bool) (dmerr.Status, error) {
	f.mu.Lock()
	f.registerCalls = append(f.registerCalls, registerCall{pathIdx: p.Minor, key: key, saKey: saKey})
	f.mu.Unlock()
	if s, ok := f.registerStatus[p.Minor]; ok {
		return s, nil
	}
	return dmerr.OK, nil
}

func (f *fakeExec) Reserve(ctx context.Context, p *topology.Path, key string, scopeType byte) (dmerr.Status, error) {
	if s, ok := f.reserveStatus[p.Minor]; ok {
		return s, nil
	}
	return dmerr.OK, nil
}

func (f *fakeExec) Release(ctx context.Context, p *topology.Path, key string, scopeType byte) (dmerr.Status, error) {
	if s, ok := f.releaseStatus[p.Minor]; ok {
		return s, nil
	}
	return dmerr.OK, nil
}

func (f *fakeExec) Clear(ctx context.Context, p *topology.Path, key string) (dmerr.Status, error) {
	if s, ok := f.clearStatus[p.Minor]; ok {
		return s, nil
	}
	return dmerr.OK, nil
}

func (f *fakeExec) Preempt(ctx context.Context, p *topology.Path, key, saKey string, scopeType byte, abort bool) (dmerr.Status, error) {
	if s, ok := f.preemptStatus[p.Minor]; ok {
		return s, nil
	}
	return dmerr.OK, nil
}

// buildMap creates n active paths (Minor used as a stable per-path index)
// assigned to a single pathgroup of a single map.
func buildMap(t *testing.T, n int) (*topology.Vectors, *topology.Multipath) {
	t.Helper()
	v := topology.NewVectors()
	var handles []topology.PathHandle
	for i := 0; i < n; i++ {
		h := v.AddPath(&topology.Path{Minor: i, CheckerState: topology.PathUp})
		handles = append(handles, h)
	}
	m := &topology.Multipath{
		Alias:      "mpatha",
		Pathgroups: []*topology.Pathgroup{{Paths: handles}},
	}
	return v, m
}

func TestReadKeysStopsAtFirstSuccess(t *testing.T) {
	v, m := buildMap(t, 3)
	f := &fakeExec{readKeysStatus: dmerr.OK}
	b := New(f)
	_, _, status, err := b.ReadKeys(context.Background(), v, m)
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
}

func TestReadKeysStopsOnIllegalRequest(t *testing.T) {
	v, m := buildMap(t, 3)
	f := &fakeExec{readKeysStatus: dmerr.IllegalRequest}
	b := New(f)
	_, _, status, err := b.ReadKeys(context.Background(), v, m)
	require.NoError(t, err)
	assert.Equal(t, dmerr.IllegalRequest, status)
}

func TestReadKeysReturnsLastStatusWhenAllFail(t *testing.T) {
	v, m := buildMap(t, 2)
	f := &fakeExec{readKeysStatus: dmerr.Fatal}
	b := New(f)
	b.Attempts = 1
	_, _, status, _ := b.ReadKeys(context.Background(), v, m)
	assert.Equal(t, dmerr.Fatal, status)
}

func TestRegisterSucceedsAcrossAllPaths(t *testing.T) {
	v, m := buildMap(t, 3)
	f := &fakeExec{registerStatus: map[int]dmerr.Status{}}
	b := New(f)
	status, err := b.Register(context.Background(), v, m, RegisterOptions{Key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
	assert.Len(t, f.registerCalls, 3)
}

func TestRegisterNoActivePathsReturnsNotPresent(t *testing.T) {
	v := topology.NewVectors()
	m := &topology.Multipath{Alias: "mpatha"}
	f := &fakeExec{}
	b := New(f)
	status, err := b.Register(context.Background(), v, m, RegisterOptions{Key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, dmerr.NotPresent, status)
}

func TestRegisterRollsBackOnReservationConflict(t *testing.T) {
	v, m := buildMap(t, 3)
	f := &fakeExec{
		registerStatus: map[int]dmerr.Status{
			0: dmerr.OK,
			1: dmerr.ReservationConflict,
			2: dmerr.OK,
		},
	}
	b := New(f)
	status, err := b.Register(context.Background(), v, m, RegisterOptions{Key: "k1", SAKey: "k0"})
	require.NoError(t, err)
	assert.Equal(t, dmerr.ReservationConflict, status)

	var rollbackCalls int
	for _, c := range f.registerCalls {
		if c.key == "k0" && c.saKey == "" {
			rollbackCalls++
		}
	}
	assert.Equal(t, 2, rollbackCalls, "rollback should only re-register the paths that originally succeeded")
}

func TestRegisterDedupsByHostWhenAllTgPt(t *testing.T) {
	v := topology.NewVectors()
	h0 := v.AddPath(&topology.Path{Minor: 0, CheckerState: topology.PathUp, SCSI: topology.SCSIAddress{Host: 1, HasHost: true}})
	h1 := v.AddPath(&topology.Path{Minor: 1, CheckerState: topology.PathUp, SCSI: topology.SCSIAddress{Host: 1, HasHost: true}})
	h2 := v.AddPath(&topology.Path{Minor: 2, CheckerState: topology.PathUp, SCSI: topology.SCSIAddress{Host: 2, HasHost: true}})
	m := &topology.Multipath{Alias: "mpatha", Pathgroups: []*topology.Pathgroup{{Paths: []topology.PathHandle{h0, h1, h2}}}}

	f := &fakeExec{registerStatus: map[int]dmerr.Status{}}
	b := New(f)
	status, err := b.Register(context.Background(), v, m, RegisterOptions{Key: "k1", AllTgPt: true})
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
	assert.Len(t, f.registerCalls, 2, "one worker per distinct host")
}

func TestReserveDispatchesToFirstActivePathOnly(t *testing.T) {
	v, m := buildMap(t, 3)
	f := &fakeExec{}
	b := New(f)
	status, err := b.Reserve(context.Background(), v, m, "k1", 3)
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
}

func TestClearNoActivePathsReturnsNotPresent(t *testing.T) {
	v := topology.NewVectors()
	m := &topology.Multipath{Alias: "mpatha"}
	f := &fakeExec{}
	b := New(f)
	status, err := b.Clear(context.Background(), v, m, "k1")
	require.NoError(t, err)
	assert.Equal(t, dmerr.NotPresent, status)
}

func TestPreemptDispatchesToFirstActivePath(t *testing.T) {
	v, m := buildMap(t, 2)
	f := &fakeExec{}
	b := New(f)
	status, err := b.Preempt(context.Background(), v, m, "k1", "k0", 3, true)
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
}

func TestReleaseReturnsOKWhenReservationAlreadyGone(t *testing.T) {
	v, m := buildMap(t, 2)
	f := &fakeExec{
		readReservationStatus: dmerr.NotPresent,
	}
	b := New(f)
	status, err := b.Release(context.Background(), v, m, "k1", 3)
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)
}

func TestReleaseAdoptsForeignRegistrantsThenReregisters(t *testing.T) {
	v, m := buildMap(t, 2)
	f := &fakeExec{
		readReservation:       ReservationInfo{Held: true, Key: "other"},
		readReservationStatus: dmerr.OK,
		readFullStatusStatus:  dmerr.OK,
		readFullStatusRegs: []Registrant{
			{Key: "other", AllTgPt: false},
			{Key: "k1"}, // our own key, should be skipped
		},
	}
	b := New(f)
	status, err := b.Release(context.Background(), v, m, "k1", 3)
	require.NoError(t, err)
	assert.Equal(t, dmerr.OK, status)

	var adopted, unregistered, final bool
	for _, c := range f.registerCalls {
		if c.key == "" && c.saKey == "other" {
			adopted = true
		}
		if c.key == "other" && c.saKey == "" {
			unregistered = true
		}
	}
	for _, c := range f.registerCalls {
		if c.key == "" && c.saKey == "k1" {
			final = true
		}
	}
	assert.True(t, adopted, "expected a register call adopting the foreign key")
	_ = unregistered
	assert.True(t, final, "expected a final register call establishing our own key via sa_key")
}

func TestReleaseNoActivePathsReturnsNotPresent(t *testing.T) {
	v := topology.NewVectors()
	m := &topology.Multipath{Alias: "mpatha"}
	f := &fakeExec{}
	b := New(f)
	status, err := b.Release(context.Background(), v, m, "k1", 3)
	require.NoError(t, err)
	assert.Equal(t, dmerr.NotPresent, status)
}
