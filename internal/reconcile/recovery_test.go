package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

type fakeQueueSetter struct {
	alias string
	on    bool
	calls int
}

func (f *fakeQueueSetter) SetQueueIfNoPath(alias string, on bool) error {
	f.alias = alias
	f.on = on
	f.calls++
	return nil
}

func TestEnterRecoveryModeArmsRetryTick(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: 5}
	EnterRecoveryMode(m, 10)
	assert.True(t, m.RecoveryMode)
	assert.Equal(t, 51, m.RetryTick)
}

func TestEnterRecoveryModeNoopWhenRetryNotPositive(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: topology.NoPathRetryFail}
	EnterRecoveryMode(m, 10)
	assert.False(t, m.RecoveryMode)
}

func TestLeaveRecoveryModeReenablesQueueing(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: 5, RecoveryMode: true, RetryTick: 20}
	q := &fakeQueueSetter{}
	require.NoError(t, LeaveRecoveryMode(m, q))
	assert.False(t, m.RecoveryMode)
	assert.Equal(t, 0, m.RetryTick)
	assert.Equal(t, 1, q.calls)
	assert.True(t, q.on)
}

func TestLeaveRecoveryModeSkipsDMCallWhenNotRecovering(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: 5}
	q := &fakeQueueSetter{}
	require.NoError(t, LeaveRecoveryMode(m, q))
	assert.Equal(t, 0, q.calls)
}

func TestSetNoPathRetryFailDisablesQueueing(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: topology.NoPathRetryFail, Features: "1 queue_if_no_path"}
	q := &fakeQueueSetter{}
	require.NoError(t, SetNoPathRetry(m, q, true, 10))
	assert.Equal(t, 1, q.calls)
	assert.False(t, q.on)
}

func TestSetNoPathRetryQueueEnablesQueueing(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: topology.NoPathRetryQueue, Features: "0"}
	q := &fakeQueueSetter{}
	require.NoError(t, SetNoPathRetry(m, q, true, 10))
	assert.Equal(t, 1, q.calls)
	assert.True(t, q.on)
}

func TestSetNoPathRetryPositiveEntersRecoveryWhenNoActivePaths(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: 12, Features: "0"}
	q := &fakeQueueSetter{}
	require.NoError(t, SetNoPathRetry(m, q, true, 10))
	assert.True(t, m.RecoveryMode)
	assert.Equal(t, 0, q.calls)
}

func TestSetNoPathRetryPositiveLeavesRecoveryWhenPathsActive(t *testing.T) {
	m := &topology.Multipath{
		Alias: "mpatha", NoPathRetry: 12, Features: "0", RecoveryMode: true,
		Pathgroups: []*topology.Pathgroup{{Paths: []topology.PathHandle{0, 1}}},
	}
	q := &fakeQueueSetter{}
	require.NoError(t, SetNoPathRetry(m, q, true, 10))
	assert.False(t, m.RecoveryMode)
}

func TestUpdateQueueModeDelPathEntersRecoveryOnLastPathLoss(t *testing.T) {
	m := &topology.Multipath{Alias: "mpatha", NoPathRetry: 5}
	UpdateQueueModeDelPath(m, 10)
	assert.True(t, m.RecoveryMode)
}

func TestUpdateQueueModeAddPathLeavesRecoveryOnFirstPath(t *testing.T) {
	m := &topology.Multipath{
		Alias: "mpatha", NoPathRetry: 5, RecoveryMode: true,
		Pathgroups: []*topology.Pathgroup{{Paths: []topology.PathHandle{0}}},
	}
	q := &fakeQueueSetter{}
	require.NoError(t, UpdateQueueModeAddPath(m, q))
	assert.False(t, m.RecoveryMode)
}
