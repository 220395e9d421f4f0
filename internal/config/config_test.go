package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

func TestFactorizeHWTableMergesDuplicateStanzas(t *testing.T) {
	table := []*HWEntry{
		{Vendor: "ACME", Product: "DISK", Selector: "round-robin 0"},
		{Vendor: "ACME", Product: "DISK", Minio: 500},
	}
	table = factorizeHWTable(table, 0, "test")
	require.Len(t, table, 1)
	assert.Equal(t, "round-robin 0", table[0].Selector)
	assert.Equal(t, 500, table[0].Minio)
}

func TestFactorizeHWTableDropsMissingVendorProduct(t *testing.T) {
	table := []*HWEntry{
		{Vendor: "", Product: "DISK"},
		{Vendor: "ACME", Product: "DISK"},
	}
	table = factorizeHWTable(table, 0, "test")
	require.Len(t, table, 1)
	assert.Equal(t, "ACME", table[0].Vendor)
}

func TestSelectHWEntriesMostSpecificLastWins(t *testing.T) {
	table := []*HWEntry{
		{Vendor: "DGC", Product: ".*", Checker: "emc_clariion"},
		{Vendor: "DGC", Product: "^VRAID$", Checker: "tur"},
	}
	merged := SelectHWEntries(table, "DGC", "VRAID", "")
	require.NotNil(t, merged)
	assert.Equal(t, "tur", merged.Checker)
}

func TestSelectHWEntriesNoMatch(t *testing.T) {
	table := []*HWEntry{{Vendor: "DGC", Product: ".*"}}
	assert.Nil(t, SelectHWEntries(table, "IBM", "2107900", ""))
}

func TestSelectPGPolicyPrecedence(t *testing.T) {
	defaults := Defaults{HWEntry: HWEntry{PathGroupingPolicy: topology.PolicyFailover}}

	s := Selection{Defaults: defaults}
	policy, origin := s.SelectPGPolicy()
	assert.Equal(t, topology.PolicyFailover, policy)
	assert.Equal(t, OriginConfigFileDefault, origin)

	s.HWE = &HWEntry{PathGroupingPolicy: topology.PolicyGroupByPrio}
	policy, origin = s.SelectPGPolicy()
	assert.Equal(t, topology.PolicyGroupByPrio, policy)
	assert.Equal(t, OriginControllerSetting, origin)

	s.Overrides = &HWEntry{PathGroupingPolicy: topology.PolicyMultibus}
	policy, origin = s.SelectPGPolicy()
	assert.Equal(t, topology.PolicyMultibus, policy)
	assert.Equal(t, OriginOverrides, origin)

	s.MPE = &MPEntry{PathGroupingPolicy: topology.PolicyGroupByNodeName}
	policy, origin = s.SelectPGPolicy()
	assert.Equal(t, topology.PolicyGroupByNodeName, policy)
	assert.Equal(t, OriginLUNSetting, origin)
}

func TestSelectNoPathRetryFallsBackToInternalDefault(t *testing.T) {
	s := Selection{}
	retry, origin := s.SelectNoPathRetry()
	assert.Equal(t, topology.NoPathRetryUndef, retry)
	assert.Equal(t, OriginInternalDefault, origin)
}

func TestLoadMergesMainFileAndOverlayDirectory(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "multipath.conf")
	require.NoError(t, os.WriteFile(mainPath, []byte(`
[defaults]
path_grouping_policy = "multibus"

[[devices]]
vendor = "ACME"
product = "DISK"
path_checker = "directio"
`), 0o644))

	confDir := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(confDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(confDir, "10-local.conf"), []byte(`
[[devices]]
vendor = "ACME"
product = "DISK"
rr_min_io_rq = 200
`), 0o644))

	cfg, err := Load(mainPath, confDir)
	require.NoError(t, err)
	assert.Equal(t, topology.PolicyMultibus, cfg.Defaults.PathGroupingPolicy)

	merged := SelectHWEntries(cfg.HWTable, "ACME", "DISK", "")
	require.NotNil(t, merged)
	assert.Equal(t, "directio", merged.Checker)
	assert.Equal(t, 200, merged.Minio)
}

func TestConfigRefCounting(t *testing.T) {
	cfg := &Config{}
	assert.EqualValues(t, 0, cfg.RefCount())
	cfg.Acquire()
	cfg.Acquire()
	assert.EqualValues(t, 2, cfg.RefCount())
	cfg.Release()
	assert.EqualValues(t, 1, cfg.RefCount())
}
