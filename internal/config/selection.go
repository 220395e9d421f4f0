package config

import (
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// SelectHWEntries merges every hardware-table stanza whose vendor/product/
// revision regexes match the given device attributes into a single
// HWEntry, walking the table front to back so a later, more specific
// entry's explicit settings override an earlier, more generic one's --
// the practical effect of the source's "search backwards, merge forward"
// traversal once the two hwtable.c/config.c revisions in this tree's
// original_source/ are reconciled: whichever entry was added to the table
// last (builtin rows first, then main-file [[devices]], then *.conf
// [[devices]]) wins ties.
//
// Returns nil if nothing in the table matches.
func SelectHWEntries(table []*HWEntry, vendor, product, revision string) *HWEntry {
	var merged *HWEntry
	for _, e := range table {
		if !e.matches(vendor, product, revision) {
			continue
		}
		if merged == nil {
			copy := *e
			merged = &copy
			continue
		}
		mergeHWEntry(merged, e)
	}
	return merged
}

// FindMPEntry returns the [[multipaths]] stanza for wwid, or nil.
func (c *Config) FindMPEntry(wwid string) *MPEntry {
	for _, e := range c.MPTable {
		if e.WWID == wwid {
			return e
		}
	}
	return nil
}

// Selection carries the four configuration layers a Select* call
// consults, from most to least specific: a per-wwid [[multipaths]] entry,
// the [overrides] pseudo hardware entry, the merged hardware-table match
// for this device, and the global defaults.
type Selection struct {
	MPE       *MPEntry
	Overrides *HWEntry
	HWE       *HWEntry
	Defaults  Defaults
}

// SelectPGPolicy resolves path_grouping_policy: LUN setting, then
// overrides, then controller setting, then config file default, then the
// internal default (failover), exactly propsel.c's select_pgpolicy order.
func (s Selection) SelectPGPolicy() (topology.Policy, Origin) {
	if s.MPE != nil && s.MPE.PathGroupingPolicy != topology.PolicyUndef {
		return s.MPE.PathGroupingPolicy, OriginLUNSetting
	}
	if s.Overrides != nil && s.Overrides.PathGroupingPolicy != topology.PolicyUndef {
		return s.Overrides.PathGroupingPolicy, OriginOverrides
	}
	if s.HWE != nil && s.HWE.PathGroupingPolicy != topology.PolicyUndef {
		return s.HWE.PathGroupingPolicy, OriginControllerSetting
	}
	if s.Defaults.PathGroupingPolicy != topology.PolicyUndef {
		return s.Defaults.PathGroupingPolicy, OriginConfigFileDefault
	}
	return topology.PolicyFailover, OriginInternalDefault
}

// SelectSelector resolves path_selector: LUN setting, then overrides,
// then controller setting, then config file default, then the internal
// default (DefaultSelector).
func (s Selection) SelectSelector() (string, Origin) {
	if s.MPE != nil && s.MPE.Selector != "" {
		return s.MPE.Selector, OriginLUNSetting
	}
	if s.Overrides != nil && s.Overrides.Selector != "" {
		return s.Overrides.Selector, OriginOverrides
	}
	if s.HWE != nil && s.HWE.Selector != "" {
		return s.HWE.Selector, OriginControllerSetting
	}
	if s.Defaults.Selector != "" {
		return s.Defaults.Selector, OriginConfigFileDefault
	}
	return DefaultSelector, OriginInternalDefault
}

// SelectFeatures resolves the features string: overrides, then controller
// setting, then config file default, then the internal default --
// select_features has no LUN-setting branch in the
// source; per-map feature overrides (queue_if_no_path) are layered on top
// by the caller from no_path_retry, not from this selector.
func (s Selection) SelectFeatures() (string, Origin) {
	if s.Overrides != nil && s.Overrides.Features != "" {
		return s.Overrides.Features, OriginOverrides
	}
	if s.HWE != nil && s.HWE.Features != "" {
		return s.HWE.Features, OriginControllerSetting
	}
	if s.Defaults.Features != "" {
		return s.Defaults.Features, OriginConfigFileDefault
	}
	return DefaultFeatures, OriginInternalDefault
}

// SelectHwhandler resolves hardware_handler the same way as features.
func (s Selection) SelectHwhandler() (string, Origin) {
	if s.Overrides != nil && s.Overrides.Hwhandler != "" {
		return s.Overrides.Hwhandler, OriginOverrides
	}
	if s.HWE != nil && s.HWE.Hwhandler != "" {
		return s.HWE.Hwhandler, OriginControllerSetting
	}
	if s.Defaults.Hwhandler != "" {
		return s.Defaults.Hwhandler, OriginConfigFileDefault
	}
	return DefaultHwhandler, OriginInternalDefault
}

// SelectNoPathRetry resolves no_path_retry: LUN, overrides, controller,
// config file default, internal default (UNDEF).
func (s Selection) SelectNoPathRetry() (topology.NoPathRetry, Origin) {
	if s.MPE != nil && s.MPE.NoPathRetry != topology.NoPathRetryUndef {
		return s.MPE.NoPathRetry, OriginLUNSetting
	}
	if s.Overrides != nil && s.Overrides.NoPathRetry != topology.NoPathRetryUndef {
		return s.Overrides.NoPathRetry, OriginOverrides
	}
	if s.HWE != nil && s.HWE.NoPathRetry != topology.NoPathRetryUndef {
		return s.HWE.NoPathRetry, OriginControllerSetting
	}
	if s.Defaults.NoPathRetry != topology.NoPathRetryUndef {
		return s.Defaults.NoPathRetry, OriginConfigFileDefault
	}
	return topology.NoPathRetryUndef, OriginInternalDefault
}

// SelectMinio resolves rr_min_io_rq: LUN, overrides, controller, config
// file default, internal default.
func (s Selection) SelectMinio() (int, Origin) {
	if s.MPE != nil && s.MPE.Minio != 0 {
		return s.MPE.Minio, OriginLUNSetting
	}
	if s.Overrides != nil && s.Overrides.Minio != 0 {
		return s.Overrides.Minio, OriginOverrides
	}
	if s.HWE != nil && s.HWE.Minio != 0 {
		return s.HWE.Minio, OriginControllerSetting
	}
	if s.Defaults.Minio != 0 {
		return s.Defaults.Minio, OriginConfigFileDefault
	}
	return DefaultMinio, OriginInternalDefault
}

// SelectChecker resolves path_checker: controller setting, config file
// default, internal default -- select_checker has no LUN-setting branch.
func (s Selection) SelectChecker() (string, Origin) {
	if s.HWE != nil && s.HWE.Checker != "" {
		return s.HWE.Checker, OriginControllerSetting
	}
	if s.Defaults.Checker != "" {
		return s.Defaults.Checker, OriginConfigFileDefault
	}
	return DefaultChecker, OriginInternalDefault
}

// SelectUIDAttribute resolves uid_attribute, the udev property name a
// path's wwid is read from, the same way as checker.
func (s Selection) SelectUIDAttribute() (string, Origin) {
	if s.HWE != nil && s.HWE.UIDAttribute != "" {
		return s.HWE.UIDAttribute, OriginControllerSetting
	}
	if s.Defaults.UIDAttribute != "" {
		return s.Defaults.UIDAttribute, OriginConfigFileDefault
	}
	return DefaultUIDAttribute, OriginInternalDefault
}

// SelectGetUID resolves the legacy getuid_callout command, for hardware
// stanzas that still rely on the callout-based wwid determination instead
// of uid_attribute.
func (s Selection) SelectGetUID() (string, Origin) {
	if s.HWE != nil && s.HWE.GetUID != "" {
		return s.HWE.GetUID, OriginControllerSetting
	}
	if s.Defaults.GetUID != "" {
		return s.Defaults.GetUID, OriginConfigFileDefault
	}
	return DefaultGetUID, OriginInternalDefault
}

// SelectPrio resolves the prioritizer name the same way as checker.
func (s Selection) SelectPrio() (string, Origin) {
	if s.HWE != nil && s.HWE.Prio != "" {
		return s.HWE.Prio, OriginControllerSetting
	}
	if s.Defaults.Prio != "" {
		return s.Defaults.Prio, OriginConfigFileDefault
	}
	return "const", OriginInternalDefault
}

// SelectRetainAttachedHWHandler resolves the retain_attached_hw_handler
// tri-state (SPEC_FULL.md C5 supplement): LUN table has no such field so
// this starts at the controller setting.
func (s Selection) SelectRetainAttachedHWHandler() (Tristate, Origin) {
	if s.HWE != nil && s.HWE.RetainAttachedHWHandler != TristateUndef {
		return s.HWE.RetainAttachedHWHandler, OriginControllerSetting
	}
	if s.Defaults.RetainAttachedHWHandler != TristateUndef {
		return s.Defaults.RetainAttachedHWHandler, OriginConfigFileDefault
	}
	return TristateUndef, OriginInternalDefault
}

// SelectAlias resolves the map alias: a per-wwid [[multipaths]] alias
// wins outright (select_alias); otherwise the caller falls through to
// user_friendly_names / the existing devmapper name / the wwid itself,
// which this package does not own (that's a bindings-file lookup plus a
// live dmclient query, both outside config's scope).
func (s Selection) SelectAlias() (string, bool) {
	if s.MPE != nil && s.MPE.Alias != "" {
		return s.MPE.Alias, true
	}
	return "", false
}

// ResolveSelection builds a Selection for a device's vendor/product/
// revision and wwid by looking up the hardware table and the per-wwid
// multipath entry table from cfg.
func (c *Config) ResolveSelection(vendor, product, revision, wwid string) Selection {
	return Selection{
		MPE:       c.FindMPEntry(wwid),
		Overrides: c.Overrides,
		HWE:       SelectHWEntries(c.HWTable, vendor, product, revision),
		Defaults:  c.Defaults,
	}
}
