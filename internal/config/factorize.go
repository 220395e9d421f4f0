package config

import (
	"github.com/sirupsen/logrus"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// strmatch reports whether a and b carry the identical vendor/product/
// revision regex strings -- the exact-string comparison factorize_hwtable
// uses to decide two stanzas describe the same device class, as opposed
// to the regex matching propsel.c does against a live device.
func strmatch(a, b *HWEntry) bool {
	return a.Vendor == b.Vendor && a.Product == b.Product && a.Revision == b.Revision
}

// mergeHWEntry copies every non-zero-value field set on src onto dst,
// mirroring merge_hwe()'s "later stanza's explicit settings win, but an
// unset field falls through to the earlier stanza" rule.
func mergeHWEntry(dst, src *HWEntry) {
	if src.UIDAttribute != "" {
		dst.UIDAttribute = src.UIDAttribute
	}
	if src.GetUID != "" {
		dst.GetUID = src.GetUID
	}
	if src.Checker != "" {
		dst.Checker = src.Checker
	}
	if src.Prio != "" {
		dst.Prio = src.Prio
	}
	if src.PrioArgs != "" {
		dst.PrioArgs = src.PrioArgs
	}
	if src.Features != "" {
		dst.Features = src.Features
	}
	if src.Hwhandler != "" {
		dst.Hwhandler = src.Hwhandler
	}
	if src.Selector != "" {
		dst.Selector = src.Selector
	}
	if src.PathGroupingPolicy != topology.PolicyUndef {
		dst.PathGroupingPolicy = src.PathGroupingPolicy
	}
	if src.NoPathRetry != 0 {
		dst.NoPathRetry = src.NoPathRetry
	}
	if src.Minio != 0 {
		dst.Minio = src.Minio
	}
	if src.PGTimeout != 0 {
		dst.PGTimeout = src.PGTimeout
	}
	if src.FastIOFailTmo != 0 {
		dst.FastIOFailTmo = src.FastIOFailTmo
	}
	if src.DevLossTmo != 0 {
		dst.DevLossTmo = src.DevLossTmo
	}
	if src.RetainAttachedHWHandler != TristateUndef {
		dst.RetainAttachedHWHandler = src.RetainAttachedHWHandler
	}
	if src.PGInitRetries != 0 {
		dst.PGInitRetries = src.PGInitRetries
	}
	if src.PGInitDelayMsecs != 0 {
		dst.PGInitDelayMsecs = src.PGInitDelayMsecs
	}
	dst.FlushOnLastDel = dst.FlushOnLastDel || src.FlushOnLastDel
	dst.DetectPrio = dst.DetectPrio || src.DetectPrio
	dst.DetectChecker = dst.DetectChecker || src.DetectChecker
}

// factorizeHWTable merges stanzas that describe the same vendor/product/
// revision triple into one, keeping the table free of duplicates before
// it is searched. base is the index of the first entry contributed by the
// layer being merged in (the builtin table when loading the main config
// file's [device] overrides, or the builtin+main-file table when loading
// a *.conf overlay file); entries before base are never merged into each
// other again, only used as merge targets for new entries from index base
// onward, matching factorize_hwtable's n parameter.
func factorizeHWTable(table []*HWEntry, base int, tableDesc string) []*HWEntry {
	i := base
	for i < len(table) {
		e := table[i]
		if e.Vendor == "" || e.Product == "" {
			log.WithField("table", tableDesc).Warn("device config missing vendor or product parameter, dropping")
			table = append(table[:i], table[i+1:]...)
			continue
		}
		merged := false
		for j := i + 1; j < len(table); j++ {
			if strmatch(e, table[j]) {
				log.WithFields(logrus.Fields{
					"table":    tableDesc,
					"vendor":   e.Vendor,
					"product":  e.Product,
					"revision": e.Revision,
				}).Debug("duplicate device section, merging")
				mergeHWEntry(e, table[j])
				table[j] = e
				table = append(table[:i], table[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			i++
		}
	}
	return table
}
