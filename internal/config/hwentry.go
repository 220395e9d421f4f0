// Package config implements the layered configuration resolver (C3): a
// builtin hardware table, a main config file, and a "*.conf" overlay
// directory, each contributing HWEntry and MPEntry records that are
// factorized and then consulted, most-specific first, by the per-property
// selectors this package exposes (the Go equivalent of propsel.c).
package config

import "github.com/opensvc/multipath-tools-sub000/internal/topology"

// Origin records which configuration layer contributed a value, purely
// for condlog-style provenance in Select* results.
type Origin int

const (
	OriginInternalDefault Origin = iota
	OriginConfigFileDefault
	OriginControllerSetting
	OriginLUNSetting
	OriginOverrides
)

func (o Origin) String() string {
	switch o {
	case OriginConfigFileDefault:
		return "config file default"
	case OriginControllerSetting:
		return "controller setting"
	case OriginLUNSetting:
		return "LUN setting"
	case OriginOverrides:
		return "overrides"
	default:
		return "internal default"
	}
}

// HWEntry is one [device] stanza: a vendor/product/revision regex triple
// (revision optional) plus every property the hardware table or an
// administrator's *.conf file can override for devices it matches.
type HWEntry struct {
	Vendor   string
	Product  string
	Revision string

	UIDAttribute         string
	GetUID               string
	Checker              string
	Prio                 string
	PrioArgs             string
	Features             string
	Hwhandler            string
	Selector             string
	PathGroupingPolicy   topology.Policy
	RRWeight             topology.RRWeightMode
	NoPathRetry          topology.NoPathRetry
	Minio                int
	PGTimeout            int
	FastIOFailTmo        int
	DevLossTmo           int
	FlushOnLastDel       bool
	RetainAttachedHWHandler Tristate
	DetectPrio           bool
	DetectChecker        bool
	PGInitRetries        int
	PGInitDelayMsecs     int

	// Source distinguishes a hand-written *.conf entry from a compiled-in
	// hwtable.go row, used only for diagnostics; selection order never
	// depends on it (backwards matching in the table order does).
	Source string
}

// Tristate models retain_attached_hw_handler's yes/no/undefined values
// (SPEC_FULL.md C5 supplement), since a plain bool can't represent
// "inherit the internal default".
type Tristate int

const (
	TristateUndef Tristate = iota
	TristateNo
	TristateYes
)

// MPEntry is one [multipath] stanza, keyed by wwid, overriding properties
// for one specific map regardless of the hardware behind it.
type MPEntry struct {
	WWID string
	Alias string

	Selector           string
	PathGroupingPolicy topology.Policy
	RRWeight           topology.RRWeightMode
	NoPathRetry        topology.NoPathRetry
	Minio              int
	Features           string
	ReservationKey     string
	UID, GID, Mode     uint32
}

// matches reports whether this hardware entry's vendor/product/revision
// regexes match the given path attributes. An empty pattern matches
// anything, mirroring the C table's "" meaning "don't care".
func (h *HWEntry) matches(vendor, product, revision string) bool {
	return regexOrAnyMatches(h.Vendor, vendor) &&
		regexOrAnyMatches(h.Product, product) &&
		regexOrAnyMatches(h.Revision, revision)
}
