package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/opensvc/multipath-tools-sub000/internal/blacklist"
	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("config")

// tomlFile is the on-disk shape of the main config file and of every
// *.conf overlay file in the config directory; both use the identical
// schema (defaults + one repeated device/multipath table), following the
// teacher's single struct-of-tables decode for every source.
type tomlFile struct {
	Defaults  tomlDefaults    `toml:"defaults"`
	Overrides tomlDefaults    `toml:"overrides"`
	Blacklist tomlBlacklist   `toml:"blacklist"`
	BlacklistException tomlBlacklist `toml:"blacklist_exceptions"`
	Devices   []tomlDevice    `toml:"devices"`
	Multipaths []tomlMultipath `toml:"multipaths"`
}

type tomlDefaults struct {
	UserFriendlyNames string `toml:"user_friendly_names"`
	FindMultipaths    string `toml:"find_multipaths"`
	Selector          string `toml:"path_selector"`
	PathGroupingPolicy string `toml:"path_grouping_policy"`
	UIDAttribute      string `toml:"uid_attribute"`
	GetUID            string `toml:"getuid_callout"`
	Prio              string `toml:"prio"`
	Features          string `toml:"features"`
	Hwhandler         string `toml:"hardware_handler"`
	RRWeight          string `toml:"rr_weight"`
	NoPathRetry       string `toml:"no_path_retry"`
	Minio             int    `toml:"rr_min_io_rq"`
	Checker           string `toml:"path_checker"`
	FastIOFailTmo     int    `toml:"fast_io_fail_tmo"`
	RetainAttachedHWHandler string `toml:"retain_attached_hw_handler"`
	PGInitRetries     int    `toml:"pg_init_retries"`
	PGInitDelayMsecs  int    `toml:"pg_init_delay_msecs"`
	BindingsFile      string `toml:"bindings_file"`
	WWIDsFile         string `toml:"wwids_file"`
	PRKeysFile        string `toml:"prkeys_file"`
}

type tomlDevice struct {
	Vendor, Product, Revision string
	UIDAttribute              string `toml:"uid_attribute"`
	GetUID                    string `toml:"getuid_callout"`
	Checker                   string `toml:"path_checker"`
	Prio                      string `toml:"prio"`
	PrioArgs                  string `toml:"prio_args"`
	Features                  string `toml:"features"`
	Hwhandler                 string `toml:"hardware_handler"`
	Selector                  string `toml:"path_selector"`
	PathGroupingPolicy        string `toml:"path_grouping_policy"`
	NoPathRetry               string `toml:"no_path_retry"`
	Minio                     int    `toml:"rr_min_io_rq"`
	RetainAttachedHWHandler   string `toml:"retain_attached_hw_handler"`
	PGInitRetries             int    `toml:"pg_init_retries"`
	PGInitDelayMsecs          int    `toml:"pg_init_delay_msecs"`
}

type tomlMultipath struct {
	WWID               string
	Alias              string
	Selector           string `toml:"path_selector"`
	PathGroupingPolicy string `toml:"path_grouping_policy"`
	NoPathRetry        string `toml:"no_path_retry"`
	Minio              int    `toml:"rr_min_io_rq"`
	Features           string `toml:"features"`
	ReservationKey     string `toml:"reservation_key"`
}

type tomlBlacklist struct {
	Devnode  []string `toml:"devnode"`
	WWID     []string `toml:"wwid"`
	Protocol []string `toml:"protocol"`
	Property []string `toml:"property"`
	Devices  []struct {
		Vendor, Product string
	} `toml:"device"`
}

// Config is an immutable, fully resolved configuration snapshot: the
// factorized hardware table, the per-wwid multipath entry table, the
// compiled blacklist/exception rule sets, and the global defaults that
// anchor every Select* call's final fallback branch.
//
// A Config is built once by Load and then shared read-only across however
// many reconciliation passes reference it; Design Note 9.4 in the spec
// this was built from calls for a refcounted snapshot so a config reload
// mid-pass can't mutate state a pass is still reading; refs tracks that
// count so the daemon knows when a superseded Config can be discarded.
type Config struct {
	HWTable  []*HWEntry
	MPTable  []*MPEntry
	Defaults Defaults

	List         *blacklist.List
	ExceptionList *blacklist.List

	// Overrides is the [overrides] pseudo hardware entry, consulted ahead
	// of real hardware-table matches but behind a per-wwid entry.
	Overrides *HWEntry

	refs int32
}

// Defaults holds the resolved [defaults] table plus internal constants
// used as the last-resort branch of every Select* function.
type Defaults struct {
	UserFriendlyNames bool
	FindMultipaths    string
	BindingsFile      string
	WWIDsFile         string
	PRKeysFile        string
	HWEntry
}

// Acquire/Release implement the refcounted snapshot lifecycle (Design
// Note 9.4): a reconciliation pass calls Acquire before it starts reading
// and Release when done; the daemon's reload path swaps in a new *Config
// for new passes but keeps the old one alive until its last Release.
func (c *Config) Acquire() { atomic.AddInt32(&c.refs, 1) }
func (c *Config) Release() { atomic.AddInt32(&c.refs, -1) }
func (c *Config) RefCount() int32 { return atomic.LoadInt32(&c.refs) }

// Load builds a Config from the builtin hardware table, the main config
// file at mainPath, and every "*.conf" file in confDir (sorted, so the
// overlay order is deterministic), mirroring load_config()'s three-layer
// assembly followed by a single factorize_hwtable pass per layer.
func Load(mainPath, confDir string) (*Config, error) {
	table := builtinHWTable()
	table = factorizeHWTable(table, 0, "builtin")

	cfg := &Config{
		List:          blacklist.NewList(),
		ExceptionList: blacklist.NewList(),
		Defaults: Defaults{
			UserFriendlyNames: false,
			FindMultipaths:    "strict",
			BindingsFile:      "/etc/multipath/bindings",
			WWIDsFile:         "/etc/multipath/wwids",
			PRKeysFile:        "/etc/multipath/prkeys",
			HWEntry: HWEntry{
				UIDAttribute: DefaultUIDAttribute,
				GetUID: DefaultGetUID, Features: DefaultFeatures,
				Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
				Minio: DefaultMinio, Checker: DefaultChecker,
			},
		},
	}

	if mainPath != "" {
		base := len(table)
		var err error
		table, err = mergeFile(cfg, table, mainPath, "main config file")
		if err != nil {
			return nil, errors.Wrapf(err, "loading main config file %s", mainPath)
		}
		table = factorizeHWTable(table, base, mainPath)
	}

	if confDir != "" {
		entries, err := os.ReadDir(confDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading config directory %s", confDir)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".conf" {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(confDir, name)
			base := len(table)
			table, err = mergeFile(cfg, table, path, name)
			if err != nil {
				return nil, errors.Wrapf(err, "loading overlay config %s", path)
			}
			table = factorizeHWTable(table, base, name)
		}
	}

	cfg.HWTable = table
	return cfg, nil
}

// mergeFile decodes one TOML source into cfg (defaults, blacklist rules,
// multipath entries) and appends its [[devices]] stanzas to table,
// returning the extended table for the caller to factorize.
func mergeFile(cfg *Config, table []*HWEntry, path, origin string) ([]*HWEntry, error) {
	var f tomlFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}

	applyDefaults(cfg, f.Defaults)
	applyOverrides(cfg, f.Overrides)

	for _, bd := range f.Blacklist.Devnode {
		if err := cfg.List.AddDevnode(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, bd := range f.Blacklist.WWID {
		if err := cfg.List.AddWWID(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, bd := range f.Blacklist.Protocol {
		if err := cfg.List.AddProtocol(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, bd := range f.Blacklist.Property {
		if err := cfg.List.AddProperty(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, dv := range f.Blacklist.Devices {
		if err := cfg.List.AddDevice(dv.Vendor, dv.Product, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, bd := range f.BlacklistException.Devnode {
		if err := cfg.ExceptionList.AddExceptDevnode(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}
	for _, bd := range f.BlacklistException.WWID {
		if err := cfg.ExceptionList.AddExceptWWID(bd, blacklist.OriginConfig); err != nil {
			return nil, err
		}
	}

	for _, d := range f.Devices {
		table = append(table, &HWEntry{
			Vendor: d.Vendor, Product: d.Product, Revision: d.Revision,
			UIDAttribute: d.UIDAttribute, GetUID: d.GetUID, Checker: d.Checker,
			Prio: d.Prio, PrioArgs: d.PrioArgs, Features: d.Features,
			Hwhandler: d.Hwhandler, Selector: d.Selector,
			PathGroupingPolicy: parsePolicy(d.PathGroupingPolicy),
			NoPathRetry:        parseNoPathRetry(d.NoPathRetry),
			Minio:              d.Minio,
			RetainAttachedHWHandler: parseTristate(d.RetainAttachedHWHandler),
			PGInitRetries:      d.PGInitRetries,
			PGInitDelayMsecs:   d.PGInitDelayMsecs,
			Source:             origin,
		})
	}

	for _, m := range f.Multipaths {
		cfg.MPTable = append(cfg.MPTable, &MPEntry{
			WWID: m.WWID, Alias: m.Alias, Selector: m.Selector,
			PathGroupingPolicy: parsePolicy(m.PathGroupingPolicy),
			NoPathRetry:        parseNoPathRetry(m.NoPathRetry),
			Minio:              m.Minio, Features: m.Features,
			ReservationKey: m.ReservationKey,
		})
	}

	return table, nil
}

func applyDefaults(cfg *Config, d tomlDefaults) {
	if d.UserFriendlyNames != "" {
		cfg.Defaults.UserFriendlyNames = d.UserFriendlyNames == "yes"
	}
	if d.FindMultipaths != "" {
		cfg.Defaults.FindMultipaths = d.FindMultipaths
	}
	if d.Selector != "" {
		cfg.Defaults.Selector = d.Selector
	}
	if d.PathGroupingPolicy != "" {
		cfg.Defaults.PathGroupingPolicy = parsePolicy(d.PathGroupingPolicy)
	}
	if d.UIDAttribute != "" {
		cfg.Defaults.UIDAttribute = d.UIDAttribute
	}
	if d.GetUID != "" {
		cfg.Defaults.GetUID = d.GetUID
	}
	if d.Prio != "" {
		cfg.Defaults.Prio = d.Prio
	}
	if d.Features != "" {
		cfg.Defaults.Features = d.Features
	}
	if d.Hwhandler != "" {
		cfg.Defaults.Hwhandler = d.Hwhandler
	}
	if d.Minio != 0 {
		cfg.Defaults.Minio = d.Minio
	}
	if d.Checker != "" {
		cfg.Defaults.Checker = d.Checker
	}
	if d.FastIOFailTmo != 0 {
		cfg.Defaults.FastIOFailTmo = d.FastIOFailTmo
	}
	if d.RetainAttachedHWHandler != "" {
		cfg.Defaults.RetainAttachedHWHandler = parseTristate(d.RetainAttachedHWHandler)
	}
	if d.PGInitRetries != 0 {
		cfg.Defaults.PGInitRetries = d.PGInitRetries
	}
	if d.PGInitDelayMsecs != 0 {
		cfg.Defaults.PGInitDelayMsecs = d.PGInitDelayMsecs
	}
	if d.BindingsFile != "" {
		cfg.Defaults.BindingsFile = d.BindingsFile
	}
	if d.WWIDsFile != "" {
		cfg.Defaults.WWIDsFile = d.WWIDsFile
	}
	if d.PRKeysFile != "" {
		cfg.Defaults.PRKeysFile = d.PRKeysFile
	}
}

// overridesEntry is the [overrides] pseudo hardware entry (SPEC_FULL.md's
// alias-selection precedence note): it is consulted ahead of every real
// hardware-table match but behind a per-wwid [[multipaths]] entry, the
// same precedence slot hwe_scan carves out for it in the source.
var overridesEntry *HWEntry

func applyOverrides(cfg *Config, d tomlDefaults) {
	if overridesEntry == nil {
		overridesEntry = &HWEntry{Source: "overrides"}
	}
	if d.Selector != "" {
		overridesEntry.Selector = d.Selector
	}
	if d.Features != "" {
		overridesEntry.Features = d.Features
	}
	if d.Hwhandler != "" {
		overridesEntry.Hwhandler = d.Hwhandler
	}
	if d.Minio != 0 {
		overridesEntry.Minio = d.Minio
	}
	if d.NoPathRetry != "" {
		overridesEntry.NoPathRetry = parseNoPathRetry(d.NoPathRetry)
	}
	if d.PathGroupingPolicy != "" {
		overridesEntry.PathGroupingPolicy = parsePolicy(d.PathGroupingPolicy)
	}
	cfg.Overrides = overridesEntry
}
