package config

import "github.com/opensvc/multipath-tools-sub000/internal/topology"

// builtinHWTable is a representative slice of the compiled-in hardware
// table (hwtable.c's default_hw[]); entries are listed most-generic first
// and matched most-specific-last, so a later, narrower entry's properties
// win over an earlier, broader one for the same device (backwards
// matching, see SelectHWEntries).
func builtinHWTable() []*HWEntry {
	return []*HWEntry{
		{
			Vendor: "APPLE*", Product: "Xserve RAID ",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyMultibus,
			RRWeight:           topology.RRWeightUniform,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            DefaultChecker,
			Source:             "builtin",
		},
		{
			Vendor: "3PARdata", Product: "VV",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyMultibus,
			RRWeight:           topology.RRWeightUniform,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            DefaultChecker,
			Source:             "builtin",
		},
		{
			Vendor: "DEC", Product: "HSG80",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: "1 hp_sw", Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyGroupByPrio,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            "hp_sw",
			Source:             "builtin",
		},
		{
			Vendor: "(COMPAQ|HP)", Product: "(MSA|HSV)1.*",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: "1 hp_sw", Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyGroupByPrio,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            "hp_sw",
			Source:             "builtin",
		},
		{
			Vendor: "(HITACHI|HP)", Product: "OPEN-.*",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyMultibus,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            "tur",
			Source:             "builtin",
		},
		{
			Vendor: "EMC", Product: "SYMMETRIX",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyMultibus,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            "emc_clariion",
			Source:             "builtin",
		},
		{
			// DGC CLARiiON/Unity: group_by_prio with ALUA-style failback.
			Vendor: "DGC", Product: ".*",
			GetUID: DefaultGetUID, Prio: "mpath_prio_emc /dev/%n",
			Features: "1 queue_if_no_path", Hwhandler: "1 emc",
			Selector:           DefaultSelector,
			PathGroupingPolicy: topology.PolicyGroupByPrio,
			NoPathRetry:        topology.NoPathRetry(300 / DefaultCheckInterval),
			Minio:              DefaultMinio,
			Checker:            "emc_clariion",
			Source:             "builtin",
		},
		{
			Vendor: "FSC", Product: "CentricStor",
			GetUID: DefaultGetUID, Features: DefaultFeatures,
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyMultibus,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            DefaultChecker,
			Source:             "builtin",
		},
		{
			// NetApp ONTAP: ALUA, tpgs-aware group_by_prio.
			Vendor: "NETAPP", Product: "LUN.*",
			GetUID: DefaultGetUID, Prio: "ontap",
			Features: "3 queue_if_no_path pg_init_retries 50",
			Hwhandler: DefaultHwhandler, Selector: DefaultSelector,
			PathGroupingPolicy: topology.PolicyGroupByPrio,
			NoPathRetry:        topology.NoPathRetry(30),
			Minio:              DefaultMinio,
			Checker:            "tur",
			PGInitRetries:      50,
			Source:             "builtin",
		},
		{
			// Linux NVMe-oF namespaces, always ANA-aware group_by_prio.
			Vendor: "NVME", Product: ".*",
			GetUID: DefaultGetUID, Prio: "ana",
			Features: DefaultFeatures, Hwhandler: "",
			Selector:           DefaultSelector,
			PathGroupingPolicy: topology.PolicyGroupByPrio,
			NoPathRetry:        topology.NoPathRetryUndef,
			Minio:              DefaultMinio,
			Checker:            "none",
			Source:             "builtin",
		},
	}
}

// Internal defaults applied when no layer of the configuration overrides
// a property (propsel.c's "internal default" branch).
const (
	DefaultUIDAttribute    = "ID_SERIAL"
	DefaultGetUID          = "sg_inq /dev/%n"
	DefaultFeatures        = "0"
	DefaultHwhandler       = "0"
	DefaultSelector        = "service-time 0"
	DefaultMinio           = 1000
	DefaultChecker         = "tur"
	DefaultCheckInterval   = 5
	DefaultPGTimeout       = -1
	DefaultFastIOFailTmo   = 5
	DefaultPGInitRetries   = 50
	DefaultPGInitDelayMsec = 1000
)
