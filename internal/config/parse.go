package config

import (
	"strconv"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

func parsePolicy(s string) topology.Policy {
	switch s {
	case "failover":
		return topology.PolicyFailover
	case "multibus":
		return topology.PolicyMultibus
	case "group_by_serial":
		return topology.PolicyGroupByServer
	case "group_by_prio":
		return topology.PolicyGroupByPrio
	case "group_by_node_name":
		return topology.PolicyGroupByNodeName
	case "group_by_tpg":
		return topology.PolicyGroupByTPG
	default:
		return topology.PolicyUndef
	}
}

// parseNoPathRetry accepts "fail", "queue", or a positive integer retry
// count, mirroring the config file grammar for no_path_retry.
func parseNoPathRetry(s string) topology.NoPathRetry {
	switch s {
	case "":
		return topology.NoPathRetryUndef
	case "fail":
		return topology.NoPathRetryFail
	case "queue":
		return topology.NoPathRetryQueue
	default:
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return topology.NoPathRetry(n)
		}
		return topology.NoPathRetryUndef
	}
}

func parseTristate(s string) Tristate {
	switch s {
	case "yes":
		return TristateYes
	case "no":
		return TristateNo
	default:
		return TristateUndef
	}
}
