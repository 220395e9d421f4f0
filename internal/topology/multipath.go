package topology

// Policy is a path-group grouping policy selector (C4).
type Policy int

const (
	PolicyUndef Policy = iota
	PolicyFailover
	PolicyMultibus
	PolicyGroupByServer // group_by_serial
	PolicyGroupByPrio
	PolicyGroupByNodeName
	PolicyGroupByTPG
)

func (p Policy) String() string {
	switch p {
	case PolicyFailover:
		return "failover"
	case PolicyMultibus:
		return "multibus"
	case PolicyGroupByServer:
		return "group_by_serial"
	case PolicyGroupByPrio:
		return "group_by_prio"
	case PolicyGroupByNodeName:
		return "group_by_node_name"
	case PolicyGroupByTPG:
		return "group_by_tpg"
	default:
		return "undefined"
	}
}

// NoPathRetry is the no_path_retry multipath attribute: either one of the
// two reserved sentinels, or a positive retry count.
type NoPathRetry int

const (
	NoPathRetryUndef NoPathRetry = 0
	NoPathRetryFail  NoPathRetry = -1
	NoPathRetryQueue NoPathRetry = -2
)

// QueuesIfNoPath reports whether this setting requires the
// "queue_if_no_path" feature token (anything other than UNDEF/FAIL).
func (r NoPathRetry) QueuesIfNoPath() bool {
	return r != NoPathRetryUndef && r != NoPathRetryFail
}

// RRWeightMode selects how minio is derived per-path.
type RRWeightMode int

const (
	RRWeightUniform RRWeightMode = iota
	RRWeightPrio
)

// ReservationKeySource records where a map's PR key came from.
type ReservationKeySource int

const (
	ReservationKeyNone ReservationKeySource = iota
	ReservationKeyFromConfig
	ReservationKeyFromFile
)

// Action is the reconciliation decision for a map (C6).
type Action int

const (
	ActionNothing Action = iota
	ActionCreate
	ActionReload
	ActionResize
	ActionSwitchGroup
	ActionRename
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionReload:
		return "reload"
	case ActionResize:
		return "resize"
	case ActionSwitchGroup:
		return "switch-group"
	case ActionRename:
		return "rename"
	case ActionReject:
		return "reject"
	default:
		return "nothing"
	}
}

// Multipath is the aggregated logical block device descriptor.
type Multipath struct {
	WWID          string
	Alias         string
	PrevAlias     string // previous alias, set across a rename
	SizeSectors   uint64

	Pathgroups []*Pathgroup
	BestPG     int // 1-based, desired
	NextPG     int // 1-based, kernel-reported

	Policy     Policy
	Selector   string
	Features   string
	Hwhandler  string

	NoPathRetry NoPathRetry
	RRWeight    RRWeightMode
	Minio       int

	ReservationKey    string
	ReservationSource ReservationKeySource
	PRFlag            bool // cross-checked by update_map_pr

	Action Action

	UID, GID uint32
	Mode     uint32

	DelayWatchChecks   int
	DelayWaitChecks    int
	MarginalPathDouble bool

	RecoveryMode bool
	RetryTick    int // no_path_retry countdown, set on entering recovery mode

	FailCount int
	SwitchCount int

	CheckerContext any // opaque, owned by the checker plugin

	// San_path_err_forget_rate drives marginal-path flap detection; a
	// positive value enables it (structs.h).
	SanPathErrForgetRate int
}

// PathCount returns the number of paths across every pathgroup.
func (m *Multipath) PathCount() int {
	n := 0
	for _, g := range m.Pathgroups {
		n += len(g.Paths)
	}
	return n
}

// RemoveEmptyGroups drops pathgroups with no member paths, renumbering
// BestPG as group indices shift (0 if its own group was dropped); NextPG
// is left unchanged. Used during reconciliation.
func (m *Multipath) RemoveEmptyGroups() {
	kept := m.Pathgroups[:0]
	best := m.BestPG
	for i, g := range m.Pathgroups {
		if g.IsEmpty() {
			idx := i + 1
			if best == idx {
				m.BestPG = 0
			} else if best > idx {
				m.BestPG--
			}
			continue
		}
		kept = append(kept, g)
	}
	m.Pathgroups = kept
}
