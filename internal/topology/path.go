// Package topology holds the in-memory path and multipath-map model (C1,
// C2): Path and Pathgroup and Multipath records, and the Vectors collection
// that owns them.
//
// The source this was adapted from represents the Path -> Multipath ->
// Pathgroup -> Path ownership cycle with raw pointers. Here paths and
// maps are arenas indexed by integer handles (PathHandle, MapHandle) and
// pathgroups hold path handles; a path's
// back-reference to its owning map is a handle, not a pointer, so
// "orphaning" a path is just setting its handle to NoMap.
package topology

import "fmt"

// CheckerState is the path state as reported by the path-checker plugin.
type CheckerState int

const (
	PathWild CheckerState = iota
	PathUnchecked
	PathDown
	PathUp
	PathShaky
	PathGhost
	PathPending
	PathTimeout
	PathRemoved
	PathDelayed
)

func (s CheckerState) String() string {
	switch s {
	case PathWild:
		return "wild"
	case PathUnchecked:
		return "unchecked"
	case PathDown:
		return "down"
	case PathUp:
		return "up"
	case PathShaky:
		return "shaky"
	case PathGhost:
		return "ghost"
	case PathPending:
		return "pending"
	case PathTimeout:
		return "timeout"
	case PathRemoved:
		return "removed"
	case PathDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// IsActive reports whether the PR broadcaster and the table assembler
// should consider this path usable for I/O: up or ghost (an ALUA/ANA
// standby path that still answers PR commands).
func (s CheckerState) IsActive() bool {
	return s == PathUp || s == PathGhost
}

// DMState is the device-mapper-reported per-path state from a status table.
type DMState int

const (
	DMStateUndef DMState = iota
	DMStateFailed
	DMStateActive
)

func (s DMState) String() string {
	switch s {
	case DMStateFailed:
		return "failed"
	case DMStateActive:
		return "active"
	default:
		return "undef"
	}
}

// InitState is the path's initialization lifecycle state.
type InitState int

const (
	InitNew InitState = iota
	InitFailed
	InitMissingUdev
	InitPartial
	InitOK
	InitRemoved
)

func (s InitState) String() string {
	switch s {
	case InitNew:
		return "new"
	case InitFailed:
		return "failed"
	case InitMissingUdev:
		return "missing-udev"
	case InitPartial:
		return "partial"
	case InitOK:
		return "ok"
	case InitRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// BusKind identifies the transport a path is attached through.
type BusKind int

const (
	BusUnknown BusKind = iota
	BusSCSI
	BusNVMe
	BusCCW
	BusCCISS
)

// UndefPriority is the sentinel priority value for "not yet obtained".
const UndefPriority = -1

// SCSIAddress is the host/channel/target/lun/protocol tuple used for
// PR host-dedup (see prbroadcast) and for group_by_tpg.
type SCSIAddress struct {
	Host       int
	Channel    int
	Target     int
	Lun        int
	ProtocolID int
	HasHost    bool
}

// PathHandle indexes a Path within a Vectors collection.
type PathHandle int

// MapHandle indexes a Multipath within a Vectors collection. NoMap marks an
// orphan path.
type MapHandle int

// NoMap is the sentinel meaning "no owning map"; Vectors.AddPath sets it
// on every new path, since the zero MapHandle is a valid handle.
const NoMap MapHandle = -1

// Path is the in-memory record of one block device that may lead to a
// shared backend LUN.
type Path struct {
	Devnode string
	Major   int
	Minor   int

	UdevHandle any // opaque; owned by the event source

	SCSI     SCSIAddress
	Bus      BusKind
	Vendor   string
	Product  string
	Revision string

	WWID string // immutable once non-empty

	Serial   string // scsi vpd page 0x80 serial number, group_by_serial key
	NodeName string // transport target node name, group_by_node_name key
	TPGID    int    // ALUA/NVMe ANA target port group id, group_by_tpg key

	SizeSectors uint64 // 512-byte sectors

	CheckerState CheckerState
	DMState      DMState
	Priority     int // UndefPriority until obtained
	FailCount    int

	GroupIndex int // index within owning map's pathgroup list, -1 if unassigned

	Init InitState

	Map MapHandle // NoMap if orphan

	Marginal bool // san_path_err_forget_rate-driven flapping flag

	Partition bool // whole-disk vs. partition node (kpartx-managed)

	CheckerName     string
	PrioritizerName string
}

// DevT returns the kernel "major:minor" representation used in the
// target-table string.
func (p *Path) DevT() string {
	return fmt.Sprintf("%d:%d", p.Major, p.Minor)
}

// IsOrphan reports whether the path currently belongs to no map.
func (p *Path) IsOrphan() bool {
	return p.Map == NoMap
}

// ReadyForMap reports the "dev and dev_t non-empty" invariant required
// before a path may enter a map.
func (p *Path) ReadyForMap() bool {
	return p.Devnode != "" && (p.Major != 0 || p.Minor != 0)
}
