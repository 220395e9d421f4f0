package topology

// PGState is the device-mapper-reported state of a pathgroup.
type PGState int

const (
	PGUndef PGState = iota
	PGEnabled
	PGDisabled
	PGActive
)

func (s PGState) String() string {
	switch s {
	case PGEnabled:
		return "enabled"
	case PGDisabled:
		return "disabled"
	case PGActive:
		return "active"
	default:
		return "undef"
	}
}

// Pathgroup is an ordered subset of a map's paths considered equivalent by
// the selected grouping policy.
type Pathgroup struct {
	Paths []PathHandle

	Priority     int // aggregate priority
	EnabledPaths int
	Marginal     bool
	State        PGState
}

// Identity returns a stable XOR-of-handles fingerprint, used by the action
// selector to detect a pathgroup's topology changing across reconciliation
// passes without caring about path order within the group.
func (g *Pathgroup) Identity() uint64 {
	var id uint64
	for _, h := range g.Paths {
		id ^= mix(uint64(h))
	}
	return id
}

// mix is a fixed-point avalanche so that handle values 0 and 1 don't XOR
// to a near-trivial fingerprint; it has no cryptographic purpose.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// IsEmpty reports whether the group has no member paths; empty groups are
// removed during reconciliation.
func (g *Pathgroup) IsEmpty() bool {
	return len(g.Paths) == 0
}
