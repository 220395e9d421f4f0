package plugin

import "github.com/opensvc/multipath-tools-sub000/internal/topology"

// noneChecker is the trivial checker registered under "none": it never
// probes the device and always reports the path up, matching the
// source's NONE checker used for paths the admin has told multipath not
// to actively monitor.
type noneChecker struct{}

func (noneChecker) Init(p *topology.Path) (Handle, error)         { return nil, nil }
func (noneChecker) Check(h Handle) (topology.CheckerState, error) { return topology.PathUp, nil }
func (noneChecker) Free(h Handle)                                 {}

// nonePrioritizer is the trivial prioritizer registered under "const":
// every path gets the same priority, matching the source's const
// prioritizer used when paths should be treated as equally preferred.
type nonePrioritizer struct{}

func (nonePrioritizer) Init(p *topology.Path) (Handle, error) { return nil, nil }
func (nonePrioritizer) GetPrio(h Handle) (int, error)         { return 1, nil }
func (nonePrioritizer) Free(h Handle)                         {}

func init() {
	RegisterChecker("none", noneChecker{})
	RegisterPrioritizer("const", nonePrioritizer{})
}
