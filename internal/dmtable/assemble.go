package dmtable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensvc/multipath-tools-sub000/internal/topology"
)

// RetainHWHandlerFeature is the dm-multipath feature token requested when
// retain_attached_hw_handler is enabled on a pre-4.3 kernel, where the
// kernel target has no default "keep what's already attached" behavior.
const RetainHWHandlerFeature = "retain_attached_hw_handler"

// QueueIfNoPathFeature is the feature token requested whenever
// no_path_retry queues instead of failing immediately.
const QueueIfNoPathFeature = "queue_if_no_path"

// Assemble builds the target-table parameter string for m (everything
// after "<start> <length> multipath "): the (possibly feature-augmented)
// features string, the hardware handler, the path-group count and
// initial path group, then one segment per pathgroup of
// "<selector> <path-count> 1 {<devt> <minio>}...".
//
// kernelPre43 selects whether retain_attached_hw_handler needs to be
// requested as an explicit feature (pre-4.3 kernels lacked the target's
// built-in retain behavior); newer kernels retain automatically and the
// feature token would be rejected as unknown.
func Assemble(v *topology.Vectors, m *topology.Multipath, retainHWHandlerOn, kernelPre43 bool) (string, error) {
	features := m.Features
	if features == "" {
		features = NoFeatures
	}

	var err error
	if m.NoPathRetry.QueuesIfNoPath() {
		features, err = AddFeature(features, QueueIfNoPathFeature)
		if err != nil {
			return "", err
		}
	}
	if retainHWHandlerOn && kernelPre43 {
		features, err = AddFeature(features, RetainHWHandlerFeature)
		if err != nil {
			return "", err
		}
	}

	nrGroups := len(m.Pathgroups)
	initialPG := 0
	if nrGroups > 0 {
		initialPG = m.BestPG
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %d %d", features, orDefault(m.Hwhandler, "0"), nrGroups, initialPG)

	for _, pg := range m.Pathgroups {
		fmt.Fprintf(&b, " %s %d 1", m.Selector, len(pg.Paths))
		for _, h := range pg.Paths {
			p := v.Path(h)
			if p == nil || p.Devnode == "" && p.Major == 0 && p.Minor == 0 {
				return "", fmt.Errorf("dmtable: dev_t not set for path handle %d", h)
			}
			minio := m.Minio
			if m.RRWeight == topology.RRWeightPrio && p.Priority > 0 {
				minio = m.Minio * p.Priority
			}
			fmt.Fprintf(&b, " %s %d", p.DevT(), minio)
		}
	}

	return b.String(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// EncodeMinio is a small helper for callers building a table string by
// hand (tests, the status-string round-trip), kept alongside Assemble so
// the format has one source of truth.
func EncodeMinio(minio int) string {
	return strconv.Itoa(minio)
}
