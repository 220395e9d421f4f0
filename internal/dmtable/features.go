// Package dmtable assembles and disassembles the device-mapper multipath
// target table string (C5): the feature list, hardware handler, and
// per-pathgroup selector/path segments that make up a DM_TABLE_LOAD or
// DM_TABLE_STATUS parameter blob.
package dmtable

import (
	"fmt"
	"strconv"
	"strings"
)

// NoFeatures is the encoded form of "no features requested": a bare "0".
const NoFeatures = "0"

// AddFeature adds name to an encoded feature string ("<count> f1 f2 ..."),
// incrementing the leading count. A no-op if the feature is already
// present or name is empty/"0". name must not contain spaces.
func AddFeature(features, name string) (string, error) {
	if name == "" || name == "0" {
		return features, nil
	}
	if strings.ContainsRune(name, ' ') {
		return features, fmt.Errorf("dmtable: feature %q contains spaces", name)
	}
	if features == "" || features == NoFeatures {
		return "1 " + name, nil
	}
	if hasFeature(features, name) {
		return features, nil
	}
	count, rest, err := splitFeatureCount(features)
	if err != nil {
		return features, err
	}
	return fmt.Sprintf("%d%s %s", count+1, rest, name), nil
}

// RemoveFeature removes name from an encoded feature string, decrementing
// the count. A no-op if name is absent.
func RemoveFeature(features, name string) (string, error) {
	if features == "" || name == "" {
		return features, nil
	}
	count, rest, err := splitFeatureCount(features)
	if err != nil {
		return features, err
	}
	words := strings.Fields(rest)
	out := words[:0]
	removed := false
	for _, w := range words {
		if w == name && !removed {
			removed = true
			continue
		}
		out = append(out, w)
	}
	if !removed {
		return features, nil
	}
	if count-1 <= 0 {
		return NoFeatures, nil
	}
	return strconv.Itoa(count-1) + " " + strings.Join(out, " "), nil
}

// hasFeature reports whether name appears as a whole word in an encoded
// feature string, mirroring add_feature's strstr-based presence check.
func hasFeature(features, name string) bool {
	for _, w := range strings.Fields(features) {
		if w == name {
			return true
		}
	}
	return false
}

// splitFeatureCount parses the leading "<count>" token off an encoded
// feature string and returns the count plus the remaining raw suffix
// (the space-prefixed word list, unparsed, for cheap re-concatenation).
func splitFeatureCount(features string) (count int, rest string, err error) {
	fields := strings.SplitN(features, " ", 2)
	count, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("dmtable: parse error in feature string %q: %w", features, err)
	}
	if len(fields) == 2 {
		rest = " " + fields[1]
	}
	return count, rest, nil
}
