package config

import (
	"fmt"
	"regexp"
	"sync"
)

// regexCache memoizes compiled patterns shared across hardware table rows;
// several rows, builtin or user-supplied, can carry the same pattern (the
// builtin table uses ".*" as the product pattern more than once), so each
// pattern is compiled once rather than once per row.
var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}
)

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("config: compiling %q: %w", pattern, err)
	}
	regexCache[pattern] = re
	return re, nil
}

// regexOrAnyMatches reports whether pattern matches s, with an empty
// pattern always matching (the hardware table's "don't care" convention).
// A pattern that fails to compile never matches rather than panicking;
// patterns are not validated when the table is loaded, so this is where a
// bad pattern first shows up.
func regexOrAnyMatches(pattern, s string) bool {
	if pattern == "" {
		return true
	}
	re, err := compileRegex(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
