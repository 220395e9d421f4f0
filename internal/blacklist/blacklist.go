// Package blacklist implements the include/exclude path filter (C10): a
// path is rejected from multipath handling if it matches a blacklist axis
// and is not rescued by the corresponding exception ("elist") axis. Axes
// are evaluated in the same order as filter_path(): udev property, devnode,
// device vendor/product, protocol, wwid.
package blacklist

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("blacklist")

// Origin records where a rule came from, for diagnostics and for the
// config layer's "default blacklist is skipped if the user supplied their
// own blacklist section" rule.
type Origin int

const (
	OriginDefault Origin = iota
	OriginBuiltin
	OriginConfig
)

func (o Origin) String() string {
	switch o {
	case OriginBuiltin:
		return "builtin"
	case OriginConfig:
		return "config"
	default:
		return "default"
	}
}

// Verdict is the outcome of filtering a path, ordered roughly most- to
// least-likely for log_filter's benefit; callers only care about Blocked().
type Verdict int

const (
	MatchNothing Verdict = iota
	MatchDeviceBlist
	MatchWWIDBlist
	MatchDevnodeBlist
	MatchPropertyBlist
	MatchProtocolBlist
	MatchDeviceException
	MatchWWIDException
	MatchDevnodeException
	MatchPropertyException
	MatchPropertyMissing
	MatchProtocolException
)

// Blocked reports whether this verdict excludes the path from multipath
// handling. Exception verdicts and MatchNothing do not.
func (v Verdict) Blocked() bool {
	switch v {
	case MatchDeviceBlist, MatchWWIDBlist, MatchDevnodeBlist,
		MatchPropertyBlist, MatchProtocolBlist, MatchPropertyMissing:
		return true
	default:
		return false
	}
}

func (v Verdict) String() string {
	switch v {
	case MatchDeviceBlist:
		return "vendor/product blacklisted"
	case MatchWWIDBlist:
		return "wwid blacklisted"
	case MatchDevnodeBlist:
		return "device node name blacklisted"
	case MatchPropertyBlist:
		return "udev property blacklisted"
	case MatchProtocolBlist:
		return "protocol blacklisted"
	case MatchDeviceException:
		return "vendor/product whitelisted"
	case MatchWWIDException:
		return "wwid whitelisted"
	case MatchDevnodeException:
		return "device node name whitelisted"
	case MatchPropertyException:
		return "udev property whitelisted"
	case MatchPropertyMissing:
		return "blacklisted, udev property missing"
	case MatchProtocolException:
		return "protocol whitelisted"
	default:
		return "no match"
	}
}

// entry is a single compiled regex rule with its check_invert polarity:
// str[0]=='!' inverts the match (rule fires when the regex does NOT
// match), str[0:2]=="\!" is a literal leading '!' with no inversion.
type entry struct {
	raw    string
	re     *regexp.Regexp
	invert bool
	origin Origin
}

func newEntry(str string, origin Origin) (entry, error) {
	pattern, invert := checkInvert(str)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return entry{}, fmt.Errorf("blacklist: compiling %q: %w", str, err)
	}
	return entry{raw: str, re: re, invert: invert, origin: origin}, nil
}

// checkInvert strips a leading '!' (inverting) or '\!' (literal, not
// inverting) from str, mirroring check_invert's escaping convention.
func checkInvert(str string) (pattern string, invert bool) {
	if strings.HasPrefix(str, "!") {
		return str[1:], true
	}
	if strings.HasPrefix(str, `\!`) {
		return str[1:], false
	}
	return str, false
}

func (e entry) matches(s string) bool {
	return e.re.MatchString(s) != e.invert
}

// deviceEntry blacklists/whitelists by vendor and product regex pair; a
// nil sub-regex on either side means "don't care" for that half, mirroring
// blentry_device where an absent vendor or product pattern is skipped.
type deviceEntry struct {
	vendor, product *entry
	origin          Origin
}

func matchReglist(list []entry, s string) (entry, bool) {
	for _, e := range list {
		if e.matches(s) {
			return e, true
		}
	}
	return entry{}, false
}

func matchReglistDevice(list []deviceEntry, vendor, product string) bool {
	for _, d := range list {
		if d.vendor == nil && d.product == nil {
			continue
		}
		vendorOK := d.vendor == nil || d.vendor.matches(vendor)
		productOK := d.product == nil || d.product.matches(product)
		if vendorOK && productOK {
			return true
		}
	}
	return false
}

// Path is the minimal subset of a topology.Path this package needs to
// filter on, kept decoupled from internal/topology to avoid an import
// cycle (blacklist is consulted before a Path is admitted into Vectors).
type Path struct {
	Devnode      string
	Vendor       string
	Product      string
	WWID         string
	Protocol     string
	UIDAttribute string
	UdevProps    map[string]string
}

// List is a compiled blacklist/exception rule set for every axis. Each
// exception list rescues a path only from a blacklist match on its own
// axis.
type List struct {
	devnode  []entry
	device   []deviceEntry
	wwid     []entry
	protocol []entry
	property []entry

	edevnode  []entry
	edevice   []deviceEntry
	ewwid     []entry
	eprotocol []entry
	eproperty []entry
}

// NewList returns an empty rule set; callers add rules with the Add*
// methods, then call Filter per path.
func NewList() *List {
	return &List{}
}

func (l *List) AddDevnode(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.devnode = append(l.devnode, e)
	return nil
}

func (l *List) AddExceptDevnode(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.edevnode = append(l.edevnode, e)
	return nil
}

func (l *List) AddWWID(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.wwid = append(l.wwid, e)
	return nil
}

func (l *List) AddExceptWWID(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.ewwid = append(l.ewwid, e)
	return nil
}

func (l *List) AddProtocol(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.protocol = append(l.protocol, e)
	return nil
}

func (l *List) AddExceptProtocol(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.eprotocol = append(l.eprotocol, e)
	return nil
}

func (l *List) AddProperty(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.property = append(l.property, e)
	return nil
}

func (l *List) AddExceptProperty(str string, origin Origin) error {
	e, err := newEntry(str, origin)
	if err != nil {
		return err
	}
	l.eproperty = append(l.eproperty, e)
	return nil
}

// AddDevice adds a vendor/product pair rule; either pattern may be empty,
// meaning "match any" for that half (recorded as a nil sub-regex).
func (l *List) AddDevice(vendor, product string, origin Origin) error {
	d, err := newDeviceEntry(vendor, product, origin)
	if err != nil {
		return err
	}
	l.device = append(l.device, d)
	return nil
}

func (l *List) AddExceptDevice(vendor, product string, origin Origin) error {
	d, err := newDeviceEntry(vendor, product, origin)
	if err != nil {
		return err
	}
	l.edevice = append(l.edevice, d)
	return nil
}

func newDeviceEntry(vendor, product string, origin Origin) (deviceEntry, error) {
	var d deviceEntry
	d.origin = origin
	if vendor != "" {
		e, err := newEntry(vendor, origin)
		if err != nil {
			return deviceEntry{}, err
		}
		d.vendor = &e
	}
	if product != "" {
		e, err := newEntry(product, origin)
		if err != nil {
			return deviceEntry{}, err
		}
		d.product = &e
	}
	return d, nil
}

// FilterDevice checks the vendor/product axis alone (filter_device).
func (l *List) FilterDevice(vendor, product string) Verdict {
	r := MatchNothing
	if vendor != "" || product != "" {
		if matchReglistDevice(l.edevice, vendor, product) {
			r = MatchDeviceException
		} else if matchReglistDevice(l.device, vendor, product) {
			r = MatchDeviceBlist
		}
	}
	return r
}

// FilterDevnode checks the devnode axis alone (filter_devnode).
func (l *List) FilterDevnode(dev string) Verdict {
	if dev == "" {
		return MatchNothing
	}
	if _, ok := matchReglist(l.edevnode, dev); ok {
		return MatchDevnodeException
	}
	if _, ok := matchReglist(l.devnode, dev); ok {
		return MatchDevnodeBlist
	}
	return MatchNothing
}

// FilterWWID checks the wwid axis alone (filter_wwid).
func (l *List) FilterWWID(wwid string) Verdict {
	if wwid == "" {
		return MatchNothing
	}
	if _, ok := matchReglist(l.ewwid, wwid); ok {
		return MatchWWIDException
	}
	if _, ok := matchReglist(l.wwid, wwid); ok {
		return MatchWWIDBlist
	}
	return MatchNothing
}

// FilterProtocol checks the protocol axis alone (filter_protocol).
func (l *List) FilterProtocol(protocol string) Verdict {
	if protocol == "" {
		return MatchNothing
	}
	if _, ok := matchReglist(l.eprotocol, protocol); ok {
		return MatchProtocolException
	}
	if _, ok := matchReglist(l.protocol, protocol); ok {
		return MatchProtocolBlist
	}
	return MatchNothing
}

// FilterProperty checks the udev-property axis (filter_property). Unlike
// every other axis this one is inverted: a property list entry that
// matches an actual property of the device EXCLUDES it by default, used to
// catch devices udev hasn't finished settling. checkMissingProp is true
// when uidAttribute names the udev property the wwid was meant to come
// from; if that property was never seen in udevProps, the device is
// assumed to be mid-probe rather than genuinely missing it, and is not
// blacklisted.
func (l *List) FilterProperty(udevProps map[string]string, uidAttribute string) Verdict {
	if udevProps == nil {
		return MatchNothing
	}
	checkMissingProp := uidAttribute != ""
	uidAttrSeen := false
	r := MatchPropertyMissing
	// Visit properties in sorted name order so the verdict does not depend
	// on map iteration order when several properties match rules.
	envs := make([]string, 0, len(udevProps))
	for env := range udevProps {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		if checkMissingProp && env == uidAttribute {
			uidAttrSeen = true
		}
		if _, ok := matchReglist(l.eproperty, env); ok {
			r = MatchPropertyException
			break
		}
		if _, ok := matchReglist(l.property, env); ok {
			r = MatchPropertyBlist
			break
		}
	}
	if r == MatchPropertyMissing && (!checkMissingProp || !uidAttrSeen) {
		r = MatchNothing
	}
	return r
}

// Filter runs every axis in filter_path's order, short-circuiting on the
// first axis that produces a verdict other than MatchNothing.
func (l *List) Filter(p Path) Verdict {
	if v := l.FilterProperty(p.UdevProps, p.UIDAttribute); v != MatchNothing {
		l.logVerdict(p, v)
		return v
	}
	if v := l.FilterDevnode(p.Devnode); v != MatchNothing {
		l.logVerdict(p, v)
		return v
	}
	if v := l.FilterDevice(p.Vendor, p.Product); v != MatchNothing {
		l.logVerdict(p, v)
		return v
	}
	if v := l.FilterProtocol(p.Protocol); v != MatchNothing {
		l.logVerdict(p, v)
		return v
	}
	v := l.FilterWWID(p.WWID)
	l.logVerdict(p, v)
	return v
}

func (l *List) logVerdict(p Path, v Verdict) {
	if v == MatchNothing {
		return
	}
	entry := log.WithField("dev", p.Devnode)
	if p.WWID != "" {
		entry = entry.WithField("wwid", p.WWID)
	}
	entry.Debugf("%s", v)
}
