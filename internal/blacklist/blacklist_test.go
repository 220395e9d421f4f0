package blacklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDevnodeBlocks(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddDevnode("^(ram|raw|loop|fd|md|dm-|sr|scd|st)[0-9]", OriginBuiltin))

	v := l.FilterDevnode("ram0")
	assert.True(t, v.Blocked())
	assert.Equal(t, MatchDevnodeBlist, v)

	v = l.FilterDevnode("sda")
	assert.False(t, v.Blocked())
	assert.Equal(t, MatchNothing, v)
}

func TestFilterDevnodeExceptionRescues(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddDevnode("^sd[a-z]$", OriginConfig))
	require.NoError(t, l.AddExceptDevnode("^sdb$", OriginConfig))

	assert.Equal(t, MatchDevnodeBlist, l.FilterDevnode("sda"))
	assert.Equal(t, MatchDevnodeException, l.FilterDevnode("sdb"))
}

func TestCheckInvert(t *testing.T) {
	pattern, invert := checkInvert("!^3600")
	assert.Equal(t, "^3600", pattern)
	assert.True(t, invert)

	pattern, invert = checkInvert(`\!weird`)
	assert.Equal(t, "!weird", pattern)
	assert.False(t, invert)

	pattern, invert = checkInvert("plain")
	assert.Equal(t, "plain", pattern)
	assert.False(t, invert)
}

func TestInvertedRuleMatchesWhenRegexDoesNotMatch(t *testing.T) {
	l := NewList()
	// "!^360" blacklists everything whose wwid does NOT start with 360.
	require.NoError(t, l.AddWWID("!^360", OriginConfig))

	assert.Equal(t, MatchWWIDBlist, l.FilterWWID("eui.0011223344"))
	assert.Equal(t, MatchNothing, l.FilterWWID("360a98000"))
}

func TestFilterDeviceVendorProductPair(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddDevice("^IBM$", "^3S.*", OriginBuiltin))

	assert.Equal(t, MatchDeviceBlist, l.FilterDevice("IBM", "3S42"))
	assert.Equal(t, MatchNothing, l.FilterDevice("IBM", "2107900"))
}

func TestFilterDeviceOneSidedPattern(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddDevice("^NOTHING$", "", OriginConfig))

	// product pattern absent: vendor alone decides.
	assert.Equal(t, MatchDeviceBlist, l.FilterDevice("NOTHING", "anything"))
	assert.Equal(t, MatchNothing, l.FilterDevice("SOMETHING", "anything"))
}

func TestFilterPropertyMissingDoesNotBlockWhenAttributeUnseenOrUnset(t *testing.T) {
	l := NewList()

	// uid_attribute set but never seen among udev properties: the device
	// is taken to be mid-probe and is not blocked.
	v := l.FilterProperty(map[string]string{"DEVTYPE": "disk"}, "ID_WWN")
	assert.Equal(t, MatchNothing, v)
	assert.False(t, v.Blocked())

	// no uid_attribute configured: udev-based wwid lookup is off, so a
	// missing property is not cause for exclusion.
	v = l.FilterProperty(map[string]string{"DEVTYPE": "disk"}, "")
	assert.Equal(t, MatchNothing, v)
}

func TestFilterPropertyBlacklistAndException(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddProperty("^ID_WWN$", OriginConfig))
	require.NoError(t, l.AddExceptProperty("^DEVTYPE$", OriginConfig))

	v := l.FilterProperty(map[string]string{"ID_WWN": "x"}, "ID_WWN")
	assert.Equal(t, MatchPropertyBlist, v)

	v = l.FilterProperty(map[string]string{"DEVTYPE": "disk", "ID_WWN": "x"}, "DEVTYPE")
	assert.Equal(t, MatchPropertyException, v)
}

func TestFilterPathOrdersAxesAndShortCircuits(t *testing.T) {
	l := NewList()
	require.NoError(t, l.AddDevnode("^loop", OriginBuiltin))
	require.NoError(t, l.AddWWID("^360", OriginConfig))

	// devnode axis fires before wwid axis is ever consulted.
	v := l.Filter(Path{Devnode: "loop0", WWID: "360deadbeef"})
	assert.Equal(t, MatchDevnodeBlist, v)

	v = l.Filter(Path{Devnode: "sda", WWID: "360deadbeef"})
	assert.Equal(t, MatchWWIDBlist, v)

	v = l.Filter(Path{Devnode: "sda", WWID: "eui.1"})
	assert.Equal(t, MatchNothing, v)
}

func TestCompileErrorOnInvalidRegex(t *testing.T) {
	l := NewList()
	err := l.AddWWID("(unterminated", OriginConfig)
	assert.Error(t, err)
}
