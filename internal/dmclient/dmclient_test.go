//go:build linux

package dmclient

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
)

// fakeIoctl records the last request issued and lets a test script a
// response by mutating the dmIoctl header/payload in place before
// returning, the same pattern the reference client's tests use to avoid
// touching the real kernel control device.
type fakeIoctl struct {
	lastNR  uintptr
	lastBuf []byte
	handler func(nr uintptr, buf []byte) unix.Errno
}

func (f *fakeIoctl) install(t *testing.T) *Control {
	t.Helper()
	old := ioctlSyscall
	t.Cleanup(func() { ioctlSyscall = old })
	ioctlSyscall = func(fd, req, arg uintptr) (uintptr, uintptr, unix.Errno) {
		nr := req & ((1 << iocNRBits) - 1)
		f.lastNR = nr
		sz := int(unsafe.Sizeof(dmIoctl{}))
		ioHdr := (*dmIoctl)(unsafe.Pointer(arg))
		total := int(ioHdr.DataSize)
		if total < sz {
			total = sz
		}
		buf := unsafe.Slice((*byte)(unsafe.Pointer(arg)), total)
		f.lastBuf = buf
		if f.handler != nil {
			return 0, 0, f.handler(nr, buf)
		}
		return 0, 0, 0
	}
	return &Control{}
}

func TestMakeBaseIoctlCopiesNameAndUUID(t *testing.T) {
	io := makeBaseIoctl("mpatha", "mpath-wwid1", 256)
	assert.Equal(t, "mpatha", cstring(io.Name[:]))
	assert.Equal(t, "mpath-wwid1", cstring(io.UUID[:]))
	assert.Equal(t, uint32(256), io.DataSize)
}

func TestClassifyMapsErrnosToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want dmerr.Status
	}{
		{unix.ENXIO, dmerr.NotPresent},
		{unix.ENODEV, dmerr.NotPresent},
		{unix.EBUSY, dmerr.Busy},
		{unix.EAGAIN, dmerr.Busy},
		{unix.EINVAL, dmerr.ConfigError},
		{unix.EIO, dmerr.Fatal},
	}
	for _, c := range cases {
		werr := classify("op", c.err)
		var derr *dmerr.Error
		require.ErrorAs(t, werr, &derr)
		assert.Equal(t, c.want, derr.Status)
	}
}

func TestRemoveDeviceTreatsNotPresentAsSuccess(t *testing.T) {
	fi := &fakeIoctl{handler: func(nr uintptr, buf []byte) unix.Errno {
		return unix.ENXIO
	}}
	c := fi.install(t)
	assert.NoError(t, c.RemoveDevice("mpatha"))
}

func TestCreateDeviceReturnsDevT(t *testing.T) {
	fi := &fakeIoctl{handler: func(nr uintptr, buf []byte) unix.Errno {
		io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
		io.Dev = unix.Mkdev(253, 7)
		return 0
	}}
	c := fi.install(t)
	devt, err := c.CreateDevice("mpatha", MpathUUIDPrefix+"wwid1")
	require.NoError(t, err)
	assert.Equal(t, unix.Mkdev(253, 7), devt)
	assert.Equal(t, uintptr(cmdDevCreate), fi.lastNR)
}

func TestRenameEncodesNewNameInPayload(t *testing.T) {
	var captured string
	fi := &fakeIoctl{handler: func(nr uintptr, buf []byte) unix.Errno {
		hdr := int(unsafe.Sizeof(dmIoctl{}))
		captured = cstring(buf[hdr:])
		return 0
	}}
	c := fi.install(t)
	require.NoError(t, c.Rename("mpathold", "mpathnew"))
	assert.Equal(t, "mpathnew", captured)
	assert.Equal(t, uintptr(cmdDevRename), fi.lastNR)
}

func TestMessageEncodesTextAfterMsgHeader(t *testing.T) {
	var captured string
	fi := &fakeIoctl{handler: func(nr uintptr, buf []byte) unix.Errno {
		hdr := int(unsafe.Sizeof(dmIoctl{})) + 8 // sizeof(dmTargetMsg)
		captured = cstring(buf[hdr:])
		return 0
	}}
	c := fi.install(t)
	require.NoError(t, c.Message("mpatha", "switch_group 2"))
	assert.Equal(t, "switch_group 2", captured)
}

func TestLoadTableEncodesTargetSpecAndParams(t *testing.T) {
	var gotParams string
	var gotLen uint64
	fi := &fakeIoctl{handler: func(nr uintptr, buf []byte) unix.Errno {
		hdr := int(unsafe.Sizeof(dmIoctl{}))
		spec := (*dmTargetSpec)(unsafe.Pointer(&buf[hdr]))
		gotLen = spec.Length
		gotParams = cstring(buf[hdr+int(unsafe.Sizeof(dmTargetSpec{})):])
		return 0
	}}
	c := fi.install(t)
	require.NoError(t, c.LoadTable("mpatha", 2048, "0 0 1 1 service-time 0 1 1 8:0 1000"))
	assert.Equal(t, uint64(2048), gotLen)
	assert.Equal(t, "0 0 1 1 service-time 0 1 1 8:0 1000", gotParams)
}

func TestParseNameListWalksChain(t *testing.T) {
	buf := make([]byte, 64)
	// entry 0: dev_t, next=offset to entry 1, name "mpatha"
	putLE32(buf[8:12], 20)
	copy(buf[12:], "mpatha")
	// entry 1 at offset 20: dev_t, next=0, name "mpathb"
	putLE32(buf[20+8:20+12], 0)
	copy(buf[20+12:], "mpathb")

	names := parseNameList(buf, 0)
	assert.Equal(t, []string{"mpatha", "mpathb"}, names)
}

func TestParseTargetVersions(t *testing.T) {
	buf := make([]byte, 64)
	putLE32(buf[0:4], 0) // next = 0, single entry
	putLE32(buf[4:8], 1)
	putLE32(buf[8:12], 14)
	putLE32(buf[12:16], 0)
	copy(buf[16:], "multipath")

	versions := parseTargetVersions(buf, 0)
	v, ok := versions["multipath"]
	require.True(t, ok)
	assert.Equal(t, [3]uint32{1, 14, 0}, v)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
