//go:build linux

// Package dmclient is the typed wrapper over the device-mapper control
// ioctls (C7): create, reload, resume, rename, remove, query and message,
// extending the Version/CreateDevice/LoadTable/TableStatus subset found
// in the retrieved reference client to the full task set the engine and
// the CLI need (DM_DEV_RENAME, DM_TARGET_MSG, DM_DEV_WAIT,
// DM_LIST_DEVICES, DM_LIST_VERSIONS).
package dmclient

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/opensvc/multipath-tools-sub000/internal/dmerr"
)

// Ioctl encoding constants, see <asm-generic/ioctl.h>.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocTypeShift = iocNRBits
	iocSizeShift = iocNRBits + iocTypeBits
	iocDirShift  = iocNRBits + iocTypeBits + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

// DMIOCTLType is the ioctl type ("magic") byte, see <linux/dm-ioctl.h>.
const DMIOCTLType = 0xfd

// UAPI fixed-size field limits.
const (
	DMNameLen     = 128
	DMUUIDLen     = 129
	DMMaxTypeName = 16
)

// DM ioctl command numbers, see <linux/dm-ioctl.h>.
const (
	cmdVersion      = 0
	cmdListDevices  = 2
	cmdDevCreate    = 3
	cmdDevRemove    = 4
	cmdDevRename    = 5
	cmdDevSuspend   = 6
	cmdDevStatus    = 7
	cmdDevWait      = 8
	cmdTableLoad    = 9
	cmdTableClear   = 10
	cmdTableStatus  = 12
	cmdListVersions = 13
	cmdTargetMsg    = 14
)

// dm_ioctl.flags bits, subset used by this client.
const (
	FlagReadOnly       = 1 << 0
	FlagSuspend        = 1 << 1
	FlagSkipLockfs     = 1 << 3
	FlagStatusTable    = 1 << 4
	FlagActivePresent  = 1 << 5
	FlagInactivePresent = 1 << 6
)

// MpathUUIDPrefix is prepended to a wwid to form the uuid passed to
// Create, per select_action's rename/lookup-by-uuid contract (spec
// 4.7: "All map uuids are the wwid with a fixed mpath- prefix").
const MpathUUIDPrefix = "mpath-"

// TargetType is the device-mapper target name this client programs.
const TargetType = "multipath"

// dmIoctl mirrors struct dm_ioctl; layout must match the kernel ABI.
type dmIoctl struct {
	Version     [3]uint32
	DataSize    uint32
	DataStart   uint32
	TargetCount uint32
	OpenCount   int32
	Flags       uint32
	EventNr     uint32
	Padding     uint32
	Dev         uint64
	Name        [DMNameLen]byte
	UUID        [DMUUIDLen]byte
	Data        [7]byte
}

// dmTargetSpec mirrors struct dm_target_spec.
type dmTargetSpec struct {
	SectorStart uint64
	Length      uint64
	Status      int32
	Next        uint32
	TargetType  [DMMaxTypeName]byte
}

// Control wraps the open /dev/mapper/control descriptor.
type Control struct {
	fd *os.File
}

// DeviceStatus summarizes device-level status returned by DM_DEV_STATUS.
type DeviceStatus struct {
	OpenCount       int32
	TargetCount     uint32
	EventNr         uint32
	Flags           uint32
	Major, Minor    uint32
	Name, UUID      string
	ActivePresent   bool
	InactivePresent bool
}

// DeviceInfo is the subset of DeviceStatus the engine's "info" operation
// reports, plus the presence of a live map -- NotPresent maps to a
// Status of dmerr.NotPresent rather than an error value.
type DeviceInfo = DeviceStatus

// Open opens the control device. Every other method requires a live
// Control.
func Open() (*Control, error) {
	fd, err := os.OpenFile("/dev/mapper/control", os.O_RDWR, 0)
	if err != nil {
		return nil, dmerr.New("open", dmerr.Fatal, err)
	}
	return &Control{fd: fd}, nil
}

// Close releases the control descriptor.
func (c *Control) Close() error {
	if c == nil || c.fd == nil {
		return nil
	}
	return c.fd.Close()
}

var ioctlSyscall = func(fd, req, arg uintptr) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
}

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << 0) | (size << iocSizeShift)
}

func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

func dmReq(nr uintptr) uintptr {
	return iowr(DMIOCTLType, nr, uintptr(unsafe.Sizeof(dmIoctl{})))
}

func (c *Control) rawIoctl(nr uintptr, buf unsafe.Pointer) error {
	_, _, errno := ioctlSyscall(c.fd.Fd(), dmReq(nr), uintptr(buf))
	if errno != 0 {
		return errno
	}
	return nil
}

func makeBaseIoctl(name, uuid string, totalDataSize int) dmIoctl {
	var io dmIoctl
	io.Version[0] = 4
	io.DataSize = uint32(totalDataSize)
	io.DataStart = uint32(unsafe.Sizeof(dmIoctl{}))
	copy(io.Name[:], name)
	copy(io.UUID[:], uuid)
	return io
}

// classify maps a raw ioctl errno to this codebase's Status taxonomy, the
// single place DM_* error numbers get translated so every method below
// shares one mapping (§4.7/§7).
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return dmerr.New(op, dmerr.NotPresent, err)
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EAGAIN):
		return dmerr.New(op, dmerr.Busy, err)
	case errors.Is(err, unix.EINVAL):
		return dmerr.New(op, dmerr.ConfigError, err)
	default:
		return dmerr.New(op, dmerr.Fatal, err)
	}
}

func cstring(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// Version queries the device-mapper driver version (DM_VERSION), used
// once at startup to gate retain_attached_hw_handler's feature-token
// fallback and to fail fast if /dev/mapper/control doesn't answer.
func (c *Control) Version() (major, minor, patch uint32, err error) {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl("", "", len(buf))
	if rerr := c.rawIoctl(cmdVersion, unsafe.Pointer(io)); rerr != nil {
		return 0, 0, 0, classify("dm version", rerr)
	}
	return io.Version[0], io.Version[1], io.Version[2], nil
}

// CreateDevice creates a mapped device by name and uuid (DM_DEV_CREATE),
// returning its dev_t. uuid should be MpathUUIDPrefix+wwid.
func (c *Control) CreateDevice(name, uuid string) (uint64, error) {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, uuid, len(buf))
	if err := c.rawIoctl(cmdDevCreate, unsafe.Pointer(io)); err != nil {
		return 0, classify(fmt.Sprintf("dm create %q", name), err)
	}
	return io.Dev, nil
}

// RemoveDevice removes an inactive or suspended device (DM_DEV_REMOVE).
// Absence of the device is success, matching the engine's "remove is
// idempotent" expectation.
func (c *Control) RemoveDevice(name string) error {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	if err := c.rawIoctl(cmdDevRemove, unsafe.Pointer(io)); err != nil {
		werr := classify(fmt.Sprintf("dm remove %q", name), err)
		var derr *dmerr.Error
		if errors.As(werr, &derr) && derr.Status == dmerr.NotPresent {
			return nil
		}
		return werr
	}
	return nil
}

// Rename renames an existing device (DM_DEV_RENAME). Name holds the old
// name, which identifies the device; the new name is passed NUL-terminated
// in the ioctl's variable data area, where the kernel reads it.
func (c *Control) Rename(oldName, newName string) error {
	payload := append([]byte(newName), 0)
	headerSize := int(unsafe.Sizeof(dmIoctl{}))
	buf := make([]byte, headerSize+len(payload))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(oldName, "", len(buf))
	copy(buf[headerSize:], payload)
	if err := c.rawIoctl(cmdDevRename, unsafe.Pointer(io)); err != nil {
		return classify(fmt.Sprintf("dm rename %q -> %q", oldName, newName), err)
	}
	return nil
}

// SuspendDevice suspends (suspend=true) or resumes (suspend=false) a
// device (DM_DEV_SUSPEND). skipLockfs sets FlagSkipLockfs, which asks the
// kernel to skip its filesystem-sync step; the engine's resize path is the
// caller that sets it.
func (c *Control) SuspendDevice(name string, suspend, skipLockfs bool) error {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	if suspend {
		io.Flags |= FlagSuspend
	}
	if skipLockfs {
		io.Flags |= FlagSkipLockfs
	}
	if err := c.rawIoctl(cmdDevSuspend, unsafe.Pointer(io)); err != nil {
		return classify(fmt.Sprintf("dm suspend/resume %q", name), err)
	}
	return nil
}

// LoadTable loads a single-target multipath table into the inactive slot
// (DM_TABLE_LOAD). params is the parameter string dmtable.Assemble
// produces; sizeSectors is the map's total length.
func (c *Control) LoadTable(name string, sizeSectors uint64, params string) error {
	headerSize := int(unsafe.Sizeof(dmIoctl{}))
	specSize := int(unsafe.Sizeof(dmTargetSpec{}))

	paramsBytes := append([]byte(params), 0)
	rel := specSize + len(paramsBytes)
	pad := ((rel + 7) &^ 7) - rel

	buf := make([]byte, headerSize+rel+pad)
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	io.TargetCount = 1

	spec := (*dmTargetSpec)(unsafe.Pointer(&buf[headerSize]))
	spec.SectorStart = 0
	spec.Length = sizeSectors
	copy(spec.TargetType[:], TargetType)
	copy(buf[headerSize+specSize:], paramsBytes)

	if err := c.rawIoctl(cmdTableLoad, unsafe.Pointer(io)); err != nil {
		return classify(fmt.Sprintf("dm table load %q", name), err)
	}
	return nil
}

// ClearTable clears the inactive table (DM_TABLE_CLEAR). A no-op if the
// device has no inactive table.
func (c *Control) ClearTable(name string) error {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	if err := c.rawIoctl(cmdTableClear, unsafe.Pointer(io)); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENXIO) {
			return nil
		}
		return classify(fmt.Sprintf("dm table clear %q", name), err)
	}
	return nil
}

// Message sends a target message (DM_TARGET_MSG), e.g. "switch_group 2"
// or "fail_path 8:0", to the first (and only) multipath target.
func (c *Control) Message(name string, text string) error {
	type dmTargetMsg struct {
		SectorStart uint64
	}
	headerSize := int(unsafe.Sizeof(dmIoctl{}))
	msgHeaderSize := int(unsafe.Sizeof(dmTargetMsg{}))
	payload := append([]byte(text), 0)

	buf := make([]byte, headerSize+msgHeaderSize+len(payload))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	copy(buf[headerSize+msgHeaderSize:], payload)

	if err := c.rawIoctl(cmdTargetMsg, unsafe.Pointer(io)); err != nil {
		return classify(fmt.Sprintf("dm message %q %q", name, text), err)
	}
	return nil
}

// SetQueueIfNoPath toggles the multipath target's queue_if_no_path
// feature in place via a target message (dm_queue_if_no_path), instead
// of a reload: on enables queueing, off switches to immediate failure.
func (c *Control) SetQueueIfNoPath(name string, on bool) error {
	msg := "fail_if_no_path"
	if on {
		msg = "queue_if_no_path"
	}
	return c.Message(name, msg)
}

// DeviceStatus returns basic device-level status (DM_DEV_STATUS).
// NotPresent is reported through dmerr, not a boolean, so callers can
// dmerr.As it alongside every other client error.
func (c *Control) DeviceStatus(name string) (DeviceStatus, error) {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	if err := c.rawIoctl(cmdDevStatus, unsafe.Pointer(io)); err != nil {
		return DeviceStatus{}, classify(fmt.Sprintf("dm dev status %q", name), err)
	}
	return DeviceStatus{
		OpenCount:       io.OpenCount,
		TargetCount:     io.TargetCount,
		EventNr:         io.EventNr,
		Flags:           io.Flags,
		Major:           unix.Major(io.Dev),
		Minor:           unix.Minor(io.Dev),
		Name:            cstring(io.Name[:]),
		UUID:            cstring(io.UUID[:]),
		ActivePresent:   io.Flags&FlagActivePresent != 0,
		InactivePresent: io.Flags&FlagInactivePresent != 0,
	}, nil
}

// Info is DeviceStatus under the name the engine's status-reporting
// surface uses.
func (c *Control) Info(name string) (DeviceInfo, error) {
	return c.DeviceStatus(name)
}

// TableStatus queries the status table (DM_TABLE_STATUS with
// FlagStatusTable off) or the loaded parameter table (inactive=true,
// flag on), growing its buffer and retrying on ENOSPC. The returned
// sector count is the target's length field from struct dm_target_spec,
// i.e. the map's overall size.
func (c *Control) TableStatus(name string, inactive bool) (params string, sizeSectors uint64, err error) {
	bufSz := 16 * 1024
	for tries := 0; tries < 4; tries++ {
		buf := make([]byte, bufSz)
		io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
		*io = makeBaseIoctl(name, "", bufSz)
		if inactive {
			io.Flags |= FlagStatusTable
		}
		if err := c.rawIoctl(cmdTableStatus, unsafe.Pointer(io)); err != nil {
			if errors.Is(err, unix.ENOSPC) {
				bufSz *= 2
				continue
			}
			return "", 0, classify(fmt.Sprintf("dm table status %q", name), err)
		}
		p, sz := parseSingleTargetParams(buf, io)
		return p, sz, nil
	}
	return "", 0, dmerr.New(fmt.Sprintf("dm table status %q", name), dmerr.Fatal,
		errors.New("buffer too small after retries"))
}

func parseSingleTargetParams(buf []byte, io *dmIoctl) (string, uint64) {
	start := int(io.DataStart)
	specSize := int(unsafe.Sizeof(dmTargetSpec{}))
	if start+specSize > len(buf) {
		return "", 0
	}
	spec := (*dmTargetSpec)(unsafe.Pointer(&buf[start]))
	i := start + specSize
	j := i
	for j < len(buf) && buf[j] != 0 {
		j++
	}
	return string(buf[i:j]), spec.Length
}

// ListDevices enumerates every mapped device currently known to the
// kernel (DM_LIST_DEVICES), growing its buffer on ENOSPC like
// TableStatus.
func (c *Control) ListDevices() ([]string, error) {
	bufSz := 16 * 1024
	for tries := 0; tries < 4; tries++ {
		buf := make([]byte, bufSz)
		io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
		*io = makeBaseIoctl("", "", bufSz)
		if err := c.rawIoctl(cmdListDevices, unsafe.Pointer(io)); err != nil {
			if errors.Is(err, unix.ENOSPC) {
				bufSz *= 2
				continue
			}
			return nil, classify("dm list devices", err)
		}
		return parseNameList(buf, int(io.DataStart)), nil
	}
	return nil, dmerr.New("dm list devices", dmerr.Fatal, errors.New("buffer too small after retries"))
}

// dmNameList mirrors struct dm_name_list: a uint64 dev_t, a uint32 offset
// to the next entry (0 if last), then the NUL-terminated name.
func parseNameList(buf []byte, start int) []string {
	var names []string
	i := start
	for i+12 <= len(buf) {
		entryStart := i
		next := le32(buf[i+8 : i+12])
		j := i + 12
		k := j
		for k < len(buf) && buf[k] != 0 {
			k++
		}
		names = append(names, string(buf[j:k]))
		if next == 0 {
			break
		}
		i = entryStart + int(next)
	}
	return names
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// WaitEvent blocks until the kernel reports a new event on name's map
// (DM_DEV_WAIT), the mechanism the polling-free subset of the reconcile
// scheduler relies on to wake up promptly on dm-event-driven changes.
func (c *Control) WaitEvent(name string, lastEventNr uint32) (DeviceStatus, error) {
	buf := make([]byte, unsafe.Sizeof(dmIoctl{}))
	io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
	*io = makeBaseIoctl(name, "", len(buf))
	io.EventNr = lastEventNr
	if err := c.rawIoctl(cmdDevWait, unsafe.Pointer(io)); err != nil {
		return DeviceStatus{}, classify(fmt.Sprintf("dm wait event %q", name), err)
	}
	return DeviceStatus{
		OpenCount:       io.OpenCount,
		TargetCount:     io.TargetCount,
		EventNr:         io.EventNr,
		Flags:           io.Flags,
		Major:           unix.Major(io.Dev),
		Minor:           unix.Minor(io.Dev),
		Name:            cstring(io.Name[:]),
		UUID:            cstring(io.UUID[:]),
		ActivePresent:   io.Flags&FlagActivePresent != 0,
		InactivePresent: io.Flags&FlagInactivePresent != 0,
	}, nil
}

// ListVersions enumerates the target types the running kernel supports
// along with their version triples (DM_LIST_VERSIONS), used at startup
// to confirm a "multipath" target is registered before the engine starts
// issuing table loads against it.
func (c *Control) ListVersions() (map[string][3]uint32, error) {
	bufSz := 16 * 1024
	for tries := 0; tries < 4; tries++ {
		buf := make([]byte, bufSz)
		io := (*dmIoctl)(unsafe.Pointer(&buf[0]))
		*io = makeBaseIoctl("", "", bufSz)
		if err := c.rawIoctl(cmdListVersions, unsafe.Pointer(io)); err != nil {
			if errors.Is(err, unix.ENOSPC) {
				bufSz *= 2
				continue
			}
			return nil, classify("dm list versions", err)
		}
		return parseTargetVersions(buf, int(io.DataStart)), nil
	}
	return nil, dmerr.New("dm list versions", dmerr.Fatal, errors.New("buffer too small after retries"))
}

// dmTargetVersions mirrors struct dm_target_versions: a uint32 offset to
// the next entry, a [3]uint32 version, then the NUL-terminated name.
func parseTargetVersions(buf []byte, start int) map[string][3]uint32 {
	out := map[string][3]uint32{}
	i := start
	for i+16 <= len(buf) {
		entryStart := i
		next := le32(buf[i : i+4])
		ver := [3]uint32{le32(buf[i+4 : i+8]), le32(buf[i+8 : i+12]), le32(buf[i+12 : i+16])}
		j := i + 16
		k := j
		for k < len(buf) && buf[k] != 0 {
			k++
		}
		out[string(buf[j:k])] = ver
		if next == 0 {
			break
		}
		i = entryStart + int(next)
	}
	return out
}
