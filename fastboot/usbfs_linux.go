//go:build linux

package fastboot

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux usbdevfs ioctl numbers, from the kernel's usbdevfs ABI.
const (
	ioctlUSBFSClaimInterface = 0x8004550f
	ioctlUSBFSSubmitURB      = 0x8038550a
	ioctlUSBFSReapURB        = 0x4008550c
	ioctlUSBFSDiscardURB     = 0x550b
)

const urbTypeBulk = 3

// urb mirrors struct usbdevfs_urb's layout closely enough for bulk
// transfers: the kernel only reads Type/Endpoint/Buffer/BufferLength and
// writes back Status/ActualLength on reap.
type urb struct {
	Type            uint8
	Endpoint        uint8
	Status          int32
	Flags           uint32
	Buffer          unsafe.Pointer
	BufferLength    int32
	ActualLength    int32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
	SignalNumber    uint32
	UserContext     uintptr
}

// linuxBulkEndpoint implements BulkEndpoint on top of a claimed usbdevfs
// character device node, submitting one URB per Submit call and reaping
// completions on a dedicated background goroutine so NextComplete can
// block a caller's goroutine without stalling other submissions.
type linuxBulkEndpoint struct {
	fd            int
	address       byte
	maxPacketSize int

	mu      sync.Mutex
	pending map[*urb][]byte
	count   int

	completions chan Completion
}

func newLinuxBulkEndpoint(fd int, address byte, maxPacketSize int) *linuxBulkEndpoint {
	e := &linuxBulkEndpoint{
		fd:            fd,
		address:       address,
		maxPacketSize: maxPacketSize,
		pending:       make(map[*urb][]byte),
		completions:   make(chan Completion, 16),
	}
	go e.reapLoop()
	return e
}

func (e *linuxBulkEndpoint) MaxPacketSize() int { return e.maxPacketSize }

func (e *linuxBulkEndpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *linuxBulkEndpoint) Submit(buf []byte) {
	u := &urb{
		Type:         urbTypeBulk,
		Endpoint:     e.address,
		BufferLength: int32(len(buf)),
	}
	if len(buf) > 0 {
		u.Buffer = unsafe.Pointer(&buf[0])
	}

	e.mu.Lock()
	e.pending[u] = buf
	e.count++
	e.mu.Unlock()

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(e.fd), ioctlUSBFSSubmitURB, uintptr(unsafe.Pointer(u)))
	if errno != 0 {
		e.mu.Lock()
		delete(e.pending, u)
		e.count--
		e.mu.Unlock()
		e.completions <- Completion{Err: fmt.Errorf("usbdevfs: submit urb: %w", errno)}
	}
}

// reapLoop blocks on USBDEVFS_REAPURB, which returns the address of a
// completed URB (the same pointer that was submitted), and forwards a
// Completion for it. It exits once the device fd is closed.
func (e *linuxBulkEndpoint) reapLoop() {
	for {
		var completed *urb
		_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(e.fd), ioctlUSBFSReapURB, uintptr(unsafe.Pointer(&completed)))
		if errno != 0 {
			return
		}

		e.mu.Lock()
		buf, ok := e.pending[completed]
		delete(e.pending, completed)
		if ok {
			e.count--
		}
		e.mu.Unlock()
		if !ok {
			continue
		}

		if completed.Status != 0 {
			e.completions <- Completion{Err: fmt.Errorf("usbdevfs: urb status %d", completed.Status)}
			continue
		}
		e.completions <- Completion{Buffer: buf[:completed.ActualLength]}
	}
}

func (e *linuxBulkEndpoint) NextComplete(ctx context.Context) (Completion, error) {
	select {
	case c := <-e.completions:
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// OpenLinuxTransport claims interfaceNum on the usbdevfs device node at
// devPath (e.g. "/dev/bus/usb/001/004") and wraps its bulk OUT/IN
// endpoints as a Transport.
func OpenLinuxTransport(devPath string, interfaceNum int, out, in EndpointDescriptor) (Transport, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return Transport{}, fmt.Errorf("usbdevfs: open %s: %w", devPath, err)
	}

	ifaceNum := uint32(interfaceNum)
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), ioctlUSBFSClaimInterface, uintptr(unsafe.Pointer(&ifaceNum))); errno != 0 {
		unix.Close(fd)
		return Transport{}, fmt.Errorf("usbdevfs: claim interface %d: %w", interfaceNum, errno)
	}

	return Transport{
		Out: newLinuxBulkEndpoint(fd, out.Address, out.MaxPacketSize),
		In:  newLinuxBulkEndpoint(fd, in.Address, in.MaxPacketSize),
	}, nil
}
