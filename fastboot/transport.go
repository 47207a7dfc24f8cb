package fastboot

import (
	"context"
	"errors"
)

// Completion is the result of one completed bulk transfer: the buffer that
// was submitted (now holding received data, for IN endpoints) and any
// transport-level error.
type Completion struct {
	Buffer []byte
	Err    error
}

// BulkEndpoint is the asynchronous bulk endpoint collaborator the client
// and download helper consume. Submit enqueues buf for transfer without
// blocking the caller; NextComplete blocks until the oldest outstanding
// submission completes, in submission order.
type BulkEndpoint interface {
	// Submit enqueues buf for transfer. The endpoint takes ownership of
	// buf until it is returned (possibly mutated, for IN endpoints) via
	// the matching Completion.
	Submit(buf []byte)
	// NextComplete blocks until the oldest still-outstanding Submit call
	// completes, or ctx is done.
	NextComplete(ctx context.Context) (Completion, error)
	// Pending returns the number of submitted-but-not-yet-completed
	// transfers.
	Pending() int
	// MaxPacketSize is the endpoint's descriptor max packet size, used to
	// compute packet-aligned buffer capacities.
	MaxPacketSize() int
}

// Transport bundles the bulk OUT/IN endpoint pair of a claimed Fastboot
// USB interface.
type Transport struct {
	Out BulkEndpoint
	In  BulkEndpoint
}

// ErrTransportUnsupported is returned by platform backends that have no
// implementation for the current OS (see usbfs_other.go).
var ErrTransportUnsupported = errors.New("fastboot: usb transport not implemented on this platform")

// InterfaceClass, InterfaceSubclass, and InterfaceProtocol are the USB
// interface descriptor values identifying a Fastboot interface.
const (
	InterfaceClass    = 0xff
	InterfaceSubclass = 0x42
	InterfaceProtocol = 0x03
)

// EndpointDescriptor describes one endpoint found on a candidate interface
// alternate setting, as reported by whatever USB stack enumerates devices.
type EndpointDescriptor struct {
	Address       byte
	Direction     Direction
	TransferType  TransferType
	MaxPacketSize int
}

// Direction is a USB endpoint's transfer direction.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
)

// TransferType is a USB endpoint's transfer type.
type TransferType int

const (
	TransferControl TransferType = iota
	TransferIsochronous
	TransferBulk
	TransferInterrupt
)

// SelectBulkEndpoints picks the first bulk-OUT/bulk-IN pair from a list of
// endpoint descriptors on one alternate setting, per spec: "the client
// selects the first alternate setting that offers one bulk-IN and one
// bulk-OUT endpoint".
func SelectBulkEndpoints(eps []EndpointDescriptor) (out, in EndpointDescriptor, ok bool) {
	var outFound, inFound bool
	for _, e := range eps {
		if e.TransferType != TransferBulk {
			continue
		}
		switch e.Direction {
		case DirectionOut:
			if !outFound {
				out = e
				outFound = true
			}
		case DirectionIn:
			if !inFound {
				in = e
				inFound = true
			}
		}
	}
	return out, in, outFound && inFound
}
