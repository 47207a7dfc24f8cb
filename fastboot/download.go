package fastboot

import (
	"context"
	"errors"
	"fmt"
)

// DownloadError is returned by DataDownload's methods.
type DownloadError struct {
	msg string
	err error
}

func (e *DownloadError) Error() string { return e.msg }
func (e *DownloadError) Unwrap() error { return e.err }

// ErrNothingQueued is returned by Download when asked to open a zero-byte
// transfer: there would be nothing to queue and nothing for Finish to wait
// on, so it's rejected up front instead of opening a handle.
var ErrNothingQueued = errors.New("fastboot: download called with nothing to queue")

// IncorrectDataLengthError is returned when the total bytes handed to a
// DataDownload overshoots the announced size (on an append) or
// undershoots it (on Finish).
type IncorrectDataLengthError struct {
	Expected, Actual uint32
}

func (e *IncorrectDataLengthError) Error() string {
	return fmt.Sprintf("fastboot: incorrect data length: expected %d, got %d", e.Expected, e.Actual)
}

// DataDownload streams the payload of a previously announced download:
// USB bulk transfers must be packetized in multiples of the endpoint's max
// packet size (except a final short/zero packet marking end-of-transfer),
// and the host must never deliver more bytes than the device just
// announced it would accept. DataDownload enforces both invariants; data is
// sent via ExtendFromSlice or GetMutData, and Finish validates and
// finalizes the transfer.
//
// A DataDownload exclusively borrows the Client that created it: no other
// command may be issued on that client until Finish returns.
type DataDownload struct {
	client  *Client
	size    uint32
	left    uint32
	current []byte
	// maxPending bounds the number of submitted-but-not-completed OUT
	// transfers, trading host memory for USB pipelining throughput.
	maxPending int
}

func newDataDownload(c *Client, size uint32) *DataDownload {
	return &DataDownload{
		client:     c,
		size:       size,
		left:       size,
		current:    allocateBuffer(c.transport.Out.MaxPacketSize()),
		maxPending: 3,
	}
}

// allocateBuffer returns a zero-length, full-capacity buffer sized to
// round_up(1 MiB, maxPacketSize), so every mid-stream submission is
// packet-aligned.
func allocateBuffer(maxPacketSize int) []byte {
	const oneMiB = 1024 * 1024
	size := oneMiB
	if maxPacketSize > 0 {
		size = alignTo(oneMiB, maxPacketSize)
	}
	return make([]byte, 0, size)
}

// Size returns the total size of the data transfer.
func (d *DataDownload) Size() uint32 { return d.size }

// Left returns the number of bytes not yet queued/written.
func (d *DataDownload) Left() uint32 { return d.left }

// ExtendFromSlice copies data and submits it once enough has been
// collected to fill a buffer. The cumulative bytes handed to the download
// must not exceed Size().
func (d *DataDownload) ExtendFromSlice(ctx context.Context, data []byte) error {
	if err := d.updateSize(uint32(len(data))); err != nil {
		return err
	}
	for len(data) > 0 {
		room := cap(d.current) - len(d.current)
		if room >= len(data) {
			d.current = append(d.current, data...)
			break
		}
		d.current = append(d.current, data[:room]...)
		if err := d.nextBuffer(ctx); err != nil {
			return err
		}
		data = data[room:]
	}
	return nil
}

// GetMutData returns a slice of length at most max (and at most the
// current buffer's remaining capacity) for the caller to fill directly
// (the zero-copy path). The returned length is subtracted from Left.
func (d *DataDownload) GetMutData(ctx context.Context, max int) ([]byte, error) {
	if len(d.current) == cap(d.current) {
		if err := d.nextBuffer(ctx); err != nil {
			return nil, err
		}
	}
	remaining := cap(d.current) - len(d.current)
	size := remaining
	if max < size {
		size = max
	}
	if err := d.updateSize(uint32(size)); err != nil {
		return nil, err
	}
	start := len(d.current)
	d.current = d.current[:start+size]
	return d.current[start : start+size], nil
}

func (d *DataDownload) updateSize(size uint32) error {
	if size > d.left {
		return &DownloadError{
			msg: fmt.Sprintf("fastboot: incorrect data length: expected %d, got %d", d.size, size-d.left+d.size),
			err: &IncorrectDataLengthError{Expected: d.size, Actual: size - d.left + d.size},
		}
	}
	d.left -= size
	return nil
}

// nextBuffer submits the current buffer (if non-empty) and, once 3
// transfers are outstanding, blocks for the oldest completion before
// reusing its buffer.
func (d *DataDownload) nextBuffer(ctx context.Context) error {
	if len(d.current) == 0 {
		return nil
	}
	out := d.client.transport.Out
	submitted := d.current
	out.Submit(submitted)
	d.current = allocateBuffer(out.MaxPacketSize())

	if out.Pending() >= d.maxPending {
		completion, err := out.NextComplete(ctx)
		if err != nil {
			return &DownloadError{msg: fmt.Sprintf("fastboot: transfer: %v", err), err: err}
		}
		if completion.Err != nil {
			return &DownloadError{msg: fmt.Sprintf("fastboot: transfer: %v", completion.Err), err: completion.Err}
		}
		d.current = completion.Buffer[:0]
	}
	return nil
}

// Finish should only be called once all data has been queued (matching
// Size()). It submits any partial final buffer (short, marking
// end-of-transfer), drains all pending completions, and reads protocol
// responses through to OKAY or FAIL.
func (d *DataDownload) Finish(ctx context.Context) error {
	defer d.client.mu.Unlock()

	if d.left != 0 {
		return &DownloadError{
			msg: fmt.Sprintf("fastboot: incorrect data length: expected %d, got %d", d.size, d.size-d.left),
			err: &IncorrectDataLengthError{Expected: d.size, Actual: d.size - d.left},
		}
	}

	out := d.client.transport.Out
	if len(d.current) > 0 {
		out.Submit(d.current)
		d.current = nil
	}

	for out.Pending() > 0 {
		completion, err := out.NextComplete(ctx)
		if err != nil {
			return err
		}
		if completion.Err != nil {
			return completion.Err
		}
	}

	_, err := d.client.handleResponses(ctx)
	return err
}
