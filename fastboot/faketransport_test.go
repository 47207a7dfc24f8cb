package fastboot_test

import (
	"context"
	"errors"
	"sync"

	"sparseflash/fastboot"
)

// fakeEndpoint is an in-memory BulkEndpoint: Submit appends to an internal
// queue and NextComplete drains it in FIFO order, optionally running a
// handler that rewrites the buffer (modeling a device's response) or
// records the bytes it received (modeling the OUT side of a download).
type fakeEndpoint struct {
	maxPacketSize int

	mu       sync.Mutex
	queue    []fakeTransfer
	onSubmit func(buf []byte) []byte
}

type fakeTransfer struct {
	buf []byte
}

func newFakeEndpoint(maxPacketSize int) *fakeEndpoint {
	return &fakeEndpoint{maxPacketSize: maxPacketSize}
}

func (e *fakeEndpoint) MaxPacketSize() int { return e.maxPacketSize }

func (e *fakeEndpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *fakeEndpoint) Submit(buf []byte) {
	if e.onSubmit != nil {
		buf = e.onSubmit(buf)
	}
	e.mu.Lock()
	e.queue = append(e.queue, fakeTransfer{buf: buf})
	e.mu.Unlock()
}

func (e *fakeEndpoint) NextComplete(ctx context.Context) (fastboot.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return fastboot.Completion{}, errors.New("faketransport: nothing pending")
	}
	t := e.queue[0]
	e.queue = e.queue[1:]
	return fastboot.Completion{Buffer: t.buf}, nil
}

// responder drives a sequence of canned IN responses for every command
// submitted to the OUT endpoint, and records every command and downloaded
// byte it observes, for assertions in tests.
type responder struct {
	mu sync.Mutex

	commands  []string
	responses [][]byte
}

func newResponder() *responder { return &responder{} }

// respond queues one raw IN response to be returned on the next IN
// submission.
func (r *responder) respond(raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, raw)
}

func (r *responder) respondText(tag, text string) {
	r.respond(append([]byte(tag), []byte(text)...))
}

func newFakeTransport(maxPacketSize int) (fastboot.Transport, *responder) {
	r := newResponder()
	out := newFakeEndpoint(maxPacketSize)
	in := newFakeEndpoint(maxPacketSize)

	out.onSubmit = func(buf []byte) []byte {
		r.mu.Lock()
		r.commands = append(r.commands, string(buf))
		r.mu.Unlock()
		return buf
	}
	in.onSubmit = func(buf []byte) []byte {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.responses) == 0 {
			return []byte("FAILno response queued")
		}
		resp := r.responses[0]
		r.responses = r.responses[1:]
		return resp
	}

	return fastboot.Transport{Out: out, In: in}, r
}
