package fastboot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Logger is the informational-logging collaborator used for INFO/TEXT
// responses; *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Client is a Fastboot command/response state machine driven over a
// Transport. A Client is not safe for concurrent use: operations are
// strictly serialized on the underlying USB interface, matching the
// single-threaded, exclusive-access model in SPEC_FULL.md §5.
type Client struct {
	transport Transport
	logger    Logger

	// mu is held for the duration of every command. A successful Download
	// hands its hold on mu to the returned DataDownload instead of
	// releasing it - the Go equivalent of the Rust client being mutably
	// borrowed by the download handle for its lifetime - so it is only
	// ever released either by a command's own defer or by that handle's
	// Finish.
	mu sync.Mutex
}

// NewClient builds a Client over an already-claimed Fastboot transport.
func NewClient(transport Transport, logger Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{transport: transport, logger: logger}
}

// ErrDownloadInProgress is returned by any Client command issued while a
// DataDownload obtained from the same client is still open.
var ErrDownloadInProgress = errors.New("fastboot: download in progress, client is exclusively borrowed")

// ErrUnexpectedReply is returned when a response kind is invalid for the
// current point in the state machine (e.g. a bare DATA outside of
// download, or OKAY where DATA was expected).
var ErrUnexpectedReply = errors.New("fastboot: unexpected reply")

// DeviceError wraps a FAIL response's message.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string { return "fastboot: device reported failure: " + e.Message }

// lock claims exclusive access to the client without blocking: while a
// DataDownload handle obtained from this client is open, mu is already
// held (by that handle, not by a goroutine we could wait on), so a command
// issued in the meantime must fail fast with ErrDownloadInProgress rather
// than block forever waiting for a Finish call that hasn't happened yet.
func (c *Client) lock() error {
	if !c.mu.TryLock() {
		return ErrDownloadInProgress
	}
	return nil
}

func (c *Client) sendCommand(ctx context.Context, cmd Command) error {
	c.transport.Out.Submit(cmd.Bytes())
	completion, err := c.transport.Out.NextComplete(ctx)
	if err != nil {
		return fmt.Errorf("fastboot: command transfer: %w", err)
	}
	if completion.Err != nil {
		return fmt.Errorf("fastboot: command transfer: %w", completion.Err)
	}
	return nil
}

func (c *Client) readResponse(ctx context.Context) (Response, error) {
	buf := make([]byte, c.transport.In.MaxPacketSize())
	c.transport.In.Submit(buf)
	completion, err := c.transport.In.NextComplete(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("fastboot: response transfer: %w", err)
	}
	if completion.Err != nil {
		return Response{}, fmt.Errorf("fastboot: response transfer: %w", completion.Err)
	}
	return ParseResponse(completion.Buffer)
}

// handleResponses reads INFO/TEXT (logging and continuing) until a
// terminal OKAY (returning its value) or FAIL (returning a DeviceError). A
// DATA response here is always unexpected - it is only valid inside the
// download command's own loop.
func (c *Client) handleResponses(ctx context.Context) (string, error) {
	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			return "", err
		}
		switch resp.Kind {
		case RespInfo, RespText:
			c.logger.Printf("fastboot: %s", resp.Text)
		case RespData:
			return "", ErrUnexpectedReply
		case RespOkay:
			return resp.Text, nil
		case RespFail:
			return "", &DeviceError{Message: resp.Text}
		}
	}
}

func (c *Client) execute(ctx context.Context, cmd Command) (string, error) {
	if err := c.sendCommand(ctx, cmd); err != nil {
		return "", err
	}
	return c.handleResponses(ctx)
}

// GetVar retrieves the named variable. The "all" variable is special; use
// GetAllVars for it instead.
func (c *Client) GetVar(ctx context.Context, name string) (string, error) {
	if err := c.lock(); err != nil {
		return "", err
	}
	defer c.mu.Unlock()
	return c.execute(ctx, GetVarCommand(name))
}

// GetAllVars sends getvar:all and parses each INFO line as "KEY: VALUE" via
// a last-colon split, discarding malformed lines rather than failing the
// overall command.
func (c *Client) GetAllVars(ctx context.Context) (map[string]string, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if err := c.sendCommand(ctx, GetVarCommand("all")); err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			return nil, err
		}
		switch resp.Kind {
		case RespInfo:
			idx := strings.LastIndex(resp.Text, ":")
			if idx < 0 {
				c.logger.Printf("fastboot: failed to parse variable: %s", resp.Text)
				continue
			}
			key := strings.TrimSpace(resp.Text[:idx])
			value := strings.TrimSpace(resp.Text[idx+1:])
			vars[key] = value
		case RespText:
			c.logger.Printf("fastboot: %s", resp.Text)
		case RespData:
			return nil, ErrUnexpectedReply
		case RespOkay:
			return vars, nil
		case RespFail:
			return nil, &DeviceError{Message: resp.Text}
		}
	}
}

// Download prepares a download of size bytes, tolerating interleaved
// INFO/TEXT responses, and returns a DataDownload handle once the device
// replies DATA. The returned handle exclusively borrows the client until
// Finish is called.
func (c *Client) Download(ctx context.Context, size uint32) (*DataDownload, error) {
	if size == 0 {
		return nil, ErrNothingQueued
	}

	if err := c.lock(); err != nil {
		return nil, err
	}

	if err := c.sendCommand(ctx, DownloadCommand(size)); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		switch resp.Kind {
		case RespInfo:
			c.logger.Printf("fastboot: info: %s", resp.Text)
		case RespText:
			c.logger.Printf("fastboot: text: %s", resp.Text)
		case RespData:
			return newDataDownload(c, resp.Size), nil
		case RespOkay:
			c.mu.Unlock()
			return nil, ErrUnexpectedReply
		case RespFail:
			c.mu.Unlock()
			return nil, &DeviceError{Message: resp.Text}
		}
	}
}

// Flash flashes previously downloaded data to target.
func (c *Client) Flash(ctx context.Context, target string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.execute(ctx, FlashCommand(target))
	return err
}

// Erase erases target.
func (c *Client) Erase(ctx context.Context, target string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.execute(ctx, EraseCommand(target))
	return err
}

// Reboot reboots the device.
func (c *Client) Reboot(ctx context.Context) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.execute(ctx, RebootCommand())
	return err
}

// RebootBootloader reboots the device back into the bootloader.
func (c *Client) RebootBootloader(ctx context.Context) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.execute(ctx, RebootBootloaderCommand())
	return err
}

// ContinueBoot resumes normal boot.
func (c *Client) ContinueBoot(ctx context.Context) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.execute(ctx, ContinueCommand())
	return err
}
