// Package fastboot implements the host side of the Fastboot command/response
// protocol over a USB bulk interface, including the streaming download
// helper required to flash multi-megabyte payloads within the wire-level
// framing constraints (endpoint packet alignment, exact byte counts).
package fastboot

import (
	"fmt"
)

// Command is one outgoing Fastboot command, ready to be sent as a single
// bulk-out transfer of its ASCII bytes (no trailing delimiter).
type Command struct {
	wire string
}

// GetVarCommand formats "getvar:NAME".
func GetVarCommand(name string) Command {
	return Command{wire: "getvar:" + name}
}

// DownloadCommand formats "download:XXXXXXXX", 8 lowercase hex digits,
// zero-padded, giving the payload size in bytes.
func DownloadCommand(size uint32) Command {
	return Command{wire: fmt.Sprintf("download:%08x", size)}
}

// FlashCommand formats "flash:TARGET".
func FlashCommand(target string) Command {
	return Command{wire: "flash:" + target}
}

// EraseCommand formats "erase:TARGET".
func EraseCommand(target string) Command {
	return Command{wire: "erase:" + target}
}

// RebootCommand formats "reboot".
func RebootCommand() Command { return Command{wire: "reboot"} }

// RebootBootloaderCommand formats "reboot-bootloader".
func RebootBootloaderCommand() Command { return Command{wire: "reboot-bootloader"} }

// ContinueCommand formats "continue".
func ContinueCommand() Command { return Command{wire: "continue"} }

// Bytes returns the command's wire bytes.
func (c Command) Bytes() []byte { return []byte(c.wire) }

// String returns the command's wire text, useful for tracing.
func (c Command) String() string { return c.wire }

// ResponseKind is the closed set of response tags Fastboot devices send.
type ResponseKind int

const (
	// RespInfo carries free-text informational output; logged.
	RespInfo ResponseKind = iota
	// RespText carries continuation text; logged.
	RespText
	// RespOkay signals command success, with an optional value.
	RespOkay
	// RespFail signals command failure, with a reason string.
	RespFail
	// RespData signals the device is ready to receive size bytes.
	RespData
)

// Response is one parsed Fastboot response.
type Response struct {
	Kind ResponseKind
	// Text is the payload for RespInfo/RespText/RespOkay/RespFail.
	Text string
	// Size is the payload for RespData: the byte count the device will
	// accept for the announced download.
	Size uint32
}

// ResponseParseError is returned by ParseResponse.
type ResponseParseError struct {
	Reason string
}

func (e *ResponseParseError) Error() string { return "fastboot: " + e.Reason }

// ParseResponse decodes a single bulk-in transfer into a Response. For
// INFO/TEXT/OKAY/FAIL every byte after the 4-byte tag becomes Text, padding
// included; only the DATA size stops at NUL or space padding.
func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < 4 {
		return Response{}, &ResponseParseError{Reason: "response shorter than 4-byte tag"}
	}
	tag := string(buf[0:4])
	rest := string(buf[4:])

	switch tag {
	case "INFO":
		return Response{Kind: RespInfo, Text: rest}, nil
	case "TEXT":
		return Response{Kind: RespText, Text: rest}, nil
	case "OKAY":
		return Response{Kind: RespOkay, Text: rest}, nil
	case "FAIL":
		return Response{Kind: RespFail, Text: rest}, nil
	case "DATA":
		size, err := parseDataSize(rest)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: RespData, Size: size}, nil
	default:
		return Response{}, &ResponseParseError{Reason: fmt.Sprintf("unknown response tag %q", tag)}
	}
}

func parseDataSize(s string) (uint32, error) {
	// The device emits exactly 8 lowercase hex digits, but real-world
	// bootloaders vary in padding/casing; accept any length up to 8 in
	// either case and stop at the first NUL or space padding byte.
	var size uint32
	n := 0
	for _, c := range s {
		if c == 0 || c == ' ' {
			break
		}
		var v uint32
		switch {
		case c >= '0' && c <= '9':
			v = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			v = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = uint32(c-'A') + 10
		default:
			return 0, &ResponseParseError{Reason: fmt.Sprintf("malformed DATA size %q", s)}
		}
		size = size<<4 | v
		n++
		if n > 8 {
			return 0, &ResponseParseError{Reason: fmt.Sprintf("malformed DATA size %q", s)}
		}
	}
	if n == 0 {
		return 0, &ResponseParseError{Reason: "empty DATA size"}
	}
	return size, nil
}
