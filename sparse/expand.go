package sparse

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Options controls optional behaviour of Expand.
type Options struct {
	// ValidateCRC enables checking a trailing Crc32 chunk's value against
	// a running CRC32 (IEEE) of the emitted bytes. Off by default: the
	// chunk type is recognized and skipped, matching spec non-goals.
	ValidateCRC bool
}

// ErrCRCMismatch is returned by ExpandWithOptions when ValidateCRC is set
// and a Crc32 chunk's value does not match the emitted bytes.
var ErrCRCMismatch = errors.New("sparse: crc32 mismatch")

// Expand reads a sparse image (header already consumed from r) and writes
// its fully unpacked form to w: Raw payload copied verbatim, Fill's 4-byte
// pattern repeated to fill each chunk's output size, DontCare ranges left
// as zero bytes, and Crc32 chunks skipped.
func Expand(header FileHeader, r io.Reader, w io.Writer) error {
	return ExpandWithOptions(header, r, w, Options{})
}

// ExpandWithOptions is Expand with explicit Options.
func ExpandWithOptions(header FileHeader, r io.Reader, w io.Writer, opts Options) error {
	checksum := crc32.NewIEEE()
	dest := w
	if opts.ValidateCRC {
		dest = io.MultiWriter(w, checksum)
	}

	for i := uint32(0); i < header.Chunks; i++ {
		var chb ChunkHeaderBytes
		if _, err := io.ReadFull(r, chb[:]); err != nil {
			return err
		}
		chunk, err := DecodeChunkHeader(&chb)
		if err != nil {
			return err
		}

		outSize := chunk.OutSize(header)
		switch chunk.ChunkType {
		case Raw:
			if _, err := io.CopyN(dest, r, int64(outSize)); err != nil {
				return err
			}
		case Fill:
			var fill [4]byte
			if _, err := io.ReadFull(r, fill[:]); err != nil {
				return err
			}
			if err := writeRepeated(dest, fill[:], outSize); err != nil {
				return err
			}
		case DontCare:
			if err := writeZeroes(dest, outSize); err != nil {
				return err
			}
		case Crc32:
			var want [4]byte
			if _, err := io.ReadFull(r, want[:]); err != nil {
				return err
			}
			if opts.ValidateCRC && binary.LittleEndian.Uint32(want[:]) != checksum.Sum32() {
				return ErrCRCMismatch
			}
		}
	}
	return nil
}

// writeRepeated writes pattern repeated until outSize bytes have been
// written (outSize is a multiple of len(pattern) for valid sparse images).
func writeRepeated(w io.Writer, pattern []byte, outSize uint64) error {
	const bufBlocks = 1024
	buf := make([]byte, 0, len(pattern)*bufBlocks)
	for len(buf) < cap(buf) {
		buf = append(buf, pattern...)
	}
	remaining := outSize
	for remaining > 0 {
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// writeZeroes writes outSize zero bytes to w.
func writeZeroes(w io.Writer, outSize uint64) error {
	buf := make([]byte, 32*1024)
	remaining := outSize
	for remaining > 0 {
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}
