// Package sparse implements the Android sparse image container: the
// file/chunk header codec and the split planner that re-fragments a sparse
// (or raw) image into multiple budget-bounded sparse fragments.
package sparse

import (
	"encoding/binary"
)

// FileHeaderBytesLen is the on-wire length of a FileHeader.
const FileHeaderBytesLen = 28

// ChunkHeaderBytesLen is the on-wire length of a ChunkHeader.
const ChunkHeaderBytesLen = 12

// HeaderMagic is the constant little-endian magic at the start of every
// sparse image.
const HeaderMagic uint32 = 0xed26ff3a

// DefaultBlockSize is the block size assumed for raw (non-sparse) images.
const DefaultBlockSize uint32 = 4096

const (
	fileMajorVersion = 0x1
	fileMinorVersion = 0x0
)

// ParseErrorKind enumerates the ways a header can fail to decode.
type ParseErrorKind int

const (
	// UnknownMagic means the first 4 bytes were not HeaderMagic.
	UnknownMagic ParseErrorKind = iota
	// UnknownVersion means the major/minor version fields were not 1.0.
	UnknownVersion
	// UnexpectedSize means the header-size or chunk-header-size field
	// did not match the fixed constants.
	UnexpectedSize
	// UnknownChunkType means a chunk header's type field was not one of
	// the four known chunk types.
	UnknownChunkType
)

func (k ParseErrorKind) String() string {
	switch k {
	case UnknownMagic:
		return "unknown magic"
	case UnknownVersion:
		return "unknown version"
	case UnexpectedSize:
		return "unexpected header or chunk header size"
	case UnknownChunkType:
		return "unknown chunk type"
	default:
		return "unknown parse error"
	}
}

// ParseError is returned by the codec's decode functions.
type ParseError struct {
	Kind ParseErrorKind
}

func (e *ParseError) Error() string {
	return "sparse: " + e.Kind.String()
}

func parseErr(kind ParseErrorKind) error {
	return &ParseError{Kind: kind}
}

// FileHeaderBytes is a byte array sized to hold one encoded FileHeader.
type FileHeaderBytes = [FileHeaderBytesLen]byte

// ChunkHeaderBytes is a byte array sized to hold one encoded ChunkHeader.
type ChunkHeaderBytes = [ChunkHeaderBytesLen]byte

// FileHeader is the 28-byte global header of a sparse image.
type FileHeader struct {
	// BlockSize is the block size in bytes, expected to be a multiple of 4
	// (typically 4096).
	BlockSize uint32
	// Blocks is the total number of logical blocks in the expanded image.
	Blocks uint32
	// Chunks is the number of chunk headers following the file header.
	Chunks uint32
	// Checksum is opaque and not validated by this package.
	Checksum uint32
}

// TotalSize returns the expanded (fully unpacked) size of the image in
// bytes: Blocks * BlockSize.
func (h FileHeader) TotalSize() uint64 {
	return uint64(h.Blocks) * uint64(h.BlockSize)
}

// DecodeFileHeader parses a 28-byte buffer into a FileHeader.
func DecodeFileHeader(b *FileHeaderBytes) (FileHeader, error) {
	buf := b[:]

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != HeaderMagic {
		return FileHeader{}, parseErr(UnknownMagic)
	}

	major := binary.LittleEndian.Uint16(buf[4:6])
	minor := binary.LittleEndian.Uint16(buf[6:8])
	if major != fileMajorVersion || minor != fileMinorVersion {
		return FileHeader{}, parseErr(UnknownVersion)
	}

	headerLen := binary.LittleEndian.Uint16(buf[8:10])
	if int(headerLen) != FileHeaderBytesLen {
		return FileHeader{}, parseErr(UnexpectedSize)
	}
	chunkHeaderLen := binary.LittleEndian.Uint16(buf[10:12])
	if int(chunkHeaderLen) != ChunkHeaderBytesLen {
		return FileHeader{}, parseErr(UnexpectedSize)
	}

	return FileHeader{
		BlockSize: binary.LittleEndian.Uint32(buf[12:16]),
		Blocks:    binary.LittleEndian.Uint32(buf[16:20]),
		Chunks:    binary.LittleEndian.Uint32(buf[20:24]),
		Checksum:  binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// Encode serializes h to its 28-byte wire form. Version and size
// fields are always emitted as the fixed constants, regardless of the
// receiver's contents.
func (h FileHeader) Encode() FileHeaderBytes {
	var b FileHeaderBytes
	binary.LittleEndian.PutUint32(b[0:4], HeaderMagic)
	binary.LittleEndian.PutUint16(b[4:6], fileMajorVersion)
	binary.LittleEndian.PutUint16(b[6:8], fileMinorVersion)
	binary.LittleEndian.PutUint16(b[8:10], FileHeaderBytesLen)
	binary.LittleEndian.PutUint16(b[10:12], ChunkHeaderBytesLen)
	binary.LittleEndian.PutUint32(b[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(b[16:20], h.Blocks)
	binary.LittleEndian.PutUint32(b[20:24], h.Chunks)
	binary.LittleEndian.PutUint32(b[24:28], h.Checksum)
	return b
}

// ChunkType is the closed set of chunk kinds a sparse image can contain.
type ChunkType uint16

const (
	// Raw chunks are followed by chunk_size*block_size bytes copied
	// verbatim to the expanded output.
	Raw ChunkType = 0xcac1
	// Fill chunks are followed by 4 bytes repeated to fill the output.
	Fill ChunkType = 0xcac2
	// DontCare chunks have no payload; the output range is left
	// untouched.
	DontCare ChunkType = 0xcac3
	// Crc32 chunks are followed by a 4-byte checksum, checked only by
	// ExpandWithOptions with ValidateCRC set.
	Crc32 ChunkType = 0xcac4
)

func (t ChunkType) valid() bool {
	switch t {
	case Raw, Fill, DontCare, Crc32:
		return true
	default:
		return false
	}
}

func (t ChunkType) String() string {
	switch t {
	case Raw:
		return "Raw"
	case Fill:
		return "Fill"
	case DontCare:
		return "DontCare"
	case Crc32:
		return "Crc32"
	default:
		return "Unknown"
	}
}

// ChunkHeader is the 12-byte header preceding each chunk's payload.
type ChunkHeader struct {
	ChunkType ChunkType
	// ChunkSize is the number of blocks this chunk contributes to the
	// expanded output.
	ChunkSize uint32
	// TotalSize is the byte length of this chunk on the wire, including
	// this 12-byte header.
	TotalSize uint32
}

// NewDontCare builds a DontCare chunk spanning the given number of blocks.
func NewDontCare(blocks uint32) ChunkHeader {
	return ChunkHeader{
		ChunkType: DontCare,
		ChunkSize: blocks,
		TotalSize: ChunkHeaderBytesLen,
	}
}

// NewRaw builds a Raw chunk for blocks blocks of blockSize bytes each. The
// total size computation saturates at MaxUint32 on overflow; callers are
// responsible for ensuring blocks*blockSize+12 actually fits in 32 bits
// before relying on the result.
func NewRaw(blocks, blockSize uint32) ChunkHeader {
	return ChunkHeader{
		ChunkType: Raw,
		ChunkSize: blocks,
		TotalSize: saturatingAdd(ChunkHeaderBytesLen, saturatingMul(blocks, blockSize)),
	}
}

// NewFill builds a Fill chunk spanning the given number of blocks.
func NewFill(blocks uint32) ChunkHeader {
	return ChunkHeader{
		ChunkType: Fill,
		ChunkSize: blocks,
		TotalSize: ChunkHeaderBytesLen + 4,
	}
}

// OutSize returns this chunk's contribution to the expanded output, in
// bytes, given the file's block size.
func (c ChunkHeader) OutSize(h FileHeader) uint64 {
	return uint64(c.ChunkSize) * uint64(h.BlockSize)
}

// DataSize returns the number of payload bytes following this chunk's
// header on the wire.
func (c ChunkHeader) DataSize() uint32 {
	if c.TotalSize < ChunkHeaderBytesLen {
		return 0
	}
	return c.TotalSize - ChunkHeaderBytesLen
}

// DecodeChunkHeader parses a 12-byte buffer into a ChunkHeader.
func DecodeChunkHeader(b *ChunkHeaderBytes) (ChunkHeader, error) {
	buf := b[:]

	rawType := binary.LittleEndian.Uint16(buf[0:2])
	chunkType := ChunkType(rawType)
	if !chunkType.valid() {
		return ChunkHeader{}, parseErr(UnknownChunkType)
	}
	// buf[2:4] is reserved and ignored.

	return ChunkHeader{
		ChunkType: chunkType,
		ChunkSize: binary.LittleEndian.Uint32(buf[4:8]),
		TotalSize: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Encode serializes c to its 12-byte wire form. The reserved bytes are
// always written as zero.
func (c ChunkHeader) Encode() ChunkHeaderBytes {
	var b ChunkHeaderBytes
	binary.LittleEndian.PutUint16(b[0:2], uint16(c.ChunkType))
	binary.LittleEndian.PutUint16(b[2:4], 0)
	binary.LittleEndian.PutUint32(b[4:8], c.ChunkSize)
	binary.LittleEndian.PutUint32(b[8:12], c.TotalSize)
	return b
}

func saturatingAdd(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	if sum > 0xffffffff {
		return 0xffffffff
	}
	return uint32(sum)
}

func saturatingMul(a, b uint32) uint32 {
	product := uint64(a) * uint64(b)
	if product > 0xffffffff {
		return 0xffffffff
	}
	return uint32(product)
}
