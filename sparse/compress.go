package sparse

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// CompressionFormat identifies how a source image is compressed on disk,
// independent of the sparse container itself (sparse images are routinely
// shipped gzip/xz/lz4-compressed as e.g. boot.img.gz).
type CompressionFormat int

const (
	// None means the bytes are already a plain sparse or raw image.
	None CompressionFormat = iota
	Gzip
	Bzip2
	Xz
	Lzma
	Lz4
)

var (
	gzip1Magic = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lz4Magic   = []byte{0x04, 0x22, 0x4d, 0x18}
)

func hasPrefix(buf, prefix []byte) bool {
	return len(buf) >= len(prefix) && bytes.Equal(buf[:len(prefix)], prefix)
}

// DetectCompression sniffs the compression format of a source image from
// its leading bytes. peek should contain at least the first few dozen
// bytes of the file; a short peek that doesn't match any known magic is
// reported as None.
func DetectCompression(peek []byte) CompressionFormat {
	switch {
	case hasPrefix(peek, gzip1Magic):
		return Gzip
	case hasPrefix(peek, bzip2Magic):
		return Bzip2
	case hasPrefix(peek, xzMagic):
		return Xz
	case hasPrefix(peek, lz4Magic):
		return Lz4
	case len(peek) >= 13 && peek[0] == 0x5d && peek[1] == 0x00 && peek[2] == 0x00 &&
		(peek[12] == 0xff || peek[12] == 0x00):
		// Raw ("alone" format) LZMA streams have no magic of their own;
		// fall back to a properties-byte/dictionary-size heuristic.
		return Lzma
	default:
		return None
	}
}

// ErrUnsupportedCompression is returned for a CompressionFormat this
// package does not know how to decode.
var ErrUnsupportedCompression = errors.New("sparse: unsupported compression format")

// NewDecompressingReader wraps r in a decompressor for the given format.
// For None it returns r unchanged wrapped in a no-op closer. The returned
// reader yields the decompressed sparse or raw image bytes as a plain
// (non-seekable) stream.
func NewDecompressingReader(format CompressionFormat, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Lzma:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, ErrUnsupportedCompression
	}
}
