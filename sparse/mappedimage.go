package sparse

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MappedImage is a read-only memory-mapped view of a sparse or raw image
// file, used when writing out split fragments to read chunk payloads
// without a seek+read syscall per chunk. The split planner itself only
// computes offsets; this is the default "random-access byte source" those
// offsets are read from.
type MappedImage struct {
	file *os.File
	data mmap.MMap
}

// OpenMappedImage memory-maps path for reading.
func OpenMappedImage(path string) (*MappedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MappedImage{file: f, data: m}, nil
}

// Len returns the mapped file's size in bytes.
func (m *MappedImage) Len() int {
	return len(m.data)
}

// ReadAt implements io.ReaderAt, satisfying the random-access source
// interface chunk payload copies read from.
func (m *MappedImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, os.ErrInvalid
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Close unmaps and closes the underlying file.
func (m *MappedImage) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
