package sparse

import "errors"

// SplitChunk is one chunk of a Split fragment: a chunk header paired with
// where its payload comes from in the original image.
type SplitChunk struct {
	// Header is the chunk header as it will appear in the fragment.
	Header ChunkHeader
	// Offset is the byte offset into the *original* sparse image at which
	// this chunk's payload begins. Zero (and unused) for synthetic
	// DontCare prefixes.
	Offset uint64
	// Size is the number of payload bytes to copy from Offset; equals
	// Header.DataSize().
	Size uint64
}

// Split is one self-contained sparse fragment: a file header followed by
// its chunks. Writing Header.Encode() followed by each chunk's header and
// payload bytes (read from Offset/Size in the original image) produces a
// valid, independently flashable sparse image.
type Split struct {
	Header FileHeader
	Chunks []SplitChunk
}

// SparseSize is the total on-wire byte size this split would occupy when
// encoded: the file header plus every chunk header and payload.
func (s Split) SparseSize() uint64 {
	total := uint64(FileHeaderBytesLen)
	for _, c := range s.Chunks {
		total += uint64(c.Header.TotalSize)
	}
	return total
}

func splitFromChunks(chunks []SplitChunk, blockSize uint32) Split {
	var blocks uint32
	for _, c := range chunks {
		blocks += c.Header.ChunkSize
	}
	return Split{
		Header: FileHeader{
			BlockSize: blockSize,
			Blocks:    blocks,
			Chunks:    uint32(len(chunks)),
			Checksum:  0,
		},
		Chunks: chunks,
	}
}

// ErrTooSmall is returned when the requested budget cannot fit the minimum
// required framing (file header, a leading DontCare chunk header, and one
// Raw chunk header plus a single block).
var ErrTooSmall = errors.New("sparse: budget too small to fit minimum chunk framing")

// splitBuilder accumulates the chunks of one in-progress Split, tracking
// the remaining byte budget.
type splitBuilder struct {
	space     uint32
	blockSize uint32
	chunks    []SplitChunk
}

// newSplitBuilder opens a builder with the given total byte budget. If
// blocksOffset is non-zero a synthetic leading DontCare chunk is emitted to
// seek the fragment to the correct logical block offset.
func newSplitBuilder(blockSize, space, blocksOffset uint32) splitBuilder {
	space -= FileHeaderBytesLen
	var chunks []SplitChunk
	if blocksOffset != 0 {
		header := NewDontCare(blocksOffset)
		space -= header.TotalSize
		chunks = append(chunks, SplitChunk{Header: header, Offset: 0, Size: 0})
	}
	return splitBuilder{space: space, blockSize: blockSize, chunks: chunks}
}

// tryAddChunk appends chunk verbatim if it fits strictly within the
// remaining space, returning whether it did.
func (b *splitBuilder) tryAddChunk(chunk ChunkHeader, imageOffset uint64) bool {
	if b.space > chunk.TotalSize {
		b.chunks = append(b.chunks, SplitChunk{
			Header: chunk,
			Offset: imageOffset,
			Size:   uint64(chunk.DataSize()),
		})
		b.space -= chunk.TotalSize
		return true
	}
	return false
}

// addRaw appends as much of a Raw chunk (blocks blocks starting at
// imageOffset) as fits in the remaining space, rounding down to whole
// blocks, and returns the number of blocks actually consumed. Returns 0 if
// not even one block fits.
func (b *splitBuilder) addRaw(imageOffset uint64, blocks uint32) uint32 {
	var left uint32
	if b.space > ChunkHeaderBytesLen {
		left = b.space - ChunkHeaderBytesLen
	}
	blocksLeft := left / b.blockSize
	if blocksLeft == 0 {
		return 0
	}

	take := blocks
	if blocksLeft < take {
		take = blocksLeft
	}
	header := NewRaw(take, b.blockSize)
	b.space -= header.TotalSize
	b.chunks = append(b.chunks, SplitChunk{
		Header: header,
		Offset: imageOffset,
		Size:   uint64(header.DataSize()),
	})
	return take
}

func (b splitBuilder) finish() Split {
	return splitFromChunks(b.chunks, b.blockSize)
}

func checkMinimalSize(size, blockSize uint32) error {
	// At minimum the target size must fit: a file header, a chunk header
	// for an initial DontCare seek, and a chunk header plus a single
	// block for at least one Raw chunk.
	if size < uint32(FileHeaderBytesLen)+2*uint32(ChunkHeaderBytesLen)+blockSize {
		return ErrTooSmall
	}
	return nil
}

// SplitImage fragments an already-decoded sparse image (its header and
// ordered chunk list) into a sequence of Splits, each no larger than
// budget bytes on the wire.
func SplitImage(header FileHeader, chunks []ChunkHeader, budget uint32) ([]Split, error) {
	if err := checkMinimalSize(budget, header.BlockSize); err != nil {
		return nil, err
	}

	var blockOffset uint32
	imageOffset := uint64(FileHeaderBytesLen + ChunkHeaderBytesLen)
	builder := newSplitBuilder(header.BlockSize, budget, 0)
	var splits []Split

	for _, chunk := range chunks {
		if !builder.tryAddChunk(chunk, imageOffset) {
			if chunk.ChunkType == Raw {
				var blocks uint32
				for {
					blocks += builder.addRaw(
						imageOffset+uint64(blocks)*uint64(header.BlockSize),
						chunk.ChunkSize-blocks,
					)
					if blocks >= chunk.ChunkSize {
						break
					}
					splits = append(splits, builder.finish())
					builder = newSplitBuilder(header.BlockSize, budget, blockOffset+blocks)
				}
			} else {
				splits = append(splits, builder.finish())
				builder = newSplitBuilder(header.BlockSize, budget, blockOffset)
				if !builder.tryAddChunk(chunk, imageOffset) {
					return nil, ErrTooSmall
				}
			}
		}
		blockOffset += chunk.ChunkSize
		imageOffset += uint64(chunk.TotalSize)
	}

	splits = append(splits, builder.finish())
	return splits, nil
}

// SplitRaw fragments a raw (non-sparse) image of rawBytes bytes into a
// sequence of Splits, each no larger than budget bytes on the wire. The
// block size is fixed at DefaultBlockSize; the logical block count is
// ceil(rawBytes/DefaultBlockSize).
func SplitRaw(rawBytes uint64, budget uint32) ([]Split, error) {
	if err := checkMinimalSize(budget, DefaultBlockSize); err != nil {
		return nil, err
	}
	rawBlocks := uint32((rawBytes + uint64(DefaultBlockSize) - 1) / uint64(DefaultBlockSize))

	var blockOffset uint32
	var splits []Split
	for rawBlocks > blockOffset {
		builder := newSplitBuilder(DefaultBlockSize, budget, blockOffset)
		blockOffset += builder.addRaw(uint64(blockOffset)*uint64(DefaultBlockSize), rawBlocks-blockOffset)
		splits = append(splits, builder.finish())
	}
	return splits, nil
}
