package sparse_test

import (
	"testing"

	"sparseflash/sparse"
)

func TestSplitSimple(t *testing.T) {
	header := sparse.FileHeader{BlockSize: 4096, Blocks: 1024, Chunks: 2}
	chunks := []sparse.ChunkHeader{
		sparse.NewFill(8),
		sparse.NewRaw(1024-8, 4096),
	}

	splits, err := sparse.SplitImage(header, chunks, 1024*4096)
	if err != nil {
		t.Fatalf("SplitImage: %v", err)
	}
	if len(splits) != 1 {
		t.Fatalf("got %d splits, want 1", len(splits))
	}
	s := splits[0]
	if s.Header != header {
		t.Fatalf("header mismatch: got %+v, want %+v", s.Header, header)
	}
	if len(s.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(s.Chunks))
	}

	const fileHdr = sparse.FileHeaderBytesLen
	const chunkHdr = sparse.ChunkHeaderBytesLen

	want0 := sparse.SplitChunk{Header: chunks[0], Offset: fileHdr + chunkHdr, Size: uint64(chunks[0].DataSize())}
	if s.Chunks[0] != want0 {
		t.Fatalf("chunk 0: got %+v, want %+v", s.Chunks[0], want0)
	}
	want1 := sparse.SplitChunk{Header: chunks[1], Offset: fileHdr + 2*chunkHdr + 4, Size: uint64(chunks[1].DataSize())}
	if s.Chunks[1] != want1 {
		t.Fatalf("chunk 1: got %+v, want %+v", s.Chunks[1], want1)
	}
}

func TestSplitMultiple(t *testing.T) {
	header := sparse.FileHeader{BlockSize: 4096, Blocks: 2048, Chunks: 2}
	chunks := []sparse.ChunkHeader{
		sparse.NewFill(8),
		sparse.NewRaw(1024-8, 4096),
		sparse.NewRaw(1024-8, 4096),
		sparse.NewFill(8),
	}

	const fileHdr uint64 = sparse.FileHeaderBytesLen
	const chunkHdr uint64 = sparse.ChunkHeaderBytesLen

	expected := []sparse.Split{
		{
			Header: sparse.FileHeader{BlockSize: 4096, Blocks: 519, Chunks: 2},
			Chunks: []sparse.SplitChunk{
				{Header: sparse.NewFill(8), Offset: fileHdr + chunkHdr, Size: 4},
				{Header: sparse.NewRaw(511, 4096), Offset: fileHdr + 2*chunkHdr + 4, Size: 511 * 4096},
			},
		},
		{
			Header: sparse.FileHeader{BlockSize: 4096, Blocks: 519 + 511, Chunks: 3},
			Chunks: []sparse.SplitChunk{
				{Header: sparse.NewDontCare(519), Offset: 0, Size: 0},
				{Header: sparse.NewRaw(505, 4096), Offset: fileHdr + 2*chunkHdr + 4 + 511*4096, Size: 505 * 4096},
				{Header: sparse.NewRaw(6, 4096), Offset: fileHdr + 3*chunkHdr + 4 + 1016*4096, Size: 6 * 4096},
			},
		},
		{
			Header: sparse.FileHeader{BlockSize: 4096, Blocks: 519 + 511 + 511, Chunks: 2},
			Chunks: []sparse.SplitChunk{
				{Header: sparse.NewDontCare(519 + 511), Offset: 0, Size: 0},
				{Header: sparse.NewRaw(511, 4096), Offset: fileHdr + 3*chunkHdr + 4 + 1016*4096 + 6*4096, Size: 511 * 4096},
			},
		},
		{
			Header: sparse.FileHeader{BlockSize: 4096, Blocks: 2048, Chunks: 3},
			Chunks: []sparse.SplitChunk{
				{Header: sparse.NewDontCare(519 + 511 + 511), Offset: 0, Size: 0},
				{Header: sparse.NewRaw(499, 4096), Offset: fileHdr + 3*chunkHdr + 4 + 1016*4096 + 517*4096, Size: 499 * 4096},
				{Header: sparse.NewFill(8), Offset: fileHdr + 4*chunkHdr + 4 + 1016*4096 + 1016*4096, Size: 4},
			},
		},
	}

	splits, err := sparse.SplitImage(header, chunks, 512*4096)
	if err != nil {
		t.Fatalf("SplitImage: %v", err)
	}
	if len(splits) != len(expected) {
		t.Fatalf("got %d splits, want %d", len(splits), len(expected))
	}
	for i := range expected {
		if !splitsEqual(splits[i], expected[i]) {
			t.Fatalf("split %d mismatch:\n got  %+v\n want %+v", i, splits[i], expected[i])
		}
	}

	if err := sparse.VerifySplits(header, chunks, 512*4096, splits); err != nil {
		t.Fatalf("VerifySplits: %v", err)
	}
}

func splitsEqual(a, b sparse.Split) bool {
	if a.Header != b.Header || len(a.Chunks) != len(b.Chunks) {
		return false
	}
	for i := range a.Chunks {
		if a.Chunks[i] != b.Chunks[i] {
			return false
		}
	}
	return true
}

func TestSplitRaw(t *testing.T) {
	splits, err := sparse.SplitRaw(8*uint64(sparse.DefaultBlockSize), 3*sparse.DefaultBlockSize)
	if err != nil {
		t.Fatalf("SplitRaw: %v", err)
	}
	if len(splits) != 4 {
		t.Fatalf("got %d splits, want 4", len(splits))
	}

	for i, s := range splits {
		if s.Header.BlockSize != 4096 {
			t.Fatalf("split %d: block size %d, want 4096", i, s.Header.BlockSize)
		}
		if s.Header.Checksum != 0 {
			t.Fatalf("split %d: checksum %d, want 0", i, s.Header.Checksum)
		}

		var raw sparse.SplitChunk
		if i == 0 {
			if s.Header.Chunks != 1 || len(s.Chunks) != 1 {
				t.Fatalf("split %d: chunk count mismatch", i)
			}
			raw = s.Chunks[0]
		} else {
			if s.Header.Chunks != 2 || len(s.Chunks) != 2 {
				t.Fatalf("split %d: chunk count mismatch", i)
			}
			wantDontCare := sparse.SplitChunk{
				Header: sparse.ChunkHeader{ChunkType: sparse.DontCare, ChunkSize: uint32(2 * i), TotalSize: sparse.ChunkHeaderBytesLen},
				Offset: 0,
				Size:   0,
			}
			if s.Chunks[0] != wantDontCare {
				t.Fatalf("split %d: dontcare chunk got %+v, want %+v", i, s.Chunks[0], wantDontCare)
			}
			raw = s.Chunks[1]
		}

		wantRaw := sparse.SplitChunk{
			Header: sparse.ChunkHeader{ChunkType: sparse.Raw, ChunkSize: 2, TotalSize: 2*sparse.DefaultBlockSize + sparse.ChunkHeaderBytesLen},
			Offset: uint64(2 * i * int(sparse.DefaultBlockSize)),
			Size:   2 * uint64(sparse.DefaultBlockSize),
		}
		if raw != wantRaw {
			t.Fatalf("split %d: raw chunk got %+v, want %+v", i, raw, wantRaw)
		}
	}
}

func TestSplitImageTooSmall(t *testing.T) {
	header := sparse.FileHeader{BlockSize: 4096, Blocks: 1, Chunks: 1}
	chunks := []sparse.ChunkHeader{sparse.NewRaw(1, 4096)}
	if _, err := sparse.SplitImage(header, chunks, 16); err != sparse.ErrTooSmall {
		t.Fatalf("got %v, want ErrTooSmall", err)
	}
}

func TestSplitRawTooSmall(t *testing.T) {
	if _, err := sparse.SplitRaw(4096, 16); err != sparse.ErrTooSmall {
		t.Fatalf("got %v, want ErrTooSmall", err)
	}
}
