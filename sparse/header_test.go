package sparse_test

import (
	"testing"

	"sparseflash/sparse"
)

func TestFileHeaderParse(t *testing.T) {
	data := sparse.FileHeaderBytes{
		0x3a, 0xff, 0x26, 0xed, 0x01, 0x00, 0x00, 0x00, 0x1c, 0x00, 0x0c, 0x00, 0x00, 0x10,
		0x00, 0x00, 0x77, 0x39, 0x14, 0x00, 0xb1, 0x00, 0x00, 0x00, 0xaa, 0x00, 0x00, 0xcc,
	}

	h, err := sparse.DecodeFileHeader(&data)
	if err != nil {
		t.Fatalf("DecodeFileHeader: %v", err)
	}
	want := sparse.FileHeader{
		BlockSize: 4096,
		Blocks:    1325431,
		Chunks:    177,
		Checksum:  0xcc0000aa,
	}
	if h != want {
		t.Fatalf("got %+v, want %+v", h, want)
	}
}

func TestFileHeaderRoundtrip(t *testing.T) {
	orig := sparse.FileHeader{
		BlockSize: 4096,
		Blocks:    1024,
		Chunks:    42,
		Checksum:  0xabcd,
	}
	b := orig.Encode()
	echo, err := sparse.DecodeFileHeader(&b)
	if err != nil {
		t.Fatalf("DecodeFileHeader: %v", err)
	}
	if echo != orig {
		t.Fatalf("got %+v, want %+v", echo, orig)
	}
}

func TestFileHeaderParseErrors(t *testing.T) {
	valid := sparse.FileHeader{BlockSize: 4096, Blocks: 1, Chunks: 1}.Encode()

	badMagic := valid
	badMagic[0] ^= 0xff
	if _, err := sparse.DecodeFileHeader(&badMagic); err == nil {
		t.Fatal("expected error for bad magic")
	}

	badVersion := valid
	badVersion[4] = 2
	if _, err := sparse.DecodeFileHeader(&badVersion); err == nil {
		t.Fatal("expected error for bad version")
	}

	badSize := valid
	badSize[8] = 0
	if _, err := sparse.DecodeFileHeader(&badSize); err == nil {
		t.Fatal("expected error for bad header size")
	}
}

func TestChunkHeaderParse(t *testing.T) {
	data := sparse.ChunkHeaderBytes{
		0xc3, 0xca, 0x0, 0x0, 0x1f, 0xf1, 0xaa, 0xbb, 0x0c, 0x00, 0x00, 0x00,
	}
	h, err := sparse.DecodeChunkHeader(&data)
	if err != nil {
		t.Fatalf("DecodeChunkHeader: %v", err)
	}
	want := sparse.ChunkHeader{
		ChunkType: sparse.DontCare,
		ChunkSize: 0xbbaaf11f,
		TotalSize: sparse.ChunkHeaderBytesLen,
	}
	if h != want {
		t.Fatalf("got %+v, want %+v", h, want)
	}
}

func TestChunkHeaderRoundtrip(t *testing.T) {
	orig := sparse.ChunkHeader{
		ChunkType: sparse.Fill,
		ChunkSize: 8,
		TotalSize: sparse.ChunkHeaderBytesLen + 4,
	}
	b := orig.Encode()
	echo, err := sparse.DecodeChunkHeader(&b)
	if err != nil {
		t.Fatalf("DecodeChunkHeader: %v", err)
	}
	if echo != orig {
		t.Fatalf("got %+v, want %+v", echo, orig)
	}
}

func TestChunkHeaderUnknownType(t *testing.T) {
	data := sparse.ChunkHeaderBytes{0x00, 0x00, 0, 0, 1, 0, 0, 0, 12, 0, 0, 0}
	if _, err := sparse.DecodeChunkHeader(&data); err == nil {
		t.Fatal("expected error for unknown chunk type")
	}
}

func TestNewRawSaturates(t *testing.T) {
	c := sparse.NewRaw(0xffffffff, 4096)
	if c.TotalSize != 0xffffffff {
		t.Fatalf("expected saturated total size, got %d", c.TotalSize)
	}
}
