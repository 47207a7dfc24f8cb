// Command sparseimg inspects, expands, and re-splits Android sparse images.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"sparseflash/sparse"
)

func usage() {
	fmt.Fprintf(os.Stderr, `sparseimg - Android sparse image tool

Usage: %s <action> [args...]

Supported actions:
  inspect <img>
    Print the chunk layout of a sparse image.

  expand <img> <out>
    Expand <img> to its raw block content at <out>.

  split <img> <budget> <outprefix>
    Re-split <img> into fragments of at most <budget> bytes each,
    writing <outprefix>.0, <outprefix>.1, ...
`, os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "inspect":
		if len(os.Args) != 3 {
			usage()
			os.Exit(1)
		}
		err = inspect(os.Args[2])
	case "expand":
		if len(os.Args) != 4 {
			usage()
			os.Exit(1)
		}
		err = expand(os.Args[2], os.Args[3])
	case "split":
		if len(os.Args) != 5 {
			usage()
			os.Exit(1)
		}
		err = split(os.Args[2], os.Args[3], os.Args[4])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func openImage(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	peek, _ := br.Peek(512)
	format := sparse.DetectCompression(peek)

	dec, err := sparse.NewDecompressingReader(format, br)
	if err != nil {
		f.Close()
		return nil, err
	}
	return decompressedReadCloser{dec, f}, nil
}

type decompressedReadCloser struct {
	io.ReadCloser
	f *os.File
}

func (r decompressedReadCloser) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func inspect(path string) error {
	img, err := openImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	var headerBytes sparse.FileHeaderBytes
	if _, err := io.ReadFull(img, headerBytes[:]); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	header, err := sparse.DecodeFileHeader(&headerBytes)
	if err != nil {
		return fmt.Errorf("decode file header: %w", err)
	}

	fmt.Printf("Chunks %d, expanded size: %s (%d blocks, %d block size), checksum: %d\n",
		header.Chunks, humanize.Bytes(header.TotalSize()), header.Blocks, header.BlockSize, header.Checksum)

	var offset uint64
	for i := uint32(0); i < header.Chunks; i++ {
		var chunkBytes sparse.ChunkHeaderBytes
		if _, err := io.ReadFull(img, chunkBytes[:]); err != nil {
			return fmt.Errorf("read chunk %d header: %w", i, err)
		}
		chunk, err := sparse.DecodeChunkHeader(&chunkBytes)
		if err != nil {
			return fmt.Errorf("decode chunk %d header: %w", i, err)
		}
		outSize := chunk.OutSize(header)

		switch chunk.ChunkType {
		case sparse.Raw:
			fmt.Printf("%d: offset %d - copying %s\n", i, offset, humanize.Bytes(outSize))
			if _, err := io.CopyN(io.Discard, img, int64(chunk.DataSize())); err != nil {
				return fmt.Errorf("skip chunk %d payload: %w", i, err)
			}
		case sparse.Fill:
			var fill [4]byte
			if _, err := io.ReadFull(img, fill[:]); err != nil {
				return fmt.Errorf("read chunk %d fill pattern: %w", i, err)
			}
			fmt.Printf("%d: offset %d - filling %s with %x\n", i, offset, humanize.Bytes(outSize), fill)
		case sparse.DontCare:
			fmt.Printf("%d: offset %d - skipping %s\n", i, offset, humanize.Bytes(outSize))
		case sparse.Crc32:
			var crc [4]byte
			if _, err := io.ReadFull(img, crc[:]); err != nil {
				return fmt.Errorf("read chunk %d crc: %w", i, err)
			}
			fmt.Printf("%d: crc value %x\n", i, crc)
		}
		offset += outSize
	}
	return nil
}

func expand(inPath, outPath string) error {
	img, err := openImage(inPath)
	if err != nil {
		return err
	}
	defer img.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var headerBytes sparse.FileHeaderBytes
	if _, err := io.ReadFull(img, headerBytes[:]); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	header, err := sparse.DecodeFileHeader(&headerBytes)
	if err != nil {
		return fmt.Errorf("decode file header: %w", err)
	}

	opts := sparse.Options{ValidateCRC: checkEnv("SPARSEIMG_VALIDATE_CRC")}
	if err := sparse.ExpandWithOptions(header, img, out, opts); err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	return out.Sync()
}

// split re-fragments an on-disk sparse image into budget-bounded pieces.
// Unlike inspect/expand it needs random access back into the source file
// to copy each fragment's chunk payloads, so it mmaps the source directly
// rather than going through the streaming/compression-aware reader.
func split(inPath, budgetArg, outPrefix string) error {
	src, err := sparse.OpenMappedImage(inPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inPath, err)
	}
	defer src.Close()

	var budget uint64
	if _, err := fmt.Sscanf(budgetArg, "%d", &budget); err != nil {
		return fmt.Errorf("invalid budget %q: %w", budgetArg, err)
	}

	if src.Len() < sparse.FileHeaderBytesLen {
		return fmt.Errorf("%s: too short to hold a sparse file header", inPath)
	}
	var headerBytes sparse.FileHeaderBytes
	if _, err := src.ReadAt(headerBytes[:], 0); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	header, err := sparse.DecodeFileHeader(&headerBytes)
	if err != nil {
		return fmt.Errorf("decode file header: %w", err)
	}

	chunks := make([]sparse.ChunkHeader, 0, header.Chunks)
	pos := int64(sparse.FileHeaderBytesLen)
	for i := uint32(0); i < header.Chunks; i++ {
		var chunkBytes sparse.ChunkHeaderBytes
		if _, err := src.ReadAt(chunkBytes[:], pos); err != nil {
			return fmt.Errorf("read chunk %d header: %w", i, err)
		}
		chunk, err := sparse.DecodeChunkHeader(&chunkBytes)
		if err != nil {
			return fmt.Errorf("decode chunk %d header: %w", i, err)
		}
		chunks = append(chunks, chunk)
		pos += int64(chunk.TotalSize)
	}

	splits, err := sparse.SplitImage(header, chunks, uint32(budget))
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if err := sparse.VerifySplits(header, chunks, uint32(budget), splits); err != nil {
		return fmt.Errorf("verify splits: %w", err)
	}

	for i, s := range splits {
		outPath := fmt.Sprintf("%s.%d", outPrefix, i)
		if err := writeSplit(src, s, outPath); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		fmt.Printf("wrote %s (%s)\n", outPath, humanize.Bytes(s.SparseSize()))
	}
	return nil
}

func writeSplit(src *sparse.MappedImage, s sparse.Split, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	headerBytes := s.Header.Encode()
	if _, err := w.Write(headerBytes[:]); err != nil {
		return err
	}

	for _, c := range s.Chunks {
		chunkBytes := c.Header.Encode()
		if _, err := w.Write(chunkBytes[:]); err != nil {
			return err
		}
		if c.Size == 0 {
			continue
		}
		if _, err := io.CopyN(w, io.NewSectionReader(src, int64(c.Offset), int64(c.Size)), int64(c.Size)); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	return out.Sync()
}

// checkEnv follows the boolean environment-variable convention used
// throughout this tool: only the literal string "true" enables a flag.
func checkEnv(key string) bool {
	return os.Getenv(key) == "true"
}
