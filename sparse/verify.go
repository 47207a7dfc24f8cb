package sparse

import "fmt"

// VerifySplits checks the coverage, budget, and block-monotonicity
// invariants a correct SplitImage/SplitRaw result must satisfy against the
// original (header, chunks) it was derived from. It is used by this
// package's own tests and is exported for callers that want to sanity
// check a split plan before committing to flashing it.
func VerifySplits(header FileHeader, chunks []ChunkHeader, budget uint32, splits []Split) error {
	var wantPayload, gotPayload uint64
	for _, c := range chunks {
		wantPayload += uint64(c.DataSize())
	}

	var emittedBlocks uint32
	for i, s := range splits {
		if s.SparseSize() > uint64(budget) {
			return fmt.Errorf("sparse: split %d size %d exceeds budget %d", i, s.SparseSize(), budget)
		}
		if s.Header.BlockSize != header.BlockSize {
			return fmt.Errorf("sparse: split %d block size %d, want %d", i, s.Header.BlockSize, header.BlockSize)
		}

		wantPrefix := emittedBlocks
		for j, c := range s.Chunks {
			if j == 0 && c.Header.ChunkType == DontCare && i != 0 {
				if c.Header.ChunkSize != wantPrefix {
					return fmt.Errorf("sparse: split %d leading DontCare is %d blocks, want %d", i, c.Header.ChunkSize, wantPrefix)
				}
			}
			if c.Header.ChunkType != DontCare {
				gotPayload += uint64(c.Size)
				emittedBlocks += c.Header.ChunkSize
			}
		}
	}

	if gotPayload != wantPayload {
		return fmt.Errorf("sparse: split payload coverage %d bytes, want %d", gotPayload, wantPayload)
	}
	return nil
}
