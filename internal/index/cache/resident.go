package cache

import (
	"context"
	"os"

	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Resident holds the entire posting file in memory. GetBlock returns
// sub-slices of the single allocation, so FreeBlock is a no-op.
type Resident struct {
	data      []byte
	numBlocks uint64
}

// OpenResident reads the whole posting file at path into memory.
func OpenResident(path string) (*Resident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading index file %s: %v", path, err)
	}
	if len(data)%postings.BlockSize != 0 {
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"index file %s is %d bytes, not a whole number of blocks", path, len(data))
	}
	return &Resident{data: data, numBlocks: blockCount(int64(len(data)))}, nil
}

func (r *Resident) QueueBlock(uint64) {}

func (r *Resident) GetBlock(_ context.Context, blockNum uint64) ([]byte, bool, error) {
	if blockNum >= r.numBlocks {
		return nil, false, apperrors.Newf(apperrors.ErrIO,
			"block %d out of range (index has %d blocks)", blockNum, r.numBlocks)
	}
	off := blockNum * postings.BlockSize
	return r.data[off : off+postings.BlockSize], true, nil
}

func (r *Resident) FreeBlock(uint64) {}

func (r *Resident) TotalIndexBlocks() uint64 { return r.numBlocks }

func (r *Resident) Close() error {
	r.data = nil
	return nil
}
