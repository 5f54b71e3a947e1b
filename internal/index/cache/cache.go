// Package cache abstracts block-level I/O over the posting file. Three
// variants are provided: fully memory-resident, memory-mapped, and an LRU
// page cache with asynchronous read-ahead.
package cache

import (
	"context"

	"github.com/strata-search/strata/internal/index/postings"
)

// Manager serves fixed-size blocks of the posting file. It is driven by a
// single evaluator; the LRU variant may fetch blocks in the background, but
// a block handed out by GetBlock is only observed after that call returns.
// Data returned by GetBlock stays valid until the matching FreeBlock.
type Manager interface {
	// QueueBlock requests a block for eventual use. A no-op for the
	// resident and memory-mapped variants.
	QueueBlock(blockNum uint64)

	// GetBlock blocks until the block is available. fromCache reports
	// whether the bytes were already in memory.
	GetBlock(ctx context.Context, blockNum uint64) (data []byte, fromCache bool, err error)

	// FreeBlock releases one reference taken by GetBlock.
	FreeBlock(blockNum uint64)

	// TotalIndexBlocks returns the number of blocks in the posting file.
	TotalIndexBlocks() uint64

	// Close releases the underlying file and any pages.
	Close() error
}

// blockCount converts a file size to a block count, rejecting files that
// are not a whole number of blocks at the call sites.
func blockCount(size int64) uint64 {
	return uint64(size / postings.BlockSize)
}
