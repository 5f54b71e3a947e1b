package cache

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// LRU is a page cache over the posting file with asynchronous read-ahead.
// Pages are evicted least-recently-freed; pages with outstanding references
// are never evicted. A background read covering the requested block
// completes before GetBlock returns that block (the completion barrier is
// the per-block in-flight channel).
type LRU struct {
	f         *os.File
	numBlocks uint64
	capacity  int
	readAhead int
	logger    *slog.Logger

	mu       sync.Mutex
	pages    map[uint64]*page
	inFlight map[uint64]chan struct{}
	freeSeq  int64

	group errgroup.Group

	// Counters observed by tests and exported as metrics.
	hits      uint64
	misses    uint64
	diskReads uint64
}

type page struct {
	data     []byte
	refs     int
	lastFree int64
	err      error
}

// OpenLRU opens the posting file with a page budget of budgetBytes and the
// given read-ahead window in blocks.
func OpenLRU(path string, budgetBytes int64, readAhead int) (*LRU, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "opening index file %s: %v", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrIO, "stat index file %s: %v", path, err)
	}
	if st.Size()%postings.BlockSize != 0 {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"index file %s is %d bytes, not a whole number of blocks", path, st.Size())
	}
	capacity := int(budgetBytes / postings.BlockSize)
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		f:         f,
		numBlocks: blockCount(st.Size()),
		capacity:  capacity,
		readAhead: readAhead,
		logger:    slog.Default().With("component", "block-cache"),
		pages:     make(map[uint64]*page),
		inFlight:  make(map[uint64]chan struct{}),
	}, nil
}

// QueueBlock schedules the block and up to readAhead-1 following blocks for
// loading. The adjacent missing blocks are coalesced into one underlying
// read call.
func (c *LRU) QueueBlock(blockNum uint64) {
	if blockNum >= c.numBlocks {
		return
	}
	end := blockNum + uint64(c.readAhead)
	if c.readAhead <= 0 {
		end = blockNum + 1
	}
	if end > c.numBlocks {
		end = c.numBlocks
	}

	c.mu.Lock()
	// Find the contiguous run of blocks not yet cached or in flight.
	start := blockNum
	for start < end {
		if _, cached := c.pages[start]; !cached {
			if _, pending := c.inFlight[start]; !pending {
				break
			}
		}
		start++
	}
	runEnd := start
	for runEnd < end {
		_, cached := c.pages[runEnd]
		_, pending := c.inFlight[runEnd]
		if cached || pending {
			break
		}
		runEnd++
	}
	if start == runEnd {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	for b := start; b < runEnd; b++ {
		c.inFlight[b] = done
	}
	c.mu.Unlock()

	first, count := start, int(runEnd-start)
	c.group.Go(func() error {
		defer close(done)
		buf := make([]byte, count*postings.BlockSize)
		_, err := c.f.ReadAt(buf, int64(first)*postings.BlockSize)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.diskReads++
		for i := 0; i < count; i++ {
			b := first + uint64(i)
			delete(c.inFlight, b)
			if err != nil {
				continue
			}
			c.insertLocked(b, buf[i*postings.BlockSize:(i+1)*postings.BlockSize])
		}
		if err != nil {
			c.logger.Error("read-ahead failed", "first_block", first, "count", count, "error", err)
		}
		return nil
	})
}

// GetBlock returns the block, waiting for any in-flight read-ahead covering
// it, or reading it synchronously on a miss.
func (c *LRU) GetBlock(ctx context.Context, blockNum uint64) ([]byte, bool, error) {
	if blockNum >= c.numBlocks {
		return nil, false, apperrors.Newf(apperrors.ErrIO,
			"block %d out of range (index has %d blocks)", blockNum, c.numBlocks)
	}
	for {
		c.mu.Lock()
		if p, ok := c.pages[blockNum]; ok {
			p.refs++
			c.hits++
			c.mu.Unlock()
			return p.data, true, nil
		}
		pending, ok := c.inFlight[blockNum]
		if !ok {
			break // still holding the lock
		}
		c.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, false, apperrors.Newf(apperrors.ErrTimeout, "waiting for block %d: %v", blockNum, ctx.Err())
		}
	}
	// Miss with no read in flight: read synchronously.
	c.misses++
	c.diskReads++
	c.mu.Unlock()

	buf := make([]byte, postings.BlockSize)
	if _, err := c.f.ReadAt(buf, int64(blockNum)*postings.BlockSize); err != nil {
		return nil, false, apperrors.Newf(apperrors.ErrIO, "reading block %d: %v", blockNum, err)
	}
	c.mu.Lock()
	p := c.insertLocked(blockNum, buf)
	p.refs++
	c.mu.Unlock()
	return p.data, false, nil
}

// insertLocked adds a page, evicting the least-recently-freed unreferenced
// page when over capacity. Callers hold c.mu.
func (c *LRU) insertLocked(blockNum uint64, data []byte) *page {
	if existing, ok := c.pages[blockNum]; ok {
		return existing
	}
	for len(c.pages) >= c.capacity {
		var victim uint64
		var victimPage *page
		for num, p := range c.pages {
			if p.refs > 0 {
				continue
			}
			if victimPage == nil || p.lastFree < victimPage.lastFree {
				victim = num
				victimPage = p
			}
		}
		if victimPage == nil {
			break // everything is pinned; allow temporary overflow
		}
		delete(c.pages, victim)
	}
	p := &page{data: data}
	c.pages[blockNum] = p
	return p
}

// FreeBlock releases a reference and stamps the page for LRU ordering.
func (c *LRU) FreeBlock(blockNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[blockNum]
	if !ok {
		return
	}
	if p.refs > 0 {
		p.refs--
	}
	c.freeSeq++
	p.lastFree = c.freeSeq
}

func (c *LRU) TotalIndexBlocks() uint64 { return c.numBlocks }

// Stats returns the hit, miss, and disk read counters.
func (c *LRU) Stats() (hits, misses, diskReads uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.diskReads
}

// Close waits for outstanding read-aheads and closes the file.
func (c *LRU) Close() error {
	_ = c.group.Wait()
	return c.f.Close()
}
