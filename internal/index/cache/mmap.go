package cache

import (
	"context"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Mapped serves blocks from a memory-mapped posting file. Block bytes are
// copied out of the mapping into pooled buffers so a handle stays valid
// until its FreeBlock even if the manager is closed underneath it.
type Mapped struct {
	r         *mmap.ReaderAt
	numBlocks uint64

	mu       sync.Mutex
	checked  map[uint64]*mappedBlock
	pool     sync.Pool
}

type mappedBlock struct {
	data []byte
	refs int
}

// OpenMapped memory-maps the posting file at path.
func OpenMapped(path string) (*Mapped, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "mapping index file %s: %v", path, err)
	}
	if r.Len()%postings.BlockSize != 0 {
		r.Close()
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"index file %s is %d bytes, not a whole number of blocks", path, r.Len())
	}
	return &Mapped{
		r:         r,
		numBlocks: blockCount(int64(r.Len())),
		checked:   make(map[uint64]*mappedBlock),
		pool: sync.Pool{New: func() any {
			return make([]byte, postings.BlockSize)
		}},
	}, nil
}

func (m *Mapped) QueueBlock(uint64) {}

func (m *Mapped) GetBlock(_ context.Context, blockNum uint64) ([]byte, bool, error) {
	if blockNum >= m.numBlocks {
		return nil, false, apperrors.Newf(apperrors.ErrIO,
			"block %d out of range (index has %d blocks)", blockNum, m.numBlocks)
	}
	m.mu.Lock()
	if b, ok := m.checked[blockNum]; ok {
		b.refs++
		m.mu.Unlock()
		return b.data, true, nil
	}
	m.mu.Unlock()
	buf := m.pool.Get().([]byte)
	if _, err := m.r.ReadAt(buf, int64(blockNum)*postings.BlockSize); err != nil {
		m.pool.Put(buf)
		return nil, false, apperrors.Newf(apperrors.ErrIO, "reading mapped block %d: %v", blockNum, err)
	}
	m.mu.Lock()
	m.checked[blockNum] = &mappedBlock{data: buf, refs: 1}
	m.mu.Unlock()
	return buf, true, nil
}

func (m *Mapped) FreeBlock(blockNum uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.checked[blockNum]
	if !ok {
		return
	}
	b.refs--
	if b.refs <= 0 {
		delete(m.checked, blockNum)
		m.pool.Put(b.data)
	}
}

func (m *Mapped) TotalIndexBlocks() uint64 { return m.numBlocks }

func (m *Mapped) Close() error {
	return m.r.Close()
}
