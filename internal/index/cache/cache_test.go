package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-search/strata/internal/index/postings"
)

// writeIndexFile creates a posting file of n blocks where every byte of
// block i equals i+1.
func writeIndexFile(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.index")
	data := make([]byte, n*postings.BlockSize)
	for i := 0; i < n; i++ {
		for j := 0; j < postings.BlockSize; j++ {
			data[i*postings.BlockSize+j] = byte(i + 1)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkBlock(t *testing.T, m Manager, blockNum uint64) {
	t.Helper()
	data, _, err := m.GetBlock(context.Background(), blockNum)
	if err != nil {
		t.Fatalf("GetBlock(%d): %v", blockNum, err)
	}
	if len(data) != postings.BlockSize {
		t.Fatalf("block %d has %d bytes", blockNum, len(data))
	}
	if data[0] != byte(blockNum+1) || data[postings.BlockSize-1] != byte(blockNum+1) {
		t.Fatalf("block %d content corrupted: %d...%d", blockNum, data[0], data[postings.BlockSize-1])
	}
	m.FreeBlock(blockNum)
}

func TestVariantsServeBlocks(t *testing.T) {
	path := writeIndexFile(t, 4)
	open := map[string]func() (Manager, error){
		"resident": func() (Manager, error) { return OpenResident(path) },
		"mapped":   func() (Manager, error) { return OpenMapped(path) },
		"lru":      func() (Manager, error) { return OpenLRU(path, 2*postings.BlockSize, 2) },
	}
	for name, openFn := range open {
		t.Run(name, func(t *testing.T) {
			m, err := openFn()
			if err != nil {
				t.Fatal(err)
			}
			defer m.Close()
			if m.TotalIndexBlocks() != 4 {
				t.Fatalf("TotalIndexBlocks = %d, want 4", m.TotalIndexBlocks())
			}
			for b := uint64(0); b < 4; b++ {
				checkBlock(t, m, b)
			}
			// Re-read after eviction pressure.
			checkBlock(t, m, 0)
			if _, _, err := m.GetBlock(context.Background(), 99); err == nil {
				t.Fatal("out-of-range block should error")
			}
		})
	}
}

func TestLRUReadAheadCoalesces(t *testing.T) {
	path := writeIndexFile(t, 8)
	m, err := OpenLRU(path, 8*postings.BlockSize, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	m.QueueBlock(0)
	for b := uint64(0); b < 4; b++ {
		checkBlock(t, m, b)
	}
	hits, misses, diskReads := m.Stats()
	if diskReads != 1 {
		t.Errorf("read-ahead of 4 adjacent blocks took %d disk reads, want 1", diskReads)
	}
	if misses != 0 {
		t.Errorf("all queued blocks should hit the cache, got %d misses", misses)
	}
	if hits != 4 {
		t.Errorf("hits = %d, want 4", hits)
	}
}

func TestLRUEvictsLeastRecentlyFreed(t *testing.T) {
	path := writeIndexFile(t, 4)
	m, err := OpenLRU(path, 2*postings.BlockSize, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	checkBlock(t, m, 0)
	checkBlock(t, m, 1)
	checkBlock(t, m, 2) // evicts block 0
	checkBlock(t, m, 1) // still cached
	_, _, diskReads := m.Stats()
	if diskReads != 3 {
		t.Errorf("disk reads = %d, want 3 (block 1 stays cached)", diskReads)
	}
}
