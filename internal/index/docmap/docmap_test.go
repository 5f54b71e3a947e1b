package docmap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndLookup(t *testing.T) {
	dir := t.TempDir()
	basic := filepath.Join(dir, "idx.document_map_basic")
	ext := filepath.Join(dir, "idx.document_map_extended")
	lengths := []uint32{3, 2, 7}
	urls := []string{"doc://a", "doc://b", "doc://c"}
	if err := Write(basic, ext, lengths, urls); err != nil {
		t.Fatal(err)
	}
	m, err := Open(basic, ext, "")
	if err != nil {
		t.Fatal(err)
	}
	if m.NumDocs() != 3 {
		t.Fatalf("NumDocs = %d, want 3", m.NumDocs())
	}
	for i := range lengths {
		if got := m.DocLen(uint32(i)); got != lengths[i] {
			t.Errorf("DocLen(%d) = %d, want %d", i, got, lengths[i])
		}
		if got := m.DocURL(uint32(i)); got != urls[i] {
			t.Errorf("DocURL(%d) = %q, want %q", i, got, urls[i])
		}
	}
	if m.DocLen(99) != 0 || m.DocURL(99) != "" {
		t.Error("unknown docID should yield zero length and empty URL")
	}
}

func TestRemappedLookup(t *testing.T) {
	dir := t.TempDir()
	basic := filepath.Join(dir, "idx.document_map_basic")
	ext := filepath.Join(dir, "idx.document_map_extended")
	remap := filepath.Join(dir, "idx.url_sorted_doc_id_mapping")
	if err := Write(basic, ext, []uint32{3, 2}, []string{"doc://a", "doc://b"}); err != nil {
		t.Fatal(err)
	}
	// Swap the two documents.
	table := make([]byte, 8)
	binary.LittleEndian.PutUint32(table[0:], 1)
	binary.LittleEndian.PutUint32(table[4:], 0)
	if err := os.WriteFile(remap, table, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(basic, ext, remap)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.DocURL(0); got != "doc://b" {
		t.Errorf("remapped DocURL(0) = %q, want doc://b", got)
	}
	if got := m.DocLen(1); got != 3 {
		t.Errorf("remapped DocLen(1) = %d, want 3", got)
	}
}
