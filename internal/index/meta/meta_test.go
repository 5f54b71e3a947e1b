package meta

import (
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.meta")
	m := New()
	m.Set(KeyTotalNumDocs, 1234)
	m.Set(KeyDocIDCoding, "vbyte")
	m.Set(KeyLayeredIndex, true)
	if err := m.Write(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := loaded.GetInt(KeyTotalNumDocs); err != nil || v != 1234 {
		t.Errorf("GetInt = %d, %v; want 1234", v, err)
	}
	if v, err := loaded.GetString(KeyDocIDCoding); err != nil || v != "vbyte" {
		t.Errorf("GetString = %q, %v; want vbyte", v, err)
	}
	if !loaded.GetBool(KeyLayeredIndex) {
		t.Error("GetBool(layered_index) = false, want true")
	}
	if loaded.GetBool(KeyOverlappingLayers) {
		t.Error("missing boolean key should default to false")
	}
	if v := loaded.IntOr(KeyNumLayers, 1); v != 1 {
		t.Errorf("IntOr fallback = %d, want 1", v)
	}
}

func TestMissingKey(t *testing.T) {
	m := New()
	if _, err := m.GetInt(KeyTotalNumDocs); err == nil {
		t.Fatal("expected error for missing key")
	}
}
