// Package docmap provides the read-only document map: docID to document
// length and URL, with O(1) lookups. When the index was built with a docID
// remapping table, lookups resolve through it transparently.
package docmap

import (
	"encoding/binary"
	"os"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Map is the loaded document map.
type Map struct {
	lengths []uint32
	urlOffs []uint32 // len(lengths)+1 entries into urlBlob
	urlBlob []byte
	remap   []uint32 // optional docID remapping, nil when absent
}

// Open loads the basic (lengths) and extended (URLs) map files. remapPath
// may be empty; when set, the remapping table is applied to every lookup.
func Open(basicPath, extendedPath, remapPath string) (*Map, error) {
	basic, err := os.ReadFile(basicPath)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading document map %s: %v", basicPath, err)
	}
	if len(basic)%4 != 0 {
		return nil, apperrors.Newf(apperrors.ErrFormat, "document map %s has odd size %d", basicPath, len(basic))
	}
	m := &Map{lengths: bytesToU32(basic)}

	ext, err := os.ReadFile(extendedPath)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading document map %s: %v", extendedPath, err)
	}
	offsBytes := (len(m.lengths) + 1) * 4
	if len(ext) < offsBytes {
		return nil, apperrors.Newf(apperrors.ErrFormat, "document map %s truncated", extendedPath)
	}
	m.urlOffs = bytesToU32(ext[:offsBytes])
	m.urlBlob = ext[offsBytes:]

	if remapPath != "" {
		raw, err := os.ReadFile(remapPath)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrIO, "reading remap table %s: %v", remapPath, err)
		}
		m.remap = bytesToU32(raw)
		if len(m.remap) != len(m.lengths) {
			return nil, apperrors.Newf(apperrors.ErrFormat,
				"remap table has %d entries, document map has %d", len(m.remap), len(m.lengths))
		}
	}
	return m, nil
}

func (m *Map) resolve(docID uint32) (uint32, bool) {
	if m.remap != nil {
		if int(docID) >= len(m.remap) {
			return 0, false
		}
		docID = m.remap[docID]
	}
	if int(docID) >= len(m.lengths) {
		return 0, false
	}
	return docID, true
}

// DocLen returns the length of the document, or zero for unknown docIDs.
func (m *Map) DocLen(docID uint32) uint32 {
	slot, ok := m.resolve(docID)
	if !ok {
		return 0
	}
	return m.lengths[slot]
}

// DocURL returns the URL of the document, or "" for unknown docIDs.
func (m *Map) DocURL(docID uint32) string {
	slot, ok := m.resolve(docID)
	if !ok {
		return ""
	}
	return string(m.urlBlob[m.urlOffs[slot]:m.urlOffs[slot+1]])
}

// NumDocs returns the number of documents in the map.
func (m *Map) NumDocs() int { return len(m.lengths) }

func bytesToU32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}

// Write stores the basic and extended map files for the given documents,
// where lengths[i] and urls[i] describe docID i.
func Write(basicPath, extendedPath string, lengths []uint32, urls []string) error {
	basic := make([]byte, len(lengths)*4)
	for i, v := range lengths {
		binary.LittleEndian.PutUint32(basic[4*i:], v)
	}
	if err := os.WriteFile(basicPath, basic, 0o644); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing document map %s: %v", basicPath, err)
	}

	var blob []byte
	offs := make([]byte, (len(urls)+1)*4)
	for i, u := range urls {
		binary.LittleEndian.PutUint32(offs[4*i:], uint32(len(blob)))
		blob = append(blob, u...)
	}
	binary.LittleEndian.PutUint32(offs[4*len(urls):], uint32(len(blob)))
	ext := append(offs, blob...)
	if err := os.WriteFile(extendedPath, ext, 0o644); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing document map %s: %v", extendedPath, err)
	}
	return nil
}
