// Package meta reads and writes the index meta file: ASCII key=value pairs,
// one per line, describing the index layout, coding policies, and
// collection-wide counters.
package meta

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Exact key strings recorded in the meta file.
const (
	KeyRemappedIndex        = "remapped_index"
	KeyLayeredIndex         = "layered_index"
	KeyNumLayers            = "num_layers"
	KeyOverlappingLayers    = "overlapping_layers"
	KeyIncludesPositions    = "includes_positions"
	KeyIncludesContexts     = "includes_contexts"
	KeyDocIDCoding          = "index_doc_id_coding"
	KeyFrequencyCoding      = "index_frequency_coding"
	KeyPositionCoding       = "index_position_coding"
	KeyBlockHeaderCoding    = "index_block_header_coding"
	KeyTotalNumChunks       = "total_num_chunks"
	KeyTotalPerTermBlocks   = "total_num_per_term_blocks"
	KeyTotalDocumentLengths = "total_document_lengths"
	KeyTotalNumDocs         = "total_num_docs"
	KeyTotalUniqueNumDocs   = "total_unique_num_docs"
	KeyFirstDocID           = "first_doc_id"
	KeyLastDocID            = "last_doc_id"
	KeyNumUniqueTerms       = "num_unique_terms"
	KeyDocumentPostingCount = "document_posting_count"
	KeyIndexPostingCount    = "index_posting_count"
	KeyTotalHeaderBytes     = "total_header_bytes"
	KeyTotalDocIDBytes      = "total_doc_id_bytes"
	KeyTotalFrequencyBytes  = "total_frequency_bytes"
	KeyTotalPositionBytes   = "total_position_bytes"
	KeyTotalWastedBytes     = "total_wasted_bytes"
)

// File is an in-memory view of a meta file.
type File struct {
	values map[string]string
}

// New returns an empty meta file for writing.
func New() *File {
	return &File{values: make(map[string]string)}
}

// Load parses the meta file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfig, "opening meta file %s: %v", path, err)
	}
	defer f.Close()
	m := New()
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrConfig,
				"meta file %s line %d: missing '='", path, lineNum)
		}
		m.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfig, "reading meta file %s: %v", path, err)
	}
	return m, nil
}

// Set records a key=value pair, stringifying the value.
func (m *File) Set(key string, value any) {
	m.values[key] = fmt.Sprintf("%v", value)
}

// GetString returns the raw value for key, or an error if absent.
func (m *File) GetString(key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", apperrors.Newf(apperrors.ErrConfig, "meta key %q missing", key)
	}
	return v, nil
}

// GetInt returns the value for key parsed as int64.
func (m *File) GetInt(key string) (int64, error) {
	s, err := m.GetString(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrConfig, "meta key %q has non-numeric value %q", key, s)
	}
	return v, nil
}

// GetBool returns the value for key parsed as a boolean. Missing keys
// default to false, matching older indices that omit layering keys.
func (m *File) GetBool(key string) bool {
	s, ok := m.values[key]
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}

// IntOr returns the value for key, or fallback if missing or malformed.
func (m *File) IntOr(key string, fallback int64) int64 {
	v, err := m.GetInt(key)
	if err != nil {
		return fallback
	}
	return v
}

// Write stores the meta file at path with keys in sorted order.
func (m *File) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating meta file %s: %v", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, m.values[k]); err != nil {
			return apperrors.Newf(apperrors.ErrIO, "writing meta file %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "flushing meta file %s: %v", path, err)
	}
	return f.Sync()
}
