// Package files maps an index prefix to the set of files an index consists
// of.
package files

// Set holds the paths of every file belonging to one index.
type Set struct {
	Index       string
	Lexicon     string
	DocMapBasic string
	DocMapExt   string
	Meta        string
	External    string
	Remap       string
}

// ForPrefix derives the standard file names from an index prefix.
func ForPrefix(prefix string) Set {
	return Set{
		Index:       prefix + ".index",
		Lexicon:     prefix + ".lexicon",
		DocMapBasic: prefix + ".document_map_basic",
		DocMapExt:   prefix + ".document_map_extended",
		Meta:        prefix + ".meta",
		External:    prefix + ".index.ext",
		Remap:       prefix + ".url_sorted_doc_id_mapping",
	}
}
