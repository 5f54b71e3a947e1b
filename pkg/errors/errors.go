// Package errors defines the sentinel error taxonomy shared by the index
// reader, cache managers, and query processor, plus a wrapper type that
// carries structured context (term, layer, block) for logging.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks an unreadable or ill-typed configuration or meta
	// value. Fatal before any query runs.
	ErrConfig = errors.New("configuration error")

	// ErrFormat marks a corrupt on-disk structure: bad block header, chunk
	// size overflow, unknown coder name, corrupt lexicon record.
	ErrFormat = errors.New("index format error")

	// ErrIO marks a read failure on a block, lexicon, or document map file.
	// Fatal for the current query only.
	ErrIO = errors.New("index i/o error")

	// ErrTermNotFound marks a query term absent from the lexicon.
	ErrTermNotFound = errors.New("term not found")

	// ErrInvariant marks a violated index invariant, such as duplicate
	// docIDs within a single list. Treated the same as ErrFormat.
	ErrInvariant = errors.New("index invariant violation")

	// ErrTimeout marks a query that exceeded its deadline.
	ErrTimeout = errors.New("query timed out")
)

// IndexError wraps a sentinel with the location in the index where the
// failure was observed.
type IndexError struct {
	Err   error
	Term  string
	Layer int
	Block uint64
	Msg   string
}

func (e *IndexError) Error() string {
	if e.Term == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Msg)
	}
	return fmt.Sprintf("%s: %s (term=%q layer=%d block=%d)", e.Err.Error(), e.Msg, e.Term, e.Layer, e.Block)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// New wraps sentinel with a message and no index location.
func New(sentinel error, msg string) *IndexError {
	return &IndexError{Err: sentinel, Msg: msg}
}

// Newf wraps sentinel with a formatted message.
func Newf(sentinel error, format string, args ...any) *IndexError {
	return &IndexError{Err: sentinel, Msg: fmt.Sprintf(format, args...)}
}

// At wraps sentinel with an index location for block-level failures.
func At(sentinel error, term string, layer int, block uint64, msg string) *IndexError {
	return &IndexError{Err: sentinel, Term: term, Layer: layer, Block: block, Msg: msg}
}

// IsFatal reports whether err should abort the process rather than just the
// current query.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig)
}
