// Package query parses queries and dispatches them to the top-k evaluators:
// ranked AND and OR, layered early-terminating variants, WAND, and
// MaxScore.
package query

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/index/reader"
	"github.com/strata-search/strata/internal/score"
	"github.com/strata-search/strata/pkg/config"
	apperrors "github.com/strata-search/strata/pkg/errors"
	"github.com/strata-search/strata/pkg/metrics"
)

// MaxQueryTerms caps the number of distinct terms per query; the pruned
// TAAT evaluator tracks per-term contributions in a 32-bit bitmap.
const MaxQueryTerms = 32

// Algorithm selects the query evaluator.
type Algorithm string

const (
	AlgDefault             Algorithm = "default"
	AlgDaatAnd             Algorithm = "daat-and"
	AlgDaatOr              Algorithm = "daat-or"
	AlgLayeredOverlap      Algorithm = "layered-overlap"
	AlgLayeredOverlapMerge Algorithm = "layered-overlap-merge"
	AlgLayeredTaat         Algorithm = "layered-taat"
	AlgWand                Algorithm = "wand"
	AlgWand2               Algorithm = "wand2"
	AlgMaxScore            Algorithm = "maxscore"
	AlgMaxScore2           Algorithm = "maxscore2"
	AlgDaatAndTopPositions Algorithm = "daat-and-positions"
)

// Mode is the way queries are accepted.
type Mode string

const (
	ModeInteractive       Mode = "interactive"
	ModeInteractiveSingle Mode = "interactive-single"
	ModeBatch             Mode = "batch"
	ModeBatchAll          Mode = "batch-all"
)

// ResultFormat selects the output rendering.
type ResultFormat string

const (
	FormatTrec    ResultFormat = "trec"
	FormatNormal  ResultFormat = "normal"
	FormatCompare ResultFormat = "compare"
	FormatDiscard ResultFormat = "discard"
)

// ResultCache stores final top-k results keyed by normalized query.
type ResultCache interface {
	Get(ctx context.Context, query string, k int) ([]Result, bool)
	Put(ctx context.Context, query string, k int, results []Result)
}

// EventSink receives one record per executed query.
type EventSink interface {
	QueryExecuted(ctx context.Context, e QueryEvent)
}

// QueryEvent describes one executed query for the analytics pipeline.
type QueryEvent struct {
	Query           string        `json:"query"`
	Algorithm       string        `json:"algorithm"`
	NumTerms        int           `json:"num_terms"`
	NumResults      int           `json:"num_results"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	EarlyTerminated bool          `json:"early_terminated"`
}

// Stats aggregates counters across queries.
type Stats struct {
	TotalQueries          uint64
	TotalQueryTime        time.Duration
	SingleTermQueries     uint64
	EarlyTerminated       uint64
	NotEnoughResultsSure  uint64
	NotEnoughResultsMaybe uint64
	SingleLayerTermHits   uint64
	KthMeetingThreshold   uint64
	KthBelowThreshold     uint64
	PostingsScored        uint64
	PostingsSkipped       uint64
}

// Processor resolves query terms through the lexicon and runs one of the
// evaluators over the opened cursors.
type Processor struct {
	r      *reader.Reader
	scorer score.BM25

	algorithm Algorithm
	mode      Mode
	format    ResultFormat

	k            int
	queryTimeout time.Duration
	stopWords    map[string]struct{}

	totalDocs uint32

	silent bool
	warmUp bool

	stats   Stats
	metrics *metrics.Metrics
	cache   ResultCache
	events  EventSink

	out    io.Writer
	logger *slog.Logger
}

// NewProcessor validates the algorithm against the index shape and prepares
// the processor.
func NewProcessor(r *reader.Reader, cfg *config.Config, algorithm Algorithm, mode Mode, format ResultFormat) (*Processor, error) {
	p := &Processor{
		r:            r,
		algorithm:    algorithm,
		mode:         mode,
		format:       format,
		k:            cfg.Query.MaxNumberResults,
		queryTimeout: cfg.Query.Timeout,
		stopWords:    make(map[string]struct{}),
		out:          os.Stdout,
		logger:       slog.Default().With("component", "query-processor"),
	}

	totalDocs, err := r.Meta.GetInt(meta.KeyTotalNumDocs)
	if err != nil || totalDocs <= 0 {
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"meta key %q missing or non-positive", meta.KeyTotalNumDocs)
	}
	totalLens, err := r.Meta.GetInt(meta.KeyTotalDocumentLengths)
	if err != nil || totalLens <= 0 {
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"meta key %q missing or non-positive", meta.KeyTotalDocumentLengths)
	}
	p.totalDocs = uint32(totalDocs)
	p.scorer = score.New(p.totalDocs, float64(totalLens)/float64(totalDocs))

	if cfg.Query.StopWordsFile != "" {
		if err := p.LoadStopWords(cfg.Query.StopWordsFile); err != nil {
			return nil, err
		}
	}

	if p.algorithm == AlgDefault {
		if r.Layered() && !r.Overlapping() {
			p.algorithm = AlgLayeredTaat
		} else {
			p.algorithm = AlgDaatAnd
		}
	}
	if err := p.checkAlgorithm(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkAlgorithm rejects algorithm/index combinations that cannot work.
func (p *Processor) checkAlgorithm() error {
	layered, overlapping := p.r.Layered(), p.r.Overlapping()
	switch p.algorithm {
	case AlgDaatAnd, AlgDaatOr, AlgWand, AlgMaxScore, AlgDaatAndTopPositions:
		if layered && !overlapping {
			return apperrors.Newf(apperrors.ErrConfig,
				"algorithm %q cannot run on a non-overlapping layered index", p.algorithm)
		}
	case AlgWand2, AlgMaxScore2:
		if !layered || !overlapping || p.r.NumLayers() != 2 {
			return apperrors.Newf(apperrors.ErrConfig,
				"algorithm %q needs a dual-layer overlapping index", p.algorithm)
		}
	case AlgLayeredOverlap, AlgLayeredOverlapMerge:
		if !layered || !overlapping || p.r.NumLayers() != 2 {
			return apperrors.Newf(apperrors.ErrConfig,
				"algorithm %q needs a dual-layer overlapping index", p.algorithm)
		}
	case AlgLayeredTaat:
		if !layered || overlapping {
			return apperrors.Newf(apperrors.ErrConfig,
				"algorithm %q needs a non-overlapping layered index", p.algorithm)
		}
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown algorithm %q", p.algorithm)
	}
	if p.algorithm == AlgDaatAndTopPositions && !p.r.IncludesPositions() {
		return apperrors.New(apperrors.ErrConfig, "index carries no positions")
	}
	return nil
}

// SetMetrics attaches Prometheus collectors.
func (p *Processor) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// SetResultCache attaches an optional query-result cache.
func (p *Processor) SetResultCache(c ResultCache) { p.cache = c }

// SetEventSink attaches an optional analytics event sink.
func (p *Processor) SetEventSink(s EventSink) { p.events = s }

// SetOutput redirects result rendering, used by tests.
func (p *Processor) SetOutput(w io.Writer) { p.out = w }

// Stats returns the aggregate query counters.
func (p *Processor) Stats() Stats { return p.stats }

// Algorithm returns the resolved evaluator.
func (p *Processor) Algorithm() Algorithm { return p.algorithm }

// LoadStopWords reads one stop word per line.
func (p *Processor) LoadStopWords(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrConfig, "opening stop words file %s: %v", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if word != "" {
			p.stopWords[word] = struct{}{}
		}
	}
	return scanner.Err()
}

// andSemantics reports whether the algorithm requires every query term to
// exist in the lexicon.
func (p *Processor) andSemantics() bool {
	switch p.algorithm {
	case AlgDaatAnd, AlgLayeredOverlap, AlgLayeredOverlapMerge, AlgDaatAndTopPositions:
		return true
	}
	return false
}

// parseTerms lowercases, filters stop words, and deduplicates the query.
func (p *Processor) parseTerms(line string) []string {
	words := strings.Fields(strings.ToLower(line))
	terms := words[:0]
	for _, w := range words {
		if _, stopped := p.stopWords[w]; stopped {
			continue
		}
		terms = append(terms, w)
	}
	sort.Strings(terms)
	terms = uniqueStrings(terms)
	if len(terms) > MaxQueryTerms {
		p.logger.Warn("query truncated", "terms", len(terms), "max", MaxQueryTerms)
		terms = terms[:MaxQueryTerms]
	}
	return terms
}

func uniqueStrings(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// ExecuteQuery runs one query line and returns the ranked results.
func (p *Processor) ExecuteQuery(ctx context.Context, line string, qid int) ([]Result, error) {
	terms := p.parseTerms(line)
	if len(terms) == 0 {
		return nil, nil
	}
	if p.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.queryTimeout)
		defer cancel()
	}

	normalized := strings.Join(terms, " ")
	if p.cache != nil && !p.warmUp {
		if cached, ok := p.cache.Get(ctx, normalized, p.k); ok {
			if p.metrics != nil {
				p.metrics.ResultCacheHitsTotal.Inc()
			}
			p.printResults(cached, qid)
			return cached, nil
		}
	}

	entries := make([]*lexicon.Entry, 0, len(terms))
	for _, term := range terms {
		if e := p.r.Lexicon().GetEntry(term); e != nil {
			entries = append(entries, e)
		} else if p.andSemantics() {
			// AND semantics: a missing term empties the whole result.
			return nil, nil
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	start := time.Now()
	results, earlyTerminated, err := p.dispatch(ctx, entries)
	elapsed := time.Since(start)
	if err != nil {
		p.logQueryError(normalized, err)
		if p.metrics != nil {
			p.metrics.QueriesTotal.WithLabelValues(string(p.algorithm), "error").Inc()
		}
		if apperrors.IsFatal(err) {
			return nil, err
		}
		return nil, nil
	}

	if !p.warmUp {
		p.stats.TotalQueries++
		p.stats.TotalQueryTime += elapsed
		if len(entries) == 1 {
			p.stats.SingleTermQueries++
		}
		if earlyTerminated {
			p.stats.EarlyTerminated++
			if p.metrics != nil {
				p.metrics.EarlyTerminatedTotal.Inc()
			}
		}
	}
	if p.metrics != nil {
		outcome := "ok"
		if len(results) == 0 {
			outcome = "empty"
		}
		p.metrics.QueriesTotal.WithLabelValues(string(p.algorithm), outcome).Inc()
		p.metrics.QueryLatency.WithLabelValues(string(p.algorithm)).Observe(elapsed.Seconds())
		p.metrics.QueryResultsCount.Observe(float64(len(results)))
	}
	if p.cache != nil && !p.warmUp {
		p.cache.Put(ctx, normalized, p.k, results)
	}
	if p.events != nil && !p.warmUp {
		p.events.QueryExecuted(ctx, QueryEvent{
			Query:           normalized,
			Algorithm:       string(p.algorithm),
			NumTerms:        len(terms),
			NumResults:      len(results),
			Elapsed:         elapsed,
			EarlyTerminated: earlyTerminated,
		})
	}
	p.printResults(results, qid)
	return results, nil
}

// dispatch runs the configured evaluator over the resolved terms.
func (p *Processor) dispatch(ctx context.Context, entries []*lexicon.Entry) (results []Result, earlyTerminated bool, err error) {
	switch p.algorithm {
	case AlgDaatAnd:
		results, err = p.processAndOr(ctx, entries, false)
	case AlgDaatOr:
		results, err = p.processAndOr(ctx, entries, true)
	case AlgDaatAndTopPositions:
		results, err = p.processTopPositions(ctx, entries)
	case AlgLayeredOverlap, AlgLayeredOverlapMerge:
		results, earlyTerminated, err = p.processLayered(ctx, entries)
	case AlgLayeredTaat:
		results, earlyTerminated, err = p.processLayeredTaat(ctx, entries)
	case AlgWand, AlgWand2:
		results, err = p.processWand(ctx, entries, p.algorithm == AlgWand2)
	case AlgMaxScore, AlgMaxScore2:
		results, err = p.processMaxScore(ctx, entries, p.algorithm == AlgMaxScore2)
	default:
		err = apperrors.Newf(apperrors.ErrConfig, "unknown algorithm %q", p.algorithm)
	}
	return results, earlyTerminated, err
}

// logQueryError logs structured context; the caller returns an empty
// result and the process continues.
func (p *Processor) logQueryError(query string, err error) {
	var ie *apperrors.IndexError
	if errors.As(err, &ie) {
		p.logger.Error("query failed", "query", query, "error", err,
			"term", ie.Term, "layer", ie.Layer, "block", ie.Block)
		return
	}
	p.logger.Error("query failed", "query", query, "error", err)
}

// printResults renders one query's results per the configured format.
func (p *Processor) printResults(results []Result, qid int) {
	if p.silent || p.format == FormatDiscard {
		return
	}
	switch p.format {
	case FormatNormal:
		for _, res := range results {
			fmt.Fprintf(p.out, "Score: %.2f\tDocID: %d\tURL: %s\n",
				res.Score, res.DocID, p.r.GetDocURL(res.DocID))
		}
		fmt.Fprintf(p.out, "\n%d results\n", len(results))
	case FormatTrec:
		for i, res := range results {
			fmt.Fprintf(p.out, "%d\tQ0\t%s\t%d\t%f\tSTANDARD\n",
				qid, p.r.GetDocURL(res.DocID), i, res.Score)
		}
	case FormatCompare:
		fmt.Fprintf(p.out, "num results: %d\n", len(results))
		for _, res := range results {
			fmt.Fprintf(p.out, "%.2f\t%d\n", res.Score, res.DocID)
		}
	}
}

// RunInteractive reads queries from in until EOF, one per line.
func (p *Processor) RunInteractive(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(p.out, "Search: ")
		if !scanner.Scan() {
			break
		}
		if _, err := p.ExecuteQuery(ctx, scanner.Text(), 0); err != nil {
			return err
		}
		if p.mode == ModeInteractiveSingle {
			break
		}
	}
	return scanner.Err()
}

// RunBatch reads queries from in, one per line, optionally labeled
// "N:query". In batch mode a leading fraction of the queries only warms the
// cache; batch-all runs and reports every query.
func (p *Processor) RunBatch(ctx context.Context, in io.Reader, warmUpFraction float64) error {
	type labeled struct {
		qid  int
		text string
	}
	var queries []labeled
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		qid := 0
		if label, rest, ok := strings.Cut(line, ":"); ok && rest != "" {
			if n, err := strconv.Atoi(label); err == nil {
				qid = n
				line = rest
			}
		}
		queries = append(queries, labeled{qid: qid, text: line})
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "reading batch queries: %v", err)
	}

	numWarmUp := 0
	if p.mode == ModeBatch && warmUpFraction > 0 && warmUpFraction < 1 {
		numWarmUp = int(float64(len(queries)) * warmUpFraction)
	}
	p.silent = true
	p.warmUp = true
	for _, q := range queries[:numWarmUp] {
		if _, err := p.ExecuteQuery(ctx, q.text, q.qid); err != nil {
			return err
		}
	}
	p.r.ResetStats()
	p.warmUp = false
	p.silent = p.mode == ModeBatch && p.format == FormatDiscard
	for _, q := range queries[numWarmUp:] {
		if _, err := p.ExecuteQuery(ctx, q.text, q.qid); err != nil {
			return err
		}
	}
	p.PrintStats()
	return nil
}

// PrintStats logs the aggregate querying statistics.
func (p *Processor) PrintStats() {
	cached, disk, lists, skipped := p.r.Stats()
	p.logger.Info("query statistics",
		"total_queries", p.stats.TotalQueries,
		"total_time", p.stats.TotalQueryTime,
		"single_term_queries", p.stats.SingleTermQueries,
		"early_terminated", p.stats.EarlyTerminated,
		"not_enough_results_sure", p.stats.NotEnoughResultsSure,
		"not_enough_results_maybe", p.stats.NotEnoughResultsMaybe,
		"postings_scored", p.stats.PostingsScored,
		"postings_skipped", p.stats.PostingsSkipped,
		"cached_bytes_read", cached,
		"disk_bytes_read", disk,
		"lists_accessed", lists,
		"blocks_skipped", skipped,
	)
}
