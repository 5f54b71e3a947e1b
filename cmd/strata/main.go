// Command strata is the query front end of the index engine: it answers
// top-k queries over an on-disk inverted index, rewrites single-layer
// indices into layered ones, and compares two indices.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/strata-search/strata/internal/index/diff"
	"github.com/strata-search/strata/internal/index/layered"
	"github.com/strata-search/strata/internal/index/reader"
	"github.com/strata-search/strata/internal/query"
	querycache "github.com/strata-search/strata/internal/query/cache"
	"github.com/strata-search/strata/internal/query/events"
	"github.com/strata-search/strata/pkg/config"
	"github.com/strata-search/strata/pkg/kafka"
	"github.com/strata-search/strata/pkg/logger"
	"github.com/strata-search/strata/pkg/metrics"
	pkgredis "github.com/strata-search/strata/pkg/redis"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "query":
		err = runQuery(os.Args[2:])
	case "layerify":
		err = runLayerify(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  strata query -index <prefix> [-mode interactive|interactive-single|batch|batch-all]
               [-algorithm default|daat-and|daat-or|layered-overlap|layered-overlap-merge|
                layered-taat|wand|wand2|maxscore|maxscore2|daat-and-positions]
               [-format trec|normal|compare|discard] [-stop-words file] [-config file]
  strata layerify -index <prefix> -out <prefix> [-config file]
  strata diff -index <prefix> -other <prefix> [-freqs]`)
}

func openReader(prefix string, cfg *config.Config, loadExternal bool) (*reader.Reader, error) {
	opts := reader.Options{
		BlockCacheBytes:   cfg.Index.BlockCacheBytes,
		ReadAheadBlocks:   cfg.Index.ReadAheadBlocks,
		LexiconHashSize:   cfg.Index.LexiconHashSize,
		UsePositions:      cfg.Index.UsePositions,
		LoadExternalIndex: loadExternal,
	}
	switch {
	case cfg.Index.MemoryResidentIndex:
		opts.Cache = reader.CacheResident
	case cfg.Index.MemoryMappedIndex:
		opts.Cache = reader.CacheMapped
	default:
		opts.Cache = reader.CacheLRU
	}
	return reader.Open(prefix, opts)
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	indexPrefix := fs.String("index", "", "index file prefix")
	mode := fs.String("mode", "interactive", "query mode")
	algorithm := fs.String("algorithm", "default", "query algorithm")
	format := fs.String("format", "normal", "result format")
	stopWords := fs.String("stop-words", "", "stop words file, one per line")
	configPath := fs.String("config", "", "path to config file")
	warmUp := fs.Float64("warm-up", 0, "fraction of batch queries used for cache warm-up")
	fs.Parse(args)
	if *indexPrefix == "" {
		return fmt.Errorf("query: -index is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *stopWords != "" {
		cfg.Query.StopWordsFile = *stopWords
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	alg := query.Algorithm(*algorithm)
	needExternal := alg == query.AlgMaxScore || alg == query.AlgMaxScore2
	r, err := openReader(*indexPrefix, cfg, needExternal)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Index.MemoryResidentIndex {
		// With the whole index in memory, the block-level skip index pays
		// for itself immediately.
		if err := r.BuildBlockLevelIndex(ctx); err != nil {
			return err
		}
	}

	p, err := query.NewProcessor(r, cfg, alg, query.Mode(*mode), query.ResultFormat(*format))
	if err != nil {
		return err
	}
	slog.Info("query processor ready", "algorithm", p.Algorithm(), "parameters", cfg.String())

	if cfg.Metrics.Enabled {
		m := metrics.New()
		p.SetMetrics(m)
		srv := m.Serve(cfg.Metrics.Port)
		defer srv.Close()
	}
	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer client.Close()
			p.SetResultCache(querycache.New(client))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		emitter := events.New(producer)
		defer emitter.Close()
		p.SetEventSink(emitter)
		slog.Info("query analytics enabled", "topic", cfg.Kafka.Topic)
	}

	switch query.Mode(*mode) {
	case query.ModeInteractive, query.ModeInteractiveSingle:
		return p.RunInteractive(ctx, os.Stdin)
	case query.ModeBatch:
		return p.RunBatch(ctx, os.Stdin, *warmUp)
	case query.ModeBatchAll:
		return p.RunBatch(ctx, os.Stdin, 0)
	default:
		return fmt.Errorf("query: unknown mode %q", *mode)
	}
}

func runLayerify(args []string) error {
	fs := flag.NewFlagSet("layerify", flag.ExitOnError)
	indexPrefix := fs.String("index", "", "input index prefix")
	outPrefix := fs.String("out", "", "output index prefix")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if *indexPrefix == "" || *outPrefix == "" {
		return fmt.Errorf("layerify: -index and -out are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	// Layer generation streams every list; the resident cache avoids
	// re-reading blocks shared across lists.
	cfg.Index.MemoryResidentIndex = true
	cfg.Index.MemoryMappedIndex = false
	r, err := openReader(*indexPrefix, cfg, false)
	if err != nil {
		return err
	}
	defer r.Close()

	strategy, err := layered.ParseStrategy(cfg.Index.LayerSplitStrategy)
	if err != nil {
		return err
	}
	gen, err := layered.New(r, *indexPrefix, *outPrefix,
		cfg.Index.NumLayers, cfg.Index.OverlappingLayers, strategy)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gen.Run(ctx)
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	indexPrefix := fs.String("index", "", "first index prefix")
	otherPrefix := fs.String("other", "", "second index prefix")
	freqs := fs.Bool("freqs", false, "also compare frequencies")
	fs.Parse(args)
	if *indexPrefix == "" || *otherPrefix == "" {
		return fmt.Errorf("diff: -index and -other are required")
	}
	logger.Setup("info", "text")

	cfg := config.Default()
	cfg.Index.MemoryResidentIndex = true
	a, err := openReader(*indexPrefix, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := openReader(*otherPrefix, cfg, false)
	if err != nil {
		return err
	}
	defer b.Close()

	rep, err := diff.Compare(context.Background(), a, b, diff.Options{CompareFreqs: *freqs})
	if err != nil {
		return err
	}
	for _, d := range rep.Differences {
		fmt.Println(d)
	}
	if rep.Identical() {
		fmt.Printf("indices identical across %d terms\n", rep.TermsCompared)
		return nil
	}
	return fmt.Errorf("indices differ (%d differences)", len(rep.Differences))
}
