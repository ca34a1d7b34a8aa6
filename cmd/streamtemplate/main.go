// Command streamtemplate renders a large HTML template file to final HTML,
// streaming chunks to the output as they are produced.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/livefir/streamtemplate"
	"github.com/livefir/streamtemplate/internal/strategy"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml configuration file")
		inPath     = flag.String("in", "", "template file to render (required)")
		outPath    = flag.String("out", "", "output file (default: stdout)")
		dataPath   = flag.String("data", "", "JSON file with template data")
		cachePath  = flag.String("cache", "", "sqlite plan cache path")
		chunkSize  = flag.Int("chunk-size", 0, "chunk target size in bytes")
		strategyFl = flag.String("strategy", "", "chunk strategy: auto|size|section|dom")
		minify     = flag.Bool("minify", false, "minify rendered chunks")
		progress   = flag.Bool("progress", false, "show a live progress display")
		verbose    = flag.Bool("verbose", false, "debug logging")
		showPlan   = flag.Bool("metrics", false, "print render metrics to stderr when done")
	)
	flag.Parse()

	logger := newLogger(*verbose)

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration")
	}
	applyFlags(cfg, *cachePath, *chunkSize, *strategyFl, *minify)

	tmpl, err := os.ReadFile(*inPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("template read")
	}

	var data interface{}
	if *dataPath != "" {
		raw, err := os.ReadFile(*dataPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("data read")
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			logger.Fatal().Err(err).Msg("data parse")
		}
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("output create")
		}
		defer f.Close()
		out = f
	}

	renderer, cleanup, err := buildRenderer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("renderer")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	var m *streamtemplate.Metrics
	if *progress {
		m, err = renderWithProgress(ctx, renderer, tmpl, data, out)
	} else {
		m, err = renderer.RenderStreaming(ctx, tmpl, data,
			func(chunk []byte, _ streamtemplate.ChunkMeta) error {
				_, werr := out.Write(chunk)
				return werr
			})
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("render failed")
	}

	if *showPlan && m != nil {
		fmt.Fprintf(os.Stderr,
			"rendered %d chunks (%s, tier %s, %s) in %s: %d bytes out, %d transforms, peak %d bytes\n",
			m.ChunksEmitted, m.Decision, m.Tier, m.Mode, time.Since(started).Round(time.Millisecond),
			m.OutputBytes, m.TransformsApplied, m.PeakMemory)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

// applyFlags folds command-line overrides into the file config.
func applyFlags(cfg *Config, cachePath string, chunkSize int, strategyFl string, minify bool) {
	if cachePath != "" {
		cfg.PlanCachePath = cachePath
	}
	if chunkSize > 0 {
		cfg.ChunkTargetSize = chunkSize
	}
	if strategyFl != "" {
		cfg.Strategy = strategyFl
	}
	if minify {
		cfg.Minify = true
	}
}

// buildRenderer assembles renderer options from the effective config.
func buildRenderer(cfg *Config, logger zerolog.Logger) (*streamtemplate.Renderer, func(), error) {
	opts := []streamtemplate.Option{streamtemplate.WithLogger(logger)}

	if cfg.ChunkTargetSize > 0 {
		opts = append(opts, streamtemplate.WithChunkTargetSize(cfg.ChunkTargetSize))
	}
	if cfg.BufferBytes > 0 {
		opts = append(opts, streamtemplate.WithBufferBytes(cfg.BufferBytes))
	}
	if cfg.MaxInFlight > 0 {
		opts = append(opts, streamtemplate.WithMaxInFlight(cfg.MaxInFlight))
	}
	if cfg.MemoryLimitMB > 0 {
		opts = append(opts, streamtemplate.WithMemoryLimit(cfg.MemoryLimitMB*1024*1024))
	}
	if cfg.EnhancedThresholdKB > 0 && cfg.StreamingThresholdKB > 0 {
		opts = append(opts, streamtemplate.WithThresholds(cfg.EnhancedThresholdKB, cfg.StreamingThresholdKB))
	}
	if cfg.EdgeCaseThreshold > 0 && cfg.ComplexityThreshold > 0 {
		opts = append(opts, streamtemplate.WithOptimizerGates(cfg.EdgeCaseThreshold, cfg.ComplexityThreshold))
	}
	if cfg.Strategy != "" {
		opts = append(opts, streamtemplate.WithChunkStrategy(streamtemplate.ChunkStrategy(cfg.Strategy)))
	}
	if cfg.ViewportAnalysis {
		opts = append(opts, streamtemplate.WithViewportAnalysis(true))
	}
	if cfg.AdvancedOptimization != nil {
		opts = append(opts, streamtemplate.WithAdvancedOptimization(*cfg.AdvancedOptimization))
	}
	if cfg.Aggressive {
		opts = append(opts, streamtemplate.WithAggressiveMode(true))
	}
	if cfg.PerChunkTimeoutMS > 0 {
		opts = append(opts, streamtemplate.WithPerChunkTimeout(time.Duration(cfg.PerChunkTimeoutMS)*time.Millisecond))
	}
	if cfg.Minify {
		opts = append(opts, streamtemplate.WithMinify(true))
	}

	cleanup := func() {}
	if cfg.PlanCachePath != "" {
		cache, err := strategy.OpenSQLiteCache(cfg.PlanCachePath, 24*time.Hour)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { cache.Close() }
		opts = append(opts, streamtemplate.WithPlanCache(cache))
	}

	renderer, err := streamtemplate.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return renderer, cleanup, nil
}
