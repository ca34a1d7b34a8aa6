package streamtemplate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/livefir/streamtemplate/internal/analyzer"
	"github.com/livefir/streamtemplate/internal/chunker"
	"github.com/livefir/streamtemplate/internal/htmlmodel"
	"github.com/livefir/streamtemplate/internal/memory"
	"github.com/livefir/streamtemplate/internal/metrics"
	"github.com/livefir/streamtemplate/internal/optimizer"
	"github.com/livefir/streamtemplate/internal/render"
	"github.com/livefir/streamtemplate/internal/strategy"
)

// Metrics is the per-render record returned alongside output.
type Metrics = metrics.RenderMetrics

// yieldEvery is the voluntary-yield cadence: after this many completed
// chunks the driver yields so the host can reclaim memory.
const yieldEvery = 5

// Renderer is the adaptive streaming driver: it analyzes a template,
// selects a plan, optimizes the tree, chunks it, renders chunks under the
// plan's execution mode, and hands ordered output to the consumer.
//
// A Renderer may be reused across renders but drives only one render at a
// time.
type Renderer struct {
	opts      *Options
	selector  *strategy.Selector
	chunks    *render.Renderer
	collector *metrics.Collector
	busy      int32
}

// New creates a Renderer from the given options.
func New(opts ...Option) (*Renderer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := validateOptions(o); err != nil {
		return nil, err
	}
	return &Renderer{
		opts:      o,
		selector:  strategy.NewSelector(o.strategyConfig(), o.PlanCache),
		chunks:    render.New(o.Funcs),
		collector: metrics.NewCollector(),
	}, nil
}

// Collector exposes the process-level metrics aggregate.
func (r *Renderer) Collector() *metrics.Collector { return r.collector }

// RuntimeScript returns the lazy-reveal script the advanced optimizer tier
// expects consumers to embed alongside deferred content.
func RuntimeScript() string { return optimizer.RuntimeScript() }

// IsStreamable reports whether a template is worth streaming: it exceeds
// the enhanced threshold, or it is structurally an HTML document over a
// fifth of the streaming threshold.
func (r *Renderer) IsStreamable(tmpl []byte) bool {
	sizeKB := len(tmpl) / 1024
	if sizeKB >= r.opts.EnhancedThresholdKB {
		return true
	}
	return looksLikeDocument(tmpl) && sizeKB >= r.opts.StreamingThresholdKB/5
}

// looksLikeDocument checks the byte prefix for a doctype or html root.
func looksLikeDocument(tmpl []byte) bool {
	head := bytes.ToLower(bytes.TrimLeft(tmpl, " \t\r\n"))
	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.HasPrefix(head, []byte("<html"))
}

// Render renders the whole template and returns the concatenated result.
// Intended for small and medium inputs; large inputs should use
// RenderStreaming so output leaves as it is produced.
func (r *Renderer) Render(ctx context.Context, tmpl []byte, data interface{}) ([]byte, *Metrics, error) {
	var out bytes.Buffer
	out.Grow(len(tmpl))
	m, err := r.RenderStreaming(ctx, tmpl, data, func(chunk []byte, _ ChunkMeta) error {
		_, werr := out.Write(chunk)
		return werr
	})
	if err != nil {
		return nil, m, err
	}
	return out.Bytes(), m, nil
}

// RenderStreaming renders the template chunk by chunk, invoking onChunk for
// every chunk in document order. It returns when the last chunk has been
// acknowledged, or with the first fatal error.
func (r *Renderer) RenderStreaming(ctx context.Context, tmpl []byte, data interface{}, onChunk ChunkFunc) (*Metrics, error) {
	if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
		return nil, fmt.Errorf("renderer is driving another render")
	}
	defer atomic.StoreInt32(&r.busy, 0)

	if ctx == nil {
		ctx = context.Background()
	}
	r.collector.RenderStarted()

	m := &Metrics{TemplateBytes: int64(len(tmpl))}
	if len(tmpl) == 0 || !utf8.Valid(tmpl) {
		r.collector.RenderFailed()
		return nil, fmt.Errorf("%w: template must be non-empty UTF-8", ErrInput)
	}

	started := time.Now()
	run, err := r.prepare(tmpl, m)
	if err != nil {
		r.collector.RenderFailed()
		return m, err
	}
	run.ctx = ctx
	run.data = data
	run.onChunk = onChunk
	defer run.close()

	if run.plan.Mode == strategy.ModeBoundedParallel && run.plan.MaxInFlight > 1 {
		err = run.executeParallel()
	} else {
		err = run.executeSequential()
	}

	m.RenderTime = time.Since(started)
	m.PeakMemory = run.tracker.Peak()
	m.Aggressive = run.tracker.Aggressive()

	switch {
	case err == nil:
		r.collector.RenderCompleted(m)
	case errors.Is(err, ErrCancelled):
		r.collector.RenderCancelled()
	default:
		r.collector.RenderFailed()
	}
	if err != nil {
		run.publishError(err)
	}
	return m, err
}

// prepare runs the analysis, selection, optimization, and chunking stages
// and assembles the run state.
func (r *Renderer) prepare(tmpl []byte, m *Metrics) (*renderRun, error) {
	log := r.opts.Logger

	analysisStart := time.Now()
	doc, warnings := htmlmodel.Parse(tmpl)
	m.ParseWarnings = warnings

	a := analyzer.Analyze(doc, tmpl, r.selector.Config().Weights)
	m.AnalysisTime = time.Since(analysisStart)

	plan := r.selector.Select(a)
	m.Strategy = string(plan.Chunking)
	m.Tier = string(plan.Tier)
	m.Mode = string(plan.Mode)
	m.Decision = plan.Justification.Decision

	log.Debug().
		Str("decision", plan.Justification.Decision).
		Str("chunking", string(plan.Chunking)).
		Str("tier", string(plan.Tier)).
		Float64("complexity", a.Complexity).
		Int("edge_case_kinds", a.EdgeCaseKinds()).
		Msg("render plan selected")

	tracker := memory.NewTracker(r.opts.MemoryLimit)
	treeSize := doc.ApproxSize()
	tracker.Allocate(memory.ComponentTree, treeSize)

	if plan.Tier != strategy.TierNone {
		cfg := optimizer.DefaultConfig()
		cfg.ViewportAnalysis = r.opts.ViewportAnalysis
		pipeline := optimizer.NewPipeline(plan.Tier, cfg)
		opt := pipeline.Run(doc, a)
		m.TransformsApplied = opt.TransformsApplied
		m.TransformSkips = opt.Skips
		m.BytesSaved = opt.BytesSaved
		log.Debug().
			Int("applied", opt.TransformsApplied).
			Int("skips", opt.Skips).
			Int64("bytes_saved", opt.BytesSaved).
			Msg("optimizer pass complete")
	}

	// The tree is logically frozen from here: the chunker only borrows it.
	set := chunker.Split(doc, plan.Chunking, plan.ChunkTargetSize)
	m.ChunksTotal = set.Len()

	return &renderRun{
		renderer: r,
		doc:      doc,
		treeSize: treeSize,
		plan:     plan,
		set:      set,
		tracker:  tracker,
		m:        m,
		log:      log,
	}, nil
}

// renderRun is the state of one streaming render.
type renderRun struct {
	renderer *Renderer
	ctx      context.Context
	data     interface{}

	doc      *htmlmodel.Document
	treeSize int64
	plan     *strategy.Plan
	set      *chunker.Set
	tracker  *memory.Tracker
	m        *Metrics
	log      zerolog.Logger

	onChunk ChunkFunc
	emitted int
}

// close releases the tree once every chunk has been emitted or the run has
// failed; the arena becomes collectable immediately.
func (run *renderRun) close() {
	run.tracker.Release(memory.ComponentTree, run.treeSize)
	run.doc = nil
	run.set = nil
}

// suspend is the common suspension point: cancellation is honored here and
// memory pressure is acted on. Returns a fatal error or nil.
func (run *renderRun) suspend() error {
	select {
	case <-run.ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, run.ctx.Err())
	default:
	}
	if run.tracker.Exhausted() {
		return fmt.Errorf("%w: estimate %d over ceiling", ErrMemoryExhausted, run.tracker.Current())
	}
	if run.tracker.OverLimit() && !run.tracker.Aggressive() {
		// One-way contraction: aggressive mode shrinks bounds for the rest
		// of this run and arms the selector for subsequent ones.
		run.tracker.MarkAggressive()
		run.renderer.selector.NoteMemoryHighWater()
		run.log.Warn().Int64("estimate", run.tracker.Current()).Msg("memory limit crossed, contracting bounds")
	}
	return nil
}

// chunkResult is one rendered chunk awaiting ordered delivery.
type chunkResult struct {
	index int
	html  string
	dur   time.Duration
	cerr  *ChunkRenderError
}

// renderChunk materializes and renders chunk i, honoring the per-chunk
// deadline. Render failures degrade to a ChunkRenderError carried in the
// result; they never abort the run.
func (run *renderRun) renderChunk(i int) chunkResult {
	spec := run.set.Spec(i)
	raw := run.set.HTML(i)
	run.tracker.Allocate(memory.ComponentChunks, int64(len(raw)))
	defer run.tracker.Release(memory.ComponentChunks, int64(len(raw)))

	cc := render.ChunkContext{
		ChunkIndex:   spec.Index,
		TotalChunks:  spec.Total,
		IsFirstChunk: spec.IsFirst,
		IsLastChunk:  spec.IsLast,
	}

	start := time.Now()
	html, err := run.renderWithDeadline(raw, cc)
	dur := time.Since(start)

	if err != nil {
		cerr := &ChunkRenderError{Chunk: i, Err: err}
		run.log.Warn().Int("chunk", i).Err(err).Msg("chunk render failed")
		return chunkResult{index: i, html: cerr.Placeholder(), dur: dur, cerr: cerr}
	}
	if run.renderer.opts.Minify {
		html = minifyHTML(html)
	}
	return chunkResult{index: i, html: html, dur: dur}
}

// renderWithDeadline applies the optional per-chunk timeout. A render that
// outlives its deadline keeps running on its goroutine; its result is
// discarded when it eventually completes.
func (run *renderRun) renderWithDeadline(raw string, cc render.ChunkContext) (string, error) {
	timeout := run.renderer.opts.PerChunkTimeout
	if timeout <= 0 {
		return run.renderer.chunks.RenderChunk(raw, run.data, cc)
	}

	type outcome struct {
		html string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		html, err := run.renderer.chunks.RenderChunk(raw, run.data, cc)
		done <- outcome{html, err}
	}()

	select {
	case o := <-done:
		return o.html, o.err
	case <-time.After(timeout):
		return "", fmt.Errorf("chunk %d exceeded deadline %s", cc.ChunkIndex, timeout)
	}
}

// deliver publishes one ordered chunk: progress event first, then the
// consumer callback. Consumer panics and errors both become the fatal
// ConsumerError.
func (run *renderRun) deliver(res chunkResult) error {
	run.emitted++
	total := run.set.Len()
	percent := run.emitted * 100 / total

	meta := ChunkMeta{
		Index:           res.index,
		Total:           total,
		IsFirst:         res.index == 0,
		IsLast:          res.index == total-1,
		ProgressPercent: percent,
		RenderTimeMS:    res.dur.Milliseconds(),
	}
	if res.cerr != nil {
		meta.Err = &Error{Message: res.cerr.Err.Error(), SourceChunk: res.index}
		run.m.ChunkErrors++
	}

	run.publishProgress(ProgressEvent{
		Chunk:        res.index,
		Total:        total,
		Percent:      percent,
		RenderTimeMS: res.dur.Milliseconds(),
	})

	err := run.invokeConsumer([]byte(res.html), meta)
	if err != nil {
		return &ConsumerError{Chunk: res.index, Err: err}
	}

	run.m.ChunksEmitted++
	run.m.OutputBytes += int64(len(res.html))

	if run.emitted%yieldEvery == 0 {
		runtime.Gosched()
	}
	return nil
}

// invokeConsumer calls onChunk, converting panics into errors.
func (run *renderRun) invokeConsumer(chunk []byte, meta ChunkMeta) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("consumer panic: %v", rec)
		}
	}()
	return run.onChunk(chunk, meta)
}

// publishProgress and publishError are the single publish point for
// observer events; their order matches consumer callback order.
func (run *renderRun) publishProgress(e ProgressEvent) {
	if obs := run.renderer.opts.Observer; obs != nil {
		obs.OnProgress(e)
	}
}

func (run *renderRun) publishError(err error) {
	if obs := run.renderer.opts.Observer; obs != nil {
		obs.OnError(err)
	}
}

// executeSequential renders and delivers chunks one at a time in document
// order.
func (run *renderRun) executeSequential() error {
	for i := 0; i < run.set.Len(); i++ {
		if err := run.suspend(); err != nil {
			return err
		}
		res := run.renderChunk(i)
		if err := run.suspend(); err != nil {
			return err
		}
		if err := run.deliver(res); err != nil {
			return err
		}
	}
	return nil
}
