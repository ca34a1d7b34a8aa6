// Package metrics provides simple built-in metrics collection with no
// external dependencies: a per-render record assembled by the driver and a
// process-level collector with Prometheus text export.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RenderMetrics is the record returned alongside one render's output. Local
// recoverable conditions (parse warnings, transform skips, single-chunk
// render errors) land here instead of failing the run.
type RenderMetrics struct {
	TemplateBytes     int64         `json:"template_bytes"`
	ChunksTotal       int           `json:"chunks_total"`
	ChunksEmitted     int           `json:"chunks_emitted"`
	ChunkErrors       int           `json:"chunk_errors"`
	ParseWarnings     int           `json:"parse_warnings"`
	TransformSkips    int           `json:"transform_skips"`
	TransformsApplied int           `json:"transforms_applied"`
	BytesSaved        int64         `json:"bytes_saved"`
	OutputBytes       int64         `json:"output_bytes"`
	PeakMemory        int64         `json:"peak_memory"`
	Aggressive        bool          `json:"aggressive"`
	Strategy          string        `json:"strategy"`
	Tier              string        `json:"tier"`
	Mode              string        `json:"mode"`
	Decision          string        `json:"decision"`
	AnalysisTime      time.Duration `json:"analysis_time"`
	RenderTime        time.Duration `json:"render_time"`
}

// Collector aggregates across renders inside one process.
type Collector struct {
	rendersStarted    int64
	rendersCompleted  int64
	rendersFailed     int64
	rendersCancelled  int64
	chunksRendered    int64
	chunkErrors       int64
	transformsApplied int64
	bytesSaved        int64
	outputBytes       int64
	totalRenderTime   int64 // nanoseconds

	mu             sync.RWMutex
	decisionCounts map[string]int64
	startTime      time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		decisionCounts: make(map[string]int64),
		startTime:      time.Now(),
	}
}

// RenderStarted records a render beginning.
func (c *Collector) RenderStarted() {
	atomic.AddInt64(&c.rendersStarted, 1)
}

// RenderCompleted folds one finished render's record into the aggregate.
func (c *Collector) RenderCompleted(m *RenderMetrics) {
	atomic.AddInt64(&c.rendersCompleted, 1)
	atomic.AddInt64(&c.chunksRendered, int64(m.ChunksEmitted))
	atomic.AddInt64(&c.chunkErrors, int64(m.ChunkErrors))
	atomic.AddInt64(&c.transformsApplied, int64(m.TransformsApplied))
	atomic.AddInt64(&c.bytesSaved, m.BytesSaved)
	atomic.AddInt64(&c.outputBytes, m.OutputBytes)
	atomic.AddInt64(&c.totalRenderTime, int64(m.RenderTime))

	c.mu.Lock()
	c.decisionCounts[m.Decision]++
	c.mu.Unlock()
}

// RenderFailed records a fatal render outcome.
func (c *Collector) RenderFailed() {
	atomic.AddInt64(&c.rendersFailed, 1)
}

// RenderCancelled records a cancelled render.
func (c *Collector) RenderCancelled() {
	atomic.AddInt64(&c.rendersCancelled, 1)
}

// Snapshot is the aggregate view.
type Snapshot struct {
	RendersStarted    int64            `json:"renders_started"`
	RendersCompleted  int64            `json:"renders_completed"`
	RendersFailed     int64            `json:"renders_failed"`
	RendersCancelled  int64            `json:"renders_cancelled"`
	ChunksRendered    int64            `json:"chunks_rendered"`
	ChunkErrors       int64            `json:"chunk_errors"`
	TransformsApplied int64            `json:"transforms_applied"`
	BytesSaved        int64            `json:"bytes_saved"`
	OutputBytes       int64            `json:"output_bytes"`
	AverageRenderTime time.Duration    `json:"average_render_time"`
	DecisionCounts    map[string]int64 `json:"decision_counts"`
	Uptime            time.Duration    `json:"uptime"`
}

// Get returns a copy of the aggregate state.
func (c *Collector) Get() Snapshot {
	completed := atomic.LoadInt64(&c.rendersCompleted)
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(atomic.LoadInt64(&c.totalRenderTime) / completed)
	}

	c.mu.RLock()
	decisions := make(map[string]int64, len(c.decisionCounts))
	for k, v := range c.decisionCounts {
		decisions[k] = v
	}
	c.mu.RUnlock()

	return Snapshot{
		RendersStarted:    atomic.LoadInt64(&c.rendersStarted),
		RendersCompleted:  completed,
		RendersFailed:     atomic.LoadInt64(&c.rendersFailed),
		RendersCancelled:  atomic.LoadInt64(&c.rendersCancelled),
		ChunksRendered:    atomic.LoadInt64(&c.chunksRendered),
		ChunkErrors:       atomic.LoadInt64(&c.chunkErrors),
		TransformsApplied: atomic.LoadInt64(&c.transformsApplied),
		BytesSaved:        atomic.LoadInt64(&c.bytesSaved),
		OutputBytes:       atomic.LoadInt64(&c.outputBytes),
		AverageRenderTime: avg,
		DecisionCounts:    decisions,
		Uptime:            time.Since(c.startTime),
	}
}

// ExportPrometheusText renders the aggregate in Prometheus text format.
func (c *Collector) ExportPrometheusText() string {
	s := c.Get()
	var b strings.Builder

	counter := func(name, help string, value int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, value)
	}
	counter("streamtemplate_renders_started_total", "Total renders started", s.RendersStarted)
	counter("streamtemplate_renders_completed_total", "Total renders completed", s.RendersCompleted)
	counter("streamtemplate_renders_failed_total", "Total renders failed", s.RendersFailed)
	counter("streamtemplate_renders_cancelled_total", "Total renders cancelled", s.RendersCancelled)
	counter("streamtemplate_chunks_rendered_total", "Total chunks rendered", s.ChunksRendered)
	counter("streamtemplate_chunk_errors_total", "Total per-chunk render errors", s.ChunkErrors)
	counter("streamtemplate_transforms_applied_total", "Total optimizer transforms applied", s.TransformsApplied)
	counter("streamtemplate_bytes_saved_total", "Total bytes saved by the optimizer", s.BytesSaved)
	counter("streamtemplate_output_bytes_total", "Total rendered output bytes", s.OutputBytes)

	for decision, n := range s.DecisionCounts {
		fmt.Fprintf(&b, "streamtemplate_strategy_decisions_total{decision=%q} %d\n", decision, n)
	}
	fmt.Fprintf(&b, "\nstreamtemplate_uptime_seconds %f\n", s.Uptime.Seconds())
	return b.String()
}
