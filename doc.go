// Package streamtemplate renders very large HTML templates into final HTML
// while keeping peak memory bounded and producing output incrementally.
//
// The driver analyzes an input template, selects a rendering strategy,
// splits the template into structurally valid chunks, rewrites problematic
// DOM patterns, renders chunks sequentially or with bounded concurrency,
// and streams partially rendered output to a consumer while the rest is
// still being produced.
//
// # Quick start
//
//	r, err := streamtemplate.New(
//	    streamtemplate.WithChunkTargetSize(200*1024),
//	    streamtemplate.WithViewportAnalysis(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	metrics, err := r.RenderStreaming(ctx, templateBytes, data,
//	    func(chunk []byte, meta streamtemplate.ChunkMeta) error {
//	        _, werr := w.Write(chunk)
//	        return werr
//	    })
//
// Every chunk is a complete HTML document sharing the original template's
// frame: concatenating all chunks yields a document equivalent to a
// single-shot render. Chunks arrive strictly in document order regardless
// of the execution mode, progress is monotone and finishes at exactly 100,
// and a failed chunk degrades to a placeholder comment instead of aborting
// the run.
//
// # Pipeline
//
// Internally the flow is
//
//	bytes -> analyzer -> strategy -> [optimizer] -> chunker -> render x N -> consumer
//
// The analyzer measures the template (size, depth, structural edge cases);
// the strategy selector maps the analysis to a plan (chunking strategy,
// optimizer tier, execution mode, budgets); the optimizer rewrites costly
// DOM patterns such as nested tables, oversized grids, and deep recursion;
// the chunker splits on section or DOM boundaries without ever dividing a
// node; the chunk renderer substitutes data through html/template.
//
// Cancellation uses context.Context and is honored at suspension points.
// Memory accounting contracts the operating bounds when the configured
// limit is crossed and aborts the render at twice the limit.
package streamtemplate
