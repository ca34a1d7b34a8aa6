// Package render substitutes data into one chunk's template placeholders.
// It is a thin adapter over html/template and holds no state across chunks;
// orchestration, ordering, and error policy belong to the driver.
package render

import (
	"fmt"
	"html/template"
	"strings"
)

// ChunkContext is the per-chunk record the driver exposes to templates in
// addition to user data.
type ChunkContext struct {
	ChunkIndex   int
	TotalChunks  int
	IsFirstChunk bool
	IsLastChunk  bool
}

// Renderer renders chunks. The zero value is not usable; use New.
type Renderer struct {
	funcs template.FuncMap
}

// New creates a chunk renderer. extra funcs are merged over the chunk
// context helpers and are available to every chunk template.
func New(extra template.FuncMap) *Renderer {
	r := &Renderer{funcs: template.FuncMap{}}
	for name, fn := range extra {
		r.funcs[name] = fn
	}
	return r
}

// RenderChunk parses the chunk as an html/template and executes it with
// data as the dot. The chunk context is exposed through the template
// functions chunkIndex, totalChunks, isFirstChunk, and isLastChunk. A
// reference to a key missing from map data is an execution error.
func (r *Renderer) RenderChunk(chunkHTML string, data interface{}, ctx ChunkContext) (string, error) {
	funcs := template.FuncMap{
		"chunkIndex":   func() int { return ctx.ChunkIndex },
		"totalChunks":  func() int { return ctx.TotalChunks },
		"isFirstChunk": func() bool { return ctx.IsFirstChunk },
		"isLastChunk":  func() bool { return ctx.IsLastChunk },
	}
	for name, fn := range r.funcs {
		funcs[name] = fn
	}

	tmpl, err := template.New("chunk").Option("missingkey=error").Funcs(funcs).Parse(chunkHTML)
	if err != nil {
		return "", fmt.Errorf("failed to parse chunk %d: %w", ctx.ChunkIndex, err)
	}

	var sb strings.Builder
	sb.Grow(len(chunkHTML))
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render chunk %d: %w", ctx.ChunkIndex, err)
	}
	return sb.String(), nil
}
