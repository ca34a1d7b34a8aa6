package streamtemplate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
)

// sectionDocument builds a deterministic document of n top-level sections,
// each padded to roughly sectionBytes with seeded filler text.
func sectionDocument(seed uint64, n, sectionBytes int) []byte {
	faker := gofakeit.New(seed)
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html><html lang="en"><head><title>generated</title></head><body>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `<section id="s%d"><h2>%s</h2>`, i, faker.BookTitle())
		var body strings.Builder
		for body.Len() < sectionBytes {
			body.WriteString("<p>")
			body.WriteString(faker.Sentence(12))
			body.WriteString("</p>")
		}
		sb.WriteString(body.String())
		sb.WriteString(`</section>`)
	}
	sb.WriteString(`</body></html>`)
	return []byte(sb.String())
}

func TestSmallDocumentSingleChunk(t *testing.T) {
	input := []byte(`<!doctype html><html><head><title>T</title></head><body><p>hi</p></body></html>`)
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}

	var calls []ChunkMeta
	var got []byte
	m, err := r.RenderStreaming(context.Background(), input, nil,
		func(chunk []byte, meta ChunkMeta) error {
			calls = append(calls, meta)
			got = append(got, chunk...)
			return nil
		})
	if err != nil {
		t.Fatalf("RenderStreaming: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("calls = %d, want exactly 1", len(calls))
	}
	meta := calls[0]
	if !meta.IsFirst || !meta.IsLast || meta.Total != 1 || meta.Index != 0 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", meta.ProgressPercent)
	}
	if m.Decision != "progressive" {
		t.Errorf("decision = %s, want progressive", m.Decision)
	}

	// Byte-equal modulo doctype case normalization.
	wantBody := `<html><head><title>T</title></head><body><p>hi</p></body></html>`
	if !strings.HasSuffix(string(got), wantBody) {
		t.Errorf("output = %q, want body %q", got, wantBody)
	}
	if !strings.EqualFold(string(got[:len("<!doctype html>")]), "<!doctype html>") {
		t.Errorf("output must open with the doctype, got %q", got[:20])
	}
}

func TestSectionChunkingScenario(t *testing.T) {
	input := sectionDocument(11, 10, 60*1024)
	r, err := New(
		WithThresholds(100, 100),
		WithChunkTargetSize(200*1024),
	)
	if err != nil {
		t.Fatal(err)
	}

	var metas []ChunkMeta
	var chunks []string
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(chunk []byte, meta ChunkMeta) error {
			metas = append(metas, meta)
			chunks = append(chunks, string(chunk))
			return nil
		})
	if err != nil {
		t.Fatalf("RenderStreaming: %v", err)
	}

	total := metas[0].Total
	if total < 3 || total > 4 {
		t.Errorf("total = %d, want 3 or 4", total)
	}
	for i, chunk := range chunks {
		opens := strings.Count(chunk, "<section id=")
		closes := strings.Count(chunk, "</section>")
		if opens != closes {
			t.Errorf("chunk %d breaks a section: %d opens, %d closes", i, opens, closes)
		}
	}
}

func TestOrderingAndMonotoneProgress(t *testing.T) {
	input := sectionDocument(7, 20, 8*1024)
	r, err := New(
		WithThresholds(1, 10),
		WithChunkTargetSize(16*1024),
		WithMaxInFlight(4),
	)
	if err != nil {
		t.Fatal(err)
	}

	lastIndex := -1
	lastPercent := -1
	calls := 0
	m, err := r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, meta ChunkMeta) error {
			calls++
			if meta.Index != lastIndex+1 {
				t.Errorf("index %d after %d, want strictly increasing from 0", meta.Index, lastIndex)
			}
			lastIndex = meta.Index
			if meta.ProgressPercent < lastPercent {
				t.Errorf("progress %d regressed below %d", meta.ProgressPercent, lastPercent)
			}
			lastPercent = meta.ProgressPercent
			return nil
		})
	if err != nil {
		t.Fatalf("RenderStreaming: %v", err)
	}
	if lastPercent != 100 {
		t.Errorf("final progress = %d, want exactly 100", lastPercent)
	}
	if calls != m.ChunksTotal || lastIndex != m.ChunksTotal-1 {
		t.Errorf("calls = %d, last index = %d, total = %d", calls, lastIndex, m.ChunksTotal)
	}
	if m.Mode != "bounded_parallel" {
		t.Errorf("mode = %s, want bounded_parallel", m.Mode)
	}
}

func TestCoverageNoNodeLoss(t *testing.T) {
	const sections = 12
	input := sectionDocument(3, sections, 4*1024)
	r, err := New(WithThresholds(1, 10), WithChunkTargetSize(8*1024))
	if err != nil {
		t.Fatal(err)
	}

	var concat bytes.Buffer
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(chunk []byte, _ ChunkMeta) error {
			concat.Write(chunk)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}

	all := concat.String()
	for i := 0; i < sections; i++ {
		marker := fmt.Sprintf(`<section id="s%d">`, i)
		if n := strings.Count(all, marker); n != 1 {
			t.Errorf("section s%d appears %d times, want exactly once", i, n)
		}
	}

	single, _, err := r.Render(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The single-shot path is the same pipeline; every section survives
	// there too.
	for i := 0; i < sections; i++ {
		if !strings.Contains(string(single), fmt.Sprintf(`<section id="s%d">`, i)) {
			t.Errorf("single-shot output lost section s%d", i)
		}
	}
}

func TestCancellationScenario(t *testing.T) {
	input := sectionDocument(19, 40, 50*1024) // ~2MB
	r, err := New(WithMaxInFlight(1), WithChunkTargetSize(100*1024))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	callsAfterCancel := 0
	cancelled := false
	_, err = r.RenderStreaming(ctx, input, nil,
		func(_ []byte, meta ChunkMeta) error {
			calls++
			if cancelled {
				callsAfterCancel++
			}
			if meta.Index == 1 {
				cancelled = true
				cancel()
			}
			return nil
		})

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if calls < 2 {
		t.Fatalf("calls = %d, cancellation fired after the 2nd chunk", calls)
	}
	if callsAfterCancel > 1 {
		t.Errorf("%d calls after cancellation, want at most 1", callsAfterCancel)
	}
}

func TestConsumerFailureScenario(t *testing.T) {
	input := sectionDocument(23, 10, 20*1024)
	r, err := New(WithThresholds(1, 10), WithChunkTargetSize(30*1024), WithMaxInFlight(1))
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error {
			calls++
			if calls == 3 {
				return errors.New("sink full")
			}
			return nil
		})

	var cerr *ConsumerError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConsumerError", err)
	}
	if cerr.Err.Error() != "sink full" {
		t.Errorf("wrapped message = %q, want the consumer's", cerr.Err.Error())
	}
	if calls != 3 {
		t.Errorf("calls = %d, want no calls after the failing one", calls)
	}
}

func TestConsumerPanicBecomesError(t *testing.T) {
	input := []byte(`<!DOCTYPE html><html><head></head><body><p>x</p></body></html>`)
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error {
			panic("consumer exploded")
		})
	var cerr *ConsumerError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConsumerError from panic", err)
	}
	if !strings.Contains(cerr.Err.Error(), "consumer exploded") {
		t.Errorf("panic message lost: %v", cerr.Err)
	}
}

func TestChunkRenderErrorDegradesToPlaceholder(t *testing.T) {
	input := []byte(`<!DOCTYPE html><html><head></head><body>` +
		`<section id="ok1">` + strings.Repeat(`<p>fine</p>`, 500) + `</section>` +
		`<section id="bad">{{.Missing.Field}}</section>` +
		`<section id="ok2">` + strings.Repeat(`<p>fine</p>`, 500) + `</section>` +
		`</body></html>`)
	r, err := New(WithThresholds(1, 10000), WithChunkTargetSize(4*1024), WithMaxInFlight(1))
	if err != nil {
		t.Fatal(err)
	}

	var badMeta *ChunkMeta
	var badBytes string
	m, err := r.RenderStreaming(context.Background(), input, map[string]interface{}{},
		func(chunk []byte, meta ChunkMeta) error {
			if meta.Err != nil {
				metaCopy := meta
				badMeta = &metaCopy
				badBytes = string(chunk)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("a failed chunk must not abort the run: %v", err)
	}
	if badMeta == nil {
		t.Fatal("no chunk surfaced an error")
	}
	if badMeta.Err.SourceChunk != badMeta.Index {
		t.Errorf("error source = %d, meta index = %d", badMeta.Err.SourceChunk, badMeta.Index)
	}
	wantPrefix := fmt.Sprintf("<!-- render error: chunk %d:", badMeta.Index)
	if !strings.HasPrefix(badBytes, wantPrefix) {
		t.Errorf("placeholder = %q, want prefix %q", badBytes, wantPrefix)
	}
	if m.ChunkErrors != 1 {
		t.Errorf("ChunkErrors = %d, want 1", m.ChunkErrors)
	}
	if m.ChunksEmitted != m.ChunksTotal {
		t.Errorf("emitted %d of %d: the driver must continue past a chunk error", m.ChunksEmitted, m.ChunksTotal)
	}
}

func TestInputErrors(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"invalid utf-8", []byte{0xff, 0xfe, '<', 'p', '>'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := r.RenderStreaming(context.Background(), tt.input, nil,
				func(_ []byte, _ ChunkMeta) error {
					called = true
					return nil
				})
			if !errors.Is(err, ErrInput) {
				t.Errorf("err = %v, want ErrInput", err)
			}
			if called {
				t.Error("no partial output on input errors")
			}
		})
	}
}

func TestMemoryExhaustion(t *testing.T) {
	input := sectionDocument(29, 10, 50*1024)
	r, err := New(WithMemoryLimit(4096))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error { return nil })
	if !errors.Is(err, ErrMemoryExhausted) {
		t.Fatalf("err = %v, want ErrMemoryExhausted", err)
	}
}

func TestIsStreamable(t *testing.T) {
	r, err := New(WithThresholds(100, 150))
	if err != nil {
		t.Fatal(err)
	}
	big := bytes.Repeat([]byte("a"), 200*1024)
	smallDoc := append([]byte(`<!DOCTYPE html><html><body>`), bytes.Repeat([]byte("b"), 40*1024)...)
	smallBlob := bytes.Repeat([]byte("c"), 40*1024)

	if !r.IsStreamable(big) {
		t.Error("input over the enhanced threshold must be streamable")
	}
	if !r.IsStreamable(smallDoc) {
		t.Error("structural HTML document over streaming/5 must be streamable")
	}
	if r.IsStreamable(smallBlob) {
		t.Error("small non-document input must not be streamable")
	}
}

func TestObserverSharesCallbackOrder(t *testing.T) {
	input := sectionDocument(31, 8, 10*1024)
	var sequence []string
	obs := ObserverFuncs(func(e ProgressEvent) {
		sequence = append(sequence, fmt.Sprintf("progress:%d", e.Chunk))
	}, nil)

	r, err := New(WithThresholds(1, 10), WithChunkTargetSize(16*1024), WithMaxInFlight(1), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, meta ChunkMeta) error {
			sequence = append(sequence, fmt.Sprintf("chunk:%d", meta.Index))
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}

	// Each progress event immediately precedes its chunk callback.
	for i := 0; i+1 < len(sequence); i += 2 {
		wantProgress := fmt.Sprintf("progress:%d", i/2)
		wantChunk := fmt.Sprintf("chunk:%d", i/2)
		if sequence[i] != wantProgress || sequence[i+1] != wantChunk {
			t.Fatalf("sequence[%d:%d] = %v, want [%s %s]", i, i+2, sequence[i:i+2], wantProgress, wantChunk)
		}
	}
}

func TestObserverReceivesTerminalError(t *testing.T) {
	input := sectionDocument(37, 6, 10*1024)
	var terminal error
	obs := ObserverFuncs(nil, func(err error) { terminal = err })

	r, err := New(WithThresholds(1, 10), WithChunkTargetSize(16*1024), WithMaxInFlight(1), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error { return errors.New("sink closed") })
	if err == nil {
		t.Fatal("want consumer error")
	}
	if terminal == nil || !strings.Contains(terminal.Error(), "sink closed") {
		t.Errorf("observer terminal error = %v", terminal)
	}
}

func TestOneRenderAtATime(t *testing.T) {
	input := []byte(`<!DOCTYPE html><html><head></head><body><p>x</p></body></html>`)
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	var nested error
	_, err = r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error {
			_, nested = r.RenderStreaming(context.Background(), input, nil,
				func(_ []byte, _ ChunkMeta) error { return nil })
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if nested == nil {
		t.Error("a renderer must refuse to drive two renders at once")
	}
}

func TestMinifyOption(t *testing.T) {
	input := []byte("<!DOCTYPE html><html><head></head><body>\n    <p>spaced</p>\n    <p>out</p>\n  </body></html>")
	r, err := New(WithMinify(true))
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := r.Render(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "\n    <p>") {
		t.Errorf("output not minified: %q", out)
	}
	if !strings.Contains(string(out), "spaced") || !strings.Contains(string(out), "out") {
		t.Error("minification must preserve content")
	}
}

func TestTemplateDataSubstitution(t *testing.T) {
	input := []byte(`<!DOCTYPE html><html><head><title>{{.Title}}</title></head><body><p>{{.Greeting}}, chunk {{chunkIndex}} of {{totalChunks}}</p></body></html>`)
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := r.Render(context.Background(), input, map[string]interface{}{
		"Title":    "Store",
		"Greeting": "Hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<title>Store</title>", "Hello, chunk 0 of 1"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero max in-flight", []Option{WithMaxInFlight(0)}},
		{"negative chunk size", []Option{WithChunkTargetSize(-1)}},
		{"streaming below enhanced", []Option{WithThresholds(1000, 10)}},
		{"unknown strategy", []Option{WithChunkStrategy("prophetic")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestPeakMemoryStaysBounded(t *testing.T) {
	const chunkTarget = 32 * 1024
	input := sectionDocument(41, 30, 16*1024) // ~480KB
	r, err := New(WithThresholds(1, 10), WithChunkTargetSize(chunkTarget), WithMaxInFlight(2))
	if err != nil {
		t.Fatal(err)
	}
	m, err := r.RenderStreaming(context.Background(), input, nil,
		func(_ []byte, _ ChunkMeta) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	// O(N + max_in_flight x C): the tree estimate dominates N; allow a
	// generous constant factor on top.
	bound := int64(6*len(input)) + int64(6*2*chunkTarget)
	if m.PeakMemory > bound {
		t.Errorf("peak = %d, bound %d for input %d", m.PeakMemory, bound, len(input))
	}
	if m.PeakMemory == 0 {
		t.Error("peak must be tracked")
	}
}
