package streamtemplate

// ChunkMeta accompanies every chunk handed to the consumer callback.
type ChunkMeta struct {
	Index           int    `json:"index"`
	Total           int    `json:"total"`
	IsFirst         bool   `json:"is_first"`
	IsLast          bool   `json:"is_last"`
	ProgressPercent int    `json:"progress_percent"`
	RenderTimeMS    int64  `json:"render_time_ms"`
	Err             *Error `json:"error,omitempty"`
}

// Error is the serializable error record carried in chunk metadata when a
// single chunk failed to render.
type Error struct {
	Message     string `json:"message"`
	SourceChunk int    `json:"source_chunk"`
}

// ChunkFunc is the consumer callback. It receives the rendered bytes for
// one chunk together with its metadata, strictly in document order. The
// driver awaits each call before releasing the next ordered chunk; a
// returned error aborts the run with a ConsumerError.
type ChunkFunc func(chunk []byte, meta ChunkMeta) error

// ProgressEvent is published to an Observer once per emitted chunk, in the
// same order as the consumer callback sees chunks.
type ProgressEvent struct {
	Chunk        int   `json:"chunk"`
	Total        int   `json:"total"`
	Percent      int   `json:"percent"`
	RenderTimeMS int64 `json:"render_time_ms"`
}

// Observer receives render lifecycle events. All events flow through a
// single publish point inside the driver, so their order matches the
// consumer callback's. Implementations must not block for long; the driver
// calls them synchronously.
type Observer interface {
	OnProgress(ProgressEvent)
	OnError(err error)
}

// funcObserver adapts plain functions to Observer.
type funcObserver struct {
	progress func(ProgressEvent)
	fail     func(error)
}

func (o funcObserver) OnProgress(e ProgressEvent) {
	if o.progress != nil {
		o.progress(e)
	}
}

func (o funcObserver) OnError(err error) {
	if o.fail != nil {
		o.fail(err)
	}
}

// ObserverFuncs builds an Observer from optional callbacks.
func ObserverFuncs(progress func(ProgressEvent), fail func(error)) Observer {
	return funcObserver{progress: progress, fail: fail}
}
