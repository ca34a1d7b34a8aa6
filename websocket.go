package streamtemplate

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// StreamMessage is the wire format for one chunk delivered over a
// WebSocket: the rendered HTML plus its metadata.
type StreamMessage struct {
	HTML string    `json:"html"`
	Meta ChunkMeta `json:"meta"`
}

// StreamWebSocket renders the template and writes one JSON message per
// chunk to conn, in document order. WebSocket write failures abort the run
// through the normal consumer-error path.
func (r *Renderer) StreamWebSocket(ctx context.Context, conn *websocket.Conn, tmpl []byte, data interface{}) (*Metrics, error) {
	return r.RenderStreaming(ctx, tmpl, data, func(chunk []byte, meta ChunkMeta) error {
		return conn.WriteJSON(StreamMessage{HTML: string(chunk), Meta: meta})
	})
}

// TemplateSource resolves the template bytes and data for one streaming
// request.
type TemplateSource func(req *http.Request) (tmpl []byte, data interface{}, err error)

// StreamHandler upgrades HTTP requests to WebSocket connections and
// streams rendered chunks over them.
type StreamHandler struct {
	Renderer *Renderer
	Source   TemplateSource
	Upgrader *websocket.Upgrader
}

// NewStreamHandler creates a handler with a permissive same-host upgrader.
func NewStreamHandler(r *Renderer, source TemplateSource) *StreamHandler {
	return &StreamHandler{
		Renderer: r,
		Source:   source,
		Upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP upgrades the connection, resolves the template, and streams
// every chunk. The connection closes when the last chunk is acknowledged
// or the render fails.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	tmpl, data, err := h.Source(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := h.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		return // Upgrade already replied with an error
	}
	defer conn.Close()

	if _, err := h.Renderer.StreamWebSocket(req.Context(), conn, tmpl, data); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}
