package streamtemplate

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

func browserAvailable() bool {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// TestRuntimeScriptRevealsOffscreenContent verifies the consumer-visible
// contract of the embedded script: offscreen-marked elements lose their
// data-viewport attribute and gain the optimizer-visible class once
// scrolled into view, without element identity or order changing.
func TestRuntimeScriptRevealsOffscreenContent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e browser test in short mode")
	}
	if !browserAvailable() {
		t.Skip("no chrome binary on PATH")
	}

	// A tall page: the viewport pass marks late blocks offscreen.
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 12)
	var body strings.Builder
	body.WriteString(`<!DOCTYPE html><html><head><title>reveal</title></head><body>`)
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&body, `<div id="block%d" style="height: 400px">block %d %s</div>`, i, i, filler)
	}
	body.WriteString(`</body></html>`)

	// Thresholds and gates low enough that this fixture lands on the
	// advanced tier with the viewport pass active.
	r, err := New(WithViewportAnalysis(true), WithOptimizerGates(1, 1), WithThresholds(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := r.Render(context.Background(), []byte(body.String()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte(`data-viewport="offscreen"`)) {
		t.Fatal("fixture must contain offscreen-marked elements")
	}

	page := strings.Replace(string(out), "</body>",
		"<script>"+RuntimeScript()+"</script></body>", 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	ctx, cancel := chromedp.NewContext(context.Background())
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var before, after int
	var revealed int
	var orderIntact bool
	err = chromedp.Run(ctx,
		chromedp.Navigate(server.URL),
		chromedp.Evaluate(`document.querySelectorAll('[data-viewport="offscreen"]').length`, &before),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(`document.querySelectorAll('[data-viewport="offscreen"]').length`, &after),
		chromedp.Evaluate(`document.querySelectorAll('.optimizer-visible').length`, &revealed),
		chromedp.Evaluate(`document.getElementById('block11') !== null &&
			document.body.children[0].id === 'block0'`, &orderIntact),
	)
	if err != nil {
		t.Fatalf("browser run: %v", err)
	}

	if before == 0 {
		t.Fatal("page loaded without offscreen markers")
	}
	if after >= before {
		t.Errorf("offscreen markers %d -> %d, want a decrease after scrolling", before, after)
	}
	if revealed == 0 {
		t.Error("revealed elements must gain the optimizer-visible class")
	}
	if !orderIntact {
		t.Error("the script must not change element identity or order")
	}
}
