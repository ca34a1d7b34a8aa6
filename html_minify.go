package streamtemplate

import (
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier *minify.M
	once     sync.Once
)

// getMinifier returns a configured HTML minifier (singleton)
func getMinifier() *minify.M {
	once.Do(func() {
		minifier = minify.New()
		minifier.AddFunc("text/html", html.Minify)
	})
	return minifier
}

// minifyHTML removes unnecessary whitespace from a rendered chunk while
// preserving content. Chunks are complete framed documents, so full HTML
// minification applies; minification failures fall back to the original.
func minifyHTML(htmlContent string) string {
	if !strings.Contains(htmlContent, "<") {
		return normalizeWhitespace(htmlContent)
	}
	minified, err := getMinifier().String("text/html", htmlContent)
	if err != nil {
		return htmlContent
	}
	return minified
}

// normalizeWhitespace removes leading/trailing whitespace and collapses
// internal runs to single spaces.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}
