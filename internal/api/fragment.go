package api

import (
	"html"
	"net/http"
	"strings"
)

const contentTypeHTML = "text/html; charset=utf-8"

// writeFragment writes text, escaped, as an HTML fragment.
func writeFragment(w http.ResponseWriter, status int, text string) {
	writeRawFragment(w, status, html.EscapeString(text))
}

// writeRawFragment writes markup that the caller has already escaped.
func writeRawFragment(w http.ResponseWriter, status int, markup string) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write([]byte(markup)) //nolint:errcheck // client gone
}

// listItems renders one <li> per item, or a single <li> holding empty.
func listItems(items []string, empty string) string {
	if len(items) == 0 {
		return "<li>" + html.EscapeString(empty) + "</li>"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(it))
		b.WriteString("</li>")
	}
	return b.String()
}
