package render

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Placeholder returns a deterministic stand-in SVG for an image id that
// has no rendered file yet. Same id, same bytes.
func Placeholder(imageID string) []byte {
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(imageID))

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="640" height="360" viewBox="0 0 640 360">` + "\n")
	b.WriteString(`  <rect x="0" y="0" width="640" height="360" fill="#f4f5f7" stroke="#c0c4cc" stroke-width="2"/>` + "\n")
	b.WriteString(`  <text x="320" y="168" text-anchor="middle" font-family="sans-serif" font-size="18" fill="#606770">diagram not yet rendered</text>` + "\n")
	b.WriteString(fmt.Sprintf(`  <text x="320" y="200" text-anchor="middle" font-family="monospace" font-size="13" fill="#8a8f98">%s</text>`+"\n", escaped.String()))
	b.WriteString(`</svg>` + "\n")
	return []byte(b.String())
}
