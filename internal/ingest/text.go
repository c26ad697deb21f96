// Package ingest translates the wire formats producers send into
// domain.RawEvent values and feeds spooled payload files to the engine.
package ingest

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// maxTextBytes bounds a single message body after HTML reduction.
const maxTextBytes = 10 * 1024

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "svg": true, "template": true,
}

// looksLikeHTML is a cheap check so plain bodies skip the parser.
func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}

// plainText reduces a scraped message body to readable text. Bodies
// without markup are only trimmed.
func plainText(body string) string {
	if !looksLikeHTML(body) {
		return truncate(strings.TrimSpace(body))
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return truncate(strings.TrimSpace(body))
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return truncate(strings.Join(strings.Fields(sb.String()), " "))
}

func truncate(s string) string {
	if len(s) <= maxTextBytes {
		return s
	}
	cut := maxTextBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
