// Package markup implements the tiny inline grammar embedded in chat
// message text: `[link:LABEL|URL]` tokens and `**bold**` spans. The same
// parser feeds the visitor widget, the admin console and the server-side
// status page so every surface interprets a message identically.
package markup

import (
	"html"
	"html/template"
	"strings"
)

// Kind identifies what a parsed segment renders as.
type Kind int

const (
	Plain Kind = iota
	Bold
	Link
)

// Segment is one renderable run of a message. Plain and Bold carry Text;
// Link carries Label and URL.
type Segment struct {
	Kind  Kind
	Text  string
	Label string
	URL   string
}

const (
	linkOpen = "[link:"
	boldMark = "**"
)

// Parse splits text into segments in source order. Link tokens are scanned
// first; bold pairs are resolved inside the remaining plain runs. Malformed
// tokens degrade to literal plain text, never an error.
func Parse(text string) []Segment {
	if text == "" {
		return nil
	}
	var out []Segment
	rest := text
	for {
		idx := strings.Index(rest, linkOpen)
		if idx < 0 {
			out = appendText(out, rest)
			return out
		}
		body := rest[idx+len(linkOpen):]
		end := strings.IndexByte(body, ']')
		if end < 0 {
			// unterminated token, keep everything literal
			out = appendText(out, rest)
			return out
		}
		sep := strings.IndexByte(body[:end], '|')
		if sep < 0 {
			// no label/url separator: literal up to and including ']'
			out = appendText(out, rest[:idx+len(linkOpen)+end+1])
			rest = body[end+1:]
			continue
		}
		label := body[:sep]
		url := body[sep+1:end]
		if label == "" || url == "" {
			out = appendText(out, rest[:idx+len(linkOpen)+end+1])
			rest = body[end+1:]
			continue
		}
		out = appendText(out, rest[:idx])
		out = append(out, Segment{Kind: Link, Label: label, URL: url})
		rest = body[end+1:]
	}
}

// appendText splits a plain run on **bold** pairs and appends the results.
func appendText(segs []Segment, text string) []Segment {
	for text != "" {
		open := strings.Index(text, boldMark)
		if open < 0 {
			return appendPlain(segs, text)
		}
		close := strings.Index(text[open+len(boldMark):], boldMark)
		if close < 0 {
			// unmatched opener stays literal
			return appendPlain(segs, text)
		}
		segs = appendPlain(segs, text[:open])
		inner := text[open+len(boldMark) : open+len(boldMark)+close]
		if inner != "" {
			segs = append(segs, Segment{Kind: Bold, Text: inner})
		}
		text = text[open+len(boldMark)+close+len(boldMark):]
	}
	return segs
}

func appendPlain(segs []Segment, text string) []Segment {
	if text == "" {
		return segs
	}
	return append(segs, Segment{Kind: Plain, Text: text})
}

// safeURL rejects anything that is not plain http(s) so rendered anchors
// cannot smuggle javascript: or data: targets.
func safeURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// RenderHTML renders a message body as escaped HTML. variant distinguishes
// the agent and visitor bubbles so links can be styled per side.
func RenderHTML(text, variant string) template.HTML {
	var b strings.Builder
	for _, seg := range Parse(text) {
		switch seg.Kind {
		case Link:
			if !safeURL(seg.URL) {
				b.WriteString(html.EscapeString("[link:" + seg.Label + "|" + seg.URL + "]"))
				continue
			}
			b.WriteString(`<a class="chat-link chat-link-` + html.EscapeString(variant) + `" target="_blank" rel="noopener noreferrer" href="`)
			b.WriteString(html.EscapeString(seg.URL))
			b.WriteString(`">`)
			b.WriteString(html.EscapeString(seg.Label))
			b.WriteString(`</a>`)
		case Bold:
			b.WriteString(`<strong>`)
			b.WriteString(html.EscapeString(seg.Text))
			b.WriteString(`</strong>`)
		default:
			b.WriteString(html.EscapeString(seg.Text))
		}
	}
	return template.HTML(b.String())
}
