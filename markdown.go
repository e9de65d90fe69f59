package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// buildMarkdown renders a normalized article as a front-matter markdown
// document. parseMarkdownArticle reads this same shape back, so a
// stored article survives a round trip.
func buildMarkdown(article *Article) string {
	title := article.Title
	if title == "" {
		title = "Untitled"
	}
	location := article.Location
	if location == "" {
		location = "area"
	}
	capturedAt := article.CaptureInfo.CapturedAt
	if capturedAt == "" {
		capturedAt = "unknown"
	}
	captureLocation := article.CaptureInfo.Location
	if captureLocation == "" {
		captureLocation = "unspecified"
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", title)
	fmt.Fprintf(&b, "date: %s\n", article.Date)
	fmt.Fprintf(&b, "location: %s\n", location)
	fmt.Fprintf(&b, "tags: %s\n", tagsYAML(article.Tags))
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(article.BodyMarkdown))
	b.WriteString("## Capture info\n")
	fmt.Fprintf(&b, "- captured_at: %s\n", capturedAt)
	fmt.Fprintf(&b, "- location: %s\n", captureLocation)
	return b.String()
}

// tagsYAML renders tags as a JSON array, which is valid YAML flow
// syntax. Non-ASCII tags stay readable in the stored document.
func tagsYAML(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(tags); err != nil {
		return "[]"
	}
	return strings.TrimSpace(buf.String())
}

// placeholderMarkdown is the deterministic fallback document written
// when no article survived generation.
func placeholderMarkdown(title, createdAt, privacyLevel string) string {
	return "---\n" +
		fmt.Sprintf("title: %q\n", title) +
		fmt.Sprintf("date: %s\n", createdAt) +
		fmt.Sprintf("location: %s\n", privacyLevel) +
		"tags: []\n" +
		"---\n\n" +
		fmt.Sprintf("# %s\n\n", title) +
		"This body is a placeholder. Replace with Gemini output after wiring the model call.\n\n" +
		"## Capture info\n" +
		"- captured_at: unknown\n" +
		"- location: unspecified\n"
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderHTML converts stored body markdown to HTML for the read API.
func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
