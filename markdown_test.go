package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildMarkdown(t *testing.T) {
	article := &Article{
		Title:        "Harbor morning",
		Date:         "2026-05-01T09:00:00Z",
		Location:     "Yokohama",
		Tags:         []string{"harbor", "朝"},
		BodyMarkdown: "The boats were already out.",
		CaptureInfo:  CaptureInfo{CapturedAt: "2026-05-01T06:12:00Z", Location: "Yokohama pier"},
	}

	markdown := buildMarkdown(article)

	for _, want := range []string{
		`title: "Harbor morning"`,
		"date: 2026-05-01T09:00:00Z",
		"location: Yokohama",
		`tags: ["harbor","朝"]`,
		"# Harbor morning",
		"The boats were already out.",
		"## Capture info",
		"- captured_at: 2026-05-01T06:12:00Z",
		"- location: Yokohama pier",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("markdown missing %q:\n%s", want, markdown)
		}
	}
}

func TestBuildMarkdownRoundTrip(t *testing.T) {
	article := &Article{
		Title:        "Evening walk",
		Date:         "2026-04-10T18:00:00Z",
		Location:     "Kamakura",
		Tags:         []string{"walk", "sunset"},
		BodyMarkdown: "The light along the coast turned orange.",
		CaptureInfo:  CaptureInfo{CapturedAt: "2026-04-10T17:45:00Z", Location: "Kamakura beach"},
	}

	parsed, warning := coerceArticle(buildMarkdown(article), "other", "other", "other")
	if parsed == nil {
		t.Fatal("round trip returned nil article")
	}
	if warning != warnParsedAsMarkdown {
		t.Errorf("warning = %q, want %q", warning, warnParsedAsMarkdown)
	}
	if !reflect.DeepEqual(parsed, article) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", parsed, article)
	}
}

func TestBuildMarkdownEmptyFields(t *testing.T) {
	markdown := buildMarkdown(&Article{Date: "2026-01-01T00:00:00Z"})

	for _, want := range []string{
		`title: "Untitled"`,
		"location: area",
		"tags: []",
		"- captured_at: unknown",
		"- location: unspecified",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("markdown missing %q:\n%s", want, markdown)
		}
	}
}

func TestPlaceholderMarkdown(t *testing.T) {
	markdown := placeholderMarkdown("Auto draft abc12345", "2026-01-01T00:00:00Z", "area")

	for _, want := range []string{
		`title: "Auto draft abc12345"`,
		"date: 2026-01-01T00:00:00Z",
		"location: area",
		"# Auto draft abc12345",
		"placeholder",
		"- captured_at: unknown",
		"- location: unspecified",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("placeholder missing %q:\n%s", want, markdown)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := renderHTML("# Title\n\nSome **bold** text.")
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	if !strings.Contains(html, "<h1>") {
		t.Errorf("html missing heading: %s", html)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("html missing bold text: %s", html)
	}
}
