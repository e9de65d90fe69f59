package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestCoerceArticleJSON(t *testing.T) {
	payload := `{
		"title": "Morning at the harbor",
		"date": "2026-05-01T09:00:00Z",
		"location": "Yokohama",
		"tags": ["harbor", "morning"],
		"body_markdown": "The boats were already out.",
		"capture_info": {"captured_at": "2026-05-01T06:12:00Z", "location": "Yokohama pier"}
	}`

	article, warning := coerceArticle(payload, "2026-05-02T00:00:00Z", "area", "Auto draft abc12345")
	if article == nil {
		t.Fatal("coerceArticle() returned nil article")
	}
	if warning != "" {
		t.Errorf("warning = %q, want empty", warning)
	}
	if article.Title != "Morning at the harbor" {
		t.Errorf("Title = %q", article.Title)
	}
	if article.BodyMarkdown != "The boats were already out." {
		t.Errorf("BodyMarkdown = %q", article.BodyMarkdown)
	}
	if !reflect.DeepEqual(article.Tags, []string{"harbor", "morning"}) {
		t.Errorf("Tags = %v", article.Tags)
	}
	if article.CaptureInfo.CapturedAt != "2026-05-01T06:12:00Z" {
		t.Errorf("CapturedAt = %q", article.CaptureInfo.CapturedAt)
	}
}

func TestCoerceArticleFencedJSON(t *testing.T) {
	fenced := "```json\n{\"title\": \"T\", \"body_markdown\": \"body text\"}\n```"

	article, warning := coerceArticle(fenced, "2026-01-01T00:00:00Z", "area", "fallback")
	if article == nil {
		t.Fatal("coerceArticle() returned nil for fenced JSON")
	}
	if warning != "" {
		t.Errorf("warning = %q, want empty", warning)
	}
	if article.Title != "T" || article.BodyMarkdown != "body text" {
		t.Errorf("article = %+v", article)
	}
}

func TestCoerceArticleBraceRescue(t *testing.T) {
	noisy := `Here is your article:
{"title": "Rescued", "body_markdown": "content survives"}
Hope you like it.`

	article, warning := coerceArticle(noisy, "2026-01-01T00:00:00Z", "area", "fallback")
	if article == nil {
		t.Fatal("coerceArticle() returned nil for embedded JSON")
	}
	if warning != "" {
		t.Errorf("warning = %q, want empty", warning)
	}
	if article.Title != "Rescued" {
		t.Errorf("Title = %q", article.Title)
	}
}

func TestCoerceArticleDefaults(t *testing.T) {
	payload := `{"title": "", "tags": "not-a-list", "body_markdown": "short body", "capture_info": {}}`

	article, _ := coerceArticle(payload, "2026-03-01T00:00:00Z", "city", "Auto draft 1234")
	if article == nil {
		t.Fatal("coerceArticle() returned nil")
	}
	if article.Title != "Auto draft 1234" {
		t.Errorf("Title = %q, want fallback", article.Title)
	}
	if article.Date != "2026-03-01T00:00:00Z" {
		t.Errorf("Date = %q, want created_at", article.Date)
	}
	if article.Location != "city" {
		t.Errorf("Location = %q, want privacy level", article.Location)
	}
	if len(article.Tags) != 0 {
		t.Errorf("Tags = %v, want empty", article.Tags)
	}
	if article.CaptureInfo.CapturedAt != "unknown" || article.CaptureInfo.Location != "unspecified" {
		t.Errorf("CaptureInfo = %+v", article.CaptureInfo)
	}
}

func TestCoerceArticleMarkdownFallback(t *testing.T) {
	markdown := `---
title: "Evening walk"
date: 2026-04-10T18:00:00Z
location: Kamakura
tags: ["walk", "sunset"]
---

# Evening walk

The light along the coast turned orange.

## Capture info
- captured_at: 2026-04-10T17:45:00Z
- location: Kamakura beach
`

	article, warning := coerceArticle(markdown, "2026-04-11T00:00:00Z", "area", "fallback")
	if article == nil {
		t.Fatal("coerceArticle() returned nil for markdown")
	}
	if warning != warnParsedAsMarkdown {
		t.Errorf("warning = %q, want %q", warning, warnParsedAsMarkdown)
	}
	if article.Title != "Evening walk" {
		t.Errorf("Title = %q", article.Title)
	}
	if article.Date != "2026-04-10T18:00:00Z" {
		t.Errorf("Date = %q", article.Date)
	}
	if strings.Contains(article.BodyMarkdown, "# Evening walk") {
		t.Error("body still contains the top heading")
	}
	if strings.Contains(article.BodyMarkdown, "Capture info") {
		t.Error("body still contains the capture info section")
	}
	if article.CaptureInfo.CapturedAt != "2026-04-10T17:45:00Z" {
		t.Errorf("CapturedAt = %q", article.CaptureInfo.CapturedAt)
	}
	if article.CaptureInfo.Location != "Kamakura beach" {
		t.Errorf("capture Location = %q", article.CaptureInfo.Location)
	}
	if !reflect.DeepEqual(article.Tags, []string{"walk", "sunset"}) {
		t.Errorf("Tags = %v", article.Tags)
	}
}

func TestCoerceArticleTotalFailure(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			article, warning := coerceArticle(tt.raw, "2026-01-01T00:00:00Z", "area", "fallback")
			if article != nil {
				t.Errorf("article = %+v, want nil", article)
			}
			if warning != warnFallbackMarkdown {
				t.Errorf("warning = %q, want %q", warning, warnFallbackMarkdown)
			}
		})
	}
}

func TestParseTagsValue(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected []string
	}{
		{"empty", "", []string{}},
		{"json array", `["sunset", "beach"]`, []string{"sunset", "beach"}},
		{"comma list", "sunset, beach", []string{"sunset", "beach"}},
		{"quoted comma list", `"sunset", 'beach'`, []string{"sunset", "beach"}},
		{"broken brackets", `[sunset, beach]`, []string{"sunset", "beach"}},
		{"empty brackets", "[]", []string{}},
		{"stray commas", "a,,b, ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseTagsValue(tt.value)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("parseTagsValue(%q) = %v, want %v", tt.value, result, tt.expected)
			}
		})
	}
}

func TestStripTopHeading(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"heading removed", "# Title\n\nbody text", "body text"},
		{"heading without blank", "# Title\nbody text", "body text"},
		{"no heading", "plain body", "plain body"},
		{"subheading kept", "## Section\nbody", "## Section\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripTopHeading(tt.body)
			if result != tt.expected {
				t.Errorf("stripTopHeading() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestSplitCaptureInfo(t *testing.T) {
	body := "Main text here.\n\n## Capture Info\n- captured_at: yesterday\n- location: the park\n- ignored: value"

	remaining, info := splitCaptureInfo(body)
	if remaining != "Main text here." {
		t.Errorf("body = %q", remaining)
	}
	if info["captured_at"] != "yesterday" {
		t.Errorf("captured_at = %q", info["captured_at"])
	}
	if info["location"] != "the park" {
		t.Errorf("location = %q", info["location"])
	}
	if _, ok := info["ignored"]; ok {
		t.Error("unknown key was kept")
	}
}

func TestSplitCaptureInfoAbsent(t *testing.T) {
	body := "Just a body with no capture section."
	remaining, info := splitCaptureInfo(body)
	if remaining != body {
		t.Errorf("body = %q, want unchanged", remaining)
	}
	if len(info) != 0 {
		t.Errorf("info = %v, want empty", info)
	}
}

func TestSplitCaptureInfoStopsAtHeading(t *testing.T) {
	body := "Text.\n## Capture info\n- captured_at: noon\n## Next section\n- location: elsewhere"

	_, info := splitCaptureInfo(body)
	if info["captured_at"] != "noon" {
		t.Errorf("captured_at = %q", info["captured_at"])
	}
	if _, ok := info["location"]; ok {
		t.Error("bullet after the next heading was kept")
	}
}

func TestArticleBodyLength(t *testing.T) {
	if got := articleBodyLength(nil); got != 0 {
		t.Errorf("articleBodyLength(nil) = %d, want 0", got)
	}
	article := &Article{BodyMarkdown: "日本語のテキスト"}
	if got := articleBodyLength(article); got != 8 {
		t.Errorf("articleBodyLength() = %d, want 8 runes", got)
	}
}
