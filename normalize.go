package main

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Warnings surfaced in run records when model output needed rescuing.
const (
	warnParsedAsMarkdown = "Gemini output was not valid JSON; parsed as markdown."
	warnFallbackMarkdown = "Gemini output was not valid JSON; fallback markdown used."
	warnEmptyOutput      = "Gemini output was empty; fallback markdown used."
	warnOutputTooShort   = "Output shorter than requested."
)

// coerceArticle turns a raw model payload into a normalized Article.
// The JSON path is tried first; if it yields no usable body the payload
// is re-read as markdown. Returns nil plus a warning when neither path
// recovers anything. This is the single boundary where untrusted model
// output is decoded; everything downstream works with Article values.
func coerceArticle(responseText, createdAt, privacyLevel, fallbackTitle string) (*Article, string) {
	candidate := decodeJSONObject(responseText)
	source := "json"

	if asText(candidate["body_markdown"]) == "" {
		candidate = parseMarkdownArticle(responseText, fallbackTitle)
		source = "markdown"
	}

	if candidate == nil {
		return nil, warnFallbackMarkdown
	}

	article := normalizeArticle(candidate, createdAt, privacyLevel, fallbackTitle)
	if source == "markdown" {
		return article, warnParsedAsMarkdown
	}
	return article, ""
}

// decodeJSONObject extracts a JSON object from model output. Code
// fences (with an optional "json" tag) are stripped first; if the whole
// payload does not parse, the substring between the first "{" and the
// last "}" gets one more chance.
func decodeJSONObject(text string) map[string]any {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return nil
	}
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.Trim(candidate, "`")
		candidate = strings.TrimSpace(strings.Replace(candidate, "json", "", 1))
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
		return parsed
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start == -1 || end == -1 || end <= start {
		return nil
	}
	parsed = nil
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

// normalizeArticle guarantees every Article field. Empty or wrong-typed
// source fields fall back to the request-derived defaults.
func normalizeArticle(data map[string]any, createdAt, privacyLevel, fallbackTitle string) *Article {
	article := &Article{
		Title:        textOr(data["title"], fallbackTitle),
		Date:         textOr(data["date"], createdAt),
		Location:     textOr(data["location"], privacyLevel),
		Tags:         normalizeTags(data["tags"]),
		BodyMarkdown: asText(data["body_markdown"]),
	}

	capture, _ := data["capture_info"].(map[string]any)
	article.CaptureInfo = CaptureInfo{
		CapturedAt: textOr(capture["captured_at"], "unknown"),
		Location:   textOr(capture["location"], "unspecified"),
	}
	return article
}

// asText returns the trimmed string value, or "" for non-strings.
func asText(value any) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func textOr(value any, fallback string) string {
	if text := asText(value); text != "" {
		return text
	}
	return fallback
}

func normalizeTags(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}
	tags := []string{}
	for _, item := range items {
		if text := asText(item); text != "" {
			tags = append(tags, text)
		}
	}
	return tags
}

// parseMarkdownArticle reads model output that came back as markdown
// instead of JSON: optional front matter, a top-level "# " title, and a
// trailing "## Capture info" section of "- key: value" bullets.
func parseMarkdownArticle(text, fallbackTitle string) map[string]any {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return nil
	}

	lines := strings.Split(candidate, "\n")
	frontMatter := map[string]string{}
	bodyLines := lines

	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		endIndex := -1
		for idx := 1; idx < len(lines); idx++ {
			if strings.TrimSpace(lines[idx]) == "---" {
				endIndex = idx
				break
			}
		}
		if endIndex != -1 {
			for _, line := range lines[1:endIndex] {
				key, value, found := strings.Cut(line, ":")
				if !found {
					continue
				}
				key = strings.ToLower(strings.TrimSpace(key))
				frontMatter[key] = strings.Trim(strings.TrimSpace(value), `"`)
			}
			bodyLines = lines[endIndex+1:]
		}
	}

	body := strings.TrimSpace(strings.Join(bodyLines, "\n"))
	if body == "" {
		return nil
	}

	title := strings.TrimSpace(frontMatter["title"])
	if title == "" {
		for _, line := range bodyLines {
			if strings.HasPrefix(line, "# ") {
				title = strings.TrimSpace(line[2:])
				break
			}
		}
	}
	if title == "" {
		title = fallbackTitle
	}

	body = stripTopHeading(body)
	body, captureInfo := splitCaptureInfo(body)
	if body == "" {
		return nil
	}

	result := map[string]any{
		"title":         title,
		"body_markdown": body,
		"tags":          anyTags(parseTagsValue(frontMatter["tags"])),
		"capture_info": map[string]any{
			"captured_at": captureInfo["captured_at"],
			"location":    captureInfo["location"],
		},
	}
	if date := strings.TrimSpace(frontMatter["date"]); date != "" {
		result["date"] = date
	}
	if location := strings.TrimSpace(frontMatter["location"]); location != "" {
		result["location"] = location
	}
	return result
}

func anyTags(tags []string) []any {
	items := make([]any, len(tags))
	for i, tag := range tags {
		items[i] = tag
	}
	return items
}

// parseTagsValue reads a front-matter tags value: a bracketed JSON
// array when possible, otherwise a comma-separated list with quotes
// stripped.
func parseTagsValue(value string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return []string{}
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var parsed []any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return normalizeTags(parsed)
		}
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			return []string{}
		}
		return splitTagList(inner)
	}
	return splitTagList(raw)
}

func splitTagList(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, `"`)
		part = strings.Trim(part, `'`)
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

// stripTopHeading drops a leading "# " line so the body never repeats
// the article title.
func stripTopHeading(body string) string {
	lines := strings.Split(strings.TrimLeft(body, " \t\n"), "\n")
	if len(lines) == 0 {
		return strings.TrimSpace(body)
	}
	if strings.HasPrefix(lines[0], "# ") {
		lines = lines[1:]
		if len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
			lines = lines[1:]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitCaptureInfo separates a trailing "## Capture info" section from
// the body and reads its "- key: value" bullets. The heading match is
// case-insensitive. Unknown keys are ignored.
func splitCaptureInfo(body string) (string, map[string]string) {
	lines := strings.Split(body, "\n")
	captureIndex := -1
	for idx, line := range lines {
		if strings.ToLower(strings.TrimSpace(line)) == "## capture info" {
			captureIndex = idx
			break
		}
	}
	if captureIndex == -1 {
		return strings.TrimSpace(body), map[string]string{}
	}

	captureInfo := map[string]string{}
	for _, line := range lines[captureIndex+1:] {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "## ") || strings.HasPrefix(stripped, "# ") {
			break
		}
		stripped = strings.TrimSpace(strings.TrimPrefix(stripped, "-"))
		key, value, found := strings.Cut(stripped, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "captured_at":
			if value == "" {
				value = "unknown"
			}
			captureInfo["captured_at"] = value
		case "location":
			if value == "" {
				value = "unspecified"
			}
			captureInfo["location"] = value
		}
	}

	return strings.TrimSpace(strings.Join(lines[:captureIndex], "\n")), captureInfo
}

// articleBodyLength counts body characters, not bytes. Japanese output
// would otherwise triple-count against the length floor.
func articleBodyLength(article *Article) int {
	if article == nil {
		return 0
	}
	return utf8.RuneCountInString(article.BodyMarkdown)
}
