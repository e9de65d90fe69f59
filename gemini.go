package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// articleResponseSchema constrains structured output. It goes into
// generationConfig.responseJsonSchema, not responseSchema; only the
// former accepts additionalProperties.
const articleResponseSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "date": {"type": "string"},
    "location": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "body_markdown": {"type": "string"},
    "capture_info": {
      "type": "object",
      "properties": {
        "captured_at": {"type": "string"},
        "location": {"type": "string"}
      },
      "required": ["captured_at", "location"],
      "additionalProperties": false
    }
  },
  "required": ["title", "date", "location", "tags", "body_markdown", "capture_info"],
  "additionalProperties": false
}`

// ModelError is a non-retryable model API failure: an HTTP error
// status or a broken transport that is not a timeout.
type ModelError struct {
	StatusCode int
	Message    string
}

func (e *ModelError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("Gemini API error: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Gemini API request failed: %s", e.Message)
}

// ModelCaller invokes the generation model once.
type ModelCaller interface {
	Call(ctx context.Context, apiKey, prompt string, maxOutputTokens int, images []ImageAttachment) (string, string, error)
}

// GeminiClient speaks the generateContent REST protocol.
type GeminiClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
	topP        float64
	topK        int
	timeout     time.Duration
	maxRetries  int
	sleep       func(time.Duration)
}

func NewGeminiClient(settings *Settings) *GeminiClient {
	return &GeminiClient{
		httpClient:  &http.Client{},
		baseURL:     defaultGeminiBaseURL,
		model:       settings.GeminiModel,
		temperature: settings.GeminiTemperature,
		topP:        settings.GeminiTopP,
		topK:        settings.GeminiTopK,
		timeout:     settings.RequestTimeout(),
		maxRetries:  settings.GeminiMaxRetries,
		sleep:       time.Sleep,
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature        float64         `json:"temperature"`
	MaxOutputTokens    int             `json:"maxOutputTokens"`
	TopP               float64         `json:"topP"`
	TopK               int             `json:"topK"`
	ResponseMIMEType   string          `json:"responseMimeType"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Call posts one generateContent request. Timeouts retry with capped
// exponential backoff up to maxRetries; every other failure surfaces
// immediately as a ModelError. Zero candidates is a valid empty
// response, not an error.
func (c *GeminiClient) Call(ctx context.Context, apiKey, prompt string, maxOutputTokens int, images []ImageAttachment) (string, string, error) {
	parts := []geminiPart{{Text: prompt}}
	for _, image := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(image.Data),
		}})
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:        c.temperature,
			MaxOutputTokens:    maxOutputTokens,
			TopP:               c.topP,
			TopK:               c.topK,
			ResponseMIMEType:   "application/json",
			ResponseJSONSchema: json.RawMessage(articleResponseSchema),
		},
	})
	if err != nil {
		return "", c.model, fmt.Errorf("failed to encode model request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(apiKey))

	var raw []byte
	for attempt := 0; ; attempt++ {
		raw, err = c.post(ctx, endpoint, body)
		if err == nil {
			break
		}
		if !isTimeout(err) || ctx.Err() != nil {
			var modelErr *ModelError
			if errors.As(err, &modelErr) {
				return "", c.model, modelErr
			}
			return "", c.model, &ModelError{Message: err.Error()}
		}
		if attempt >= c.maxRetries {
			return "", c.model, &ModelError{Message: fmt.Sprintf("request timed out after %d attempts", attempt+1)}
		}
		backoff := time.Duration(min(1<<attempt, 8)) * time.Second
		log.Warn().Dur("backoff", backoff).Int("attempt", attempt+1).Msg("Gemini request timed out; retrying")
		c.sleep(backoff)
	}

	log.Debug().RawJSON("payload", raw).Msg("Gemini response payload")

	var payload geminiResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", c.model, &ModelError{Message: fmt.Sprintf("unreadable response: %v", err)}
	}
	if len(payload.Candidates) == 0 {
		return "", c.model, nil
	}

	var text strings.Builder
	for _, part := range payload.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), c.model, nil
}

func (c *GeminiClient) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building model request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading model response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &ModelError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
