package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// escalationTokenFloor is the minimum token budget for the retry and
// expand passes regardless of length tier.
const escalationTokenFloor = 1200

type generationStore interface {
	OptionalArticle(ctx context.Context, articleID string) ArticleRecord
	OptionalUpload(ctx context.Context, uploadID string) UploadRecord
	OptionalMetadata(ctx context.Context, uploadID string) PhotoMetadata
	SaveDraft(ctx context.Context, articleID, updatedAt, title, bodyMarkdown string, article *Article) error
	CompleteRun(ctx context.Context, runID, completedAt, model, errorMessage string) error
}

type credentialSource interface {
	APIKey(ctx context.Context) string
}

// Generator runs one generation unit end to end: assemble photo
// context, drive the model through the escalation chain, and persist
// exactly one outcome.
type Generator struct {
	store     generationStore
	fetcher   imageFetcher
	model     ModelCaller
	creds     credentialSource
	modelName string
	now       func() time.Time
}

func NewGenerator(store generationStore, fetcher imageFetcher, model ModelCaller, creds credentialSource, settings *Settings) *Generator {
	return &Generator{
		store:     store,
		fetcher:   fetcher,
		model:     model,
		creds:     creds,
		modelName: settings.GeminiModel,
		now:       time.Now,
	}
}

// Process handles one unit. Model and normalization failures never
// escape; they land in the run's error_message while the article still
// receives a draft (real or placeholder). Store write failures do
// escape so the queue can redeliver the unit.
func (g *Generator) Process(ctx context.Context, req GenerationRequest) (*GenerationOutcome, error) {
	createdAt := g.now().UTC().Format(time.RFC3339)
	privacyLevel := req.PrivacyLevel
	if privacyLevel == "" {
		privacyLevel = "area"
	}
	title := fallbackTitleFor(req.ArticleID)

	uploadIDs := resolveUploadIDs(ctx, req, g.store)
	photoContext := formatPhotoContext(assemblePhotoContexts(ctx, uploadIDs, g.store))
	images := loadImageAttachments(ctx, uploadIDs, g.store, g.fetcher)
	minChars := minCharsForLength(req.Length)

	var article *Article
	modelUsed := g.modelName
	errorMessage := ""

	if apiKey := g.creds.APIKey(ctx); apiKey != "" {
		article, modelUsed, errorMessage = g.escalate(ctx, req, apiKey, uploadIDs, photoContext, images, createdAt, privacyLevel, title, minChars)
	} else {
		errorMessage = "Gemini API key is missing."
	}

	markdown := ""
	if article != nil {
		if article.Title != "" {
			title = article.Title
		}
		markdown = buildMarkdown(article)
	}
	if markdown == "" {
		markdown = placeholderMarkdown(title, createdAt, privacyLevel)
		if errorMessage == "" {
			errorMessage = warnEmptyOutput
		}
	}

	if err := g.store.SaveDraft(ctx, req.ArticleID, createdAt, title, markdown, article); err != nil {
		return nil, err
	}
	if err := g.store.CompleteRun(ctx, req.RunID, createdAt, modelUsed, errorMessage); err != nil {
		return nil, err
	}

	outcome := &GenerationOutcome{
		ArticleID:    req.ArticleID,
		RunID:        req.RunID,
		Title:        title,
		BodyMarkdown: markdown,
		Article:      article,
		Model:        modelUsed,
		ErrorMessage: errorMessage,
	}
	log.Info().
		Str("article_id", req.ArticleID).
		Str("run_id", req.RunID).
		Str("model", modelUsed).
		Int("body_chars", articleBodyLength(article)).
		Str("error_message", errorMessage).
		Msg("generation unit completed")
	return outcome, nil
}

// escalate drives the initial, retry, and expand passes. A parsed
// retry result replaces the current article unconditionally; an expand
// result replaces it only when the body did not shrink. An error on
// any pass stops the chain and keeps whatever article preceded it.
func (g *Generator) escalate(
	ctx context.Context,
	req GenerationRequest,
	apiKey string,
	uploadIDs []string,
	photoContext string,
	images []ImageAttachment,
	createdAt, privacyLevel, fallbackTitle string,
	minChars int,
) (*Article, string, string) {
	modelUsed := g.modelName

	prompt, maxTokens, err := buildPrompt(req, len(uploadIDs), photoContext, minChars, false)
	if err != nil {
		return nil, modelUsed, err.Error()
	}
	responseText, modelUsed, err := g.model.Call(ctx, apiKey, prompt, maxTokens, images)
	if err != nil {
		return nil, modelUsed, err.Error()
	}
	article, errorMessage := coerceArticle(responseText, createdAt, privacyLevel, fallbackTitle)

	if articleBodyLength(article) < minChars {
		retryPrompt, retryTokens, err := buildPrompt(req, len(uploadIDs), photoContext, minChars, true)
		if err != nil {
			return article, modelUsed, err.Error()
		}
		retryText, retryModel, err := g.model.Call(ctx, apiKey, retryPrompt, max(retryTokens, escalationTokenFloor), images)
		modelUsed = retryModel
		if err != nil {
			return article, modelUsed, err.Error()
		}
		retryArticle, retryWarning := coerceArticle(retryText, createdAt, privacyLevel, fallbackTitle)
		if retryArticle != nil {
			article = retryArticle
			errorMessage = retryWarning
		}
	}

	if article != nil && articleBodyLength(article) < minChars {
		expandPrompt, expandTokens, err := buildExpandPrompt(req, article, minChars)
		if err != nil {
			return article, modelUsed, err.Error()
		}
		expandText, expandModel, err := g.model.Call(ctx, apiKey, expandPrompt, max(expandTokens, escalationTokenFloor), images)
		modelUsed = expandModel
		if err != nil {
			return article, modelUsed, err.Error()
		}
		expanded, expandWarning := coerceArticle(expandText, createdAt, privacyLevel, fallbackTitle)
		if expanded != nil && articleBodyLength(expanded) >= articleBodyLength(article) {
			article = expanded
			errorMessage = expandWarning
		}
	}

	if article != nil {
		if articleBodyLength(article) < minChars {
			errorMessage = strings.TrimSpace(errorMessage + " " + warnOutputTooShort)
		} else {
			errorMessage = ""
		}
	}
	return article, modelUsed, errorMessage
}

func fallbackTitleFor(articleID string) string {
	short := articleID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Auto draft %s", short)
}
