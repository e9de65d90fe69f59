package main

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const uploadURLExpiry = 900 * time.Second

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type apiStore interface {
	PutUpload(ctx context.Context, record *UploadRecord) error
	MarkUploadUploaded(ctx context.Context, uploadID, updatedAt, imageURI string) error
	GetArticle(ctx context.Context, articleID string) (*ArticleRecord, error)
	PutArticle(ctx context.Context, record *ArticleRecord) error
	PutRun(ctx context.Context, record *RunRecord) error
	MarkArticlePending(ctx context.Context, articleID, updatedAt string) error
}

type uploadPresigner interface {
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
}

type enqueuer interface {
	Send(ctx context.Context, payload any) error
}

// API serves the upload and article endpoints.
type API struct {
	store     apiStore
	presigner uploadPresigner
	genQueue  enqueuer
	exifQueue enqueuer
	settings  *Settings
	now       func() time.Time
	newID     func() string
}

func NewAPI(store apiStore, presigner uploadPresigner, genQueue, exifQueue enqueuer, settings *Settings) *API {
	return &API{
		store:     store,
		presigner: presigner,
		genQueue:  genQueue,
		exifQueue: exifQueue,
		settings:  settings,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))

	router.POST("/uploads", a.createUpload)
	router.POST("/uploads/:uploadId/complete", a.completeUpload)
	router.POST("/articles/generate", a.generateArticle)
	router.GET("/articles/:articleId", a.getArticle)
	router.POST("/articles/:articleId/regenerate", a.regenerateArticle)
	return router
}

func (a *API) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}

func sanitizeFilename(filename string) string {
	safe := unsafeFilenameChars.ReplaceAllString(filename, "_")
	if len(safe) > 128 {
		safe = safe[:128]
	}
	if safe == "" {
		return "upload"
	}
	return safe
}

type createUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	UserID      string `json:"user_id"`
}

func (a *API) createUpload(c *gin.Context) {
	var req createUploadRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		return
	}

	uploadID := a.newID()
	filename := "upload"
	if req.Filename != "" {
		filename = sanitizeFilename(req.Filename)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	objectKey := fmt.Sprintf("%s/%s/%s", a.settings.UploadPrefix, uploadID, filename)
	createdAt := a.timestamp()

	uploadURL, err := a.presigner.PresignUpload(c.Request.Context(), objectKey, contentType, uploadURLExpiry)
	if err != nil {
		serverError(c, err, "failed to presign upload")
		return
	}

	record := &UploadRecord{
		UploadID:         uploadID,
		UserID:           userID,
		Status:           "created",
		CreatedAt:        createdAt,
		OriginalImageURI: fmt.Sprintf("s3://%s/%s", a.settings.UploadsBucket, objectKey),
	}
	if err := a.store.PutUpload(c.Request.Context(), record); err != nil {
		serverError(c, err, "failed to record upload")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id":  uploadID,
		"upload_url": uploadURL,
		"object_key": objectKey,
		"expires_in": int(uploadURLExpiry.Seconds()),
	})
}

type completeUploadRequest struct {
	ObjectKey string `json:"object_key"`
}

func (a *API) completeUpload(c *gin.Context) {
	uploadID := c.Param("uploadId")

	var req completeUploadRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		return
	}

	objectKey := req.ObjectKey
	if objectKey == "" {
		objectKey = fmt.Sprintf("%s/%s", a.settings.UploadPrefix, uploadID)
	}
	updatedAt := a.timestamp()
	imageURI := fmt.Sprintf("s3://%s/%s", a.settings.UploadsBucket, objectKey)

	if err := a.store.MarkUploadUploaded(c.Request.Context(), uploadID, updatedAt, imageURI); err != nil {
		serverError(c, err, "failed to mark upload uploaded")
		return
	}
	if err := a.exifQueue.Send(c.Request.Context(), exifJob{
		UploadID: uploadID,
		Bucket:   a.settings.UploadsBucket,
		Key:      objectKey,
	}); err != nil {
		serverError(c, err, "failed to enqueue exif job")
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_id": uploadID, "status": "queued"})
}

type generateArticleRequest struct {
	UploadIDs    []string `json:"upload_ids"`
	UserID       string   `json:"user_id"`
	Tone         string   `json:"tone"`
	Length       string   `json:"length"`
	Language     string   `json:"language"`
	PrivacyLevel string   `json:"privacy_level"`
	Instruction  string   `json:"instruction"`
}

func (r *generateArticleRequest) applyDefaults() {
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
	if r.Tone == "" {
		r.Tone = "polite"
	}
	if r.Length == "" {
		r.Length = "medium"
	}
	if r.Language == "" {
		r.Language = "ja"
	}
	if r.PrivacyLevel == "" {
		r.PrivacyLevel = "area"
	}
}

func (a *API) generateArticle(c *gin.Context) {
	var req generateArticleRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		return
	}
	if len(req.UploadIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "upload_ids is required."})
		return
	}
	req.applyDefaults()

	articleID := a.newID()
	runID := a.newID()
	createdAt := a.timestamp()

	article := &ArticleRecord{
		ArticleID:            articleID,
		UserID:               req.UserID,
		Status:               "draft_pending",
		Visibility:           "draft",
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
		DerivedFromUploadIDs: req.UploadIDs,
		LocationDisplayLevel: req.PrivacyLevel,
	}
	if err := a.store.PutArticle(c.Request.Context(), article); err != nil {
		serverError(c, err, "failed to record article")
		return
	}

	run := &RunRecord{
		RunID:        runID,
		ArticleID:    articleID,
		UploadIDs:    req.UploadIDs,
		Status:       "queued",
		CreatedAt:    createdAt,
		Tone:         req.Tone,
		Length:       req.Length,
		Language:     req.Language,
		PrivacyLevel: req.PrivacyLevel,
		Instruction:  req.Instruction,
	}
	if err := a.store.PutRun(c.Request.Context(), run); err != nil {
		serverError(c, err, "failed to record run")
		return
	}

	if err := a.genQueue.Send(c.Request.Context(), GenerationRequest{
		ArticleID:    articleID,
		RunID:        runID,
		UploadIDs:    req.UploadIDs,
		Tone:         req.Tone,
		Length:       req.Length,
		Language:     req.Language,
		PrivacyLevel: req.PrivacyLevel,
		Instruction:  req.Instruction,
	}); err != nil {
		serverError(c, err, "failed to enqueue generation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"article_id": articleID, "run_id": runID, "status": "queued"})
}

func (a *API) getArticle(c *gin.Context) {
	articleID := c.Param("articleId")

	article, err := a.store.GetArticle(c.Request.Context(), articleID)
	if err != nil {
		serverError(c, err, "failed to load article")
		return
	}
	if article == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Article not found."})
		return
	}

	bodyHTML := ""
	if article.BodyMarkdown != "" {
		bodyHTML, err = renderHTML(article.BodyMarkdown)
		if err != nil {
			log.Warn().Err(err).Str("article_id", articleID).Msg("failed to render article body")
		}
	}

	c.JSON(http.StatusOK, gin.H{"article": article, "body_html": bodyHTML})
}

func (a *API) regenerateArticle(c *gin.Context) {
	articleID := c.Param("articleId")

	var req generateArticleRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		return
	}
	req.applyDefaults()

	runID := a.newID()
	createdAt := a.timestamp()

	run := &RunRecord{
		RunID:        runID,
		ArticleID:    articleID,
		Status:       "queued",
		CreatedAt:    createdAt,
		Tone:         req.Tone,
		Length:       req.Length,
		Language:     req.Language,
		PrivacyLevel: req.PrivacyLevel,
		Instruction:  req.Instruction,
	}
	if err := a.store.PutRun(c.Request.Context(), run); err != nil {
		serverError(c, err, "failed to record run")
		return
	}
	if err := a.store.MarkArticlePending(c.Request.Context(), articleID, createdAt); err != nil {
		serverError(c, err, "failed to mark article pending")
		return
	}

	// Upload ids are omitted on purpose; the worker resolves them from
	// the article's derived_from_upload_ids.
	if err := a.genQueue.Send(c.Request.Context(), GenerationRequest{
		ArticleID:    articleID,
		RunID:        runID,
		Tone:         req.Tone,
		Length:       req.Length,
		Language:     req.Language,
		PrivacyLevel: req.PrivacyLevel,
		Instruction:  req.Instruction,
	}); err != nil {
		serverError(c, err, "failed to enqueue generation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"article_id": articleID, "run_id": runID, "status": "queued"})
}

// bindOptionalJSON reads a JSON body when one is present. An empty
// body leaves the target zeroed; malformed JSON writes the 400 itself.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body."})
		return err
	}
	return nil
}

func serverError(c *gin.Context, err error, message string) {
	log.Error().Err(err).Msg(message)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal error."})
}
