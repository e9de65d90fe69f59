package main

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const imageFetchLimit = 4

// resolveUploadIDs picks the photos a unit covers: the request's own
// list when present, otherwise the ids the article was derived from.
func resolveUploadIDs(ctx context.Context, req GenerationRequest, store generationStore) []string {
	ids := cleanIDs(req.UploadIDs)
	if len(ids) > 0 {
		return ids
	}
	article := store.OptionalArticle(ctx, req.ArticleID)
	return cleanIDs(article.DerivedFromUploadIDs)
}

func cleanIDs(ids []string) []string {
	cleaned := []string{}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	return cleaned
}

// assemblePhotoContexts gathers per-photo facts from the upload and
// metadata tables. Lookups are best effort; a photo with no records
// still contributes its id.
func assemblePhotoContexts(ctx context.Context, uploadIDs []string, store generationStore) []PhotoContext {
	contexts := make([]PhotoContext, 0, len(uploadIDs))
	for _, uploadID := range uploadIDs {
		upload := store.OptionalUpload(ctx, uploadID)
		metadata := store.OptionalMetadata(ctx, uploadID)

		photo := PhotoContext{
			UploadID:      uploadID,
			CapturedAt:    metadata.DatetimeOriginal,
			UploadedAt:    upload.CreatedAt,
			Location:      locationLabel(metadata.ReverseGeocode),
			ContentType:   metadata.ContentType,
			ContentLength: metadata.ContentLength,
		}
		if metadata.ObjectKey != "" {
			photo.FileRef = metadata.ObjectKey
		} else {
			photo.FileRef = upload.OriginalImageURI
		}
		camera := strings.TrimSpace(strings.Join(nonEmpty(metadata.CameraMake, metadata.CameraModel), " "))
		photo.Camera = camera
		contexts = append(contexts, photo)
	}
	return contexts
}

func nonEmpty(values ...string) []string {
	kept := []string{}
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			kept = append(kept, strings.TrimSpace(value))
		}
	}
	return kept
}

// formatPhotoContext renders the numbered photo summary block for the
// prompt, one line per photo, omitting fields that are not known.
func formatPhotoContext(contexts []PhotoContext) string {
	if len(contexts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(contexts))
	for index, photo := range contexts {
		parts := []string{fmt.Sprintf("id=%s", photo.UploadID)}
		if photo.FileRef != "" {
			parts = append(parts, fmt.Sprintf("file=%s", photo.FileRef))
		}
		if photo.CapturedAt != "" {
			parts = append(parts, fmt.Sprintf("captured_at=%s", photo.CapturedAt))
		}
		if photo.UploadedAt != "" {
			parts = append(parts, fmt.Sprintf("uploaded_at=%s", photo.UploadedAt))
		}
		if photo.Camera != "" {
			parts = append(parts, fmt.Sprintf("camera=%s", photo.Camera))
		}
		if photo.Location != "" {
			parts = append(parts, fmt.Sprintf("location=%s", photo.Location))
		}
		if photo.ContentType != "" {
			parts = append(parts, fmt.Sprintf("type=%s", photo.ContentType))
		}
		if photo.ContentLength > 0 {
			parts = append(parts, fmt.Sprintf("size_kb=%d", photo.ContentLength/1024))
		}
		lines = append(lines, fmt.Sprintf("%d. %s", index+1, strings.Join(parts, "; ")))
	}
	return strings.Join(lines, "\n")
}

// locationLabel prefers the resolved label and falls back to joining
// city, prefecture, and country.
func locationLabel(geocode *ReverseGeocode) string {
	if geocode == nil {
		return ""
	}
	if label := strings.TrimSpace(geocode.Label); label != "" {
		return label
	}
	parts := nonEmpty(geocode.City, geocode.Prefecture, geocode.Country)
	return strings.Join(parts, ", ")
}

// parseS3URI splits an s3://bucket/key reference.
func parseS3URI(uri string) (string, string, bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// resolveObjectLocation finds where a photo's bytes live: explicit
// metadata bucket/key first, then the metadata s3_uri, then the
// upload's original image URI.
func resolveObjectLocation(upload UploadRecord, metadata PhotoMetadata) (string, string, bool) {
	if metadata.ObjectBucket != "" && metadata.ObjectKey != "" {
		return metadata.ObjectBucket, metadata.ObjectKey, true
	}
	for _, uri := range []string{metadata.S3URI, upload.OriginalImageURI} {
		if uri == "" {
			continue
		}
		if bucket, key, ok := parseS3URI(uri); ok {
			return bucket, key, true
		}
	}
	return "", "", false
}

type imageFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, string, error)
}

// loadImageAttachments downloads photo bytes for the model request.
// Fetches run concurrently with a bounded group; photos that cannot be
// located or read are logged and skipped, preserving input order among
// the rest.
func loadImageAttachments(ctx context.Context, uploadIDs []string, store generationStore, fetcher imageFetcher) []ImageAttachment {
	if len(uploadIDs) == 0 {
		return nil
	}

	slots := make([]*ImageAttachment, len(uploadIDs))
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(imageFetchLimit)

	for index, uploadID := range uploadIDs {
		group.Go(func() error {
			upload := store.OptionalUpload(groupCtx, uploadID)
			metadata := store.OptionalMetadata(groupCtx, uploadID)

			bucket, key, ok := resolveObjectLocation(upload, metadata)
			if !ok {
				log.Warn().Str("upload_id", uploadID).Msg("missing object location for upload")
				return nil
			}
			data, contentType, err := fetcher.Fetch(groupCtx, bucket, key)
			if err != nil {
				log.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to load image")
				return nil
			}
			if len(data) == 0 {
				log.Warn().Str("upload_id", uploadID).Msg("empty image data")
				return nil
			}
			if strings.TrimSpace(contentType) == "" {
				contentType = guessContentType(key)
			}
			mu.Lock()
			slots[index] = &ImageAttachment{MIMEType: contentType, Data: data}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	attachments := []ImageAttachment{}
	for _, slot := range slots {
		if slot != nil {
			attachments = append(attachments, *slot)
		}
	}
	return attachments
}

func guessContentType(key string) string {
	if guessed := mime.TypeByExtension(filepath.Ext(key)); guessed != "" {
		return guessed
	}
	return "image/jpeg"
}
