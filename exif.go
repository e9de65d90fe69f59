package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// exifJob is the message the upload-complete endpoint (or a client
// carrying extracted EXIF fields) puts on the EXIF queue.
type exifJob struct {
	UploadID         string   `json:"upload_id"`
	Bucket           string   `json:"bucket,omitempty"`
	Key              string   `json:"key,omitempty"`
	DatetimeOriginal string   `json:"datetime_original,omitempty"`
	GPS              *exifGPS `json:"gps,omitempty"`
	CameraMake       string   `json:"camera_make,omitempty"`
	CameraModel      string   `json:"camera_model,omitempty"`
}

type exifGPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type objectInspector interface {
	Head(ctx context.Context, bucket, key string) (*HeadInfo, error)
}

type metadataStore interface {
	PutMetadata(ctx context.Context, record *PhotoMetadata) error
	MarkUploadMetadataReady(ctx context.Context, uploadID, updatedAt string) error
}

// ExifWorker turns EXIF queue jobs into photo metadata records and
// advances the upload to metadata_ready.
type ExifWorker struct {
	queue    messageQueue
	store    metadataStore
	objects  objectInspector
	geocoder *Geocoder
	now      func() time.Time
}

func NewExifWorker(queue messageQueue, store metadataStore, objects objectInspector, geocoder *Geocoder) *ExifWorker {
	return &ExifWorker{
		queue:    queue,
		store:    store,
		objects:  objects,
		geocoder: geocoder,
		now:      time.Now,
	}
}

func (w *ExifWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
		messages, err := w.queue.Receive(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("failed to receive exif messages")
			continue
		}
		for _, message := range messages {
			w.handle(ctx, message)
		}
	}
}

func (w *ExifWorker) handle(ctx context.Context, message types.Message) {
	body := ""
	if message.Body != nil {
		body = *message.Body
	}

	var job exifJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		log.Warn().Err(err).Msg("dropping unreadable exif message")
		w.delete(ctx, message)
		return
	}
	if job.UploadID == "" {
		log.Warn().Msg("dropping exif message without upload_id")
		w.delete(ctx, message)
		return
	}

	if err := w.process(ctx, job); err != nil {
		log.Error().Err(err).Str("upload_id", job.UploadID).Msg("exif job failed to persist")
		return
	}
	w.delete(ctx, message)
}

// process writes the metadata record. The object head and reverse
// geocode are both best effort; the record keeps whatever resolved.
func (w *ExifWorker) process(ctx context.Context, job exifJob) error {
	now := w.now().UTC().Format(time.RFC3339)
	record := &PhotoMetadata{
		UploadID:         job.UploadID,
		UpdatedAt:        now,
		DatetimeOriginal: job.DatetimeOriginal,
		CameraMake:       job.CameraMake,
		CameraModel:      job.CameraModel,
	}

	if job.Bucket != "" && job.Key != "" {
		head, err := w.objects.Head(ctx, job.Bucket, job.Key)
		if err != nil {
			log.Warn().Err(err).Str("bucket", job.Bucket).Str("key", job.Key).Msg("failed to inspect object")
		} else {
			record.ObjectBucket = job.Bucket
			record.ObjectKey = job.Key
			record.S3URI = "s3://" + job.Bucket + "/" + job.Key
			record.ContentType = head.ContentType
			record.ContentLength = head.ContentLength
			if !head.LastModified.IsZero() {
				record.LastModified = head.LastModified.UTC().Format(time.RFC3339)
			}
		}
	}

	if job.GPS != nil {
		record.GPSLat = job.GPS.Lat
		record.GPSLng = job.GPS.Lng
		record.ReverseGeocode = w.geocoder.Reverse(ctx, job.GPS.Lat, job.GPS.Lng)
	}

	if err := w.store.PutMetadata(ctx, record); err != nil {
		return err
	}
	return w.store.MarkUploadMetadataReady(ctx, job.UploadID, now)
}

func (w *ExifWorker) delete(ctx context.Context, message types.Message) {
	if message.ReceiptHandle == nil {
		return
	}
	if err := w.queue.Delete(ctx, *message.ReceiptHandle); err != nil {
		log.Error().Err(err).Msg("failed to delete queue message")
	}
}
