package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStore reads photo bytes and issues presigned upload URLs.
type ObjectStore struct {
	client    s3API
	presigner s3Presigner
	bucket    string
}

func NewObjectStore(client *s3.Client, bucket string) *ObjectStore {
	return &ObjectStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}
}

// Fetch downloads an object and reports its content type.
func (o *ObjectStore) Fetch(ctx context.Context, bucket, key string) ([]byte, string, error) {
	response, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("loading image %s/%s: %w", bucket, key, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading image %s/%s: %w", bucket, key, err)
	}
	return data, aws.ToString(response.ContentType), nil
}

// HeadInfo is the object metadata the EXIF worker records.
type HeadInfo struct {
	ContentType   string
	ContentLength int64
	LastModified  time.Time
}

func (o *ObjectStore) Head(ctx context.Context, bucket, key string) (*HeadInfo, error) {
	response, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("inspecting object %s/%s: %w", bucket, key, err)
	}
	info := &HeadInfo{
		ContentType:   aws.ToString(response.ContentType),
		ContentLength: aws.ToInt64(response.ContentLength),
	}
	if response.LastModified != nil {
		info.LastModified = *response.LastModified
	}
	return info, nil
}

// PresignUpload issues a presigned PUT URL for a new photo object.
func (o *ObjectStore) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	request, err := o.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presigning upload for %s: %w", key, err)
	}
	return request.URL, nil
}
