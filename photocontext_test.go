package main

import (
	"context"
	"strings"
	"testing"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{"valid", "s3://bucket/path/to/key.jpg", "bucket", "path/to/key.jpg", true},
		{"no key", "s3://bucket", "", "", false},
		{"empty key", "s3://bucket/", "", "", false},
		{"wrong scheme", "https://bucket/key", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, ok := parseS3URI(tt.uri)
			if bucket != tt.wantBucket || key != tt.wantKey || ok != tt.wantOK {
				t.Errorf("parseS3URI(%q) = %q, %q, %v", tt.uri, bucket, key, ok)
			}
		})
	}
}

func TestResolveObjectLocation(t *testing.T) {
	tests := []struct {
		name       string
		upload     UploadRecord
		metadata   PhotoMetadata
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{
			"metadata bucket and key win",
			UploadRecord{OriginalImageURI: "s3://other/fallback.jpg"},
			PhotoMetadata{ObjectBucket: "meta-bucket", ObjectKey: "meta/key.jpg", S3URI: "s3://uri/ignored.jpg"},
			"meta-bucket", "meta/key.jpg", true,
		},
		{
			"metadata s3 uri next",
			UploadRecord{OriginalImageURI: "s3://other/fallback.jpg"},
			PhotoMetadata{S3URI: "s3://uri/key.jpg"},
			"uri", "key.jpg", true,
		},
		{
			"upload uri last",
			UploadRecord{OriginalImageURI: "s3://other/fallback.jpg"},
			PhotoMetadata{},
			"other", "fallback.jpg", true,
		},
		{
			"nothing resolves",
			UploadRecord{},
			PhotoMetadata{ObjectBucket: "bucket-without-key"},
			"", "", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, ok := resolveObjectLocation(tt.upload, tt.metadata)
			if bucket != tt.wantBucket || key != tt.wantKey || ok != tt.wantOK {
				t.Errorf("resolveObjectLocation() = %q, %q, %v", bucket, key, ok)
			}
		})
	}
}

func TestLocationLabel(t *testing.T) {
	tests := []struct {
		name    string
		geocode *ReverseGeocode
		want    string
	}{
		{"nil", nil, ""},
		{"label wins", &ReverseGeocode{Label: "Shibuya, Tokyo, Japan", City: "Shibuya"}, "Shibuya, Tokyo, Japan"},
		{"joined parts", &ReverseGeocode{City: "Shibuya", Prefecture: "Tokyo", Country: "Japan"}, "Shibuya, Tokyo, Japan"},
		{"partial parts", &ReverseGeocode{Country: "Japan"}, "Japan"},
		{"empty", &ReverseGeocode{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := locationLabel(tt.geocode); got != tt.want {
				t.Errorf("locationLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatPhotoContext(t *testing.T) {
	contexts := []PhotoContext{
		{
			UploadID:      "u1",
			FileRef:       "uploads/u1/a.jpg",
			CapturedAt:    "2026-05-01T06:12:00Z",
			UploadedAt:    "2026-05-01T07:00:00Z",
			Camera:        "Fujifilm X100V",
			Location:      "Shibuya, Tokyo, Japan",
			ContentType:   "image/jpeg",
			ContentLength: 2048,
		},
		{UploadID: "u2"},
	}

	block := formatPhotoContext(contexts)
	lines := strings.Split(block, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	want := "1. id=u1; file=uploads/u1/a.jpg; captured_at=2026-05-01T06:12:00Z; " +
		"uploaded_at=2026-05-01T07:00:00Z; camera=Fujifilm X100V; " +
		"location=Shibuya, Tokyo, Japan; type=image/jpeg; size_kb=2"
	if lines[0] != want {
		t.Errorf("line 1 = %q\nwant     %q", lines[0], want)
	}
	if lines[1] != "2. id=u2" {
		t.Errorf("line 2 = %q (absent fields must be omitted)", lines[1])
	}
}

func TestFormatPhotoContextEmpty(t *testing.T) {
	if got := formatPhotoContext(nil); got != "" {
		t.Errorf("formatPhotoContext(nil) = %q, want empty", got)
	}
}

func TestAssemblePhotoContexts(t *testing.T) {
	store := newFakeStore()
	store.uploads["u1"] = UploadRecord{UploadID: "u1", CreatedAt: "2026-05-01T07:00:00Z", OriginalImageURI: "s3://b/orig.jpg"}
	store.metadata["u1"] = PhotoMetadata{
		UploadID:         "u1",
		ObjectKey:        "uploads/u1/a.jpg",
		DatetimeOriginal: "2026-05-01T06:12:00Z",
		CameraMake:       "Fujifilm",
		CameraModel:      "X100V",
		ContentType:      "image/jpeg",
		ContentLength:    4096,
		ReverseGeocode:   &ReverseGeocode{Label: "Shibuya"},
	}

	contexts := assemblePhotoContexts(context.Background(), []string{"u1", "u2"}, store)
	if len(contexts) != 2 {
		t.Fatalf("contexts = %d, want 2", len(contexts))
	}

	first := contexts[0]
	if first.FileRef != "uploads/u1/a.jpg" {
		t.Errorf("FileRef = %q (metadata object key wins)", first.FileRef)
	}
	if first.Camera != "Fujifilm X100V" {
		t.Errorf("Camera = %q", first.Camera)
	}
	if first.Location != "Shibuya" {
		t.Errorf("Location = %q", first.Location)
	}

	second := contexts[1]
	if second.UploadID != "u2" || second.FileRef != "" {
		t.Errorf("missing records should yield a bare context: %+v", second)
	}
}

func TestLoadImageAttachments(t *testing.T) {
	store := newFakeStore()
	store.uploads["u1"] = UploadRecord{OriginalImageURI: "s3://bucket/one.png"}
	store.uploads["u2"] = UploadRecord{}
	store.uploads["u3"] = UploadRecord{OriginalImageURI: "s3://bucket/three.jpg"}
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"bucket/one.png":   {1},
		"bucket/three.jpg": {3},
	}}

	attachments := loadImageAttachments(context.Background(), []string{"u1", "u2", "u3"}, store, fetcher)
	if len(attachments) != 2 {
		t.Fatalf("attachments = %d, want 2 (unlocatable photo skipped)", len(attachments))
	}
	if attachments[0].Data[0] != 1 || attachments[1].Data[0] != 3 {
		t.Error("attachments out of input order")
	}
}

func TestGuessContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"photo.png", "image/png"},
		{"photo.unknownext", "image/jpeg"},
		{"noextension", "image/jpeg"},
	}
	for _, tt := range tests {
		if got := guessContentType(tt.key); got != tt.want {
			t.Errorf("guessContentType(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
