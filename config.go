package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings represents the YAML configuration structure. Every field can
// also be set through the environment variable named in applyEnv, which
// takes precedence over the file.
type Settings struct {
	ArticlesTable      string `yaml:"articles_table"`
	UploadsTable       string `yaml:"uploads_table"`
	MetadataTable      string `yaml:"metadata_table"`
	RunsTable          string `yaml:"generation_runs_table"`
	UploadsBucket      string `yaml:"uploads_bucket"`
	UploadPrefix       string `yaml:"upload_prefix"`
	GenerationQueueURL string `yaml:"generation_queue_url"`
	ExifQueueURL       string `yaml:"exif_queue_url"`

	GeminiSecretARN      string  `yaml:"gemini_api_key_secret_arn"`
	GeminiModel          string  `yaml:"gemini_model"`
	GeminiTemperature    float64 `yaml:"gemini_temperature"`
	GeminiTopP           float64 `yaml:"gemini_top_p"`
	GeminiTopK           int     `yaml:"gemini_top_k"`
	GeminiRequestTimeout float64 `yaml:"gemini_request_timeout"`
	GeminiMaxRetries     int     `yaml:"gemini_max_retries"`

	PlaceIndexName    string `yaml:"place_index_name"`
	HTTPAddr          string `yaml:"http_addr"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
}

func defaultSettings() *Settings {
	return &Settings{
		UploadPrefix:         "uploads",
		GeminiModel:          "gemini-3-flash-preview",
		GeminiTemperature:    0.2,
		GeminiTopP:           0.95,
		GeminiTopK:           40,
		GeminiRequestTimeout: 600,
		GeminiMaxRetries:     2,
		HTTPAddr:             ":8080",
		WorkerConcurrency:    4,
	}
}

// loadSettings reads the YAML file if it exists, then overlays the
// environment. A missing file is not an error; defaults apply.
func loadSettings(path string) (*Settings, error) {
	settings := defaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}

	settings.applyEnv()

	if settings.WorkerConcurrency < 1 {
		settings.WorkerConcurrency = 1
	}
	return settings, nil
}

func (s *Settings) applyEnv() {
	envString(&s.ArticlesTable, "ARTICLES_TABLE")
	envString(&s.UploadsTable, "UPLOADS_TABLE")
	envString(&s.MetadataTable, "METADATA_TABLE")
	envString(&s.RunsTable, "GENERATION_RUNS_TABLE")
	envString(&s.UploadsBucket, "UPLOADS_BUCKET")
	envString(&s.UploadPrefix, "UPLOAD_PREFIX")
	envString(&s.GenerationQueueURL, "GENERATION_QUEUE_URL")
	envString(&s.ExifQueueURL, "EXIF_QUEUE_URL")
	envString(&s.GeminiSecretARN, "GEMINI_API_KEY_SECRET_ARN")
	envString(&s.GeminiModel, "GEMINI_MODEL")
	envFloat(&s.GeminiTemperature, "GEMINI_TEMPERATURE")
	envFloat(&s.GeminiTopP, "GEMINI_TOP_P")
	envInt(&s.GeminiTopK, "GEMINI_TOP_K")
	envFloat(&s.GeminiRequestTimeout, "GEMINI_REQUEST_TIMEOUT")
	envInt(&s.GeminiMaxRetries, "GEMINI_MAX_RETRIES")
	envString(&s.PlaceIndexName, "PLACE_INDEX_NAME")
	envString(&s.HTTPAddr, "HTTP_ADDR")
	envInt(&s.WorkerConcurrency, "WORKER_CONCURRENCY")
}

func envString(target *string, name string) {
	if value := os.Getenv(name); value != "" {
		*target = value
	}
}

func envFloat(target *float64, name string) {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func envInt(target *int, name string) {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

// RequestTimeout returns the model request timeout as a duration.
func (s *Settings) RequestTimeout() time.Duration {
	if s.GeminiRequestTimeout <= 0 {
		return 600 * time.Second
	}
	return time.Duration(s.GeminiRequestTimeout * float64(time.Second))
}

func (s *Settings) validateAPI() error {
	return requireSettings(map[string]string{
		"articles_table":        s.ArticlesTable,
		"uploads_table":         s.UploadsTable,
		"generation_runs_table": s.RunsTable,
		"uploads_bucket":        s.UploadsBucket,
		"generation_queue_url":  s.GenerationQueueURL,
		"exif_queue_url":        s.ExifQueueURL,
	})
}

func (s *Settings) validateWorker() error {
	return requireSettings(map[string]string{
		"articles_table":        s.ArticlesTable,
		"uploads_table":         s.UploadsTable,
		"metadata_table":        s.MetadataTable,
		"generation_runs_table": s.RunsTable,
		"generation_queue_url":  s.GenerationQueueURL,
	})
}

func (s *Settings) validateExifWorker() error {
	return requireSettings(map[string]string{
		"uploads_table":  s.UploadsTable,
		"metadata_table": s.MetadataTable,
		"exif_queue_url": s.ExifQueueURL,
	})
}

func requireSettings(required map[string]string) error {
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("missing required setting %s", name)
		}
	}
	return nil
}
