package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/location"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "photolog",
	Short: "Photo-to-article generation service",
	Long:  `Photolog turns photo uploads into AI-drafted blog articles: an HTTP API for uploads and article requests, a generation worker that drives the model, and an EXIF worker that extracts capture metadata.`,
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, clients, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		if err := settings.validateAPI(); err != nil {
			return err
		}

		store := NewStore(clients.dynamo, settings)
		objects := NewObjectStore(clients.s3, settings.UploadsBucket)
		genQueue := NewQueue(clients.sqs, settings.GenerationQueueURL)
		exifQueue := NewQueue(clients.sqs, settings.ExifQueueURL)
		api := NewAPI(store, objects, genQueue, exifQueue, settings)

		server := &http.Server{Addr: settings.HTTPAddr, Handler: api.Router()}
		go func() {
			<-cmd.Context().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		log.Info().Str("addr", settings.HTTPAddr).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("running API server: %w", err)
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the article generation worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, clients, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		if err := settings.validateWorker(); err != nil {
			return err
		}

		store := NewStore(clients.dynamo, settings)
		objects := NewObjectStore(clients.s3, settings.UploadsBucket)
		queue := NewQueue(clients.sqs, settings.GenerationQueueURL)
		creds := NewCredentialProvider(clients.secrets, settings.GeminiSecretARN)
		model := NewGeminiClient(settings)
		generator := NewGenerator(store, objects, model, creds, settings)
		worker := NewWorker(queue, generator, settings.WorkerConcurrency)

		log.Info().Int("concurrency", settings.WorkerConcurrency).Str("model", settings.GeminiModel).Msg("starting generation worker")
		return worker.Run(cmd.Context())
	},
}

var exifWorkerCmd = &cobra.Command{
	Use:   "exif-worker",
	Short: "Run the photo metadata worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, clients, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		if err := settings.validateExifWorker(); err != nil {
			return err
		}

		store := NewStore(clients.dynamo, settings)
		objects := NewObjectStore(clients.s3, settings.UploadsBucket)
		queue := NewQueue(clients.sqs, settings.ExifQueueURL)
		geocoder := NewGeocoder(clients.location, settings.PlaceIndexName)
		worker := NewExifWorker(queue, store, objects, geocoder)

		log.Info().Str("place_index", settings.PlaceIndexName).Msg("starting exif worker")
		return worker.Run(cmd.Context())
	},
}

type awsClients struct {
	dynamo   *dynamodb.Client
	s3       *s3.Client
	sqs      *sqs.Client
	secrets  *secretsmanager.Client
	location *location.Client
}

func bootstrap(ctx context.Context) (*Settings, *awsClients, error) {
	settings, err := loadSettings(configFile)
	if err != nil {
		return nil, nil, err
	}

	if debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	clients := &awsClients{
		dynamo:   dynamodb.NewFromConfig(cfg),
		s3:       s3.NewFromConfig(cfg),
		sqs:      sqs.NewFromConfig(cfg),
		secrets:  secretsmanager.NewFromConfig(cfg),
		location: location.NewFromConfig(cfg),
	}
	return settings, clients, nil
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "photolog.yaml", "Path to settings file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(apiCmd, workerCmd, exifWorkerCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
