package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vision-adapter-worker/config"
	"vision-adapter-worker/repositories"
	"vision-adapter-worker/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	sqsClient := repositories.NewSQSClient(sqs.NewFromConfig(awsCfg))
	s3Repo := repositories.NewS3Repository(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointURL != ""
	}), cfg.ImagesBucket, cfg.PresignTTL)
	statusClient := repositories.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)

	catalog, err := repositories.LoadBrandCatalog(cfg.BrandCatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load brand catalog")
	}

	opts := []services.RecognitionOption{
		services.WithPublisher(sqsClient, cfg.OutputQueueURL),
		services.WithImageFetcher(repositories.NewHTTPImageFetcher(cfg.FetchTimeout, cfg.ImageMaxBytes)),
		services.WithURLResolver(s3Repo),
		services.WithAnalyzer(repositories.NewVisionClient(
			&http.Client{Timeout: 60 * time.Second}, cfg.VisionEndpoint, cfg.VisionAPIKey, cfg.MaxResults,
		)),
		services.WithStatusTracker(statusClient),
		services.WithShaper(services.NewResultShaper(catalog, cfg.MaxResults)),
		services.WithAggregator(services.NewResultAggregator(cfg.ConfidenceThreshold)),
		services.WithFeatures(cfg.VisionFeatures),
		services.WithIncludeRaw(cfg.IncludeRaw),
	}

	if cfg.RawArchiveBucket != "" {
		opts = append(opts, services.WithRawArchive(s3Repo, cfg.RawArchiveBucket))
	}

	if cfg.RedisHost != "" {
		opts = append(opts, services.WithDeduplicator(repositories.NewRedisClient(cfg.RedisHost, cfg.RedisPort), cfg.DedupTTL))
	}

	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		opts = append(opts, services.WithStore(repositories.NewDBRepository(db, cfg.DBBatchSize)))
	}

	if cfg.OpenSearchURL != "" {
		osClient, err := opensearch.NewClient(opensearch.Config{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			Addresses: []string{cfg.OpenSearchURL},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("error creating OpenSearch client")
		}
		opts = append(opts, services.WithIndexer(repositories.NewOpenSearchRepository(osClient, cfg.OpenSearchIndex)))
	}

	if cfg.EnableReasoning {
		reasoner, err := repositories.NewGeminiReasoner(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiPromptPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create reasoner")
		}
		opts = append(opts, services.WithReasoner(reasoner))
	}

	recognitionService := services.NewRecognitionService(opts...)

	consumer := services.NewConsumer(sqsClient, recognitionService, cfg.InputQueueURL,
		services.WithNumWorkers(cfg.NumWorkers),
	)

	log.Info().
		Str("input_queue", cfg.InputQueueURL).
		Str("output_queue", cfg.OutputQueueURL).
		Bool("reasoning", cfg.EnableReasoning).
		Msg("vision adapter worker starting")

	consumer.Run(ctx)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// loadAWSConfig points every client at AWS_ENDPOINT_URL when it is set, which
// is how the worker runs against localstack.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.AWSRegion),
	}

	if cfg.AWSEndpointURL != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:           cfg.AWSEndpointURL,
				SigningRegion: cfg.AWSRegion,
			}, nil
		})
		opts = append(opts, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	return awsConfig.LoadDefaultConfig(ctx, opts...)
}
