package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vision-adapter-worker/domain"
)

const fetchConcurrency = 8

// Consumer-side interfaces
type Publisher interface {
	SendMessage(ctx context.Context, queueURL string, msg interface{}, attributes map[string]string) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, ref domain.ImageRef) (domain.FetchedImage, error)
}

type URLResolver interface {
	ResolveURL(ctx context.Context, objectKey string) (domain.ImageRef, error)
}

type ImageAnalyzer interface {
	Analyze(ctx context.Context, images []domain.FetchedImage, features []string) (domain.AnalysisResult, error)
}

type Reasoner interface {
	Name() string
	Model() string
	Refine(ctx context.Context, agg domain.MachineAggregate) (domain.MachineAggregate, error)
}

type RecognitionStore interface {
	SaveRecognition(ctx context.Context, resp domain.RecognitionResponse) error
}

type SearchIndexer interface {
	IndexAggregate(ctx context.Context, resp domain.RecognitionResponse) error
}

type StatusTracker interface {
	UpdateJobStatus(ctx context.Context, correlationID, status string) error
}

type Deduplicator interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type RawArchiver interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

type RecognitionService struct {
	publisher  Publisher
	fetcher    ImageFetcher
	resolver   URLResolver
	analyzer   ImageAnalyzer
	reasoner   Reasoner
	store      RecognitionStore
	indexer    SearchIndexer
	status     StatusTracker
	dedup      Deduplicator
	archiver   RawArchiver
	shaper     *ResultShaper
	aggregator *ResultAggregator

	outputQueueURL string
	rawBucket      string
	features       []string
	includeRaw     bool
	dedupTTL       time.Duration
}

// Functional Options Pattern
type RecognitionOption func(*RecognitionService)

func WithPublisher(p Publisher, outputQueueURL string) RecognitionOption {
	return func(s *RecognitionService) {
		s.publisher = p
		s.outputQueueURL = outputQueueURL
	}
}

func WithImageFetcher(f ImageFetcher) RecognitionOption {
	return func(s *RecognitionService) { s.fetcher = f }
}

func WithURLResolver(r URLResolver) RecognitionOption {
	return func(s *RecognitionService) { s.resolver = r }
}

func WithAnalyzer(a ImageAnalyzer) RecognitionOption {
	return func(s *RecognitionService) { s.analyzer = a }
}

func WithReasoner(r Reasoner) RecognitionOption {
	return func(s *RecognitionService) { s.reasoner = r }
}

func WithStore(st RecognitionStore) RecognitionOption {
	return func(s *RecognitionService) { s.store = st }
}

func WithIndexer(i SearchIndexer) RecognitionOption {
	return func(s *RecognitionService) { s.indexer = i }
}

func WithStatusTracker(t StatusTracker) RecognitionOption {
	return func(s *RecognitionService) { s.status = t }
}

func WithDeduplicator(d Deduplicator, ttl time.Duration) RecognitionOption {
	return func(s *RecognitionService) {
		s.dedup = d
		s.dedupTTL = ttl
	}
}

func WithRawArchive(a RawArchiver, bucket string) RecognitionOption {
	return func(s *RecognitionService) {
		s.archiver = a
		s.rawBucket = bucket
	}
}

func WithShaper(sh *ResultShaper) RecognitionOption {
	return func(s *RecognitionService) { s.shaper = sh }
}

func WithAggregator(a *ResultAggregator) RecognitionOption {
	return func(s *RecognitionService) { s.aggregator = a }
}

// WithFeatures sets the requested provider features; see SelectFeatures.
func WithFeatures(configured []string) RecognitionOption {
	return func(s *RecognitionService) { s.features = SelectFeatures(configured) }
}

func WithIncludeRaw(include bool) RecognitionOption {
	return func(s *RecognitionService) { s.includeRaw = include }
}

func NewRecognitionService(opts ...RecognitionOption) *RecognitionService {
	s := &RecognitionService{
		aggregator: NewResultAggregator(DefaultConfidenceThreshold),
		features:   SelectFeatures(nil),
		includeRaw: true,
		dedupTTL:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessMessage runs one recognition request end to end and publishes the
// result. Returned errors mean the request was not published.
func (s *RecognitionService) ProcessMessage(ctx context.Context, msg domain.RecognitionRequestedMessage) error {
	correlationID := strings.TrimSpace(msg.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := log.With().Str("correlation_id", correlationID).Logger()

	seenKey := fmt.Sprintf(domain.RedisKeySeen, correlationID)
	if s.dedup != nil {
		first, err := s.dedup.SetNX(ctx, seenKey, time.Now().Unix(), s.dedupTTL)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("dedup check failed, processing anyway")
		case !first:
			logger.Info().Msg("recognition already handled, skipping")
			return nil
		}
	}

	s.updateStatus(ctx, correlationID, domain.StatusPending)

	resp, err := s.Recognize(ctx, correlationID, msg)
	if err == nil {
		err = s.publish(ctx, resp)
	}
	if err != nil {
		s.updateStatus(ctx, correlationID, domain.StatusFailed)
		if s.dedup != nil {
			if delErr := s.dedup.Del(ctx, seenKey); delErr != nil {
				logger.Warn().Err(delErr).Msg("failed to release dedup key")
			}
		}
		return fmt.Errorf("recognition %s failed: %w", correlationID, err)
	}

	s.persist(ctx, resp)
	s.updateStatus(ctx, correlationID, domain.StatusCompleted)

	logger.Info().
		Str("brand", resp.Aggregate.Brand).
		Str("machine_type", resp.Aggregate.MachineType).
		Str("model", resp.Aggregate.Model).
		Float64("confidence", resp.Aggregate.Confidence).
		Int("images", len(resp.Compact)).
		Msg("recognition completed")
	return nil
}

// Recognize fetches, analyzes, shapes and aggregates the images of msg.
func (s *RecognitionService) Recognize(ctx context.Context, correlationID string, msg domain.RecognitionRequestedMessage) (domain.RecognitionResponse, error) {
	if s.fetcher == nil || s.analyzer == nil || s.shaper == nil {
		return domain.RecognitionResponse{}, fmt.Errorf("recognition service is missing a fetcher, analyzer or shaper")
	}

	refs, err := s.imageRefs(ctx, msg)
	if err != nil {
		return domain.RecognitionResponse{}, err
	}

	images, err := s.fetchAll(ctx, refs)
	if err != nil {
		return domain.RecognitionResponse{}, err
	}

	analysis, err := s.analyzer.Analyze(ctx, images, s.features)
	if err != nil {
		return domain.RecognitionResponse{}, fmt.Errorf("image analysis failed: %w", err)
	}

	compact := s.shapeAll(analysis.Results)
	aggregate := s.aggregator.Aggregate(compact)

	provider := analysis.Provider
	if s.reasoner != nil {
		provider.ReasoningName = s.reasoner.Name()
		provider.ReasoningModel = s.reasoner.Model()
		aggregate = s.refine(ctx, correlationID, aggregate)
	}

	resp := domain.RecognitionResponse{
		CorrelationID: correlationID,
		ObjectKey:     msg.ObjectKey,
		Provider:      provider,
		Metrics:       analysis.Metrics,
		Compact:       compact,
		Aggregate:     aggregate,
	}
	if s.includeRaw {
		resp.Results = analysis.Results
	}
	return resp, nil
}

func (s *RecognitionService) imageRefs(ctx context.Context, msg domain.RecognitionRequestedMessage) ([]domain.ImageRef, error) {
	var refs []domain.ImageRef
	for _, u := range msg.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			refs = append(refs, domain.ImageRef(u))
		}
	}
	if len(refs) > 0 {
		return refs, nil
	}

	if strings.TrimSpace(msg.ObjectKey) == "" || s.resolver == nil {
		return nil, domain.ErrNoImages
	}
	ref, err := s.resolver.ResolveURL(ctx, msg.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object key %s: %w", msg.ObjectKey, err)
	}
	return []domain.ImageRef{ref}, nil
}

// fetchAll downloads refs concurrently; images[i] belongs to refs[i].
func (s *RecognitionService) fetchAll(ctx context.Context, refs []domain.ImageRef) ([]domain.FetchedImage, error) {
	images := make([]domain.FetchedImage, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			img, err := s.fetcher.Fetch(gctx, ref)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("image fetch failed: %w", err)
	}
	return images, nil
}

// shapeAll shapes every provider result in parallel. The output keeps the
// provider order, which the aggregator depends on.
func (s *RecognitionService) shapeAll(results []domain.ProviderResult) []domain.ShapedResult {
	compact := make([]domain.ShapedResult, len(results))
	var g errgroup.Group
	for i, r := range results {
		g.Go(func() error {
			compact[i] = s.shaper.Shape(r.Raw, r.ImageRef)
			return nil
		})
	}
	_ = g.Wait()
	return compact
}

// refine keeps agg when reasoning fails or refuses.
func (s *RecognitionService) refine(ctx context.Context, correlationID string, agg domain.MachineAggregate) domain.MachineAggregate {
	refined, err := s.reasoner.Refine(ctx, agg)
	switch {
	case errors.Is(err, domain.ErrReasoningRefused):
		log.Info().Str("correlation_id", correlationID).Str("reason", refined.TypeSource).Msg("reasoning refused, keeping vision aggregate")
		return agg
	case err != nil:
		log.Warn().Err(err).Str("correlation_id", correlationID).Msg("reasoning failed, keeping vision aggregate")
		return agg
	}
	return refined
}

func (s *RecognitionService) publish(ctx context.Context, resp domain.RecognitionResponse) error {
	if s.publisher == nil {
		return fmt.Errorf("no publisher configured")
	}
	out := domain.RecognitionCompletedMessage{
		CorrelationID: resp.CorrelationID,
		ObjectKey:     resp.ObjectKey,
		Provider:      resp.Provider,
		Aggregate:     resp.Aggregate,
		Name:          resp.Aggregate.Name(),
	}
	attrs := map[string]string{
		domain.AttrCorrelationID: resp.CorrelationID,
		domain.AttrSchema:        domain.SchemaRecognitionCompleted,
		domain.AttrProducer:      domain.ProducerName,
	}
	if err := s.publisher.SendMessage(ctx, s.outputQueueURL, out, attrs); err != nil {
		return fmt.Errorf("failed to publish recognition result: %w", err)
	}
	return nil
}

// persist writes the side records of a published result. Failures are logged
// only: the result is already out and a redelivery would publish it twice.
func (s *RecognitionService) persist(ctx context.Context, resp domain.RecognitionResponse) {
	logger := log.With().Str("correlation_id", resp.CorrelationID).Logger()

	if s.store != nil {
		if err := s.store.SaveRecognition(ctx, resp); err != nil {
			logger.Error().Err(err).Msg("failed to store recognition")
		}
	}
	if s.indexer != nil {
		if err := s.indexer.IndexAggregate(ctx, resp); err != nil {
			logger.Error().Err(err).Msg("failed to index recognition")
		}
	}
	if s.archiver != nil && s.rawBucket != "" && s.includeRaw {
		data, err := json.Marshal(resp.Results)
		if err != nil {
			logger.Error().Err(err).Msg("failed to marshal raw results")
			return
		}
		key := fmt.Sprintf("raw/%s/%s.json", resp.CorrelationID, uuid.NewString())
		path, err := s.archiver.UploadBytes(ctx, s.rawBucket, key, data, "application/json")
		if err != nil {
			logger.Error().Err(err).Msg("failed to archive raw results")
			return
		}
		logger.Debug().Str("path", path).Msg("raw results archived")
	}
}

func (s *RecognitionService) updateStatus(ctx context.Context, correlationID, status string) {
	if s.status == nil {
		return
	}
	if err := s.status.UpdateJobStatus(ctx, correlationID, status); err != nil {
		log.Warn().Err(err).Str("correlation_id", correlationID).Str("status", status).Msg("failed to update job status")
	}
}

// IsPermanent reports whether retrying the request cannot succeed.
func IsPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrMalformedMessage,
		domain.ErrNoImages,
		domain.ErrForbidden,
		domain.ErrNotAnImage,
		domain.ErrImageTooLarge,
		domain.ErrEmptyImage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
