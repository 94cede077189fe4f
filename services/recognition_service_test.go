package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vision-adapter-worker/domain"
)

// Mocks
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) SendMessage(ctx context.Context, queueURL string, msg interface{}, attributes map[string]string) error {
	args := m.Called(ctx, queueURL, msg, attributes)
	return args.Error(0)
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, ref domain.ImageRef) (domain.FetchedImage, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.FetchedImage), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveURL(ctx context.Context, objectKey string) (domain.ImageRef, error) {
	args := m.Called(ctx, objectKey)
	return args.Get(0).(domain.ImageRef), args.Error(1)
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, images []domain.FetchedImage, features []string) (domain.AnalysisResult, error) {
	args := m.Called(ctx, images, features)
	return args.Get(0).(domain.AnalysisResult), args.Error(1)
}

type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Name() string  { return "gemini" }
func (m *MockReasoner) Model() string { return "gemini-2.0-flash" }

func (m *MockReasoner) Refine(ctx context.Context, agg domain.MachineAggregate) (domain.MachineAggregate, error) {
	args := m.Called(ctx, agg)
	return args.Get(0).(domain.MachineAggregate), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveRecognition(ctx context.Context, resp domain.RecognitionResponse) error {
	args := m.Called(ctx, resp)
	return args.Error(0)
}

type MockIndexer struct {
	mock.Mock
}

func (m *MockIndexer) IndexAggregate(ctx context.Context, resp domain.RecognitionResponse) error {
	args := m.Called(ctx, resp)
	return args.Error(0)
}

type MockStatus struct {
	mock.Mock
}

func (m *MockStatus) UpdateJobStatus(ctx context.Context, correlationID, status string) error {
	args := m.Called(ctx, correlationID, status)
	return args.Error(0)
}

type MockDedup struct {
	mock.Mock
}

func (m *MockDedup) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedup) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, bucket, key, data, contentType)
	return args.String(0), args.Error(1)
}

const caterpillarDoc = `{
	"logoAnnotations":[{"description":"Caterpillar","score":0.95}],
	"textAnnotations":[{"description":"Model 930G"}],
	"webDetection":{"webEntities":[{"description":"Wheel Loader","score":0.8}]}
}`

func sampleAnalysis() domain.AnalysisResult {
	return domain.AnalysisResult{
		Provider: domain.AIProvider{
			Name:       "google-vision",
			APIVersion: "v1",
			Featureset: domain.DefaultFeatures(),
			MaxResults: 5,
		},
		Metrics: domain.InvocationMetrics{LatencyMs: 120, ImageCount: 2},
		Results: []domain.ProviderResult{
			{ImageRef: "http://img/1.jpg", Raw: json.RawMessage(`{}`)},
			{ImageRef: "http://img/2.jpg", Raw: json.RawMessage(caterpillarDoc)},
		},
	}
}

type serviceMocks struct {
	publisher *MockPublisher
	fetcher   *MockFetcher
	resolver  *MockResolver
	analyzer  *MockAnalyzer
	store     *MockStore
	indexer   *MockIndexer
	status    *MockStatus
	dedup     *MockDedup
	archiver  *MockArchiver
}

func newServiceMocks() *serviceMocks {
	return &serviceMocks{
		publisher: new(MockPublisher),
		fetcher:   new(MockFetcher),
		resolver:  new(MockResolver),
		analyzer:  new(MockAnalyzer),
		store:     new(MockStore),
		indexer:   new(MockIndexer),
		status:    new(MockStatus),
		dedup:     new(MockDedup),
		archiver:  new(MockArchiver),
	}
}

func (m *serviceMocks) service(opts ...RecognitionOption) *RecognitionService {
	base := []RecognitionOption{
		WithPublisher(m.publisher, "output"),
		WithImageFetcher(m.fetcher),
		WithURLResolver(m.resolver),
		WithAnalyzer(m.analyzer),
		WithStore(m.store),
		WithIndexer(m.indexer),
		WithStatusTracker(m.status),
		WithDeduplicator(m.dedup, time.Hour),
		WithRawArchive(m.archiver, "raw-bucket"),
		WithShaper(NewResultShaper(testCatalog, 5)),
		WithAggregator(NewResultAggregator(0.5)),
	}
	return NewRecognitionService(append(base, opts...)...)
}

func (m *serviceMocks) expectImages() {
	m.fetcher.On("Fetch", mock.Anything, domain.ImageRef("http://img/1.jpg")).
		Return(domain.FetchedImage{Ref: "http://img/1.jpg", Bytes: []byte{1}}, nil)
	m.fetcher.On("Fetch", mock.Anything, domain.ImageRef("http://img/2.jpg")).
		Return(domain.FetchedImage{Ref: "http://img/2.jpg", Bytes: []byte{2}}, nil)
	m.analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(images []domain.FetchedImage) bool {
		return len(images) == 2 && images[0].Ref == "http://img/1.jpg" && images[1].Ref == "http://img/2.jpg"
	}), domain.DefaultFeatures()).Return(sampleAnalysis(), nil)
}

func twoImageRequest() domain.RecognitionRequestedMessage {
	return domain.RecognitionRequestedMessage{
		ObjectKey:     "uploads/930g",
		CorrelationID: " abc ",
		ImageURLs:     []string{"http://img/1.jpg", "  ", "http://img/2.jpg"},
	}
}

func TestProcessMessage_FullFlow(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()

	m.dedup.On("SetNX", mock.Anything, "recognition:abc:seen", mock.Anything, time.Hour).Return(true, nil)
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusPending).Return(nil).Once()
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusCompleted).Return(nil).Once()

	wantAttrs := map[string]string{
		domain.AttrCorrelationID: "abc",
		domain.AttrSchema:        domain.SchemaRecognitionCompleted,
		domain.AttrProducer:      domain.ProducerName,
	}
	m.publisher.On("SendMessage", mock.Anything, "output", mock.MatchedBy(func(msg domain.RecognitionCompletedMessage) bool {
		return msg.CorrelationID == "abc" &&
			msg.ObjectKey == "uploads/930g" &&
			msg.Provider.Name == "google-vision" &&
			msg.Aggregate.Brand == "Caterpillar" &&
			msg.Aggregate.Model == "930G" &&
			msg.Aggregate.MachineType == "Wheel Loader" &&
			msg.Name == "Caterpillar, Wheel Loader, 930G"
	}), wantAttrs).Return(nil)

	m.store.On("SaveRecognition", mock.Anything, mock.MatchedBy(func(r domain.RecognitionResponse) bool {
		return r.CorrelationID == "abc" && len(r.Compact) == 2 && len(r.Results) == 2
	})).Return(nil)
	m.indexer.On("IndexAggregate", mock.Anything, mock.Anything).Return(nil)
	m.archiver.On("UploadBytes", mock.Anything, "raw-bucket", mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "raw/abc/") && strings.HasSuffix(key, ".json")
	}), mock.Anything, "application/json").Return("s3://raw-bucket/raw/abc/x.json", nil)

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.NoError(t, err)
	m.publisher.AssertExpectations(t)
	m.status.AssertExpectations(t)
	m.store.AssertExpectations(t)
	m.indexer.AssertExpectations(t)
	m.archiver.AssertExpectations(t)
	m.dedup.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
}

func TestProcessMessage_AlreadySeen(t *testing.T) {
	m := newServiceMocks()
	m.dedup.On("SetNX", mock.Anything, "recognition:abc:seen", mock.Anything, time.Hour).Return(false, nil)

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.NoError(t, err)
	m.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	m.publisher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.status.AssertNotCalled(t, "UpdateJobStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_DedupErrorStillProcesses(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()
	m.dedup.On("SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	m.status.On("UpdateJobStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.publisher.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.store.On("SaveRecognition", mock.Anything, mock.Anything).Return(nil)
	m.indexer.On("IndexAggregate", mock.Anything, mock.Anything).Return(nil)
	m.archiver.On("UploadBytes", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil)

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.NoError(t, err)
	m.publisher.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestProcessMessage_NoImages(t *testing.T) {
	m := newServiceMocks()
	m.dedup.On("SetNX", mock.Anything, "recognition:abc:seen", mock.Anything, time.Hour).Return(true, nil)
	m.dedup.On("Del", mock.Anything, "recognition:abc:seen").Return(nil)
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusPending).Return(nil).Once()
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusFailed).Return(nil).Once()

	err := m.service().ProcessMessage(context.Background(), domain.RecognitionRequestedMessage{CorrelationID: "abc", ImageURLs: []string{" "}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoImages)
	assert.True(t, IsPermanent(err))
	m.dedup.AssertExpectations(t)
	m.status.AssertExpectations(t)
	m.publisher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_PublishFailureReleasesKey(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()
	m.dedup.On("SetNX", mock.Anything, "recognition:abc:seen", mock.Anything, time.Hour).Return(true, nil)
	m.dedup.On("Del", mock.Anything, "recognition:abc:seen").Return(errors.New("redis down"))
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusPending).Return(nil).Once()
	m.status.On("UpdateJobStatus", mock.Anything, "abc", domain.StatusFailed).Return(nil).Once()
	m.publisher.On("SendMessage", mock.Anything, "output", mock.Anything, mock.Anything).Return(errors.New("sqs throttled"))

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish recognition result")
	assert.False(t, IsPermanent(err))
	m.dedup.AssertExpectations(t)
	m.status.AssertExpectations(t)
	m.store.AssertNotCalled(t, "SaveRecognition", mock.Anything, mock.Anything)
	m.indexer.AssertNotCalled(t, "IndexAggregate", mock.Anything, mock.Anything)
}

func TestProcessMessage_ForbiddenImageIsPermanent(t *testing.T) {
	m := newServiceMocks()
	m.fetcher.On("Fetch", mock.Anything, domain.ImageRef("http://img/1.jpg")).
		Return(domain.FetchedImage{}, fmt.Errorf("GET http://img/1.jpg: %w", domain.ErrForbidden))
	m.fetcher.On("Fetch", mock.Anything, domain.ImageRef("http://img/2.jpg")).
		Return(domain.FetchedImage{Ref: "http://img/2.jpg", Bytes: []byte{2}}, nil)
	m.dedup.On("SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	m.dedup.On("Del", mock.Anything, mock.Anything).Return(nil)
	m.status.On("UpdateJobStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.True(t, IsPermanent(err))
	m.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
	m.status.AssertCalled(t, "UpdateJobStatus", mock.Anything, "abc", domain.StatusFailed)
}

func TestProcessMessage_SideEffectFailuresDoNotFail(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()
	m.dedup.On("SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	m.status.On("UpdateJobStatus", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("dynamo down"))
	m.publisher.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.store.On("SaveRecognition", mock.Anything, mock.Anything).Return(errors.New("db down"))
	m.indexer.On("IndexAggregate", mock.Anything, mock.Anything).Return(errors.New("search down"))
	m.archiver.On("UploadBytes", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("s3 down"))

	err := m.service().ProcessMessage(context.Background(), twoImageRequest())

	require.NoError(t, err)
	m.dedup.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	m.status.AssertCalled(t, "UpdateJobStatus", mock.Anything, "abc", domain.StatusCompleted)
}

func TestProcessMessage_GeneratesCorrelationID(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()

	var published domain.RecognitionCompletedMessage
	m.publisher.On("SendMessage", mock.Anything, "output", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(2).(domain.RecognitionCompletedMessage)
		}).Return(nil)

	svc := NewRecognitionService(
		WithPublisher(m.publisher, "output"),
		WithImageFetcher(m.fetcher),
		WithAnalyzer(m.analyzer),
		WithShaper(NewResultShaper(testCatalog, 5)),
	)
	msg := twoImageRequest()
	msg.CorrelationID = ""

	require.NoError(t, svc.ProcessMessage(context.Background(), msg))
	_, err := uuid.Parse(published.CorrelationID)
	assert.NoError(t, err)
}

func TestRecognize_ResolvesObjectKey(t *testing.T) {
	m := newServiceMocks()
	m.resolver.On("ResolveURL", mock.Anything, "uploads/930g").Return(domain.ImageRef("https://bucket/uploads/930g?sig"), nil)
	m.fetcher.On("Fetch", mock.Anything, domain.ImageRef("https://bucket/uploads/930g?sig")).
		Return(domain.FetchedImage{Ref: "https://bucket/uploads/930g?sig", Bytes: []byte{1}}, nil)

	analysis := domain.AnalysisResult{
		Provider: domain.AIProvider{Name: "google-vision"},
		Results:  []domain.ProviderResult{{ImageRef: "https://bucket/uploads/930g?sig", Raw: json.RawMessage(caterpillarDoc)}},
	}
	m.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(analysis, nil)

	resp, err := m.service().Recognize(context.Background(), "abc", domain.RecognitionRequestedMessage{ObjectKey: "uploads/930g"})

	require.NoError(t, err)
	assert.Equal(t, "abc", resp.CorrelationID)
	assert.Equal(t, "uploads/930g", resp.ObjectKey)
	require.Len(t, resp.Compact, 1)
	assert.Equal(t, domain.ImageRef("https://bucket/uploads/930g?sig"), resp.Compact[0].ImageRef)
	assert.Equal(t, "Caterpillar", resp.Aggregate.Brand)
	m.resolver.AssertExpectations(t)
}

func TestRecognize_ResolverFailure(t *testing.T) {
	m := newServiceMocks()
	m.resolver.On("ResolveURL", mock.Anything, "missing").Return(domain.ImageRef(""), errors.New("presign failed"))

	_, err := m.service().Recognize(context.Background(), "abc", domain.RecognitionRequestedMessage{ObjectKey: "missing"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve object key missing")
}

func TestRecognize_IncludeRaw(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()

	resp, err := m.service(WithIncludeRaw(false)).Recognize(context.Background(), "abc", twoImageRequest())
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Len(t, resp.Compact, 2)

	resp, err = m.service().Recognize(context.Background(), "abc", twoImageRequest())
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, int64(120), resp.Metrics.LatencyMs)
}

func TestRecognize_ConfiguredFeatures(t *testing.T) {
	m := newServiceMocks()
	m.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(domain.FetchedImage{Bytes: []byte{1}}, nil)
	m.analyzer.On("Analyze", mock.Anything, mock.Anything, []string{domain.FeatureLogoDetection, domain.FeatureObjectLocalization}).
		Return(domain.AnalysisResult{}, nil)

	_, err := m.service(WithFeatures([]string{"logodetection", "bogus", "ObjectLocalization"})).
		Recognize(context.Background(), "abc", twoImageRequest())

	require.NoError(t, err)
	m.analyzer.AssertExpectations(t)
}

func TestRecognize_ReasoningRefines(t *testing.T) {
	m := newServiceMocks()
	m.expectImages()
	reasoner := new(MockReasoner)
	weight := 10.5
	reasoner.On("Refine", mock.Anything, mock.MatchedBy(func(agg domain.MachineAggregate) bool {
		return agg.Brand == "Caterpillar"
	})).Return(domain.MachineAggregate{Brand: "Caterpillar", MachineType: "Wheel Loader", Model: "930G", Weight: &weight, Confidence: 0.9, IsConfident: true}, nil)

	resp, err := m.service(WithReasoner(reasoner)).Recognize(context.Background(), "abc", twoImageRequest())

	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider.ReasoningName)
	assert.Equal(t, "gemini-2.0-flash", resp.Provider.ReasoningModel)
	require.NotNil(t, resp.Aggregate.Weight)
	assert.Equal(t, 10.5, *resp.Aggregate.Weight)
	assert.Equal(t, 0.9, resp.Aggregate.Confidence)
}

func TestRecognize_ReasoningRefusalKeepsAggregate(t *testing.T) {
	for name, refineErr := range map[string]error{
		"refused": domain.ErrReasoningRefused,
		"failed":  errors.New("quota exceeded"),
	} {
		t.Run(name, func(t *testing.T) {
			m := newServiceMocks()
			m.expectImages()
			reasoner := new(MockReasoner)
			reasoner.On("Refine", mock.Anything, mock.Anything).
				Return(domain.MachineAggregate{TypeSource: "image is too blurry"}, refineErr)

			resp, err := m.service(WithReasoner(reasoner)).Recognize(context.Background(), "abc", twoImageRequest())

			require.NoError(t, err)
			assert.Equal(t, "Caterpillar", resp.Aggregate.Brand)
			assert.Equal(t, "930G", resp.Aggregate.Model)
			assert.Equal(t, domain.TypeSourceWebEntity, resp.Aggregate.TypeSource)
			assert.Equal(t, "gemini", resp.Provider.ReasoningName)
		})
	}
}

func TestRecognize_AnalyzerFailure(t *testing.T) {
	m := newServiceMocks()
	m.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(domain.FetchedImage{Bytes: []byte{1}}, nil)
	m.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.AnalysisResult{}, errors.New("vision provider returned 503: unavailable"))

	_, err := m.service().Recognize(context.Background(), "abc", twoImageRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "image analysis failed")
	assert.False(t, IsPermanent(err))
}

func TestRecognize_MissingDependencies(t *testing.T) {
	_, err := NewRecognitionService().Recognize(context.Background(), "abc", twoImageRequest())
	assert.Error(t, err)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wrap: %w", domain.ErrMalformedMessage), true},
		{fmt.Errorf("wrap: %w", domain.ErrNoImages), true},
		{fmt.Errorf("wrap: %w", domain.ErrNotAnImage), true},
		{fmt.Errorf("wrap: %w", domain.ErrImageTooLarge), true},
		{fmt.Errorf("wrap: %w", domain.ErrEmptyImage), true},
		{domain.ErrForbidden, true},
		{domain.ErrReasoningRefused, false},
		{errors.New("timeout"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPermanent(tt.err), fmt.Sprint(tt.err))
	}
}
