package repositories

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"vision-adapter-worker/domain"
)

const (
	visionProviderName = "google-vision"
	visionAPIVersion   = "v1"
	visionMaxRetries   = 3
)

type annotateRequest struct {
	Requests []annotateImageRequest `json:"requests"`
}

type annotateImageRequest struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

// VisionClient calls the images:annotate REST endpoint of the vision provider.
type VisionClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	maxResults int
	backoff    time.Duration
}

func NewVisionClient(httpClient *http.Client, endpoint, apiKey string, maxResults int) *VisionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &VisionClient{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		maxResults: maxResults,
		backoff:    200 * time.Millisecond,
	}
}

// Analyze sends every image in one batch request and returns one raw
// response per image, in the order given.
func (c *VisionClient) Analyze(ctx context.Context, images []domain.FetchedImage, features []string) (domain.AnalysisResult, error) {
	var wireFeatures []annotateFeature
	for _, f := range features {
		if name, ok := domain.FeatureWireName(f); ok {
			wireFeatures = append(wireFeatures, annotateFeature{Type: name, MaxResults: c.maxResults})
		}
	}

	req := annotateRequest{Requests: make([]annotateImageRequest, 0, len(images))}
	for _, img := range images {
		req.Requests = append(req.Requests, annotateImageRequest{
			Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(img.Bytes)},
			Features: wireFeatures,
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("failed to marshal annotate request: %w", err)
	}

	start := time.Now()
	body, requestID, err := c.post(ctx, payload)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	latency := time.Since(start)

	responses := gjson.GetBytes(body, "responses").Array()
	if len(responses) != len(images) {
		log.Warn().Int("images", len(images)).Int("responses", len(responses)).Msg("vision response count mismatch")
	}

	results := make([]domain.ProviderResult, len(images))
	for i, img := range images {
		raw := json.RawMessage("{}")
		if i < len(responses) && responses[i].IsObject() {
			raw = json.RawMessage(responses[i].Raw)
		}
		results[i] = domain.ProviderResult{ImageRef: img.Ref, Raw: raw}
	}

	return domain.AnalysisResult{
		Provider: domain.AIProvider{
			Name:       visionProviderName,
			APIVersion: visionAPIVersion,
			Featureset: append([]string(nil), features...),
			MaxResults: c.maxResults,
		},
		Metrics: domain.InvocationMetrics{
			LatencyMs:         latency.Milliseconds(),
			ImageCount:        len(images),
			ProviderRequestID: requestID,
		},
		Results: results,
	}, nil
}

func (c *VisionClient) post(ctx context.Context, payload []byte) ([]byte, string, error) {
	url := c.endpoint + "/images:annotate"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, "", fmt.Errorf("failed to build annotate request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		// Header, not query: transport errors quote the URL.
		if c.apiKey != "" {
			req.Header.Set("X-Goog-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to call vision provider: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read vision response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, resp.Header.Get("X-Goog-Request-Id"), nil
		}
		if !isVisionRetryable(resp.StatusCode) || attempt >= visionMaxRetries {
			return nil, "", fmt.Errorf("vision provider returned %d: %s", resp.StatusCode, gjson.GetBytes(body, "error.message").String())
		}

		delay := c.backoff << (attempt + 1)
		log.Debug().Int("status", resp.StatusCode).Dur("delay", delay).Msg("retrying vision request")
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isVisionRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}
