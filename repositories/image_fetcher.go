package repositories

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"vision-adapter-worker/domain"
)

const (
	fetchUserAgent   = "vision-adapter-worker/1.0"
	fetchMaxAttempts = 3
)

// HTTPImageFetcher downloads images for analysis.
type HTTPImageFetcher struct {
	client   *http.Client
	maxBytes int64
	backoff  time.Duration
}

func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	return &HTTPImageFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		backoff:  200 * time.Millisecond,
	}
}

// Fetch GETs ref. 408, 429 and 5xx responses are retried with a linearly
// growing delay; 403 fails immediately with domain.ErrForbidden.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, ref domain.ImageRef) (domain.FetchedImage, error) {
	for attempt := 1; ; attempt++ {
		img, retry, err := f.fetchOnce(ctx, ref)
		if err == nil {
			return img, nil
		}
		if !retry || attempt >= fetchMaxAttempts {
			return domain.FetchedImage{}, err
		}

		select {
		case <-ctx.Done():
			return domain.FetchedImage{}, ctx.Err()
		case <-time.After(f.backoff * time.Duration(attempt)):
		}
	}
}

func (f *HTTPImageFetcher) fetchOnce(ctx context.Context, ref domain.ImageRef) (domain.FetchedImage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(ref), nil)
	if err != nil {
		return domain.FetchedImage{}, false, fmt.Errorf("invalid image url %q: %w", ref, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.FetchedImage{}, false, fmt.Errorf("failed to fetch image %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return domain.FetchedImage{}, false, fmt.Errorf("fetching %s: %w", ref, domain.ErrForbidden)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.FetchedImage{}, isTransientStatus(resp.StatusCode),
			fmt.Errorf("failed to download image %s, status code: %d", ref, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	mediaType = strings.ToLower(mediaType)
	if !strings.HasPrefix(mediaType, "image/") && mediaType != "application/octet-stream" {
		return domain.FetchedImage{}, false, fmt.Errorf("content type %q of %s: %w", contentType, ref, domain.ErrNotAnImage)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return domain.FetchedImage{}, false, fmt.Errorf("%s is %d bytes: %w", ref, resp.ContentLength, domain.ErrImageTooLarge)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.FetchedImage{}, false, fmt.Errorf("failed to read image %s: %w", ref, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return domain.FetchedImage{}, false, fmt.Errorf("%s exceeds %d bytes: %w", ref, f.maxBytes, domain.ErrImageTooLarge)
	}
	if len(data) == 0 {
		return domain.FetchedImage{}, false, fmt.Errorf("%s: %w", ref, domain.ErrEmptyImage)
	}

	return domain.FetchedImage{Ref: ref, Bytes: data, ContentType: mediaType}, false, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
