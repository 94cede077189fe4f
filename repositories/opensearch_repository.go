package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"vision-adapter-worker/domain"
)

type OpenSearchRepository struct {
	client *opensearch.Client
	index  string
}

func NewOpenSearchRepository(client *opensearch.Client, index string) *OpenSearchRepository {
	return &OpenSearchRepository{client: client, index: index}
}

// IndexAggregate writes the aggregate under the correlation id, so a
// redelivered message overwrites rather than duplicates.
func (r *OpenSearchRepository) IndexAggregate(ctx context.Context, resp domain.RecognitionResponse) error {
	agg := resp.Aggregate
	document := map[string]interface{}{
		"correlation_id":  resp.CorrelationID,
		"object_key":      resp.ObjectKey,
		"name":            agg.Name(),
		"brand":           agg.Brand,
		"machine_type":    agg.MachineType,
		"model":           agg.Model,
		"confidence":      agg.Confidence,
		"is_confident":    agg.IsConfident,
		"type_confidence": agg.TypeConfidence,
		"type_source":     agg.TypeSource,
		"provider":        resp.Provider.Name,
		"image_count":     resp.Metrics.ImageCount,
		"created_at":      time.Now().Format(time.RFC3339),
	}

	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      r.index,
		DocumentID: resp.CorrelationID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to execute index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}

	return nil
}
