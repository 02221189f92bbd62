// Package audit mirrors admission events into Elasticsearch so staff can
// search a case's history.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "emergency-admission/internal/common/errors"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/models"
)

const DefaultIndex = "admission-events"

type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit-indexer"}),
	}
}

// Index writes event under its own id, so re-indexing the same event
// overwrites instead of duplicating.
func (i *Indexer) Index(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewEventIndexFailedError(err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewEventIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewEventIndexFailedError(fmt.Errorf("index %s: %s", i.index, readError(res.Body, res.Status())))
	}
	return nil
}

// History returns the most recent events for a submission, newest first.
func (i *Indexer) History(ctx context.Context, submissionID string, size int) ([]models.Event, error) {
	if size <= 0 {
		size = 50
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"subjectId": submissionID}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"occurredAt": map[string]interface{}{"order": "desc"}},
		},
	}
	body, _ := json.Marshal(query)

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewEventIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewEventIndexFailedError(fmt.Errorf("search %s: %s", i.index, readError(res.Body, res.Status())))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewEventIndexFailedError(fmt.Errorf("decode search response: %w", err))
	}

	events := make([]models.Event, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		events = append(events, h.Source)
	}
	return events, nil
}

func readError(body io.Reader, status string) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 1024))
	if len(raw) == 0 {
		return status
	}
	return fmt.Sprintf("%s %s", status, strings.TrimSpace(string(raw)))
}
