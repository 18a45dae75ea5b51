// Package source fetches typed records from the upstream read proxy.
// No retry lives at this layer; the replicator decides which fetch
// failures matter and the executor only wraps deliveries.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
)

// Client reads single resources and search bundles from the upstream base URL.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a source client. httpClient carries the process-wide
// timeout and TLS policy.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

// FetchOne retrieves a single typed record by resource path (e.g.
// "Encounter/enc-1").
func (c *Client) FetchOne(ctx context.Context, path string) (domain.Record, error) {
	raw, err := c.get(ctx, path)
	if err != nil {
		return domain.Record{}, err
	}

	rec, err := domain.ParseRecord(raw)
	if err != nil {
		return domain.Record{}, &domain.FetchError{Path: path, Err: fmt.Errorf("decode resource: %w", err)}
	}
	return rec, nil
}

// bundle is the collection wrapper returned by searches.
type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// FetchCollection retrieves the ordered sequence of records matching a
// search query (e.g. "Observation?encounter=enc-1"). An empty bundle is a
// valid, empty result.
func (c *Client) FetchCollection(ctx context.Context, query string) ([]domain.Record, error) {
	raw, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}

	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &domain.FetchError{Path: query, Err: fmt.Errorf("decode bundle: %w", err)}
	}

	records := make([]domain.Record, 0, len(b.Entry))
	for _, entry := range b.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		rec, err := domain.ParseRecord(entry.Resource)
		if err != nil {
			c.logger.Warn("skipping undecodable bundle entry",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Path: path, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{Path: path, StatusCode: resp.StatusCode}
	}
	return body, nil
}
