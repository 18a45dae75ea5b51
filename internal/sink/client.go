// Package sink delivers records to the downstream write endpoint. One
// delivery is exactly one full-document upsert addressed by (type, id);
// retry policy belongs to the executor, not here.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juanjortega/openhimtoFhirproxy/internal/circuitbreaker"
	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
)

// Client upserts records under the sink base URL.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	logger  *zap.Logger
}

// NewClient creates a sink client. httpClient carries the process-wide
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

// WithBreaker guards deliveries with a per-resource-type circuit breaker.
func (c *Client) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

// Deliver upserts one record as PUT <base>/<type>/<id> with the payload
// forwarded verbatim. Any 2xx status is success; everything else is a
// DeliveryError. When the breaker for the record's type is open, Deliver
// fails fast without touching the network.
func (c *Client) Deliver(ctx context.Context, rec domain.Record) (int, error) {
	if rec.Type == "" || rec.ID == "" {
		return 0, &domain.DeliveryError{
			Resource: rec.Identity(),
			Err:      fmt.Errorf("record is missing type or id"),
		}
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(rec.Type); err != nil {
			return 0, &domain.DeliveryError{Resource: rec.Identity(), Err: err}
		}
	}

	status, err := c.put(ctx, rec)

	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(rec.Type)
		} else {
			c.breaker.RecordSuccess(rec.Type)
		}
	}
	return status, err
}

func (c *Client) put(ctx context.Context, rec domain.Record) (int, error) {
	url := c.baseURL + "/" + rec.Type + "/" + rec.ID

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(rec.Payload))
	if err != nil {
		return 0, &domain.DeliveryError{Resource: rec.Identity(), Err: err}
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("X-Attempt-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &domain.DeliveryError{Resource: rec.Identity(), Err: err}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &domain.DeliveryError{Resource: rec.Identity(), StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
