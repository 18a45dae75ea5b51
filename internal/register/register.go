// Package register performs the one-shot mediator registration with the
// OpenHIM core at startup. Registration is best-effort: the proxy serves
// events whether or not the handshake succeeded.
package register

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const mediatorURN = "urn:mediator:openhim-fhir-proxy"

// Client talks to the OpenHIM core API.
type Client struct {
	apiURL   string
	user     string
	password string
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates a registration client. httpClient carries the
// process-wide timeout and TLS policy (OpenHIM cores commonly run with
// self-signed certs).
func NewClient(apiURL, user, password string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		user:     user,
		password: password,
		client:   httpClient,
		logger:   logger,
	}
}

// mediatorConfig is the registration document the core expects.
type mediatorConfig struct {
	URN         string     `json:"urn"`
	Version     string     `json:"version"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Endpoints   []endpoint `json:"endpoints"`
}

type endpoint struct {
	Name  string `json:"name"`
	Host  string `json:"host"`
	Path  string `json:"path"`
	Port  string `json:"port"`
	Type  string `json:"type"`
	Https bool   `json:"https,omitempty"`
}

// Register announces this mediator and its event endpoint to the core.
func (c *Client) Register(ctx context.Context, version, callbackURL string) error {
	ep, err := endpointFromURL(callbackURL)
	if err != nil {
		return fmt.Errorf("callback url: %w", err)
	}

	body, err := json.Marshal(mediatorConfig{
		URN:         mediatorURN,
		Version:     version,
		Name:        "FHIR Replication Proxy",
		Description: "Replicates encounter resources from the FHIR read proxy to the downstream store",
		Endpoints:   []endpoint{ep},
	})
	if err != nil {
		return fmt.Errorf("marshal mediator config: %w", err)
	}

	url := c.apiURL + "/mediators"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}

	c.logger.Info("mediator registered", zap.String("urn", mediatorURN), zap.String("endpoint", callbackURL))
	return nil
}
