// Package shopify is a minimal Admin GraphQL client that pages through the
// products, orders and policies of one store.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

const maxErrorBody = 512

// Client talks to one store's Admin GraphQL endpoint.
type Client struct {
	shopDomain  string
	accessToken string
	endpoint    string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint overrides the GraphQL URL, for tests against httptest servers.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// NewClient creates a client for shopDomain. The domain may be given with or
// without scheme and trailing slash.
func NewClient(shopDomain, accessToken string, cfg config.ShopifyConfig, opts ...Option) *Client {
	shopDomain = NormalizeDomain(shopDomain)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		shopDomain:  shopDomain,
		accessToken: accessToken,
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, cfg.APIVersion),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      slog.Default().With("component", "shopify-client", "shop", shopDomain),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeDomain strips scheme and trailing slashes from a shop domain.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimRight(domain, "/")
}

// ShopDomain returns the normalised domain the client was built for.
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError is one entry of the top-level "errors" array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// ThrottledError reports that Shopify refused the request for rate-limit
// reasons. It unwraps to apperrors.ErrRateLimited.
type ThrottledError struct {
	StatusCode int
	Message    string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("shopify throttled request (status %d): %s", e.StatusCode, e.Message)
}

func (e *ThrottledError) Unwrap() error {
	return apperrors.ErrRateLimited
}

// Execute runs a GraphQL document and decodes "data" into out.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshaling graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode != http.StatusOK && isThrottleMessage(string(body))) {
		return &ThrottledError{StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shopify API error: status %d, body: %s", resp.StatusCode, truncate(string(body)))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		messages := make([]string, len(gqlResp.Errors))
		throttled := false
		for i, e := range gqlResp.Errors {
			messages[i] = e.Message
			if e.Extensions.Code == "THROTTLED" || isThrottleMessage(e.Message) {
				throttled = true
			}
		}
		joined := strings.Join(messages, "; ")
		if throttled {
			return &ThrottledError{StatusCode: resp.StatusCode, Message: joined}
		}
		return fmt.Errorf("graphql errors: %s", joined)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("decoding graphql data: %w", err)
	}
	return nil
}

// IsThrottled reports whether err is a throttling response.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

func isThrottleMessage(s string) bool {
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "Throttled")
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
