// Package integration reads and updates a tenant's integration record
// through the platform's tenant API and runs GraphQL calls on the tenant's
// behalf.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"integrationgw/pkg/cache"
	"integrationgw/pkg/iobundle"
)

// ErrNoIntegration is returned by UpdateIntegrationConfig when the tenant has
// no integration record to update.
var ErrNoIntegration = errors.New("tenant does not have an integration")

// UpstreamError is a non-2xx answer from the tenant integration API.
type UpstreamError struct {
	Status int
	URI    string
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("status[%d] received from [%s]. Response: %s", e.Status, e.URI, e.Body)
}

// GraphQLTransportError is a non-2xx answer from the tenant GraphQL endpoint.
// Query errors inside a 2xx response are reported in GraphQLResponse.Errors.
type GraphQLTransportError struct {
	Status      int
	TenantAlias string
	Body        string
}

func (e *GraphQLTransportError) Error() string {
	return fmt.Sprintf("Status[%d] received for GraphQL request for tenant[%s]. Body: %s", e.Status, e.TenantAlias, e.Body)
}

type GraphQLResponse struct {
	Data   map[string]any `json:"data"`
	Errors []any          `json:"errors"`
}

// ConfigChecker vets a merged config before it is written back.
type ConfigChecker interface {
	CheckConfig(ctx context.Context, alias string, config map[string]any) error
}

// TokenSource supplies the Authorization header for platform calls.
type TokenSource interface {
	AuthHeader(ctx context.Context) (string, error)
}

type Options struct {
	Scheme   string
	Domain   string
	ClientID string

	TTL        time.Duration
	MaxEntries int
	Timeouts   iobundle.Timeouts
	// Checker, when set, can refuse an update before the PUT is sent.
	Checker ConfigChecker

	Metrics *cache.Metrics
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

type Client struct {
	bundle  *iobundle.Bundle
	tokens  TokenSource
	opts    Options
	records *cache.Loading[Record]
	log     *zap.SugaredLogger
}

func New(bundle *iobundle.Bundle, tokens TokenSource, opts Options) *Client {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 16
	}
	if opts.Timeouts == (iobundle.Timeouts{}) {
		opts.Timeouts = iobundle.DefaultTimeouts
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	c := &Client{bundle: bundle, tokens: tokens, opts: opts, log: opts.Log}
	// A nil Record is cached too: "not configured" is a valid state.
	c.records = cache.New[Record](cache.Options{
		Name:             "integration",
		MaxEntries:       opts.MaxEntries,
		ExpireAfterWrite: opts.TTL,
		Metrics:          opts.Metrics,
		Log:              opts.Log,
		Now:              opts.Now,
	}, func(ctx context.Context, alias string) (Record, error) {
		rec, _, err := c.LoadIntegration(ctx, alias)
		return rec, err
	})
	return c
}

func (c *Client) Close() { c.records.Close() }

func (c *Client) tenantURL(alias, suffix string) string {
	return fmt.Sprintf("%s://%s/api/v1/%s/%s", c.opts.Scheme, c.opts.Domain, url.PathEscape(alias), suffix)
}

func (c *Client) call(ctx context.Context, method, target string, body []byte) (*iobundle.Response, error) {
	auth, err := c.tokens.AuthHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	req := iobundle.Request{
		Method:   method,
		URL:      target,
		Header:   http.Header{"Authorization": []string{auth}},
		Body:     body,
		Timeouts: c.opts.Timeouts,
	}
	if body != nil {
		req.ContentType = "application/json"
	}
	return c.bundle.Execute(ctx, req)
}

// LoadIntegration fetches the tenant's record, bypassing the cache. A 404 is
// reported as (nil, false, nil).
func (c *Client) LoadIntegration(ctx context.Context, alias string) (Record, bool, error) {
	target := c.tenantURL(alias, "integration/"+url.PathEscape(c.opts.ClientID))
	resp, err := c.call(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	switch {
	case resp.Status < 300:
		rec, err := decodeRecord(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("decode integration from [%s]: %w", target, err)
		}
		return rec, rec != nil, nil
	case resp.Status == http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, &UpstreamError{Status: resp.Status, URI: target, Body: resp.Text()}
	}
}

// CachedIntegration serves the record from the integration cache. Concurrent
// misses for one tenant share a single fetch.
func (c *Client) CachedIntegration(ctx context.Context, alias string) (Record, error) {
	return c.records.Get(ctx, alias)
}

func (c *Client) CachedIntegrationAsync(alias string) *iobundle.Future[Record] {
	return c.records.GetAsync(alias)
}

func (c *Client) CachedIntegrationConfig(ctx context.Context, alias string) (map[string]any, error) {
	rec, err := c.CachedIntegration(ctx, alias)
	if err != nil {
		return nil, err
	}
	return ConfigView(rec), nil
}

func (c *Client) LoadIntegrationConfig(ctx context.Context, alias string) (map[string]any, error) {
	rec, _, err := c.LoadIntegration(ctx, alias)
	if err != nil {
		return nil, err
	}
	return ConfigView(rec), nil
}

// InvalidateIntegration drops the cached record for alias.
func (c *Client) InvalidateIntegration(alias string) { c.records.Invalidate(alias) }

// UpdateIntegrationConfig merges partial into the tenant's current config and
// writes the whole record back. The cache entry is dropped only after the
// write succeeds.
func (c *Client) UpdateIntegrationConfig(ctx context.Context, alias string, partial map[string]any) (Record, error) {
	rec, ok, err := c.LoadIntegration(ctx, alias)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tenant[%s]", ErrNoIntegration, alias)
	}
	updated := make(Record, len(rec))
	for k, v := range rec {
		updated[k] = v
	}
	merged := MergeConfig(rec.Config(), partial)
	if c.opts.Checker != nil {
		if err := c.opts.Checker.CheckConfig(ctx, alias, merged); err != nil {
			return nil, err
		}
	}
	updated["config"] = merged

	body, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("encode integration: %w", err)
	}
	target := c.tenantURL(alias, "integration")
	resp, err := c.call(ctx, http.MethodPut, target, body)
	if err != nil {
		return nil, err
	}
	if resp.Status > 299 {
		return nil, &UpstreamError{Status: resp.Status, URI: target, Body: resp.Text()}
	}
	c.InvalidateIntegration(alias)
	c.log.Infow("integration config updated", "tenant", alias)

	if len(strings.TrimSpace(resp.Text())) == 0 {
		return updated, nil
	}
	out, err := decodeRecord(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode updated integration: %w", err)
	}
	return out, nil
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQL posts a query to the tenant's GraphQL endpoint. A 2xx answer is
// returned even when it carries errors.
func (c *Client) GraphQL(ctx context.Context, alias, query, operationName string, variables map[string]any) (*GraphQLResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("graphql: query is blank")
	}
	body, err := json.Marshal(graphQLRequest{Query: query, OperationName: operationName, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}
	resp, err := c.call(ctx, http.MethodPost, c.tenantURL(alias, "graphql"), body)
	if err != nil {
		return nil, err
	}
	if resp.Status > 299 {
		return nil, &GraphQLTransportError{Status: resp.Status, TenantAlias: alias, Body: resp.Text()}
	}
	var out GraphQLResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode graphql response for tenant[%s]: %w", alias, err)
	}
	return &out, nil
}

// QueryCachedConfig evaluates a JMESPath expression against the cached config
// view. A tenant without an enabled integration yields nil.
func (c *Client) QueryCachedConfig(ctx context.Context, alias, expression string) (any, error) {
	cfg, err := c.CachedIntegrationConfig(ctx, alias)
	if err != nil || cfg == nil {
		return nil, err
	}
	// jmespath compares float64 numbers, not json.Number.
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	v, err := jmespath.Search(expression, plain)
	if err != nil {
		return nil, fmt.Errorf("jmespath %q: %w", expression, err)
	}
	return v, nil
}
