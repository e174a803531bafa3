// Package accesstoken caches the machine-to-machine bearer token obtained
// from the platform's client-credentials exchange.
package accesstoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"integrationgw/pkg/cache"
	"integrationgw/pkg/iobundle"
)

// ErrTokenMissing means the token endpoint answered 2xx without a usable
// access_token.
var ErrTokenMissing = errors.New("access_token is blank")

type TokenEndpointError struct {
	Status int
	URL    string
	Body   string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("status[%d] received from [%s]. Response body: %s", e.Status, e.URL, e.Body)
}

var ExchangeTimeouts = iobundle.Timeouts{Connect: 3 * time.Second, Response: 5 * time.Second}

type Credentials struct {
	ClientID     string
	ClientSecret string
	Audience     string
	TokenURL     string
}

type Options struct {
	Refresh time.Duration
	Metrics *cache.Metrics
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

// the cache holds exactly one value
const tokenKey = "access_token"

type Cache struct {
	bundle *iobundle.Bundle
	creds  Credentials
	tokens *cache.Loading[string]
	log    *zap.SugaredLogger
}

func New(bundle *iobundle.Bundle, creds Credentials, opts Options) *Cache {
	if opts.Refresh <= 0 {
		opts.Refresh = 6 * time.Hour
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	c := &Cache{bundle: bundle, creds: creds, log: opts.Log}
	c.tokens = cache.New[string](cache.Options{
		Name:              "access_token",
		MaxEntries:        1,
		RefreshAfterWrite: opts.Refresh,
		Metrics:           opts.Metrics,
		Log:               opts.Log,
		Now:               opts.Now,
	}, func(ctx context.Context, _ string) (string, error) {
		return c.Exchange(ctx)
	})
	return c
}

// Warm performs the first exchange eagerly so request paths never wait on it.
func (c *Cache) Warm(ctx context.Context) error {
	_, err := c.Token(ctx)
	return err
}

// Token returns the cached token, exchanging credentials on first use.
// Once warmed, reads past the refresh period return the current token while
// one replacement is fetched in the background.
func (c *Cache) Token(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx, tokenKey)
}

// AuthHeader returns the Authorization header value for platform calls.
func (c *Cache) AuthHeader(ctx context.Context) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

func (c *Cache) Close() { c.tokens.Close() }

type exchangeRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
}

// Exchange performs one uncached client-credentials exchange.
func (c *Cache) Exchange(ctx context.Context) (string, error) {
	body, err := json.Marshal(exchangeRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Audience:     c.creds.Audience,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}
	resp, err := c.bundle.Execute(ctx, iobundle.Request{
		Method:      http.MethodPost,
		URL:         c.creds.TokenURL,
		Body:        body,
		ContentType: "application/json",
		Timeouts:    ExchangeTimeouts,
	})
	if err != nil {
		return "", err
	}
	if resp.Status >= 300 {
		return "", &TokenEndpointError{Status: resp.Status, URL: c.creds.TokenURL, Body: resp.Text()}
	}
	var parsed struct {
		AccessToken any `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response from [%s]: %w", c.creds.TokenURL, err)
	}
	tok, _ := parsed.AccessToken.(string)
	if strings.TrimSpace(tok) == "" {
		return "", ErrTokenMissing
	}
	c.log.Infow("access token refreshed", "audience", c.creds.Audience)
	return tok, nil
}
