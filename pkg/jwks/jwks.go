// Package jwks caches the platform's token signing keys, indexed by key id.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"integrationgw/pkg/cache"
	"integrationgw/pkg/iobundle"
)

// ErrKeyNotFound means the discovery document was fetched but holds no key
// with the requested kid.
var ErrKeyNotFound = errors.New("jwk not found for kid")

// UpstreamUnavailableError reports that the discovery document could not be
// fetched or parsed.
type UpstreamUnavailableError struct {
	URL    string
	Status int // zero when no response was received
	Err    error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("jwks: status[%d] received from [%s]", e.Status, e.URL)
	}
	return fmt.Sprintf("jwks: fetch [%s]: %v", e.URL, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

var FetchTimeouts = iobundle.Timeouts{Connect: 2500 * time.Millisecond, Response: 5 * time.Second}

type Options struct {
	Scheme  string // http or https
	Domain  string
	Refresh time.Duration
	MaxKeys int

	Metrics *cache.Metrics
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

type Cache struct {
	bundle *iobundle.Bundle
	url    string
	keys   *cache.Loading[jwk.Key]
	sets   singleflight.Group
	log    *zap.SugaredLogger
}

func New(bundle *iobundle.Bundle, opts Options) *Cache {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 24 * time.Hour
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 8
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	c := &Cache{
		bundle: bundle,
		url:    fmt.Sprintf("%s://%s/.well-known/jwks.json", opts.Scheme, opts.Domain),
		log:    opts.Log,
	}
	c.keys = cache.New[jwk.Key](cache.Options{
		Name:              "jwks",
		MaxEntries:        opts.MaxKeys,
		RefreshAfterWrite: opts.Refresh,
		// A kid missing from a refreshed set has been retired.
		DropOnError:       func(err error) bool { return errors.Is(err, ErrKeyNotFound) },
		Metrics:           opts.Metrics,
		Log:               opts.Log,
		Now:               opts.Now,
	}, c.loadKey)
	return c
}

// URL is the discovery endpoint this cache reads from.
func (c *Cache) URL() string { return c.url }

// Key returns the signing key for kid.
func (c *Cache) Key(ctx context.Context, kid string) (jwk.Key, error) {
	return c.keys.Get(ctx, kid)
}

func (c *Cache) KeyAsync(kid string) *iobundle.Future[jwk.Key] {
	return c.keys.GetAsync(kid)
}

func (c *Cache) Close() { c.keys.Close() }

func (c *Cache) loadKey(ctx context.Context, kid string) (jwk.Key, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	set, err := c.FetchSet(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// FetchSet downloads the discovery document. Lookups of different kids that
// miss at the same time share one download.
func (c *Cache) FetchSet(ctx context.Context) (jwk.Set, error) {
	v, err, _ := c.sets.Do("set", func() (any, error) {
		resp, err := c.bundle.Execute(ctx, iobundle.Request{
			Method:   http.MethodGet,
			URL:      c.url,
			Timeouts: FetchTimeouts,
		})
		if err != nil {
			return nil, &UpstreamUnavailableError{URL: c.url, Err: err}
		}
		if resp.Status >= 300 {
			return nil, &UpstreamUnavailableError{URL: c.url, Status: resp.Status, Err: errors.New(resp.Text())}
		}
		set, err := jwk.Parse(resp.Body)
		if err != nil {
			return nil, &UpstreamUnavailableError{URL: c.url, Err: fmt.Errorf("parse jwks: %w", err)}
		}
		c.log.Infow("jwks loaded", "url", c.url, "keys", set.Len())
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}
