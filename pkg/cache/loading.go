// Package cache provides a bounded, string-keyed loading cache with coalesced
// loads, write expiry and refresh-ahead.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"integrationgw/pkg/iobundle"
)

// LoadFunc fetches the value for key. It runs at most once at a time per key.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

type Options struct {
	Name       string
	MaxEntries int
	// ExpireAfterWrite drops entries older than this; zero keeps them forever.
	ExpireAfterWrite time.Duration
	// RefreshAfterWrite serves entries older than this while one reload runs
	// in the background; zero disables refresh.
	RefreshAfterWrite time.Duration
	// DropOnError reports whether a failed background refresh means the value
	// is gone. Matching failures remove the entry; others keep it stale.
	DropOnError func(error) bool

	Metrics *Metrics
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

const defaultMaxEntries = 128

type entry[V any] struct {
	val      V
	loadedAt time.Time
}

// keyState tracks loads in flight for one key. It exists only while a load
// is running, so Invalidate of one key never touches another key's loads.
type keyState struct {
	epoch uint64
	loads int
}

type Loading[V any] struct {
	opts Options
	load LoadFunc[V]

	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group

	mu         sync.Mutex
	inflight   map[string]*keyState
	refreshing map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func New[V any](opts Options, load LoadFunc[V]) *Loading[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	entries, _ := lru.New[string, entry[V]](opts.MaxEntries)
	ctx, cancel := context.WithCancel(context.Background())
	return &Loading[V]{
		opts:       opts,
		load:       load,
		entries:    entries,
		inflight:   map[string]*keyState{},
		refreshing: map[string]struct{}{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Get returns the cached value for key, loading it if absent or expired.
func (c *Loading[V]) Get(ctx context.Context, key string) (V, error) {
	return c.GetAsync(key).Await(ctx)
}

// GetAsync returns the value for key as a future. Concurrent callers for a
// key that is being loaded share the same load.
func (c *Loading[V]) GetAsync(key string) *iobundle.Future[V] {
	if e, ok := c.entries.Get(key); ok {
		age := c.opts.Now().Sub(e.loadedAt)
		switch {
		case c.opts.ExpireAfterWrite > 0 && age >= c.opts.ExpireAfterWrite:
			c.entries.Remove(key)
		case c.opts.RefreshAfterWrite > 0 && age >= c.opts.RefreshAfterWrite:
			c.opts.Metrics.request(c.opts.Name, "stale")
			c.refresh(key)
			return iobundle.Resolved(e.val, nil)
		default:
			c.opts.Metrics.request(c.opts.Name, "hit")
			return iobundle.Resolved(e.val, nil)
		}
	}
	c.opts.Metrics.request(c.opts.Name, "miss")

	f := iobundle.NewFuture[V]()
	ch := c.group.DoChan(key, func() (any, error) { return c.loadAndStore(key) })
	go func() {
		r := <-ch
		if r.Err != nil {
			var zero V
			f.Complete(zero, r.Err)
			return
		}
		f.Complete(r.Val.(V), nil)
	}()
	return f
}

// refresh reloads key in the background. Failures keep the stale value
// unless DropOnError says the value is gone.
func (c *Loading[V]) refresh(key string) {
	c.mu.Lock()
	if _, busy := c.refreshing[key]; busy {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) { return c.loadAndStore(key) })
	go func() {
		r := <-ch
		switch {
		case r.Err == nil:
		case c.opts.DropOnError != nil && c.opts.DropOnError(r.Err):
			c.entries.Remove(key)
			c.opts.Log.Infow("cache refresh found no value, entry dropped", "cache", c.opts.Name, "key", key, "err", r.Err)
		default:
			c.opts.Log.Warnw("cache refresh failed, serving stale value", "cache", c.opts.Name, "key", key, "err", r.Err)
		}
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
	}()
}

// loadAndStore runs on the singleflight goroutine, never on an executor
// slot: loaders may themselves wait on other caches that need the executor.
func (c *Loading[V]) loadAndStore(key string) (V, error) {
	c.mu.Lock()
	st, ok := c.inflight[key]
	if !ok {
		st = &keyState{}
		c.inflight[key] = st
	}
	st.loads++
	epoch := st.epoch
	c.mu.Unlock()

	v, err := c.load(c.ctx, key)
	c.opts.Metrics.load(c.opts.Name, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	st.loads--
	current := st.epoch == epoch
	if st.loads == 0 {
		delete(c.inflight, key)
	}
	if err != nil {
		return v, err
	}
	// A load that raced an invalidation is returned to its waiters but not kept.
	if current {
		c.entries.Add(key, entry[V]{val: v, loadedAt: c.opts.Now()})
	}
	return v, nil
}

// Invalidate drops key. A load already in flight still completes for its
// waiters, but its result is not stored and later callers start a new load.
func (c *Loading[V]) Invalidate(key string) {
	c.mu.Lock()
	if st, ok := c.inflight[key]; ok {
		st.epoch++
	}
	c.entries.Remove(key)
	c.group.Forget(key)
	c.mu.Unlock()
}

// Peek returns the stored value without loading or refreshing.
func (c *Loading[V]) Peek(key string) (V, bool) {
	e, ok := c.entries.Peek(key)
	return e.val, ok
}

func (c *Loading[V]) Len() int { return c.entries.Len() }

// Close cancels in-flight loads.
func (c *Loading[V]) Close() { c.cancel() }
