// Package iobundle owns the shared outbound HTTP client and task executor
// used by every cache loader and platform client.
package iobundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Timeouts bound one outbound call. Connect limits dialing; Response limits
// the remainder of the exchange, including reading the body.
type Timeouts struct {
	Connect  time.Duration
	Response time.Duration
}

// Generous defaults just to prevent a hanging connection.
var DefaultTimeouts = Timeouts{Connect: 30 * time.Second, Response: 60 * time.Second}

type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ContentType string
	Timeouts    Timeouts
}

type Response struct {
	Status int
	Header http.Header
	URL    string
	// Body is already decoded according to Content-Encoding.
	Body []byte
}

func (r *Response) Text() string { return string(r.Body) }

type Options struct {
	// Workers bounds executor tasks and, separately, concurrent exchanges.
	Workers int
	// Traced wraps the transport with OpenTelemetry client instrumentation.
	Traced bool
	Log    *zap.SugaredLogger
}

// Bundle is constructed once per process and shared read-only.
type Bundle struct {
	HTTP *http.Client
	Exec *Executor
	log  *zap.SugaredLogger
	// exchanges gates the network exchange itself. It is only ever held
	// around HTTP.Do and the body read, so it cannot be nested.
	exchanges *semaphore.Weighted
}

type connectTimeoutKey struct{}

func New(opts Options) *Bundle {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dialer := &net.Dialer{Timeout: DefaultTimeouts.Connect, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 200
	transport.MaxIdleConnsPerHost = 100
	// Accept-Encoding is negotiated explicitly and decoded in decodeBody.
	transport.DisableCompression = true
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if d, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return dialer.DialContext(ctx, network, addr)
	}
	var rt http.RoundTripper = transport
	if opts.Traced {
		rt = otelhttp.NewTransport(transport)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Bundle{
		HTTP:      &http.Client{Transport: rt},
		Exec:      NewExecutor(workers),
		log:       log,
		exchanges: semaphore.NewWeighted(int64(workers)),
	}
}

// Execute performs req on the calling goroutine.
func (b *Bundle) Execute(ctx context.Context, req Request) (*Response, error) {
	t := req.Timeouts
	if t.Connect <= 0 {
		t.Connect = DefaultTimeouts.Connect
	}
	if t.Response <= 0 {
		t.Response = DefaultTimeouts.Response
	}
	ctx = context.WithValue(ctx, connectTimeoutKey{}, t.Connect)
	ctx, cancel := context.WithTimeout(ctx, t.Connect+t.Response)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Accept-Encoding", DefaultAcceptEncoding)
	if req.ContentType != "" {
		hr.Header.Set("Content-Type", req.ContentType)
	}

	if err := b.exchanges.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	raw, resp, err := b.exchange(hr)
	b.exchanges.Release(1)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"), b.log)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, URL: req.URL, Body: decoded}, nil
}

func (b *Bundle) exchange(hr *http.Request) ([]byte, *http.Response, error) {
	resp, err := b.HTTP.Do(hr)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := readLimited(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return raw, resp, nil
}

// Do performs req on the executor. Cancelling ctx aborts the connection
// attempt or the in-progress exchange.
func (b *Bundle) Do(ctx context.Context, req Request) *Future[*Response] {
	return Submit(b.Exec, ctx, func(ctx context.Context) (*Response, error) {
		return b.Execute(ctx, req)
	})
}

// Close waits for in-flight tasks and drops idle connections.
func (b *Bundle) Close() error {
	b.Exec.Close()
	b.HTTP.CloseIdleConnections()
	return nil
}
