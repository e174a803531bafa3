package gateway

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"integrationgw/pkg/authtoken"
	"integrationgw/pkg/db"
	"integrationgw/pkg/integration"
)

// Integrations is the subset of the integration client the handlers use.
type Integrations interface {
	CachedIntegrationConfig(ctx context.Context, alias string) (map[string]any, error)
	UpdateIntegrationConfig(ctx context.Context, alias string, partial map[string]any) (integration.Record, error)
	GraphQL(ctx context.Context, alias, query, operationName string, variables map[string]any) (*integration.GraphQLResponse, error)
	InvalidateIntegration(alias string)
}

// Webhook is a verified platform delivery.
type Webhook struct {
	Type        string
	TenantAlias string
	Payload     map[string]any
	Raw         []byte
}

type Config struct {
	IntegrationName string
	ClientID        string
	ClientSecret    string
	AccessKeyIssuer string
	FrameSrc        []string
	// ReplayWindow bounds how long a webhook signature is remembered.
	ReplayWindow time.Duration
}

// App carries the shared dependencies of every handler.
type App struct {
	log          *zap.SugaredLogger
	cfg          Config
	verifier     *authtoken.Verifier
	integrations Integrations
	replay       db.ReplayGuard
	gatherer     prometheus.Gatherer
	onWebhook    func(context.Context, Webhook) error
}

type Option func(*App)

// WithReplayGuard rejects webhook signatures seen within the replay window.
func WithReplayGuard(g db.ReplayGuard) Option { return func(a *App) { a.replay = g } }

// WithMetrics serves g on /metrics instead of the default gatherer.
func WithMetrics(g prometheus.Gatherer) Option { return func(a *App) { a.gatherer = g } }

// OnWebhook registers a consumer for verified deliveries. An error from fn
// is answered with 500 so the platform redelivers.
func OnWebhook(fn func(context.Context, Webhook) error) Option {
	return func(a *App) { a.onWebhook = fn }
}

func New(log *zap.SugaredLogger, cfg Config, verifier *authtoken.Verifier, integrations Integrations, opts ...Option) *App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 10 * time.Minute
	}
	a := &App{
		log:          log,
		cfg:          cfg,
		verifier:     verifier,
		integrations: integrations,
		gatherer:     prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}
