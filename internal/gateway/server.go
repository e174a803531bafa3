package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"integrationgw/pkg/middleware"
	"integrationgw/pkg/openapi"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.WithSecurityHeaders(a.cfg.FrameSrc))
	r.Use(middleware.Tracing("http"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/.well-known/openapi.json", apiDoc().ServeHandler("integration-gateway", "v1"))

	r.Route("/v1", func(vr chi.Router) {
		vr.Post("/access-keys", a.mintAccessKey)
		vr.Post("/webhooks", a.receiveWebhook)

		vr.Group(func(pr chi.Router) {
			pr.Use(middleware.AccessKeyAuth(a.cfg.ClientSecret, a.log))
			pr.Get("/config", a.getConfig)
			pr.Patch("/config", a.patchConfig)
			pr.Post("/graphql", a.graphQL)
		})

		vr.Group(func(ar chi.Router) {
			ar.Use(middleware.RequireBasic("integration-gateway", a.cfg.ClientID, a.cfg.ClientSecret))
			ar.Delete("/tenants/{alias}/cache", a.invalidateTenant)
		})
	})
	return r
}

func apiDoc() *openapi.Registry {
	doc := openapi.NewRegistry()
	object := map[string]any{"type": "object"}
	doc.Register(openapi.Operation{
		Method: "POST", Path: "/v1/access-keys", Summary: "Exchange a tenant-scoped token for an access key",
		RequestBody: openapi.JSONBody(map[string]any{
			"type":       "object",
			"required":   []string{"token"},
			"properties": map[string]any{"token": map[string]any{"type": "string"}},
		}),
		Responses: openapi.Responses("200", "Access key minted", "401", "Token rejected", "502", "Key discovery failed"),
	})
	doc.Register(openapi.Operation{
		Method: "POST", Path: "/v1/webhooks", Summary: "Receive a signed platform webhook",
		Security:  openapi.SchemeWebhookJWS,
		Responses: openapi.Responses("200", "Accepted", "401", "Signature rejected", "409", "Replayed delivery"),
	})
	doc.Register(openapi.Operation{
		Method: "GET", Path: "/v1/config", Summary: "Read the tenant's integration config",
		Security:  openapi.SchemeAccessKey,
		Responses: openapi.Responses("200", "Config", "404", "Not configured or disabled", "502", "Platform error"),
	})
	doc.Register(openapi.Operation{
		Method: "PATCH", Path: "/v1/config", Summary: "Merge into the tenant's integration config",
		Security:    openapi.SchemeAccessKey,
		RequestBody: openapi.JSONBody(object),
		Responses:   openapi.Responses("200", "Merged config", "404", "No integration", "422", "Refused by config policy", "502", "Platform error"),
	})
	doc.Register(openapi.Operation{
		Method: "POST", Path: "/v1/graphql", Summary: "Run a GraphQL query for the tenant",
		Security:    openapi.SchemeAccessKey,
		RequestBody: openapi.JSONBody(object),
		Responses:   openapi.Responses("200", "GraphQL response, possibly with errors", "502", "Transport error"),
	})
	doc.Register(openapi.Operation{
		Method: "DELETE", Path: "/v1/tenants/{alias}/cache", Summary: "Drop the tenant's cached integration",
		Security:  openapi.SchemeClientBasic,
		Responses: openapi.Responses("204", "Dropped", "401", "Bad client credentials"),
	})
	return doc
}
