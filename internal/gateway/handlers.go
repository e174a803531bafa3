package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"integrationgw/pkg/middleware"
	"integrationgw/pkg/problems"
)

const (
	signatureHeader = "X-Hook-JWS-Signature"
	maxRequestBytes = 1 << 20
)

func (a *App) mintAccessKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := readJSON(w, r, &body); err != nil {
		problems.BadRequest(w, err.Error())
		return
	}
	res, err := a.verifier.MintAccessKey(r.Context(), a.cfg.IntegrationName, a.cfg.ClientSecret, a.cfg.AccessKeyIssuer, body.Token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !res.OK() {
		a.log.Infow("tenant token rejected", "reason", res.Reason, "request_id", middleware.RequestIDFrom(r.Context()))
		problems.Unauthorized(w, res.Message())
		return
	}
	writeJSON(w, map[string]any{"accessKey": res.Token, "tenantAlias": res.TenantAlias}, http.StatusOK)
}

func (a *App) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		problems.BadRequest(w, "request body too large")
		return
	}
	sig := r.Header.Get(signatureHeader)
	reason, err := a.verifier.VerifyWebhook(r.Context(), sig, raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if reason != "" {
		a.log.Infow("webhook rejected", "reason", reason, "request_id", middleware.RequestIDFrom(r.Context()))
		problems.Unauthorized(w, reason.String())
		return
	}
	if a.replay != nil {
		fresh, err := a.replay.FirstSeen(r.Context(), sig, a.cfg.ReplayWindow)
		if err != nil {
			a.log.Errorw("replay guard", "err", err)
			problems.Internal(w)
			return
		}
		if !fresh {
			problems.Write(w, problems.New(http.StatusConflict, "webhook-replayed", "Webhook replayed", "signature already delivered"))
			return
		}
	}

	hook := Webhook{Raw: raw}
	if err := json.Unmarshal(raw, &hook.Payload); err == nil {
		hook.Type, _ = hook.Payload["type"].(string)
		hook.TenantAlias, _ = hook.Payload["tenantAlias"].(string)
	}
	// Config changes made on the platform side would otherwise be served
	// stale until the cache entry expires.
	if strings.HasPrefix(hook.Type, "integration.") && hook.TenantAlias != "" {
		a.integrations.InvalidateIntegration(hook.TenantAlias)
	}
	if a.onWebhook != nil {
		if err := a.onWebhook(r.Context(), hook); err != nil {
			a.log.Errorw("webhook consumer failed", "type", hook.Type, "tenant", hook.TenantAlias, "err", err)
			problems.Internal(w)
			return
		}
	}
	a.log.Infow("webhook accepted", "type", hook.Type, "tenant", hook.TenantAlias)
	writeJSON(w, map[string]any{"received": true}, http.StatusOK)
}

func (a *App) getConfig(w http.ResponseWriter, r *http.Request) {
	alias := middleware.TenantAliasFrom(r.Context())
	cfg, err := a.integrations.CachedIntegrationConfig(r.Context(), alias)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if cfg == nil {
		problems.NotFound(w, "integration is not configured for this tenant")
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

func (a *App) patchConfig(w http.ResponseWriter, r *http.Request) {
	alias := middleware.TenantAliasFrom(r.Context())
	var partial map[string]any
	if err := readJSON(w, r, &partial); err != nil {
		problems.BadRequest(w, err.Error())
		return
	}
	if partial == nil {
		problems.BadRequest(w, "body must be a JSON object")
		return
	}
	rec, err := a.integrations.UpdateIntegrationConfig(r.Context(), alias, partial)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec.Config(), http.StatusOK)
}

func (a *App) graphQL(w http.ResponseWriter, r *http.Request) {
	alias := middleware.TenantAliasFrom(r.Context())
	var body struct {
		Query         string         `json:"query"`
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if err := readJSON(w, r, &body); err != nil {
		problems.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		problems.BadRequest(w, "query is required")
		return
	}
	resp, err := a.integrations.GraphQL(r.Context(), alias, body.Query, body.OperationName, body.Variables)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (a *App) invalidateTenant(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	a.integrations.InvalidateIntegration(alias)
	a.log.Infow("integration cache invalidated", "tenant", alias)
	w.WriteHeader(http.StatusNoContent)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		return errors.New("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
