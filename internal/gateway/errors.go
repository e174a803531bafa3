package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"integrationgw/pkg/accesstoken"
	"integrationgw/pkg/integration"
	"integrationgw/pkg/jwks"
	"integrationgw/pkg/middleware"
	"integrationgw/pkg/policy"
	"integrationgw/pkg/problems"
)

// writeError maps upstream and internal failures to problem documents.
// Request validation failures are written by the handlers themselves.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		keysDown  *jwks.UpstreamUnavailableError
		tokenErr  *accesstoken.TokenEndpointError
		upstream  *integration.UpstreamError
		transport *integration.GraphQLTransportError
		rejected  *policy.RejectedError
	)
	log := a.log.With("request_id", middleware.RequestIDFrom(r.Context()), "path", r.URL.Path)
	switch {
	case errors.Is(err, integration.ErrNoIntegration):
		problems.NotFound(w, "integration is not configured for this tenant")
	case errors.As(err, &rejected):
		problems.Write(w, problems.New(http.StatusUnprocessableEntity, "config-rejected", "Config rejected", strings.Join(rejected.Reasons, "; ")))
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		log.Debugw("request cancelled", "err", err)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warnw("upstream timeout", "err", err)
		problems.Write(w, problems.New(http.StatusGatewayTimeout, "upstream-timeout", "Upstream timeout", ""))
	case errors.As(err, &keysDown), errors.As(err, &tokenErr), errors.Is(err, accesstoken.ErrTokenMissing),
		errors.As(err, &upstream), errors.As(err, &transport):
		log.Warnw("upstream failure", "err", err)
		problems.Write(w, problems.New(http.StatusBadGateway, "upstream-failure", "Upstream failure", "the platform could not be reached or refused the request"))
	default:
		log.Errorw("internal error", "err", err)
		problems.Internal(w)
	}
}
