package authtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrationgw/internal/platformtest"
	"integrationgw/pkg/iobundle"
	"integrationgw/pkg/jwks"
)

const secret = "0123456789abcdef0123456789abcdef"

type staticKeys struct {
	keys map[string]jwk.Key
	err  error
}

func (s staticKeys) Key(_ context.Context, kid string) (jwk.Key, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k, ok := s.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: %s", jwks.ErrKeyNotFound, kid)
}

func keysOf(signers ...*platformtest.Signer) staticKeys {
	m := map[string]jwk.Key{}
	for _, s := range signers {
		m[s.KID] = s.Public
	}
	return staticKeys{keys: m}
}

func tenantClaims(integration, sub string, exp time.Time) map[string]any {
	c := map[string]any{"integration": integration, "sub": sub}
	if !exp.IsZero() {
		c["exp"] = exp.Unix()
	}
	return c
}

func TestVerifyTenantScopedToken(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	impostor := platformtest.NewSigner(t, "k1")
	unknown := platformtest.NewSigner(t, "k9")
	v := NewVerifier(keysOf(k1))
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name        string
		integration string
		token       string
		want        Result
	}{
		{
			name:        "valid",
			integration: "shopify",
			token:       k1.Sign(t, tenantClaims("shopify", "acme@tenants", hour)),
			want:        Result{TenantAlias: "acme"},
		},
		{
			name:        "integration compared case-insensitively",
			integration: "Shopify",
			token:       k1.Sign(t, tenantClaims("SHOPIFY", "acme@tenants", hour)),
			want:        Result{TenantAlias: "acme"},
		},
		{
			name:        "no exp is accepted",
			integration: "shopify",
			token:       k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Time{})),
			want:        Result{TenantAlias: "acme"},
		},
		{
			name:        "malformed",
			integration: "shopify",
			token:       "not-a.jwt",
			want:        rejected(ReasonInvalidJWT),
		},
		{
			name:        "empty",
			integration: "shopify",
			token:       "",
			want:        rejected(ReasonInvalidJWT),
		},
		{
			name:        "unknown kid",
			integration: "shopify",
			token:       unknown.Sign(t, tenantClaims("shopify", "acme@tenants", hour)),
			want:        rejected(ReasonKeyNotFound),
		},
		{
			name:        "signed by a different key under the same kid",
			integration: "shopify",
			token:       impostor.Sign(t, tenantClaims("shopify", "acme@tenants", hour)),
			want:        rejected(ReasonInvalidSignature),
		},
		{
			name:        "wrong integration",
			integration: "segment",
			token:       k1.Sign(t, tenantClaims("shopify", "acme@tenants", hour)),
			want:        rejected(ReasonInvalidIntegration),
		},
		{
			name:        "missing integration claim",
			integration: "shopify",
			token:       k1.Sign(t, map[string]any{"sub": "acme@tenants"}),
			want:        rejected(ReasonInvalidIntegration),
		},
		{
			name:        "sub without suffix",
			integration: "shopify",
			token:       k1.Sign(t, tenantClaims("shopify", "acme", hour)),
			want:        rejected(ReasonBlankTenantAlias),
		},
		{
			name:        "sub reduces to blank",
			integration: "shopify",
			token:       k1.Sign(t, tenantClaims("shopify", "  @tenants", hour)),
			want:        rejected(ReasonBlankTenantAlias),
		},
		{
			name:        "expired",
			integration: "shopify",
			token:       k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(-time.Minute))),
			want:        rejected(ReasonExpired),
		},
		{
			name:        "non-numeric exp is ignored",
			integration: "shopify",
			token:       k1.Sign(t, map[string]any{"integration": "shopify", "sub": "acme@tenants", "exp": "yesterday"}),
			want:        Result{TenantAlias: "acme"},
		},
		{
			name:        "fractional exp in the past is expired",
			integration: "shopify",
			token:       k1.Sign(t, map[string]any{"integration": "shopify", "sub": "acme@tenants", "exp": 1.5}),
			want:        rejected(ReasonExpired),
		},
		{
			name:        "exp beyond int64 range is ignored",
			integration: "shopify",
			token:       k1.Sign(t, map[string]any{"integration": "shopify", "sub": "acme@tenants", "exp": -1e300}),
			want:        Result{TenantAlias: "acme"},
		},
		{
			name:        "huge exp is ignored",
			integration: "shopify",
			token:       k1.Sign(t, map[string]any{"integration": "shopify", "sub": "acme@tenants", "exp": 1e300}),
			want:        Result{TenantAlias: "acme"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.VerifyTenantScopedToken(context.Background(), tt.integration, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.OK(), got.OK())
		})
	}
}

func TestVerifyTenantScopedToken_WrongIntegrationNeverLeaksAlias(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	token := k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour)))

	for _, name := range []string{"segment", "SEGMENT", "Segment", "shopify2", ""} {
		got, err := v.VerifyTenantScopedToken(context.Background(), name, token)
		require.NoError(t, err)
		assert.False(t, got.OK())
		assert.Equal(t, ReasonInvalidIntegration, got.Reason)
		assert.Empty(t, got.TenantAlias)
		assert.NotContains(t, got.Message(), "acme")
	}
}

func TestVerifyTenantScopedToken_HMACTokenRejected(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	hdr := jws.NewHeaders()
	_ = hdr.Set(jws.KeyIDKey, "k1")
	forged, err := jws.Sign([]byte(`{"integration":"shopify","sub":"acme@tenants"}`),
		jws.WithKey(jwa.HS256, []byte(secret), jws.WithProtectedHeaders(hdr)))
	require.NoError(t, err)

	got, err := v.VerifyTenantScopedToken(context.Background(), "shopify", string(forged))
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidSignature, got.Reason)
}

func TestVerifyTenantScopedToken_KeyDiscoveryFailurePropagates(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	down := &jwks.UpstreamUnavailableError{URL: "https://app.example.com/.well-known/jwks.json", Err: errors.New("timeout")}
	v := NewVerifier(staticKeys{err: down})

	_, err := v.VerifyTenantScopedToken(context.Background(), "shopify",
		k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour))))
	var upstream *jwks.UpstreamUnavailableError
	assert.ErrorAs(t, err, &upstream)
}

func TestVerifyTenantScopedToken_AgainstDiscoveryEndpoint(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	p := platformtest.New(t, k1)
	b := iobundle.New(iobundle.Options{})
	defer b.Close()
	keys := jwks.New(b, jwks.Options{Scheme: "http", Domain: p.Domain()})
	defer keys.Close()

	got, err := NewVerifier(keys).VerifyTenantScopedToken(context.Background(), "shopify",
		k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.True(t, got.OK())
	assert.Equal(t, "acme", got.Message())
}

func TestMintAccessKey_RoundTrip(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	token := k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour)))

	res, err := v.MintAccessKey(context.Background(), "shopify", secret, "my-integration", token)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "acme", res.TenantAlias)
	assert.Equal(t, res.Token, res.Message())
	assert.Equal(t, 3, len(strings.Split(res.Token, ".")))

	assert.Empty(t, VerifyAccessKey(secret, res.Token))
	assert.Equal(t, ReasonInvalidSignature, VerifyAccessKey("ffffffffffffffffffffffffffffffff", res.Token))

	claims, reason := ParseAccessKey(secret, res.Token)
	assert.Empty(t, reason)
	assert.Equal(t, AccessKeyClaims{Issuer: "my-integration", TenantAlias: "acme"}, claims)

	msg, err := jws.Parse([]byte(res.Token))
	require.NoError(t, err)
	assert.Equal(t, jwa.HS256, msg.Signatures()[0].ProtectedHeaders().Algorithm())
	assert.Equal(t, "JWT", msg.Signatures()[0].ProtectedHeaders().Type())
}

func TestMintAccessKey_PassesThroughRejection(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	token := k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(-time.Hour)))

	res, err := v.MintAccessKey(context.Background(), "shopify", secret, "iss", token)
	require.NoError(t, err)
	assert.Equal(t, rejected(ReasonExpired), res)
}

func TestMintAccessKey_ShortSecretIsInternalError(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	token := k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour)))

	_, err := v.MintAccessKey(context.Background(), "shopify", "short", "iss", token)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestVerifyAccessKey_Malformed(t *testing.T) {
	assert.Equal(t, ReasonInvalidJWT, VerifyAccessKey(secret, ""))
	assert.Equal(t, ReasonInvalidJWT, VerifyAccessKey(secret, "a.b"))
	assert.Equal(t, ReasonInvalidJWT, VerifyAccessKey(secret, "!!.??.**"))
}

func TestParseAccessKey_BlankSubject(t *testing.T) {
	tok, err := SignAccessKey(secret, "iss", "  ")
	require.NoError(t, err)
	assert.Empty(t, VerifyAccessKey(secret, tok))
	_, reason := ParseAccessKey(secret, tok)
	assert.Equal(t, ReasonBlankTenantAlias, reason)
}

func TestVerifyWebhook(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	other := platformtest.NewSigner(t, "k2")
	v := NewVerifier(keysOf(k1))
	body := []byte(`{"type":"user.created","tenantAlias":"acme","data":{"id":"u1"}}`)
	sig := k1.SignDetached(t, body)
	require.Contains(t, sig, "..")

	reason, err := v.VerifyWebhook(context.Background(), sig, body)
	require.NoError(t, err)
	assert.Empty(t, reason)

	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01
	reason, err = v.VerifyWebhook(context.Background(), sig, tampered)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidSignature, reason)

	reason, _ = v.VerifyWebhook(context.Background(), "   ", body)
	assert.Equal(t, ReasonSignatureMissing, reason)

	reason, _ = v.VerifyWebhook(context.Background(), "garbage", body)
	assert.Equal(t, ReasonInvalidJWT, reason)

	reason, _ = v.VerifyWebhook(context.Background(), other.SignDetached(t, body), body)
	assert.Equal(t, ReasonKeyNotFound, reason)
}

func TestVerifyWebhook_EmbeddedPayloadRejected(t *testing.T) {
	k1 := platformtest.NewSigner(t, "k1")
	v := NewVerifier(keysOf(k1))
	body := []byte(`{"type":"integration.updated","tenantAlias":"victim"}`)

	// a genuine platform token must not stand in for a webhook signature
	captured := k1.Sign(t, tenantClaims("shopify", "acme@tenants", time.Now().Add(time.Hour)))
	reason, err := v.VerifyWebhook(context.Background(), captured, body)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidJWT, reason)

	// even when the embedded payload is the body itself
	reason, _ = v.VerifyWebhook(context.Background(), k1.SignBytes(t, body), body)
	assert.Equal(t, ReasonInvalidJWT, reason)

	for _, hdr := range []string{"a..b..c", "a.b", ".."} {
		reason, _ = v.VerifyWebhook(context.Background(), hdr, body)
		assert.Equal(t, ReasonInvalidJWT, reason, hdr)
	}
}
