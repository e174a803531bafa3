// Package authtoken verifies tenant-scoped tokens and webhook signatures
// issued by the platform, and mints and verifies the access keys exchanged
// with integration services.
package authtoken

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"integrationgw/pkg/jwks"
)

const tenantSuffix = "@tenants"

// MinSecretLength is the HS256 minimum key size in bytes.
const MinSecretLength = 32

var (
	// ErrSecretTooShort is a deployment error, never a verification outcome.
	ErrSecretTooShort = fmt.Errorf("client secret must be at least %d bytes for HS256", MinSecretLength)
	// ErrUnsupportedKey means the discovery document published a non-RSA key
	// under the token's kid.
	ErrUnsupportedKey = errors.New("signing key is not an RSA key")
)

// KeySource resolves platform signing keys. Implementations report an
// unknown kid with jwks.ErrKeyNotFound; any other error is an upstream
// failure and is returned to the caller.
type KeySource interface {
	Key(ctx context.Context, kid string) (jwk.Key, error)
}

type Verifier struct {
	keys KeySource
	now  func() time.Time
}

func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys, now: time.Now}
}

// parsed is a compact JWS whose payload decoded as a JSON object.
type parsed struct {
	raw    []byte
	kid    string
	alg    jwa.SignatureAlgorithm
	claims map[string]any
}

func parseCompact(token string) (*parsed, bool) {
	raw := []byte(strings.TrimSpace(token))
	if len(raw) == 0 {
		return nil, false
	}
	msg, err := jws.Parse(raw)
	if err != nil || len(msg.Signatures()) != 1 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(msg.Payload()))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil || claims == nil {
		return nil, false
	}
	h := msg.Signatures()[0].ProtectedHeaders()
	return &parsed{raw: raw, kid: h.KeyID(), alg: h.Algorithm(), claims: claims}, true
}

var rsaAlgorithms = map[jwa.SignatureAlgorithm]bool{
	jwa.RS256: true, jwa.RS384: true, jwa.RS512: true,
	jwa.PS256: true, jwa.PS384: true, jwa.PS512: true,
}

var hmacAlgorithms = map[jwa.SignatureAlgorithm]bool{
	jwa.HS256: true, jwa.HS384: true, jwa.HS512: true,
}

// verifyPlatformSignature looks up the token's kid and checks the RSA
// signature. A zero Reason with nil error means the signature is valid.
func (v *Verifier) verifyPlatformSignature(ctx context.Context, p *parsed) (Reason, error) {
	key, err := v.keys.Key(ctx, p.kid)
	if errors.Is(err, jwks.ErrKeyNotFound) {
		return ReasonKeyNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if key.KeyType() != jwa.RSA {
		return "", fmt.Errorf("%w: kid %s has type %s", ErrUnsupportedKey, p.kid, key.KeyType())
	}
	if !rsaAlgorithms[p.alg] {
		return ReasonInvalidSignature, nil
	}
	if _, err := jws.Verify(p.raw, jws.WithKey(p.alg, key)); err != nil {
		return ReasonInvalidSignature, nil
	}
	return "", nil
}

// VerifyTenantScopedToken checks a platform-issued token for integrationName
// and returns the tenant alias it is scoped to. The error return is reserved
// for key discovery and internal failures.
func (v *Verifier) VerifyTenantScopedToken(ctx context.Context, integrationName, token string) (Result, error) {
	p, ok := parseCompact(token)
	if !ok {
		return rejected(ReasonInvalidJWT), nil
	}
	reason, err := v.verifyPlatformSignature(ctx, p)
	if err != nil {
		return Result{}, err
	}
	if reason != "" {
		return rejected(reason), nil
	}
	if !strings.EqualFold(claimText(p.claims["integration"]), integrationName) {
		return rejected(ReasonInvalidIntegration), nil
	}
	alias, ok := tenantAlias(claimText(p.claims["sub"]))
	if !ok {
		return rejected(ReasonBlankTenantAlias), nil
	}
	// Tokens without a numeric exp are accepted.
	if exp, ok := numericDate(p.claims["exp"]); ok && exp.Before(v.now()) {
		return rejected(ReasonExpired), nil
	}
	return Result{TenantAlias: alias}, nil
}

// MintAccessKey verifies a tenant-scoped token and exchanges it for an HS256
// access key signed with clientSecret. Rejections from verification are
// returned unchanged.
func (v *Verifier) MintAccessKey(ctx context.Context, integrationName, clientSecret, issuer, tenantScopedToken string) (Result, error) {
	res, err := v.VerifyTenantScopedToken(ctx, integrationName, tenantScopedToken)
	if err != nil || !res.OK() {
		return res, err
	}
	tok, err := SignAccessKey(clientSecret, issuer, res.TenantAlias)
	if err != nil {
		return Result{}, err
	}
	return Result{TenantAlias: res.TenantAlias, Token: tok}, nil
}

// SignAccessKey builds the compact access key {iss, sub: alias@tenants}.
func SignAccessKey(clientSecret, issuer, alias string) (string, error) {
	if len(clientSecret) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	b := jwt.NewBuilder().Subject(alias + tenantSuffix)
	if issuer != "" {
		b = b.Issuer(issuer)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("build access key: %w", err)
	}
	hdr := jws.NewHeaders()
	_ = hdr.Set(jws.TypeKey, "JWT")
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(clientSecret), jws.WithProtectedHeaders(hdr)))
	if err != nil {
		return "", fmt.Errorf("sign access key: %w", err)
	}
	return string(signed), nil
}

// VerifyAccessKey checks an access key presented by an integration service.
// The zero Reason means the key verified.
func VerifyAccessKey(clientSecret, accessKey string) Reason {
	_, reason := ParseAccessKey(clientSecret, accessKey)
	if reason == ReasonBlankTenantAlias {
		return ""
	}
	return reason
}

type AccessKeyClaims struct {
	Issuer      string
	TenantAlias string
}

// ParseAccessKey verifies an access key and additionally requires a
// well-formed tenant subject.
func ParseAccessKey(clientSecret, accessKey string) (AccessKeyClaims, Reason) {
	p, ok := parseCompact(accessKey)
	if !ok {
		return AccessKeyClaims{}, ReasonInvalidJWT
	}
	if !hmacAlgorithms[p.alg] {
		return AccessKeyClaims{}, ReasonInvalidSignature
	}
	if _, err := jws.Verify(p.raw, jws.WithKey(p.alg, []byte(clientSecret))); err != nil {
		return AccessKeyClaims{}, ReasonInvalidSignature
	}
	claims := AccessKeyClaims{Issuer: claimText(p.claims["iss"])}
	alias, ok := tenantAlias(claimText(p.claims["sub"]))
	if !ok {
		return claims, ReasonBlankTenantAlias
	}
	claims.TenantAlias = alias
	return claims, ""
}

// VerifyWebhook checks a detached-payload signature header ("header..sig")
// against the raw request body. A header that carries its own payload is
// malformed: the signature must cover body, not whatever was embedded.
func (v *Verifier) VerifyWebhook(ctx context.Context, signatureHeader string, body []byte) (Reason, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return ReasonSignatureMissing, nil
	}
	parts := strings.Split(strings.TrimSpace(signatureHeader), ".")
	if len(parts) != 3 || parts[1] != "" {
		return ReasonInvalidJWT, nil
	}
	token := parts[0] + "." + base64.RawURLEncoding.EncodeToString(body) + "." + parts[2]
	p, ok := parseCompact(token)
	if !ok {
		return ReasonInvalidJWT, nil
	}
	return v.verifyPlatformSignature(ctx, p)
}

func tenantAlias(sub string) (string, bool) {
	if !strings.HasSuffix(sub, tenantSuffix) {
		return "", false
	}
	alias := strings.TrimSuffix(sub, tenantSuffix)
	if strings.TrimSpace(alias) == "" {
		return "", false
	}
	return alias, true
}

// claimText renders scalar claims as text; objects, arrays and null are "".
func claimText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func numericDate(v any) (time.Time, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}, false
	}
	if i, err := n.Int64(); err == nil {
		return time.Unix(i, 0), true
	}
	f, err := n.Float64()
	// Out of int64 range is treated like a non-numeric claim.
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0), true
}
