// Package platformtest fakes the SaaS platform endpoints consumed by the
// gateway: key discovery, the token endpoint and the tenant integration API.
package platformtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Signer holds an RSA key pair published under KID.
type Signer struct {
	KID     string
	Private jwk.Key
	Public  jwk.Key
}

func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	priv, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = priv.Set(jwk.KeyIDKey, kid)
	_ = priv.Set(jwk.AlgorithmKey, jwa.RS256)
	pub, err := priv.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return &Signer{KID: kid, Private: priv, Public: pub}
}

// Sign returns a compact RS256 token over the JSON encoding of claims.
func (s *Signer) Sign(t testing.TB, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return s.SignBytes(t, payload)
}

func (s *Signer) SignBytes(t testing.TB, payload []byte) string {
	t.Helper()
	hdr := jws.NewHeaders()
	_ = hdr.Set(jws.KeyIDKey, s.KID)
	_ = hdr.Set(jws.TypeKey, "JWT")
	out, err := jws.Sign(payload, jws.WithKey(jwa.RS256, s.Private, jws.WithProtectedHeaders(hdr)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return string(out)
}

// SignDetached signs body and blanks the payload segment, the way the
// platform signs webhook deliveries.
func (s *Signer) SignDetached(t testing.TB, body []byte) string {
	t.Helper()
	parts := strings.Split(s.SignBytes(t, body), ".")
	return parts[0] + ".." + parts[2]
}

// JWKS renders the public halves of signers as a discovery document.
func JWKS(t testing.TB, signers ...*Signer) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, s := range signers {
		if err := set.AddKey(s.Public); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

// Platform is an httptest server with counters for every endpoint.
type Platform struct {
	Server   *httptest.Server
	ClientID string

	JWKSHits    atomic.Int32
	TokenHits   atomic.Int32
	LoadHits    atomic.Int32
	PutHits     atomic.Int32
	GraphQLHits atomic.Int32

	mu           sync.Mutex
	signers      []*Signer
	accessToken  string
	jwksStatus   int
	tokenStatus  int
	tokenBody    string
	loadStatus   int
	putStatus    int
	integrations map[string]map[string]any
	lastPut      map[string]any
	lastToken    map[string]any
	lastGraphQL  map[string]any
	graphQLReply func(tenant string) (int, string)
}

func New(t testing.TB, signers ...*Signer) *Platform {
	t.Helper()
	p := &Platform{
		ClientID:     "client/id",
		signers:      signers,
		accessToken:  "m2m-token",
		integrations: map[string]map[string]any{},
	}
	r := chi.NewRouter()
	r.Get("/.well-known/jwks.json", p.serveJWKS(t))
	r.Post("/oauth/token", p.serveToken)
	r.Route("/api/v1/{tenant}", func(tr chi.Router) {
		tr.Use(p.requireBearer)
		tr.Get("/integration/*", p.serveLoad)
		tr.Put("/integration", p.servePut)
		tr.Post("/graphql", p.serveGraphQL)
	})
	p.Server = httptest.NewServer(r)
	t.Cleanup(p.Server.Close)
	return p
}

// Domain is host:port, suitable for http:// URLs.
func (p *Platform) Domain() string { return strings.TrimPrefix(p.Server.URL, "http://") }

func (p *Platform) TokenURL() string { return p.Server.URL + "/oauth/token" }

func (p *Platform) AccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessToken
}

func (p *Platform) SetAccessToken(tok string) {
	p.mu.Lock()
	p.accessToken = tok
	p.mu.Unlock()
}

func (p *Platform) SetSigners(signers ...*Signer) {
	p.mu.Lock()
	p.signers = signers
	p.mu.Unlock()
}

func (p *Platform) SetJWKSStatus(status int) {
	p.mu.Lock()
	p.jwksStatus = status
	p.mu.Unlock()
}

// SetTokenResponse overrides the token endpoint reply; a zero status restores
// the default.
func (p *Platform) SetTokenResponse(status int, body string) {
	p.mu.Lock()
	p.tokenStatus, p.tokenBody = status, body
	p.mu.Unlock()
}

func (p *Platform) SetLoadStatus(status int) {
	p.mu.Lock()
	p.loadStatus = status
	p.mu.Unlock()
}

func (p *Platform) SetPutStatus(status int) {
	p.mu.Lock()
	p.putStatus = status
	p.mu.Unlock()
}

func (p *Platform) SetIntegration(tenant string, record map[string]any) {
	p.mu.Lock()
	p.integrations[tenant] = record
	p.mu.Unlock()
}

func (p *Platform) SetGraphQLReply(fn func(tenant string) (int, string)) {
	p.mu.Lock()
	p.graphQLReply = fn
	p.mu.Unlock()
}

func (p *Platform) LastPut() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPut
}

func (p *Platform) LastTokenRequest() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastToken
}

func (p *Platform) LastGraphQL() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastGraphQL
}

func (p *Platform) serveJWKS(t testing.TB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.JWKSHits.Add(1)
		p.mu.Lock()
		status, signers := p.jwksStatus, p.signers
		p.mu.Unlock()
		if status != 0 {
			http.Error(w, "unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(JWKS(t, signers...))
	}
}

func (p *Platform) serveToken(w http.ResponseWriter, r *http.Request) {
	p.TokenHits.Add(1)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.lastToken = body
	status, reply, tok := p.tokenStatus, p.tokenBody, p.accessToken
	p.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "token_type": "Bearer"})
}

func (p *Platform) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+p.AccessToken() {
			http.Error(w, "bad bearer", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Platform) serveLoad(w http.ResponseWriter, r *http.Request) {
	p.LoadHits.Add(1)
	tenant := chi.URLParam(r, "tenant")
	p.mu.Lock()
	status := p.loadStatus
	rec, ok := p.integrations[tenant]
	p.mu.Unlock()
	if status != 0 {
		http.Error(w, "load failed", status)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func (p *Platform) servePut(w http.ResponseWriter, r *http.Request) {
	p.PutHits.Add(1)
	tenant := chi.URLParam(r, "tenant")
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.lastPut = body
	status := p.putStatus
	if status == 0 {
		p.integrations[tenant] = body
	}
	p.mu.Unlock()
	if status != 0 {
		http.Error(w, "put failed", status)
		return
	}
	writeJSON(w, body)
}

func (p *Platform) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	p.GraphQLHits.Add(1)
	tenant := chi.URLParam(r, "tenant")
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.lastGraphQL = body
	reply := p.graphQLReply
	p.mu.Unlock()
	if reply == nil {
		writeJSON(w, map[string]any{"data": map[string]any{"ok": true}})
		return
	}
	status, text := reply(tenant)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
