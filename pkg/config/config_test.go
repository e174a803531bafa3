package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_domain: file.example.com
https: false
client_id: from-file
integration_name: shopify
token_refresh: 2h
frame_src: ["https://app.example.com"]
config_policy_file: /etc/gateway/config.rego
`), 0o600))

	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("SQUATCH_CLIENT_ID", "from-env")
	t.Setenv("KEY_REFRESH", "3600")
	t.Setenv("INTEGRATION_TTL", "30s")

	cfg := Load()

	assert.Equal(t, "file.example.com", cfg.AppDomain)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, "http", cfg.Scheme())
	assert.Equal(t, 2*time.Hour, cfg.TokenRefresh)
	assert.Equal(t, time.Hour, cfg.KeyRefresh)
	assert.Equal(t, 30*time.Second, cfg.IntegrationTTL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.FrameSrc)
	assert.Equal(t, "shopify", cfg.AccessKeyIssuer, "issuer defaults to the integration name")
	assert.Equal(t, 16, cfg.IntegrationMaxLen)
	assert.Equal(t, "/etc/gateway/config.rego", cfg.ConfigPolicyFile)
}

func TestValidate(t *testing.T) {
	err := Config{AppDomain: "app.example.com"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQUATCH_CLIENT_ID is required")
	assert.NotContains(t, err.Error(), "SQUATCH_APP_DOMAIN")

	ok := Config{
		AppDomain: "a", ClientID: "b", ClientSecret: "c",
		JWTAudience: "d", JWTTokenURL: "e", IntegrationName: "f",
	}
	assert.NoError(t, ok.Validate())
}
