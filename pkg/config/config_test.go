package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("APP_CONFIG_NAME", "does-not-exist")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, EnvDev, c.Env)
	require.Equal(t, 8888, c.Server.Port)
	require.Equal(t, 5*time.Second, c.Database.TxTimeout)
	require.Equal(t, 300*time.Second, c.Stripe.WebhookTolerance)
	require.Equal(t, "@every 30m", c.Reconcile.SweepSpec)
	require.Equal(t, 40, c.Database.MaxOpenConns)
}

func TestNew_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
env: prod
server:
  port: 9000
stripe:
  webhook_secret: whsec_file
  api_timeout: 2s
`), 0o600))

	t.Setenv("APP_CONFIG_FILE", file)
	t.Setenv("APP_STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("APP_DATABASE_TX_TIMEOUT", "750ms")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, EnvProd, c.Env)
	require.Equal(t, 9000, c.Server.Port)
	require.Equal(t, "whsec_env", c.Stripe.WebhookSecret)
	require.Equal(t, 2*time.Second, c.Stripe.APITimeout)
	require.Equal(t, 750*time.Millisecond, c.Database.TxTimeout)
}
