package passd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wazoopass/passes/compose"
	"wazoopass/passes/roles"
	"wazoopass/passes/store"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigYAMLDefaults(t *testing.T) {
	path := writeFile(t, "passd.yaml", `
listen: ":9000"
avatar:
  timeout: "3s"
compositor:
  template: "assets/base.jpg"
  layout:
    avatar_anchor: { x: 10, y: 20 }
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 3*time.Second, cfg.Avatar.Timeout.Duration)
	require.Equal(t, store.DriverBolt, cfg.Store.Driver)
	require.Equal(t, "passes.db", cfg.Store.Path)
	require.Equal(t, "generated", cfg.OutputDir)
	require.Equal(t, roles.DefaultPriority(), cfg.Roles)
	require.Equal(t, 200, cfg.Compositor.Layout.AvatarSize)
	require.Equal(t, 10, cfg.Compositor.Layout.AvatarAnchor.X)
	require.Equal(t, 28.0, cfg.Compositor.Layout.Role.Size)
}

func TestLoadConfigWithoutLayoutUsesCalibratedLayout(t *testing.T) {
	path := writeFile(t, "passd.yaml", `
compositor:
  template: "base.jpg"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, compose.DefaultLayout(), cfg.Compositor.Layout)

	path = writeFile(t, "passd.toml", `
[compositor]
template = "base.jpg"
`)
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, compose.DefaultLayout(), cfg.Compositor.Layout)
}

func TestLoadConfigPartialLayoutKeepsCalibration(t *testing.T) {
	path := writeFile(t, "passd.yaml", `
compositor:
  layout:
    avatar_anchor: { x: 10, y: 20 }
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	want := compose.DefaultLayout()
	want.AvatarAnchor = compose.Point{X: 10, Y: 20}
	require.Equal(t, want, cfg.Compositor.Layout)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeFile(t, "passd.toml", `
listen = ":9100"
output_dir = "out"

[store]
driver = "json"

[avatar]
timeout = "750ms"

[[roles]]
label = "Artist"
tier = "Creator"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.ListenAddress)
	require.Equal(t, "data.json", cfg.Store.Path)
	require.Equal(t, 750*time.Millisecond, cfg.Avatar.Timeout.Duration)
	require.Equal(t, []roles.Rule{{Label: "Artist", Tier: "Creator"}}, cfg.Roles)
}

func TestLoadConfigAuthSecretIndirection(t *testing.T) {
	t.Setenv("PASSD_TEST_SECRET", " from-env ")
	path := writeFile(t, "passd.yaml", `
auth:
  enabled: true
  hmac_secret_env: PASSD_TEST_SECRET
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)

	secretFile := writeFile(t, "secret", "from-file\n")
	path = writeFile(t, "passd.yaml", "auth:\n  enabled: true\n  hmac_secret_file: "+secretFile+"\n")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Auth.HMACSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"auth without secret": "auth:\n  enabled: true\n",
		"postgres without dsn": "store:\n  driver: postgres\n",
		"bad sample ratio":     "telemetry:\n  sample_ratio: 2\n",
		"bad base url":         "public_base_url: passes.example.com\n",
		"bad duration":         "avatar:\n  timeout: soon\n",
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "passd.yaml", body))
			require.Error(t, err)
		})
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
