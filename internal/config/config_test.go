package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Core.MaxHandles)
	assert.Equal(t, 1200, cfg.Core.IdleSeconds)
	assert.Equal(t, "local", cfg.Store.Impl)
	assert.Equal(t, "single_bucket", cfg.Store.Layout)
	assert.Equal(t, 4, cfg.Decode.NumBeams)
	assert.True(t, cfg.Decode.EarlyStopping)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MAX_HANDLES", "16")
	t.Setenv("OBJECT_STORE_IMPL", "s3")
	t.Setenv("LORA_LAYOUT", "bucket_per_user")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Core.MaxHandles)
	assert.Equal(t, "s3", cfg.Store.Impl)
	assert.Equal(t, "bucket_per_user", cfg.Store.Layout)
}

func TestValidate_RejectsBadStoreImpl(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Store.Impl = "ftp"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadDtype(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Model.Dtype = "int8"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroMaxHandles(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Core.MaxHandles = 0
	assert.Error(t, cfg.Validate())
}

func TestService_ExportRedactsSecrets(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Store.Impl = "s3"
	cfg.Store.AccessKey = "AKIAEXAMPLE"
	cfg.Store.SecretKey = "supersecret"

	svc := NewService(cfg, time.Now(), SourceEnv)
	resp, err := svc.Export("json")
	require.NoError(t, err)

	store, ok := resp.Config["store"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redacted, store["access_key_id"])
	assert.Equal(t, redacted, store["secret_access_key"])
}

func TestService_VersionStableForIdenticalConfig(t *testing.T) {
	cfg1, err := Load("")
	require.NoError(t, err)
	cfg2, err := Load("")
	require.NoError(t, err)

	s1 := NewService(cfg1, time.Now(), SourceDefaults)
	s2 := NewService(cfg2, time.Now(), SourceDefaults)
	assert.Equal(t, s1.Version(), s2.Version())
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
