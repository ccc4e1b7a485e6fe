package blobsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserBlob(t *testing.T, root, userID, name, content string) {
	t.Helper()
	dir := filepath.Join(root, userID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLocal_List(t *testing.T) {
	root := t.TempDir()
	writeUserBlob(t, root, "user-1", "adapter_model.bin", "weights")
	writeUserBlob(t, root, "user-1", "adapter_config.json", "{}")

	src := NewLocal(root, t.TempDir(), LayoutSharedBucket)
	objects, err := src.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestLocal_List_NoBundle(t *testing.T) {
	root := t.TempDir()
	src := NewLocal(root, t.TempDir(), LayoutSharedBucket)
	src.Retry.MaxAttempts = 1

	_, err := src.List(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBundle)
}

func TestLocal_VersionTagStableAcrossListings(t *testing.T) {
	root := t.TempDir()
	writeUserBlob(t, root, "user-1", "a.bin", "content-a")
	writeUserBlob(t, root, "user-1", "b.bin", "content-bb")

	src := NewLocal(root, t.TempDir(), LayoutSharedBucket)
	first, err := src.List(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := src.List(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, VersionTag(first), VersionTag(second))
}

func TestLocal_Materialize(t *testing.T) {
	root := t.TempDir()
	writeUserBlob(t, root, "user-1", "adapter_model.bin", "weights-data")
	writeUserBlob(t, root, "user-1", "adapter_config.json", `{"r":8}`)

	src := NewLocal(root, t.TempDir(), LayoutSharedBucket)
	destDir := t.TempDir()

	err := src.Materialize(context.Background(), "user-1", destDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(destDir, "adapter_model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "weights-data", string(data))

	cfg, err := os.ReadFile(filepath.Join(destDir, "adapter_config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":8}`, string(cfg))
}

func TestLocal_Materialize_NoBundle(t *testing.T) {
	root := t.TempDir()
	src := NewLocal(root, t.TempDir(), LayoutSharedBucket)
	src.Retry.MaxAttempts = 1

	err := src.Materialize(context.Background(), "ghost", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBundle)
}

func TestScratchDir_EncodesUserAndVersionPrefix(t *testing.T) {
	dir := ScratchDir("/scratch", "user-42", "abcdef0123456789")
	assert.Contains(t, dir, "user-42_abcdef01_")
}
