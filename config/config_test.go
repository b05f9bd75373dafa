package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default(4)
	assert.Equal(t, 4, c.Dimension)
	assert.Equal(t, defaultLeafSize, c.LeafSize)
	assert.Equal(t, defaultMaxCacheSize, c.MaxCacheSize)
	assert.Equal(t, defaultAutoFlushEvery, c.AutoFlushEvery)
	assert.Equal(t, "disk", c.Storage)
}

func TestInitializeThenLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, 8))

	c, err := Load(dir, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Dimension)
	assert.Equal(t, defaultLeafSize, c.LeafSize)
	assert.Equal(t, defaultMaxCacheSize, c.MaxCacheSize)
	assert.Equal(t, defaultAutoFlushEvery, c.AutoFlushEvery)
	assert.Equal(t, "disk", c.Storage)
	assert.Equal(t, dir, c.RootDirectoryPath())
}

func TestInitializeRefusesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, 8))
	require.Error(t, Initialize(dir, 8))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	contents := "leaf-size 32\n" +
		"max-cache-size 256\n" +
		"auto-flush-every 10\n" +
		"auto-flush-interval 5s\n" +
		"storage paired\n" +
		"s3-bucket my-bucket\n" +
		"s3-region us-west-2\n" +
		"s3-profile default\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte(contents), 0600))

	c, err := Load(dir, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 32, c.LeafSize)
	assert.EqualValues(t, 256, c.MaxCacheSize)
	assert.EqualValues(t, 10, c.AutoFlushEvery)
	assert.Equal(t, 5*time.Second, c.AutoFlushInterval)
	assert.Equal(t, "paired", c.Storage)
	assert.Equal(t, "my-bucket", c.S3Bucket)
	assert.Equal(t, "us-west-2", c.S3Region)
	assert.Equal(t, "default", c.S3Profile)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte("bogus-key value\n"), 0600))
	_, err := Load(dir, 4)
	require.Error(t, err)
}

func TestLoadAbsentConfigFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, Default(4).LeafSize, c.LeafSize)
}
