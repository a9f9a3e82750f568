package utils

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/config"
)

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	backend, dir, interval := config.STORE_BACKEND, config.STORE_DATA_DIR, config.STORE_SAVE_INTERVAL
	sizes := config.HISTORY_BUCKET_SIZES
	t.Cleanup(func() {
		config.STORE_BACKEND, config.STORE_DATA_DIR, config.STORE_SAVE_INTERVAL = backend, dir, interval
		config.HISTORY_BUCKET_SIZES = sizes
	})

	viper.Set("STORE_BACKEND", "leveldb")
	viper.Set("STORE_SAVE_INTERVAL", "30s")
	viper.Set("HISTORY_BUCKET_SIZES", "60, 3600")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "leveldb", config.STORE_BACKEND)
	assert.Equal(t, 30*time.Second, config.STORE_SAVE_INTERVAL)
	assert.Equal(t, []uint32{60, 3600}, config.HISTORY_BUCKET_SIZES)
	assert.Equal(t, dir, config.STORE_DATA_DIR, "unset keys keep their defaults")
}

func TestLoadConfigRejectsBadBuckets(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	sizes := config.HISTORY_BUCKET_SIZES
	t.Cleanup(func() { config.HISTORY_BUCKET_SIZES = sizes })

	dev := config.LOG_DEVELOPMENT
	t.Cleanup(func() { config.LOG_DEVELOPMENT = dev })

	viper.Set("LOG_DEVELOPMENT", true)
	viper.Set("HISTORY_BUCKET_SIZES", "60,zero")
	assert.Error(t, LoadConfig())
	assert.True(t, config.LOG_DEVELOPMENT, "logging mode is applied before the failing key")

	viper.Set("HISTORY_BUCKET_SIZES", "0")
	assert.Error(t, LoadConfig())
}
