// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.Server.HTTPAddr)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Replay.BatchSize)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
log:
  level: debug
  format: json
storage:
  type: badger
  badger_dir: /tmp/rewind-test
  compression: zstd
replay:
  batch_size: 64
  max_attempts: 3
  initial_backoff: 50ms
  transaction_header: x-transaction-id
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, "zstd", cfg.Storage.Compression)
	assert.Equal(t, 64, cfg.Replay.BatchSize)
	assert.Equal(t, 3, cfg.Replay.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Replay.InitialBackoff)
	assert.Equal(t, "x-transaction-id", cfg.Replay.TransactionHeader)

	// Unset fields keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.Replay.MaxBackoff)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "etcd"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBadgerDir(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "badger"
	cfg.Storage.BadgerDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownCompression(t *testing.T) {
	cfg := Default()
	cfg.Storage.Compression = "lz4"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadReplayPolicy(t *testing.T) {
	cfg := Default()
	cfg.Replay.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Replay.MaxAttempts = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSampleRate(t *testing.T) {
	cfg := Default()
	cfg.Server.OtelTraceSampleRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
