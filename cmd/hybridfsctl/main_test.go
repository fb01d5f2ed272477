package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetFlags() {
	flagConfig = ""
	flagSSD = ""
	flagHDD = ""
}

func TestLoadConfigFromFile(t *testing.T) {
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssd_path: /a\nhdd_path: /b\n"), 0o600))
	flagConfig = path

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "/a", cfg.SSDPath)
	require.Equal(t, "/b", cfg.HDDPath)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	defer resetFlags()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssd_path: /a\nhdd_path: /b\n"), 0o600))
	flagConfig = path
	flagSSD = "/override-ssd"

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "/override-ssd", cfg.SSDPath)
	require.Equal(t, "/b", cfg.HDDPath)
}

func TestLoadConfigFlagsOnlyNoFile(t *testing.T) {
	defer resetFlags()

	flagSSD = "/only-ssd"
	flagHDD = "/only-hdd"

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "/only-ssd", cfg.SSDPath)
	require.Equal(t, "/only-hdd", cfg.HDDPath)
}

func TestLoadConfigMissingEverythingFails(t *testing.T) {
	defer resetFlags()

	_, err := loadConfig()
	require.Error(t, err)
}
