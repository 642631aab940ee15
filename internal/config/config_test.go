// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv(EnvXNATURL, "")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingBaseURL))
}

func TestLoadRejectsBadURLs(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"no scheme", "cnda.wustl.edu"},
		{"bad scheme", "ftp://cnda.wustl.edu"},
		{"no host", "https://"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvXNATURL, tc.url)
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBaseURL))
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvXNATURL, "https://cnda.wustl.edu/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://cnda.wustl.edu", cfg.BaseURL, "trailing slash trimmed")
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xnat_url: https://file.example.org\nconcurrency: 2\nretries: 7\n"), 0o644))

	t.Setenv(EnvXNATURL, "https://env.example.org")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.org", cfg.BaseURL, "env wins over file")
	assert.Equal(t, 2, cfg.Concurrency, "file wins over default")
	assert.Equal(t, 7, cfg.Retries)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	t.Setenv(EnvXNATURL, "https://cnda.wustl.edu")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
}

func TestValidateClampsConcurrency(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 1},
		{-3, 1},
		{5, 5},
		{99, 10},
	}
	for _, tc := range cases {
		cfg := defaults()
		cfg.BaseURL = "https://cnda.wustl.edu"
		cfg.Concurrency = tc.in
		require.NoError(t, cfg.Validate())
		assert.Equal(t, tc.want, cfg.Concurrency)
	}
}

func TestValidateRejectsUnknownTraceExporter(t *testing.T) {
	cfg := defaults()
	cfg.BaseURL = "https://cnda.wustl.edu"
	cfg.TraceExporter = "udp"
	require.Error(t, cfg.Validate())
}

func TestLogSettingsHonourFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nlog_file: /var/log/cnda-dl.log\n"), 0o644))

	t.Setenv("CNDADL_LOG_LEVEL", "")
	t.Setenv("CNDADL_LOG_FILE", "")

	level, file := LogSettings(path)
	assert.Equal(t, "debug", level, "file wins over default")
	assert.Equal(t, "/var/log/cnda-dl.log", file)

	t.Setenv("CNDADL_LOG_LEVEL", "warn")
	t.Setenv("CNDADL_LOG_FILE", "/tmp/override.log")

	level, file = LogSettings(path)
	assert.Equal(t, "warn", level, "env wins over file")
	assert.Equal(t, "/tmp/override.log", file)
}

func TestLogSettingsDefaults(t *testing.T) {
	t.Setenv("CNDADL_LOG_LEVEL", "")
	t.Setenv("CNDADL_LOG_FILE", "")

	level, file := LogSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, "info", level)
	assert.Contains(t, file, "cnda-dl.log")
}

func TestParseHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("CNDADL_TEST_INT", "not-a-number")
	assert.Equal(t, 42, ParseInt("CNDADL_TEST_INT", 42))

	t.Setenv("CNDADL_TEST_BOOL", "maybe")
	assert.True(t, ParseBool("CNDADL_TEST_BOOL", true))

	t.Setenv("CNDADL_TEST_DUR", "later")
	assert.Equal(t, time.Minute, ParseDuration("CNDADL_TEST_DUR", time.Minute))

	t.Setenv("CNDADL_TEST_FLOAT", "x")
	assert.Equal(t, 1.5, ParseFloat("CNDADL_TEST_FLOAT", 1.5))
}
