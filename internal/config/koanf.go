// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"firetap.yaml",
	"firetap.yml",
	"/etc/firetap/firetap.yaml",
	"/etc/firetap/firetap.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied first and then
// overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Host:   "localhost",
			Port:   27017,
			Name:   "firetap",
			AuthDB: "admin",
		},
		Stream: StreamConfig{
			ReadTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Stream:        "FIRETAP_OPS",
			MinQueued:     3,
			PollInterval:  250 * time.Millisecond,
			FindWorkers:   1,
			DeleteWorkers: 1,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9180",
		},
		Log: LogConfig{
			Format: "console",
		},
		ReportInterval: 30 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file
// and environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the config paths parsed as comma-separated
// slices when supplied through the environment.
var sliceConfigPaths = []string{
	"stream.filters",
}

// processSliceFields converts comma-separated strings to slices for the
// known slice fields. Env vars arrive as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config
// paths. Only mapped variables are consumed; everything else in the
// environment is ignored.
var envMappings = map[string]string{
	"db_host":       "db.host",
	"db_port":       "db.port",
	"db_name":       "db.name",
	"db_user":       "db.user",
	"db_password":   "db.password",
	"db_authdb":     "db.authdb",
	"db_expire_min": "db.expire.min_secs",
	"db_expire_max": "db.expire.max_secs",

	"stream_url":             "stream.url",
	"stream_filters":         "stream.filters",
	"stream_consumer_key":    "stream.consumer_key",
	"stream_consumer_secret": "stream.consumer_secret",
	"stream_access_token":    "stream.access_token",
	"stream_access_secret":   "stream.access_secret",
	"stream_timeout":         "stream.read_timeout",

	"queue_nats_url":       "queue.nats_url",
	"queue_stream":         "queue.stream",
	"queue_min_queued":     "queue.min_queued",
	"queue_poll_interval":  "queue.poll_interval",
	"queue_find_workers":   "queue.find_workers",
	"queue_delete_workers": "queue.delete_workers",

	"admin_enabled": "admin.enabled",
	"admin_addr":    "admin.addr",

	"verbose":         "log.verbose",
	"log_format":      "log.format",
	"log_file":        "log.file",
	"report_interval": "report_interval",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables are dropped by returning the empty string.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
