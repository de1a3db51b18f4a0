// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package config defines the Firetap configuration surface and its
// Koanf v2 loader. Settings layer as defaults, then an optional YAML
// file, then environment variables (highest priority).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration for the firetap process.
type Config struct {
	DB     DBConfig     `koanf:"db"`
	Stream StreamConfig `koanf:"stream"`
	Queue  QueueConfig  `koanf:"queue"`
	Admin  AdminConfig  `koanf:"admin"`
	Log    LogConfig    `koanf:"log"`

	// ReportInterval is how often the listener emits a throughput
	// report.
	ReportInterval time.Duration `koanf:"report_interval"`
}

// DBConfig holds MongoDB connection and schema settings.
type DBConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	AuthDB   string `koanf:"authdb"`

	Expire ExpireConfig `koanf:"expire"`
}

// Address returns the host:port endpoint of the configured router or
// node.
func (d DBConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// ExpireConfig bounds the random per-document TTL. Both bounds must be
// set (seconds, > 0) for expiry to be active.
type ExpireConfig struct {
	MinSecs int `koanf:"min_secs"`
	MaxSecs int `koanf:"max_secs"`
}

// Enabled reports whether TTL expiry is configured.
func (e ExpireConfig) Enabled() bool {
	return e.MinSecs > 0 && e.MaxSecs > 0
}

// StreamConfig holds firehose connection settings.
type StreamConfig struct {
	// URL is the websocket endpoint of the firehose.
	URL string `koanf:"url"`

	// Filters are the track terms the stream is filtered on.
	// Comma-separated when supplied via environment.
	Filters []string `koanf:"filters"`

	ConsumerKey    string `koanf:"consumer_key"`
	ConsumerSecret string `koanf:"consumer_secret"`
	AccessToken    string `koanf:"access_token"`
	AccessSecret   string `koanf:"access_secret"`

	// ReadTimeout is the stream read deadline. A connection with no
	// traffic for this long is considered dead.
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

// QueueConfig holds work-queue and worker-pool settings.
type QueueConfig struct {
	// NATSURL, when set, backs the work queue with a NATS JetStream
	// work-queue stream so producers and workers may live in separate
	// processes. Empty means in-process memory queue.
	NATSURL string `koanf:"nats_url"`

	// Stream is the JetStream stream name for queued operations.
	Stream string `koanf:"stream"`

	// MinQueued is the queue depth a worker waits for before it starts
	// draining. Batching knob, not a correctness one.
	MinQueued int `koanf:"min_queued"`

	// PollInterval is the sleep between worker depth polls.
	PollInterval time.Duration `koanf:"poll_interval"`

	FindWorkers   int `koanf:"find_workers"`
	DeleteWorkers int `koanf:"delete_workers"`
}

// AdminConfig holds the health/metrics/ops HTTP surface settings.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Verbose switches the level to debug.
	Verbose bool   `koanf:"verbose"`
	Format  string `koanf:"format"`
	File    string `koanf:"file"`
}

// Level returns the effective zerolog level name.
func (l LogConfig) Level() string {
	if l.Verbose {
		return "debug"
	}
	return "info"
}

// Validate checks the configuration for fatal mistakes. A non-nil
// return aborts startup before any pipeline runs.
func (c *Config) Validate() error {
	var errs []error

	if c.DB.Host == "" {
		errs = append(errs, errors.New("db.host must not be empty"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("db.port %d out of range", c.DB.Port))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("db.name must not be empty"))
	}
	if (c.DB.User == "") != (c.DB.Password == "") {
		errs = append(errs, errors.New("db.user and db.password must be set together"))
	}

	// Partial expiry bounds are a configuration mistake, not a silent
	// no-op.
	if (c.DB.Expire.MinSecs > 0) != (c.DB.Expire.MaxSecs > 0) {
		errs = append(errs, errors.New("db.expire.min_secs and db.expire.max_secs must be set together"))
	}
	if c.DB.Expire.Enabled() && c.DB.Expire.MinSecs > c.DB.Expire.MaxSecs {
		errs = append(errs, fmt.Errorf("db.expire.min_secs %d exceeds max_secs %d",
			c.DB.Expire.MinSecs, c.DB.Expire.MaxSecs))
	}

	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url must not be empty"))
	}
	if len(c.Stream.Filters) == 0 {
		errs = append(errs, errors.New("no stream filters configured"))
	}
	for _, field := range []struct{ name, val string }{
		{"stream.consumer_key", c.Stream.ConsumerKey},
		{"stream.consumer_secret", c.Stream.ConsumerSecret},
		{"stream.access_token", c.Stream.AccessToken},
		{"stream.access_secret", c.Stream.AccessSecret},
	} {
		if field.val == "" {
			errs = append(errs, fmt.Errorf("required credential %s not specified", field.name))
		}
	}
	if c.Stream.ReadTimeout <= 0 {
		errs = append(errs, errors.New("stream.read_timeout must be positive"))
	}

	if c.ReportInterval <= 0 {
		errs = append(errs, errors.New("report_interval must be positive"))
	}
	if c.Queue.MinQueued < 0 {
		errs = append(errs, errors.New("queue.min_queued must not be negative"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval must be positive"))
	}

	return errors.Join(errs...)
}
