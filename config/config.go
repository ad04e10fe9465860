// Package config holds the configuration surface for the history service and
// its UI tracker. Config is parsed from JSON text whose keys mirror the
// dotted option names used by the host application.
package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config carries every tunable with its parsed value. Durations are millis
// on the wire; use the accessor methods for time.Duration values.
type Config struct {
	// Timeline service.
	Enabled            bool    `json:"timeline.enabled"`
	Endpoint           string  `json:"timeline.endpoint"`
	Version            float64 `json:"timeline.version"`
	BatchSize          int     `json:"timeline.batch.size"`
	PostLimit          int     `json:"timeline.post.limit"`
	RetryIntervalMs    int64   `json:"timeline.post.retry.interval"`
	RetryIntervalMaxMs int64   `json:"timeline.post.retry.max.interval"`
	ShutdownWaitMs     int64   `json:"timeline.shutdown.waittime"`
	Domain             string  `json:"timeline.domain"`
	Listen             bool    `json:"timeline.listen"`

	// ACLs for domain creation.
	AclsEnable bool   `json:"ui.acls.enable"`
	AdminAcls  string `json:"admin.acls"`
	ViewAcls   string `json:"ui.view.acls"`
	ModifyAcls string `json:"modify.acls"`

	// Extension services and UI retention.
	ExtensionServices  string `json:"extension.services"`
	RetainedSessions   int    `json:"ui.retained.sessions"`
	RetainedStatements int    `json:"ui.retained.statements"`

	// Overrides the process user for domain ACLs.
	UserName string `json:"user.name"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Enabled:            true,
		Endpoint:           "http://localhost:8188",
		Version:            1.0,
		BatchSize:          100,
		PostLimit:          10000,
		RetryIntervalMs:    1000,
		RetryIntervalMaxMs: 60000,
		ShutdownWaitMs:     30000,
		Listen:             true,
		RetainedSessions:   200,
		RetainedStatements: 200,
	}
}

// Parse unmarshals JSON config text over the defaults. Empty text yields the
// defaults unchanged.
func Parse(text []byte) (*Config, error) {
	c := DefaultConfig()
	if len(text) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(text, c); err != nil {
		return nil, errors.Wrap(err, "couldn't parse config")
	}
	return c, nil
}

// Validate rejects values that would break the service at start. Zero is a
// meaningful setting for the retry interval, the post limit and the shutdown
// wait, so only negatives are rejected there.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("timeline.batch.size must be positive, got %d", c.BatchSize)
	}
	if c.PostLimit < 0 {
		return errors.Errorf("timeline.post.limit must not be negative, got %d", c.PostLimit)
	}
	if c.RetryIntervalMs < 0 {
		return errors.Errorf("timeline.post.retry.interval must not be negative, got %d", c.RetryIntervalMs)
	}
	if c.RetryIntervalMaxMs <= 0 {
		return errors.Errorf("timeline.post.retry.max.interval must be positive, got %d", c.RetryIntervalMaxMs)
	}
	if c.ShutdownWaitMs < 0 {
		return errors.Errorf("timeline.shutdown.waittime must not be negative, got %d", c.ShutdownWaitMs)
	}
	if c.RetainedSessions <= 0 || c.RetainedStatements <= 0 {
		return errors.New("ui retention limits must be positive")
	}
	return nil
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

func (c *Config) RetryIntervalMax() time.Duration {
	return time.Duration(c.RetryIntervalMaxMs) * time.Millisecond
}

func (c *Config) ShutdownWait() time.Duration {
	return time.Duration(c.ShutdownWaitMs) * time.Millisecond
}

// V15Enabled reports whether the timeline v1.5 summary/detail protocol is on.
func (c *Config) V15Enabled() bool {
	return c.Version >= 1.5
}

// SplitList splits a comma-separated config value, dropping empties.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
