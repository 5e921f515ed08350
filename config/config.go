/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config defines the fedcore configuration file format and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Database holds C4 object store connection settings.
type Database struct {
	Path            string        `yaml:"path" validate:"required"`
	Options         string        `yaml:"options"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Cache holds C3 cache backend settings.
type Cache struct {
	Backend   string        `yaml:"backend" validate:"omitempty,oneof=memory redis noop"`
	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"ttl"`
	MaxItems  int           `yaml:"max_items" validate:"gte=0"`
	RedisAddr string        `yaml:"redis_addr"`
}

// Storage holds media-adjacent settings the core exposes but does not act on
// beyond persisting the attachment row (storage backends are out of scope).
type Storage struct {
	MaxAvatarSize int64 `yaml:"max_avatar_size" validate:"gte=0"`
}

// Messaging tunes the delivery engine (C7) and its HTTP client.
type Messaging struct {
	DeliveryWorkers      int           `yaml:"delivery_workers" validate:"gte=1"`
	DeliveryChunkSize    int           `yaml:"delivery_chunk_size" validate:"gte=1"`
	DeliveryTimeout      time.Duration `yaml:"delivery_timeout"`
	MaxDeliveryAttempts  int           `yaml:"max_delivery_attempts" validate:"gte=1"`
	BreakerFailThreshold uint32        `yaml:"breaker_fail_threshold" validate:"gte=1"`
	BreakerOpenTimeout   time.Duration `yaml:"breaker_open_timeout"`
}

// URL holds the instance's own canonical addressing.
type URL struct {
	Domain string `yaml:"domain" validate:"required"`
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`
}

// Instance holds NodeInfo/WebFinger-facing metadata.
type Instance struct {
	Title           string `yaml:"title"`
	Description     string `yaml:"description"`
	StatisticsMode  string `yaml:"statistics_mode" validate:"omitempty,oneof=Random Regular Zero"`
	OpenRegistration bool  `yaml:"open_registration"`
}

// JobQueue tunes the durable job queue (C8).
type JobQueue struct {
	NumWorkers          int           `yaml:"num_workers" validate:"gte=1"`
	LeaseDuration        time.Duration `yaml:"lease_duration"`
	ReclaimInterval       time.Duration `yaml:"reclaim_interval"`
	MoverInterval         time.Duration `yaml:"mover_interval"`
	MaxRetryHorizon       time.Duration `yaml:"max_retry_horizon"`
	SoftExecutionTimeout  time.Duration `yaml:"soft_execution_timeout"`
}

// FederationFilter configures C2's allow/deny host policy.
type FederationFilter struct {
	Mode    string   `yaml:"mode" validate:"omitempty,oneof=allow deny"`
	Domains []string `yaml:"domains"`
}

// LanguageDetection configures the default and fallback language used when
// persisting posts whose declared language cannot be mapped.
type LanguageDetection struct {
	DefaultLanguage string `yaml:"default_language"`
}

// OpenTelemetry is parsed but no collector export is wired: when Enabled is
// set, cmd/fedcore logs a warning, and metrics are always recorded against
// the global (no-op) meter provider.
type OpenTelemetry struct {
	Enabled        bool   `yaml:"enabled"`
	CollectorAddr  string `yaml:"collector_addr"`
	ServiceName    string `yaml:"service_name"`
}

// Captcha, Email, Embed and OIDC are accepted and parsed so a shared ops
// team can edit one document for the whole instance, but nothing in this
// module consumes them; the components that would are out of scope.
type (
	Captcha struct {
		Provider string `yaml:"provider"`
		SiteKey  string `yaml:"site_key"`
	}

	Email struct {
		SMTPAddr string `yaml:"smtp_addr"`
		From     string `yaml:"from"`
	}

	Embed struct {
		Enabled bool `yaml:"enabled"`
	}

	OIDC struct {
		IssuerURL    string `yaml:"issuer_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	}
)

// Config represents a fedcore configuration file.
type Config struct {
	Database          Database           `yaml:"database" validate:"required"`
	Cache             Cache              `yaml:"cache"`
	Storage           Storage            `yaml:"storage"`
	Messaging         Messaging          `yaml:"messaging"`
	URL               URL                `yaml:"url" validate:"required"`
	Instance          Instance           `yaml:"instance"`
	JobQueue          JobQueue           `yaml:"job_queue"`
	FederationFilter  FederationFilter   `yaml:"federation_filter"`
	LanguageDetection LanguageDetection  `yaml:"language_detection"`

	Captcha       *Captcha       `yaml:"captcha,omitempty"`
	Email         *Email         `yaml:"email,omitempty"`
	Embed         *Embed         `yaml:"embed,omitempty"`
	OIDC          *OIDC          `yaml:"oidc,omitempty"`
	OpenTelemetry *OpenTelemetry `yaml:"open_telemetry,omitempty"`

	MaxRequestBodySize  int64         `yaml:"max_request_body_size" validate:"gte=0"`
	MaxRequestAge       time.Duration `yaml:"max_request_age"`
	MaxResponseBodySize int64         `yaml:"max_response_body_size" validate:"gte=0"`

	ResolverCacheTTL     time.Duration `yaml:"resolver_cache_ttl"`
	ActorStalenessPeriod time.Duration `yaml:"actor_staleness_period"`
	MaxReplyDepth        int           `yaml:"max_reply_depth" validate:"gte=1"`
	WebFingerCacheTTL    time.Duration `yaml:"webfinger_cache_ttl"`

	MaxForwardingDepth int `yaml:"max_forwarding_depth" validate:"gte=0"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration document from path, fills in
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c.FillDefaults()

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &c, nil
}

// FillDefaults replaces missing or invalid settings with defaults.
func (c *Config) FillDefaults() {
	if c.Database.Options == "" {
		c.Database.Options = "_journal_mode=WAL&_synchronous=1&_busy_timeout=5000"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 16
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 4
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "fedcore"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.MaxItems <= 0 {
		c.Cache.MaxItems = 10000
	}

	if c.Storage.MaxAvatarSize <= 0 {
		c.Storage.MaxAvatarSize = 2 * 1024 * 1024
	}

	if c.Messaging.DeliveryWorkers <= 0 {
		c.Messaging.DeliveryWorkers = 4
	}
	if c.Messaging.DeliveryChunkSize <= 0 {
		c.Messaging.DeliveryChunkSize = 10
	}
	if c.Messaging.DeliveryTimeout <= 0 {
		c.Messaging.DeliveryTimeout = time.Minute * 5
	}
	if c.Messaging.MaxDeliveryAttempts <= 0 {
		c.Messaging.MaxDeliveryAttempts = 5
	}
	if c.Messaging.BreakerFailThreshold <= 0 {
		c.Messaging.BreakerFailThreshold = 5
	}
	if c.Messaging.BreakerOpenTimeout <= 0 {
		c.Messaging.BreakerOpenTimeout = time.Minute
	}

	if c.URL.Scheme == "" {
		c.URL.Scheme = "https"
	}

	if c.Instance.StatisticsMode == "" {
		c.Instance.StatisticsMode = "Regular"
	}

	if c.JobQueue.NumWorkers <= 0 {
		c.JobQueue.NumWorkers = 4
	}
	if c.JobQueue.LeaseDuration <= 0 {
		c.JobQueue.LeaseDuration = time.Minute * 15
	}
	if c.JobQueue.ReclaimInterval <= 0 {
		c.JobQueue.ReclaimInterval = time.Minute * 2
	}
	if c.JobQueue.MoverInterval <= 0 {
		c.JobQueue.MoverInterval = time.Second * 7
	}
	if c.JobQueue.MaxRetryHorizon <= 0 {
		c.JobQueue.MaxRetryHorizon = time.Hour * 24
	}
	if c.JobQueue.SoftExecutionTimeout <= 0 {
		c.JobQueue.SoftExecutionTimeout = time.Second * 30
	}

	if c.FederationFilter.Mode == "" {
		c.FederationFilter.Mode = "deny"
	}

	if c.LanguageDetection.DefaultLanguage == "" {
		c.LanguageDetection.DefaultLanguage = "eng"
	}

	if c.MaxRequestBodySize <= 0 {
		c.MaxRequestBodySize = 1024 * 1024
	}
	if c.MaxRequestAge <= 0 {
		c.MaxRequestAge = time.Minute * 15
	}
	if c.MaxResponseBodySize <= 0 {
		c.MaxResponseBodySize = 1024 * 1024
	}

	if c.ResolverCacheTTL <= 0 {
		c.ResolverCacheTTL = time.Hour * 24 * 3
	}
	if c.ActorStalenessPeriod <= 0 {
		c.ActorStalenessPeriod = time.Hour * 24
	}
	if c.MaxReplyDepth <= 0 {
		c.MaxReplyDepth = 15
	}
	if c.WebFingerCacheTTL <= 0 {
		c.WebFingerCacheTTL = time.Minute * 10
	}

	if c.MaxForwardingDepth <= 0 {
		c.MaxForwardingDepth = 5
	}
}
