// Package config loads and validates gateway configuration.
//
// Configuration is layered: built-in defaults, then each file layer (JSON or
// YAML, chosen by extension), then FEDGW_* environment overrides. Duration
// fields accept Go duration strings ("30s", "5m") or a day suffix ("1d").
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/pkg/security"
)

// Defaults
const (
	DefaultDiscoveryURL     = "http://gateway-services.vicinity.linkeddata.es/discovery"
	DefaultDiscoveryTimeout = 30 * time.Minute
	DefaultMaxWorkers       = 300
	DefaultSubjectPrefix    = "gateway"
	DefaultRosterBucket     = "GATEWAY_ROSTER"
	DefaultHTTPAddr         = ":8181"
	DefaultMaxRequestSize   = 1 << 20
	DefaultAdapterTimeout   = 30 * time.Second
)

// Config represents the complete gateway configuration
type Config struct {
	Platform   PlatformConfig   `json:"platform"`
	NATS       NATSConfig       `json:"nats"`
	Federation FederationConfig `json:"federation"`
	HTTP       HTTPConfig       `json:"http"`
	Adapter    AdapterConfig    `json:"adapter"`
}

// PlatformConfig identifies this gateway on the overlay
type PlatformConfig struct {
	Org string `json:"org"`
	ID  string `json:"id"`
}

// NATSConfig defines the overlay connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	// SubjectPrefix roots every property subject: <prefix>.objects.<oid>.properties.<pid>
	SubjectPrefix string `json:"subject_prefix,omitempty"`
	// RosterBucket is the JetStream KV bucket listing online neighbours.
	// It is used when federation.neighbours is empty.
	RosterBucket string `json:"roster_bucket,omitempty"`

	TLS security.ClientTLSConfig `json:"tls,omitempty"`
}

// FederationConfig tunes the federated query pipeline
type FederationConfig struct {
	DiscoveryURL     string        `json:"discovery_url"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout"`
	MaxWorkers       int           `json:"max_workers"`
	// FetchTimeout bounds one remote property read. Zero leaves the bound to the transport.
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty"`
	// Neighbours pins a static roster
	Neighbours []string `json:"neighbours,omitempty"`
}

// HTTPConfig configures the REST binding
type HTTPConfig struct {
	Addr           string  `json:"addr"`
	MaxRequestSize int64   `json:"max_request_size"`
	RateLimit      float64 `json:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	RateBurst      int     `json:"rate_burst,omitempty"`

	TLS security.ServerTLSConfig `json:"tls,omitempty"`
}

// AdapterConfig points at the local adapter that owns this gateway's objects.
// An empty URL disables the peer responder.
type AdapterConfig struct {
	URL     string        `json:"url,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	// Objects are the object IDs this gateway answers neighbours' reads for
	Objects []string `json:"objects,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			SubjectPrefix: DefaultSubjectPrefix,
			RosterBucket:  DefaultRosterBucket,
		},
		Federation: FederationConfig{
			DiscoveryURL:     DefaultDiscoveryURL,
			DiscoveryTimeout: DefaultDiscoveryTimeout,
			MaxWorkers:       DefaultMaxWorkers,
		},
		HTTP: HTTPConfig{
			Addr:           DefaultHTTPAddr,
			MaxRequestSize: DefaultMaxRequestSize,
		},
		Adapter: AdapterConfig{
			Timeout: DefaultAdapterTimeout,
		},
	}
}

// Validate checks if the config is valid and normalizes identifiers
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "platform.id is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if c.Platform.Org != "" && !isValidNATSSubjectPart(c.Platform.Org) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("platform.org %q is not valid for NATS subjects", c.Platform.Org))
	}

	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.urls is required")
	}
	if !isValidNATSSubjectPart(c.NATS.SubjectPrefix) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("nats.subject_prefix %q is not valid for NATS subjects", c.NATS.SubjectPrefix))
	}

	if c.Federation.DiscoveryURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "federation.discovery_url is required")
	}
	if c.Federation.MaxWorkers <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"federation.max_workers must be positive")
	}
	if c.Federation.DiscoveryTimeout < 0 || c.Federation.FetchTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"federation timeouts cannot be negative")
	}

	if c.HTTP.MaxRequestSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"http.max_request_size must be positive")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"http rate limits cannot be negative")
	}

	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"http.tls.cert_file and http.tls.key_file are required when http.tls is enabled")
	}
	if c.NATS.TLS.MTLS.Enabled && (c.NATS.TLS.MTLS.CertFile == "" || c.NATS.TLS.MTLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.tls.mtls.cert_file and nats.tls.mtls.key_file are required when nats.tls.mtls is enabled")
	}

	if c.Adapter.URL != "" {
		u, err := url.Parse(c.Adapter.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("adapter.url %q must be an absolute http(s) URL", c.Adapter.URL))
		}
	}
	if c.Adapter.URL != "" && len(c.Adapter.Objects) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"adapter.objects is required when adapter.url is set")
	}
	if c.Adapter.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"adapter.timeout cannot be negative")
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
