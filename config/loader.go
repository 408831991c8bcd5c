package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "FEDGW",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw loads a JSON or YAML file as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}

	if err := parseDurations(rawConfig); err != nil {
		return nil, err
	}
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

var durationFields = map[string][]string{
	"nats":       {"reconnect_wait"},
	"federation": {"discovery_timeout", "fetch_timeout"},
	"adapter":    {"timeout"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, fields := range durationFields {
		sub, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range fields {
			s, ok := sub[field].(string)
			if !ok {
				continue
			}
			d, err := parseDurationWithDays(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, field, err)
			}
			sub[field] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "2d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(key string) (string, bool) {
		val := os.Getenv(l.envPrefix + "_" + key)
		if val == "" {
			return "", false
		}
		return val, true
	}
	invalid := func(key string, err error) error {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+key)
	}

	if val, ok := env("PLATFORM_ORG"); ok {
		cfg.Platform.Org = val
	}
	if val, ok := env("PLATFORM_ID"); ok {
		cfg.Platform.ID = val
	}

	if val, ok := env("NATS_URLS"); ok {
		cfg.NATS.URLs = splitList(val)
	}
	if val, ok := env("NATS_USERNAME"); ok {
		cfg.NATS.Username = val
	}
	if val, ok := env("NATS_PASSWORD"); ok {
		cfg.NATS.Password = val
	}
	if val, ok := env("NATS_TOKEN"); ok {
		cfg.NATS.Token = val
	}
	if val, ok := env("NATS_SUBJECT_PREFIX"); ok {
		cfg.NATS.SubjectPrefix = val
	}
	if val, ok := env("NATS_ROSTER_BUCKET"); ok {
		cfg.NATS.RosterBucket = val
	}

	if val, ok := env("DISCOVERY_URL"); ok {
		cfg.Federation.DiscoveryURL = val
	}
	if val, ok := env("DISCOVERY_TIMEOUT"); ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return invalid("DISCOVERY_TIMEOUT", err)
		}
		cfg.Federation.DiscoveryTimeout = d
	}
	if val, ok := env("FETCH_TIMEOUT"); ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return invalid("FETCH_TIMEOUT", err)
		}
		cfg.Federation.FetchTimeout = d
	}
	if val, ok := env("MAX_WORKERS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return invalid("MAX_WORKERS", err)
		}
		cfg.Federation.MaxWorkers = n
	}
	if val, ok := env("NEIGHBOURS"); ok {
		cfg.Federation.Neighbours = splitList(val)
	}

	if val, ok := env("HTTP_ADDR"); ok {
		cfg.HTTP.Addr = val
	}
	if val, ok := env("HTTP_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return invalid("HTTP_RATE_LIMIT", err)
		}
		cfg.HTTP.RateLimit = f
	}

	if val, ok := env("ADAPTER_URL"); ok {
		cfg.Adapter.URL = val
	}
	if val, ok := env("ADAPTER_TIMEOUT"); ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return invalid("ADAPTER_TIMEOUT", err)
		}
		cfg.Adapter.Timeout = d
	}
	if val, ok := env("ADAPTER_OBJECTS"); ok {
		cfg.Adapter.Objects = splitList(val)
	}

	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
