package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	tcerrors "github.com/hpungsan/tcap/internal/errors"
)

// EnvPrefix is the prefix for environment overrides (TCAP_API_URL, ...).
const EnvPrefix = "TCAP"

// placeholderMarker identifies values left over from an unfilled deployment template.
const placeholderMarker = "YOUR_"

// Config holds application configuration.
type Config struct {
	// APIURL is the REST backend base URL; request paths are appended verbatim.
	APIURL string `json:"api_url"`

	// UserPoolID identifies the hosted user pool (e.g. "us-east-1_AbCdEf123").
	UserPoolID string `json:"user_pool_id"`

	// ClientID is the user pool app client. It must not have a client secret.
	ClientID string `json:"client_id"`

	// S3Bucket is the bucket behind uploaded attachments, used to derive public URLs.
	S3Bucket string `json:"s3_bucket"`

	// Region of the user pool. Derived from UserPoolID when empty.
	Region string `json:"region,omitempty"`

	// SessionCheckTimeoutSeconds bounds the startup session check.
	// The check fails open to "logged out" when it expires.
	SessionCheckTimeoutSeconds int `json:"session_check_timeout_seconds,omitempty"`

	// Timezone is the IANA zone used for form dates. Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
// Deployment values have no defaults; they must come from the file or environment.
func DefaultConfig() *Config {
	return &Config{
		SessionCheckTimeoutSeconds: 10,
	}
}

// Load loads configuration from baseDir/config.json, then applies TCAP_* environment overrides.
// Returns default config if the file doesn't exist. Load does not validate; call Validate.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tcap.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(cfg, envConfig()), nil
}

// envConfig reads deployment overrides from the environment via Viper.
func envConfig() *Config {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return &Config{
		APIURL:                     v.GetString("api_url"),
		UserPoolID:                 v.GetString("user_pool_id"),
		ClientID:                   v.GetString("client_id"),
		S3Bucket:                   v.GetString("s3_bucket"),
		Region:                     v.GetString("region"),
		Timezone:                   v.GetString("timezone"),
		SessionCheckTimeoutSeconds: v.GetInt("session_check_timeout_seconds"),
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		APIURL:     pick(overlay.APIURL, base.APIURL),
		UserPoolID: pick(overlay.UserPoolID, base.UserPoolID),
		ClientID:   pick(overlay.ClientID, base.ClientID),
		S3Bucket:   pick(overlay.S3Bucket, base.S3Bucket),
		Region:     pick(overlay.Region, base.Region),
		Timezone:   pick(overlay.Timezone, base.Timezone),
	}

	result.SessionCheckTimeoutSeconds = overlay.SessionCheckTimeoutSeconds
	if result.SessionCheckTimeoutSeconds == 0 {
		result.SessionCheckTimeoutSeconds = base.SessionCheckTimeoutSeconds
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// Validate reports a CONFIG error naming every deployment value that is missing
// or still a template placeholder. Nothing may issue requests with such a config.
func (c *Config) Validate() error {
	var bad []string
	check := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" || strings.Contains(strings.ToUpper(value), placeholderMarker) {
			bad = append(bad, name)
		}
	}
	check("api_url", c.APIURL)
	check("user_pool_id", c.UserPoolID)
	check("client_id", c.ClientID)
	check("s3_bucket", c.S3Bucket)

	if len(bad) > 0 {
		return tcerrors.NewConfig("Configuration incomplete. Please check the deployment.", bad...)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return tcerrors.NewConfig("invalid timezone: "+c.Timezone, "timezone")
		}
	}
	return nil
}

// ResolvedRegion returns Region, or the region prefix of UserPoolID
// ("us-east-1_AbC" → "us-east-1").
func (c *Config) ResolvedRegion() string {
	if c.Region != "" {
		return c.Region
	}
	if region, _, ok := strings.Cut(c.UserPoolID, "_"); ok {
		return region
	}
	return ""
}

// BaseURL returns APIURL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/")
}

// SessionCheckTimeout returns the startup session check deadline.
func (c *Config) SessionCheckTimeout() time.Duration {
	if c.SessionCheckTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SessionCheckTimeoutSeconds) * time.Second
}

// Location returns the zone for form dates. Invalid names fall back to time.Local;
// Validate rejects them earlier.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func pick(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
