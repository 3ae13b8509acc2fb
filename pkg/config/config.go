// Package config loads lookup configuration from TOML or YAML files.
//
// A file has four sections (client, server, dataset, log) and an optional
// profiles table. Profiles bundle the dataset-specific constants (bucket bits,
// record layout, item size) that client, server and builder must agree on.
// Two profiles are built in: "names" and "balances".
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and Load.
var ErrInvalidConfig = errors.New("invalid config")

// Duration wraps time.Duration to support "168h"-style strings in TOML and YAML.
type Duration struct {
	time.Duration
}

// Dur is shorthand for Duration{d}.
func Dur(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler (TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// File is the whole configuration file.
type File struct {
	Client   ClientConfig       `toml:"client" yaml:"client"`
	Server   ServerConfig       `toml:"server" yaml:"server"`
	Dataset  DatasetConfig      `toml:"dataset" yaml:"dataset"`
	Log      LogConfig          `toml:"log" yaml:"log"`
	Profiles map[string]Profile `toml:"profiles" yaml:"profiles"`
}

// ClientConfig configures the lookup client.
type ClientConfig struct {
	Profile   string `toml:"profile" yaml:"profile"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	Transport string `toml:"transport" yaml:"transport"` // http or grpc

	SetupTimeout Duration `toml:"setup_timeout" yaml:"setup_timeout"`
	QueryTimeout Duration `toml:"query_timeout" yaml:"query_timeout"`
	CheckTimeout Duration `toml:"check_timeout" yaml:"check_timeout"`

	// CredentialFile or CredentialDB selects durable credential storage; memory if both are empty.
	CredentialFile       string   `toml:"credential_file" yaml:"credential_file"`
	CredentialPassphrase string   `toml:"credential_passphrase" yaml:"credential_passphrase"`
	CredentialDB         string   `toml:"credential_db" yaml:"credential_db"`
	MaxValid             Duration `toml:"max_valid" yaml:"max_valid"`

	QueueLookups   bool     `toml:"queue_lookups" yaml:"queue_lookups"`
	Ephemeral      bool     `toml:"ephemeral" yaml:"ephemeral"`
	StrictAddress  bool     `toml:"strict_address" yaml:"strict_address"`
	BucketCacheMB  int      `toml:"bucket_cache_mb" yaml:"bucket_cache_mb"`
	BucketCacheTTL Duration `toml:"bucket_cache_ttl" yaml:"bucket_cache_ttl"`
}

// ServerConfig configures lookupd.
type ServerConfig struct {
	Profile    string `toml:"profile" yaml:"profile"`
	ListenAddr string `toml:"listen" yaml:"listen"`
	GRPCAddr   string `toml:"grpc_listen" yaml:"grpc_listen"`
	DataDir    string `toml:"data_dir" yaml:"data_dir"`

	SessionTTL   Duration `toml:"session_ttl" yaml:"session_ttl"`
	MaxBodyBytes int64    `toml:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit    float64  `toml:"rate_limit" yaml:"rate_limit"` // requests per second per client; 0 disables
	RateBurst    int      `toml:"rate_burst" yaml:"rate_burst"`
	AdminToken   string   `toml:"admin_token" yaml:"admin_token"`
	Workers      int      `toml:"workers" yaml:"workers"`

	// DisableEphemeral rejects queries that carry their public parameters inline.
	DisableEphemeral bool `toml:"disable_ephemeral" yaml:"disable_ephemeral"`

	TLSCert string `toml:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `toml:"tls_key" yaml:"tls_key"`
}

// DatasetConfig configures builddb.
type DatasetConfig struct {
	Profile     string  `toml:"profile" yaml:"profile"`
	Source      string  `toml:"source" yaml:"source"`
	OutputDir   string  `toml:"output_dir" yaml:"output_dir"`
	Price       float64 `toml:"price" yaml:"price"`
	SkipInvalid bool    `toml:"skip_invalid" yaml:"skip_invalid"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"` // json or text
	Env        string `toml:"env" yaml:"env"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Client: ClientConfig{
			Profile:        ProfileNames,
			Endpoint:       "http://localhost:8080",
			Transport:      "http",
			SetupTimeout:   Dur(2 * time.Minute),
			QueryTimeout:   Dur(time.Minute),
			CheckTimeout:   Dur(10 * time.Second),
			MaxValid:       Dur(7 * 24 * time.Hour),
			BucketCacheMB:  32,
			BucketCacheTTL: Dur(10 * time.Minute),
		},
		Server: ServerConfig{
			Profile:      ProfileNames,
			ListenAddr:   ":8080",
			DataDir:      "data",
			SessionTTL:   Dur(7 * 24 * time.Hour),
			MaxBodyBytes: 64 << 20,
			RateLimit:    5,
			RateBurst:    10,
		},
		Dataset: DatasetConfig{
			Profile:   ProfileNames,
			OutputDir: "data",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Env:        "dev",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (TOML or YAML by extension) over the defaults and validates the result.
func Load(path string) (File, error) {
	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return File{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return File{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return File{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return File{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return File{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}

	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Profile returns the named profile: a built-in one overlaid with any file override.
func (f File) Profile(name string) (Profile, error) {
	base, builtin := builtinProfiles()[name]
	over, custom := f.Profiles[name]
	if !builtin && !custom {
		return Profile{}, fmt.Errorf("%w: unknown profile %q", ErrInvalidConfig, name)
	}
	p := mergeProfile(base, over)
	p.Name = name
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks every section.
func (f File) Validate() error {
	names := []string{f.Client.Profile, f.Server.Profile, f.Dataset.Profile}
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names[3:])
	for _, name := range names {
		if _, err := f.Profile(name); err != nil {
			return err
		}
	}
	if err := f.Client.validate(); err != nil {
		return err
	}
	if err := f.Server.validate(); err != nil {
		return err
	}
	return f.Log.validate()
}

func (c ClientConfig) validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: client endpoint %q is not a URL", ErrInvalidConfig, c.Endpoint)
	}
	switch c.Transport {
	case "http":
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: http transport needs an http(s) endpoint, got %q", ErrInvalidConfig, c.Endpoint)
		}
	case "grpc":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.SetupTimeout.Duration <= 0 || c.QueryTimeout.Duration <= 0 || c.CheckTimeout.Duration <= 0 {
		return fmt.Errorf("%w: client timeouts must be positive", ErrInvalidConfig)
	}
	if c.MaxValid.Duration <= 0 {
		return fmt.Errorf("%w: max_valid must be positive", ErrInvalidConfig)
	}
	if c.CredentialFile != "" && c.CredentialDB != "" {
		return fmt.Errorf("%w: credential_file and credential_db are exclusive", ErrInvalidConfig)
	}
	if c.BucketCacheMB < 0 {
		return fmt.Errorf("%w: bucket_cache_mb must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (s ServerConfig) validate() error {
	if s.ListenAddr == "" && s.GRPCAddr == "" {
		return fmt.Errorf("%w: server needs listen or grpc_listen", ErrInvalidConfig)
	}
	if s.SessionTTL.Duration <= 0 {
		return fmt.Errorf("%w: session_ttl must be positive", ErrInvalidConfig)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
	}
	if s.RateLimit < 0 || (s.RateLimit > 0 && s.RateBurst <= 0) {
		return fmt.Errorf("%w: rate_limit needs a positive rate_burst", ErrInvalidConfig)
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return fmt.Errorf("%w: tls_cert and tls_key go together", ErrInvalidConfig)
	}
	return nil
}

func (l LogConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("%w: log format must be json or text", ErrInvalidConfig)
	}
	return nil
}
