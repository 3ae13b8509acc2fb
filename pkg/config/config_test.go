package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprl/lookup/pkg/identifier"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestBuiltinProfiles(t *testing.T) {
	cfg := Default()

	names, err := cfg.Profile(ProfileNames)
	require.NoError(t, err)
	assert.Equal(t, identifier.Name, names.VariantValue())
	assert.EqualValues(t, 12, names.BucketBits)
	assert.Equal(t, 16, names.NameLayout().KeyWidth)
	assert.Equal(t, 20, names.NameLayout().AddressWidth)
	assert.Equal(t, 4, names.NameLayout().LengthPrefixWidth)
	assert.Equal(t, ".eth", names.Identifier(false).RequiredSuffix)

	balances, err := cfg.Profile(ProfileBalances)
	require.NoError(t, err)
	assert.Equal(t, identifier.Address, balances.VariantValue())
	assert.EqualValues(t, 14, balances.BucketBits)
	assert.Equal(t, 8, balances.BalanceLayout().KeyWidth)
	assert.Equal(t, 0, balances.BalanceLayout().AddressHashWidth)
	assert.Equal(t, 5, balances.BalanceLayout().MaxTransactions)
	assert.True(t, balances.Identifier(true).StrictAddress)

	_, err = cfg.Profile("nope")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "lookup.toml", `
[client]
profile = "balances"
endpoint = "https://lookup.example:8443"
query_timeout = "90s"
max_valid = "168h"
queue_lookups = true

[server]
listen = ":9090"
admin_token = "secret"

[log]
level = "debug"

[profiles.balances]
item_size = 2048
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "balances", cfg.Client.Profile)
	assert.Equal(t, 90*time.Second, cfg.Client.QueryTimeout.Duration)
	assert.Equal(t, 168*time.Hour, cfg.Client.MaxValid.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Client.SetupTimeout.Duration, "unset keys keep defaults")
	assert.True(t, cfg.Client.QueueLookups)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)

	p, err := cfg.Profile(ProfileBalances)
	require.NoError(t, err)
	assert.Equal(t, 2048, p.ItemSize)
	assert.EqualValues(t, 14, p.BucketBits, "override keeps built-in fields")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lookup.yaml", `
client:
  transport: grpc
  endpoint: grpc://localhost:9091
  setup_timeout: 5m
profiles:
  custom:
    variant: name
    bucket_bits: 8
    item_size: 256
    compression: zstd
    storage_key: custom
    key_width: 16
    address_width: 20
    length_prefix_width: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "grpc", cfg.Client.Transport)
	assert.Equal(t, 5*time.Minute, cfg.Client.SetupTimeout.Duration)

	p, err := cfg.Profile("custom")
	require.NoError(t, err)
	assert.Equal(t, 1, p.NameLayout().LengthPrefixWidth)
	assert.Equal(t, "custom", p.Name)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown toml key", "a.toml", "[client]\nendpointt = \"x\"\n"},
		{"unknown yaml key", "a.yaml", "client:\n  endpointt: x\n"},
		{"bad duration", "a.toml", "[client]\nquery_timeout = \"soon\"\n"},
		{"bad extension", "a.json", "{}"},
		{"bad transport", "a.toml", "[client]\ntransport = \"carrier-pigeon\"\n"},
		{"http transport with grpc url", "a.toml", "[client]\nendpoint = \"grpc://x:1\"\n"},
		{"zero timeout", "a.toml", "[client]\nquery_timeout = \"0s\"\n"},
		{"exclusive credential stores", "a.toml", "[client]\ncredential_file = \"a\"\ncredential_db = \"b\"\n"},
		{"tls half configured", "a.toml", "[server]\ntls_cert = \"c.pem\"\n"},
		{"bad log level", "a.toml", "[log]\nlevel = \"loud\"\n"},
		{"unknown profile", "a.toml", "[server]\nprofile = \"nope\"\n"},
		{"bad profile override", "a.toml", "[profiles.names]\nbucket_bits = 40\n"},
		{"key width too wide", "a.toml", "[profiles.balances]\nkey_width = 9\n"},
		{"bad compression", "a.toml", "[profiles.names]\ncompression = \"rar\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidateChecksEveryProfile(t *testing.T) {
	f := Default()
	require.Equal(t, ProfileNames, f.Client.Profile)
	f.Profiles = map[string]Profile{ProfileBalances: {KeyWidth: 9}}
	assert.ErrorIs(t, f.Validate(), ErrInvalidConfig)

	f.Profiles = map[string]Profile{ProfileBalances: {KeyWidth: 4}}
	assert.NoError(t, f.Validate())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", string(text))

	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d.Duration)
}
