package identifier

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamehashKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "0000000000000000000000000000000000000000000000000000000000000000"},
		{"eth", "93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae"},
		{"foo.eth", "de9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Namehash(tt.name)
			assert.Equal(t, tt.want, hex.EncodeToString(got.Bytes()))
		})
	}
}

func TestDeriveName(t *testing.T) {
	key, err := DeriveName("foo.eth", 12)
	require.NoError(t, err)

	assert.Equal(t, "foo.eth", key.Normalized)
	assert.Equal(t, "de9b09fd7c5f901e23a3f19fecc54828", hex.EncodeToString(key.Bytes))
	assert.Len(t, key.Digest, 32)
	// Low 12 bits of ...f84f.
	assert.Equal(t, uint64(0x84f), key.Bucket)
}

func TestDeriveNameNormalizes(t *testing.T) {
	lower, err := DeriveName("foo.eth", 12)
	require.NoError(t, err)

	for _, raw := range []string{"FOO.ETH", "Foo.Eth", "  foo.eth  "} {
		key, err := DeriveName(raw, 12)
		require.NoError(t, err, raw)
		assert.Equal(t, lower.Normalized, key.Normalized, raw)
		assert.Equal(t, lower.Bytes, key.Bytes, raw)
		assert.Equal(t, lower.Bucket, key.Bucket, raw)
		assert.Equal(t, raw, key.Raw)
	}
}

func TestDeriveNameRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "foo..eth", ".eth", "foo.eth."} {
		_, err := DeriveName(raw, 12)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "%q", raw)
	}
}

func TestDeriveNameRequiredSuffix(t *testing.T) {
	cfg := Config{Variant: Name, BucketBits: 12, RequiredSuffix: ".eth"}

	_, err := Derive("vitalik.eth", cfg)
	require.NoError(t, err)

	_, err = Derive("example.com", cfg)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestDeriveAddress(t *testing.T) {
	const addr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

	key, err := DeriveAddress(addr, 14)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(addr))
	assert.Equal(t, sum[:8], key.Bytes)

	// Reverse the truncated digest, read it as a big integer, keep the low 14 bits.
	reversed := slices.Clone(sum[:8])
	slices.Reverse(reversed)
	want := new(big.Int).SetBytes(reversed)
	want.And(want, big.NewInt(1<<14-1))
	assert.Equal(t, want.Uint64(), key.Bucket)
}

func TestDeriveAddressWhitespace(t *testing.T) {
	trimmed, err := DeriveAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", 14)
	require.NoError(t, err)

	padded, err := DeriveAddress("\t1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa \n", 14)
	require.NoError(t, err)
	assert.Equal(t, trimmed.Bytes, padded.Bytes)

	for _, raw := range []string{"", "  ", "1A1zP1eP5 QGefi2DMPTfTL5SLmv7DivfNa", "bc1q\tabc"} {
		_, err := DeriveAddress(raw, 14)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "%q", raw)
	}
}

func TestDeriveAddressStrict(t *testing.T) {
	cfg := Config{Variant: Address, BucketBits: 14, StrictAddress: true}

	for _, addr := range []string{
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
	} {
		_, err := Derive(addr, cfg)
		assert.NoError(t, err, addr)
	}

	_, err := Derive("not-an-address", cfg)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	// Without strict mode any whitespace-free string is accepted.
	cfg.StrictAddress = false
	_, err = Derive("not-an-address", cfg)
	assert.NoError(t, err)
}

func TestBucketDeterministicAndInRange(t *testing.T) {
	names := []string{"a.eth", "b.eth", "example.eth", "vitalik.eth", "ünicode.eth", "x.y.z.eth"}
	addrs := []string{"1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", "bc1qxyz"}

	for _, bits := range []uint{1, 8, 12, 14, 20, 32} {
		for _, n := range names {
			first, err := DeriveName(n, bits)
			require.NoError(t, err)
			second, err := DeriveName(n, bits)
			require.NoError(t, err)
			assert.Equal(t, first.Bucket, second.Bucket)
			assert.Less(t, first.Bucket, uint64(1)<<bits)
		}
		for _, a := range addrs {
			first, err := DeriveAddress(a, bits)
			require.NoError(t, err)
			second, err := DeriveAddress(a, bits)
			require.NoError(t, err)
			assert.Equal(t, first.Bucket, second.Bucket)
			assert.Less(t, first.Bucket, uint64(1)<<bits)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"names", Config{Variant: Name, BucketBits: 12}, false},
		{"balances", Config{Variant: Address, BucketBits: 14}, false},
		{"zero bits", Config{Variant: Name}, true},
		{"too many bits", Config{Variant: Name, BucketBits: 33}, true},
		{"no variant", Config{BucketBits: 12}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, NameKeyWidth, Config{Variant: Name}.KeyWidth())
	assert.Equal(t, AddressKeyWidth, Config{Variant: Address}.KeyWidth())
	assert.Equal(t, uint64(4096), Config{BucketBits: 12}.NumBuckets())
}
