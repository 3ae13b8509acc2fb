package config

import (
	"fmt"

	"github.com/sprl/lookup/pkg/compress"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/record"
)

// Built-in profile names.
const (
	ProfileNames    = "names"
	ProfileBalances = "balances"
)

// Profile holds the constants a dataset's client, server and builder share.
// Zero fields in a file override keep the built-in value.
type Profile struct {
	Name string `toml:"-" yaml:"-"`

	// Variant is "name" or "address".
	Variant        string `toml:"variant" yaml:"variant"`
	BucketBits     uint   `toml:"bucket_bits" yaml:"bucket_bits"`
	ItemSize       int    `toml:"item_size" yaml:"item_size"`
	RequiredSuffix string `toml:"required_suffix" yaml:"required_suffix"`
	Compression    string `toml:"compression" yaml:"compression"`
	StorageKey     string `toml:"storage_key" yaml:"storage_key"`

	KeyWidth          int `toml:"key_width" yaml:"key_width"`
	AddressWidth      int `toml:"address_width" yaml:"address_width"`
	LengthPrefixWidth int `toml:"length_prefix_width" yaml:"length_prefix_width"`
	AddressHashWidth  int `toml:"address_hash_width" yaml:"address_hash_width"`
	MaxTransactions   int `toml:"max_transactions" yaml:"max_transactions"`
}

func builtinProfiles() map[string]Profile {
	names := record.DefaultNameLayout()
	balances := record.DefaultBalanceLayout()
	return map[string]Profile{
		ProfileNames: {
			Variant:           identifier.Name.String(),
			BucketBits:        12,
			ItemSize:          1024,
			RequiredSuffix:    ".eth",
			Compression:       "zlib",
			StorageKey:        "lookup.names",
			KeyWidth:          names.KeyWidth,
			AddressWidth:      names.AddressWidth,
			LengthPrefixWidth: names.LengthPrefixWidth,
		},
		ProfileBalances: {
			Variant:          identifier.Address.String(),
			BucketBits:       14,
			ItemSize:         512,
			Compression:      "zlib",
			StorageKey:       "lookup.balances",
			KeyWidth:         balances.KeyWidth,
			AddressHashWidth: balances.AddressHashWidth,
			MaxTransactions:  balances.MaxTransactions,
		},
	}
}

func mergeProfile(base, over Profile) Profile {
	p := base
	if over.Variant != "" {
		p.Variant = over.Variant
	}
	if over.BucketBits != 0 {
		p.BucketBits = over.BucketBits
	}
	if over.ItemSize != 0 {
		p.ItemSize = over.ItemSize
	}
	if over.RequiredSuffix != "" {
		p.RequiredSuffix = over.RequiredSuffix
	}
	if over.Compression != "" {
		p.Compression = over.Compression
	}
	if over.StorageKey != "" {
		p.StorageKey = over.StorageKey
	}
	if over.KeyWidth != 0 {
		p.KeyWidth = over.KeyWidth
	}
	if over.AddressWidth != 0 {
		p.AddressWidth = over.AddressWidth
	}
	if over.LengthPrefixWidth != 0 {
		p.LengthPrefixWidth = over.LengthPrefixWidth
	}
	if over.AddressHashWidth != 0 {
		p.AddressHashWidth = over.AddressHashWidth
	}
	if over.MaxTransactions != 0 {
		p.MaxTransactions = over.MaxTransactions
	}
	return p
}

// VariantValue returns the identifier variant.
func (p Profile) VariantValue() identifier.Variant {
	switch p.Variant {
	case "name":
		return identifier.Name
	case "address":
		return identifier.Address
	default:
		return 0
	}
}

// Identifier returns the key derivation config. strictAddress comes from the client.
func (p Profile) Identifier(strictAddress bool) identifier.Config {
	return identifier.Config{
		Variant:        p.VariantValue(),
		BucketBits:     p.BucketBits,
		RequiredSuffix: p.RequiredSuffix,
		StrictAddress:  strictAddress,
	}
}

// NameLayout returns the name record layout.
func (p Profile) NameLayout() record.NameLayout {
	return record.NameLayout{
		KeyWidth:          p.KeyWidth,
		AddressWidth:      p.AddressWidth,
		LengthPrefixWidth: p.LengthPrefixWidth,
	}
}

// BalanceLayout returns the balance record layout. The height ceiling is left
// open; clients narrow it from the dataset info.
func (p Profile) BalanceLayout() record.BalanceLayout {
	l := record.DefaultBalanceLayout()
	l.KeyWidth = p.KeyWidth
	l.AddressHashWidth = p.AddressHashWidth
	l.MaxTransactions = p.MaxTransactions
	return l
}

// PIR returns the retrieval parameters.
func (p Profile) PIR() pir.Params {
	return pir.Params{BucketBits: p.BucketBits, ItemSize: p.ItemSize}
}

// Validate checks that the profile is internally consistent.
func (p Profile) Validate() error {
	id := p.Identifier(false)
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: profile %q: %w", ErrInvalidConfig, p.Name, err)
	}
	if err := p.PIR().Validate(); err != nil {
		return fmt.Errorf("%w: profile %q: %w", ErrInvalidConfig, p.Name, err)
	}
	if _, err := compress.ParseAlgorithm(p.Compression); err != nil {
		return fmt.Errorf("%w: profile %q: %w", ErrInvalidConfig, p.Name, err)
	}
	if p.KeyWidth <= 0 || p.KeyWidth > id.KeyWidth() {
		return fmt.Errorf("%w: profile %q: key width must be in [1, %d]", ErrInvalidConfig, p.Name, id.KeyWidth())
	}
	var err error
	if id.Variant == identifier.Name {
		err = p.NameLayout().Validate()
	} else {
		err = p.BalanceLayout().Validate()
	}
	if err != nil {
		return fmt.Errorf("%w: profile %q: %w", ErrInvalidConfig, p.Name, err)
	}
	if p.StorageKey == "" {
		return fmt.Errorf("%w: profile %q: storage key required", ErrInvalidConfig, p.Name)
	}
	return nil
}
