// Package record decodes the packed record streams returned by the lookup server.
//
// A decompressed bucket is a flat concatenation of variable-length records with
// no overall length prefix. Every record starts with a fixed-width key prefix
// followed by a variant-specific body:
//
//	name:    [key][addressCount u8][entryCount u32 BE][address?][entries...]
//	balance: [key][addressHash][balance u64 LE][txnCount u8][(height u32 LE, amount u64 LE)...]
//
// Decoding walks a cursor over the buffer and fails with ErrMalformedStream on
// any truncation or out-of-range value. It never returns a partial record.
package record

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/btcsuite/btcutil"
)

const (
	// AddressWidth is the width of an Ethereum address.
	AddressWidth = 20

	// DefaultMaxTransactions is the per-record transaction limit of the balances dataset.
	DefaultMaxTransactions = 5
)

var (
	// ErrMalformedStream is returned when a record stream cannot be decoded.
	ErrMalformedStream = errors.New("malformed record stream")

	// ErrInvalidLayout is returned when a layout is misconfigured.
	ErrInvalidLayout = errors.New("invalid record layout")

	// ErrInvalidRecord is returned when a record cannot be encoded.
	ErrInvalidRecord = errors.New("invalid record")
)

// NameLayout describes the wire layout of name records.
type NameLayout struct {
	// KeyWidth is the key prefix width (16 for namehash prefixes).
	KeyWidth int

	// AddressWidth is the width of the optional address.
	AddressWidth int

	// LengthPrefixWidth is the width of entry string length prefixes: 4 (big-endian) or 1.
	LengthPrefixWidth int
}

// DefaultNameLayout returns the layout used by the names dataset.
func DefaultNameLayout() NameLayout {
	return NameLayout{
		KeyWidth:          16,
		AddressWidth:      AddressWidth,
		LengthPrefixWidth: 4,
	}
}

// Validate checks the layout.
func (l NameLayout) Validate() error {
	if l.KeyWidth <= 0 {
		return fmt.Errorf("%w: key width must be positive", ErrInvalidLayout)
	}
	if l.AddressWidth <= 0 {
		return fmt.Errorf("%w: address width must be positive", ErrInvalidLayout)
	}
	if l.LengthPrefixWidth != 1 && l.LengthPrefixWidth != 4 {
		return fmt.Errorf("%w: length prefix width must be 1 or 4, got %d", ErrInvalidLayout, l.LengthPrefixWidth)
	}
	return nil
}

// BalanceLayout describes the wire layout and sanity bounds of balance records.
type BalanceLayout struct {
	// KeyWidth is the key prefix width (8 for truncated address hashes).
	KeyWidth int

	// AddressHashWidth is the width of an extra address hash field after the key.
	// The balances dataset does not carry one.
	AddressHashWidth int

	// MaxTransactions is the maximum transaction count per record.
	MaxTransactions int

	// MaxAmount bounds balances and transaction amounts (total supply in sats).
	MaxAmount uint64

	// HeightCeiling bounds transaction heights (the dataset's current block height).
	HeightCeiling uint32
}

// DefaultBalanceLayout returns the layout used by the balances dataset.
func DefaultBalanceLayout() BalanceLayout {
	return BalanceLayout{
		KeyWidth:        8,
		MaxTransactions: DefaultMaxTransactions,
		MaxAmount:       btcutil.MaxSatoshi,
		HeightCeiling:   math.MaxUint32,
	}
}

// Validate checks the layout.
func (l BalanceLayout) Validate() error {
	if l.KeyWidth <= 0 {
		return fmt.Errorf("%w: key width must be positive", ErrInvalidLayout)
	}
	if l.AddressHashWidth < 0 {
		return fmt.Errorf("%w: address hash width must not be negative", ErrInvalidLayout)
	}
	if l.MaxTransactions <= 0 || l.MaxTransactions > math.MaxUint8 {
		return fmt.Errorf("%w: max transactions must be in [1, 255], got %d", ErrInvalidLayout, l.MaxTransactions)
	}
	return nil
}

// NameRecord is a decoded name record.
type NameRecord struct {
	// KeyPrefix identifies the name this record belongs to.
	KeyPrefix []byte

	// Address is the resolved address, nil when the record has none.
	Address []byte

	// Entries holds the text records.
	Entries map[string]string
}

// Key returns the record key prefix.
func (r NameRecord) Key() []byte { return r.KeyPrefix }

// HasAddress reports whether the record carries an address.
func (r NameRecord) HasAddress() bool { return r.Address != nil }

// EntryKeys returns the entry keys in sorted order.
func (r NameRecord) EntryKeys() []string {
	keys := make([]string, 0, len(r.Entries))
	for k := range r.Entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Transaction is one balance change.
type Transaction struct {
	Height uint32 `json:"height"`
	Amount uint64 `json:"amount"`
}

// BalanceRecord is a decoded balance record.
type BalanceRecord struct {
	// KeyPrefix identifies the address this record belongs to.
	KeyPrefix []byte

	// AddressHash is the optional extra hash field (empty in the balances dataset).
	AddressHash []byte

	// Balance is the confirmed balance in satoshis.
	Balance uint64

	// Transactions are sorted by descending height.
	Transactions []Transaction
}

// Key returns the record key prefix.
func (r BalanceRecord) Key() []byte { return r.KeyPrefix }

// SortTransactions orders transactions by descending height.
func SortTransactions(txns []Transaction) {
	slices.SortStableFunc(txns, func(a, b Transaction) int {
		switch {
		case a.Height > b.Height:
			return -1
		case a.Height < b.Height:
			return 1
		default:
			return 0
		}
	})
}
