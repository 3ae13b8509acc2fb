package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// AppendName appends the wire form of rec to buf.
func AppendName(buf []byte, rec NameRecord, layout NameLayout) ([]byte, error) {
	if len(rec.KeyPrefix) != layout.KeyWidth {
		return nil, fmt.Errorf("%w: key is %d bytes, layout wants %d", ErrInvalidRecord, len(rec.KeyPrefix), layout.KeyWidth)
	}
	if rec.Address != nil && len(rec.Address) != layout.AddressWidth {
		return nil, fmt.Errorf("%w: address is %d bytes, layout wants %d", ErrInvalidRecord, len(rec.Address), layout.AddressWidth)
	}
	if rec.Address == nil && len(rec.Entries) == 0 {
		return nil, fmt.Errorf("%w: record has neither address nor entries", ErrInvalidRecord)
	}

	buf = append(buf, rec.KeyPrefix...)
	if rec.Address != nil {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Entries)))
	if rec.Address != nil {
		buf = append(buf, rec.Address...)
	}

	// Sorted keys keep the encoding deterministic.
	for _, k := range rec.EntryKeys() {
		var err error
		if buf, err = appendString(buf, k, layout.LengthPrefixWidth); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, rec.Entries[k], layout.LengthPrefixWidth); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendString(buf []byte, s string, prefixWidth int) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidRecord, s)
	}
	if prefixWidth == 1 {
		if len(s) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: string of %d bytes does not fit a 1-byte length", ErrInvalidRecord, len(s))
		}
		buf = append(buf, uint8(len(s)))
	} else {
		if uint64(len(s)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: string of %d bytes does not fit a 4-byte length", ErrInvalidRecord, len(s))
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	}
	return append(buf, s...), nil
}

// EncodeNames encodes records into one stream.
func EncodeNames(records []NameRecord, layout NameLayout) ([]byte, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	var buf []byte
	for i, rec := range records {
		var err error
		if buf, err = AppendName(buf, rec, layout); err != nil {
			return nil, fmt.Errorf("name record %d: %w", i, err)
		}
	}
	return buf, nil
}

// AppendBalance appends the wire form of rec to buf.
func AppendBalance(buf []byte, rec BalanceRecord, layout BalanceLayout) ([]byte, error) {
	if len(rec.KeyPrefix) != layout.KeyWidth {
		return nil, fmt.Errorf("%w: key is %d bytes, layout wants %d", ErrInvalidRecord, len(rec.KeyPrefix), layout.KeyWidth)
	}
	if len(rec.AddressHash) != layout.AddressHashWidth {
		return nil, fmt.Errorf("%w: address hash is %d bytes, layout wants %d", ErrInvalidRecord, len(rec.AddressHash), layout.AddressHashWidth)
	}
	if len(rec.Transactions) == 0 || len(rec.Transactions) > layout.MaxTransactions {
		return nil, fmt.Errorf("%w: %d transactions, want 1..%d", ErrInvalidRecord, len(rec.Transactions), layout.MaxTransactions)
	}

	buf = append(buf, rec.KeyPrefix...)
	buf = append(buf, rec.AddressHash...)
	buf = binary.LittleEndian.AppendUint64(buf, rec.Balance)
	buf = append(buf, uint8(len(rec.Transactions)))
	for _, tx := range rec.Transactions {
		buf = binary.LittleEndian.AppendUint32(buf, tx.Height)
		buf = binary.LittleEndian.AppendUint64(buf, tx.Amount)
	}
	return buf, nil
}

// EncodeBalances encodes records into one stream.
func EncodeBalances(records []BalanceRecord, layout BalanceLayout) ([]byte, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	var buf []byte
	for i, rec := range records {
		var err error
		if buf, err = AppendBalance(buf, rec, layout); err != nil {
			return nil, fmt.Errorf("balance record %d: %w", i, err)
		}
	}
	return buf, nil
}
