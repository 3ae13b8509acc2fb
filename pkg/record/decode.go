package record

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// cursor reads fixed-width fields from a buffer and tracks the read offset.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) done() bool { return c.off >= len(c.buf) }

func (c *cursor) take(n int, field string) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, %d left", ErrMalformedStream, field, n, c.off, c.remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8(field string) (uint8, error) {
	b, err := c.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u32be(field string) (uint32, error) {
	b, err := c.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) u32le(field string) (uint32, error) {
	b, err := c.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64le(field string) (uint64, error) {
	b, err := c.take(8, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// copyOf returns an owned copy so decoded records do not alias the input buffer.
func copyOf(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// DecodeNames decodes every name record in data.
func DecodeNames(data []byte, layout NameLayout) ([]NameRecord, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	var records []NameRecord
	c := &cursor{buf: data}
	for !c.done() {
		start := c.off
		rec, err := decodeName(c, layout)
		if err != nil {
			return nil, fmt.Errorf("name record %d at offset %d: %w", len(records), start, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeName(c *cursor, layout NameLayout) (NameRecord, error) {
	key, err := c.take(layout.KeyWidth, "key")
	if err != nil {
		return NameRecord{}, err
	}
	addrCount, err := c.u8("address count")
	if err != nil {
		return NameRecord{}, err
	}
	if addrCount > 1 {
		return NameRecord{}, fmt.Errorf("%w: address count %d", ErrMalformedStream, addrCount)
	}
	entryCount, err := c.u32be("entry count")
	if err != nil {
		return NameRecord{}, err
	}
	if addrCount == 0 && entryCount == 0 {
		return NameRecord{}, fmt.Errorf("%w: record has neither address nor entries", ErrMalformedStream)
	}

	rec := NameRecord{KeyPrefix: copyOf(key)}
	if addrCount == 1 {
		addr, err := c.take(layout.AddressWidth, "address")
		if err != nil {
			return NameRecord{}, err
		}
		rec.Address = copyOf(addr)
	}

	// Every entry costs at least two length prefixes; reject counts the buffer cannot hold
	// before allocating for them.
	minEntryBytes := uint64(2 * layout.LengthPrefixWidth)
	if uint64(entryCount)*minEntryBytes > uint64(c.remaining()) {
		return NameRecord{}, fmt.Errorf("%w: entry count %d exceeds remaining %d bytes", ErrMalformedStream, entryCount, c.remaining())
	}

	rec.Entries = make(map[string]string, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		k, err := readString(c, layout.LengthPrefixWidth, "entry key")
		if err != nil {
			return NameRecord{}, err
		}
		v, err := readString(c, layout.LengthPrefixWidth, "entry value")
		if err != nil {
			return NameRecord{}, err
		}
		rec.Entries[k] = v
	}
	return rec, nil
}

func readString(c *cursor, prefixWidth int, field string) (string, error) {
	var n uint32
	var err error
	if prefixWidth == 1 {
		var b uint8
		b, err = c.u8(field + " length")
		n = uint32(b)
	} else {
		n, err = c.u32be(field + " length")
	}
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(c.remaining()) {
		return "", fmt.Errorf("%w: %s length %d exceeds remaining %d bytes", ErrMalformedStream, field, n, c.remaining())
	}
	b, err := c.take(int(n), field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedStream, field)
	}
	return string(b), nil
}

// DecodeBalances decodes every balance record in data.
func DecodeBalances(data []byte, layout BalanceLayout) ([]BalanceRecord, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	var records []BalanceRecord
	c := &cursor{buf: data}
	for !c.done() {
		start := c.off
		rec, err := decodeBalance(c, layout)
		if err != nil {
			return nil, fmt.Errorf("balance record %d at offset %d: %w", len(records), start, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeBalance(c *cursor, layout BalanceLayout) (BalanceRecord, error) {
	key, err := c.take(layout.KeyWidth, "key")
	if err != nil {
		return BalanceRecord{}, err
	}
	addrHash, err := c.take(layout.AddressHashWidth, "address hash")
	if err != nil {
		return BalanceRecord{}, err
	}
	balance, err := c.u64le("balance")
	if err != nil {
		return BalanceRecord{}, err
	}
	if balance > layout.MaxAmount {
		return BalanceRecord{}, fmt.Errorf("%w: balance %d exceeds maximum %d", ErrMalformedStream, balance, layout.MaxAmount)
	}
	count, err := c.u8("transaction count")
	if err != nil {
		return BalanceRecord{}, err
	}
	if count == 0 {
		return BalanceRecord{}, fmt.Errorf("%w: record has no transactions", ErrMalformedStream)
	}
	if int(count) > layout.MaxTransactions {
		return BalanceRecord{}, fmt.Errorf("%w: %d transactions exceeds maximum %d", ErrMalformedStream, count, layout.MaxTransactions)
	}

	txns := make([]Transaction, 0, count)
	for i := 0; i < int(count); i++ {
		height, err := c.u32le("transaction height")
		if err != nil {
			return BalanceRecord{}, err
		}
		if height > layout.HeightCeiling {
			return BalanceRecord{}, fmt.Errorf("%w: height %d is above ceiling %d", ErrMalformedStream, height, layout.HeightCeiling)
		}
		amount, err := c.u64le("transaction amount")
		if err != nil {
			return BalanceRecord{}, err
		}
		if amount > layout.MaxAmount {
			return BalanceRecord{}, fmt.Errorf("%w: amount %d exceeds maximum %d", ErrMalformedStream, amount, layout.MaxAmount)
		}
		txns = append(txns, Transaction{Height: height, Amount: amount})
	}
	SortTransactions(txns)

	rec := BalanceRecord{
		KeyPrefix:    copyOf(key),
		Balance:      balance,
		Transactions: txns,
	}
	if layout.AddressHashWidth > 0 {
		rec.AddressHash = copyOf(addrHash)
	}
	return rec, nil
}
