package pir

import (
	"encoding/binary"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

const (
	// PlaintextModulus is the BFV plaintext modulus. Each slot carries 16 bits.
	PlaintextModulus = 65537

	// BytesPerSlot is the payload carried by one slot.
	BytesPerSlot = 2

	// MinLogN is the smallest ring degree used.
	MinLogN = 13

	// MaxBucketBits is the largest supported bucket exponent.
	MaxBucketBits = 15

	// itemHeaderSize is the payload length prefix of a framed item.
	itemHeaderSize = 4
)

// Params are the protocol parameters shared by client and server.
type Params struct {
	// BucketBits is the bucket exponent; the database has 2^BucketBits items.
	BucketBits uint

	// ItemSize is the size of one framed item in bytes.
	ItemSize int
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.BucketBits == 0 || p.BucketBits > MaxBucketBits {
		return fmt.Errorf("%w: bucket bits must be in [1, %d], got %d", ErrInvalidParams, MaxBucketBits, p.BucketBits)
	}
	if p.ItemSize <= itemHeaderSize {
		return fmt.Errorf("%w: item size must exceed %d bytes, got %d", ErrInvalidParams, itemHeaderSize, p.ItemSize)
	}
	return nil
}

// NumBuckets returns 2^BucketBits.
func (p Params) NumBuckets() uint64 { return 1 << p.BucketBits }

// Rows returns the number of plaintext rows needed to hold one item.
func (p Params) Rows() int { return (p.ItemSize + BytesPerSlot - 1) / BytesPerSlot }

// MaxPayload returns the largest payload a framed item can hold.
func (p Params) MaxPayload() int { return p.ItemSize - itemHeaderSize }

// LogN returns the ring degree exponent: enough slots for every bucket.
func (p Params) LogN() int {
	return max(MinLogN, int(p.BucketBits))
}

// BFV builds the lattigo parameters.
func (p Params) BFV() (bfv.Parameters, error) {
	if err := p.Validate(); err != nil {
		return bfv.Parameters{}, err
	}
	params, err := bfv.NewParametersFromLiteral(bfv.ParametersLiteral{
		LogN:             p.LogN(),
		LogQ:             []int{54, 54},
		LogP:             []int{55},
		PlaintextModulus: PlaintextModulus,
	})
	if err != nil {
		return bfv.Parameters{}, fmt.Errorf("failed to create BFV parameters: %w", err)
	}
	return params, nil
}

// FrameItem wraps payload as [length u32 BE][payload][zero padding] of exactly itemSize bytes.
func FrameItem(payload []byte, itemSize int) ([]byte, error) {
	if len(payload)+itemHeaderSize > itemSize {
		return nil, fmt.Errorf("%w: %d byte payload does not fit a %d byte item", ErrItemTooLarge, len(payload), itemSize)
	}
	item := make([]byte, itemSize)
	binary.BigEndian.PutUint32(item, uint32(len(payload)))
	copy(item[itemHeaderSize:], payload)
	return item, nil
}

// UnframeItem returns the payload of a framed item. An all-zero item is an empty payload.
func UnframeItem(item []byte) ([]byte, error) {
	if len(item) < itemHeaderSize {
		return nil, fmt.Errorf("%w: item of %d bytes has no header", ErrInvalidResponse, len(item))
	}
	n := binary.BigEndian.Uint32(item)
	if uint64(n) > uint64(len(item)-itemHeaderSize) {
		return nil, fmt.Errorf("%w: payload length %d exceeds item", ErrInvalidResponse, n)
	}
	return item[itemHeaderSize : itemHeaderSize+int(n)], nil
}
