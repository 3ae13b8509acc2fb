// Package rpc declares the gRPC surface of the lookup service.
//
// Messages are plain Go structs carried as CBOR (Core Deterministic Encoding)
// through a custom codec, so the service needs no protoc toolchain. Both ends
// must force the codec: grpc.ForceServerCodec on the server and
// grpc.ForceCodec as a default call option on the client.
package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecName is the content subtype the codec registers under.
const CodecName = "cbor"

// MaxMessageBytes bounds a single gRPC message. Query responses carry one
// ciphertext per item row and can be large.
const MaxMessageBytes = 256 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("rpc: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec implements grpc's encoding.Codec with CBOR.
type Codec struct{}

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to encode %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: failed to decode %T: %w", v, err)
	}
	return nil
}

// Name returns CodecName.
func (Codec) Name() string { return CodecName }
