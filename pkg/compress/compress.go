// Package compress wraps the codecs used for bucket payloads.
//
// The lookup server stores every bucket as one compressed record stream.
// zlib is what the deployed datasets use; gzip, zstd and lz4 are available to
// the DB builder for other deployments. Decompression output is bounded so a
// hostile payload cannot exhaust memory.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultMaxOutput bounds decompressed output (64 MiB).
const DefaultMaxOutput = 64 << 20

var (
	// ErrDecompression is returned for corrupt or oversized compressed input.
	ErrDecompression = errors.New("decompression failed")

	// ErrUnknownAlgorithm is returned for unsupported algorithm names or tags.
	ErrUnknownAlgorithm = errors.New("unknown compression algorithm")
)

// Algorithm identifies a compression codec.
type Algorithm uint8

const (
	// None stores payloads uncompressed.
	None Algorithm = iota
	// Zlib is RFC 1950 zlib.
	Zlib
	// Gzip is RFC 1952 gzip.
	Gzip
	// Zstd is Zstandard.
	Zstd
	// LZ4 is the LZ4 frame format.
	LZ4
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm name. The empty string selects zlib.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "zlib":
		return Zlib, nil
	case "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Shared zstd coders; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxOutput))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec compresses and decompresses with one algorithm.
type Codec struct {
	// Algorithm selects the codec.
	Algorithm Algorithm

	// MaxOutput bounds decompressed output; zero means DefaultMaxOutput.
	MaxOutput int
}

// New returns a codec for the named algorithm.
func New(name string) (*Codec, error) {
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return nil, err
	}
	return &Codec{Algorithm: alg}, nil
}

func (c *Codec) maxOutput() int {
	if c.MaxOutput > 0 {
		return c.MaxOutput
	}
	return DefaultMaxOutput
}

// Compress compresses data.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	switch c.Algorithm {
	case None:
		return data, nil
	case Zlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib writer: %w", err)
		}
		return finish(&buf, w, data)
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return finish(&buf, w, data)
	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case LZ4:
		var buf bytes.Buffer
		return finish(&buf, lz4.NewWriter(&buf), data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, c.Algorithm)
	}
}

func finish(buf *bytes.Buffer, w io.WriteCloser, data []byte) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses data. Every failure wraps ErrDecompression.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	limit := c.maxOutput()

	switch c.Algorithm {
	case None:
		if len(data) > limit {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrDecompression, len(data), limit)
		}
		return data, nil
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrDecompression, err)
		}
		defer r.Close()
		return readLimited(r, limit, "zlib")
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecompression, err)
		}
		defer r.Close()
		r.Multistream(false)
		return readLimited(r, limit, "gzip")
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecompression, err)
		}
		if len(out) > limit {
			return nil, fmt.Errorf("%w: zstd output exceeds limit %d", ErrDecompression, limit)
		}
		return out, nil
	case LZ4:
		return readLimited(lz4.NewReader(bytes.NewReader(data)), limit, "lz4")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, c.Algorithm)
	}
}

func readLimited(r io.Reader, limit int, name string) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, name, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: %s output exceeds limit %d", ErrDecompression, name, limit)
	}
	return out, nil
}
