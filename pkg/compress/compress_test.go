package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = bytes.Repeat([]byte("vitalik.eth url https://example.com "), 200)

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"zlib", "gzip", "zstd", "lz4", "none"} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			require.NoError(t, err)

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			if name != "none" {
				assert.Less(t, len(compressed), len(payload))
			}

			out, err := c.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestDefaultIsZlib(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, Zlib, c.Algorithm)
}

func TestZlibIgnoresTrailingPadding(t *testing.T) {
	c := &Codec{Algorithm: Zlib}
	compressed, err := c.Compress(payload)
	require.NoError(t, err)

	padded := append(compressed, make([]byte, 64)...)
	out, err := c.Decompress(padded)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCorruptInput(t *testing.T) {
	for _, alg := range []Algorithm{Zlib, Gzip, Zstd, LZ4} {
		t.Run(alg.String(), func(t *testing.T) {
			c := &Codec{Algorithm: alg}

			_, err := c.Decompress([]byte("definitely not compressed"))
			assert.ErrorIs(t, err, ErrDecompression)

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			_, err = c.Decompress(compressed[:len(compressed)/2])
			assert.ErrorIs(t, err, ErrDecompression)
		})
	}
}

func TestEmptyInputIsAnError(t *testing.T) {
	_, err := (&Codec{Algorithm: Zlib}).Decompress(nil)
	assert.ErrorIs(t, err, ErrDecompression)
}

func TestOutputLimit(t *testing.T) {
	for _, alg := range []Algorithm{Zlib, Gzip, Zstd, LZ4, None} {
		t.Run(alg.String(), func(t *testing.T) {
			c := &Codec{Algorithm: alg}
			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			c.MaxOutput = len(payload) - 1
			_, err = c.Decompress(compressed)
			assert.ErrorIs(t, err, ErrDecompression)

			c.MaxOutput = len(payload)
			_, err = c.Decompress(compressed)
			assert.NoError(t, err)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	_, err := ParseAlgorithm("brotli")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	for _, alg := range []Algorithm{None, Zlib, Gzip, Zstd, LZ4} {
		got, err := ParseAlgorithm(alg.String())
		require.NoError(t, err)
		assert.Equal(t, alg, got)
	}
}
