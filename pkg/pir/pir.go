// Package pir implements the private-retrieval protocol between the lookup
// client and server.
//
// The client holds a BFV secret key derived (via a sealed cache) from its
// credential seed. To fetch bucket b it encrypts a one-hot vector with a 1 in
// slot b and sends it, prefixed with its session id. The server multiplies that
// ciphertext by every row of its bucket matrix (one plaintext per row, one
// slot per bucket, two bytes per slot) and returns the products. Only slot b
// of each product is non-zero, so the client decrypts each row, reads slot b,
// and reassembles the bucket's item without the server learning b.
//
// Client is the boundary the rest of the module programs against; Engine is
// the lattigo implementation and Responder is its server half.
package pir

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SessionIDSize is the length of the session id prefix of every query.
const SessionIDSize = 36

// EphemeralSessionID marks a query that carries its public parameters inline
// instead of referring to a registered session.
var EphemeralSessionID = strings.Repeat("0", SessionIDSize)

var (
	// ErrUnknownSeed is returned by DeriveKeys when no secret key is cached for a
	// seed and public parameters were not requested.
	ErrUnknownSeed = errors.New("no secret key cached for seed")

	// ErrInvalidSeed is returned for seeds of the wrong size.
	ErrInvalidSeed = errors.New("seed must be 32 bytes")

	// ErrNoKeys is returned when querying before DeriveKeys.
	ErrNoKeys = errors.New("keys not derived")

	// ErrNoQuery is returned when decoding a response without an outstanding query.
	ErrNoQuery = errors.New("no outstanding query")

	// ErrInvalidParams is returned for unusable protocol parameters.
	ErrInvalidParams = errors.New("invalid pir parameters")

	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidResponse is returned for malformed responses.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrInvalidPublicParams is returned when uploaded public parameters do not parse.
	ErrInvalidPublicParams = errors.New("invalid public parameters")

	// ErrBucketOutOfRange is returned for bucket indexes outside the database.
	ErrBucketOutOfRange = errors.New("bucket out of range")

	// ErrItemTooLarge is returned when a bucket payload does not fit an item.
	ErrItemTooLarge = errors.New("item too large")
)

// Client is the client side of the protocol.
type Client interface {
	// DeriveKeys loads the key pair for seed. With wantPublic it creates the keys
	// if needed and returns the public parameters to upload; without it, a seed
	// with no cached key fails with ErrUnknownSeed.
	DeriveKeys(ctx context.Context, seed []byte, wantPublic bool) ([]byte, error)

	// BuildQuery encrypts a request for bucket, scoped to sessionID.
	BuildQuery(sessionID string, bucket uint64) ([]byte, error)

	// DecodeResponse decrypts the answer to the last query and returns the bucket payload.
	DecodeResponse(response []byte) ([]byte, error)
}

// Factory creates a Client. It is called lazily on the first lookup.
type Factory func(ctx context.Context) (Client, error)

// SplitQuery separates the session id from the encrypted body.
func SplitQuery(query []byte) (string, []byte, error) {
	if len(query) <= SessionIDSize {
		return "", nil, fmt.Errorf("%w: %d bytes is too short", ErrInvalidQuery, len(query))
	}
	return string(query[:SessionIDSize]), query[SessionIDSize:], nil
}
