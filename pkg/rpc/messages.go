package rpc

type CheckRequest struct {
	SessionID string `cbor:"session_id"`
}

type CheckResponse struct {
	Valid bool `cbor:"is_valid"`
}

// SetupRequest carries serialized public parameters.
type SetupRequest struct {
	PublicParams []byte `cbor:"public_params"`
}

type SetupResponse struct {
	SessionID string `cbor:"id"`
}

// QueryRequest carries a session-scoped (or ephemeral) encrypted query.
type QueryRequest struct {
	Query []byte `cbor:"query"`
}

type QueryResponse struct {
	Response []byte `cbor:"response"`
}

type InfoRequest struct{}

// InfoResponse mirrors the dataset info document.
type InfoResponse struct {
	Height     uint32  `cbor:"height"`
	LastUpdate string  `cbor:"lastupdate"`
	Price      float64 `cbor:"price"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status   string `cbor:"status"`
	Version  int64  `cbor:"version"`
	Sessions int    `cbor:"sessions"`
	Buckets  uint64 `cbor:"buckets"`
}
