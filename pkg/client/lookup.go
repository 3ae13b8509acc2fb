package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/match"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/transport"
)

// Result is the outcome of a lookup. Record is set only when Status is match.Found.
type Result[T match.Keyed] struct {
	Key    identifier.Key
	Status match.Status
	Record T

	// Info describes the dataset the answer came from; zero if the server did not say.
	Info dataset.Info

	// Cached is true when the bucket came from the local cache.
	Cached bool
}

// Found reports whether exactly one record matched.
func (r Result[T]) Found() bool { return r.Status == match.Found }

// NameResult is the result of a name lookup.
type NameResult = Result[record.NameRecord]

// BalanceResult is the result of a balance lookup.
type BalanceResult = Result[record.BalanceRecord]

// LookupName resolves a name. NotFound is a result, not an error.
func (c *Client) LookupName(ctx context.Context, raw string, progress transport.Progress) (NameResult, error) {
	if c.cfg.Identifier.Variant != identifier.Name {
		return NameResult{}, fmt.Errorf("%w: client looks up %s identifiers", ErrVariant, c.cfg.Identifier.Variant)
	}
	return lookup(ctx, c, raw, progress, func(data []byte, _ dataset.Info) ([]record.NameRecord, error) {
		return record.DecodeNames(data, c.cfg.NameLayout)
	})
}

// LookupBalance resolves an address balance. Transaction heights above the
// dataset height are rejected as malformed.
func (c *Client) LookupBalance(ctx context.Context, raw string, progress transport.Progress) (BalanceResult, error) {
	if c.cfg.Identifier.Variant != identifier.Address {
		return BalanceResult{}, fmt.Errorf("%w: client looks up %s identifiers", ErrVariant, c.cfg.Identifier.Variant)
	}
	return lookup(ctx, c, raw, progress, func(data []byte, info dataset.Info) ([]record.BalanceRecord, error) {
		layout := c.cfg.BalanceLayout
		layout.HeightCeiling = heightCeiling(layout.HeightCeiling, info)
		return record.DecodeBalances(data, layout)
	})
}

func heightCeiling(configured uint32, info dataset.Info) uint32 {
	if configured == 0 {
		configured = math.MaxUint32
	}
	if info.Height > 0 && info.Height < configured {
		return info.Height
	}
	return configured
}

type decodeFunc[T match.Keyed] func(data []byte, info dataset.Info) ([]T, error)

func lookup[T match.Keyed](ctx context.Context, c *Client, raw string, progress transport.Progress, decode decodeFunc[T]) (res Result[T], err error) {
	variant := c.cfg.Identifier.Variant.String()
	start := time.Now()

	release, err := c.acquire(ctx, c.cfg.QueueLookups)
	if err != nil {
		c.metrics.ObserveLookup(variant, outcome(err, match.NotFound), time.Since(start))
		return res, err
	}
	defer release()

	ctx, span := c.tracer.Start(ctx, "lookup", traceAttrs(variant, c.cfg.Ephemeral)...)
	defer span.End()
	defer c.timing.ObfuscateContext(ctx)()
	defer func() {
		span.SetAttributes(attribute.String("lookup.status", res.Status.String()), attribute.Bool("lookup.cached", res.Cached))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.ObserveLookup(variant, outcome(err, res.Status), time.Since(start))
	}()

	key, err := identifier.Derive(raw, c.cfg.Identifier)
	if err != nil {
		return res, err
	}
	res.Key = key

	info := c.datasetInfo(ctx)
	res.Info = info
	generation := ""
	if info.LastUpdate != "" {
		generation = info.Generation()
	}

	payload, cached := c.cachedBucket(generation, key.Bucket)
	if !cached {
		payload, err = c.fetchBucket(ctx, key.Bucket, progress)
		if err != nil {
			return res, err
		}
	}
	res.Cached = cached

	var records []T
	if len(payload) > 0 {
		data, err := c.codec.Decompress(payload)
		if err != nil {
			return res, err
		}
		if records, err = decode(data, info); err != nil {
			return res, err
		}
	}
	if !cached {
		c.storeBucket(generation, key.Bucket, payload)
	}
	if len(payload) == 0 {
		res.Status = match.NotFound
		return res, nil
	}

	resolved := match.Resolve(records, key.Bytes[:c.cfg.keyWidth()])
	res.Status = resolved.Status
	if resolved.Status == match.Ambiguous {
		return res, fmt.Errorf("%w: %w", ErrRetrieval, resolved.Err())
	}
	res.Record = resolved.Record
	c.logger.Debug("lookup finished", "bucket", key.Bucket, "status", res.Status.String(), "records", len(records), "cached", cached)
	return res, nil
}

// fetchBucket runs the private query for bucket and returns its compressed payload.
func (c *Client) fetchBucket(ctx context.Context, bucket uint64, progress transport.Progress) ([]byte, error) {
	engine, err := c.pirClient(ctx)
	if err != nil {
		return nil, err
	}
	sessionID, err := c.ensureSession(ctx, engine, progress)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "pir.query")
	defer span.End()

	query, err := engine.BuildQuery(sessionID, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	span.SetAttributes(attribute.Int("query.bytes", len(query)))

	response, err := c.transport.Query(ctx, query, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.bytes", len(response)))

	payload, err := engine.DecodeResponse(response)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return payload, nil
}

// datasetInfo asks the server which dataset it serves. Failure is not fatal:
// the lookup proceeds without a height ceiling and bypasses the cache.
func (c *Client) datasetInfo(ctx context.Context) dataset.Info {
	info, err := c.transport.Info(ctx)
	if err != nil {
		c.logger.Warn("dataset info unavailable", "error", err)
		return dataset.Info{}
	}
	return info
}

func (c *Client) cachedBucket(generation string, bucket uint64) ([]byte, bool) {
	if c.cache == nil || generation == "" {
		return nil, false
	}
	payload, ok := c.cache.Get(generation, bucket)
	if ok {
		c.metrics.ObserveCacheHit()
	}
	return payload, ok
}

func (c *Client) storeBucket(generation string, bucket uint64, payload []byte) {
	if c.cache == nil || generation == "" {
		return
	}
	c.cache.Set(generation, bucket, payload)
}

func traceAttrs(variant string, ephemeral bool) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("lookup.variant", variant),
		attribute.Bool("lookup.ephemeral", ephemeral),
	)}
}

func outcome(err error, status match.Status) string {
	switch {
	case err == nil:
		return status.String()
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, identifier.ErrInvalidIdentifier):
		return "invalid_identifier"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrTransport):
		return "transport_error"
	case errors.Is(err, record.ErrMalformedStream):
		return "malformed"
	case errors.Is(err, match.ErrAmbiguous):
		return "ambiguous"
	default:
		return "error"
	}
}
