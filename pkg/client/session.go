package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprl/lookup/pkg/credential"
	"github.com/sprl/lookup/pkg/observability/logging"
	"github.com/sprl/lookup/pkg/pir"
	"github.com/sprl/lookup/pkg/transport"
)

// ensureSession returns a session id whose secret key is installed in engine.
// A credential that is absent, invalid or whose secret cannot be recovered is
// replaced: fresh key, fresh public parameters, setup upload, then persist.
func (c *Client) ensureSession(ctx context.Context, engine pir.Client, progress transport.Progress) (string, error) {
	if c.cfg.Ephemeral {
		return c.ephemeralSession(ctx, engine)
	}

	ctx, span := c.tracer.Start(ctx, "credential.ensure")
	defer span.End()

	cred, state := c.creds.Current(ctx)
	if state == credential.Valid {
		_, err := engine.DeriveKeys(ctx, cred.Key, false)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("credential.state", state.String()))
			return cred.SessionID, nil
		case errors.Is(err, pir.ErrUnknownSeed):
			c.logger.Warn("secret key for credential not found; regenerating", logging.Session(cred.SessionID))
			state = credential.Invalid
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("failed to restore keys: %w", err)
		}
	}

	span.SetAttributes(attribute.String("credential.state", state.String()), attribute.Bool("credential.regenerated", true))
	c.metrics.ObserveRegeneration(state.String())

	id, err := c.register(ctx, engine, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return id, nil
}

func (c *Client) register(ctx context.Context, engine pir.Client, progress transport.Progress) (string, error) {
	key, err := c.creds.NewKey()
	if err != nil {
		return "", err
	}
	publicParams, err := engine.DeriveKeys(ctx, key, true)
	if err != nil {
		return "", fmt.Errorf("failed to derive keys: %w", err)
	}
	sessionID, err := c.transport.Setup(ctx, publicParams, progress)
	if err != nil {
		return "", err
	}
	if len(sessionID) != pir.SessionIDSize || sessionID == pir.EphemeralSessionID {
		return "", fmt.Errorf("%w: setup returned an unusable session id", transport.ErrTransport)
	}
	if _, err := c.creds.Save(ctx, key, sessionID); err != nil {
		return "", err
	}
	c.logger.Info("registered new credential", logging.Session(sessionID), "public_params_bytes", len(publicParams))
	return sessionID, nil
}

// ephemeralSession installs a throwaway key. Its public parameters travel inline with the query.
func (c *Client) ephemeralSession(ctx context.Context, engine pir.Client) (string, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("ephemeral", true))

	key := make([]byte, credential.KeySize)
	if _, err := io.ReadFull(c.random, key); err != nil {
		return "", fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	if _, err := engine.DeriveKeys(ctx, key, true); err != nil {
		return "", fmt.Errorf("failed to derive keys: %w", err)
	}
	return pir.EphemeralSessionID, nil
}
