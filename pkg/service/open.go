// Package service resolves ArcGIS REST URLs into typed handles.
package service

import (
	"context"
	"fmt"

	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/logging"
)

// MetadataFetcher fetches the JSON description of a service or layer.
// *client.Client implements it.
type MetadataFetcher interface {
	Metadata(ctx context.Context, serviceURL, token string) (client.Body, error)
	RefreshMetadata(ctx context.Context, serviceURL, token string) (client.Body, error)
}

// Open fetches the metadata of rawURL, resolves its kind and returns the
// matching handle. token overrides the client's default token for every
// request made through the handle.
func Open(ctx context.Context, fetcher MetadataFetcher, rawURL, token string) (Handle, error) {
	target := CanonicalURL(rawURL)
	if target == "" {
		return nil, client.NewError(client.KindClient, 0, "service url is required", nil)
	}

	meta, err := fetcher.Metadata(ctx, target, token)
	if err != nil {
		return nil, err
	}

	return build(target, meta, token)
}

// Refresh re-fetches the metadata of h, bypassing any cache, and returns a
// new handle. h itself is left unchanged.
func Refresh(ctx context.Context, fetcher MetadataFetcher, h Handle) (Handle, error) {
	meta, err := fetcher.RefreshMetadata(ctx, h.URL(), h.Token())
	if err != nil {
		return nil, err
	}

	fresh, err := build(h.URL(), meta, h.Token())
	if err != nil {
		return nil, err
	}
	if fresh.Kind() != h.Kind() {
		logger := logging.NewLogger("service-resolver")
		logger.Warn().
			Str("url", h.URL()).
			Str("old_kind", h.Kind().String()).
			Str("new_kind", fresh.Kind().String()).
			Msg("Service kind changed on refresh")
	}
	return fresh, nil
}

func build(target string, meta client.Body, token string) (Handle, error) {
	logger := logging.NewLogger("service-resolver")

	kind, err := ResolveKind(target, meta)
	if err != nil {
		logger.Debug().Str("url", target).Msg("Unresolvable service kind")
		return nil, err
	}

	h, err := ConstructHandle(kind, target, meta, token)
	if err != nil {
		return nil, fmt.Errorf("construct %s handle: %w", kind, err)
	}

	logger.Debug().
		Str("url", target).
		Str("kind", kind.String()).
		Msg("Service opened")
	return h, nil
}

// AsQueryable returns h as a Queryable, or a client error naming its kind.
func AsQueryable(h Handle) (Queryable, error) {
	q, ok := h.(Queryable)
	if !ok {
		return nil, client.NewError(client.KindClient, 0,
			fmt.Sprintf("%s at %s does not support queries; open one of its layers", h.Kind(), h.URL()), nil)
	}
	return q, nil
}
