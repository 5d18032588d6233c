// Package arcgis wires the request client, the service resolver and the
// query engine into one Session.
//
//	sess, err := arcgis.New(arcgis.DefaultConfig("MyApp/1.0 (ops@example.com)"))
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	layer, err := sess.Open(ctx, "https://services.arcgis.com/.../FeatureServer/0", "")
//	result, err := sess.Query(ctx, layer, query.DefaultParams())
package arcgis

import (
	"context"

	"github.com/Sternrassler/arcgis-client/pkg/auth"
	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/pagination"
	"github.com/Sternrassler/arcgis-client/pkg/query"
	"github.com/Sternrassler/arcgis-client/pkg/service"
)

// Config holds the session configuration.
type Config struct {
	Client client.Config
	Query  pagination.Config
}

// DefaultConfig returns the default configuration for userAgent.
func DefaultConfig(userAgent string) Config {
	return Config{
		Client: client.DefaultConfig(userAgent),
		Query:  pagination.DefaultConfig(),
	}
}

// Session binds a client, its token context and a query engine.
type Session struct {
	client *client.Client
	engine *pagination.Engine
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	c, err := client.New(cfg.Client)
	if err != nil {
		return nil, err
	}

	return &Session{
		client: c,
		engine: pagination.NewEngine(c, cfg.Query),
	}, nil
}

// Open resolves rawURL into a typed handle. A non-empty token is bound to
// the handle and overrides the session default for its requests.
func (s *Session) Open(ctx context.Context, rawURL, token string) (service.Handle, error) {
	return service.Open(ctx, s.client, rawURL, token)
}

// Refresh re-reads the metadata of h and returns a new handle.
func (s *Session) Refresh(ctx context.Context, h service.Handle) (service.Handle, error) {
	return service.Refresh(ctx, s.client, h)
}

// Query returns every record of h matching params.
func (s *Session) Query(ctx context.Context, h service.Handle, params query.Params) (*pagination.Result, error) {
	layer, err := service.AsQueryable(h)
	if err != nil {
		return nil, err
	}
	return s.engine.RunQuery(ctx, layer, params)
}

// Count returns the number of records of h matching params.
func (s *Session) Count(ctx context.Context, h service.Handle, params query.Params) (int, error) {
	layer, err := service.AsQueryable(h)
	if err != nil {
		return 0, err
	}
	if err := params.Validate(); err != nil {
		return 0, client.NewError(client.KindClient, 0, "invalid query", err)
	}
	return s.engine.Count(ctx, layer, params)
}

// QueryURL opens rawURL and queries it in one call.
func (s *Session) QueryURL(ctx context.Context, rawURL, token string, params query.Params) (*pagination.Result, error) {
	h, err := s.Open(ctx, rawURL, token)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, h, params)
}

// SetToken replaces the default token used by every handle without its own.
func (s *Session) SetToken(token string) {
	s.client.Auth().SetDefault(token)
}

// Auth returns the session's token context.
func (s *Session) Auth() *auth.Context {
	return s.client.Auth()
}

// Client returns the underlying request client.
func (s *Session) Client() *client.Client {
	return s.client
}

// Close releases cached state.
func (s *Session) Close() error {
	return s.client.Close()
}
