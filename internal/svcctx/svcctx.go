// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/intake/internal/blob"
	"github.com/jackzampolin/intake/internal/config"
	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/home"
	"github.com/jackzampolin/intake/internal/ingest"
	"github.com/jackzampolin/intake/internal/progress"
	"github.com/jackzampolin/intake/internal/runner"
	"github.com/jackzampolin/intake/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store     *store.Store
	Blobs     *blob.Store
	Registry  *gateway.Registry
	Runner    *runner.Runner
	Ingestor  *ingest.Ingestor
	Publisher *progress.Publisher
	ConfigMgr *config.Manager
	Logger    *slog.Logger
	Home      *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// BlobsFrom extracts the blob store from context.
func BlobsFrom(ctx context.Context) *blob.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blobs
	}
	return nil
}

// RegistryFrom extracts the gateway registry from context.
func RegistryFrom(ctx context.Context) *gateway.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// RunnerFrom extracts the job runner from context.
func RunnerFrom(ctx context.Context) *runner.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// IngestorFrom extracts the ingestor from context.
func IngestorFrom(ctx context.Context) *ingest.Ingestor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingestor
	}
	return nil
}

// PublisherFrom extracts the progress publisher from context.
func PublisherFrom(ctx context.Context) *progress.Publisher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Publisher
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
