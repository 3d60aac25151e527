package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ClientConfig describes one configured gateway client.
type ClientConfig struct {
	Type      string // "openai"
	Model     string
	APIKey    string
	BaseURL   string
	RateLimit float64 // Requests per second
	Enabled   bool
}

// RegistryConfig is the registry's view of the application config.
type RegistryConfig struct {
	Default  string
	Gateways map[string]ClientConfig
}

// Registry holds references to gateway clients.
// It supports config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	def      string
	logger   *slog.Logger
	recorder CallRecorder
}

// NewRegistry creates a new empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetRecorder sets the call recorder applied to clients built from config.
func (r *Registry) SetRecorder(rec CallRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Register adds a client by name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if r.def == "" {
		r.def = name
	}
	if r.logger != nil {
		r.logger.Info("registered gateway client", "name", name)
	}
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("gateway client not found: %s", name)
	}
	return client, nil
}

// Default returns the default client.
func (r *Registry) Default() (Client, error) {
	r.mu.RLock()
	def := r.def
	r.mu.RUnlock()
	if def == "" {
		return nil, fmt.Errorf("no gateway clients configured")
	}
	return r.Get(def)
}

// List returns all registered client names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// DefaultClient returns a Client that resolves the registry default on every
// call, so a config reload takes effect without rewiring the pipeline.
func (r *Registry) DefaultClient() Client {
	return &defaultClient{registry: r}
}

type defaultClient struct {
	registry *Registry
}

func (c *defaultClient) Invoke(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
	client, err := c.registry.Default()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return client.Invoke(ctx, req)
}

func (c *defaultClient) Name() string {
	client, err := c.registry.Default()
	if err != nil {
		return "unconfigured"
	}
	return client.Name()
}

// Reload replaces the registry contents from config.
// Disabled or unknown-typed entries are skipped with a warning.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make(map[string]Client, len(cfg.Gateways))
	for name, gc := range cfg.Gateways {
		if !gc.Enabled {
			continue
		}
		switch gc.Type {
		case "openai":
			clients[name] = NewOpenAIClient(OpenAIConfig{
				APIKey:    gc.APIKey,
				Model:     gc.Model,
				BaseURL:   gc.BaseURL,
				RateLimit: gc.RateLimit,
				Timeout:   openAIDefaultTimeout,
				Recorder:  r.recorder,
			})
		default:
			if r.logger != nil {
				r.logger.Warn("unknown gateway type, skipping", "name", name, "type", gc.Type)
			}
			continue
		}
	}

	r.clients = clients
	r.def = cfg.Default
	if _, ok := clients[r.def]; !ok {
		r.def = ""
		for name := range clients {
			r.def = name
			break
		}
	}

	if r.logger != nil {
		r.logger.Info("gateway registry reloaded", "clients", len(clients), "default", r.def)
	}
}
