package endpoints

import (
	"github.com/jackzampolin/intake/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&SubmitJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&DeleteJobEndpoint{},
		&JobProgressEndpoint{},
		&SubscribeJobEndpoint{},
		&RetryJobEndpoint{},

		// Item endpoints
		&ListItemsEndpoint{},
		&UpdateItemEndpoint{},
		&ProfileEndpoint{},

		// Gateway endpoints
		&ListGatewaysEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&LLMCallStatsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
