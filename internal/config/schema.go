package config

// Config holds intake configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server   ServerCfg             `mapstructure:"server" yaml:"server"`
	Gateways map[string]GatewayCfg `mapstructure:"gateways" yaml:"gateways"`
	Defaults DefaultsCfg           `mapstructure:"defaults" yaml:"defaults"`
	Pipeline PipelineCfg           `mapstructure:"pipeline" yaml:"pipeline"`
	Ingest   IngestCfg             `mapstructure:"ingest" yaml:"ingest"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// GatewayCfg configures a model gateway.
type GatewayCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`     // Optional override for OpenAI-compatible hosts
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default selections.
type DefaultsCfg struct {
	Gateway string `mapstructure:"gateway" yaml:"gateway"`   // Default gateway name
	MaxJobs int    `mapstructure:"max_jobs" yaml:"max_jobs"` // Max concurrently running jobs
}

// PipelineCfg holds quality-gate thresholds and retry policy.
type PipelineCfg struct {
	// Per-judge thresholds. A stage passes a judge when its score meets the
	// threshold; scores within ReviewMargin below proceed flagged for review;
	// anything lower fails the run.
	ClassificationConfidence float64 `mapstructure:"classification_confidence" yaml:"classification_confidence"`
	MaxHallucinationRate     float64 `mapstructure:"max_hallucination_rate" yaml:"max_hallucination_rate"`
	MinCoverage              float64 `mapstructure:"min_coverage" yaml:"min_coverage"`
	MinStageAlignment        float64 `mapstructure:"min_stage_alignment" yaml:"min_stage_alignment"`
	ReviewMargin             float64 `mapstructure:"review_margin" yaml:"review_margin"`

	// ApproveThreshold is the confidence at or above which a materialized
	// item is auto-approved.
	ApproveThreshold float64 `mapstructure:"approve_threshold" yaml:"approve_threshold"`
}

// IngestCfg bounds upload intake.
type IngestCfg struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Gateways: map[string]GatewayCfg{
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 2.0,
				Enabled:   true,
			},
		},
		Defaults: DefaultsCfg{
			Gateway: "openai",
			MaxJobs: 4,
		},
		Pipeline: PipelineCfg{
			ClassificationConfidence: 0.70,
			MaxHallucinationRate:     0.03,
			MinCoverage:              0.75,
			MinStageAlignment:        0.80,
			ReviewMargin:             0.15,
			ApproveThreshold:         0.8,
		},
		Ingest: IngestCfg{
			MaxUploadBytes: 100 << 20, // 100 MiB
		},
	}
}
