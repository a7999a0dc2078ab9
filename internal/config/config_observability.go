package config

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// Output is "stdout" or "stderr".
	Output string `yaml:"output"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are extra regex patterns scrubbed from log output,
	// on top of the built-in secret patterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the address for the /metrics endpoint.
	Listen string `yaml:"listen"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}
