package telemetry

type Config struct {
	// Use OTLP exporter. Has precedence over the Jaeger configuration.
	OTLP OTLP `yaml:"otlp"`
	// The URL of the Jaeger collector.
	JaegerURL string `yaml:"jaegerUrl"`
	// ID of the service instance. Generated when empty.
	ID string `yaml:"id"`
}

type OTLP struct {
	// The endpoint of the OTLP collector, without a URL path.
	Host string `yaml:"host"`
	// Secure enables TLS towards the OTLP endpoint.
	Secure bool `yaml:"secure"`
}

// Enabled reports whether any exporter is configured.
func (c Config) Enabled() bool {
	return c.OTLP.Host != "" || c.JaegerURL != ""
}
