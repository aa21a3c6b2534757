package config

import "time"

// WithConfigFile overlays a JSON or YAML file. Options after it override
// the file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithServerAddress sets the UDP address the collector binds.
func WithServerAddress(addr string) Option {
	return func(c *Config) error {
		c.Server.Address = addr
		return nil
	}
}

// WithGracePeriod sets how long in-flight dispatches may run after shutdown.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) error {
		c.Server.GracePeriod = d
		return nil
	}
}

// WithStore selects the store provider and its URL.
func WithStore(provider, url string) Option {
	return func(c *Config) error {
		c.Store.Provider = provider
		c.Store.URL = url
		return nil
	}
}

// WithStorePool sizes the store connection pool.
func WithStorePool(minConns, maxConns int) Option {
	return func(c *Config) error {
		c.Store.MinConns = minConns
		c.Store.MaxConns = maxConns
		return nil
	}
}

// WithAppName sets the traced application name.
func WithAppName(name string) Option {
	return func(c *Config) error {
		c.Tracer.AppName = name
		return nil
	}
}

// WithCollectorAddress sets where tracers send their messages.
func WithCollectorAddress(addr string) Option {
	return func(c *Config) error {
		c.Tracer.CollectorAddress = addr
		return nil
	}
}

// WithFrequency sets the sampling interval of tracers.
func WithFrequency(d time.Duration) Option {
	return func(c *Config) error {
		c.Tracer.Frequency = d
		return nil
	}
}

// WithVerbose makes tracers log every row they send.
func WithVerbose(verbose bool) Option {
	return func(c *Config) error {
		c.Tracer.Verbose = verbose
		return nil
	}
}

// WithQueryAPI enables the HTTP query API on addr.
func WithQueryAPI(addr string) Option {
	return func(c *Config) error {
		c.QueryAPI.Enabled = true
		c.QueryAPI.Address = addr
		return nil
	}
}

// WithTelemetry enables OpenTelemetry with the given exporter and endpoint.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log format, json or console.
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}
