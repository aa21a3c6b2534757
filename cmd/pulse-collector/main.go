// Command pulse-collector receives trace datagrams over UDP and stores them.
//
// Configuration comes from defaults, PULSE_* environment variables, an
// optional --config file (JSON or YAML) and finally command-line flags.
//
// Example Usage:
//
//	pulse-collector --store postgres --query-address :8900
//	PULSE_STORE_PROVIDER=redis PULSE_STORE_URL=redis://localhost:6379 pulse-collector
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/itsneelabh/pulse"
	"github.com/itsneelabh/pulse/internal/collector"
	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/telemetry"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	opts, showVersion, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "pulse-collector %s (%s)\n", pulse.Version, pulse.GitCommit)
		return nil
	}

	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return err
	}

	log, err := logger.NewServiceLogger(cfg.Telemetry.ServiceName, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := collector.New(ctx, cfg, log,
		collector.WithTelemetryOptions(telemetry.WithServiceVersion(pulse.Version)))
	if err != nil {
		return err
	}
	c.Telemetry().SetGlobal()

	log.Info("Collector starting", map[string]interface{}{
		"address":      c.Addr().String(),
		"store":        cfg.Store.Provider,
		"query_api":    cfg.QueryAPI.Enabled,
		"telemetry":    cfg.Telemetry.Enabled,
		"grace_period": cfg.Server.GracePeriod.String(),
	})
	if err := c.Run(ctx); err != nil {
		return err
	}
	log.Info("Collector stopped", nil)
	return nil
}

// parseFlags turns command-line flags into config options. Only flags that
// were set produce an option, so they override the environment without
// erasing it.
func parseFlags(args []string, out io.Writer) ([]config.Option, bool, error) {
	fs := pflag.NewFlagSet("pulse-collector", pflag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.StringP("config", "c", "", "JSON or YAML configuration file")
	address := fs.String("address", config.DefaultCollectorAddress, "UDP address to receive datagrams on")
	grace := fs.Duration("grace-period", config.DefaultGracePeriod, "time allowed for in-flight datagrams on shutdown")
	provider := fs.String("store", config.StoreMemory, "store provider: memory, redis, postgres or sqlite")
	storeURL := fs.String("store-url", "", "redis URL, postgres connection string or sqlite file")
	queryAddress := fs.String("query-address", "", "enable the HTTP query API on this address")
	exporter := fs.String("telemetry-exporter", config.ExporterOTLP, "trace exporter: otlp, otlphttp, stdout or none")
	endpoint := fs.String("telemetry-endpoint", "", "OTLP collector endpoint; enables telemetry")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logFormat := fs.String("log-format", "", "json or console")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if fs.NArg() > 0 {
		return nil, false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if fs.Changed("address") {
		opts = append(opts, config.WithServerAddress(*address))
	}
	if fs.Changed("grace-period") {
		opts = append(opts, config.WithGracePeriod(*grace))
	}
	if fs.Changed("store") || fs.Changed("store-url") {
		setProvider, setURL := fs.Changed("store"), fs.Changed("store-url")
		opts = append(opts, func(c *config.Config) error {
			if setProvider {
				c.Store.Provider = *provider
			}
			if setURL {
				c.Store.URL = *storeURL
			}
			return nil
		})
	}
	if *queryAddress != "" {
		opts = append(opts, config.WithQueryAPI(*queryAddress))
	}
	if fs.Changed("telemetry-exporter") || fs.Changed("telemetry-endpoint") {
		opts = append(opts, func(c *config.Config) error {
			c.Telemetry.Enabled = true
			if fs.Changed("telemetry-exporter") {
				c.Telemetry.Exporter = *exporter
			}
			if fs.Changed("telemetry-endpoint") {
				c.Telemetry.Endpoint = *endpoint
			}
			return nil
		})
	}
	if fs.Changed("log-level") {
		opts = append(opts, config.WithLogLevel(*logLevel))
	}
	if fs.Changed("log-format") {
		opts = append(opts, config.WithLogFormat(*logFormat))
	}
	return opts, *showVersion, nil
}
