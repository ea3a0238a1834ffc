// Package cmd contains the ssbabeld command line interface implementation
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/els0r/telemetry/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ssbabel/ssbabeld/pkg/api/server"
	"github.com/ssbabel/ssbabeld/pkg/conf"
	"github.com/ssbabel/ssbabeld/pkg/config"
	"github.com/ssbabel/ssbabeld/pkg/daemon"
	"github.com/ssbabel/ssbabeld/pkg/demo"
	"github.com/ssbabel/ssbabeld/pkg/kernelinit"
	"github.com/ssbabel/ssbabeld/pkg/version"
)

const shutdownGracePeriod = 30 * time.Second

// Execute runs the ssbabeld root command.
func Execute() error {
	rootCmd, err := newRootCmd(run)
	if err != nil {
		return err
	}

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd.Execute()
}

// runFunc is the type of the function that is called when the root command is executed. It's defined
// mainly for testing purposes
type runFunc func(ctx context.Context, cfg *config.Config) error

func newRootCmd(run runFunc) (*cobra.Command, error) {
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:   "ssbabeld",
		Short: "ssbabeld is a source-specific distance-vector routing daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := initConfig()
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			*cfg = *loaded

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return initLogging(cfg)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	if err := conf.RegisterFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register flags: %w", err)
	}
	if err := registerFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register flags: %w", err)
	}

	return rootCmd, nil
}

const (
	kernelKey      = "kernel"
	flagKernel     = kernelKey
	resendKey      = "resend"
	flagResendMax  = resendKey + ".max"
	flagReqTimeout = resendKey + ".request_timeout"

	flagInfinity        = "infinity"
	flagAllowDuplicates = "allow_duplicates"

	apiKey                   = "api"
	flagAPIAddr              = apiKey + ".addr"
	flagAPIMetrics           = apiKey + ".metrics"
	flagAPIQueryRateLimitMax = apiKey + ".query_rate_limit.max_req_per_sec"
)

func registerFlags(cmd *cobra.Command) error {
	pflags := cmd.PersistentFlags()

	pflags.String(flagKernel, string(config.BackendMemory), "kernel FIB backend (netlink|memory)")
	pflags.Uint8(flagResendMax, 3, "maximum number of resend retries")
	pflags.Duration(flagReqTimeout, 120*time.Second, "resend request timeout")
	pflags.Uint16(flagInfinity, 0xFFFF, "unreachable metric sentinel")
	pflags.Int(flagAllowDuplicates, -1, "allow a kernel route to coexist with an installed route below this metric (-1 disables)")

	pflags.String(flagAPIAddr, "127.0.0.1:8080", "introspection API listen address")
	pflags.Bool(flagAPIMetrics, true, "enable the /metrics endpoint")
	pflags.Float64(flagAPIQueryRateLimitMax, 0, "maximum introspection requests per second (0 disables)")

	return viper.BindPFlags(pflags)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() (*config.Config, error) {
	path := viper.GetString(conf.ConfigFile)
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	return config.Load(viper.GetViper())
}

func initLogging(cfg *config.Config) error {
	appVersion := version.Version()
	loggerOpts := []logging.Option{
		logging.WithVersion(appVersion),
	}
	if cfg.Logging.Destination != "" {
		loggerOpts = append(loggerOpts, logging.WithFileOutput(cfg.Logging.Destination))
	}

	return logging.Init(
		logging.LevelFromString(cfg.Logging.Level),
		logging.Encoding(cfg.Logging.Encoding),
		loggerOpts...,
	)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.FromContext(ctx)
	logger.Info("loaded configuration")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	addrs := demo.Addrs{}
	backend, err := kernelinit.New(cfg, addrs)
	if err != nil {
		return fmt.Errorf("failed to initialize kernel backend: %w", err)
	}

	d := daemon.New(cfg, backend.FIB, backend.Dumper, backend.Tables, backend.Prober, nil, nil, nil, logger)

	var apiServer *server.DefaultServer
	if cfg.API.Addr != "" {
		opts := []server.Option{
			server.WithDebugMode(logging.LevelFromString(cfg.Logging.Level) == logging.LevelDebug),
			server.WithMetrics(cfg.API.Metrics),
		}
		if r := viper.GetFloat64(flagAPIQueryRateLimitMax); r > 0 {
			opts = append(opts, server.WithQueryRateLimit(rate.Limit(r), int(r)+1))
		}
		if cfg.API.Metrics {
			d.UseMetrics(prometheus.DefaultRegisterer)
		}

		apiServer = server.NewDefault(d, "ssbabeld", cfg.API.Addr, opts...)
		go func() {
			logger.With("addr", cfg.API.Addr).Info("starting introspection API server")
			if err := apiServer.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.With("error", err).Error("introspection API server failed")
			}
		}()
	}

	logger.Info("started ssbabeld")

	runErr := d.Run(ctx)

	stop()
	logger.Info("shutting down gracefully")

	fallbackCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(fallbackCtx); err != nil {
			return fmt.Errorf("forced shut down of introspection API server: %w", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
