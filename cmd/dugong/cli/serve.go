package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dugong-app/dugong/internal/ratelimit"
	"github.com/dugong-app/dugong/internal/server"
	"github.com/dugong-app/dugong/internal/telemetry"
)

// gaugeInterval is how often the user and key gauges are refreshed.
const gaugeInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dugong API server",
		Long:  "Start the HTTP server that handles registration, login, key management and rate limiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	// Set up logger
	logger := newLogger(os.Stderr, settings.Logging, dev)
	logger.Debug("effective settings", "settings", settings.Masked())

	// 1. Open the store
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", store.Driver())

	// 2. Metrics, with the store gauges sampled in the background
	metrics := telemetry.New()
	metrics.StartSampler(gaugeInterval, func(ctx context.Context) (telemetry.Stats, error) {
		users, keys, err := store.Counts(ctx)
		return telemetry.Stats{Users: users, ActiveKeys: keys}, err
	}, logger)
	defer metrics.Shutdown()

	// 3. Auth service
	authSvc, err := newAuthService(store, settings, metrics, logger)
	if err != nil {
		return err
	}

	// 4. Rate limiter, shared through redis when configured
	var (
		counter ratelimit.Counter
		opts    []server.Option
	)
	if settings.Redis.URL != "" {
		rc, err := ratelimit.DialRedis(context.Background(), settings.Redis.URL, settings.Redis.Prefix)
		if err != nil {
			return err
		}
		defer rc.Close()
		counter = rc
		opts = append(opts, server.WithReadinessCheck("redis", rc))
		logger.Info("rate limit counters stored in redis", "prefix", settings.Redis.Prefix)
	}
	limiter := ratelimit.New(ratelimit.Config{
		UsersLimit:    settings.UsersRateLimit,
		GuestsLimit:   settings.GuestsRateLimit,
		RefreshPeriod: settings.RefreshPeriod(),
	}, counter, metrics, logger)

	// 5. First-run hint
	if users, _, err := store.Counts(context.Background()); err == nil && users == 0 {
		logger.Warn("no users registered - run: dugong user create --admin --email <address>")
	}

	// 6. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = settings.Server.Host
	srvCfg.Port = settings.Server.Port
	srvCfg.ShutdownTimeout = settings.Server.ShutdownTimeout
	srvCfg.CORSOrigins = settings.Server.CORSOrigins
	srvCfg.LoginAttemptsPerMinute = settings.LoginAttemptsPerMinute
	srvCfg.Version = versionString()

	srv := server.New(srvCfg, store, authSvc, limiter, metrics, logger, opts...)

	fmt.Printf("→ dugong %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Limits:     users=%s guests=%s refresh=%s\n",
		formatLimit(settings.UsersRateLimit), formatLimit(settings.GuestsRateLimit), formatPeriod(settings.RefreshPeriod()))
	fmt.Println()

	return srv.ListenAndServe()
}

func formatLimit(n *int64) string {
	if n == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *n)
}

func formatPeriod(d time.Duration) string {
	if d <= 0 {
		return "never"
	}
	return d.String()
}
