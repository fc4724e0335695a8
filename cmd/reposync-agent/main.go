// Command reposync-agent drives the cluster synchronization engine for one
// or more hosted repositories: read-side catch-up, write-side coordination,
// and operator recovery from a frozen repository.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/originforge/reposync/config"
	"github.com/originforge/reposync/internal/clustersync"
	"github.com/originforge/reposync/internal/gitfetch"
)

func main() {
	os.Exit(int(run()))
}

type exitCode int

const (
	exitSuccess exitCode = 0
	exitError   exitCode = 1
)

func run() exitCode {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:          "reposync-agent",
		Short:        "Per-repository cluster synchronization agent",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging regardless of REPOSYNC_LOG_LEVEL")

	rootCmd.AddCommand(
		newServeCmd(),
		newReadCmd(),
		newWriteCmd(),
		newUnfreezeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return exitError
	}
	return exitSuccess
}

// logLevels maps the four levels config.Config.Validate accepts onto slog's
// levels; --verbose floors the level at debug no matter what
// REPOSYNC_LOG_LEVEL says, for a one-off noisy run.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func newLogger(levelName string, verbose bool) *slog.Logger {
	level, ok := logLevels[levelName]
	if !ok {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}))
}

func verboseFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	return v
}

// newServeCmd starts the Prometheus /metrics endpoint; the agent itself is
// driven by whatever push/pull handler calls into the engine, which in this
// binary is out of scope for the standalone process.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Prometheus metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg.LogLevel, verboseFlag(cmd))
			if addr == "" {
				addr = cfg.MetricsAddr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}

			go func() {
				<-ctx.Done()
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = srv.Shutdown(sctx)
			}()

			log.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "metrics listen address (default from config)")
	return cmd
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <repository-id>",
		Short: "Run BeforeRead for a repository and print the resulting version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg.LogLevel, verboseFlag(cmd))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			deps, cleanup, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			version, err := deps.engine.BeforeRead(ctx, clustersync.RepositoryID(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(version)
			return nil
		},
	}
	return cmd
}

func newWriteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "write <repository-id>",
		Short: "Run BeforeWrite, wait for stdin to close, then run AfterWrite",
		Long:  "Acquires the write lock and marks the repository mid-write, waits for the caller (e.g. a push handler) to signal completion by closing stdin, then finalizes the write.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg.LogLevel, verboseFlag(cmd))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			deps, cleanup, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			repoID := clustersync.RepositoryID(args[0])
			props := clustersync.WriteProperties{UserID: userID, EpochSeconds: time.Now().Unix()}
			if err := deps.engine.BeforeWrite(ctx, repoID, props); err != nil {
				return err
			}

			buf := make([]byte, 1)
			for {
				if _, err := os.Stdin.Read(buf); err != nil {
					break
				}
			}

			return deps.engine.AfterWrite(ctx, repoID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user identifier recorded on the write marker")
	return cmd
}

func newUnfreezeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unfreeze <repository-id> <device-id>",
		Short: "Clear a stuck write marker left by a crashed writer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg.LogLevel, verboseFlag(cmd))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			deps, cleanup, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			repo := clustersync.RepositoryID(args[0])
			device := clustersync.DeviceID(args[1])
			if err := deps.store.ForceClearWriteMarker(ctx, repo, device); err != nil {
				return err
			}
			clustersync.FrozenRepositories.Dec()
			log.Info("write marker cleared", "repo", repo, "device", device)
			return nil
		},
	}
	return cmd
}

type agentDeps struct {
	engine *clustersync.Engine
	store  clustersync.VersionStore
}

// buildDeps wires the Postgres-backed adapters and the engine facade. The
// metadata resolver and device identity are left to the embedding
// application (the agent only owns synchronization, not repository
// provisioning or host identity), so this binary uses simple env/config-
// derived stand-ins suitable for a single-repository, single-device
// invocation. The caller loads config once (it also needs LogLevel to build
// the logger) and passes it in here rather than this function loading it a
// second time.
func buildDeps(ctx context.Context, cfg *config.Config, log *slog.Logger) (*agentDeps, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	clock := clockwork.NewRealClock()
	store, err := clustersync.NewPostgresVersionStore(ctx, pool, clock)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("init version store: %w", err)
	}
	bindings := clustersync.NewPostgresBindings(pool)

	executor := &gitfetch.Executor{}
	fetch := clustersync.NewFetchDriver(log, executor)
	read := clustersync.NewReadSynchronizer(store, bindings, fetch, log, clock, cfg.ReadLockWait)

	metadata := &envMetadataResolver{}
	identity := &envDeviceIdentity{}
	events := &noPushEventSource{}
	write := clustersync.NewWriteSynchronizer(store, read, events, log, clock, cfg.WriteLockWait, cfg.AfterWriteBudget)

	engine := clustersync.NewEngine(metadata, identity, bindings, store, read, write, log)

	cleanup := func() { pool.Close() }
	return &agentDeps{engine: engine, store: store}, cleanup, nil
}

// envMetadataResolver, envDeviceIdentity, and noPushEventSource are minimal
// stand-ins for the repository metadata service, device identity service,
// and push-event log that a full deployment wires from its own stores; this
// standalone binary only needs enough to exercise the engine end to end
// against a single repository configured through the environment.
type envMetadataResolver struct{}

func (r *envMetadataResolver) Repository(_ context.Context, id clustersync.RepositoryID) (clustersync.Repository, error) {
	path := os.Getenv("REPOSYNC_WORKING_COPY_PATH")
	if path == "" {
		return clustersync.Repository{}, fmt.Errorf("REPOSYNC_WORKING_COPY_PATH is required to resolve repository %q", id)
	}
	return clustersync.Repository{
		ID:               id,
		DisplayName:      string(id),
		WorkingCopyPath:  path,
		Family:           clustersync.FamilyGit,
		Hosted:           true,
		ClusterServiceID: os.Getenv("REPOSYNC_CLUSTER_SERVICE_ID"),
	}, nil
}

type envDeviceIdentity struct{}

func (d *envDeviceIdentity) ThisDeviceID(_ context.Context) (clustersync.DeviceID, bool, error) {
	id := os.Getenv("REPOSYNC_DEVICE_ID")
	if id == "" {
		return "", false, nil
	}
	return clustersync.DeviceID(id), true, nil
}

type noPushEventSource struct{}

func (noPushEventSource) LatestEventID(context.Context, clustersync.RepositoryID) (int64, bool, error) {
	return 0, false, nil
}
