package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"gigflow/auth"
	"gigflow/config"
	"gigflow/contract"
	"gigflow/db"
	"gigflow/httpapi"
	"gigflow/ledger"
	"gigflow/logger"
	"gigflow/outbox"
	"gigflow/report"
	"gigflow/telemetry"
)

const shutdownTimeout = 10 * time.Second

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gigflow:", err)
		os.Exit(1)
	}
}

// app carries the configuration shared by every subcommand.
type app struct {
	cfg     config.Config
	cfgPath string
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:           "gigflow",
		Short:         "Ledger back office for a freelance marketplace",
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.gigflow/config.toml)")
	f.StringVar(&a.cfg.DatabaseURL, "database-url", a.cfg.DatabaseURL, "PostgreSQL connection string")
	f.StringVar(&a.cfg.HTTPAddr, "http-addr", a.cfg.HTTPAddr, "HTTP listen address")
	f.StringVar(&a.cfg.JWTSecret, "jwt-secret", a.cfg.JWTSecret, "HMAC secret for caller tokens")
	f.DurationVar(&a.cfg.TokenTTL, "token-ttl", a.cfg.TokenTTL, "lifetime of issued caller tokens")
	f.BoolVar(&a.cfg.AllowProfileHeader, "allow-profile-header", a.cfg.AllowProfileHeader, "accept a bare profile_id header as caller identity")
	f.StringVar(&a.cfg.LogMode, "log-mode", a.cfg.LogMode, "log mode: dev or prod")
	f.BoolVar(&a.cfg.Tracing, "tracing", a.cfg.Tracing, "export OpenTelemetry spans to stdout")
	f.DurationVar(&a.cfg.TxTimeout, "tx-timeout", a.cfg.TxTimeout, "upper bound for one ledger transaction")
	f.DurationVar(&a.cfg.LockTimeout, "lock-timeout", a.cfg.LockTimeout, "PostgreSQL lock_timeout for every session")
	f.IntVar(&a.cfg.MaxConns, "max-conns", a.cfg.MaxConns, "maximum pooled database connections")
	f.StringVar(&a.cfg.RedisAddr, "redis-addr", a.cfg.RedisAddr, "Redis address for ledger events (empty logs events instead)")
	f.StringVar(&a.cfg.RedisChannelPrefix, "redis-channel-prefix", a.cfg.RedisChannelPrefix, "prefix for Redis event channels")
	f.DurationVar(&a.cfg.OutboxInterval, "outbox-interval", a.cfg.OutboxInterval, "outbox poll interval")
	f.IntVar(&a.cfg.OutboxBatchSize, "outbox-batch-size", a.cfg.OutboxBatchSize, "outbox rows claimed per batch")
	f.IntVar(&a.cfg.OutboxMaxAttempts, "outbox-max-attempts", a.cfg.OutboxMaxAttempts, "publish attempts before an event is dead-lettered")

	root.AddCommand(newServeCmd(a), newTokenCmd(a))
	return root
}

// load resolves the configuration: flags override env, env overrides the
// config file, the file overrides defaults.
func (a *app) load(cmd *cobra.Command) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = config.DefaultConfigPath()
	}
	if cfgFile != "" && config.FileExists(cfgFile) {
		fc, err := config.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := config.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}
	return a.cfg.Validate()
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ledger event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			log, err := logger.New(a.cfg.LogMode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, log)
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var profileID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a caller token for an existing profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			if profileID <= 0 {
				return errors.New("--profile-id is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, db.PoolOptions{MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()

			return issueToken(ctx, cmd.OutOrStdout(), auth.NewRepository(pool), a.cfg, profileID)
		},
	}
	cmd.Flags().Int64Var(&profileID, "profile-id", 0, "profile to issue the token for")
	return cmd
}

func issueToken(ctx context.Context, w io.Writer, repo auth.Repository, cfg config.Config, profileID int64) error {
	svc := auth.NewService(repo, auth.Options{JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL})
	token, err := svc.IssueToken(ctx, auth.IssueRequest{ProfileID: profileID})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func serve(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, log, telemetry.Config{
		Enabled:     cfg.Tracing,
		ServiceName: "gigflow",
		Version:     getVersion(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.MaxConns,
		LockTimeout:     cfg.LockTimeout,
		IdleInTxTimeout: 2 * cfg.TxTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	pub, closePub, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePub()

	handler := buildRouter(pool, cfg, log)
	relay := outbox.NewRelay(pool, pub, log, outbox.Options{
		Interval:    cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func buildRouter(pool *pgxpool.Pool, cfg config.Config, log *logger.Logger) http.Handler {
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), log).WithTxTimeout(cfg.TxTimeout)
	identity := auth.NewService(auth.NewRepository(pool), auth.Options{
		JWTSecret:          cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		AllowProfileHeader: cfg.AllowProfileHeader,
	})

	return httpapi.NewServer(httpapi.Config{
		Ledger:      ledgerSvc,
		Contracts:   contract.NewRepository(pool),
		Reports:     report.NewRepository(pool),
		Identity:    identity,
		Log:         log,
		ServiceName: "gigflow",
	}).Router()
}

// newPublisher returns the Redis publisher when an address is configured and
// the log publisher otherwise.
func newPublisher(ctx context.Context, cfg config.Config, log *logger.Logger) (outbox.Publisher, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("redis-addr not set; ledger events are logged only")
		return outbox.NewLogPublisher(log), func() {}, nil
	}
	pub, err := outbox.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() { _ = pub.Close() }, nil
}
