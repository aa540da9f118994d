// Package serve wires the Key Store, FHE Adapter, Authorizer, and Core
// Service together and runs both transports (binary RPC, JSON tool-call)
// against that one shared core, keeping business logic out of either
// transport adapter.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cryptolab/rune-vault/internal/authz"
	"github.com/cryptolab/rune-vault/internal/config"
	"github.com/cryptolab/rune-vault/internal/core"
	"github.com/cryptolab/rune-vault/internal/executor"
	"github.com/cryptolab/rune-vault/internal/fhe"
	"github.com/cryptolab/rune-vault/internal/keystore"
	"github.com/cryptolab/rune-vault/internal/logging"
	"github.com/cryptolab/rune-vault/internal/observability"
	"github.com/cryptolab/rune-vault/internal/ratelimit"
	"github.com/cryptolab/rune-vault/internal/rpc"
	"github.com/cryptolab/rune-vault/internal/tool"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var rawTokens, rawProfile, rawMetricsLabels string
	maxFrameBytes := int(cfg.MaxFrameBytes)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the vault's RPC and tool-call transports against one key store",
		Flags: flags(&cfg, &rawTokens, &rawProfile, &rawMetricsLabels, &maxFrameBytes),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Tokens = config.ParseTokens(rawTokens)
			if len(cfg.Tokens) == 0 {
				return errors.New("serve: no bearer tokens configured (set --tokens or VAULT_TOKENS); refusing to start")
			}
			profile, err := config.ParseScoreResultProfile(rawProfile)
			if err != nil {
				return err
			}
			cfg.ScoreResultProfile = profile
			cfg.MaxFrameBytes = int64(maxFrameBytes)
			if labels, err := config.ParseMetricsLabels(rawMetricsLabels); err != nil {
				return fmt.Errorf("invalid --metrics-labels: %w", err)
			} else if labels != nil {
				cfg.MetricsLabels = labels
			}
			return run(ctx, cfg)
		},
	}
}

func flags(cfg *config.Config, rawTokens, rawProfile, rawMetricsLabels *string, maxFrameBytes *int) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bind-rpc",
			Category:    "Transport:",
			Sources:     cli.EnvVars("VAULT_BIND_RPC"),
			Destination: &cfg.BindRPC,
			Value:       cfg.BindRPC,
			Usage:       "Listen address for the binary RPC transport",
		},
		&cli.StringFlag{
			Name:        "bind-tool",
			Category:    "Transport:",
			Sources:     cli.EnvVars("VAULT_BIND_TOOL"),
			Destination: &cfg.BindTool,
			Value:       cfg.BindTool,
			Usage:       "Listen address for the JSON tool-call HTTP transport",
		},
		&cli.StringFlag{
			Name:        "score-result-profile",
			Category:    "Transport:",
			Sources:     cli.EnvVars("VAULT_SCORE_RESULT_PROFILE"),
			Destination: rawProfile,
			Value:       string(cfg.ScoreResultProfile),
			Usage:       "Tool-call decrypt_scores wire shape (structured|flat)",
		},
		&cli.IntFlag{
			Name:        "max-frame-bytes",
			Category:    "Transport:",
			Sources:     cli.EnvVars("VAULT_MAX_FRAME_BYTES"),
			Destination: maxFrameBytes,
			Value:       *maxFrameBytes,
			Usage:       "Inbound/outbound RPC message size cap in bytes (>= 256 MiB)",
		},

		&cli.StringFlag{
			Name:        "key-dir",
			Category:    "Key Store:",
			Sources:     cli.EnvVars("VAULT_KEY_DIR"),
			Destination: &cfg.KeyDir,
			Value:       cfg.KeyDir,
			Usage:       "On-disk directory holding the key bundle and secret key",
		},
		&cli.IntFlag{
			Name:        "fhe-dim",
			Category:    "Key Store:",
			Sources:     cli.EnvVars("VAULT_FHE_DIM"),
			Destination: &cfg.FHEDim,
			Value:       cfg.FHEDim,
			Usage:       "FHE vector dimension passed to key generation",
		},
		&cli.StringFlag{
			Name:        "index-name",
			Category:    "Key Store:",
			Sources:     cli.EnvVars("VAULT_INDEX_NAME"),
			Destination: &cfg.IndexName,
			Usage:       "Optional bundle-level index name hint written at first boot",
		},

		&cli.StringFlag{
			Name:        "tokens",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("VAULT_TOKENS"),
			Destination: rawTokens,
			Usage:       "Comma-separated allow-list of bearer tokens (required)",
		},
		&cli.FloatFlag{
			Name:        "rate-limit-per-second",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("VAULT_RATE_LIMIT_PER_SECOND"),
			Destination: &cfg.RateLimitPerSecond,
			Value:       cfg.RateLimitPerSecond,
			Usage:       "Per-token token-bucket refill rate",
		},
		&cli.IntFlag{
			Name:        "rate-limit-burst",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("VAULT_RATE_LIMIT_BURST"),
			Destination: &cfg.RateLimitBurst,
			Value:       cfg.RateLimitBurst,
			Usage:       "Per-token token-bucket burst capacity",
		},

		&cli.IntFlag{
			Name:        "k-max",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_K_MAX"),
			Destination: &cfg.KMax,
			Value:       cfg.KMax,
			Usage:       "Hard cap on decrypt_scores top_k",
		},
		&cli.IntFlag{
			Name:        "m-max",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_M_MAX"),
			Destination: &cfg.MMax,
			Value:       cfg.MMax,
			Usage:       "Hard cap on decrypt_metadata list length",
		},
		&cli.DurationFlag{
			Name:        "deadline",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_DEADLINE"),
			Destination: &cfg.Deadline,
			Value:       cfg.Deadline,
			Usage:       "Per-request deadline applied by both transports",
		},
		&cli.IntFlag{
			Name:        "executor-width",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_EXECUTOR_WIDTH"),
			Destination: &cfg.ExecutorWidth,
			Value:       cfg.ExecutorWidth,
			Usage:       "Blocking-decrypt worker pool concurrency",
		},
		&cli.IntFlag{
			Name:        "executor-queue-depth",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_EXECUTOR_QUEUE_DEPTH"),
			Destination: &cfg.ExecutorQueueDepth,
			Value:       cfg.ExecutorQueueDepth,
			Usage:       "Backlog capacity before the executor fails fast with Overloaded",
		},
		&cli.DurationFlag{
			Name:        "drain-timeout",
			Category:    "Resource Policy:",
			Sources:     cli.EnvVars("VAULT_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "How long STOPPING waits for in-flight requests (>= 5s)",
		},

		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Root logger level (debug|info|warn|error)",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_METRICS_LABELS"),
			Destination: rawMetricsLabels,
			Usage:       "Comma-separated key=value constant labels applied to every metric",
		},
		&cli.DurationFlag{
			Name:        "resource-sample-interval",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_RESOURCE_SAMPLE_INTERVAL"),
			Destination: &cfg.ResourceSampleInterval,
			Value:       cfg.ResourceSampleInterval,
			Usage:       "How often the CPU/RSS resource gauges refresh",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.LogLevel)
	metrics := observability.Init(cfg.MetricsLabels)

	engine, err := fhe.NewEngine(cfg.FHEDim)
	if err != nil {
		return fmt.Errorf("serve: building FHE engine: %w", err)
	}

	store, err := keystore.LoadOrInit(cfg.KeyDir, engine, cfg.IndexName)
	if err != nil {
		return fmt.Errorf("serve: loading key store: %w", err)
	}
	logger.Info("key store ready", "dir", cfg.KeyDir, "dim", engine.Dim())

	pool := executor.New(cfg.ExecutorWidth, cfg.ExecutorQueueDepth)
	defer pool.Close()

	az := authz.New(cfg.Tokens)
	limiter := ratelimit.New(ratelimit.Config{PerSecond: cfg.RateLimitPerSecond, Burst: cfg.RateLimitBurst})

	svc := core.New(store, engine, pool, metrics, cfg.KMax, cfg.MMax)
	// LoadOrInit already ran the self-test decrypt against the loaded or
	// freshly generated bundle, so the store existing is sufficient for READY.
	svc.MarkReady()

	rpcHandler := rpc.NewHandler(svc, az, limiter, metrics, logger, cfg.Deadline)
	rpcServer := rpc.NewServer(cfg.BindRPC, rpcHandler, cfg.MaxFrameBytes, logger)

	toolSrv := tool.NewServer(svc, az, limiter, metrics, logger, cfg.ScoreResultProfile, cfg.Deadline)
	httpSrv := &http.Server{Addr: cfg.BindTool, Handler: toolSrv.Engine()}

	sampler, err := observability.NewResourceSampler(metrics)
	if err != nil {
		logger.Warn("resource sampler unavailable", "err", err)
	} else {
		go sampler.Run(ctx, cfg.ResourceSampleInterval)
	}

	errCh := make(chan error, 2)
	go func() {
		if serveErr := rpcServer.Serve(); serveErr != nil {
			errCh <- fmt.Errorf("rpc transport: %w", serveErr)
		}
	}()
	go func() {
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- fmt.Errorf("tool transport: %w", serveErr)
		}
	}()
	rpcServer.MarkServing()
	logger.Info("vault ready", "rpc_addr", cfg.BindRPC, "tool_addr", cfg.BindTool)

	select {
	case <-ctx.Done():
	case serveErr := <-errCh:
		return serveErr
	}

	logger.Info("stopping")
	svc.BeginStopping()
	rpcServer.MarkNotServing()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	rpcServer.Shutdown(drainCtx)
	if shutdownErr := httpSrv.Shutdown(drainCtx); shutdownErr != nil {
		logger.Error("tool transport shutdown", "err", shutdownErr)
	}
	svc.MarkStopped()
	logger.Info("stopped")
	return nil
}
