package cli

import (
	"context"
	"fmt"

	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/pipeline"
	"github.com/ppiankov/policyrag/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

// serveCmd exposes the pipeline over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Serve starts an HTTP API in front of the reliability pipeline:
  POST /v1/query   {"question": "...", "query_id": "...", "category": "..."}
  GET  /healthz    liveness plus the active reliability settings
  GET  /metrics    Prometheus metrics

Example:
  policyrag serve --addr :8080
  policyrag serve --no-contradictions --llm-provider ollama`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	addReliabilityFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := configWithFlags(cmd)
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()
	p, err := pipeline.Build(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	pingCtx, cancelPing := context.WithTimeout(cmd.Context(), providerPingTimeout)
	if err := p.CheckProvider(pingCtx); err != nil {
		logger.Warn("LLM provider unreachable; queries past the gate will answer ERROR until it recovers",
			zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}
	cancelPing()

	logger.Info("serving",
		zap.String("addr", addr),
		zap.Bool("rerank", cfg.Reliability.EnableRerank),
		zap.Bool("verify", cfg.Reliability.EnableVerify),
		zap.Bool("contradictions", cfg.Reliability.EnableContradictions))

	return server.New(p, cfg.Reliability, m, Version, logger).Run(cmd.Context(), addr)
}
